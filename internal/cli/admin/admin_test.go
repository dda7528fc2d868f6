package admin

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/cloo-solutions/kbindex/internal/config"
	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/logger"
	"github.com/cloo-solutions/kbindex/internal/model"
	"github.com/cloo-solutions/kbindex/internal/service"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIKeyGenerate_JSON(t *testing.T) {
	cmd := APIKeyGenerateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--team", "team-a", "--output", "json"})

	require.NoError(t, cmd.Execute())

	var data map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &data))
	assert.Equal(t, "team-a", data["team"])
	assert.True(t, service.IsValidAPIToken(data["token"]))
	assert.Equal(t, data["token"]+":team-a", data["entry"])
}

func TestAPIKeyGenerate_RejectsSeparatorsInTeam(t *testing.T) {
	cmd := APIKeyGenerateCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--team", "a,b"})

	assert.Error(t, cmd.Execute())
}

func TestPrintKeyTeams_MasksTokens(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	token := "kbx_0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	require.NoError(t, printKeyTeams(cmd, map[string]string{token: "team-a"}, "text"))

	assert.Contains(t, out.String(), "team-a")
	assert.Contains(t, out.String(), "kbx_0123")
	assert.NotContains(t, out.String(), token)
}

func TestPrintStatus(t *testing.T) {
	status := &domain.TrainingStatus{
		DatasetID:       "ds-1",
		VectorModel:     "text-embedding-3-small",
		Pending:         2,
		Failed:          1,
		Rebuilding:      5,
		RebuildPaused:   true,
		LastError:       "rate limited",
		LastFailedJobID: "job-9",
	}

	var text bytes.Buffer
	require.NoError(t, printStatus(&text, status, "text"))
	assert.Contains(t, text.String(), "5 (paused)")
	assert.Contains(t, text.String(), "rate limited (job job-9)")

	var js bytes.Buffer
	require.NoError(t, printStatus(&js, status, "json"))
	assert.True(t, strings.HasPrefix(strings.TrimSpace(js.String()), "{"))
	assert.Contains(t, js.String(), `"rebuildPaused": true`)
}

func TestQueueCmd_RequiresDataset(t *testing.T) {
	cmd := QueueCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"retry"})

	err := cmd.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "dataset")
}

func TestCheckModelDimensions(t *testing.T) {
	reg, err := model.Parse([]byte(`
embedding:
  - name: small
    dimensions: 1536
  - name: wide
    dimensions: 3072
`))
	require.NoError(t, err)

	cfg := &config.Config{DefaultVectorModel: "small", VectorDimensions: 1536}
	assert.NoError(t, checkModelDimensions(reg, cfg, logger.Nop()))

	cfg.DefaultVectorModel = "wide"
	assert.ErrorIs(t, checkModelDimensions(reg, cfg, logger.Nop()), domain.ErrDimensionMismatch)

	cfg.DefaultVectorModel = "missing"
	assert.ErrorIs(t, checkModelDimensions(reg, cfg, logger.Nop()), domain.ErrUnknownModel)
}
