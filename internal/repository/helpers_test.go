//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/cloo-solutions/kbindex/internal/config"
	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/testutil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

const testDims = 3

var testVectorConfig = config.VectorConfig{
	Dimensions: testDims,
	Precision:  string(domain.PrecisionFull),
	Index:      IndexHNSW,
	Metric:     MetricCosine,
}

// newTestDB starts a pgvector container, applies migrations and creates the
// vector table for testDims dimensions.
func newTestDB(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	pc := testutil.NewPostgresContainer(ctx, t)
	t.Cleanup(func() { _ = pc.Terminate(context.Background()) })

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	t.Cleanup(pool.Close)

	require.NoError(t, NewVectorStore(pool, testVectorConfig).EnsureSchema(ctx))
	return pool
}

func createTestDataset(ctx context.Context, t *testing.T, pool *pgxpool.Pool, teamID, model string) *domain.Dataset {
	t.Helper()
	d := domain.NewDataset(uuid.NewString(), teamID, "dataset-"+uuid.NewString()[:8], model, "", time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, NewDatasetRepository(pool).Create(ctx, d))
	return d
}

func createTestData(ctx context.Context, t *testing.T, pool *pgxpool.Pool, ds *domain.Dataset, collection, q string) *domain.DatasetData {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	d := &domain.DatasetData{
		ID:           uuid.NewString(),
		TeamID:       ds.TeamID,
		DatasetID:    ds.ID,
		CollectionID: collection,
		Q:            q,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, NewDatasetDataRepository(pool).Create(ctx, d))
	return d
}

func newTestJob(ds *domain.Dataset, q string, retries int, createdAt time.Time) *domain.TrainingJob {
	return &domain.TrainingJob{
		ID:           uuid.NewString(),
		TeamID:       ds.TeamID,
		DatasetID:    ds.ID,
		CollectionID: "col",
		Mode:         domain.TrainingModeEmbedding,
		Model:        ds.VectorModel,
		Q:            q,
		RetryCount:   retries,
		CreatedAt:    createdAt,
	}
}
