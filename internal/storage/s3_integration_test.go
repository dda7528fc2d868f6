//go:build integration

package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestS3Client(t *testing.T) *S3Client {
	t.Helper()
	ctx := context.Background()
	rc := testutil.NewRustFSContainer(ctx, t)
	t.Cleanup(func() { _ = rc.Terminate(ctx) })

	client, err := NewS3Client(ctx, S3ClientConfig{
		Endpoint:        rc.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     testutil.RustFSAccessKey,
		SecretAccessKey: testutil.RustFSSecretKey,
		Bucket:          "kbindex-test",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	require.NoError(t, client.EnsureBucket(ctx))
	return client
}

func TestS3Client_GetObjectText(t *testing.T) {
	ctx := context.Background()
	client := newTestS3Client(t)

	require.NoError(t, client.PutObject(ctx, "docs/faq.md", "text/markdown", "# FAQ\n\nRefunds within 30 days."))

	text, err := client.GetObjectText(ctx, "docs/faq.md", 1024)
	require.NoError(t, err)
	assert.Equal(t, "# FAQ\n\nRefunds within 30 days.", text)

	meta, err := client.HeadObject(ctx, "docs/faq.md")
	require.NoError(t, err)
	assert.Equal(t, int64(len(text)), meta.ContentLength)
}

func TestS3Client_GetObjectText_Errors(t *testing.T) {
	ctx := context.Background()
	client := newTestS3Client(t)

	_, err := client.GetObjectText(ctx, "missing.txt", 1024)
	assert.ErrorIs(t, err, domain.ErrObjectNotFound)

	require.NoError(t, client.PutObject(ctx, "big.txt", "text/plain", strings.Repeat("x", 2048)))
	_, err = client.GetObjectText(ctx, "big.txt", 1024)
	assert.ErrorIs(t, err, domain.ErrObjectTooLarge)

	require.NoError(t, client.PutObject(ctx, "binary.bin", "application/octet-stream", "\xff\xfe\xfd"))
	_, err = client.GetObjectText(ctx, "binary.bin", 1024)
	assert.ErrorIs(t, err, domain.ErrObjectNotText)

	require.NoError(t, client.DeleteObject(ctx, "big.txt"))
	_, err = client.HeadObject(ctx, "big.txt")
	assert.ErrorIs(t, err, domain.ErrObjectNotFound)
}
