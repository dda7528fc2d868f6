package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_RoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 123456000, time.UTC)
	token := Cursor{CreatedAt: at, ID: "8c1b6f3e-0d2a-4c55-9a61-2f7c3d1e9b40"}.Encode()

	assert.NotContains(t, token, "+")
	assert.NotContains(t, token, "/")
	assert.NotContains(t, token, "=")

	c, err := Decode(token)
	require.NoError(t, err)
	assert.True(t, at.Equal(c.CreatedAt))
	assert.Equal(t, "8c1b6f3e-0d2a-4c55-9a61-2f7c3d1e9b40", c.ID)
}

func TestDecode_Empty(t *testing.T) {
	c, err := Decode("")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestDecode_Invalid(t *testing.T) {
	for _, token := range []string{"%%%", "bm9kb3Q", "YWJjLmlk", "MTIzLg"} {
		_, err := Decode(token)
		assert.ErrorIs(t, err, ErrInvalidCursor, token)
	}
}

func TestLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, Limit(0))
	assert.Equal(t, DefaultLimit, Limit(-3))
	assert.Equal(t, DefaultLimit, Limit(MaxLimit+1))
	assert.Equal(t, 7, Limit(7))
	assert.Equal(t, MaxLimit, Limit(MaxLimit))
}

type row struct {
	id string
	at time.Time
}

func rowKey(r row) Cursor { return Cursor{CreatedAt: r.at, ID: r.id} }

func TestNewPage(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []row{{"c", base.Add(2 * time.Second)}, {"b", base.Add(time.Second)}, {"a", base}}

	t.Run("lookahead row trimmed", func(t *testing.T) {
		page := NewPage(rows, 2, rowKey)
		require.Len(t, page.Items, 2)
		assert.True(t, page.HasMore)
		c, err := Decode(page.Cursor)
		require.NoError(t, err)
		assert.Equal(t, "b", c.ID)
	})

	t.Run("last page", func(t *testing.T) {
		page := NewPage(rows, 3, rowKey)
		assert.Len(t, page.Items, 3)
		assert.False(t, page.HasMore)
		assert.Empty(t, page.Cursor)
	})

	t.Run("nil rows", func(t *testing.T) {
		page := NewPage[row](nil, 5, rowKey)
		assert.NotNil(t, page.Items)
		assert.Empty(t, page.Items)
	})
}
