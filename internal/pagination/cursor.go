// Package pagination implements keyset cursors over (created_at, id) ordered listings.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

var ErrInvalidCursor = errors.New("invalid cursor format")

// Cursor is the sort key of the last row a client has already seen.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// PageResult is one page of a keyset listing.
type PageResult[T any] struct {
	Items   []T    `json:"items"`
	Cursor  string `json:"cursor,omitempty"`
	HasMore bool   `json:"hasMore"`
}

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() string {
	if c.ID == "" {
		return ""
	}
	raw := strconv.FormatInt(c.CreatedAt.UnixMicro(), 10) + "." + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses a token produced by Cursor.Encode. An empty token means the
// first page and yields a nil cursor.
func Decode(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	micros, id, ok := strings.Cut(string(raw), ".")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	us, err := strconv.ParseInt(micros, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.UnixMicro(us).UTC(), ID: id}, nil
}

// Limit clamps a requested page size into [1, MaxLimit], using DefaultLimit
// for unset or out of range values.
func Limit(requested int) int {
	if requested <= 0 || requested > MaxLimit {
		return DefaultLimit
	}
	return requested
}

// NewPage builds a page from rows fetched with LIMIT limit+1. The extra row
// only signals that another page exists and is dropped.
func NewPage[T any](rows []T, limit int, key func(T) Cursor) *PageResult[T] {
	page := &PageResult[T]{Items: rows}
	if page.Items == nil {
		page.Items = []T{}
	}
	if len(rows) <= limit {
		return page
	}
	page.Items = rows[:limit]
	page.HasMore = true
	page.Cursor = key(page.Items[limit-1]).Encode()
	return page
}
