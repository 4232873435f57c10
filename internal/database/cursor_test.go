package database

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/feedsync/internal/model"
)

func TestCursorRoundTrip(t *testing.T) {
	item := model.Item{ID: 42, CreatedAtMs: 1700000000123}
	c, err := decodeCursor(EncodeCursor(item))
	require.NoError(t, err)
	assert.Equal(t, cursor{createdAtMs: 1700000000123, id: 42}, c)

	c, err = decodeCursor(EncodeCursor(model.Item{ID: 7, CreatedAtMs: -5}))
	require.NoError(t, err)
	assert.Equal(t, cursor{createdAtMs: -5, id: 7}, c)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "-", "12", "12-", "-12", "a-1", "1-b"} {
		_, err := decodeCursor(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestPaginate(t *testing.T) {
	rows := []model.Item{
		{ID: 1, CreatedAtMs: 10},
		{ID: 2, CreatedAtMs: 20},
		{ID: 3, CreatedAtMs: 30},
	}

	page := paginate(rows, 2)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, "30-3", page.NextPageOffset)

	page = paginate(rows, 3)
	assert.Len(t, page.Items, 3)
	assert.Empty(t, page.NextPageOffset)

	page = paginate(nil, 3)
	assert.NotNil(t, page.Items)
}

func TestNormalizeLimit(t *testing.T) {
	tests := []struct {
		in, expected int
	}{
		{0, model.DefaultPageLimit},
		{-3, model.DefaultPageLimit},
		{25, 25},
		{model.MaxPageLimit, model.MaxPageLimit},
		{model.MaxPageLimit + 1, model.MaxPageLimit},
		{math.MaxInt, model.MaxPageLimit},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizeLimit(tt.in), "limit %d", tt.in)
	}
}
