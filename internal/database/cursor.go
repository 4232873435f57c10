package database

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bryan-buckman/feedsync/internal/model"
)

type cursor struct {
	createdAtMs int64
	id          int64
}

// EncodeCursor renders the continuation token for an item.
func EncodeCursor(item model.Item) string {
	return fmt.Sprintf("%d-%d", item.CreatedAtMs, item.ID)
}

// decodeCursor parses "<created_at_ms>-<id>". The split is on the last dash
// so negative timestamps survive.
func decodeCursor(s string) (cursor, error) {
	i := strings.LastIndex(s, "-")
	if i <= 0 || i == len(s)-1 {
		return cursor{}, fmt.Errorf("malformed cursor %q", s)
	}
	ms, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return cursor{}, fmt.Errorf("cursor timestamp: %w", err)
	}
	id, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil {
		return cursor{}, fmt.Errorf("cursor id: %w", err)
	}
	return cursor{createdAtMs: ms, id: id}, nil
}

// reached reports whether an item sorts at or after the cursor in the
// requested direction.
func (c cursor) reached(item model.Item, desc bool) bool {
	if desc {
		return item.CreatedAtMs < c.createdAtMs ||
			(item.CreatedAtMs == c.createdAtMs && item.ID <= c.id)
	}
	return item.CreatedAtMs > c.createdAtMs ||
		(item.CreatedAtMs == c.createdAtMs && item.ID >= c.id)
}

// paginate trims an over-fetched slice of limit+1 rows into a page.
func paginate(rows []model.Item, limit int) model.Page[model.Item] {
	page := model.Page[model.Item]{Items: rows}
	if page.Items == nil {
		page.Items = []model.Item{}
	}
	if len(rows) > limit {
		next := rows[len(rows)-1]
		page.Items = rows[:len(rows)-1]
		page.NextPageOffset = EncodeCursor(next)
	}
	return page
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return model.DefaultPageLimit
	}
	return min(limit, model.MaxPageLimit)
}
