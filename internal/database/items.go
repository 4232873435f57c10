package database

import (
	"context"
	"database/sql"
	"sort"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/bryan-buckman/feedsync/internal/model"
)

// insertChunkSize keeps a multi-row insert under SQLite's bound-variable limit.
const insertChunkSize = 50

var itemColumns = []string{
	"id", "user_id", "subscription_id", "external_id", "title", "content",
	"author", "url", "created_at_ms", "fetched_at_ms", "is_starred", "is_read",
}

func (s *SQLStore) ListItems(ctx context.Context, userID string, filter model.Filter, opt model.PageOption) (model.Page[model.Item], error) {
	limit := normalizeLimit(opt.Limit)

	sb := s.flavor.NewSelectBuilder()
	sb.Select(itemColumns...).From("items").Where(sb.Equal("user_id", userID))
	switch filter {
	case model.FilterUnread:
		sb.Where(sb.Equal("is_read", false))
	case model.FilterRead:
		sb.Where(sb.Equal("is_read", true))
	case model.FilterStarred:
		sb.Where(sb.Equal("is_starred", true))
	}

	if opt.Offset != "" {
		c, err := decodeCursor(opt.Offset)
		if err != nil {
			log.WithFields(log.Fields{
				"user":   userID,
				"offset": opt.Offset,
			}).WithError(err).Warn("Ignoring malformed page offset")
		} else {
			sb.Where(cursorCondition(sb, c, opt.Desc))
		}
	}

	if opt.Desc {
		sb.OrderBy("created_at_ms DESC", "id DESC")
	} else {
		sb.OrderBy("created_at_ms ASC", "id ASC")
	}
	sb.Limit(limit + 1)

	query, args := sb.Build()
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return model.Page[model.Item]{}, storageErr("list items", err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return model.Page[model.Item]{}, storageErr("list items", err)
	}
	return paginate(items, limit), nil
}

// cursorCondition selects rows at or past the cursor in the requested direction.
func cursorCondition(sb *sqlbuilder.SelectBuilder, c cursor, desc bool) string {
	if desc {
		return sb.Or(
			sb.LessThan("created_at_ms", c.createdAtMs),
			sb.And(
				sb.Equal("created_at_ms", c.createdAtMs),
				sb.LessEqualThan("id", c.id),
			),
		)
	}
	return sb.Or(
		sb.GreaterThan("created_at_ms", c.createdAtMs),
		sb.And(
			sb.Equal("created_at_ms", c.createdAtMs),
			sb.GreaterEqualThan("id", c.id),
		),
	)
}

func (s *SQLStore) GetItemsByID(ctx context.Context, userID string, ids []int64) ([]model.Item, error) {
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return []model.Item{}, nil
	}

	sb := s.flavor.NewSelectBuilder()
	sb.Select(itemColumns...).
		From("items").
		Where(
			sb.Equal("user_id", userID),
			sb.In("id", lo.ToAnySlice(ids)...),
		).
		OrderBy("id ASC")

	query, args := sb.Build()
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("get items", err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	return items, storageErr("get items", err)
}

func (s *SQLStore) InsertItems(ctx context.Context, items []model.Item) (int, error) {
	batch := prepareInsert(items)
	if len(batch) == 0 {
		return 0, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("insert items", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, chunk := range lo.Chunk(batch, insertChunkSize) {
		ib := s.flavor.NewInsertBuilder()
		ib.InsertInto("items").Cols(
			"user_id", "subscription_id", "external_id", "title", "content",
			"author", "url", "created_at_ms", "fetched_at_ms", "is_starred", "is_read",
		)
		for _, it := range chunk {
			ib.Values(
				it.UserID, it.SubscriptionID, it.ExternalID, it.Title, it.Content,
				it.Author, it.URL, it.CreatedAtMs, it.FetchedAtMs, it.Starred, it.Read,
			)
		}
		ib.SQL("ON CONFLICT (user_id, subscription_id, external_id) DO NOTHING")

		query, args := ib.Build()
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, storageErr("insert items", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, storageErr("insert items", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("insert items", err)
	}
	return inserted, nil
}

// prepareInsert orders a batch by creation time so surrogate ids follow
// chronology, and drops repeats of the same natural key within the batch.
func prepareInsert(items []model.Item) []model.Item {
	batch := make([]model.Item, len(items))
	copy(batch, items)
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].CreatedAtMs < batch[j].CreatedAtMs
	})
	return lo.UniqBy(batch, func(it model.Item) [3]string {
		return [3]string{it.UserID, it.SubscriptionID, it.ExternalID}
	})
}

func (s *SQLStore) MarkItemsAs(ctx context.Context, userID string, ids []int64, state model.ItemState) error {
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return nil
	}

	column, value := stateAssignment(state)
	ub := s.flavor.NewUpdateBuilder()
	ub.Update("items").
		Set(ub.Assign(column, value)).
		Where(
			ub.Equal("user_id", userID),
			ub.In("id", lo.ToAnySlice(ids)...),
		)

	query, args := ub.Build()
	_, err := s.conn.ExecContext(ctx, query, args...)
	return storageErr("mark items", err)
}

func stateAssignment(state model.ItemState) (string, bool) {
	switch state {
	case model.StateUnread:
		return "is_read", false
	case model.StateStarred:
		return "is_starred", true
	case model.StateUnstarred:
		return "is_starred", false
	default:
		return "is_read", true
	}
}

func (s *SQLStore) MarkAllAsRead(ctx context.Context, userID string) error {
	ub := s.flavor.NewUpdateBuilder()
	ub.Update("items").
		Set(ub.Assign("is_read", true)).
		Where(
			ub.Equal("user_id", userID),
			ub.Equal("is_read", false),
		)

	query, args := ub.Build()
	_, err := s.conn.ExecContext(ctx, query, args...)
	return storageErr("mark all read", err)
}

func (s *SQLStore) MarkOlderAsRead(ctx context.Context, userID string, olderThanMs int64) error {
	ub := s.flavor.NewUpdateBuilder()
	ub.Update("items").
		Set(ub.Assign("is_read", true)).
		Where(
			ub.Equal("user_id", userID),
			ub.Equal("is_read", false),
			ub.LessEqualThan("created_at_ms", olderThanMs),
		)

	query, args := ub.Build()
	_, err := s.conn.ExecContext(ctx, query, args...)
	return storageErr("mark older read", err)
}

func (s *SQLStore) DeleteItems(ctx context.Context, userID string, earlierThanMs int64) (int64, error) {
	db := s.flavor.NewDeleteBuilder()
	db.DeleteFrom("items").Where(
		db.Equal("user_id", userID),
		db.LessThan("created_at_ms", earlierThanMs),
	)
	return s.execCount(ctx, "delete items", db)
}

func (s *SQLStore) PruneItems(ctx context.Context, earlierThanMs int64) (int64, error) {
	db := s.flavor.NewDeleteBuilder()
	db.DeleteFrom("items").Where(db.LessThan("created_at_ms", earlierThanMs))
	return s.execCount(ctx, "prune items", db)
}

func (s *SQLStore) CountUnread(ctx context.Context, userID string) ([]model.UnreadCount, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select("subscription_id", "COUNT(*)", "MAX(created_at_ms)").
		From("items").
		Where(
			sb.Equal("user_id", userID),
			sb.Equal("is_read", false),
		).
		GroupBy("subscription_id").
		OrderBy("subscription_id ASC")

	query, args := sb.Build()
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("count unread", err)
	}
	defer rows.Close()

	counts := []model.UnreadCount{}
	for rows.Next() {
		var c model.UnreadCount
		if err := rows.Scan(&c.SubscriptionID, &c.Count, &c.NewestMs); err != nil {
			return nil, storageErr("count unread", err)
		}
		counts = append(counts, c)
	}
	return counts, storageErr("count unread", rows.Err())
}

func (s *SQLStore) execCount(ctx context.Context, op string, b sqlbuilder.Builder) (int64, error) {
	query, args := b.Build()
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storageErr(op, err)
	}
	n, err := res.RowsAffected()
	return n, storageErr(op, err)
}

func scanItems(rows *sql.Rows) ([]model.Item, error) {
	items := []model.Item{}
	for rows.Next() {
		var it model.Item
		if err := rows.Scan(
			&it.ID, &it.UserID, &it.SubscriptionID, &it.ExternalID, &it.Title, &it.Content,
			&it.Author, &it.URL, &it.CreatedAtMs, &it.FetchedAtMs, &it.Starred, &it.Read,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
