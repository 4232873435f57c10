package database

import (
	"context"
	"database/sql"
	"errors"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/samber/lo"

	"github.com/bryan-buckman/feedsync/internal/model"
)

var subscriptionColumns = []string{
	"user_id", "id", "url", "title", "description", "feed_url", "categories", "last_fetch_ms",
}

func (s *SQLStore) CreateSubscription(ctx context.Context, sub model.Subscription) error {
	ib := s.flavor.NewInsertBuilder()
	ib.InsertInto("subscriptions").
		Cols(subscriptionColumns...).
		Values(
			sub.UserID, sub.ID, sub.URL, sub.Title, sub.Description,
			sub.FeedURL, model.JoinCategories(sub.Categories), sub.LastFetchMs,
		)
	ib.SQL("ON CONFLICT (user_id, id) DO NOTHING")

	query, args := ib.Build()
	_, err := s.conn.ExecContext(ctx, query, args...)
	return storageErr("create subscription", err)
}

func (s *SQLStore) UpdateSubscription(ctx context.Context, sub model.Subscription) error {
	ub := s.flavor.NewUpdateBuilder()
	ub.Update("subscriptions").
		Set(
			ub.Assign("url", sub.URL),
			ub.Assign("title", sub.Title),
			ub.Assign("description", sub.Description),
			ub.Assign("feed_url", sub.FeedURL),
			ub.Assign("categories", model.JoinCategories(sub.Categories)),
			ub.Assign("last_fetch_ms", sub.LastFetchMs),
		).
		Where(
			ub.Equal("user_id", sub.UserID),
			ub.Equal("id", sub.ID),
		)

	n, err := s.execCount(ctx, "update subscription", ub)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// RemoveSubscription deletes the subscription together with its items.
func (s *SQLStore) RemoveSubscription(ctx context.Context, userID, id string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("remove subscription", err)
	}
	defer tx.Rollback()

	items := s.flavor.NewDeleteBuilder()
	items.DeleteFrom("items").Where(
		items.Equal("user_id", userID),
		items.Equal("subscription_id", id),
	)
	query, args := items.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return storageErr("remove subscription", err)
	}

	subs := s.flavor.NewDeleteBuilder()
	subs.DeleteFrom("subscriptions").Where(
		subs.Equal("user_id", userID),
		subs.Equal("id", id),
	)
	query, args = subs.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return storageErr("remove subscription", err)
	}

	return storageErr("remove subscription", tx.Commit())
}

func (s *SQLStore) GetSubscription(ctx context.Context, userID, id string) (model.Subscription, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(subscriptionColumns...).
		From("subscriptions").
		Where(
			sb.Equal("user_id", userID),
			sb.Equal("id", id),
		)

	query, args := sb.Build()
	sub, err := scanSubscription(s.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Subscription{}, ErrSubscriptionNotFound
	}
	if err != nil {
		return model.Subscription{}, storageErr("get subscription", err)
	}
	return sub, nil
}

func (s *SQLStore) GetSubscriptions(ctx context.Context, userID string, ids []string) (map[string]model.Subscription, error) {
	found := make(map[string]model.Subscription)
	ids = lo.Uniq(lo.Compact(ids))
	if len(ids) == 0 {
		return found, nil
	}

	sb := s.flavor.NewSelectBuilder()
	sb.Select(subscriptionColumns...).
		From("subscriptions").
		Where(
			sb.Equal("user_id", userID),
			sb.In("id", lo.ToAnySlice(ids)...),
		)

	subs, err := s.querySubscriptions(ctx, sb)
	if err != nil {
		return nil, storageErr("get subscriptions", err)
	}
	for _, sub := range subs {
		found[sub.ID] = sub
	}
	return found, nil
}

func (s *SQLStore) ListSubscriptions(ctx context.Context, userID string) ([]model.Subscription, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(subscriptionColumns...).
		From("subscriptions").
		Where(sb.Equal("user_id", userID)).
		OrderBy("id ASC")

	subs, err := s.querySubscriptions(ctx, sb)
	return subs, storageErr("list subscriptions", err)
}

func (s *SQLStore) ListAllSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(subscriptionColumns...).
		From("subscriptions").
		OrderBy("user_id ASC", "id ASC")

	subs, err := s.querySubscriptions(ctx, sb)
	return subs, storageErr("list all subscriptions", err)
}

func (s *SQLStore) MarkFetched(ctx context.Context, userID, id string, fetchedAtMs int64) error {
	ub := s.flavor.NewUpdateBuilder()
	ub.Update("subscriptions").
		Set(ub.Assign("last_fetch_ms", fetchedAtMs)).
		Where(
			ub.Equal("user_id", userID),
			ub.Equal("id", id),
		)

	query, args := ub.Build()
	_, err := s.conn.ExecContext(ctx, query, args...)
	return storageErr("mark fetched", err)
}

func (s *SQLStore) querySubscriptions(ctx context.Context, sb *sqlbuilder.SelectBuilder) ([]model.Subscription, error) {
	query, args := sb.Build()
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := []model.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (model.Subscription, error) {
	var (
		sub        model.Subscription
		categories string
	)
	err := row.Scan(
		&sub.UserID, &sub.ID, &sub.URL, &sub.Title, &sub.Description,
		&sub.FeedURL, &categories, &sub.LastFetchMs,
	)
	if err != nil {
		return model.Subscription{}, err
	}
	sub.Categories = model.SplitCategories(categories)
	return sub, nil
}
