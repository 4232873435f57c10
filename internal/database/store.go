// Package database provides storage backends for items and subscriptions.
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/bryan-buckman/feedsync/internal/model"
)

// ErrSubscriptionNotFound is returned when a subscription row does not exist.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// StorageError wraps any failure reported by the storage engine.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// ItemStore persists per-user feed entries.
type ItemStore interface {
	// ListItems returns one page ordered by (created_at_ms, id).
	ListItems(ctx context.Context, userID string, filter model.Filter, opt model.PageOption) (model.Page[model.Item], error)

	// GetItemsByID resolves surrogate ids. Unknown ids are skipped.
	GetItemsByID(ctx context.Context, userID string, ids []int64) ([]model.Item, error)

	// InsertItems stores new items and skips ones already present.
	// Returns the number of rows actually inserted.
	InsertItems(ctx context.Context, items []model.Item) (int, error)

	MarkItemsAs(ctx context.Context, userID string, ids []int64, state model.ItemState) error
	MarkAllAsRead(ctx context.Context, userID string) error
	// MarkOlderAsRead marks items with created_at_ms <= olderThanMs.
	MarkOlderAsRead(ctx context.Context, userID string, olderThanMs int64) error

	// DeleteItems removes a user's items with created_at_ms < earlierThanMs.
	DeleteItems(ctx context.Context, userID string, earlierThanMs int64) (int64, error)
	// PruneItems removes every user's items with created_at_ms < earlierThanMs.
	PruneItems(ctx context.Context, earlierThanMs int64) (int64, error)

	CountUnread(ctx context.Context, userID string) ([]model.UnreadCount, error)
}

// SubscriptionStore persists per-user subscriptions.
type SubscriptionStore interface {
	// CreateSubscription inserts the row; an existing (user, id) pair is left untouched.
	CreateSubscription(ctx context.Context, sub model.Subscription) error
	// UpdateSubscription replaces mutable fields, or fails with ErrSubscriptionNotFound.
	UpdateSubscription(ctx context.Context, sub model.Subscription) error
	RemoveSubscription(ctx context.Context, userID, id string) error
	GetSubscription(ctx context.Context, userID, id string) (model.Subscription, error)
	// GetSubscriptions returns the found subscriptions keyed by id.
	GetSubscriptions(ctx context.Context, userID string, ids []string) (map[string]model.Subscription, error)
	ListSubscriptions(ctx context.Context, userID string) ([]model.Subscription, error)
	ListAllSubscriptions(ctx context.Context) ([]model.Subscription, error)
	MarkFetched(ctx context.Context, userID, id string, fetchedAtMs int64) error
}

// Store is everything the engine needs from a backend.
type Store interface {
	ItemStore
	SubscriptionStore
	Close() error
}
