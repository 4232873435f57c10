package database

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/bryan-buckman/feedsync/internal/model"
)

// Ensure MemoryStore implements Store interface.
var _ Store = (*MemoryStore)(nil)

type itemKey struct {
	userID, subscriptionID, externalID string
}

type subKey struct {
	userID, id string
}

// MemoryStore is a process-local Store used by tests.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	items  map[int64]model.Item
	byKey  map[itemKey]int64
	subs   map[subKey]model.Subscription
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[int64]model.Item),
		byKey: make(map[itemKey]int64),
		subs:  make(map[subKey]model.Subscription),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) ListItems(ctx context.Context, userID string, filter model.Filter, opt model.PageOption) (model.Page[model.Item], error) {
	limit := normalizeLimit(opt.Limit)

	var (
		c         cursor
		hasCursor bool
	)
	if opt.Offset != "" {
		var err error
		if c, err = decodeCursor(opt.Offset); err != nil {
			log.WithFields(log.Fields{
				"user":   userID,
				"offset": opt.Offset,
			}).WithError(err).Warn("Ignoring malformed page offset")
		} else {
			hasCursor = true
		}
	}

	m.mu.RLock()
	matched := lo.Filter(lo.Values(m.items), func(it model.Item, _ int) bool {
		if it.UserID != userID || !matchesFilter(it, filter) {
			return false
		}
		return !hasCursor || c.reached(it, opt.Desc)
	})
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.CreatedAtMs != b.CreatedAtMs {
			return (a.CreatedAtMs < b.CreatedAtMs) != opt.Desc
		}
		return (a.ID < b.ID) != opt.Desc
	})
	if len(matched) > limit+1 {
		matched = matched[:limit+1]
	}
	return paginate(matched, limit), nil
}

func matchesFilter(it model.Item, filter model.Filter) bool {
	switch filter {
	case model.FilterUnread:
		return !it.Read
	case model.FilterRead:
		return it.Read
	case model.FilterStarred:
		return it.Starred
	default:
		return true
	}
}

func (m *MemoryStore) GetItemsByID(ctx context.Context, userID string, ids []int64) ([]model.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := []model.Item{}
	for _, id := range lo.Uniq(ids) {
		if it, ok := m.items[id]; ok && it.UserID == userID {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *MemoryStore) InsertItems(ctx context.Context, items []model.Item) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, it := range prepareInsert(items) {
		key := itemKey{it.UserID, it.SubscriptionID, it.ExternalID}
		if _, exists := m.byKey[key]; exists {
			continue
		}
		m.nextID++
		it.ID = m.nextID
		m.items[it.ID] = it
		m.byKey[key] = it.ID
		inserted++
	}
	return inserted, nil
}

func (m *MemoryStore) MarkItemsAs(ctx context.Context, userID string, ids []int64, state model.ItemState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	column, value := stateAssignment(state)
	for _, id := range ids {
		it, ok := m.items[id]
		if !ok || it.UserID != userID {
			continue
		}
		if column == "is_read" {
			it.Read = value
		} else {
			it.Starred = value
		}
		m.items[id] = it
	}
	return nil
}

func (m *MemoryStore) MarkAllAsRead(ctx context.Context, userID string) error {
	m.updateWhere(func(it model.Item) bool { return it.UserID == userID }, func(it *model.Item) { it.Read = true })
	return nil
}

func (m *MemoryStore) MarkOlderAsRead(ctx context.Context, userID string, olderThanMs int64) error {
	m.updateWhere(func(it model.Item) bool {
		return it.UserID == userID && it.CreatedAtMs <= olderThanMs
	}, func(it *model.Item) { it.Read = true })
	return nil
}

func (m *MemoryStore) updateWhere(match func(model.Item) bool, apply func(*model.Item)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, it := range m.items {
		if match(it) {
			apply(&it)
			m.items[id] = it
		}
	}
}

func (m *MemoryStore) DeleteItems(ctx context.Context, userID string, earlierThanMs int64) (int64, error) {
	return m.deleteWhere(func(it model.Item) bool {
		return it.UserID == userID && it.CreatedAtMs < earlierThanMs
	}), nil
}

func (m *MemoryStore) PruneItems(ctx context.Context, earlierThanMs int64) (int64, error) {
	return m.deleteWhere(func(it model.Item) bool {
		return it.CreatedAtMs < earlierThanMs
	}), nil
}

func (m *MemoryStore) deleteWhere(match func(model.Item) bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, it := range m.items {
		if match(it) {
			delete(m.items, id)
			delete(m.byKey, itemKey{it.UserID, it.SubscriptionID, it.ExternalID})
			n++
		}
	}
	return n
}

func (m *MemoryStore) CountUnread(ctx context.Context, userID string) ([]model.UnreadCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bySub := make(map[string]*model.UnreadCount)
	for _, it := range m.items {
		if it.UserID != userID || it.Read {
			continue
		}
		c, ok := bySub[it.SubscriptionID]
		if !ok {
			c = &model.UnreadCount{SubscriptionID: it.SubscriptionID}
			bySub[it.SubscriptionID] = c
		}
		c.Count++
		c.NewestMs = max(c.NewestMs, it.CreatedAtMs)
	}

	counts := []model.UnreadCount{}
	for _, c := range bySub {
		counts = append(counts, *c)
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].SubscriptionID < counts[j].SubscriptionID })
	return counts, nil
}

func (m *MemoryStore) CreateSubscription(ctx context.Context, sub model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := subKey{sub.UserID, sub.ID}
	if _, exists := m.subs[key]; exists {
		return nil
	}
	m.subs[key] = cloneSubscription(sub)
	return nil
}

func (m *MemoryStore) UpdateSubscription(ctx context.Context, sub model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := subKey{sub.UserID, sub.ID}
	if _, exists := m.subs[key]; !exists {
		return ErrSubscriptionNotFound
	}
	m.subs[key] = cloneSubscription(sub)
	return nil
}

func (m *MemoryStore) RemoveSubscription(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	delete(m.subs, subKey{userID, id})
	m.mu.Unlock()

	m.deleteWhere(func(it model.Item) bool {
		return it.UserID == userID && it.SubscriptionID == id
	})
	return nil
}

func (m *MemoryStore) GetSubscription(ctx context.Context, userID, id string) (model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subs[subKey{userID, id}]
	if !ok {
		return model.Subscription{}, ErrSubscriptionNotFound
	}
	return cloneSubscription(sub), nil
}

func (m *MemoryStore) GetSubscriptions(ctx context.Context, userID string, ids []string) (map[string]model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	found := make(map[string]model.Subscription)
	for _, id := range ids {
		if sub, ok := m.subs[subKey{userID, id}]; ok {
			found[id] = cloneSubscription(sub)
		}
	}
	return found, nil
}

func (m *MemoryStore) ListSubscriptions(ctx context.Context, userID string) ([]model.Subscription, error) {
	return m.listSubscriptions(func(s model.Subscription) bool { return s.UserID == userID }), nil
}

func (m *MemoryStore) ListAllSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	return m.listSubscriptions(func(model.Subscription) bool { return true }), nil
}

func (m *MemoryStore) listSubscriptions(match func(model.Subscription) bool) []model.Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subs := []model.Subscription{}
	for _, sub := range m.subs {
		if match(sub) {
			subs = append(subs, cloneSubscription(sub))
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].UserID != subs[j].UserID {
			return subs[i].UserID < subs[j].UserID
		}
		return subs[i].ID < subs[j].ID
	})
	return subs
}

func (m *MemoryStore) MarkFetched(ctx context.Context, userID, id string, fetchedAtMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := subKey{userID, id}
	if sub, ok := m.subs[key]; ok {
		sub.LastFetchMs = fetchedAtMs
		m.subs[key] = sub
	}
	return nil
}

// cloneSubscription normalizes categories the same way the SQL round-trip does.
func cloneSubscription(sub model.Subscription) model.Subscription {
	sub.Categories = model.SplitCategories(model.JoinCategories(sub.Categories))
	return sub
}
