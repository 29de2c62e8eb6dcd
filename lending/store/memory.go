// Package store provides in-process lending.Store implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/borrow-ledger/lending"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

var errDuplicate = errors.New("duplicate id")

type tables struct {
	items         map[lending.ItemID]lending.InventoryItem
	requests      map[lending.RequestID]lending.BorrowRequest
	history       []lending.HistoryRecord
	profiles      map[lending.UserID]lending.Profile
	payments      map[lending.PaymentID]lending.PaymentRequest
	notifications map[lending.NotificationID]lending.Notification
}

func newTables() *tables {
	return &tables{
		items:         make(map[lending.ItemID]lending.InventoryItem),
		requests:      make(map[lending.RequestID]lending.BorrowRequest),
		profiles:      make(map[lending.UserID]lending.Profile),
		payments:      make(map[lending.PaymentID]lending.PaymentRequest),
		notifications: make(map[lending.NotificationID]lending.Notification),
	}
}

func (t *tables) clone() *tables {
	c := newTables()
	for k, v := range t.items {
		c.items[k] = v
	}
	for k, v := range t.requests {
		c.requests[k] = v
	}
	c.history = append([]lending.HistoryRecord(nil), t.history...)
	for k, v := range t.profiles {
		c.profiles[k] = v
	}
	for k, v := range t.payments {
		c.payments[k] = v
	}
	for k, v := range t.notifications {
		c.notifications[k] = v
	}
	return c
}

// Memory is a lending.TxStore backed by maps.
// Reads take a shared lock; writes and WithTx take the exclusive lock.
type Memory struct {
	mu sync.RWMutex
	t  *tables
}

func NewMemory() *Memory {
	return &Memory{t: newTables()}
}

func (m *Memory) read(fn func(t *tables) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.t)
}

func (m *Memory) write(fn func(t *tables) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.t)
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// fn must only use the Store it is given; the outer Memory is locked.
func (m *Memory) WithTx(ctx context.Context, fn func(lending.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.t.clone()
	if err := fn(&txView{t: m.t}); err != nil {
		m.t = snapshot
		return err
	}
	return nil
}

// =============================================================================
// LOCKED ENTRY POINTS
// =============================================================================

func (m *Memory) GetItem(_ context.Context, id lending.ItemID) (out *lending.InventoryItem, err error) {
	err = m.read(func(t *tables) error { out, err = t.getItem(id); return err })
	return out, err
}

func (m *Memory) InsertItem(_ context.Context, item lending.InventoryItem) error {
	return m.write(func(t *tables) error { return t.insertItem(item) })
}

func (m *Memory) UpdateItem(_ context.Context, item lending.InventoryItem, expectedAvailable int) error {
	return m.write(func(t *tables) error { return t.updateItem(item, expectedAvailable) })
}

func (m *Memory) DeleteItem(_ context.Context, id lending.ItemID) error {
	return m.write(func(t *tables) error { return t.deleteItem(id) })
}

func (m *Memory) ListItems(_ context.Context, f lending.ItemFilter) (out []lending.InventoryItem, err error) {
	err = m.read(func(t *tables) error { out = t.listItems(f); return nil })
	return out, err
}

func (m *Memory) GetRequest(_ context.Context, id lending.RequestID) (out *lending.BorrowRequest, err error) {
	err = m.read(func(t *tables) error { out, err = t.getRequest(id); return err })
	return out, err
}

func (m *Memory) InsertRequest(_ context.Context, r lending.BorrowRequest) error {
	return m.write(func(t *tables) error { return t.insertRequest(r) })
}

func (m *Memory) UpdateRequest(_ context.Context, r lending.BorrowRequest, expected lending.Status) error {
	return m.write(func(t *tables) error { return t.updateRequest(r, expected) })
}

func (m *Memory) ListRequests(_ context.Context, f lending.RequestFilter) (out []lending.BorrowRequest, err error) {
	err = m.read(func(t *tables) error { out = t.listRequests(f); return nil })
	return out, err
}

func (m *Memory) CountRequests(_ context.Context, f lending.RequestFilter) (n int, err error) {
	f.Limit = 0
	err = m.read(func(t *tables) error { n = len(t.listRequests(f)); return nil })
	return n, err
}

func (m *Memory) AppendHistory(_ context.Context, rec lending.HistoryRecord) error {
	return m.write(func(t *tables) error { return t.appendHistory(rec) })
}

func (m *Memory) ListHistory(_ context.Context, f lending.HistoryFilter) (out []lending.HistoryRecord, err error) {
	err = m.read(func(t *tables) error { out = t.listHistory(f); return nil })
	return out, err
}

func (m *Memory) GetProfile(_ context.Context, id lending.UserID) (out *lending.Profile, err error) {
	err = m.read(func(t *tables) error { out, err = t.getProfile(id); return err })
	return out, err
}

func (m *Memory) SaveProfile(_ context.Context, p lending.Profile) error {
	return m.write(func(t *tables) error { t.saveProfile(p); return nil })
}

func (m *Memory) UpdateProfileRole(_ context.Context, id lending.UserID, expected, next lending.Role) error {
	return m.write(func(t *tables) error { return t.updateProfileRole(id, expected, next) })
}

func (m *Memory) AddFine(_ context.Context, id lending.UserID, delta lending.Money) (bal lending.Money, err error) {
	err = m.write(func(t *tables) error { bal, err = t.addFine(id, delta); return err })
	return bal, err
}

func (m *Memory) ListProfiles(_ context.Context, f lending.ProfileFilter) (out []lending.Profile, err error) {
	err = m.read(func(t *tables) error { out = t.listProfiles(f); return nil })
	return out, err
}

func (m *Memory) InsertPayment(_ context.Context, p lending.PaymentRequest) error {
	return m.write(func(t *tables) error { return t.insertPayment(p) })
}

func (m *Memory) GetPayment(_ context.Context, id lending.PaymentID) (out *lending.PaymentRequest, err error) {
	err = m.read(func(t *tables) error { out, err = t.getPayment(id); return err })
	return out, err
}

func (m *Memory) UpdatePaymentStatus(_ context.Context, id lending.PaymentID, expected, next lending.PaymentStatus, reviewer lending.UserID, at time.Time) error {
	return m.write(func(t *tables) error { return t.updatePaymentStatus(id, expected, next, reviewer, at) })
}

func (m *Memory) ListPayments(_ context.Context, f lending.PaymentFilter) (out []lending.PaymentRequest, err error) {
	err = m.read(func(t *tables) error { out = t.listPayments(f); return nil })
	return out, err
}

func (m *Memory) InsertNotification(_ context.Context, n lending.Notification) error {
	return m.write(func(t *tables) error { return t.insertNotification(n) })
}

func (m *Memory) ListNotifications(_ context.Context, f lending.NotificationFilter) (out []lending.Notification, err error) {
	err = m.read(func(t *tables) error { out = t.listNotifications(f); return nil })
	return out, err
}

func (m *Memory) MarkNotificationRead(_ context.Context, id lending.NotificationID, userID lending.UserID) error {
	return m.write(func(t *tables) error { return t.markNotificationRead(id, userID) })
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// txView operates on the tables directly; WithTx already holds the lock.
type txView struct {
	t *tables
}

func (v *txView) GetItem(_ context.Context, id lending.ItemID) (*lending.InventoryItem, error) {
	return v.t.getItem(id)
}

func (v *txView) InsertItem(_ context.Context, item lending.InventoryItem) error {
	return v.t.insertItem(item)
}

func (v *txView) UpdateItem(_ context.Context, item lending.InventoryItem, expectedAvailable int) error {
	return v.t.updateItem(item, expectedAvailable)
}

func (v *txView) DeleteItem(_ context.Context, id lending.ItemID) error {
	return v.t.deleteItem(id)
}

func (v *txView) ListItems(_ context.Context, f lending.ItemFilter) ([]lending.InventoryItem, error) {
	return v.t.listItems(f), nil
}

func (v *txView) GetRequest(_ context.Context, id lending.RequestID) (*lending.BorrowRequest, error) {
	return v.t.getRequest(id)
}

func (v *txView) InsertRequest(_ context.Context, r lending.BorrowRequest) error {
	return v.t.insertRequest(r)
}

func (v *txView) UpdateRequest(_ context.Context, r lending.BorrowRequest, expected lending.Status) error {
	return v.t.updateRequest(r, expected)
}

func (v *txView) ListRequests(_ context.Context, f lending.RequestFilter) ([]lending.BorrowRequest, error) {
	return v.t.listRequests(f), nil
}

func (v *txView) CountRequests(_ context.Context, f lending.RequestFilter) (int, error) {
	f.Limit = 0
	return len(v.t.listRequests(f)), nil
}

func (v *txView) AppendHistory(_ context.Context, rec lending.HistoryRecord) error {
	return v.t.appendHistory(rec)
}

func (v *txView) ListHistory(_ context.Context, f lending.HistoryFilter) ([]lending.HistoryRecord, error) {
	return v.t.listHistory(f), nil
}

func (v *txView) GetProfile(_ context.Context, id lending.UserID) (*lending.Profile, error) {
	return v.t.getProfile(id)
}

func (v *txView) SaveProfile(_ context.Context, p lending.Profile) error {
	v.t.saveProfile(p)
	return nil
}

func (v *txView) UpdateProfileRole(_ context.Context, id lending.UserID, expected, next lending.Role) error {
	return v.t.updateProfileRole(id, expected, next)
}

func (v *txView) AddFine(_ context.Context, id lending.UserID, delta lending.Money) (lending.Money, error) {
	return v.t.addFine(id, delta)
}

func (v *txView) ListProfiles(_ context.Context, f lending.ProfileFilter) ([]lending.Profile, error) {
	return v.t.listProfiles(f), nil
}

func (v *txView) InsertPayment(_ context.Context, p lending.PaymentRequest) error {
	return v.t.insertPayment(p)
}

func (v *txView) GetPayment(_ context.Context, id lending.PaymentID) (*lending.PaymentRequest, error) {
	return v.t.getPayment(id)
}

func (v *txView) UpdatePaymentStatus(_ context.Context, id lending.PaymentID, expected, next lending.PaymentStatus, reviewer lending.UserID, at time.Time) error {
	return v.t.updatePaymentStatus(id, expected, next, reviewer, at)
}

func (v *txView) ListPayments(_ context.Context, f lending.PaymentFilter) ([]lending.PaymentRequest, error) {
	return v.t.listPayments(f), nil
}

func (v *txView) InsertNotification(_ context.Context, n lending.Notification) error {
	return v.t.insertNotification(n)
}

func (v *txView) ListNotifications(_ context.Context, f lending.NotificationFilter) ([]lending.Notification, error) {
	return v.t.listNotifications(f), nil
}

func (v *txView) MarkNotificationRead(_ context.Context, id lending.NotificationID, userID lending.UserID) error {
	return v.t.markNotificationRead(id, userID)
}

// =============================================================================
// TABLE OPERATIONS (caller holds the lock)
// =============================================================================

func missing(kind, id string) error {
	return &lending.NotFoundError{Kind: kind, ID: id}
}

func duplicate(op, id string) error {
	return &lending.DatastoreError{Op: op, Err: fmt.Errorf("%w: %s", errDuplicate, id)}
}

func limit[T any](rows []T, n int) []T {
	if n > 0 && len(rows) > n {
		return rows[:n]
	}
	return rows
}

// --- items ---

func (t *tables) getItem(id lending.ItemID) (*lending.InventoryItem, error) {
	item, ok := t.items[id]
	if !ok {
		return nil, missing("item", string(id))
	}
	return &item, nil
}

func (t *tables) insertItem(item lending.InventoryItem) error {
	if _, ok := t.items[item.ID]; ok {
		return duplicate("insert item", string(item.ID))
	}
	t.items[item.ID] = item
	return nil
}

func (t *tables) updateItem(item lending.InventoryItem, expectedAvailable int) error {
	cur, ok := t.items[item.ID]
	if !ok {
		return missing("item", string(item.ID))
	}
	if cur.QuantityAvailable != expectedAvailable {
		return fmt.Errorf("%w: item %s available is %d, expected %d",
			lending.ErrConcurrentModification, item.ID, cur.QuantityAvailable, expectedAvailable)
	}
	item.CreatedAt = cur.CreatedAt
	item.CreatedBy = cur.CreatedBy
	t.items[item.ID] = item
	return nil
}

func (t *tables) deleteItem(id lending.ItemID) error {
	if _, ok := t.items[id]; !ok {
		return missing("item", string(id))
	}
	for _, r := range t.requests {
		if r.ItemID == id {
			return lending.ErrReferenced
		}
	}
	for _, h := range t.history {
		if h.ItemID == id {
			return lending.ErrReferenced
		}
	}
	delete(t.items, id)
	return nil
}

func (t *tables) listItems(f lending.ItemFilter) []lending.InventoryItem {
	search := strings.ToLower(f.Search)
	var out []lending.InventoryItem
	for _, item := range t.items {
		if f.Category != "" && item.Category != f.Category {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(item.Name), search) &&
			!strings.Contains(strings.ToLower(item.Description), search) {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return limit(out, f.Limit)
}

// --- requests ---

func (t *tables) getRequest(id lending.RequestID) (*lending.BorrowRequest, error) {
	r, ok := t.requests[id]
	if !ok {
		return nil, missing("request", string(id))
	}
	return &r, nil
}

func (t *tables) insertRequest(r lending.BorrowRequest) error {
	if _, ok := t.requests[r.ID]; ok {
		return duplicate("insert request", string(r.ID))
	}
	if _, ok := t.items[r.ItemID]; !ok {
		return missing("item", string(r.ItemID))
	}
	t.requests[r.ID] = r
	return nil
}

func (t *tables) updateRequest(r lending.BorrowRequest, expected lending.Status) error {
	cur, ok := t.requests[r.ID]
	if !ok {
		return missing("request", string(r.ID))
	}
	if cur.Status != expected {
		return fmt.Errorf("%w: request %s is %s, expected %s",
			lending.ErrConcurrentModification, r.ID, cur.Status, expected)
	}
	t.requests[r.ID] = r
	return nil
}

func (t *tables) listRequests(f lending.RequestFilter) []lending.BorrowRequest {
	var out []lending.BorrowRequest
	for _, r := range t.requests {
		if f.StudentID != "" && r.StudentID != f.StudentID {
			continue
		}
		if f.ItemID != "" && r.ItemID != f.ItemID {
			continue
		}
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, r.Status) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return limit(out, f.Limit)
}

func hasStatus(set []lending.Status, s lending.Status) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}

// --- history ---

func (t *tables) appendHistory(rec lending.HistoryRecord) error {
	for _, h := range t.history {
		if h.ID == rec.ID {
			return duplicate("append history", string(rec.ID))
		}
	}
	t.history = append(t.history, rec)
	return nil
}

func (t *tables) listHistory(f lending.HistoryFilter) []lending.HistoryRecord {
	var out []lending.HistoryRecord
	for _, h := range t.history {
		if f.RequestID != "" && h.RequestID != f.RequestID {
			continue
		}
		if f.StudentID != "" && h.StudentID != f.StudentID {
			continue
		}
		if f.ItemID != "" && h.ItemID != f.ItemID {
			continue
		}
		if f.Status != "" && h.Status != f.Status {
			continue
		}
		if f.ActiveOnly && h.ReturnDate != nil {
			continue
		}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].BorrowDate.Equal(out[j].BorrowDate) {
			return out[i].BorrowDate.After(out[j].BorrowDate)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return limit(out, f.Limit)
}

// --- profiles ---

func (t *tables) getProfile(id lending.UserID) (*lending.Profile, error) {
	p, ok := t.profiles[id]
	if !ok {
		return nil, missing("profile", string(id))
	}
	return &p, nil
}

func (t *tables) saveProfile(p lending.Profile) {
	if cur, ok := t.profiles[p.ID]; ok {
		p.Role = cur.Role
		p.FineBalance = cur.FineBalance
		p.CreatedAt = cur.CreatedAt
	}
	t.profiles[p.ID] = p
}

func (t *tables) updateProfileRole(id lending.UserID, expected, next lending.Role) error {
	p, ok := t.profiles[id]
	if !ok {
		return missing("profile", string(id))
	}
	if p.Role != expected {
		return fmt.Errorf("%w: profile %s is %s, expected %s",
			lending.ErrConcurrentModification, id, p.Role, expected)
	}
	p.Role = next
	t.profiles[id] = p
	return nil
}

func (t *tables) addFine(id lending.UserID, delta lending.Money) (lending.Money, error) {
	p, ok := t.profiles[id]
	if !ok {
		return 0, missing("profile", string(id))
	}
	p.FineBalance += delta
	if p.FineBalance < 0 {
		p.FineBalance = 0
	}
	t.profiles[id] = p
	return p.FineBalance, nil
}

func (t *tables) listProfiles(f lending.ProfileFilter) []lending.Profile {
	var out []lending.Profile
	for _, p := range t.profiles {
		if f.Role != "" && p.Role != f.Role {
			continue
		}
		if f.WithFines && p.FineBalance <= 0 {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if f.WithFines && out[i].FineBalance != out[j].FineBalance {
			return out[i].FineBalance > out[j].FineBalance
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return limit(out, f.Limit)
}

// --- payments ---

func (t *tables) insertPayment(p lending.PaymentRequest) error {
	if _, ok := t.payments[p.ID]; ok {
		return duplicate("insert payment", string(p.ID))
	}
	if _, ok := t.profiles[p.UserID]; !ok {
		return missing("profile", string(p.UserID))
	}
	t.payments[p.ID] = p
	return nil
}

func (t *tables) getPayment(id lending.PaymentID) (*lending.PaymentRequest, error) {
	p, ok := t.payments[id]
	if !ok {
		return nil, missing("payment", string(id))
	}
	return &p, nil
}

func (t *tables) updatePaymentStatus(id lending.PaymentID, expected, next lending.PaymentStatus, reviewer lending.UserID, at time.Time) error {
	p, ok := t.payments[id]
	if !ok {
		return missing("payment", string(id))
	}
	if p.Status != expected {
		return fmt.Errorf("%w: payment %s is %s, expected %s",
			lending.ErrConcurrentModification, id, p.Status, expected)
	}
	p.Status = next
	p.ReviewedBy = reviewer
	p.UpdatedAt = at
	t.payments[id] = p
	return nil
}

func (t *tables) listPayments(f lending.PaymentFilter) []lending.PaymentRequest {
	var out []lending.PaymentRequest
	for _, p := range t.payments {
		if f.UserID != "" && p.UserID != f.UserID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return limit(out, f.Limit)
}

// --- notifications ---

func (t *tables) insertNotification(n lending.Notification) error {
	if _, ok := t.notifications[n.ID]; ok {
		return duplicate("insert notification", string(n.ID))
	}
	t.notifications[n.ID] = n
	return nil
}

func (t *tables) listNotifications(f lending.NotificationFilter) []lending.Notification {
	var out []lending.Notification
	for _, n := range t.notifications {
		if f.UserID != "" && n.UserID != f.UserID {
			continue
		}
		if f.UnreadOnly && n.IsRead {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return limit(out, f.Limit)
}

func (t *tables) markNotificationRead(id lending.NotificationID, userID lending.UserID) error {
	n, ok := t.notifications[id]
	if !ok || n.UserID != userID {
		return missing("notification", string(id))
	}
	n.IsRead = true
	t.notifications[id] = n
	return nil
}
