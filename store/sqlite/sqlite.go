/*
Package sqlite provides a SQLite-backed implementation of lending.TxStore.

PURPOSE:
  Persists inventory, borrow requests, loan history, profiles, payment
  requests and notifications. Every lifecycle write is a conditional
  UPDATE so two staff members acting on the same row cannot both win.

KEY TABLES:
  inventory_items:   Shelf items with total and available quantity
  borrow_requests:   One row per request, status guarded by CAS
  borrow_history:    Append-only loan ledger (no UPDATE, no DELETE)
  profiles:          Users, roles and fine balances
  payment_requests:  Recorded fine payments awaiting review
  notifications:     In-app messages

CONDITIONAL WRITES:
  UPDATE borrow_requests  ... WHERE id = ? AND status = ?
  UPDATE inventory_items  ... WHERE id = ? AND quantity_available = ?
  Zero rows affected means either the row is gone (NotFoundError) or
  someone changed it first (ErrConcurrentModification).

FOREIGN KEYS:
  borrow_requests and borrow_history reference inventory_items. Deleting
  a referenced item fails inside SQLite; the driver error is translated
  to lending.ErrReferenced so callers never see raw constraint text.

QUERIES:
  Filtered list queries are built with goqu (sqlite3 dialect, prepared
  placeholders). Single-row reads and CAS writes are plain SQL.

CONCURRENCY:
  The pool is limited to one connection. SQLite only allows one writer,
  and ":memory:" databases exist per connection. A transaction holds the
  connection until it commits, so inside WithTx only the Store passed to
  fn may be used.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better crash
  recovery. Times are stored as fixed-width UTC text so they sort.

USAGE:
  store, err := sqlite.New("./data/borrow.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := lending.NewService(store, lending.NewStoreNotifier(store), warnings)

SEE ALSO:
  - lending/store.go: Interface definitions
  - lending/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/borrow-ledger/lending"
)

// timeLayout is fixed width so stored times compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var dialect = goqu.Dialect("sqlite3")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements lending.Store against a querier.
type conn struct {
	q querier
}

// Store implements lending.TxStore using SQLite.
type Store struct {
	conn
	db *sql.DB
}

var _ lending.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path and applies
// the schema. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{conn: conn{q: db}, db: db}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the database schema. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
	CREATE TABLE IF NOT EXISTS inventory_items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		quantity_total INTEGER NOT NULL CHECK (quantity_total >= 0),
		quantity_available INTEGER NOT NULL
			CHECK (quantity_available >= 0 AND quantity_available <= quantity_total),
		location TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_category ON inventory_items(category);

	CREATE TABLE IF NOT EXISTS borrow_requests (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		item_id TEXT NOT NULL REFERENCES inventory_items(id),
		quantity_requested INTEGER NOT NULL CHECK (quantity_requested > 0),
		status TEXT NOT NULL
			CHECK (status IN ('pending', 'approved', 'rejected', 'borrowed', 'returned')),
		borrow_date TEXT,
		return_date TEXT,
		actual_return_date TEXT,
		approved_by TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		fine INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_student ON borrow_requests(student_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_requests_item_status ON borrow_requests(item_id, status);

	-- Append-only: rows are inserted on loan start and on return, never updated.
	CREATE TABLE IF NOT EXISTS borrow_history (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL REFERENCES borrow_requests(id),
		student_id TEXT NOT NULL,
		item_id TEXT NOT NULL REFERENCES inventory_items(id),
		quantity INTEGER NOT NULL,
		borrow_date TEXT NOT NULL,
		return_date TEXT,
		status TEXT NOT NULL CHECK (status IN ('borrowed', 'returned')),
		fine INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_student ON borrow_history(student_id, borrow_date);
	CREATE INDEX IF NOT EXISTS idx_history_request ON borrow_history(request_id);

	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		student_number TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL
			CHECK (role IN ('student', 'staff', 'admin', 'pending', 'rejected')),
		fine_balance INTEGER NOT NULL DEFAULT 0 CHECK (fine_balance >= 0),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_profiles_role ON profiles(role);

	CREATE TABLE IF NOT EXISTS payment_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES profiles(id),
		amount INTEGER NOT NULL CHECK (amount > 0),
		status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
		reviewed_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_user ON payment_requests(user_id, created_at);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		kind TEXT NOT NULL,
		related_item_id TEXT NOT NULL DEFAULT '',
		related_request_id TEXT NOT NULL DEFAULT '',
		is_read INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, is_read, created_at);
`

// =============================================================================
// TRANSACTIONAL STORE (lending.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(lending.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &lending.DatastoreError{Op: "begin transaction", Err: err}
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return &lending.DatastoreError{Op: "commit transaction", Err: err}
	}
	return nil
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{
		"notifications", "payment_requests", "borrow_history",
		"borrow_requests", "inventory_items", "profiles",
	} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// ITEM STORE
// =============================================================================

var itemCols = []any{
	"id", "name", "category", "description", "quantity_total", "quantity_available",
	"location", "created_by", "created_at", "updated_at",
}

func scanItem(row scanner) (lending.InventoryItem, error) {
	var (
		item                 lending.InventoryItem
		createdAt, updatedAt string
	)
	err := row.Scan(&item.ID, &item.Name, &item.Category, &item.Description,
		&item.QuantityTotal, &item.QuantityAvailable, &item.Location, &item.CreatedBy,
		&createdAt, &updatedAt)
	if err != nil {
		return item, err
	}
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return item, err
	}
	item.UpdatedAt, err = parseTime(updatedAt)
	return item, err
}

func (c *conn) GetItem(ctx context.Context, id lending.ItemID) (*lending.InventoryItem, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT id, name, category, description, quantity_total, quantity_available,
		       location, created_by, created_at, updated_at
		FROM inventory_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, missing("item", string(id))
	}
	if err != nil {
		return nil, storeErr("get item", err)
	}
	return &item, nil
}

func (c *conn) InsertItem(ctx context.Context, item lending.InventoryItem) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO inventory_items
		(id, name, category, description, quantity_total, quantity_available,
		 location, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Name, item.Category, item.Description,
		item.QuantityTotal, item.QuantityAvailable, item.Location, item.CreatedBy,
		formatTime(item.CreatedAt), formatTime(item.UpdatedAt),
	)
	return storeErr("insert item", err)
}

func (c *conn) UpdateItem(ctx context.Context, item lending.InventoryItem, expectedAvailable int) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE inventory_items
		SET name = ?, category = ?, description = ?, quantity_total = ?,
		    quantity_available = ?, location = ?, updated_at = ?
		WHERE id = ? AND quantity_available = ?`,
		item.Name, item.Category, item.Description, item.QuantityTotal,
		item.QuantityAvailable, item.Location, formatTime(item.UpdatedAt),
		item.ID, expectedAvailable,
	)
	if err != nil {
		return storeErr("update item", err)
	}
	return c.guarded(ctx, res, "inventory_items", "item", string(item.ID),
		fmt.Sprintf("item %s available is no longer %d", item.ID, expectedAvailable))
}

func (c *conn) DeleteItem(ctx context.Context, id lending.ItemID) error {
	res, err := c.q.ExecContext(ctx, "DELETE FROM inventory_items WHERE id = ?", id)
	if isForeignKey(err) {
		return lending.ErrReferenced
	}
	if err != nil {
		return storeErr("delete item", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return missing("item", string(id))
	}
	return nil
}

func (c *conn) ListItems(ctx context.Context, f lending.ItemFilter) ([]lending.InventoryItem, error) {
	ds := dialect.From("inventory_items").Select(itemCols...).
		Order(goqu.C("created_at").Desc(), goqu.C("id").Asc())
	if f.Category != "" {
		ds = ds.Where(goqu.Ex{"category": f.Category})
	}
	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		ds = ds.Where(goqu.Or(
			goqu.C("name").Like(pattern),
			goqu.C("description").Like(pattern),
		))
	}
	ds = withLimit(ds, f.Limit)

	rows, err := c.query(ctx, "list items", ds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []lending.InventoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, storeErr("scan item", err)
		}
		out = append(out, item)
	}
	return out, storeErr("list items", rows.Err())
}

// =============================================================================
// REQUEST STORE
// =============================================================================

var requestCols = []any{
	"id", "student_id", "item_id", "quantity_requested", "status",
	"borrow_date", "return_date", "actual_return_date", "approved_by", "notes", "fine",
	"created_at", "updated_at",
}

func scanRequest(row scanner) (lending.BorrowRequest, error) {
	var (
		r                                lending.BorrowRequest
		borrowDate, returnDate, returned sql.NullString
		createdAt, updatedAt             string
	)
	err := row.Scan(&r.ID, &r.StudentID, &r.ItemID, &r.QuantityRequested, &r.Status,
		&borrowDate, &returnDate, &returned, &r.ApprovedBy, &r.Notes, &r.Fine,
		&createdAt, &updatedAt)
	if err != nil {
		return r, err
	}
	if r.BorrowDate, err = parseNullTime(borrowDate); err != nil {
		return r, err
	}
	if r.ReturnDate, err = parseNullTime(returnDate); err != nil {
		return r, err
	}
	if r.ActualReturnDate, err = parseNullTime(returned); err != nil {
		return r, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return r, err
	}
	r.UpdatedAt, err = parseTime(updatedAt)
	return r, err
}

func (c *conn) GetRequest(ctx context.Context, id lending.RequestID) (*lending.BorrowRequest, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT id, student_id, item_id, quantity_requested, status,
		       borrow_date, return_date, actual_return_date, approved_by, notes, fine,
		       created_at, updated_at
		FROM borrow_requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, missing("request", string(id))
	}
	if err != nil {
		return nil, storeErr("get request", err)
	}
	return &r, nil
}

func (c *conn) InsertRequest(ctx context.Context, r lending.BorrowRequest) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO borrow_requests
		(id, student_id, item_id, quantity_requested, status,
		 borrow_date, return_date, actual_return_date, approved_by, notes, fine,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StudentID, r.ItemID, r.QuantityRequested, r.Status,
		nullTime(r.BorrowDate), nullTime(r.ReturnDate), nullTime(r.ActualReturnDate),
		r.ApprovedBy, r.Notes, r.Fine,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if isForeignKey(err) {
		return missing("item", string(r.ItemID))
	}
	return storeErr("insert request", err)
}

func (c *conn) UpdateRequest(ctx context.Context, r lending.BorrowRequest, expected lending.Status) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE borrow_requests
		SET status = ?, borrow_date = ?, return_date = ?, actual_return_date = ?,
		    approved_by = ?, notes = ?, fine = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		r.Status, nullTime(r.BorrowDate), nullTime(r.ReturnDate), nullTime(r.ActualReturnDate),
		r.ApprovedBy, r.Notes, r.Fine, formatTime(r.UpdatedAt),
		r.ID, expected,
	)
	if err != nil {
		return storeErr("update request", err)
	}
	return c.guarded(ctx, res, "borrow_requests", "request", string(r.ID),
		fmt.Sprintf("request %s is no longer %s", r.ID, expected))
}

func requestWhere(ds *goqu.SelectDataset, f lending.RequestFilter) *goqu.SelectDataset {
	if f.StudentID != "" {
		ds = ds.Where(goqu.Ex{"student_id": string(f.StudentID)})
	}
	if f.ItemID != "" {
		ds = ds.Where(goqu.Ex{"item_id": string(f.ItemID)})
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		ds = ds.Where(goqu.Ex{"status": statuses})
	}
	return ds
}

func (c *conn) ListRequests(ctx context.Context, f lending.RequestFilter) ([]lending.BorrowRequest, error) {
	ds := dialect.From("borrow_requests").Select(requestCols...).
		Order(goqu.C("created_at").Desc(), goqu.C("id").Asc())
	ds = withLimit(requestWhere(ds, f), f.Limit)

	rows, err := c.query(ctx, "list requests", ds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []lending.BorrowRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, storeErr("scan request", err)
		}
		out = append(out, r)
	}
	return out, storeErr("list requests", rows.Err())
}

func (c *conn) CountRequests(ctx context.Context, f lending.RequestFilter) (int, error) {
	ds := requestWhere(dialect.From("borrow_requests").Select(goqu.COUNT(goqu.Star())), f)
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return 0, storeErr("build count requests", err)
	}
	var n int
	if err := c.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, storeErr("count requests", err)
	}
	return n, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func (c *conn) query(ctx context.Context, op string, ds *goqu.SelectDataset) (*sql.Rows, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, storeErr("build "+op, err)
	}
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	return rows, nil
}

// guarded turns the result of a conditional UPDATE into the lending errors:
// nil when a row changed, NotFoundError when the row is gone, and
// ErrConcurrentModification when the guard no longer matched.
func (c *conn) guarded(ctx context.Context, res sql.Result, table, kind, id, conflict string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("rows affected", err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = c.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&exists)
	if err != nil {
		return storeErr("check "+kind, err)
	}
	if exists == 0 {
		return missing(kind, id)
	}
	return fmt.Errorf("%w: %s", lending.ErrConcurrentModification, conflict)
}

func withLimit(ds *goqu.SelectDataset, n int) *goqu.SelectDataset {
	if n > 0 {
		return ds.Limit(uint(n))
	}
	return ds
}

func missing(kind, id string) error {
	return &lending.NotFoundError{Kind: kind, ID: id}
}

// storeErr wraps driver failures so callers can match lending.ErrDatastore.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &lending.DatastoreError{Op: op, Err: err}
}

func isForeignKey(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
