package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/warp/borrow-ledger/lending"
)

// =============================================================================
// HISTORY STORE (append-only)
// =============================================================================

var historyCols = []any{
	"id", "request_id", "student_id", "item_id", "quantity",
	"borrow_date", "return_date", "status", "fine", "created_at",
}

func (c *conn) AppendHistory(ctx context.Context, rec lending.HistoryRecord) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO borrow_history
		(id, request_id, student_id, item_id, quantity, borrow_date, return_date, status, fine, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RequestID, rec.StudentID, rec.ItemID, rec.Quantity,
		formatTime(rec.BorrowDate), nullTime(rec.ReturnDate), rec.Status, rec.Fine,
		formatTime(rec.CreatedAt),
	)
	if isForeignKey(err) {
		return missing("request", string(rec.RequestID))
	}
	return storeErr("append history", err)
}

func (c *conn) ListHistory(ctx context.Context, f lending.HistoryFilter) ([]lending.HistoryRecord, error) {
	ds := dialect.From("borrow_history").Select(historyCols...).
		Order(goqu.C("borrow_date").Desc(), goqu.C("created_at").Desc())
	if f.RequestID != "" {
		ds = ds.Where(goqu.Ex{"request_id": string(f.RequestID)})
	}
	if f.StudentID != "" {
		ds = ds.Where(goqu.Ex{"student_id": string(f.StudentID)})
	}
	if f.ItemID != "" {
		ds = ds.Where(goqu.Ex{"item_id": string(f.ItemID)})
	}
	if f.Status != "" {
		ds = ds.Where(goqu.Ex{"status": string(f.Status)})
	}
	if f.ActiveOnly {
		ds = ds.Where(goqu.C("return_date").IsNull())
	}
	ds = withLimit(ds, f.Limit)

	rows, err := c.query(ctx, "list history", ds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []lending.HistoryRecord
	for rows.Next() {
		var (
			rec                   lending.HistoryRecord
			borrowDate, createdAt string
			returnDate            sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.StudentID, &rec.ItemID, &rec.Quantity,
			&borrowDate, &returnDate, &rec.Status, &rec.Fine, &createdAt); err != nil {
			return nil, storeErr("scan history", err)
		}
		if rec.BorrowDate, err = parseTime(borrowDate); err != nil {
			return nil, storeErr("scan history", err)
		}
		if rec.ReturnDate, err = parseNullTime(returnDate); err != nil {
			return nil, storeErr("scan history", err)
		}
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, storeErr("scan history", err)
		}
		out = append(out, rec)
	}
	return out, storeErr("list history", rows.Err())
}

// =============================================================================
// PROFILE STORE
// =============================================================================

var profileCols = []any{
	"id", "full_name", "email", "student_number", "role", "fine_balance", "created_at", "updated_at",
}

func scanProfile(row scanner) (lending.Profile, error) {
	var (
		p                    lending.Profile
		createdAt, updatedAt string
	)
	err := row.Scan(&p.ID, &p.FullName, &p.Email, &p.StudentNumber, &p.Role, &p.FineBalance,
		&createdAt, &updatedAt)
	if err != nil {
		return p, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return p, err
	}
	p.UpdatedAt, err = parseTime(updatedAt)
	return p, err
}

func (c *conn) GetProfile(ctx context.Context, id lending.UserID) (*lending.Profile, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT id, full_name, email, student_number, role, fine_balance, created_at, updated_at
		FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, missing("profile", string(id))
	}
	if err != nil {
		return nil, storeErr("get profile", err)
	}
	return &p, nil
}

func (c *conn) SaveProfile(ctx context.Context, p lending.Profile) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO profiles (id, full_name, email, student_number, role, fine_balance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			full_name = excluded.full_name,
			email = excluded.email,
			student_number = excluded.student_number,
			updated_at = excluded.updated_at`,
		p.ID, p.FullName, p.Email, p.StudentNumber, p.Role, p.FineBalance,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	return storeErr("save profile", err)
}

func (c *conn) UpdateProfileRole(ctx context.Context, id lending.UserID, expected, next lending.Role) error {
	res, err := c.q.ExecContext(ctx,
		"UPDATE profiles SET role = ?, updated_at = ? WHERE id = ? AND role = ?",
		next, formatTime(time.Now()), id, expected)
	if err != nil {
		return storeErr("update profile role", err)
	}
	return c.guarded(ctx, res, "profiles", "profile", string(id),
		"profile "+string(id)+" is no longer "+string(expected))
}

func (c *conn) AddFine(ctx context.Context, id lending.UserID, delta lending.Money) (lending.Money, error) {
	res, err := c.q.ExecContext(ctx,
		"UPDATE profiles SET fine_balance = MAX(0, fine_balance + ?), updated_at = ? WHERE id = ?",
		delta, formatTime(time.Now()), id)
	if err != nil {
		return 0, storeErr("add fine", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, missing("profile", string(id))
	}
	var bal lending.Money
	if err := c.q.QueryRowContext(ctx, "SELECT fine_balance FROM profiles WHERE id = ?", id).Scan(&bal); err != nil {
		return 0, storeErr("read fine balance", err)
	}
	return bal, nil
}

func (c *conn) ListProfiles(ctx context.Context, f lending.ProfileFilter) ([]lending.Profile, error) {
	ds := dialect.From("profiles").Select(profileCols...)
	if f.Role != "" {
		ds = ds.Where(goqu.Ex{"role": string(f.Role)})
	}
	if f.WithFines {
		ds = ds.Where(goqu.C("fine_balance").Gt(0)).
			Order(goqu.C("fine_balance").Desc(), goqu.C("created_at").Asc(), goqu.C("id").Asc())
	} else {
		ds = ds.Order(goqu.C("created_at").Asc(), goqu.C("id").Asc())
	}
	ds = withLimit(ds, f.Limit)

	rows, err := c.query(ctx, "list profiles", ds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []lending.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, storeErr("scan profile", err)
		}
		out = append(out, p)
	}
	return out, storeErr("list profiles", rows.Err())
}

// =============================================================================
// PAYMENT STORE
// =============================================================================

var paymentCols = []any{"id", "user_id", "amount", "status", "reviewed_by", "created_at", "updated_at"}

func scanPayment(row scanner) (lending.PaymentRequest, error) {
	var (
		p                    lending.PaymentRequest
		createdAt, updatedAt string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Amount, &p.Status, &p.ReviewedBy, &createdAt, &updatedAt)
	if err != nil {
		return p, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return p, err
	}
	p.UpdatedAt, err = parseTime(updatedAt)
	return p, err
}

func (c *conn) InsertPayment(ctx context.Context, p lending.PaymentRequest) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO payment_requests (id, user_id, amount, status, reviewed_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Amount, p.Status, p.ReviewedBy,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if isForeignKey(err) {
		return missing("profile", string(p.UserID))
	}
	return storeErr("insert payment", err)
}

func (c *conn) GetPayment(ctx context.Context, id lending.PaymentID) (*lending.PaymentRequest, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT id, user_id, amount, status, reviewed_by, created_at, updated_at
		FROM payment_requests WHERE id = ?`, id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, missing("payment", string(id))
	}
	if err != nil {
		return nil, storeErr("get payment", err)
	}
	return &p, nil
}

func (c *conn) UpdatePaymentStatus(ctx context.Context, id lending.PaymentID, expected, next lending.PaymentStatus, reviewer lending.UserID, at time.Time) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE payment_requests SET status = ?, reviewed_by = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		next, reviewer, formatTime(at), id, expected)
	if err != nil {
		return storeErr("update payment", err)
	}
	return c.guarded(ctx, res, "payment_requests", "payment", string(id),
		"payment "+string(id)+" is no longer "+string(expected))
}

func (c *conn) ListPayments(ctx context.Context, f lending.PaymentFilter) ([]lending.PaymentRequest, error) {
	ds := dialect.From("payment_requests").Select(paymentCols...).
		Order(goqu.C("created_at").Desc(), goqu.C("id").Asc())
	if f.UserID != "" {
		ds = ds.Where(goqu.Ex{"user_id": string(f.UserID)})
	}
	if f.Status != "" {
		ds = ds.Where(goqu.Ex{"status": string(f.Status)})
	}
	ds = withLimit(ds, f.Limit)

	rows, err := c.query(ctx, "list payments", ds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []lending.PaymentRequest
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, storeErr("scan payment", err)
		}
		out = append(out, p)
	}
	return out, storeErr("list payments", rows.Err())
}

// =============================================================================
// NOTIFICATION STORE
// =============================================================================

var notificationCols = []any{
	"id", "user_id", "title", "message", "kind", "related_item_id", "related_request_id", "is_read", "created_at",
}

func (c *conn) InsertNotification(ctx context.Context, n lending.Notification) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO notifications
		(id, user_id, title, message, kind, related_item_id, related_request_id, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Title, n.Message, n.Kind, n.RelatedItemID, n.RelatedRequestID,
		n.IsRead, formatTime(n.CreatedAt),
	)
	return storeErr("insert notification", err)
}

func (c *conn) ListNotifications(ctx context.Context, f lending.NotificationFilter) ([]lending.Notification, error) {
	ds := dialect.From("notifications").Select(notificationCols...).
		Order(goqu.C("created_at").Desc(), goqu.C("id").Asc())
	if f.UserID != "" {
		ds = ds.Where(goqu.Ex{"user_id": string(f.UserID)})
	}
	if f.UnreadOnly {
		ds = ds.Where(goqu.Ex{"is_read": 0})
	}
	ds = withLimit(ds, f.Limit)

	rows, err := c.query(ctx, "list notifications", ds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []lending.Notification
	for rows.Next() {
		var (
			n         lending.Notification
			createdAt string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Kind,
			&n.RelatedItemID, &n.RelatedRequestID, &n.IsRead, &createdAt); err != nil {
			return nil, storeErr("scan notification", err)
		}
		if n.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, storeErr("scan notification", err)
		}
		out = append(out, n)
	}
	return out, storeErr("list notifications", rows.Err())
}

func (c *conn) MarkNotificationRead(ctx context.Context, id lending.NotificationID, userID lending.UserID) error {
	res, err := c.q.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return storeErr("mark notification read", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return missing("notification", string(id))
	}
	return nil
}
