package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session is the persisted register session row.
type Session struct {
	ID           uuid.UUID
	LocationID   string
	RegisterID   string
	EmployeeID   string
	OpeningFloat int64
	ExpectedCash int64
	Status       string
	OpenedAt     time.Time
	ClosedAt     *time.Time
	ActualCash   *int64
	Variance     *int64
}

// SessionFilter narrows session history queries.
type SessionFilter struct {
	LocationID string
	EmployeeID string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

const sessionColumns = `id, location_id, register_id, employee_id, opening_float, expected_cash, status, opened_at, closed_at, actual_cash, variance`

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO pos_sessions (id, location_id, register_id, employee_id, opening_float, expected_cash, status, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sess.ID, sess.LocationID, sess.RegisterID, sess.EmployeeID,
		sess.OpeningFloat, sess.ExpectedCash, sess.Status, sess.OpenedAt,
	)
	return err
}

// GetSession loads one session by id.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (Session, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM pos_sessions WHERE id = $1`, id)
	return scanSession(row)
}

// GetActiveSessionByRegister returns the open (active or suspended) session
// for a register, if any.
func (s *Store) GetActiveSessionByRegister(ctx context.Context, registerID string) (Session, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM pos_sessions
		WHERE register_id = $1 AND status IN ('active', 'suspended')
		ORDER BY opened_at DESC
		LIMIT 1`, registerID)
	return scanSession(row)
}

// UpdateSessionStatus transitions the session's stored status.
func (s *Store) UpdateSessionStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE pos_sessions SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CloseSession persists the terminal close-out state.
func (s *Store) CloseSession(ctx context.Context, id uuid.UUID, expected, actual, variance int64, closedAt time.Time) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE pos_sessions
		SET status = 'closed', expected_cash = $2, actual_cash = $3, variance = $4, closed_at = $5
		WHERE id = $1 AND status <> 'closed'`,
		id, expected, actual, variance, closedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReopenSession rolls a rejected close back to active. The backend owning the
// remote session lifecycle is the source of truth on conflict.
func (s *Store) ReopenSession(ctx context.Context, id uuid.UUID) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE pos_sessions
		SET status = 'active', actual_cash = NULL, variance = NULL, closed_at = NULL
		WHERE id = $1 AND status = 'closed'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessions returns filtered session history plus the total row count.
func (s *Store) ListSessions(ctx context.Context, f SessionFilter) ([]Session, int64, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.LocationID != "" {
		add("location_id = $%d", f.LocationID)
	}
	if f.EmployeeID != "" {
		add("employee_id = $%d", f.EmployeeID)
	}
	if !f.From.IsZero() {
		add("opened_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("opened_at <= $%d", f.To)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM pos_sessions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM pos_sessions%s ORDER BY opened_at DESC LIMIT $%d OFFSET $%d`,
		sessionColumns, where, len(args)-1, len(args))

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, sess)
	}
	return out, total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	err := row.Scan(
		&sess.ID, &sess.LocationID, &sess.RegisterID, &sess.EmployeeID,
		&sess.OpeningFloat, &sess.ExpectedCash, &sess.Status,
		&sess.OpenedAt, &sess.ClosedAt, &sess.ActualCash, &sess.Variance,
	)
	if err != nil {
		return Session{}, mapNoRows(err)
	}
	return sess, nil
}
