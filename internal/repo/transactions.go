package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Transaction is the persisted, immutable POS transaction row. Cart and
// tenders are stored as JSON snapshots; once written they are never updated.
type Transaction struct {
	ID            uuid.UUID
	SessionID     uuid.UUID
	Type          string
	Total         int64
	CashTendered  int64
	ChangeGiven   int64
	CashRefunded  int64
	Cart          []byte
	Tenders       []byte
	ReceiptNumber string
	CreatedAt     time.Time
}

const transactionColumns = `id, session_id, type, total, cash_tendered, change_given, cash_refunded, cart, tenders, receipt_number, created_at`

// RecordTransaction appends the transaction and moves the session's expected
// cash in one database transaction. Insertion is keyed on the transaction id:
// a duplicate submission changes nothing and reports inserted=false, keeping
// at-least-once retries safe.
func (s *Store) RecordTransaction(ctx context.Context, tx Transaction, expectedCash int64) (bool, error) {
	dbtx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = dbtx.Rollback(ctx)
	}()

	tag, err := dbtx.Exec(ctx, `
		INSERT INTO pos_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		tx.ID, tx.SessionID, tx.Type, tx.Total, tx.CashTendered, tx.ChangeGiven,
		tx.CashRefunded, tx.Cart, tx.Tenders, tx.ReceiptNumber, tx.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := dbtx.Exec(ctx, `UPDATE pos_sessions SET expected_cash = $2 WHERE id = $1`, tx.SessionID, expectedCash); err != nil {
		return false, err
	}
	if err := dbtx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// GetTransaction loads one transaction by id.
func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM pos_transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

// GetTransactionByReceipt loads one transaction by its receipt number.
func (s *Store) GetTransactionByReceipt(ctx context.Context, receiptNumber string) (Transaction, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM pos_transactions WHERE receipt_number = $1`, receiptNumber)
	return scanTransaction(row)
}

// ListTransactionsBySession returns a session's ledger entries in order.
func (s *Store) ListTransactionsBySession(ctx context.Context, sessionID uuid.UUID) ([]Transaction, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM pos_transactions
		WHERE session_id = $1
		ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var tx Transaction
	err := row.Scan(
		&tx.ID, &tx.SessionID, &tx.Type, &tx.Total, &tx.CashTendered,
		&tx.ChangeGiven, &tx.CashRefunded, &tx.Cart, &tx.Tenders,
		&tx.ReceiptNumber, &tx.CreatedAt,
	)
	if err != nil {
		return Transaction{}, mapNoRows(err)
	}
	return tx, nil
}
