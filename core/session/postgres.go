package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	selectSessionSQL = `SELECT user_id, status, updated_at FROM sessions WHERE user_id = $1`
	upsertSessionSQL = `INSERT INTO sessions (user_id, status, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`
	deleteSessionSQL = `DELETE FROM sessions WHERE user_id = $1`
	listSessionsSQL  = `SELECT user_id, status, updated_at FROM sessions WHERE status = $1`

	selectReservationSQL = `SELECT transaction_id, user_id, order_id, product_name, amount, currency, confirm_url, created_at
FROM reservations WHERE transaction_id = $1`
	insertReservationSQL = `INSERT INTO reservations (transaction_id, user_id, order_id, product_name, amount, currency, confirm_url, created_at)
VALUES (:transaction_id, :user_id, :order_id, :product_name, :amount, :currency, :confirm_url, :created_at)
ON CONFLICT (transaction_id) DO NOTHING`
	deleteReservationSQL = `DELETE FROM reservations WHERE transaction_id = $1`
)

type sessionRow struct {
	UserID    string    `db:"user_id"`
	Status    string    `db:"status"`
	UpdatedAt time.Time `db:"updated_at"`
}

type postgresStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgresStore keeps sessions and reservations in the tables created by the embedded migrations.
func NewPostgresStore(db *sqlx.DB) Store {
	return &postgresStore{db: db, now: time.Now}
}

func (p *postgresStore) GetSession(ctx context.Context, userID string) (Session, error) {
	var row sessionRow
	if err := p.db.GetContext(ctx, &row, selectSessionSQL, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("session: select session: %w", err)
	}
	st, err := ParseStatus(row.Status)
	if err != nil {
		return Session{}, err
	}
	return Session{UserID: row.UserID, Status: st, UpdatedAt: row.UpdatedAt}, nil
}

func (p *postgresStore) PutSession(ctx context.Context, s Session) error {
	if err := validateSession(s); err != nil {
		return err
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = p.now().UTC()
	}
	if _, err := p.db.ExecContext(ctx, upsertSessionSQL, s.UserID, s.Status.String(), s.UpdatedAt); err != nil {
		return fmt.Errorf("session: upsert session: %w", err)
	}
	return nil
}

func (p *postgresStore) DeleteSession(ctx context.Context, userID string) error {
	if _, err := p.db.ExecContext(ctx, deleteSessionSQL, userID); err != nil {
		return fmt.Errorf("session: delete session: %w", err)
	}
	return nil
}

func (p *postgresStore) ListSessions(ctx context.Context, status Status) ([]Session, error) {
	var rows []sessionRow
	if err := p.db.SelectContext(ctx, &rows, listSessionsSQL, status.String()); err != nil {
		return nil, fmt.Errorf("session: list sessions: %w", err)
	}
	out := make([]Session, 0, len(rows))
	for _, row := range rows {
		st, err := ParseStatus(row.Status)
		if err != nil {
			return nil, err
		}
		out = append(out, Session{UserID: row.UserID, Status: st, UpdatedAt: row.UpdatedAt})
	}
	return out, nil
}

func (p *postgresStore) GetReservation(ctx context.Context, txID string) (Reservation, error) {
	var r Reservation
	if err := p.db.GetContext(ctx, &r, selectReservationSQL, txID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Reservation{}, ErrNotFound
		}
		return Reservation{}, fmt.Errorf("session: select reservation: %w", err)
	}
	return r, nil
}

func (p *postgresStore) PutReservation(ctx context.Context, r Reservation) error {
	if err := validateReservation(r); err != nil {
		return err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = p.now().UTC()
	}
	if _, err := p.db.NamedExecContext(ctx, insertReservationSQL, r); err != nil {
		return fmt.Errorf("session: insert reservation: %w", err)
	}
	return nil
}

func (p *postgresStore) DeleteReservation(ctx context.Context, txID string) error {
	if _, err := p.db.ExecContext(ctx, deleteReservationSQL, txID); err != nil {
		return fmt.Errorf("session: delete reservation: %w", err)
	}
	return nil
}

// Close is a no-op; the pool belongs to the caller that opened it.
func (p *postgresStore) Close() error { return nil }
