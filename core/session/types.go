package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a session or reservation does not exist.
var ErrNotFound = errors.New("session: not found")

// Status is the subscription status of a user.
type Status int

const (
	// StatusAbsent means no session record exists. It is never persisted.
	StatusAbsent Status = iota
	// StatusInactive means the user was offered a subscription and has not paid.
	StatusInactive
	// StatusActive means a paid period is in effect.
	StatusActive
)

func (s Status) String() string {
	switch s {
	case StatusAbsent:
		return "absent"
	case StatusInactive:
		return "inactive"
	case StatusActive:
		return "active"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus converts a persisted status name back into a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "inactive":
		return StatusInactive, nil
	case "active":
		return StatusActive, nil
	case "absent":
		return StatusAbsent, nil
	default:
		return StatusAbsent, fmt.Errorf("session: unknown status %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	switch s {
	case StatusAbsent, StatusInactive, StatusActive:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("session: unknown status %d", int(s))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Session is the subscription context of one user.
type Session struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Status    Status    `json:"status" db:"-"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Reservation is a reserved but not yet confirmed LINE Pay charge.
type Reservation struct {
	TransactionID string    `json:"transaction_id" db:"transaction_id"`
	UserID        string    `json:"user_id" db:"user_id"`
	OrderID       string    `json:"order_id" db:"order_id"`
	ProductName   string    `json:"product_name" db:"product_name"`
	Amount        int64     `json:"amount" db:"amount"`
	Currency      string    `json:"currency" db:"currency"`
	ConfirmURL    string    `json:"confirm_url" db:"confirm_url"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Store persists sessions and reservations. Implementations are safe for concurrent use.
type Store interface {
	// GetSession returns ErrNotFound when the user has no session.
	GetSession(ctx context.Context, userID string) (Session, error)
	// PutSession replaces the user's session.
	PutSession(ctx context.Context, s Session) error
	// DeleteSession removes the user's session. Deleting a missing session is not an error.
	DeleteSession(ctx context.Context, userID string) error
	// ListSessions returns every session with the given status, in no particular order.
	ListSessions(ctx context.Context, status Status) ([]Session, error)

	// GetReservation returns ErrNotFound when no reservation exists for txID.
	GetReservation(ctx context.Context, txID string) (Reservation, error)
	PutReservation(ctx context.Context, r Reservation) error
	DeleteReservation(ctx context.Context, txID string) error

	Close() error
}

// StatusOf returns the user's status, mapping a missing session to StatusAbsent.
func StatusOf(ctx context.Context, st Store, userID string) (Status, error) {
	s, err := st.GetSession(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return StatusAbsent, nil
	}
	if err != nil {
		return StatusAbsent, err
	}
	return s.Status, nil
}

func validateSession(s Session) error {
	if s.UserID == "" {
		return errors.New("session: empty user id")
	}
	switch s.Status {
	case StatusInactive, StatusActive:
		return nil
	case StatusAbsent:
		return errors.New("session: absent status cannot be stored")
	default:
		return fmt.Errorf("session: unknown status %d", int(s.Status))
	}
}

func validateReservation(r Reservation) error {
	if r.TransactionID == "" {
		return errors.New("session: empty transaction id")
	}
	if r.UserID == "" {
		return errors.New("session: reservation without user id")
	}
	return nil
}
