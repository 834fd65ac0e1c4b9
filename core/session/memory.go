package session

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu           sync.RWMutex
	sessions     map[string]Session
	reservations map[string]Reservation
	now          func() time.Time
}

// NewMemoryStore constructs a process-local Store. Contents are lost on restart.
func NewMemoryStore() Store {
	return &memoryStore{
		sessions:     make(map[string]Session),
		reservations: make(map[string]Reservation),
		now:          time.Now,
	}
}

// GetSession returns the stored session for a user.
func (m *memoryStore) GetSession(_ context.Context, userID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[userID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

// PutSession replaces the session for a user, creating it if necessary.
func (m *memoryStore) PutSession(_ context.Context, s Session) error {
	if err := validateSession(s); err != nil {
		return err
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.UserID] = s
	return nil
}

// DeleteSession removes the session for a user.
func (m *memoryStore) DeleteSession(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

func (m *memoryStore) ListSessions(_ context.Context, status Status) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Session
	for _, s := range m.sessions {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memoryStore) GetReservation(_ context.Context, txID string) (Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reservations[txID]
	if !ok {
		return Reservation{}, ErrNotFound
	}
	return r, nil
}

func (m *memoryStore) PutReservation(_ context.Context, r Reservation) error {
	if err := validateReservation(r); err != nil {
		return err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservations[r.TransactionID] = r
	return nil
}

func (m *memoryStore) DeleteReservation(_ context.Context, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reservations, txID)
	return nil
}

func (m *memoryStore) Close() error { return nil }
