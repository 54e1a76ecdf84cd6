// Package memory is an in-process account.Store for tests, demos and single
// node deployments without a database.
package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/posauth/account"
)

// Store keeps accounts in a map guarded by a mutex. Every method copies
// records in and out so callers never share state with the store.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*account.Account
	byEmail map[string]string
	byName  map[string]string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		byID:    make(map[string]*account.Account),
		byEmail: make(map[string]string),
		byName:  make(map[string]string),
	}
}

// Create inserts a copy of a. An empty ID is filled with a random UUID.
func (s *Store) Create(_ context.Context, a *account.Account) (*account.Account, error) {
	if a == nil {
		return nil, errors.New("memory: nil account")
	}
	rec := a.Clone()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	email := normalize(rec.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[rec.ID]; ok {
		return nil, account.ErrDuplicate
	}
	if _, ok := s.byEmail[email]; ok {
		return nil, account.ErrDuplicate
	}
	if _, ok := s.byName[rec.Username]; ok {
		return nil, account.ErrDuplicate
	}
	s.byID[rec.ID] = rec
	s.byEmail[email] = rec.ID
	s.byName[rec.Username] = rec.ID
	return rec.Clone(), nil
}

// FindByID returns a copy of the account with the given id, or
// account.ErrNotFound.
func (s *Store) FindByID(_ context.Context, id string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, account.ErrNotFound
	}
	return rec.Clone(), nil
}

// FindByEmail looks an account up by email, ignoring case and surrounding
// whitespace.
func (s *Store) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	s.mu.RLock()
	id, ok := s.byEmail[normalize(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, account.ErrNotFound
	}
	return s.FindByID(ctx, id)
}

// FindByUsername looks an account up by its exact username.
func (s *Store) FindByUsername(ctx context.Context, username string) (*account.Account, error) {
	s.mu.RLock()
	id, ok := s.byName[username]
	s.mu.RUnlock()
	if !ok {
		return nil, account.ErrNotFound
	}
	return s.FindByID(ctx, id)
}

// Update applies patch to the account with the given id and returns the
// updated copy. A failed precondition returns account.ErrConflict and leaves
// the record untouched.
func (s *Store) Update(_ context.Context, id string, patch account.Patch) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(id, patch)
}

// UpdateByEmail is Update keyed by email. The lookup and the write happen
// under one lock.
func (s *Store) UpdateByEmail(_ context.Context, email string, patch account.Patch) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[normalize(email)]
	if !ok {
		return nil, account.ErrNotFound
	}
	return s.applyLocked(id, patch)
}

// SetActive flips the active flag. Deactivating also revokes the session.
func (s *Store) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return account.ErrNotFound
	}
	rec.IsActive = active
	if !active {
		rec.RefreshTokenHash = nil
	}
	return nil
}

// Delete soft-deletes the account.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return account.ErrNotFound
	}
	rec.IsDeleted = true
	return nil
}

// ClearExpiredResetCredentials nulls every reset code pair and reset token
// pair whose expiry is before now, and returns the number of accounts touched.
func (s *Store) ClearExpiredResetCredentials(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, rec := range s.byID {
		touched := false
		if rec.ResetCodeExp != nil && rec.ResetCodeExp.Before(now) {
			rec.ResetCode, rec.ResetCodeExp = nil, nil
			touched = true
		}
		if rec.ResetTokenExp != nil && rec.ResetTokenExp.Before(now) {
			rec.ResetToken, rec.ResetTokenExp = nil, nil
			touched = true
		}
		if touched {
			n++
		}
	}
	return n, nil
}

// Len reports how many accounts are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) applyLocked(id string, patch account.Patch) (*account.Account, error) {
	rec, ok := s.byID[id]
	if !ok {
		return nil, account.ErrNotFound
	}
	if patch.IfFailedAttempts != nil && rec.FailedLoginAttempts != *patch.IfFailedAttempts {
		return nil, account.ErrConflict
	}
	patch.Apply(rec)
	return rec.Clone(), nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
