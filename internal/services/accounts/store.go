// Package accounts keeps the ordered list of accounts, the id counter and the
// selected account type, and persists all of it to a state.Storage after every
// change.
package accounts

import (
	"context"
	"fmt"
	"sync"

	"github.com/asad/accstore/internal/config"
	"github.com/asad/accstore/internal/logging"
	"github.com/asad/accstore/internal/state"
)

// Store is the account store. Create one with NewStore and call Hydrate
// before use. Every mutating method persists the full state before returning.
type Store struct {
	mu      sync.RWMutex
	storage state.Storage
	key     string
	logger  logging.Logger

	accounts    []Account
	nextID      int
	accountType AccountType
	hydrated    bool
}

// Option configures a Store.
type Option func(*Store)

// WithStorageKey overrides the key the state blob is stored under.
func WithStorageKey(key string) Option {
	return func(s *Store) {
		s.key = key
	}
}

// NewStore creates a store with default state: no accounts, next id 1, type local.
func NewStore(storage state.Storage, logger logging.Logger, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		key:     config.DefaultStorageKey,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.String("storage_key", s.key))
	s.reset()
	return s
}

func (s *Store) reset() {
	st := defaultState()
	s.accounts = st.Accounts
	s.nextID = st.NextID
	s.accountType = st.AccountType
}

// Key returns the storage key the state is persisted under.
func (s *Store) Key() string {
	return s.key
}

// Hydrated reports whether Hydrate has completed.
func (s *Store) Hydrated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hydrated
}

// AddAccount appends a new account with the next id and returns it.
// The account is added in memory even if persisting fails.
func (s *Store) AddAccount(ctx context.Context, na NewAccount) (Account, error) {
	if na.Type == "" {
		na.Type = DefaultAccountType
	}
	if !na.Type.Valid() {
		return Account{}, fmt.Errorf("%w: %q", ErrInvalidAccountType, na.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account := Account{
		ID:       s.nextID,
		Labels:   na.Labels,
		Type:     na.Type,
		Login:    na.Login,
		Password: na.Password,
	}.clone()

	s.nextID++
	s.accounts = append(s.accounts, account)

	s.logger.Info("account added",
		logging.Int("id", account.ID),
		logging.String("type", account.Type.String()),
		logging.Strings("labels", account.Labels),
	)

	return account.clone(), s.persistLocked(ctx)
}

// UpdateAccount applies u to the account with the given id. It returns false,
// and changes nothing, when no such account exists.
func (s *Store) UpdateAccount(ctx context.Context, id int, u AccountUpdate) (bool, error) {
	if u.Type != nil && !u.Type.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidAccountType, *u.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.indexOf(id)
	if index == -1 {
		s.logger.Debug("update of unknown account ignored", logging.Int("id", id))
		return false, nil
	}

	account := s.accounts[index]
	if u.Labels != nil {
		account.Labels = cloneLabels(*u.Labels)
	}
	if u.Type != nil {
		account.Type = *u.Type
	}
	if u.Login != nil {
		account.Login = *u.Login
	}
	switch {
	case u.ClearPassword:
		account.Password = nil
	case u.Password != nil:
		account.Password = StringPtr(*u.Password)
	}
	s.accounts[index] = account

	s.logger.Info("account updated", logging.Int("id", id))

	return true, s.persistLocked(ctx)
}

// RemoveAccount removes every account with the given id, keeping the order of
// the rest. It returns false, and changes nothing, when there was none.
func (s *Store) RemoveAccount(ctx context.Context, id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.accounts[:0:0]
	for _, account := range s.accounts {
		if account.ID != id {
			kept = append(kept, account)
		}
	}
	if len(kept) == len(s.accounts) {
		s.logger.Debug("removal of unknown account ignored", logging.Int("id", id))
		return false, nil
	}
	s.accounts = kept

	s.logger.Info("account removed", logging.Int("id", id))

	return true, s.persistLocked(ctx)
}

// SetAccountType replaces the selected account type.
func (s *Store) SetAccountType(ctx context.Context, t AccountType) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAccountType, t)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.accountType = t
	s.logger.Info("account type selected", logging.String("type", t.String()))

	return s.persistLocked(ctx)
}

// Accounts returns a copy of all accounts in display order.
func (s *Store) Accounts() []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Account, len(s.accounts))
	for i, account := range s.accounts {
		out[i] = account.clone()
	}
	return out
}

// Account returns a copy of the account with the given id.
func (s *Store) Account(id int) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index := s.indexOf(id)
	if index == -1 {
		return Account{}, false
	}
	return s.accounts[index].clone(), true
}

// NextID returns the id the next added account will get.
func (s *Store) NextID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}

// AccountType returns the selected account type.
func (s *Store) AccountType() AccountType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountType
}

// Snapshot returns a deep copy of the full state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() State {
	accounts := make([]Account, len(s.accounts))
	for i, account := range s.accounts {
		accounts[i] = account.clone()
	}
	return State{
		Accounts:    accounts,
		AccountType: s.accountType,
		NextID:      s.nextID,
	}
}

// indexOf returns the index of the first account with id, or -1.
func (s *Store) indexOf(id int) int {
	for i, account := range s.accounts {
		if account.ID == id {
			return i
		}
	}
	return -1
}
