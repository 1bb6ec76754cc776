package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/asad/accstore/internal/logging"
)

// Keys of the older two-key layout. They are only read, to migrate from.
const (
	legacyAccountsKey = "accounts"
	legacyNextIDKey   = "nextId"
)

// Persist writes the full state to storage as one JSON document.
func (s *Store) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx)
}

// Export returns the state as indented JSON, in the persisted layout.
func (s *Store) Export() ([]byte, error) {
	return json.MarshalIndent(s.Snapshot(), "", "  ")
}

func encodeState(st State) (string, error) {
	blob, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("failed to encode account state: %w", err)
	}
	return string(blob), nil
}

func (s *Store) persistLocked(ctx context.Context) error {
	blob, err := encodeState(s.snapshotLocked())
	if err != nil {
		return err
	}
	if err := s.storage.SetItem(ctx, s.key, blob); err != nil {
		s.logger.Error("failed to persist account state", logging.ErrorField(err))
		return fmt.Errorf("failed to persist account state: %w", err)
	}
	s.logger.Debug("account state persisted", logging.Int("bytes", len(blob)))
	return nil
}

// Hydrate replaces the in-memory state with what storage holds.
//
// A missing key gives the defaults. Malformed data is logged and discarded,
// also giving the defaults. When only the legacy "accounts"/"nextId" keys
// exist they are imported and written back under the store key; each legacy
// key that parsed is then deleted, one that did not is kept for recovery.
// Only storage failures are returned, and on failure the in-memory state is
// left exactly as it was.
func (s *Store) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok, err := s.storage.GetItem(ctx, s.key)
	if err != nil {
		return fmt.Errorf("failed to read account state: %w", err)
	}

	var loaded State
	if ok {
		loaded = s.decode(raw)
	} else if loaded, err = s.migrateLegacy(ctx); err != nil {
		return err
	}

	s.accounts = loaded.Accounts
	s.nextID = loaded.NextID
	s.accountType = loaded.AccountType
	s.hydrated = true

	s.logger.Debug("account state hydrated",
		logging.Int("accounts", len(s.accounts)),
		logging.Int("next_id", s.nextID),
		logging.Bool("found", ok),
	)
	return nil
}

func defaultState() State {
	return State{
		Accounts:    []Account{},
		AccountType: DefaultAccountType,
		NextID:      1,
	}
}

func (s *Store) decode(raw string) State {
	st := defaultState()

	var decoded State
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		s.logger.Warn("discarding malformed account state", logging.ErrorField(err))
		return st
	}

	if decoded.Accounts != nil {
		st.Accounts = decoded.Accounts
	}
	if decoded.AccountType != "" {
		st.AccountType = decoded.AccountType
	}
	st.NextID = decoded.NextID
	s.repair(&st)
	return st
}

// migrateLegacy reads the two-key layout. With neither key present it returns
// the defaults and writes nothing.
func (s *Store) migrateLegacy(ctx context.Context) (State, error) {
	st := defaultState()
	if s.key == legacyAccountsKey || s.key == legacyNextIDKey {
		return st, nil
	}

	rawAccounts, hasAccounts, err := s.storage.GetItem(ctx, legacyAccountsKey)
	if err != nil {
		return State{}, fmt.Errorf("failed to read legacy accounts: %w", err)
	}
	rawNextID, hasNextID, err := s.storage.GetItem(ctx, legacyNextIDKey)
	if err != nil {
		return State{}, fmt.Errorf("failed to read legacy next id: %w", err)
	}
	if !hasAccounts && !hasNextID {
		return st, nil
	}

	var migrated []string
	if hasAccounts {
		var accounts []Account
		if err := json.Unmarshal([]byte(rawAccounts), &accounts); err != nil {
			s.logger.Warn("discarding malformed legacy accounts, keeping the key", logging.ErrorField(err))
		} else {
			if accounts != nil {
				st.Accounts = accounts
			}
			migrated = append(migrated, legacyAccountsKey)
		}
	}
	if hasNextID {
		nextID, err := strconv.Atoi(strings.TrimSpace(rawNextID))
		if err != nil {
			s.logger.Warn("discarding malformed legacy next id, keeping the key",
				logging.String("value", rawNextID),
				logging.ErrorField(err),
			)
		} else {
			st.NextID = nextID
			migrated = append(migrated, legacyNextIDKey)
		}
	}
	s.repair(&st)

	blob, err := encodeState(st)
	if err != nil {
		return State{}, err
	}
	if err := s.storage.SetItem(ctx, s.key, blob); err != nil {
		return State{}, fmt.Errorf("failed to persist migrated account state: %w", err)
	}
	for _, key := range migrated {
		if err := s.storage.RemoveItem(ctx, key); err != nil {
			return State{}, fmt.Errorf("failed to remove legacy key %s: %w", key, err)
		}
	}

	s.logger.Info("migrated legacy account state",
		logging.Int("accounts", len(st.Accounts)),
		logging.Strings("removed_keys", migrated),
	)
	return st, nil
}

// repair fills defaults into decoded accounts and restores the id invariant:
// NextID must exceed every id in use.
func (s *Store) repair(st *State) {
	maxID := 0
	for i := range st.Accounts {
		account := &st.Accounts[i]
		if account.Labels == nil {
			account.Labels = []string{}
		}
		if account.Type == "" {
			account.Type = DefaultAccountType
		}
		if account.ID > maxID {
			maxID = account.ID
		}
	}

	if st.NextID <= maxID {
		s.logger.Warn("next id behind stored accounts, advancing",
			logging.Int("next_id", st.NextID),
			logging.Int("max_id", maxID),
		)
		st.NextID = maxID + 1
	}
	if st.NextID < 1 {
		st.NextID = 1
	}
}
