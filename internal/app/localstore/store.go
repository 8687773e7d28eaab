// Package localstore keeps the client's persisted UI prefs in a buntdb file.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/tidwall/buntdb"

	"chatsync/internal/app/chat"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
)

// InMemory opens a store that is discarded on Close.
const InMemory = ":memory:"

const prefsKey = "prefs"

// Store implements chat.Persister.
type Store struct {
	db *buntdb.DB
}

var _ chat.Persister = (*Store)(nil)

// Open opens or creates the store at path, creating its directory if needed.
func Open(path string) (*Store, error) {
	if path != InMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, errs.NewError(errs.ErrUnknown, err)
		}
	}

	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errs.NewError(errs.ErrUnknown, err)
	}

	logx.Debug("Opened local state store.", "path", path)
	return &Store{db: db}, nil
}

// Load returns the saved prefs. The bool is false when none are saved or they cannot be read.
func (s *Store) Load(_ context.Context) (chat.Prefs, bool, error) {
	var prefs chat.Prefs
	err := s.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(prefsKey)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(raw), &prefs)
	})

	switch {
	case errors.Is(err, buntdb.ErrNotFound):
		return chat.Prefs{}, false, nil
	case err != nil:
		logx.Warn("Discarding unreadable local state.", "error", err.Error())
		return chat.Prefs{}, false, nil
	}
	return prefs, true, nil
}

// Save replaces the saved prefs.
func (s *Store) Save(_ context.Context, prefs chat.Prefs) error {
	raw, err := json.Marshal(prefs)
	if err != nil {
		return errs.NewError(errs.ErrUnknown, err)
	}

	err = s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(prefsKey, string(raw), nil)
		return err
	})
	if err != nil {
		return errs.NewError(errs.ErrUnknown, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
