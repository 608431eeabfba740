package gridstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"digital.vasic.brocoli/pkg/grid"
)

// adminUser owns the zone root collections and bypasses access checks.
const adminUser = "rods"

// AddUser registers a user and creates its home collection. The user gets
// read access on the zone root collections and own access on its home.
func (s *Store) AddUser(ctx context.Context, name, password string, admin bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" {
		return errors.New("user name is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	home := s.HomePath(name)
	now := time.Now().UTC()
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(userKey(name)); err == nil {
			return grid.NewError(grid.CodeAlreadyExists, name)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, userKey(name), &userRecord{Name: name, PasswordHash: hash, Admin: admin}); err != nil {
			return err
		}
		for _, p := range []string{"/", "/" + s.config.Zone, paths.Dir(home)} {
			if err := txn.Set(aclKey(p, name), []byte(grid.LevelRead)); err != nil {
				return err
			}
		}
		if _, err := txn.Get(collKey(home)); errors.Is(err, badger.ErrKeyNotFound) {
			if err := setJSON(txn, collKey(home), &collRecord{Path: home, Owner: name, ModTime: now}); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		return txn.Set(aclKey(home, name), []byte(grid.LevelOwn))
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("user", name).Str("home", home).Msg("user added")
	return nil
}

// SetPassword replaces the password of an existing user.
func (s *Store) SetPassword(ctx context.Context, name, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		var rec userRecord
		if err := getJSON(txn, userKey(name), &rec); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("unknown user %s", name)
			}
			return err
		}
		rec.PasswordHash = hash
		return setJSON(txn, userKey(name), &rec)
	})
}

// Users lists the registered user names in order.
func (s *Store) Users(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, []byte("u:"), func(key, _ []byte) error {
			names = append(names, string(key[len("u:"):]))
			return nil
		})
	})
	return names, err
}

// Login authenticates a user and returns a session sharing the store.
func (s *Store) Login(ctx context.Context, name, password string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec userRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(name), &rec)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, grid.NewError(grid.CodeInvalidAuthentication, "")
	}
	if err != nil {
		return nil, sqlError("", err)
	}
	if err := bcrypt.CompareHashAndPassword(rec.PasswordHash, []byte(password)); err != nil {
		return nil, grid.NewError(grid.CodeInvalidAuthentication, "")
	}
	s.log.Debug().Str("user", name).Msg("login")
	return &Session{store: s, user: name, admin: rec.Admin}, nil
}

// OpenSession opens the store described by config and logs in. Closing the
// session closes the store.
func OpenSession(ctx context.Context, config Config, name, password string, log zerolog.Logger) (*Session, error) {
	s, err := Open(ctx, config, log)
	if err != nil {
		return nil, err
	}
	sess, err := s.Login(ctx, name, password)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	sess.ownsStore = true
	return sess, nil
}
