// Package auth stores user records with bcrypt password hashes.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/CesarPetrescu/CrabSQL/pkg/catalog"
)

// ErrAccessDenied covers unknown users and wrong passwords, without
// distinguishing the two.
var ErrAccessDenied = errors.New("access denied")

// UserRecord is one stored account.
type UserRecord struct {
	Name string `json:"name"`
	Hash []byte `json:"hash"`
}

// Manager verifies credentials against user records in the catalog.
type Manager struct {
	cat     *catalog.Catalog
	enabled bool
}

// NewManager wraps the catalog's user bucket. When disabled, every
// login succeeds.
func NewManager(cat *catalog.Catalog, enabled bool) *Manager {
	return &Manager{cat: cat, enabled: enabled}
}

// Enabled reports whether authentication is enforced.
func (m *Manager) Enabled() bool { return m.enabled }

// CreateUser hashes the password and stores the record.
func (m *Manager) CreateUser(name, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	raw, err := json.Marshal(UserRecord{Name: name, Hash: hash})
	if err != nil {
		return err
	}
	return m.cat.PutUser(name, raw)
}

// DropUser removes an account.
func (m *Manager) DropUser(name string) error {
	return m.cat.DeleteUser(name)
}

// Authenticate checks a name/password pair.
func (m *Manager) Authenticate(name, password string) error {
	if !m.enabled {
		return nil
	}
	raw, err := m.cat.GetUser(name)
	if err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("%w for user %s", ErrAccessDenied, name)
	}
	var rec UserRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("decode user record: %w", err)
	}
	if bcrypt.CompareHashAndPassword(rec.Hash, []byte(password)) != nil {
		return fmt.Errorf("%w for user %s", ErrAccessDenied, name)
	}
	return nil
}
