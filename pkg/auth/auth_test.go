package auth

import (
	"errors"
	"path/filepath"
	"testing"

	"go.etcd.io/bbolt"

	"github.com/CesarPetrescu/CrabSQL/pkg/catalog"
)

func setupAuth(t *testing.T, enabled bool) *Manager {
	t.Helper()
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "auth.db"), 0o600, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	cat, err := catalog.Open(db)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(cat.Close)
	return NewManager(cat, enabled)
}

func TestAuthenticateRoundTrip(t *testing.T) {
	m := setupAuth(t, true)
	if err := m.CreateUser("alice", "s3cret"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := m.Authenticate("alice", "s3cret"); err != nil {
		t.Fatalf("valid login rejected: %v", err)
	}
	if err := m.Authenticate("alice", "wrong"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("wrong password: got %v, want ErrAccessDenied", err)
	}
	if err := m.Authenticate("mallory", "s3cret"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("unknown user: got %v, want ErrAccessDenied", err)
	}
}

func TestDisabledAuthAcceptsAnyone(t *testing.T) {
	m := setupAuth(t, false)
	if err := m.Authenticate("anyone", "anything"); err != nil {
		t.Fatalf("disabled auth rejected a login: %v", err)
	}
}

func TestDropUser(t *testing.T) {
	m := setupAuth(t, true)
	if err := m.CreateUser("bob", "pw"); err != nil {
		t.Fatal(err)
	}
	if err := m.DropUser("bob"); err != nil {
		t.Fatal(err)
	}
	if err := m.Authenticate("bob", "pw"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("dropped user can still log in: %v", err)
	}
}
