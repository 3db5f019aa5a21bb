package fleet

import (
	"errors"
	"os"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	f, err := os.CreateTemp("", "armada-fleet-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_RegisterAndGet(t *testing.T) {
	store := newTestStore(t)

	a := &Agent{
		Name:         "builder-1",
		Host:         "10.0.0.4",
		Port:         22,
		User:         "ops",
		Workspace:    "/home/ops/agent",
		Capabilities: []string{"build", "deploy"},
		Description:  "build box with docker and terraform",
		SessionKey:   "sess-abc",
	}
	id, err := store.Register(a)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id == "" {
		t.Fatal("Register returned empty ID")
	}

	got, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "builder-1" {
		t.Errorf("Name = %q, want builder-1", got.Name)
	}
	if got.Status != StatusUnknown {
		t.Errorf("Status = %q, want unknown default", got.Status)
	}
	if len(got.Capabilities) != 2 || got.Capabilities[0] != "build" {
		t.Errorf("Capabilities = %v, want [build deploy]", got.Capabilities)
	}
	if got.SessionKey != "sess-abc" {
		t.Errorf("SessionKey = %q", got.SessionKey)
	}
}

func TestSQLiteStore_Get_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_Update(t *testing.T) {
	store := newTestStore(t)

	a := &Agent{Name: "w1", Workspace: "/srv/w1"}
	id, err := store.Register(a)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	a.Status = StatusOnline
	a.Capabilities = []string{"research"}
	if err := store.Update(a); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusOnline {
		t.Errorf("Status = %q, want online", got.Status)
	}
	if len(got.Capabilities) != 1 || got.Capabilities[0] != "research" {
		t.Errorf("Capabilities = %v", got.Capabilities)
	}
}

func TestSQLiteStore_Update_NotFound(t *testing.T) {
	store := newTestStore(t)
	a := &Agent{ID: "ghost", Name: "x"}
	if err := store.Update(a); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_ListOrder(t *testing.T) {
	store := newTestStore(t)

	for _, name := range []string{"a", "b", "c"} {
		if _, err := store.Register(&Agent{Name: name}); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}

	agents, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(agents) != 3 {
		t.Fatalf("len = %d, want 3", len(agents))
	}
}

func TestSQLiteStore_Remove(t *testing.T) {
	store := newTestStore(t)

	id, err := store.Register(&Agent{Name: "gone"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := store.Remove(id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := store.Get(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after remove", err)
	}
	if err := store.Remove(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Remove err = %v, want ErrNotFound", err)
	}
}
