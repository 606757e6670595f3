package rodhost

import (
	"context"
	"reflect"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/stashbridge/dbopen"
	"github.com/hazyhaar/stashbridge/host"
)

// setupStore creates an in-memory SQLite database with the registration
// schema.
func setupStore(t *testing.T) *SQLStore {
	t.Helper()
	db := dbopen.OpenMemory(t)

	s, err := NewSQLStore(db)
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	return s
}

func TestSQLStore_LoadAbsent(t *testing.T) {
	s := setupStore(t)
	reg, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if reg != nil {
		t.Fatalf("empty store returned %+v", reg)
	}
}

func TestSQLStore_SaveLoadRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	want := host.NewRegistration([]string{"https://a.com/*", "https://b.com/*"})
	if err := s.Save(ctx, want); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || !reflect.DeepEqual(*got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestSQLStore_SaveReplacesExisting(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, host.NewRegistration([]string{"https://a.com/*"})); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, host.NewRegistration([]string{"https://b.com/*"})); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.Matches, []string{"https://b.com/*"}) {
		t.Fatalf("matches = %v, want the replacement set", got.Matches)
	}
}

func TestSQLStore_DeleteIsIdempotent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, host.NewRegistration([]string{"https://a.com/*"})); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Delete(ctx); err != nil {
			t.Fatalf("delete %d: %v", i+1, err)
		}
	}
	reg, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if reg != nil {
		t.Fatalf("registration survived delete: %+v", reg)
	}
}

func TestMemStore(t *testing.T) {
	s := newMemStore()
	ctx := context.Background()

	if reg, _ := s.Load(ctx); reg != nil {
		t.Fatal("fresh store not empty")
	}
	if err := s.Save(ctx, host.NewRegistration([]string{"https://a.com/*"})); err != nil {
		t.Fatal(err)
	}
	reg, _ := s.Load(ctx)
	if reg == nil || len(reg.Matches) != 1 {
		t.Fatalf("got %+v", reg)
	}
	if err := s.Delete(ctx); err != nil {
		t.Fatal(err)
	}
	if reg, _ := s.Load(ctx); reg != nil {
		t.Fatal("delete did not clear the registration")
	}
}
