package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newResolver(t *testing.T, handler http.HandlerFunc) *Resolver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(WithProfileURL(srv.URL), WithClient(srv.Client()))
}

func TestResolve_ExtractsID(t *testing.T) {
	r := newResolver(t, func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?><profile><steamID64>76561198012345678</steamID64></profile>`))
	})

	id, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "76561198012345678" {
		t.Fatalf("id = %q, want 76561198012345678", id)
	}
}

func TestResolve_LoggedOutIsNotAnError(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no tag at all", `<html><body>sign in</body></html>`},
		{"empty tag", `<steamID64></steamID64>`},
		{"too few digits", `<steamID64>1234567890123456</steamID64>`},
		{"non-numeric", `<steamID64>abcdefghijklmnopq</steamID64>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newResolver(t, func(w http.ResponseWriter, req *http.Request) {
				w.Write([]byte(tt.body))
			})
			id, err := r.Resolve(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id != "" {
				t.Fatalf("id = %q, want zero SteamID", id)
			}
		})
	}
}

func TestResolve_NonSuccessStatusIsAnError(t *testing.T) {
	r := newResolver(t, func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	})

	if _, err := r.Resolve(context.Background()); err == nil {
		t.Fatal("expected an error for non-2xx status")
	}
}

func TestResolve_NotCachedBetweenCalls(t *testing.T) {
	calls := 0
	r := newResolver(t, func(w http.ResponseWriter, req *http.Request) {
		calls++
		w.Write([]byte(`<steamID64>76561198012345678</steamID64>`))
	})

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 3 {
		t.Fatalf("profile fetched %d times, want 3 (no caching)", calls)
	}
}
