package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type tokenServer struct {
	*httptest.Server
	calls atomic.Int64
	delay time.Duration
}

func newTokenServer(t *testing.T, delay time.Duration) *tokenServer {
	t.Helper()
	ts := &tokenServer{delay: delay}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "password" {
			t.Errorf("expected password grant, got %q", r.PostForm.Get("grant_type"))
		}
		if r.PostForm.Get("client_id") != DefaultClientID {
			t.Errorf("expected client_id %q, got %q", DefaultClientID, r.PostForm.Get("client_id"))
		}
		if r.PostForm.Get("username") != "user" || r.PostForm.Get("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}

		n := ts.calls.Add(1)
		time.Sleep(ts.delay)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%d","refresh_token":"ref-%d","token_type":"Bearer","expires_in":600}`, n, n)
	}))
	t.Cleanup(ts.Close)
	return ts
}

type memStore struct {
	mu    sync.Mutex
	tok   TokenState
	saves int
}

func (s *memStore) Load(ctx context.Context) (TokenState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tok.Valid() {
		return TokenState{}, ErrNoToken
	}
	return s.tok, nil
}

func (s *memStore) Save(ctx context.Context, tok TokenState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = tok
	s.saves++
	return nil
}

func TestAcquire(t *testing.T) {
	server := newTokenServer(t, 0)
	store := &memStore{}

	m := NewManager(Credentials{Username: "user", Password: "secret"}, Options{
		TokenURL: server.URL,
		Store:    store,
	})

	tok, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if tok.AccessToken != "tok-1" || tok.RefreshToken != "ref-1" {
		t.Errorf("unexpected token %+v", tok)
	}
	if tok.ObtainedAt.IsZero() {
		t.Error("expected ObtainedAt to be set")
	}
	if m.Current() != tok {
		t.Error("expected Current to return the acquired token")
	}
	if store.saves != 1 || store.tok != tok {
		t.Errorf("expected token to be persisted once, saves=%d", store.saves)
	}
}

func TestAcquireRejected(t *testing.T) {
	server := newTokenServer(t, 0)

	m := NewManager(Credentials{Username: "user", Password: "wrong"}, Options{TokenURL: server.URL})
	_, err := m.Acquire(context.Background())

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", authErr.StatusCode)
	}
	if m.Current().Valid() {
		t.Error("expected no current token after a rejected exchange")
	}
}

func TestAcquireMissingAccessToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"refresh_token":"ref"}`)
	}))
	defer server.Close()

	m := NewManager(Credentials{Username: "user", Password: "secret"}, Options{TokenURL: server.URL})
	_, err := m.Acquire(context.Background())

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestAcquireMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{not json`)
	}))
	defer server.Close()

	m := NewManager(Credentials{Username: "user", Password: "secret"}, Options{TokenURL: server.URL})
	_, err := m.Acquire(context.Background())

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestAcquireMissingCredentials(t *testing.T) {
	server := newTokenServer(t, 0)

	m := NewManager(Credentials{}, Options{TokenURL: server.URL})
	_, err := m.Acquire(context.Background())

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if server.calls.Load() != 0 {
		t.Errorf("expected no exchange without credentials, got %d", server.calls.Load())
	}
}

func TestEnsurePrefersSeededThenStored(t *testing.T) {
	server := newTokenServer(t, 0)
	creds := Credentials{Username: "user", Password: "secret"}

	seeded := NewManager(creds, Options{TokenURL: server.URL})
	seeded.Seed(TokenState{AccessToken: "from-env"})
	tok, err := seeded.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if tok.AccessToken != "from-env" {
		t.Errorf("expected seeded token, got %q", tok.AccessToken)
	}

	store := &memStore{tok: TokenState{AccessToken: "from-store"}}
	stored := NewManager(creds, Options{TokenURL: server.URL, Store: store})
	tok, err = stored.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if tok.AccessToken != "from-store" {
		t.Errorf("expected stored token, got %q", tok.AccessToken)
	}

	if server.calls.Load() != 0 {
		t.Errorf("expected no exchanges, got %d", server.calls.Load())
	}

	fresh := NewManager(creds, Options{TokenURL: server.URL, Store: &memStore{}})
	tok, err = fresh.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if tok.AccessToken != "tok-1" {
		t.Errorf("expected exchanged token, got %q", tok.AccessToken)
	}
}

func TestRefreshSingleFlight(t *testing.T) {
	server := newTokenServer(t, 50*time.Millisecond)

	m := NewManager(Credentials{Username: "user", Password: "secret"}, Options{TokenURL: server.URL})
	stale := TokenState{AccessToken: "expired"}
	m.Seed(stale)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]TokenState, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Refresh(context.Background(), stale)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].AccessToken != "tok-1" {
			t.Errorf("caller %d: expected tok-1, got %q", i, results[i].AccessToken)
		}
	}
	if got := server.calls.Load(); got != 1 {
		t.Errorf("expected exactly one exchange, got %d", got)
	}
	if m.Exchanges() != 1 {
		t.Errorf("expected Exchanges() == 1, got %d", m.Exchanges())
	}
}

func TestRefreshSupersededToken(t *testing.T) {
	server := newTokenServer(t, 0)

	m := NewManager(Credentials{Username: "user", Password: "secret"}, Options{TokenURL: server.URL})
	first, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	second, err := m.Refresh(context.Background(), first)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.AccessToken != "tok-2" {
		t.Fatalf("expected tok-2, got %q", second.AccessToken)
	}

	// A late caller still holding the first token gets the current one.
	late, err := m.Refresh(context.Background(), first)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if late != second {
		t.Errorf("expected %q, got %q", second.AccessToken, late.AccessToken)
	}
	if server.calls.Load() != 2 {
		t.Errorf("expected 2 exchanges, got %d", server.calls.Load())
	}
}

func TestRefreshCallerCancelled(t *testing.T) {
	server := newTokenServer(t, 200*time.Millisecond)

	m := NewManager(Credentials{Username: "user", Password: "secret"}, Options{TokenURL: server.URL})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.Refresh(ctx, TokenState{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
