package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTokenURL is the Copernicus Data Space identity provider token endpoint.
	DefaultTokenURL = "https://identity.dataspace.copernicus.eu/auth/realms/CDSE/protocol/openid-connect/token"
	// DefaultClientID is the public client registered for password grants.
	DefaultClientID = "cdse-public"
)

// Credentials identify the account used for password grants.
// They are supplied once and never change for the life of a Manager.
type Credentials struct {
	Username string
	Password string
}

// TokenState is one result of a credential exchange.
type TokenState struct {
	AccessToken  string
	RefreshToken string
	ObtainedAt   time.Time
}

// Valid reports whether the state carries an access token.
func (t TokenState) Valid() bool {
	return t.AccessToken != ""
}

// Store persists the current TokenState between runs.
type Store interface {
	// Load returns the stored token, or an error wrapping ErrNoToken.
	Load(ctx context.Context) (TokenState, error)
	Save(ctx context.Context, tok TokenState) error
}

// Options configures a Manager.
type Options struct {
	// TokenURL is the identity provider token endpoint.
	// Default: DefaultTokenURL
	TokenURL string

	// ClientID is sent with every grant.
	// Default: DefaultClientID
	ClientID string

	// HTTPClient performs the exchanges. Default: http.DefaultClient
	HTTPClient *http.Client

	// Store receives every new token. Optional.
	Store Store
}

// Manager owns the current TokenState. Readers take snapshots with
// Current; only exchanges replace the state, one at a time.
type Manager struct {
	creds  Credentials
	opts   Options
	oauth  *oauth2.Config
	now    func() time.Time
	flight singleflight.Group

	// exchangeMu serializes grants even across different flight keys.
	exchangeMu sync.Mutex

	mu      sync.RWMutex
	current TokenState

	exchanges atomic.Int64
}

// NewManager creates a token manager for the given credentials.
func NewManager(creds Credentials, opts Options) *Manager {
	if opts.TokenURL == "" {
		opts.TokenURL = DefaultTokenURL
	}
	if opts.ClientID == "" {
		opts.ClientID = DefaultClientID
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Manager{
		creds: creds,
		opts:  opts,
		oauth: &oauth2.Config{
			ClientID: opts.ClientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  opts.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		now: time.Now,
	}
}

// Seed installs a token obtained elsewhere (for example from the
// environment) without an exchange. An invalid token is ignored.
func (m *Manager) Seed(tok TokenState) {
	if !tok.Valid() {
		return
	}
	m.mu.Lock()
	m.current = tok
	m.mu.Unlock()
}

// Current returns a snapshot of the current token. It is the zero value
// before the first Seed, Ensure or Acquire.
func (m *Manager) Current() TokenState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Exchanges returns how many grants this manager has performed.
func (m *Manager) Exchanges() int64 {
	return m.exchanges.Load()
}

// Ensure returns a usable token, preferring the seeded token, then the
// stored one, and only then performing a fresh exchange.
func (m *Manager) Ensure(ctx context.Context) (TokenState, error) {
	if cur := m.Current(); cur.Valid() {
		return cur, nil
	}

	if m.opts.Store != nil {
		tok, err := m.opts.Store.Load(ctx)
		switch {
		case err == nil && tok.Valid():
			m.Seed(tok)
			log.WithField("obtained_at", tok.ObtainedAt.Format(time.RFC3339)).Debug("reusing stored access token")
			return tok, nil
		case err != nil && !errors.Is(err, ErrNoToken):
			log.WithError(err).Warn("failed to load stored token, exchanging credentials")
		}
	}

	return m.Acquire(ctx)
}

// Acquire performs a password grant and installs the result.
func (m *Manager) Acquire(ctx context.Context) (TokenState, error) {
	return m.do(ctx, "acquire", func() (TokenState, bool) {
		return TokenState{}, false
	})
}

// Refresh replaces stale with a new token. This is a full credential
// exchange, not a refresh-token grant.
//
// Concurrent callers holding the same stale token share one exchange,
// and a caller whose stale token was already superseded gets the current
// token back without any exchange.
func (m *Manager) Refresh(ctx context.Context, stale TokenState) (TokenState, error) {
	return m.do(ctx, "refresh:"+stale.AccessToken, func() (TokenState, bool) {
		cur := m.Current()
		if cur.Valid() && cur.AccessToken != stale.AccessToken {
			return cur, true
		}
		return TokenState{}, false
	})
}

func (m *Manager) do(ctx context.Context, key string, superseded func() (TokenState, bool)) (TokenState, error) {
	ch := m.flight.DoChan(key, func() (any, error) {
		m.exchangeMu.Lock()
		defer m.exchangeMu.Unlock()

		if tok, ok := superseded(); ok {
			return tok, nil
		}
		// The exchange outlives any single caller giving up on it.
		return m.exchange(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return TokenState{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return TokenState{}, res.Err
		}
		return res.Val.(TokenState), nil
	}
}

// exchange runs one password grant. Callers hold exchangeMu.
func (m *Manager) exchange(ctx context.Context) (TokenState, error) {
	if m.creds.Username == "" || m.creds.Password == "" {
		return TokenState{}, &AuthError{Reason: "missing username or password"}
	}

	m.exchanges.Add(1)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.opts.HTTPClient)

	tok, err := m.oauth.PasswordCredentialsToken(ctx, m.creds.Username, m.creds.Password)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return TokenState{}, &AuthError{
				Reason:     "credential exchange rejected",
				StatusCode: re.Response.StatusCode,
				Err:        err,
			}
		}
		return TokenState{}, &AuthError{Reason: "credential exchange failed", Err: err}
	}
	if tok.AccessToken == "" {
		return TokenState{}, &AuthError{Reason: "response missing access_token"}
	}

	state := TokenState{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ObtainedAt:   m.now(),
	}

	m.mu.Lock()
	m.current = state
	m.mu.Unlock()

	log.WithField("exchange", m.exchanges.Load()).Info("obtained new access token")

	if m.opts.Store != nil {
		if err := m.opts.Store.Save(ctx, state); err != nil {
			log.WithError(err).Warn("failed to persist access token")
		}
	}

	return state, nil
}
