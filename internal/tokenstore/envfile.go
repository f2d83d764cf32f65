package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/ligustah/dsfetch/internal/auth"
)

// Keys written to the .env file.
const (
	KeyAccessToken  = "COPERNICUS_ACCESS_TOKEN"
	KeyRefreshToken = "COPERNICUS_REFRESH_TOKEN"
	KeyObtainedAt   = "COPERNICUS_TOKEN_OBTAINED_AT"
)

// EnvFile keeps tokens in a dotenv file next to the user's other
// settings. Unrelated keys in the file are preserved on save; comments
// and ordering are not.
type EnvFile struct {
	path string
	mu   sync.Mutex
}

// NewEnvFile returns a store backed by the dotenv file at path.
func NewEnvFile(path string) *EnvFile {
	return &EnvFile{path: path}
}

// Path returns the file the store reads and writes.
func (s *EnvFile) Path() string {
	return s.path
}

// Load reads the token keys from the file.
func (s *EnvFile) Load(ctx context.Context) (auth.TokenState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.read()
	if err != nil {
		return auth.TokenState{}, err
	}

	tok := auth.TokenState{
		AccessToken:  env[KeyAccessToken],
		RefreshToken: env[KeyRefreshToken],
	}
	if !tok.Valid() {
		return auth.TokenState{}, fmt.Errorf("%s: %w", s.path, auth.ErrNoToken)
	}
	if v := env[KeyObtainedAt]; v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			tok.ObtainedAt = t
		}
	}
	return tok, nil
}

// Save replaces the token keys in the file, creating it if needed.
// The file is rewritten through a temporary file and rename.
func (s *EnvFile) Save(ctx context.Context, tok auth.TokenState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.read()
	if err != nil {
		return err
	}

	env[KeyAccessToken] = tok.AccessToken
	if tok.RefreshToken != "" {
		env[KeyRefreshToken] = tok.RefreshToken
	} else {
		delete(env, KeyRefreshToken)
	}
	if !tok.ObtainedAt.IsZero() {
		env[KeyObtainedAt] = tok.ObtainedAt.UTC().Format(time.RFC3339)
	}

	tmp := s.path + ".tmp"
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create token directory: %w", err)
		}
	}
	if err := godotenv.Write(env, tmp); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Chmod(tmp, 0o600); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("chmod %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

func (s *EnvFile) read() (map[string]string, error) {
	env, err := godotenv.Read(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return env, nil
}
