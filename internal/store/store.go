// Package store persists OAuth2 token files. FileTokenStore writes straight to
// the auth directory; the git, Postgres and object-storage stores mirror the
// same files into a local spool directory and sync them with their backend so
// several hosts can share one login.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/odatalink/odatalink/internal/auth/oauth2"
	"github.com/odatalink/odatalink/internal/util"
)

// TokenStore saves and loads token files by name (e.g. "odata-acme.json").
// Load returns an error matching os.ErrNotExist when no tokens are stored.
type TokenStore interface {
	Save(ctx context.Context, name string, tokens *oauth2.Tokens) (string, error)
	Load(ctx context.Context, name string) (*oauth2.Tokens, error)
	Delete(ctx context.Context, name string) error
	AuthDir() string
}

var (
	storeMu         sync.RWMutex
	registeredStore TokenStore
)

// RegisterTokenStore sets the global token store used by the login and ODP commands.
func RegisterTokenStore(store TokenStore) {
	storeMu.Lock()
	registeredStore = store
	storeMu.Unlock()
}

// GetTokenStore returns the registered store, or a FileTokenStore rooted at
// authDir when none was registered.
func GetTokenStore(authDir string) TokenStore {
	storeMu.RLock()
	s := registeredStore
	storeMu.RUnlock()
	if s != nil {
		return s
	}
	return NewFileTokenStore(authDir)
}

// FileTokenStore keeps token files in a local directory.
type FileTokenStore struct {
	dir string
}

// NewFileTokenStore creates a store rooted at dir.
func NewFileTokenStore(dir string) *FileTokenStore {
	return &FileTokenStore{dir: dir}
}

// AuthDir returns the directory token files are written to.
func (s *FileTokenStore) AuthDir() string {
	return s.dir
}

// Save writes tokens to dir/name.
func (s *FileTokenStore) Save(_ context.Context, name string, tokens *oauth2.Tokens) (string, error) {
	path, err := resolveTokenPath(s.dir, name)
	if err != nil {
		return "", err
	}
	if tokens == nil {
		return "", fmt.Errorf("file store: tokens are nil")
	}
	if err = tokens.SaveToFile(path); err != nil {
		return "", err
	}
	return path, nil
}

// Load reads dir/name.
func (s *FileTokenStore) Load(_ context.Context, name string) (*oauth2.Tokens, error) {
	path, err := resolveTokenPath(s.dir, name)
	if err != nil {
		return nil, err
	}
	return oauth2.LoadTokensFromFile(path)
}

// Delete removes dir/name. A missing file is not an error.
func (s *FileTokenStore) Delete(_ context.Context, name string) error {
	path, err := resolveTokenPath(s.dir, name)
	if err != nil {
		return err
	}
	if err = os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file store: delete token file: %w", err)
	}
	return nil
}

// resolveTokenPath joins dir and name, rejecting names that would escape dir.
func resolveTokenPath(dir, name string) (string, error) {
	name = strings.TrimSpace(name)
	if err := util.ValidateRequired("token file name", name); err != nil {
		return "", err
	}
	if name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("token file name %q must not contain path separators", name)
	}
	if !strings.HasSuffix(strings.ToLower(name), ".json") {
		return "", fmt.Errorf("token file name %q must end in .json", name)
	}
	return filepath.Join(dir, name), nil
}

// prepareSpool creates root/auths with 0700 and returns its absolute path.
// An empty root defaults to cwd/<fallback>.
func prepareSpool(root, fallback string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		if cwd, err := os.Getwd(); err == nil {
			root = filepath.Join(cwd, fallback)
		} else {
			root = filepath.Join(os.TempDir(), fallback)
		}
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve spool directory: %w", err)
	}
	authDir := filepath.Join(absRoot, "auths")
	if err = os.MkdirAll(authDir, 0o700); err != nil {
		return "", fmt.Errorf("create auth directory: %w", err)
	}
	return authDir, nil
}

// writeSpoolFile atomically replaces path with data.
func writeSpoolFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, normalizeLineEndingsBytes(data), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func normalizeLineEndingsBytes(data []byte) []byte {
	return []byte(strings.ReplaceAll(string(data), "\r\n", "\n"))
}
