package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/odatalink/odatalink/internal/auth/oauth2"
	"github.com/odatalink/odatalink/internal/util"
)

const defaultTokenTable = "odata_token_store"

// PostgresStoreConfig captures configuration required to initialize a Postgres-backed store.
type PostgresStoreConfig struct {
	DSN        string
	Schema     string
	TokenTable string
	SpoolDir   string
}

// PostgresStore keeps token files in a JSONB table and mirrors them to a local spool.
type PostgresStore struct {
	db      *sql.DB
	cfg     PostgresStoreConfig
	authDir string
	mu      sync.Mutex
}

// NewPostgresStore connects to PostgreSQL, prepares the spool and creates the
// token table if needed.
func NewPostgresStore(ctx context.Context, cfg PostgresStoreConfig) (*PostgresStore, error) {
	cfg, err := normalizePostgresConfig(cfg)
	if err != nil {
		return nil, err
	}
	authDir, err := prepareSpool(cfg.SpoolDir, "pgstore")
	if err != nil {
		return nil, fmt.Errorf("postgres store: %w", err)
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres store: open database connection: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres store: ping database: %w", err)
	}

	store := &PostgresStore{db: db, cfg: cfg, authDir: authDir}
	if err = store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func normalizePostgresConfig(cfg PostgresStoreConfig) (PostgresStoreConfig, error) {
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	if err := util.ValidateRequired("DSN", cfg.DSN); err != nil {
		return cfg, fmt.Errorf("postgres store: %w", err)
	}
	if strings.TrimSpace(cfg.TokenTable) == "" {
		cfg.TokenTable = defaultTokenTable
	}
	return cfg, nil
}

// Close releases the underlying database connection.
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AuthDir returns the local spool directory holding mirrored token files.
func (s *PostgresStore) AuthDir() string {
	return s.authDir
}

// EnsureSchema creates the token table (and schema when provided).
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store: not initialized")
	}
	if schema := strings.TrimSpace(s.cfg.Schema); schema != "" {
		query := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdentifier(schema))
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("postgres store: create schema: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, s.tableName())); err != nil {
		return fmt.Errorf("postgres store: create token table: %w", err)
	}
	return nil
}

// Save writes the token file to the spool and upserts it into the table.
func (s *PostgresStore) Save(ctx context.Context, name string, tokens *oauth2.Tokens) (string, error) {
	if tokens == nil {
		return "", fmt.Errorf("postgres store: tokens are nil")
	}
	path, err := resolveTokenPath(s.authDir, name)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = tokens.SaveToFile(path); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("postgres store: read token file: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, content, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (id)
		DO UPDATE SET content = EXCLUDED.content, updated_at = NOW()
	`, s.tableName())
	if _, err = s.db.ExecContext(ctx, query, name, string(data)); err != nil {
		return "", fmt.Errorf("postgres store: upsert token record: %w", err)
	}
	return path, nil
}

// Load fetches the token record, refreshes the spool copy and parses it.
func (s *PostgresStore) Load(ctx context.Context, name string) (*oauth2.Tokens, error) {
	path, err := resolveTokenPath(s.authDir, name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var content string
	query := fmt.Sprintf("SELECT content FROM %s WHERE id = $1", s.tableName())
	err = s.db.QueryRowContext(ctx, query, name).Scan(&content)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("postgres store: token %s: %w", name, os.ErrNotExist)
	case err != nil:
		return nil, fmt.Errorf("postgres store: load token record: %w", err)
	}
	if err = writeSpoolFile(path, []byte(content)); err != nil {
		return nil, fmt.Errorf("postgres store: mirror %s: %w", name, err)
	}
	return oauth2.LoadTokensFromFile(path)
}

// Delete removes the token record and its spool copy.
func (s *PostgresStore) Delete(ctx context.Context, name string) error {
	path, err := resolveTokenPath(s.authDir, name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("postgres store: delete token file: %w", err)
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.tableName())
	if _, err = s.db.ExecContext(ctx, query, name); err != nil {
		return fmt.Errorf("postgres store: delete token record: %w", err)
	}
	return nil
}

func (s *PostgresStore) tableName() string {
	if strings.TrimSpace(s.cfg.Schema) == "" {
		return quoteIdentifier(s.cfg.TokenTable)
	}
	return quoteIdentifier(s.cfg.Schema) + "." + quoteIdentifier(s.cfg.TokenTable)
}

func quoteIdentifier(identifier string) string {
	replaced := strings.ReplaceAll(identifier, "\"", "\"\"")
	return "\"" + replaced + "\""
}
