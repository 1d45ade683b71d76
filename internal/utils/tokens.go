package utils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var (
	// ErrInvalidAPIKey signals that the provided API key is not known.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrTokenStoreNotReady signals that the token store has not been
	// loaded yet, e.g. during startup while the DB is unreachable.
	ErrTokenStoreNotReady = errors.New("token store not ready")
)

var apiKeys struct {
	sync.RWMutex
	cache map[string]int // token -> per-token rate limit
}

var tokenDB struct {
	sync.Mutex
	dsn string
	db  *sql.DB
}

// PostgresDSN builds a postgres:// DSN from the given config. A Host that
// already looks like a DSN is passed through unchanged.
func PostgresDSN(cfg PostgresConfig) (string, error) {
	if strings.HasPrefix(cfg.Host, "postgres://") || strings.HasPrefix(cfg.Host, "postgresql://") {
		return cfg.Host, nil
	}
	switch {
	case cfg.Host == "":
		return "", errors.New("postgres host is empty")
	case cfg.Database == "":
		return "", errors.New("postgres database is empty")
	case cfg.User == "":
		return "", errors.New("postgres user is empty")
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	host := cfg.Host
	if !strings.Contains(host, ":") {
		host = fmt.Sprintf("%s:%d", host, port)
	}

	u := &url.URL{Scheme: "postgres", Host: host, Path: "/" + cfg.Database}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	} else {
		u.User = url.User(cfg.User)
	}
	if cfg.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", cfg.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func getTokenDB(cfg PostgresConfig) (*sql.DB, error) {
	dsn, err := PostgresDSN(cfg)
	if err != nil {
		return nil, err
	}

	tokenDB.Lock()
	defer tokenDB.Unlock()

	if tokenDB.db != nil && tokenDB.dsn == dsn {
		return tokenDB.db, nil
	}
	if tokenDB.db != nil {
		_ = tokenDB.db.Close()
		tokenDB.db = nil
		tokenDB.dsn = ""
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Small control-plane table; keep the pool tiny.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	tokenDB.db = db
	tokenDB.dsn = dsn
	return tokenDB.db, nil
}

func ensureTokensSchema(cfg PostgresConfig) error {
	db, err := getTokenDB(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS tokens (
		token TEXT PRIMARY KEY,
		rate_limit INTEGER NOT NULL DEFAULT 60,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		comment TEXT
	);`)
	return err
}

// LoadTokensFromPostgres reads all API tokens and their rate limits from
// Postgres into the in-memory cache consulted by the auth middleware.
func LoadTokensFromPostgres(cfg PostgresConfig) error {
	if err := ensureTokensSchema(cfg); err != nil {
		return err
	}
	db, err := getTokenDB(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := db.QueryContext(ctx, `SELECT token, rate_limit FROM tokens;`)
	if err != nil {
		return err
	}
	defer rows.Close()

	cache := make(map[string]int)
	for rows.Next() {
		var token string
		var limit int
		if err := rows.Scan(&token, &limit); err != nil {
			return err
		}
		cache[token] = limit
	}
	if err := rows.Err(); err != nil {
		return err
	}

	apiKeys.Lock()
	apiKeys.cache = cache
	apiKeys.Unlock()
	return nil
}

// LoadTokensFromMap replaces the token cache with the provided map.
// Intended for tests and local debugging.
func LoadTokensFromMap(m map[string]int) {
	cache := make(map[string]int, len(m))
	for k, v := range m {
		cache[k] = v
	}
	apiKeys.Lock()
	apiKeys.cache = cache
	apiKeys.Unlock()
}

// TokensReady reports whether the token cache has been loaded at least once.
func TokensReady() bool {
	apiKeys.RLock()
	defer apiKeys.RUnlock()
	return apiKeys.cache != nil
}

// ValidateToken reports whether the given token is known.
func ValidateToken(token string) bool {
	apiKeys.RLock()
	defer apiKeys.RUnlock()
	_, ok := apiKeys.cache[token]
	return ok
}

// GetRateLimit returns the per-token rate limit, or 0 for unknown tokens
// which effectively disables token-based limiting.
func GetRateLimit(token string) int {
	apiKeys.RLock()
	defer apiKeys.RUnlock()
	return apiKeys.cache[token]
}

// RefreshTokensPeriodically reloads the token list from Postgres at the
// given interval until the stop channel is closed.
func RefreshTokensPeriodically(cfg PostgresConfig, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := LoadTokensFromPostgres(cfg); err != nil {
				Error("Failed to reload API tokens", "error", err)
			}
		case <-stop:
			return
		}
	}
}
