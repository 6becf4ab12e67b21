package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Kind identifies a backend.
type Kind string

const (
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
)

// ParseDSN classifies a DSN. "postgres://" and "postgresql://" URLs (and
// key=value strings containing dbname=) select PostgreSQL; "sqlite://path"
// or a bare filesystem path selects SQLite. For SQLite the returned target
// is the file path.
func ParseDSN(dsn string) (Kind, string, error) {
	dsn = strings.TrimSpace(dsn)

	switch {
	case dsn == "":
		return "", "", fmt.Errorf("%w: empty", ErrUnsupportedDSN)
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return KindPostgres, dsn, nil
	case strings.Contains(dsn, "dbname="):
		return KindPostgres, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return KindSQLite, strings.TrimPrefix(dsn, "sqlite://"), nil
	case strings.Contains(dsn, "://"):
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedDSN, Redact(dsn))
	default:
		return KindSQLite, dsn, nil
	}
}

// Open connects to the backend named by dsn and migrates its schema.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kind, target, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	if kind == KindPostgres {
		return OpenPostgres(ctx, target, logger)
	}

	if dir := filepath.Dir(target); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("store: creating directory %s: %w", dir, err)
		}
	}

	return OpenSQLite(ctx, target, logger)
}

// Redact hides the password of a URL-style DSN for logging.
func Redact(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}

	userinfo, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}

	user, _, hasPass := strings.Cut(userinfo, ":")
	if !hasPass {
		return dsn
	}

	return scheme + "://" + user + ":xxxxx@" + host
}
