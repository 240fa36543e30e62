package resolver

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"
)

// Ledger records completed installs in installs.db at the cache root. The
// blake3 receipt of the entrypoint lets Resolve trust a cached install
// without re-downloading.
type Ledger struct {
	db *sql.DB
}

// Install is one ledger row.
type Install struct {
	Coordinate  string
	Version     string
	OS          string
	Arch        string
	URL         string
	SHA256      string
	Entrypoint  string
	Receipt     string
	InstalledAt time.Time
}

// OpenLedger opens (and creates if needed) the install ledger.
func OpenLedger(ctx context.Context, root string) (*Ledger, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	path := filepath.Join(root, "installs.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(pctx, `CREATE TABLE IF NOT EXISTS installs (
  coordinate   TEXT NOT NULL,
  version      TEXT NOT NULL,
  os           TEXT NOT NULL,
  arch         TEXT NOT NULL,
  url          TEXT NOT NULL,
  sha256       TEXT,
  entrypoint   TEXT NOT NULL,
  receipt      TEXT NOT NULL,
  installed_at TEXT NOT NULL,
  PRIMARY KEY (coordinate, version, os, arch)
);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record upserts an install row.
func (l *Ledger) Record(ctx context.Context, in Install) error {
	_, err := l.db.ExecContext(ctx, `
INSERT INTO installs(coordinate, version, os, arch, url, sha256, entrypoint, receipt, installed_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(coordinate, version, os, arch) DO UPDATE SET
  url = excluded.url,
  sha256 = excluded.sha256,
  entrypoint = excluded.entrypoint,
  receipt = excluded.receipt,
  installed_at = excluded.installed_at;
`, in.Coordinate, in.Version, in.OS, in.Arch, in.URL, in.SHA256, in.Entrypoint, in.Receipt,
		in.InstalledAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record install: %w", err)
	}
	return nil
}

// Get returns the recorded install, if any.
func (l *Ledger) Get(ctx context.Context, coordinate, version string, p Platform) (*Install, error) {
	row := l.db.QueryRowContext(ctx, `
SELECT coordinate, version, os, arch, url, sha256, entrypoint, receipt, installed_at
FROM installs
WHERE coordinate = ? AND version = ? AND os = ? AND arch = ?;
`, coordinate, version, p.OS, p.Arch)

	var in Install
	var sha sql.NullString
	var installedAt string
	err := row.Scan(&in.Coordinate, &in.Version, &in.OS, &in.Arch, &in.URL, &sha,
		&in.Entrypoint, &in.Receipt, &installedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read install: %w", err)
	}
	if sha.Valid {
		in.SHA256 = sha.String
	}
	if t, err := time.Parse(time.RFC3339Nano, installedAt); err == nil {
		in.InstalledAt = t
	}
	return &in, nil
}

// receiptOf hashes a file with blake3 for the install receipt.
func receiptOf(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
