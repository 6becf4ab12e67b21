package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/MSBasha93/ETA-Invetcher/internal/invoice"
)

// File permissions for state files.
const (
	stateDirPerms  = 0o700
	stateFilePerms = 0o600
)

// State is the engine-written half of an account record. It lives next to
// the static config in the data dir and is rewritten once per finished run.
type State struct {
	OldestInvoiceDate string               `toml:"oldest_invoice_date,omitempty"`
	RetryQueue        []invoice.RetryEntry `toml:"retry_queue"`
	SkippedWindows    []invoice.Window     `toml:"skipped_windows"`
	UpdatedAt         time.Time            `toml:"updated_at"`
}

// LoadState reads a state file. A missing file yields an empty State.
func LoadState(path string) (State, error) {
	var st State

	if _, err := toml.DecodeFile(path, &st); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, nil
		}

		return State{}, fmt.Errorf("config: reading state %s: %w", path, err)
	}

	return st, nil
}

// SaveState writes a state file atomically (write-to-temp + rename).
func SaveState(path string, st State) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(st); err != nil {
		return fmt.Errorf("config: encoding state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, stateDirPerms); err != nil {
		return fmt.Errorf("config: creating state directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("config: creating temp state file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(stateFilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("config: setting state permissions: %w", err)
	}

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("config: writing state: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("config: syncing state: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: closing state: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("config: renaming state: %w", err)
	}

	success = true

	return nil
}

// StateDir loads and saves per-account state files under a data dir.
type StateDir struct {
	DataDir string
	nowFunc func() time.Time
}

// NewStateDir returns a StateDir rooted at dataDir.
func NewStateDir(dataDir string) *StateDir {
	return &StateDir{DataDir: dataDir, nowFunc: time.Now}
}

// LoadState reads the named account's state.
func (d *StateDir) LoadState(account string) (State, error) {
	return LoadState(StatePath(d.DataDir, account))
}

// SaveState stamps and writes the named account's state.
func (d *StateDir) SaveState(account string, st State) error {
	st.UpdatedAt = d.nowFunc().UTC()

	return SaveState(StatePath(d.DataDir, account), st)
}

// SetOldestInvoiceDate records a probed oldest date without touching the
// queues.
func (d *StateDir) SetOldestInvoiceDate(account string, day time.Time) error {
	st, err := d.LoadState(account)
	if err != nil {
		return err
	}

	st.OldestInvoiceDate = day.Format(invoice.DateLayout)

	return d.SaveState(account, st)
}

// OldestInvoiceDate returns the state's date if set, else the config's.
// The zero time means neither is known.
func OldestInvoiceDate(a Account, st State) (time.Time, error) {
	s := st.OldestInvoiceDate
	if s == "" {
		s = a.OldestInvoiceDate
	}

	if s == "" {
		return time.Time{}, nil
	}

	return invoice.ParseDay(s)
}
