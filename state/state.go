// Package state persists the small bits of stagehand state that must survive
// a restart. Today that is just the feed dedup cursor.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// State is the persisted document. LastPostGUID is the GUID of the newest feed
// item we have already seen; empty means cold start.
type State struct {
	LastPostGUID string `json:"lastTweetGuid"`
}

// Store reads and writes the state file. Writes are whole-file rewrites via a
// temp file and rename so a crash mid-write never leaves a torn file.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the persisted state. A missing file is a normal first run; an
// unparseable file is logged and treated the same, which at worst skips one
// notification rather than duplicating it.
func (s *Store) Load() State {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Info("no state file found, starting fresh", slog.String("path", s.path))
		} else {
			slog.Error("failed to read state file", slog.String("path", s.path), slog.Any("err", err))
		}
		return State{}
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		slog.Error("failed to parse state file, starting fresh", slog.String("path", s.path), slog.Any("err", err))
		return State{}
	}
	return st
}

// Save atomically replaces the state file.
func (s *Store) Save(st State) error {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
