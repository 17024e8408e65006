// Package registry persists per-user session state across orchestrator
// restarts. Each user maps to one small JSON document under a root
// directory; the wire shape is the save/restore contract consumed by the
// external session registry: {"pid": ..., "remote_ip": ...}.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// State is the persistable identity of one session. Absent pid means no
// session to restore.
type State struct {
	SessionID string `json:"session_id,omitempty"`
	PID       int    `json:"pid,omitempty"`
	RemoteIP  string `json:"remote_ip,omitempty"`
}

// Empty reports whether the state records no session.
func (s State) Empty() bool { return s.PID == 0 }

// Registry stores one State document per user under rootDir.
type Registry struct {
	rootDir string

	mu sync.Mutex
}

func New(rootDir string) *Registry {
	return &Registry{rootDir: rootDir}
}

// Save writes the user's state atomically (temp file + rename).
func (r *Registry) Save(user string, st State) error {
	path, err := r.path(user)
	if err != nil {
		return err
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.MkdirAll(r.rootDir, 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads the user's state. A missing document returns (State{}, false, nil).
func (r *Registry) Load(user string) (State, bool, error) {
	path, err := r.path(user)
	if err != nil {
		return State{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, false, fmt.Errorf("parse state for %s: %w", user, err)
	}
	return st, true, nil
}

// Clear removes the user's state. Clearing an absent document is a no-op.
func (r *Registry) Clear(user string) error {
	path, err := r.path(user)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (r *Registry) path(user string) (string, error) {
	if strings.TrimSpace(user) == "" {
		return "", fmt.Errorf("user is required")
	}
	if strings.ContainsAny(user, `/\`) || user == "." || user == ".." {
		return "", fmt.Errorf("invalid user %q", user)
	}
	return filepath.Join(r.rootDir, user+".json"), nil
}
