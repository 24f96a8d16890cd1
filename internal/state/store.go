// Package state remembers the last plan opened against each server.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Session is the last plan opened against one server.
type Session struct {
	Server    string    `json:"server"`
	PlanID    int       `json:"plan_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrInvalidSession indicates a session without a server or a plan id.
var ErrInvalidSession = errors.New("state: invalid session")

// FileStore persists sessions as JSON files under a base directory, one
// file per server.
type FileStore struct {
	baseDir string
}

// NewFileStore creates a FileStore that saves sessions under baseDir.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

// DefaultDir returns the per-user session directory, or "" when the
// platform has no cache directory.
func DefaultDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "plantree", "sessions")
}

// Save writes the session, stamping UpdatedAt when unset.
func (s *FileStore) Save(sess Session) error {
	if sess.PlanID <= 0 {
		return fmt.Errorf("%w: plan id %d", ErrInvalidSession, sess.PlanID)
	}
	p, err := s.path(sess.Server)
	if err != nil {
		return err
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = time.Now().UTC()
	}

	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("state: creating directory: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshaling: %w", err)
	}

	// Write then rename so a crash never leaves a torn file.
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("state: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("state: replacing %s: %w", p, err)
	}
	return nil
}

// Load reads the session for server.
// Returns (session, true, nil) if found, (zero, false, nil) if not found.
func (s *FileStore) Load(server string) (Session, bool, error) {
	p, err := s.path(server)
	if err != nil {
		return Session{}, false, err
	}

	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Session{}, false, nil
		}
		return Session{}, false, fmt.Errorf("state: reading %s: %w", p, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, false, fmt.Errorf("state: parsing %s: %w", p, err)
	}
	return sess, true, nil
}

// Remove deletes the session for server.
func (s *FileStore) Remove(server string) error {
	p, err := s.path(server)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("state: removing %s: %w", p, err)
	}
	return nil
}

// path names the session file after a name-based UUID of the server URL, so
// any URL maps to a safe, stable file name.
func (s *FileStore) path(server string) (string, error) {
	if server == "" {
		return "", fmt.Errorf("%w: empty server", ErrInvalidSession)
	}
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(server))
	return filepath.Join(s.baseDir, id.String()+".json"), nil
}
