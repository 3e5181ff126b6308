package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// tokenRecord is the on-disk shape of the durable slot.
type tokenRecord struct {
	Token   string    `json:"token"`
	SavedAt time.Time `json:"saved_at"`
}

// FileTokenStore persists the token as a small JSON document. The parent
// directory is created 0700 and the file written 0600, through a temp file
// and rename so readers never see a half-written token.
type FileTokenStore struct {
	path string
	now  func() time.Time
}

// NewFileTokenStore returns a store rooted at path. An empty path resolves
// through [DefaultTokenFilePath].
func NewFileTokenStore(path string) *FileTokenStore {
	if path == "" {
		path = DefaultTokenFilePath()
	}
	return &FileTokenStore{path: path, now: time.Now}
}

// DefaultTokenFilePath returns $IMPACTLOG_SESSION_FILE when set, otherwise
// $XDG_CONFIG_HOME/impactlog/session.json (falling back to ~/.config).
func DefaultTokenFilePath() string {
	if envPath := os.Getenv("IMPACTLOG_SESSION_FILE"); envPath != "" {
		return envPath
	}

	configDirectory := os.Getenv("XDG_CONFIG_HOME")
	if configDirectory == "" {
		homeDirectory, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "impactlog-session.json")
		}
		configDirectory = filepath.Join(homeDirectory, ".config")
	}
	return filepath.Join(configDirectory, "impactlog", "session.json")
}

// Path returns the file backing the slot.
func (f *FileTokenStore) Path() string {
	return f.path
}

func (f *FileTokenStore) Load(context.Context) (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("%w: reading %s: %v", ErrStorageUnavailable, f.path, err)
	}

	var record tokenRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return "", fmt.Errorf("%w: parsing %s: %v", ErrStorageUnavailable, f.path, err)
	}
	return record.Token, nil
}

func (f *FileTokenStore) Save(_ context.Context, token string) error {
	data, err := json.MarshalIndent(tokenRecord{Token: token, SavedAt: f.now().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding token record: %v", ErrStorageUnavailable, err)
	}
	data = append(data, '\n')

	directory := filepath.Dir(f.path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrStorageUnavailable, directory, err)
	}

	tmp, err := os.CreateTemp(directory, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp file in %s: %v", ErrStorageUnavailable, directory, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: chmod %s: %v", ErrStorageUnavailable, tmpName, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing %s: %v", ErrStorageUnavailable, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %v", ErrStorageUnavailable, tmpName, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("%w: replacing %s: %v", ErrStorageUnavailable, f.path, err)
	}
	return nil
}

func (f *FileTokenStore) Delete(context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: removing %s: %v", ErrStorageUnavailable, f.path, err)
	}
	return nil
}
