// Package credentials holds the Wi-Fi network credentials the node joins in
// station mode and persists them as a small KEY=VALUE text file.
//
// File format, one pair per line:
//
//	SSID=HomeNetwork
//	PASSWORD=correct horse battery staple
//
// Values are split at the first '=', so secrets may contain '='. An absent
// file, or a file missing either key, means no credentials are stored.
package credentials

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Recognised keys in the credential file.
const (
	KeySSID     = "SSID"
	KeyPassword = "PASSWORD"
)

// ErrNotFound is returned by Load when no complete credential pair is stored.
var ErrNotFound = errors.New("no stored credentials")

// ErrIncomplete is returned by Save when either field is empty.
var ErrIncomplete = errors.New("credentials require both ssid and password")

// Credentials is a target network name and its pre-shared key.
type Credentials struct {
	SSID     string
	Password string
}

// Valid reports whether both fields are non-empty.
func (c Credentials) Valid() bool {
	return c.SSID != "" && c.Password != ""
}

// Format renders the credentials in the on-disk format.
func Format(c Credentials) []byte {
	var buf bytes.Buffer
	buf.WriteString(KeySSID + "=" + c.SSID + "\n")
	buf.WriteString(KeyPassword + "=" + c.Password + "\n")
	return buf.Bytes()
}

// Parse reads the on-disk format. Lines without '=' are ignored and later
// keys win. Values are kept byte for byte so secrets may end in spaces.
// Parse never fails on content; missing keys yield empty fields.
func Parse(data []byte) Credentials {
	values := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = value
	}
	return Credentials{SSID: values[KeySSID], Password: values[KeyPassword]}
}

// Store reads and writes credentials at a fixed path.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored credentials, or ErrNotFound when the file is
// absent or incomplete.
func (s *Store) Load() (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, ErrNotFound
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read credentials file: %w", err)
	}

	creds := Parse(data)
	if !creds.Valid() {
		return Credentials{}, ErrNotFound
	}
	return creds, nil
}

// Save replaces the stored credentials. Both fields are written together:
// the content goes to a temporary file in the same directory which is then
// renamed over the target.
func (s *Store) Save(c Credentials) error {
	if !c.Valid() {
		return ErrIncomplete
	}
	if strings.ContainsAny(c.SSID, "\r\n") || strings.ContainsAny(c.Password, "\r\n") {
		return fmt.Errorf("credentials must not contain line breaks")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary credentials file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(Format(c)); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary credentials file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temporary credentials file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary credentials file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set credentials file mode: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save credentials file: %w", err)
	}
	return nil
}

// Clear removes the stored credentials. A missing file is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove credentials file: %w", err)
	}
	return nil
}
