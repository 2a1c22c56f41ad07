// Package cache implements the on-disk content cache backing acquisition.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"idlharvest/internal/idl"
)

const (
	rawNamespace    = "raw"
	parsedNamespace = "parsed"
)

// Key derives the filesystem-safe cache entry name for a canonical URL:
// every non-alphanumeric byte becomes '_'.
func Key(url string) string {
	var b strings.Builder
	b.Grow(len(url))
	for i := 0; i < len(url); i++ {
		c := url[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Store maps canonical URLs to previously fetched raw bytes and previously
// extracted parse records, in two independent directory namespaces under
// one root. Absence of an entry is a miss, never an error.
type Store struct {
	root   string
	logger *zap.Logger
}

// New validates the cache root and creates both namespaces.
func New(root string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("cache root directory is required")
	}
	for _, ns := range []string{rawNamespace, parsedNamespace} {
		if err := os.MkdirAll(filepath.Join(root, ns), 0o750); err != nil {
			return nil, fmt.Errorf("create cache namespace %s: %w", ns, err)
		}
	}
	return &Store{root: root, logger: logger}, nil
}

// RawDir returns the raw-bytes namespace directory. Scraper sessions write
// fetched page content here directly.
func (s *Store) RawDir() string {
	return filepath.Join(s.root, rawNamespace)
}

func (s *Store) rawPath(url string) string {
	return filepath.Join(s.root, rawNamespace, Key(url))
}

func (s *Store) recordPath(key string) string {
	return filepath.Join(s.root, parsedNamespace, key+".json")
}

// GetRaw returns previously fetched bytes for url, if present.
func (s *Store) GetRaw(url string) ([]byte, bool, error) {
	payload, err := os.ReadFile(s.rawPath(url)) // #nosec G304 -- path derived from the sanitized key.
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read raw cache entry for %s: %w", url, err)
	}
	return payload, true, nil
}

// PutRaw stores fetched bytes for url.
func (s *Store) PutRaw(url string, content []byte) error {
	if err := os.WriteFile(s.rawPath(url), content, 0o600); err != nil {
		return fmt.Errorf("write raw cache entry for %s: %w", url, err)
	}
	return nil
}

// GetRecord returns the cached parse record for url, if present.
func (s *Store) GetRecord(url string) (idl.Record, bool, error) {
	return s.GetRecordKey(Key(url))
}

// GetRecordKey looks a record up by its derived cache key. A stored record
// that fails to decode is corruption: it is logged and treated as a miss so
// the URL gets fetched fresh.
func (s *Store) GetRecordKey(key string) (idl.Record, bool, error) {
	payload, err := os.ReadFile(s.recordPath(key)) // #nosec G304 -- path derived from the sanitized key.
	if err != nil {
		if os.IsNotExist(err) {
			return idl.Record{}, false, nil
		}
		return idl.Record{}, false, fmt.Errorf("read parse cache entry %s: %w", key, err)
	}
	var rec idl.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		s.logger.Warn("corrupt parse cache entry, treating as miss",
			zap.String("key", key), zap.Error(err))
		return idl.Record{}, false, nil
	}
	return rec, true, nil
}

// PutRecord stores the parse record for rec.URL.
func (s *Store) PutRecord(rec idl.Record) error {
	return s.PutRecordKey(Key(rec.URL), rec)
}

// PutRecordKey stores rec under an explicit cache key.
func (s *Store) PutRecordKey(key string, rec idl.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal parse cache entry for %s: %w", rec.URL, err)
	}
	if err := os.WriteFile(s.recordPath(key), payload, 0o600); err != nil {
		return fmt.Errorf("write parse cache entry for %s: %w", rec.URL, err)
	}
	return nil
}

// Invalidate removes url's entries from both namespaces. It is used only
// before a deliberate retry, to force a fresh fetch and parse.
func (s *Store) Invalidate(url string) error {
	for _, path := range []string{s.rawPath(url), s.recordPath(Key(url))} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("invalidate cache entry for %s: %w", url, err)
		}
	}
	return nil
}
