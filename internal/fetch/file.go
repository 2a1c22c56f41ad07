package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSource serves file:// URLs from a root directory, for local-file
// pipeline runs.
type FileSource struct {
	root string
}

// NewFileSource roots the source at dir.
func NewFileSource(dir string) (*FileSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat file source root %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("file source root %s is not a directory", dir)
	}
	return &FileSource{root: dir}, nil
}

// Fetch reads the file addressed by a file://<relative path> URL. The path
// must stay inside the root.
func (s *FileSource) Fetch(_ context.Context, url string) ([]byte, error) {
	rel, ok := strings.CutPrefix(url, "file://")
	if !ok {
		return nil, fmt.Errorf("file source expects file:// url, got %s", url)
	}
	full := filepath.Join(s.root, filepath.FromSlash(rel))
	cleanRoot := filepath.Clean(s.root)
	if !strings.HasPrefix(filepath.Clean(full), cleanRoot+string(filepath.Separator)) {
		return nil, fmt.Errorf("path %s escapes file source root", rel)
	}
	content, err := os.ReadFile(full) // #nosec G304 -- confined to the source root above.
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	return content, nil
}

// ListFiles walks the root for files with ext (including the dot) and
// returns their slash-separated relative paths, sorted by the walk order.
func (s *FileSource) ListFiles(ext string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ext) {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return relErr
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk file source root: %w", err)
	}
	return files, nil
}
