package idl

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads a previously persisted dataset. A missing file is an empty
// dataset; a file that fails to decode returns an error so the caller can
// decide whether to treat it as "no previous data".
func Load(path string) (Dataset, error) {
	payload, err := os.ReadFile(path) // #nosec G304 -- path comes from configuration.
	if err != nil {
		if os.IsNotExist(err) {
			return Dataset{}, nil
		}
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	var d Dataset
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", path, err)
	}
	return d, nil
}

// Write persists the dataset sorted by URL as an indented JSON document.
// The write is whole-value: content lands in a temp file in the target
// directory and is renamed into place, so readers never observe a torn file.
func (d Dataset) Write(path string) error {
	if err := d.Validate(); err != nil {
		return err
	}
	d.Sort()

	payload, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dataset: %w", err)
	}
	payload = append(payload, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create dataset dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".dataset-*.json")
	if err != nil {
		return fmt.Errorf("create temp dataset file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp dataset file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp dataset file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace dataset %s: %w", path, err)
	}
	return nil
}
