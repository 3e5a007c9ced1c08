package repro

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// WriteAtomicJSON marshals v and writes it to path by writing a sibling
// temporary file and renaming it into place on success (spec section 4.9:
// "the writer produces a sibling temporary file and renames it into place
// only on successful close"). A reader never observes a partially written
// file.
func WriteAtomicJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
