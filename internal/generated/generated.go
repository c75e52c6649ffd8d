// Package generated writes self-describing artifacts: each begins with a
// provenance comment carrying the generation time and an overwrite notice,
// and each is replaced atomically.
package generated

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TimeFormat of generation stamps (always UTC)
const TimeFormat = "2006-01-02T15:04:05Z"

// Timestamp formats t in UTC.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Header is the provenance comment opening every generated file.
func Header(now time.Time) string {
	return fmt.Sprintf("# This file was generated by metarefresh at %s.\n"+
		"# Do not update it manually as it will get overwritten.\n", Timestamp(now))
}

// StripHeader drops leading comment lines so two artifacts can be
// compared without their generation stamps.
func StripHeader(data []byte) []byte {
	s := string(data)
	for strings.HasPrefix(s, "#") {
		nl := strings.IndexByte(s, '\n')
		if nl < 0 {
			return nil
		}
		s = s[nl+1:]
	}
	return []byte(s)
}

// WriteFile replaces path atomically: content goes to a temp file in the
// same directory which is then renamed over the target.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op once renamed
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
