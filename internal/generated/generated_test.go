package generated

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHeader(t *testing.T) {
	now := time.Date(2026, 10, 14, 8, 30, 0, 0, time.FixedZone("CEST", 2*3600))
	h := Header(now)

	if !strings.Contains(h, "2026-10-14T06:30:00Z") {
		t.Errorf("header should carry the UTC stamp, got %q", h)
	}
	if !strings.Contains(h, "Do not update it manually") {
		t.Errorf("header should carry the overwrite notice, got %q", h)
	}
}

func TestStripHeader(t *testing.T) {
	a := Header(time.Unix(0, 0)) + "a: 1\n"
	b := Header(time.Unix(1e9, 0)) + "a: 1\n"
	if string(StripHeader([]byte(a))) != string(StripHeader([]byte(b))) {
		t.Error("artifacts differing only by stamp should compare equal")
	}
	if got := string(StripHeader([]byte("# only\n"))); got != "" {
		t.Errorf("StripHeader = %q, want empty", got)
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.yaml")

	if err := WriteFile(path, []byte("first\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := WriteFile(path, []byte("second\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read back: %v", err)
	}
	if string(data) != "second\n" {
		t.Errorf("content = %q, want %q", data, "second\n")
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}
