package state

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func fixedClock(s *Store) {
	s.now = func() time.Time { return time.Date(2026, 10, 14, 6, 0, 0, 0, time.UTC) }
}

func TestLoad_Missing(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if len(s.Snapshot()) != 0 || s.Changed() {
		t.Error("expected empty, unchanged store")
	}
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := os.WriteFile(path, []byte("::: [not yaml"), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err == nil {
		t.Error("expected informational error for corrupt file")
	}
	if s == nil || len(s.Snapshot()) != 0 {
		t.Error("corrupt file should yield a usable empty store")
	}
}

func TestSave_OnlyWhenChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	s, _ := Load(path)

	written, err := s.Save()
	if err != nil || written {
		t.Fatalf("unchanged store wrote: %v, %v", written, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("no file should exist after a no-op save")
	}

	// Empty validators do not count as a mutation.
	s.Record("https://example.org/md.xml", "", "")
	if s.Changed() {
		t.Error("recording empty validators should not mark the store changed")
	}

	fixedClock(s)
	s.Record("https://example.org/md.xml", "Wed, 14 Oct 2026 05:00:00 GMT", `"abc"`)
	if !s.Changed() {
		t.Fatal("expected changed after record")
	}
	written, err = s.Save()
	if err != nil || !written {
		t.Fatalf("Save = %v, %v", written, err)
	}
	if s.Changed() {
		t.Error("changed flag should reset after save")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{
		"generated by metarefresh at 2026-10-14T06:00:00Z",
		"last-modified: Wed, 14 Oct 2026 05:00:00 GMT",
		`"abc"`,
		"requested_at:",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("state file missing %q:\n%s", want, text)
		}
	}
}

func TestRecord_KeepsValidatorsMissingFromResponse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	prior := "https://a.example/md.xml:\n" +
		"    etag: '\"v1\"'\n" +
		"    last-modified: Mon, 12 Oct 2026 00:00:00 GMT\n" +
		"    requested_at: '2026-10-12T00:00:00Z'\n"
	if err := os.WriteFile(path, []byte(prior), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	fixedClock(s)

	// A fresh response without validators keeps the stored ones.
	s.Record("https://a.example/md.xml", "", "")
	got := s.Get("https://a.example/md.xml")
	if got.ETag != `"v1"` || got.LastModified != "Mon, 12 Oct 2026 00:00:00 GMT" {
		t.Errorf("validators lost: %+v", got)
	}
	if got.RequestedAt != "2026-10-14T06:00:00Z" {
		t.Errorf("requested_at = %q, want the new request time", got.RequestedAt)
	}

	// Only the header that was sent is replaced.
	s.Record("https://a.example/md.xml", "", `"v2"`)
	s.Record("https://b.example/md.xml", "", `"x"`)
	if _, err := s.Save(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	a := reloaded.Get("https://a.example/md.xml")
	if a.ETag != `"v2"` || a.LastModified != "Mon, 12 Oct 2026 00:00:00 GMT" {
		t.Errorf("persisted entry = %+v", a)
	}
	if reloaded.Get("https://b.example/md.xml").ETag != `"x"` {
		t.Error("second source not persisted")
	}
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	s, _ := Load(path)
	s.Record("https://a.example/md.xml", "Tue, 13 Oct 2026 00:00:00 GMT", "")
	s.Record("https://b.example/md.xml", "", `W/"b"`)
	if _, err := s.Save(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := reloaded.Get("https://a.example/md.xml").LastModified; got != "Tue, 13 Oct 2026 00:00:00 GMT" {
		t.Errorf("last-modified = %q", got)
	}
	if got := reloaded.Get("https://b.example/md.xml").ETag; got != `W/"b"` {
		t.Errorf("etag = %q", got)
	}
	if got := reloaded.Sources(); len(got) != 2 || got[0] != "https://a.example/md.xml" {
		t.Errorf("Sources = %v", got)
	}
	if reloaded.Changed() {
		t.Error("freshly loaded store should be unchanged")
	}
}

func TestRecord_Concurrent(t *testing.T) {
	s, _ := Load("")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Record(string(rune('a'+i)), "lm", "")
		}(i)
	}
	wg.Wait()
	if len(s.Snapshot()) != 20 {
		t.Errorf("expected 20 entries, got %d", len(s.Snapshot()))
	}
	if written, err := s.Save(); written || err != nil {
		t.Error("store without a path should never write")
	}
}
