package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/metarefresh/metarefresh/internal/generated"
	"github.com/metarefresh/metarefresh/internal/models"
)

func entry(src, id string, extra models.Record) models.Entry {
	rec := models.Record{models.KeyEntityID: id, models.KeySource: src}
	for k, v := range extra {
		rec[k] = v
	}
	return models.Entry{Source: src, Record: rec}
}

func clock(sec int64) func() time.Time {
	return func() time.Time { return time.Unix(sec, 0) }
}

func TestFlatfile_WriteAndRead(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f := NewFlatfile(dir, clock(1e9))

	entries := []models.Entry{
		entry("https://feed/md.xml", "https://b.example", models.Record{"expire": int64(2000000000), "name": map[string]any{"en": "B"}}),
		entry("https://feed/md.xml", "https://a.example", nil),
	}
	if err := f.Write(ctx, models.TypeSP, entries); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "saml20-sp-remote.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# This file was generated by metarefresh at 2001-09-09T01:46:40Z.") {
		t.Errorf("missing generated header:\n%s", data)
	}
	if strings.Index(string(data), "https://b.example") > strings.Index(string(data), "https://a.example") {
		t.Error("insertion order should be preserved")
	}

	recs, err := f.MetadataSet(ctx, models.TypeSP)
	if err != nil {
		t.Fatalf("MetadataSet failed: %v", err)
	}
	if len(recs) != 2 || recs[0].EntityID() != "https://b.example" {
		t.Fatalf("records = %v", recs)
	}
	if exp, _ := recs[0].Expire(); exp != 2000000000 {
		t.Errorf("expire = %d", exp)
	}
	if recs[0].Source() != "https://feed/md.xml" {
		t.Errorf("provenance lost: %v", recs[0])
	}

	none, err := f.MetadataSet(ctx, models.TypeIdP)
	if err != nil || none != nil {
		t.Errorf("never-written type should be empty, got %v, %v", none, err)
	}
}

func TestFlatfile_StaleCleanup(t *testing.T) {
	ctx := context.Background()
	f := NewFlatfile(t.TempDir(), nil)

	if err := f.Write(ctx, models.TypeIdP, []models.Entry{entry("s", "urn:x", nil)}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(f.Path(models.TypeIdP)); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if err := f.Write(ctx, models.TypeIdP, nil); err != nil {
		t.Fatalf("Write(empty) failed: %v", err)
	}
	if _, err := os.Stat(f.Path(models.TypeIdP)); !os.IsNotExist(err) {
		t.Error("stale artifact should be removed")
	}
	// Removing an absent artifact is fine.
	if err := f.Write(ctx, models.TypeIdP, nil); err != nil {
		t.Errorf("Write(empty) on absent file: %v", err)
	}
}

func TestRender_Deterministic(t *testing.T) {
	entries := []models.Entry{
		entry("s", "urn:x", models.Record{"z": 1, "a": []any{"q", "p"}, "m": map[string]any{"k2": "v", "k1": "v"}}),
		entry("s", "urn:y", nil),
		entry("t", "urn:x", models.Record{"winner": true}),
	}
	first, err := Render(entries, time.Unix(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	second, err := Render(entries, time.Unix(1e9, 0))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(generated.StripHeader(first), generated.StripHeader(second)) {
		t.Errorf("renders differ beyond the header:\n%s\n---\n%s", first, second)
	}

	recs, err := ParseTable(first)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("duplicates should collapse, got %d records", len(recs))
	}
	if recs[0].EntityID() != "urn:x" || recs[0]["winner"] != true {
		t.Errorf("last duplicate should win at the first position: %v", recs[0])
	}
}

func TestParseTable_Invalid(t *testing.T) {
	if _, err := ParseTable([]byte("- a\n- b\n")); err == nil {
		t.Error("expected error for non-mapping table")
	}
	if recs, err := ParseTable([]byte("# only a header\n")); err != nil || recs != nil {
		t.Errorf("empty table = %v, %v", recs, err)
	}
}

func TestSerialize(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSerialize(SerializeConfig{InMemory: true})
	if err != nil {
		t.Fatalf("OpenSerialize failed: %v", err)
	}
	defer s.Close()

	if err := s.Write(ctx, models.TypeIdP, []models.Entry{
		entry("src", "urn:b", models.Record{"expire": int64(42)}),
		entry("src", "urn:a", nil),
	}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Write(ctx, models.TypeSP, []models.Entry{entry("src", "urn:sp", nil)}); err != nil {
		t.Fatal(err)
	}
	// Entities not in a later write are kept.
	if err := s.Write(ctx, models.TypeIdP, []models.Entry{entry("src2", "urn:a", nil)}); err != nil {
		t.Fatal(err)
	}

	recs, err := s.MetadataSet(ctx, models.TypeIdP)
	if err != nil {
		t.Fatalf("MetadataSet failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 IdPs, got %v", recs)
	}
	if recs[0].EntityID() != "urn:a" || recs[0].Source() != "src2" {
		t.Errorf("upsert did not replace: %v", recs[0])
	}
	if exp, ok := recs[1].Expire(); !ok || exp != 42 {
		t.Errorf("expire = %d, %v", exp, ok)
	}
}

func TestSerialize_RequiresPath(t *testing.T) {
	if _, err := OpenSerialize(SerializeConfig{}); err == nil {
		t.Error("expected error without path")
	}
}

func TestPDO_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := models.PDOConfig{Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "md.db")}
	p, err := OpenPDO(ctx, cfg)
	if err != nil {
		t.Fatalf("OpenPDO failed: %v", err)
	}

	if err := p.Write(ctx, models.TypeSP, []models.Entry{
		entry("src", "urn:sp1", models.Record{"name": "one"}),
		entry("src", "urn:sp2", nil),
	}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := p.Upsert(ctx, "urn:sp1", models.TypeSP, models.Record{models.KeyEntityID: "urn:sp1", "name": "updated"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	p.Close()

	// Reopen to make sure the data is durable and the schema step is idempotent.
	p, err = OpenPDO(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	recs, err := p.MetadataSet(ctx, models.TypeSP)
	if err != nil {
		t.Fatalf("MetadataSet failed: %v", err)
	}
	if len(recs) != 2 || recs[0]["name"] != "updated" {
		t.Errorf("records = %v", recs)
	}
	if idps, _ := p.MetadataSet(ctx, models.TypeIdP); len(idps) != 0 {
		t.Errorf("unexpected IdPs: %v", idps)
	}
}

func TestOpenPDO_Invalid(t *testing.T) {
	ctx := context.Background()
	tests := []models.PDOConfig{
		{Driver: "mysql", DSN: "x"},
		{Driver: "sqlite3"},
		{Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "x.db"), Table: "md; DROP TABLE x"},
	}
	for _, cfg := range tests {
		if _, err := OpenPDO(ctx, cfg); err == nil {
			t.Errorf("expected error for %+v", cfg)
		}
	}
}

func TestRebind(t *testing.T) {
	pg := &PDO{driver: "postgres"}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("rebind = %q", got)
	}
	lite := &PDO{driver: "sqlite3"}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("rebind = %q", got)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	if _, err := Open(ctx, "php", Options{Dir: t.TempDir()}); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
	if _, err := Open(ctx, models.FormatFlatfile, Options{}); err == nil {
		t.Error("flatfile without directory should fail")
	}
	if _, err := Open(ctx, models.FormatPDO, Options{}); err == nil {
		t.Error("pdo without configuration should fail")
	}

	s, err := Open(ctx, models.FormatSerialize, Options{Dir: filepath.Join(t.TempDir(), "db")})
	if err != nil {
		t.Fatalf("Open serialize failed: %v", err)
	}
	defer s.Close()
	if s.Format() != models.FormatSerialize {
		t.Errorf("Format = %q", s.Format())
	}
}

func TestWriteAll(t *testing.T) {
	ctx := context.Background()
	f := NewFlatfile(t.TempDir(), nil)
	byType := map[string][]models.Entry{models.TypeIdP: {entry("s", "urn:x", nil)}}

	if err := WriteAll(ctx, f, models.AllTypes, func(typ string) []models.Entry { return byType[typ] }); err != nil {
		t.Fatalf("WriteAll failed: %v", err)
	}
	if _, err := os.Stat(f.Path(models.TypeIdP)); err != nil {
		t.Error("IdP artifact missing")
	}
	if _, err := os.Stat(f.Path(models.TypeSP)); !os.IsNotExist(err) {
		t.Error("SP artifact should not exist")
	}
}
