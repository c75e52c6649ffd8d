package accumulator

import (
	"context"
	"errors"
	"testing"

	"github.com/metarefresh/metarefresh/internal/models"
)

func TestMergeExpiry(t *testing.T) {
	tests := []struct {
		name    string
		ceiling int64
		rec     models.Record
		want    int64
		wantOK  bool
	}{
		{name: "both, record earlier", ceiling: 200, rec: models.Record{"expire": int64(100)}, want: 100, wantOK: true},
		{name: "both, ceiling earlier", ceiling: 100, rec: models.Record{"expire": 200}, want: 100, wantOK: true},
		{name: "ceiling only", ceiling: 300, rec: models.Record{}, want: 300, wantOK: true},
		{name: "record only", rec: models.Record{"expire": "150"}, want: 150, wantOK: true},
		{name: "neither", rec: models.Record{}, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MergeExpiry(tt.ceiling, tt.rec)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("MergeExpiry = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestAdd_TemplateAndProvenance(t *testing.T) {
	acc := New(0)
	rec := models.Record{"entityid": "https://sp.example", "name": "SP"}
	tmpl := models.Record{
		"tags":            []any{"t1"},
		"name":            "Overridden",
		models.KeySource: "https://spoofed.example/md.xml",
	}

	acc.Add("https://feed.example/md.xml", rec, models.TypeSP, tmpl)

	entries := acc.Entries(models.TypeSP)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0].Record
	if got.Source() != "https://feed.example/md.xml" || entries[0].Source != "https://feed.example/md.xml" {
		t.Errorf("provenance = %q, must not be spoofable by template", got.Source())
	}
	if got["name"] != "Overridden" {
		t.Errorf("template should overwrite keys, name = %v", got["name"])
	}
	if _, ok := got["expire"]; ok {
		t.Error("no expiry expected without ceiling or record expiry")
	}
	if _, ok := rec[models.KeySource]; ok {
		t.Error("input record must not be mutated")
	}
}

func TestAdd_ExpiryCeiling(t *testing.T) {
	acc := New(1000)
	acc.Add("src", models.Record{"entityid": "a", "expire": int64(500)}, models.TypeIdP, nil)
	acc.Add("src", models.Record{"entityid": "b", "expire": int64(5000)}, models.TypeIdP, nil)
	acc.Add("src", models.Record{"entityid": "c"}, models.TypeIdP, nil)

	want := map[string]int64{"a": 500, "b": 1000, "c": 1000}
	for _, r := range acc.Records(models.TypeIdP) {
		if got, _ := r.Expire(); got != want[r.EntityID()] {
			t.Errorf("%s expire = %d, want %d", r.EntityID(), got, want[r.EntityID()])
		}
	}
}

func TestAdd_DuplicatesAppend(t *testing.T) {
	acc := New(0)
	acc.Add("one", models.Record{"entityid": "urn:x"}, models.TypeIdP, nil)
	acc.Add("two", models.Record{"entityid": "urn:x"}, models.TypeIdP, nil)
	acc.Add("one", models.Record{"entityid": "urn:y"}, models.TypeSP, nil)

	if n := len(acc.Entries(models.TypeIdP)); n != 2 {
		t.Errorf("duplicates should be appended, got %d entries", n)
	}
	if got := acc.Types(); len(got) != 2 || got[0] != models.TypeIdP || got[1] != models.TypeSP {
		t.Errorf("Types = %v", got)
	}
	if acc.Total() != 3 {
		t.Errorf("Total = %d", acc.Total())
	}
}

type fakeSource struct {
	sets map[string][]models.Record
	err  error
}

func (f fakeSource) MetadataSet(_ context.Context, entityType string) ([]models.Record, error) {
	return f.sets[entityType], f.err
}

func TestAddCached(t *testing.T) {
	prev := fakeSource{sets: map[string][]models.Record{
		models.TypeIdP: {
			{"entityid": "urn:a", models.KeySource: "https://feed/md.xml", "expire": int64(10)},
			{"entityid": "urn:b", models.KeySource: "https://other/md.xml"},
		},
		models.TypeSP: {
			{"entityid": "urn:c", models.KeySource: "https://feed/md.xml"},
		},
	}}

	acc := New(5)
	n, err := acc.AddCached(context.Background(), "https://feed/md.xml", models.AllTypes, prev)
	if err != nil {
		t.Fatalf("AddCached failed: %v", err)
	}
	if n != 2 {
		t.Errorf("added %d, want 2", n)
	}
	idps := acc.Records(models.TypeIdP)
	if len(idps) != 1 || idps[0].EntityID() != "urn:a" {
		t.Fatalf("cached IdPs = %v", idps)
	}
	if exp, _ := idps[0].Expire(); exp != 10 {
		t.Errorf("cached records are carried unmodified, expire = %d", exp)
	}

	if n, err := New(0).AddCached(context.Background(), "x", models.AllTypes, nil); n != 0 || err != nil {
		t.Errorf("nil previous output should yield nothing, got %d, %v", n, err)
	}

	boom := errors.New("boom")
	if _, err := New(0).AddCached(context.Background(), "x", models.AllTypes, fakeSource{err: boom}); !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}
