package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/metarefresh/metarefresh/internal/differ"
	"github.com/metarefresh/metarefresh/internal/fetcher"
	"github.com/metarefresh/metarefresh/internal/models"
	"github.com/metarefresh/metarefresh/internal/policy"
	"github.com/metarefresh/metarefresh/internal/refresh"
	"github.com/metarefresh/metarefresh/internal/store"
)

func TestCommands_FlagsExist(t *testing.T) {
	tests := []struct {
		cmd   *cobra.Command
		flags []string
	}{
		{GetRefreshCmd(), []string{"config", "cron", "state-file", "strict", "quiet", "block-private-hosts"}},
		{GetFetchCmd(), []string{"certificate", "type", "blacklist", "whitelist", "out-dir", "format", "stdout", "expire-after", "timeout"}},
		{GetDiffCmd(), []string{"fail-on", "json"}},
		{GetStateCmd(), []string{"config", "state-file"}},
		{policyCheckCmd, []string{"config"}},
	}
	for _, tc := range tests {
		for _, flag := range tc.flags {
			t.Run(tc.cmd.Name()+"/"+flag, func(t *testing.T) {
				if tc.cmd.Flags().Lookup(flag) == nil {
					t.Errorf("expected flag %q to be registered", flag)
				}
			})
		}
	}
}

func TestRootCmd_PersistentFlags(t *testing.T) {
	for _, name := range []string{"log-format", "log-level", "log-output", "receipt", "receipt-mode", "otel", "otel-endpoint", "otel-protocol"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("expected persistent flag %q", name)
		}
	}
}

func TestParseFailOnLevel(t *testing.T) {
	tests := []struct {
		input     string
		expected  FailOnLevel
		shouldErr bool
	}{
		{"critical", FailOnCritical, false},
		{"CRITICAL", FailOnCritical, false},
		{"Moderate", FailOnModerate, false},
		{"info", FailOnInfo, false},
		{"invalid", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFailOnLevel(tt.input)
			if tt.shouldErr != (err != nil) {
				t.Errorf("ParseFailOnLevel(%q) error = %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ParseFailOnLevel(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFailOnLevel_ShouldFail(t *testing.T) {
	tests := []struct {
		level    FailOnLevel
		severity differ.SeverityLevel
		expected bool
	}{
		{FailOnCritical, differ.SeverityCritical, true},
		{FailOnCritical, differ.SeverityModerate, false},
		{FailOnModerate, differ.SeverityModerate, true},
		{FailOnModerate, differ.SeveritySafe, false},
		{FailOnInfo, differ.SeveritySafe, true},
	}
	for _, tt := range tests {
		if got := tt.level.ShouldFail(tt.severity); got != tt.expected {
			t.Errorf("%s.ShouldFail(%d) = %v, want %v", tt.level, tt.severity, got, tt.expected)
		}
	}
}

func sampleResult() *refresh.Result {
	return &refresh.Result{Sets: []refresh.SetResult{
		{
			Name:   "fed",
			Status: refresh.StatusWritten,
			Format: models.FormatFlatfile,
			Counts: map[string]int{models.TypeIdP: 2},
			Sources: []refresh.SourceResult{
				{Src: "https://user:pw@fed.example.org/md.xml", Outcome: fetcher.Fresh, Entities: 2},
				{Src: "/srv/local.xml", Outcome: fetcher.Failed, Cached: 1, Err: errors.New("boom")},
			},
			Drift: &differ.Result{HasChanges: true, Diffs: []differ.EntityDiff{
				{EntityType: models.TypeIdP, EntityID: "a", DiffType: differ.DiffTypeAdded, Severity: differ.SeveritySafe},
				{EntityType: models.TypeIdP, EntityID: "b", DiffType: differ.DiffTypeChanged, Severity: differ.SeverityCritical},
			}},
		},
		{
			Name:   "guarded",
			Status: refresh.StatusFailed,
			Err:    fmt.Errorf("%w: %w", refresh.ErrConfiguration, policy.ErrGuardFailed),
			Policy: []models.PolicyResult{
				{RuleName: "not_empty", Passed: false, FailureMsg: "no entities"},
				{RuleName: "ids", Passed: true},
			},
		},
		{Name: "later", Status: refresh.StatusSkipped},
	}}
}

func TestSummarize(t *testing.T) {
	cfg := &models.Config{Sets: models.SetList{{Name: "guarded", PolicyPreset: "baseline"}}}
	sums := summarize(cfg, sampleResult())
	if len(sums) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(sums))
	}

	fed := sums[0]
	if fed.Status != "written" || fed.Entities[models.TypeIdP] != 2 {
		t.Errorf("fed summary = %+v", fed)
	}
	if len(fed.Sources) != 2 || fed.Sources[1].Outcome != "failed" || fed.Sources[1].Error != "boom" {
		t.Errorf("sources = %+v", fed.Sources)
	}
	if fed.Drift == nil || fed.Drift.Added != 1 || fed.Drift.Changed != 1 || fed.Drift.Critical != 1 {
		t.Errorf("drift = %+v", fed.Drift)
	}

	guarded := sums[1]
	if guarded.Policy == nil || guarded.Policy.Status != "fail" || guarded.Policy.Preset != "baseline" {
		t.Fatalf("policy = %+v", guarded.Policy)
	}
	if len(guarded.Policy.Failed) != 1 || guarded.Policy.Failed[0] != "not_empty" {
		t.Errorf("failed rules = %v", guarded.Policy.Failed)
	}
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, sampleResult())
	out := buf.String()

	for _, want := range []string{"fed", "2 entities", "+1 cached", "drift: +1 -0 ~1", "policy not_empty: no entities", "later: skipped"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "user:pw") {
		t.Error("source credentials must be redacted")
	}
}

func writeTable(t *testing.T, dir string, recs ...models.Record) {
	t.Helper()
	var entries []models.Entry
	for _, r := range recs {
		entries = append(entries, models.Entry{Source: r.Source(), Record: r})
	}
	if err := store.NewFlatfile(dir, nil).Write(context.Background(), models.TypeSP, entries); err != nil {
		t.Fatal(err)
	}
}

func runDiffCmd(t *testing.T, jsonOut bool, failOn string, args ...string) (string, error) {
	t.Helper()
	oldJSON, oldFail := diffJSONFlag, diffFailOnFlag
	t.Cleanup(func() { diffJSONFlag, diffFailOnFlag = oldJSON, oldFail })
	diffJSONFlag, diffFailOnFlag = jsonOut, failOn

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	cmd.SetContext(context.Background())
	err := runDiff(cmd, args)
	return buf.String(), err
}

func TestRunDiff(t *testing.T) {
	oldDir, newDir := t.TempDir(), t.TempDir()
	writeTable(t, oldDir,
		models.Record{"entityid": "https://a.example.org", "metarefresh:src": "fed", "expire": 1},
		models.Record{"entityid": "https://b.example.org", "metarefresh:src": "fed"},
	)
	writeTable(t, newDir,
		models.Record{"entityid": "https://a.example.org", "metarefresh:src": "fed", "expire": 2},
		models.Record{"entityid": "https://c.example.org", "metarefresh:src": "fed"},
	)

	out, err := runDiffCmd(t, true, "critical", oldDir, newDir)
	if err != nil {
		t.Fatalf("runDiff failed: %v", err)
	}
	var items []DiffOutputItem
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if len(items) != 2 {
		t.Fatalf("expected added and removed only (expiry ignored), got %+v", items)
	}

	if _, err := runDiffCmd(t, false, "info", oldDir, newDir); err == nil {
		t.Error("expected failure at info threshold")
	}
	if out, err := runDiffCmd(t, false, "critical", oldDir, oldDir); err != nil || !strings.Contains(out, "No changes") {
		t.Errorf("identical dirs: out=%q err=%v", out, err)
	}
	if _, err := runDiffCmd(t, false, "critical", oldDir, filepath.Join(newDir, "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestCheckSetPolicies(t *testing.T) {
	engine, err := policy.NewEngine()
	if err != nil {
		t.Fatal(err)
	}

	good := &models.Config{Sets: models.SetList{
		{Name: "a", PolicyPreset: "strict"},
		{Name: "b"},
	}}
	if n, err := checkSetPolicies(engine, good); err != nil || n != 1 {
		t.Errorf("checkSetPolicies = %d, %v", n, err)
	}

	bad := &models.Config{Sets: models.SetList{{Name: "c", Policy: []models.PolicyRule{{Name: "x", Expr: "input.total >"}}}}}
	if _, err := checkSetPolicies(engine, bad); err == nil {
		t.Error("expected compile error")
	}
	unknown := &models.Config{Sets: models.SetList{{Name: "d", PolicyPreset: "nope"}}}
	if _, err := checkSetPolicies(engine, unknown); err == nil {
		t.Error("expected unknown preset error")
	}
}

func TestFetchSet(t *testing.T) {
	oldTypes, oldCerts := fetchTypeFlags, fetchCertificateFlags
	t.Cleanup(func() { fetchTypeFlags, fetchCertificateFlags = oldTypes, oldCerts })

	fetchTypeFlags = []string{models.TypeSP}
	fetchCertificateFlags = []string{"signer.crt"}
	set, err := fetchSet([]string{"a.xml", "https://fed.example.org/md.xml"})
	if err != nil {
		t.Fatalf("fetchSet failed: %v", err)
	}
	if len(set.Sources) != 2 || set.Sources[1].Certificates[0] != "signer.crt" {
		t.Errorf("sources = %+v", set.Sources)
	}

	fetchTypeFlags = []string{"saml20-bogus"}
	if _, err := fetchSet([]string{"a.xml"}); err == nil {
		t.Error("expected error for unknown type")
	}
}

const feedDoc = `<?xml version="1.0"?>
<md:EntitiesDescriptor xmlns:md="urn:oasis:names:tc:SAML:2.0:metadata">
  <md:EntityDescriptor entityID="https://idp.example.org">
    <md:IDPSSODescriptor protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol">
      <md:SingleSignOnService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect" Location="https://idp.example.org/sso"/>
    </md:IDPSSODescriptor>
  </md:EntityDescriptor>
</md:EntitiesDescriptor>`

func TestRunRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feedDoc)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfgYAML := fmt.Sprintf(`sets:
  fed:
    cron: [hourly]
    outputDir: out
    sources:
      - src: %s
`, srv.URL)
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0644); err != nil {
		t.Fatal(err)
	}

	oldCfg, oldQuiet := refreshConfigFlag, refreshQuietFlag
	t.Cleanup(func() { refreshConfigFlag, refreshQuietFlag = oldCfg, oldQuiet })
	refreshConfigFlag, refreshQuietFlag = cfgPath, false

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	cmd.SetContext(context.Background())
	if err := runRefresh(cmd, nil); err != nil {
		t.Fatalf("runRefresh failed: %v", err)
	}
	if !strings.Contains(buf.String(), "fed") {
		t.Errorf("summary = %q", buf.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "out", models.TypeIdP+".yaml")); err != nil {
		t.Errorf("output relative to the config file missing: %v", err)
	}
}
