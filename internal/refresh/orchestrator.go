package refresh

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/metarefresh/metarefresh/internal/accumulator"
	"github.com/metarefresh/metarefresh/internal/arp"
	"github.com/metarefresh/metarefresh/internal/descriptor"
	"github.com/metarefresh/metarefresh/internal/differ"
	"github.com/metarefresh/metarefresh/internal/fetcher"
	"github.com/metarefresh/metarefresh/internal/models"
	"github.com/metarefresh/metarefresh/internal/observability"
	otelobs "github.com/metarefresh/metarefresh/internal/observability/otel"
	"github.com/metarefresh/metarefresh/internal/policy"
	"github.com/metarefresh/metarefresh/internal/store"
)

// Run processes every set allowed by the cron tag, in configured order.
// A failing set is recorded in the result and does not stop the others;
// the returned error is only set when the run could not start.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	rc, err := o.newContext(ctx)
	if err != nil {
		return nil, err
	}

	ctx, span := otelobs.StartSpan(ctx, "metarefresh.refresh",
		trace.WithAttributes(
			attribute.String("metarefresh.op_id", observability.OpID(ctx)),
			attribute.String("metarefresh.cron", o.opts.Cron),
			attribute.Int("metarefresh.sets", len(o.cfg.Sets)),
		))
	defer span.End()

	res := &Result{StateFile: rc.State.Path()}
	for _, set := range o.cfg.Sets {
		if !set.AllowsCron(o.opts.Cron) {
			rc.Logger.Debug(component, "set not scheduled for this cron tag", "set", set.Name, "cron", o.opts.Cron)
			res.Sets = append(res.Sets, SetResult{Name: set.Name, Status: StatusSkipped, Format: set.Format()})
			continue
		}

		sr := o.runSet(ctx, rc, set)
		switch {
		case sr.Err == nil:
		case errors.Is(sr.Err, ErrConfiguration):
			rc.Logger.Warn(component, "set skipped", "set", set.Name, "error", sr.Err)
		default:
			rc.Logger.Error(component, "set failed", "set", set.Name, "error", sr.Err)
		}
		if saved, err := rc.State.Save(); err != nil {
			rc.Logger.Error(component, "failed to save cache state", "path", rc.State.Path(), "error", err)
		} else if saved {
			res.StateSaved = true
			rc.Logger.Debug(component, "cache state saved", "path", rc.State.Path())
		}
		res.Sets = append(res.Sets, sr)
	}

	if res.Failed() {
		span.SetStatus(codes.Error, "one or more sets failed")
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	return res, nil
}

// RunSet processes a single set outside of a configured run.
func (o *Orchestrator) RunSet(ctx context.Context, set models.Set) (SetResult, error) {
	rc, err := o.newContext(ctx)
	if err != nil {
		return SetResult{}, err
	}
	sr := o.runSet(ctx, rc, set)
	if _, err := rc.State.Save(); err != nil {
		rc.Logger.Error(component, "failed to save cache state", "path", rc.State.Path(), "error", err)
	}
	return sr, sr.Err
}

// Collect fetches and filters the sources of set without writing
// anything. There is no previous output to fall back on.
func (o *Orchestrator) Collect(ctx context.Context, set models.Set) (*accumulator.Accumulator, []SourceResult, error) {
	rc, err := o.newContext(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := validateSources(rc, set); err != nil {
		return nil, nil, err
	}
	acc := accumulator.New(expiryCeiling(rc, set))
	results, _ := rc.collect(ctx, set, acc, nil)
	return acc, results, nil
}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// validateOutput checks that the set's output can be opened.
func validateOutput(rc *RefreshContext, set models.Set) error {
	switch set.Format() {
	case models.FormatFlatfile, models.FormatSerialize:
		if set.OutputDir == "" {
			return configErr("set %q: outputDir is required for %s output", set.Name, set.Format())
		}
	case models.FormatPDO:
		if set.PDO == nil && rc.Config.PDO == nil {
			return configErr("set %q: pdo output requires a pdo configuration", set.Name)
		}
	default:
		return configErr("set %q: %v %q", set.Name, store.ErrUnknownFormat, set.Format())
	}
	return validateSources(rc, set)
}

func validateSources(rc *RefreshContext, set models.Set) error {
	if len(set.Sources) == 0 {
		return configErr("set %q has no sources", set.Name)
	}
	for _, src := range set.Sources {
		if src.Src == "" {
			return configErr("set %q: source without src", set.Name)
		}
		if _, err := descriptor.LoadCertificates(src.Certificates, rc.certDir()); err != nil {
			return configErr("set %q source %q: %v", set.Name, src.Src, err)
		}
	}
	return nil
}

func expiryCeiling(rc *RefreshContext, set models.Set) int64 {
	if set.ExpireAfter == nil || *set.ExpireAfter <= 0 {
		return 0
	}
	return rc.Now.Unix() + *set.ExpireAfter
}

func (o *Orchestrator) runSet(ctx context.Context, rc *RefreshContext, set models.Set) (sr SetResult) {
	sr = SetResult{Name: set.Name, Format: set.Format(), Status: StatusFailed}

	ctx, span := otelobs.StartSpan(ctx, "metarefresh.set",
		trace.WithAttributes(
			attribute.String("metarefresh.set", set.Name),
			attribute.String("metarefresh.format", set.Format()),
		))
	defer func() {
		span.SetAttributes(attribute.Int("metarefresh.entities", sr.Total()))
		if sr.Err != nil {
			span.RecordError(sr.Err)
			span.SetStatus(codes.Error, "failed")
		} else {
			span.SetStatus(codes.Ok, "success")
		}
		span.End()
	}()

	if err := validateOutput(rc, set); err != nil {
		sr.Err = err
		return sr
	}

	pdo := set.PDO
	if pdo == nil {
		pdo = rc.Config.PDO
	}
	out, err := o.opts.OpenStore(ctx, set, store.Options{
		Dir:    rc.resolve(set.OutputDir),
		PDO:    pdo,
		Logger: rc.Logger,
		Now:    func() time.Time { return rc.Now },
	})
	if err != nil {
		sr.Err = fmt.Errorf("failed to open %s output: %w", set.Format(), err)
		return sr
	}
	defer func() {
		if err := out.Close(); err != nil {
			rc.Logger.Warn(component, "failed to close output", "set", set.Name, "error", err)
		}
	}()

	acc := accumulator.New(expiryCeiling(rc, set))
	results, pending := rc.collect(ctx, set, acc, out)
	sr.Sources = results
	sr.Counts = acc.Counts()

	types := managedTypes(rc.Config, set)
	previous, err := previousRecords(ctx, out, types)
	if err != nil {
		rc.Logger.Notice(component, "previous output unreadable, drift not reported", "set", set.Name, "error", err)
	}

	input := policy.Input{
		Set:            set.Name,
		Types:          map[string][]models.Record{},
		Counts:         sr.Counts,
		Total:          acc.Total(),
		Sources:        map[string]string{},
		PreviousCounts: map[string]int{},
	}
	for _, t := range types {
		input.Types[t] = acc.Records(t)
		input.PreviousCounts[t] = len(previous[t])
		input.PreviousTotal += len(previous[t])
	}
	for _, r := range results {
		input.Sources[r.Src] = r.Outcome.String()
	}

	rules, err := policy.Rules(set)
	if err != nil {
		sr.Err = fmt.Errorf("%w: set %q: %w", ErrConfiguration, set.Name, err)
		return sr
	}
	if len(rules) > 0 {
		sr.Policy, err = rc.Policy.Guard(rules, input)
		if err != nil {
			sr.Err = fmt.Errorf("%w: set %q: %w", ErrConfiguration, set.Name, err)
			return sr
		}
	}

	if previous != nil {
		current := map[string][]models.Record{}
		for _, t := range types {
			current[t] = acc.Records(t)
		}
		drift, err := differ.Compare(previous, current)
		if err != nil {
			rc.Logger.Notice(component, "failed to compute drift", "set", set.Name, "error", err)
		} else {
			sr.Drift = drift
			logDrift(rc, set.Name, drift)
		}
	}

	if err := store.WriteAll(ctx, out, types, acc.Entries); err != nil {
		sr.Err = fmt.Errorf("failed to write set %q: %w", set.Name, err)
		return sr
	}
	rc.Logger.Info(component, "set written", "set", set.Name, "format", set.Format(), "entities", acc.Total())

	if set.ARP != nil {
		if err := writeARP(rc, set, acc); err != nil {
			sr.Err = fmt.Errorf("failed to write attribute release policy for set %q: %w", set.Name, err)
			return sr
		}
	}

	// Validators are only kept once the output that used them exists, so
	// a rejected or unwritten set refetches in full next time.
	for _, p := range pending {
		rc.State.Record(p.src, p.validators.LastModified, p.validators.ETag)
	}
	sr.Status = StatusWritten
	return sr
}

type pendingState struct {
	src        string
	validators fetcher.Validators
}

// collect fetches every source of set in configured order and feeds the
// accumulator. prev may be nil.
func (rc *RefreshContext) collect(ctx context.Context, set models.Set, acc *accumulator.Accumulator, prev accumulator.MetadataSource) ([]SourceResult, []pendingState) {
	fetched := rc.prefetch(ctx, set)

	results := make([]SourceResult, 0, len(set.Sources))
	var pending []pendingState
	for i, src := range set.Sources {
		var fr *fetcher.Result
		if fetched != nil {
			fr = &fetched[i]
		}
		r, p := rc.processSource(ctx, set, src, fr, acc, prev)
		results = append(results, r)
		if p != nil {
			pending = append(pending, *p)
		}
	}
	return results, pending
}

// prefetch retrieves all sources concurrently when parallelism allows.
// Results keep source order so accumulation stays deterministic.
func (rc *RefreshContext) prefetch(ctx context.Context, set models.Set) []fetcher.Result {
	if rc.Parallelism <= 1 || len(set.Sources) < 2 {
		return nil
	}
	out := make([]fetcher.Result, len(set.Sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rc.Parallelism)
	for i, src := range set.Sources {
		eff := inherit(rc.Config, set, src)
		g.Go(func() error {
			out[i] = rc.fetch(gctx, src.Src, eff.ConditionalGET)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (rc *RefreshContext) fetch(ctx context.Context, src string, conditional bool) fetcher.Result {
	var prior models.SourceState
	if conditional {
		prior = rc.State.Get(src)
	}
	return rc.Fetcher.Fetch(ctx, src, conditional, prior)
}

func previousRecords(ctx context.Context, out store.Store, types []string) (map[string][]models.Record, error) {
	prev := map[string][]models.Record{}
	for _, t := range types {
		recs, err := out.MetadataSet(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t, err)
		}
		prev[t] = recs
	}
	return prev, nil
}

func logDrift(rc *RefreshContext, setName string, drift *differ.Result) {
	if !drift.HasChanges {
		rc.Logger.Debug(component, "no drift", "set", setName)
		return
	}
	counts := drift.Counts()
	rc.Logger.Info(component, "drift detected", "set", setName,
		"added", counts[differ.DiffTypeAdded],
		"removed", counts[differ.DiffTypeRemoved],
		"changed", counts[differ.DiffTypeChanged],
		"severity", drift.MaxSeverity().String())
	for _, d := range drift.Diffs {
		rc.Logger.Debug(component, "entity drift", "set", setName, "type", d.EntityType,
			"entityid", d.EntityID, "diff", string(d.DiffType), "severity", d.Severity.String())
	}
}

func writeARP(rc *RefreshContext, set models.Set, acc *accumulator.Accumulator) error {
	gen, err := arp.FromConfig(*set.ARP, rc.BaseDir)
	if err != nil {
		return err
	}
	var records []models.Record
	for _, t := range arp.Types(*set.ARP) {
		records = append(records, acc.Records(t)...)
	}

	path := set.ARP.File
	if path == "" {
		path = "arp.xml"
	}
	if !filepath.IsAbs(path) {
		if set.OutputDir != "" {
			path = filepath.Join(rc.resolve(set.OutputDir), path)
		} else {
			path = rc.resolve(path)
		}
	}
	if err := gen.WriteFile(path, records); err != nil {
		return err
	}
	rc.Logger.Info(component, "attribute release policy written", "set", set.Name, "path", path, "entities", len(records))
	return nil
}
