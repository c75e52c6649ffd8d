package refresh

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/metarefresh/metarefresh/internal/accumulator"
	"github.com/metarefresh/metarefresh/internal/descriptor"
	"github.com/metarefresh/metarefresh/internal/fetcher"
	"github.com/metarefresh/metarefresh/internal/filter"
	"github.com/metarefresh/metarefresh/internal/models"
	otelobs "github.com/metarefresh/metarefresh/internal/observability/otel"
	"github.com/metarefresh/metarefresh/internal/observability/receipt"
)

// processSource fetches (unless fr is given), parses, filters and
// accumulates one source. When no usable document is obtained the
// records of the previous output tagged with src are carried over.
// The returned pendingState holds validators to keep once the set has
// been written.
func (rc *RefreshContext) processSource(ctx context.Context, set models.Set, src models.Source, fr *fetcher.Result, acc *accumulator.Accumulator, prev accumulator.MetadataSource) (SourceResult, *pendingState) {
	eff := inherit(rc.Config, set, src)
	res := SourceResult{Src: src.Src, Dropped: map[filter.Gate]int{}}
	log := rc.Logger
	logSrc := receipt.RedactURL(src.Src)

	ctx, span := otelobs.StartSpan(ctx, "metarefresh.source",
		trace.WithAttributes(
			attribute.String("metarefresh.set", set.Name),
			attribute.String("metarefresh.src", logSrc),
			attribute.Bool("metarefresh.conditional_get", eff.ConditionalGET),
		))
	defer func() {
		span.SetAttributes(
			attribute.String("metarefresh.outcome", res.Outcome.String()),
			attribute.Int("metarefresh.entities", res.Entities),
			attribute.Int("metarefresh.cached", res.Cached),
		)
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, "fallback")
		}
		span.End()
	}()

	fallback := func() {
		n, err := acc.AddCached(ctx, src.Src, eff.Types, prev)
		res.Cached = n
		if err != nil {
			log.Warn(component, "failed to load cached metadata", "set", set.Name, "src", logSrc, "error", err)
			return
		}
		if n > 0 {
			log.Debug(component, "using cached metadata", "set", set.Name, "src", logSrc, "entities", n)
		}
	}

	certs, err := descriptor.LoadCertificates(src.Certificates, rc.certDir())
	if err != nil {
		res.Err = err
		log.Warn(component, "unable to load certificates", "set", set.Name, "src", logSrc, "error", err)
		fallback()
		return res, nil
	}

	var result fetcher.Result
	if fr != nil {
		result = *fr
	} else {
		result = rc.fetch(ctx, src.Src, eff.ConditionalGET)
	}
	res.Outcome = result.Outcome

	switch result.Outcome {
	case fetcher.NotModified:
		log.Debug(component, "source not modified", "set", set.Name, "src", logSrc)
		fallback()
		return res, nil
	case fetcher.Failed:
		res.Err = result.Err
		log.Info(component, "unable to load metadata", "set", set.Name, "src", logSrc, "status", result.Status, "error", result.Err)
		fallback()
		return res, nil
	}

	descs, err := rc.Parser.Parse(result.Body)
	if err != nil {
		res.Err = err
		log.Notice(component, "failed to parse metadata", "set", set.Name, "src", logSrc)
		log.Debug(component, "parse error", "set", set.Name, "src", logSrc, "error", err)
		fallback()
		return res, nil
	}

	pipeline := filter.New(filter.Rules{
		Blacklist:          eff.Blacklist,
		Whitelist:          eff.Whitelist,
		AttributeWhitelist: eff.AttributeWhitelist,
		Certificates:       certs,
		Template:           src.Template,
		RegexTemplates:     src.RegexTemplates,
	})
	for _, d := range descs {
		v := pipeline.Check(d)
		if !v.Keep {
			res.Dropped[v.Gate]++
			if v.Gate == filter.GateSignature {
				log.Notice(component, "skipping entity", "set", set.Name, "src", logSrc, "entityid", d.EntityID(), "reason", v.Reason)
			} else {
				log.Info(component, "skipping entity", "set", set.Name, "src", logSrc, "entityid", d.EntityID(), "reason", v.Reason)
			}
			continue
		}
		tmpl := pipeline.Template(d.EntityID())
		for _, t := range eff.Types {
			rec := descriptor.Project(d, t)
			if rec == nil {
				continue
			}
			acc.Add(src.Src, rec, t, tmpl)
			res.Entities++
		}
	}
	log.Debug(component, "source loaded", "set", set.Name, "src", logSrc, "outcome", result.Outcome.String(), "entities", res.Entities)

	if result.Outcome == fetcher.Fresh && eff.ConditionalGET {
		return res, &pendingState{src: src.Src, validators: result.Validators}
	}
	return res, nil
}
