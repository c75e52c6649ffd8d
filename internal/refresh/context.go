// Package refresh runs configured refresh sets: it fetches every source
// of a set, filters and accumulates its entities, guards the result with
// policy rules and writes the set's outputs.
package refresh

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/metarefresh/metarefresh/internal/descriptor"
	"github.com/metarefresh/metarefresh/internal/fetcher"
	"github.com/metarefresh/metarefresh/internal/models"
	"github.com/metarefresh/metarefresh/internal/observability/logging"
	"github.com/metarefresh/metarefresh/internal/policy"
	"github.com/metarefresh/metarefresh/internal/state"
	"github.com/metarefresh/metarefresh/internal/store"
)

const component = "refresh"

// ErrConfiguration marks a set that cannot run as configured. The set is
// skipped and the run continues with the next one.
var ErrConfiguration = errors.New("configuration error")

// Fetcher retrieves one source.
type Fetcher interface {
	Fetch(ctx context.Context, src string, conditional bool, prior models.SourceState) fetcher.Result
}

// StoreOpener opens the output sink of a set.
type StoreOpener func(ctx context.Context, set models.Set, opts store.Options) (store.Store, error)

// Options of an Orchestrator. Zero values select the defaults.
type Options struct {
	// Cron restricts the run to sets carrying this tag.
	Cron string
	// StateFile overrides the configured state file location.
	StateFile string
	// BaseDir resolves relative certificate, attribute map and ARP paths.
	BaseDir string

	Fetcher   Fetcher
	Parser    descriptor.Parser
	OpenStore StoreOpener
	Now       func() time.Time
}

// Orchestrator runs the sets of one configuration.
type Orchestrator struct {
	cfg  *models.Config
	opts Options
}

// New orchestrator. A nil Fetcher uses the default HTTP client and a nil
// Parser the bundled SAML parser.
func New(cfg *models.Config, opts Options) *Orchestrator {
	if opts.Fetcher == nil {
		opts.Fetcher = fetcher.New(nil)
	}
	if opts.Parser == nil {
		opts.Parser = descriptor.NewSAMLParser()
	}
	if opts.OpenStore == nil {
		opts.OpenStore = openStore
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{cfg: cfg, opts: opts}
}

func openStore(ctx context.Context, set models.Set, opts store.Options) (store.Store, error) {
	return store.Open(ctx, set.Format(), opts)
}

// RefreshContext is the state shared by every set and source of one
// invocation. It is created by Run and passed down explicitly.
type RefreshContext struct {
	Config  *models.Config
	State   *state.Store
	Fetcher Fetcher
	Parser  descriptor.Parser
	Policy  *policy.Engine
	Logger  logging.Logger
	BaseDir string
	// Now is fixed for the whole invocation.
	Now time.Time
	// Parallelism bounds concurrent fetches within a set.
	Parallelism int
}

// StateFilePath resolves where cache validators are kept: the override,
// the configured file, or the default file inside the data directory.
// Configured paths are relative to baseDir; the override is taken as
// given. It returns "" when state is not persisted.
func StateFilePath(cfg *models.Config, override, baseDir string) string {
	var path string
	switch {
	case override != "":
		return override
	case cfg.StateFile != "":
		path = cfg.StateFile
	case cfg.DataDir != "":
		path = filepath.Join(cfg.DataDir, models.DefaultStateFileName)
	default:
		return ""
	}
	if baseDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return path
}

func (o *Orchestrator) newContext(ctx context.Context) (*RefreshContext, error) {
	log := logging.From(ctx)

	path := StateFilePath(o.cfg, o.opts.StateFile, o.opts.BaseDir)
	st, err := state.Load(path)
	if err != nil {
		log.Warn(component, "starting with empty cache state", "path", path, "error", err)
	}

	engine, err := policy.NewEngine()
	if err != nil {
		return nil, err
	}

	return &RefreshContext{
		Config:      o.cfg,
		State:       st,
		Fetcher:     o.opts.Fetcher,
		Parser:      o.opts.Parser,
		Policy:      engine,
		Logger:      log,
		BaseDir:     o.opts.BaseDir,
		Now:         o.opts.Now(),
		Parallelism: o.cfg.Parallelism,
	}, nil
}

func (rc *RefreshContext) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || rc.BaseDir == "" {
		return path
	}
	return filepath.Join(rc.BaseDir, path)
}

func (rc *RefreshContext) certDir() string {
	if rc.Config.CertDir != "" {
		return rc.resolve(rc.Config.CertDir)
	}
	return rc.BaseDir
}
