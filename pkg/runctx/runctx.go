// Package runctx holds the immutable snapshot shared by every evaluation in
// one run: run ID, scope definition, blocked manifest and configuration.
// Reloading scope means building a new Context.
package runctx

import (
	"time"

	"github.com/google/uuid"

	"github.com/exploopio/scopeguard/pkg/blocklist"
	"github.com/exploopio/scopeguard/pkg/config"
	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
	"github.com/exploopio/scopeguard/pkg/scope"
)

// Context is read-only after construction.
type Context struct {
	runID     string
	startedAt time.Time
	scope     *scope.Definition
	manifest  *blocklist.Manifest
	cfg       config.Config
}

// Options configures New.
type Options struct {
	// RunID defaults to a random UUID.
	RunID string

	// Scope may be nil: every target then scopes to UNKNOWN.
	Scope *scope.Definition

	// Manifest defaults to blocklist.Default().
	Manifest *blocklist.Manifest

	// Config defaults to config.Default().
	Config *config.Config

	Now func() time.Time
}

// New builds a run context. The configuration is validated and copied.
func New(opts Options) (*Context, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	manifest := opts.Manifest
	if manifest == nil {
		manifest = blocklist.Default()
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	if len(runID) > 64 {
		return nil, sgerrors.Configf("runctx.New", "run id longer than 64 characters")
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	return &Context{
		runID:     runID,
		startedAt: now().UTC(),
		scope:     opts.Scope,
		manifest:  manifest,
		cfg:       *cfg,
	}, nil
}

// Load reads the scope and manifest files named by cfg.Policy and builds a
// run context. A missing manifest path selects the default manifest; a
// missing scope path leaves every target UNKNOWN.
func Load(cfg *config.Config, runID string) (*Context, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	var def *scope.Definition
	if cfg.Policy.ScopeFile != "" {
		d, err := scope.Load(cfg.Policy.ScopeFile)
		if err != nil {
			return nil, err
		}
		def = d
	}

	var manifest *blocklist.Manifest
	if cfg.Policy.BlocklistFile != "" {
		m, err := blocklist.Load(cfg.Policy.BlocklistFile)
		if err != nil {
			return nil, err
		}
		manifest = m
	}

	return New(Options{RunID: runID, Scope: def, Manifest: manifest, Config: cfg})
}

func (c *Context) RunID() string                 { return c.runID }
func (c *Context) StartedAt() time.Time          { return c.startedAt }
func (c *Context) Scope() *scope.Definition      { return c.scope }
func (c *Context) Manifest() *blocklist.Manifest { return c.manifest }

// Config returns a copy of the run configuration.
func (c *Context) Config() config.Config { return c.cfg }

// ScopeContext returns the scope details handed to an arbiter.
func (c *Context) ScopeContext() scope.Context {
	if c.scope == nil {
		return scope.Context{}
	}
	return c.scope.Context()
}
