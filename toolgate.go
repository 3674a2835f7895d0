// Package toolgate provides a top-level entry point that assembles the
// sandbox components from one configuration.
//
// Usage:
//
//	import "github.com/agentsphere/toolgate"
//
//	gw, err := toolgate.New(cfg, logger)
//	defer gw.Close()
//
//	result, err := gw.Commands.Execute(ctx, "session-1", "ls -la", 0)
//	page, err := gw.Fetcher.Fetch(ctx, "https://example.com")
//
// Every component can also be constructed directly from its own package
// when only a subset is needed.
package toolgate

import (
	"go.uber.org/zap"

	"github.com/agentsphere/toolgate/apitool"
	"github.com/agentsphere/toolgate/audit"
	"github.com/agentsphere/toolgate/coderun"
	"github.com/agentsphere/toolgate/command"
	"github.com/agentsphere/toolgate/config"
	"github.com/agentsphere/toolgate/fetch"
	"github.com/agentsphere/toolgate/sandboxrpc"
	"github.com/agentsphere/toolgate/search"
	"github.com/agentsphere/toolgate/session"
	"github.com/agentsphere/toolgate/workspace"
)

// Gateway bundles the sandbox components behind one construction point.
type Gateway struct {
	Workspaces *workspace.Resolver
	Sessions   *session.Registry
	Commands   *command.Executor
	Code       *coderun.Runner
	Fetcher    *fetch.Fetcher
	Search     *search.Provider
	APILoader  *apitool.Loader
	Audit      *audit.Store

	fetchCache *fetch.Cache
	logger     *zap.Logger
}

// New assembles a gateway from cfg. Optional pieces (audit store,
// fetch cache) are only created when enabled in the config.
func New(cfg *config.Config, logger *zap.Logger) (*Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var auditor *audit.Store
	if cfg.Audit.Enabled {
		store, err := audit.NewStore(audit.Config{Path: cfg.Audit.Path}, logger)
		if err != nil {
			return nil, err
		}
		auditor = store
	}

	resolver, err := workspace.NewResolver(workspace.ResolverConfig{
		Root:       cfg.Workspace.Root,
		SharedRoot: cfg.Workspace.SharedDir,
		Guard: workspace.GuardConfig{
			AllowTemp:      cfg.Workspace.AllowTemp,
			AllowCallerCwd: cfg.Workspace.AllowCwd,
		},
	}, logger)
	if err != nil {
		return nil, err
	}

	registry := session.NewRegistry(session.RegistryConfig{
		MaxSessions: cfg.Session.MaxSessions,
		IdleTTL:     cfg.Session.IdleTTL,
	}, resolver, logger)

	executor := command.NewExecutor(command.ExecutorConfig{
		DefaultTimeout:  cfg.Command.DefaultTimeout,
		MaxTimeout:      cfg.Command.MaxTimeout,
		MaxOutputBytes:  cfg.Command.MaxOutputChars,
		AllowedBinaries: append(command.DefaultAllowlist(), cfg.Command.ExtraAllowed...),
	}, registry, auditor, logger)

	rpc := sandboxrpc.NewClient(sandboxrpc.Config{
		BaseURL: cfg.SandboxRPC.BaseURL,
		Timeout: cfg.SandboxRPC.Timeout,
	}, logger)

	runner := coderun.NewRunner(coderun.RunnerConfig{
		DefaultTimeout: cfg.CodeRun.DefaultTimeout,
		MaxTimeout:     cfg.CodeRun.MaxTimeout,
	}, registry, rpc, auditor, logger)

	var cache *fetch.Cache
	if cfg.Fetch.CacheEnabled {
		cache, err = fetch.NewCache(fetch.CacheConfig{
			Addr: cfg.Fetch.CacheAddr,
			TTL:  cfg.Fetch.CacheTTL,
		}, logger)
		if err != nil {
			return nil, err
		}
	}
	fetcher := fetch.NewFetcher(fetch.Config{
		RequestTimeout: cfg.Fetch.RequestTimeout,
		MaxConcurrency: cfg.Fetch.MaxConcurrency,
		TotalCharsCap:  cfg.Fetch.TotalCharsCap,
		MaxPageChars:   cfg.Fetch.MaxPageChars,
	}, cache, logger)

	searcher := search.NewProvider(search.Config{
		BaseURL:    cfg.Search.BaseURL,
		APIKey:     cfg.Search.APIKey,
		Timeout:    cfg.Search.Timeout,
		MaxResults: cfg.Search.MaxResults,
	}, logger)

	return &Gateway{
		Workspaces: resolver,
		Sessions:   registry,
		Commands:   executor,
		Code:       runner,
		Fetcher:    fetcher,
		Search:     searcher,
		APILoader:  apitool.NewLoader(cfg.APITool.Timeout, logger),
		Audit:      auditor,
		fetchCache: cache,
		logger:     logger,
	}, nil
}

// Close releases every session and the optional backing stores.
func (g *Gateway) Close() error {
	var firstErr error
	if err := g.Sessions.CloseAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	if g.fetchCache != nil {
		if err := g.fetchCache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if g.Audit != nil {
		if err := g.Audit.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
