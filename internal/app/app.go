// Package app assembles the syndication service: config, logging, adapters,
// ledger, archive and engine.
package app

import (
	"fmt"
	"sort"
	"strings"

	"towncrier/internal/archive"
	"towncrier/internal/config"
	"towncrier/internal/engine"
	"towncrier/internal/eventbus"
	"towncrier/internal/platform"
	"towncrier/internal/platform/devto"
	"towncrier/internal/platform/github"
	"towncrier/internal/platform/hackernews"
	"towncrier/internal/platform/linkedin"
	"towncrier/internal/platform/reddit"
	"towncrier/internal/platform/telegram"
	"towncrier/internal/platform/twitter"
	"towncrier/internal/publication"
	"towncrier/internal/tool"
	"towncrier/pkg/logx"
)

// factories maps platform names to their adapter constructors. A config
// block under an unknown name is a load-time error.
var factories = map[string]func(config.PlatformConfig, platform.Deps) (platform.Adapter, error){
	reddit.Name:     func(pc config.PlatformConfig, d platform.Deps) (platform.Adapter, error) { return reddit.New(pc, d) },
	devto.Name:      func(pc config.PlatformConfig, d platform.Deps) (platform.Adapter, error) { return devto.New(pc, d) },
	github.Name:     func(pc config.PlatformConfig, d platform.Deps) (platform.Adapter, error) { return github.New(pc, d) },
	linkedin.Name:   func(pc config.PlatformConfig, d platform.Deps) (platform.Adapter, error) { return linkedin.New(pc, d) },
	twitter.Name:    func(pc config.PlatformConfig, d platform.Deps) (platform.Adapter, error) { return twitter.New(pc, d) },
	hackernews.Name: func(pc config.PlatformConfig, d platform.Deps) (platform.Adapter, error) { return hackernews.New(pc, d) },
	telegram.Name:   func(pc config.PlatformConfig, d platform.Deps) (platform.Adapter, error) { return telegram.New(pc, d) },
}

// KnownPlatforms returns every platform name an adapter exists for, sorted.
func KnownPlatforms() []string {
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// App owns the assembled service.
type App struct {
	Manager *config.Manager
	LogSvc  *logx.Service
	Log     logx.Logger

	Bus      eventbus.Bus
	Registry *platform.Registry
	Ledger   *publication.Ledger
	Source   tool.Source
	Archive  *archive.Store
	Engine   *engine.Engine
}

// New loads the config and assembles everything. The returned App must be
// Closed when done.
func New(configPath string) (*App, error) {
	mgr := config.NewManager(configPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	mgr.SetLogger(log.With(logx.String("component", "config")))

	a := &App{
		Manager: mgr,
		LogSvc:  logSvc,
		Log:     log,
		Bus:     eventbus.New(),
		Ledger:  publication.NewLedger(),
	}

	if cfg.ToolsDir != "" {
		a.Source = tool.NewDirSource(cfg.ToolsDir)
	}

	if cfg.Archive != nil && cfg.Archive.Driver == "sqlite" {
		store, serr := archive.Open(cfg.Archive.Path, log)
		if serr != nil {
			_ = logSvc.Close()
			return nil, serr
		}
		a.Archive = store
	}

	reg, err := buildRegistry(cfg, platform.Deps{
		Log:            log,
		Bus:            a.Bus,
		DefaultRetries: cfg.DefaultRetries,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Registry = reg

	a.Engine = engine.New(engine.Config{
		Registry:       reg,
		Ledger:         a.Ledger,
		Source:         a.Source,
		Log:            log,
		Bus:            a.Bus,
		Recorder:       a.Archive,
		DefaultRetries: cfg.DefaultRetries,
		MaxConcurrency: cfg.Concurrency,
	})
	return a, nil
}

// buildRegistry constructs an adapter for every configured platform,
// enabled or not, so validation can inspect disabled blocks too.
func buildRegistry(cfg *config.Config, deps platform.Deps) (*platform.Registry, error) {
	reg := platform.NewRegistry()
	for name, pc := range cfg.Platforms {
		factory, ok := factories[name]
		if !ok {
			return nil, fmt.Errorf("platforms.%s: unknown platform (known: %s)", name, strings.Join(KnownPlatforms(), ", "))
		}
		if pc.TitleTemplate == "" {
			pc.TitleTemplate = cfg.TitleTemplateFor(name)
		}
		ad, err := factory(pc, deps)
		if err != nil {
			return nil, fmt.Errorf("platforms.%s: %w", name, err)
		}
		reg.Register(ad)
	}
	return reg, nil
}

// ValidateConfigs runs every adapter's structural validation and returns
// the problems found, keyed by platform.
func (a *App) ValidateConfigs() map[string][]string {
	problems := map[string][]string{}
	for _, name := range a.Registry.Names() {
		ad, _ := a.Registry.Get(name)
		if v := ad.ValidateConfig(); !v.Valid {
			problems[name] = v.Errors
		}
	}
	return problems
}

func (a *App) Close() {
	if a.Archive != nil {
		_ = a.Archive.Close()
	}
	if a.LogSvc != nil {
		_ = a.LogSvc.Close()
	}
}
