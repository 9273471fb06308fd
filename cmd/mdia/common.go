package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/kkk0312/mdia/internal/config"
	"github.com/kkk0312/mdia/internal/db"
	"github.com/kkk0312/mdia/internal/llm"
	"github.com/kkk0312/mdia/internal/llm/gemini"
	"github.com/kkk0312/mdia/internal/llm/openaiapi"
	"github.com/kkk0312/mdia/internal/lock"
	"github.com/kkk0312/mdia/internal/metrics"
	"github.com/kkk0312/mdia/internal/pipeline"
	"github.com/kkk0312/mdia/internal/search"
	"github.com/kkk0312/mdia/internal/tools"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// app bundles everything a command needs.
type app struct {
	cfg     config.Config
	db      *sql.DB
	store   *db.Store
	index   search.OnDisk
	metrics *metrics.Metrics
	reg     *tools.Registry
	ctrl    *pipeline.Controller
}

func loadConfig() (config.Config, error) {
	path, required := configPath()
	return config.Load(viper.New(), path, required)
}

func openDB() (*sql.DB, func(), error) {
	storeDB, err := db.Open(filepath.Join(dataDir, "mdia.db"))
	if err != nil {
		return nil, func() {}, err
	}
	return storeDB, func() { _ = storeDB.Close() }, nil
}

func searchIndex() search.OnDisk {
	return search.OnDisk{Path: filepath.Join(dataDir, "reports.bleve")}
}

// openApp loads configuration and wires the store, gateway, tools and
// controller.
func openApp(ctx context.Context) (*app, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, func() {}, err
	}
	storeDB, closeFn, err := openDB()
	if err != nil {
		return nil, func() {}, err
	}
	a := &app{
		cfg:     cfg,
		db:      storeDB,
		store:   db.NewStore(storeDB),
		index:   searchIndex(),
		metrics: metrics.New(),
	}
	gw := a.metrics.Gateway(newGateway(ctx, cfg.Model))
	reg, err := buildRegistry(cfg, gw)
	if err != nil {
		closeFn()
		return nil, func() {}, err
	}
	a.metrics.Instrument(reg)
	a.reg = reg
	a.ctrl = pipeline.New(gw, reg, pipeline.Options{
		MaxModulesPerPage:  cfg.Analysis.MaxModulesPerPage,
		PageConcurrency:    cfg.Analysis.PageConcurrency,
		RepairSummaryChars: cfg.Analysis.RepairSummaryChars,
		Store:              a.store,
		Recorder:           a.metrics,
	})
	return a, closeFn, nil
}

// newGateway defers client construction to the first call so commands that
// never reach the model work without credentials.
func newGateway(ctx context.Context, mc config.ModelConfig) llm.Gateway {
	return llm.NewLazy(func() (llm.Gateway, error) {
		switch mc.Provider {
		case config.ProviderGemini:
			return gemini.NewClient(ctx, gemini.Config{
				Model:     mc.Model,
				BaseURL:   mc.BaseURL,
				APIKey:    mc.APIKey,
				APIKeyEnv: mc.APIKeyEnv,
				Timeout:   mc.Timeout,
			}, nil)
		default:
			return openaiapi.NewClient(openaiapi.Config{
				Model:     mc.Model,
				BaseURL:   mc.BaseURL,
				APIKey:    mc.APIKey,
				APIKeyEnv: mc.APIKeyEnv,
				Timeout:   mc.Timeout,
			}, nil)
		}
	})
}

func buildRegistry(cfg config.Config, gw llm.Gateway) (*tools.Registry, error) {
	reg := tools.NewRegistry(cfg.Tools.Timeout)
	for _, name := range cfg.Tools.Builtin {
		var t tools.Tool
		switch name {
		case tools.StockToolName:
			t = &tools.StockTool{Gateway: gw}
		case tools.FundToolName:
			t = &tools.FundTool{Gateway: gw}
		default:
			return nil, fmt.Errorf("tools.builtin: unknown tool %q", name)
		}
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	for _, ext := range cfg.Tools.External {
		params := make([]tools.Param, 0, len(ext.Params))
		for _, p := range ext.Params {
			params = append(params, tools.Param{Name: p.Name, Type: p.Type, Default: p.Default, Description: p.Description})
		}
		t, err := tools.NewExternalTool(tools.ExternalConfig{
			Name:         ext.Name,
			Description:  ext.Description,
			Cmd:          ext.Cmd,
			Params:       params,
			SystemPrompt: ext.SystemPrompt,
			UseTTY:       ext.UseTTY,
		})
		if err != nil {
			return nil, err
		}
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// resolve loads the analysis named by ref, or the latest one.
func (a *app) resolve(ctx context.Context, ref string) (*analysis.Session, error) {
	s, err := a.store.Resolve(ctx, ref)
	if errors.Is(err, db.ErrNotFound) && ref == "" {
		return nil, fmt.Errorf("no analyses yet; run `mdia analyze` first")
	}
	return s, err
}

// locked runs fn while holding the analysis lock for s. With --lock-wait the
// lock is awaited for up to that long instead of failing at once.
func locked(ctx context.Context, s *analysis.Session, fn func() error) error {
	var (
		l   *lock.Lock
		err error
	)
	if lockWait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, lockWait)
		l, err = lock.Acquire(waitCtx, dataDir, s.ID)
		cancel()
	} else {
		l, err = lock.TryAcquire(dataDir, s.ID)
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Release(); err != nil {
			log.Warn().Err(err).Str("analysis_id", s.ID).Msg("release analysis lock")
		}
	}()
	return fn()
}

// reindex refreshes the search index for s. Index failures are logged, not
// returned.
func (a *app) reindex(s *analysis.Session) {
	if err := a.index.Put(s); err != nil {
		log.Warn().Err(err).Str("analysis_id", s.ID).Msg("update search index")
	}
}
