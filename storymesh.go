// Package storymesh assembles a complete StoryMesh server from a config.Config:
// YAML stores, the lore book and its watcher, the generation gateway, the
// conversation engine, the websocket hub and the HTTP API.
//
// Most applications only need:
//  1. config.Load to read the environment
//  2. New to build the App
//  3. App.Serve to run until the context is cancelled
//
// Individual collaborators can be replaced through Options, which is how tests
// run the whole stack against a scripted completer.
package storymesh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/storymesh/api"
	"github.com/hupe1980/storymesh/config"
	"github.com/hupe1980/storymesh/core"
	"github.com/hupe1980/storymesh/engine"
	"github.com/hupe1980/storymesh/gateway"
	"github.com/hupe1980/storymesh/logging"
	"github.com/hupe1980/storymesh/lore"
	"github.com/hupe1980/storymesh/model"
	"github.com/hupe1980/storymesh/model/anthropic"
	"github.com/hupe1980/storymesh/model/openai"
	"github.com/hupe1980/storymesh/presenter/ws"
	"github.com/hupe1980/storymesh/prompt"
	"github.com/hupe1980/storymesh/schedule"
	"github.com/hupe1980/storymesh/significance"
	"github.com/hupe1980/storymesh/store/yamlstore"
	"github.com/hupe1980/storymesh/telemetry"
)

// Options overrides parts of the assembled App.
type Options struct {
	// Completer replaces the provider selected by the config.
	Completer model.Completer

	// WorldClock supplies in-world time. Defaults to the wall clock.
	WorldClock core.WorldClock

	// Clock drives engine and lore timers. Defaults to schedule.RealClock.
	Clock schedule.Clock

	// Callbacks observe the engine.
	Callbacks *engine.CallbackManager

	// ShutdownTimeout bounds Serve's graceful shutdown.
	ShutdownTimeout time.Duration

	Logger logging.Logger
}

// App is a fully wired StoryMesh server.
type App struct {
	Engine  *engine.Engine
	Gateway *gateway.Gateway
	Hub     *ws.Hub
	Book    *lore.Book
	Handler http.Handler

	cfg     config.Config
	opts    Options
	watcher *lore.Watcher
	logger  logging.Logger
}

// New builds an App from cfg. Nothing is started until Start or Serve.
func New(cfg config.Config, optFns ...func(o *Options)) (*App, error) {
	opts := Options{
		Clock:           schedule.RealClock{},
		ShutdownTimeout: 10 * time.Second,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	completer := opts.Completer
	if completer == nil {
		c, err := NewCompleter(cfg, opts.Logger)
		if err != nil {
			return nil, err
		}
		completer = c
	}

	tracer := telemetry.Tracer()
	gw := gateway.New(completer, func(o *gateway.Options) {
		o.MaxPending = cfg.Gateway.MaxPending
		o.MaxConcurrent = cfg.Gateway.MaxConcurrent
		o.AdmissionWait = cfg.Gateway.AdmissionWait
		o.Logger = opts.Logger
		o.Tracer = tracer
	})

	storeOpts := func(o *yamlstore.Options) { o.Logger = opts.Logger }
	agents := yamlstore.NewAgentStore(cfg.Server.DataDir, storeOpts)
	locations := yamlstore.NewLocationStore(cfg.Server.DataDir, storeOpts)

	book := lore.NewBook()
	hub := ws.NewHub(func(o *ws.Options) { o.Logger = opts.Logger })

	eng, err := engine.New(gw, func(o *engine.Options) {
		o.Config = engine.Config{
			ResponseDelay:     cfg.Engine.ResponseDelay,
			ThinkingDelay:     cfg.Engine.ThinkingDelay,
			AmbientStep:       cfg.Engine.AmbientStep,
			ProximityCooldown: cfg.Engine.AmbientCooldown,
			ChatEnabled:       cfg.Engine.ChatEnabled,
			AmbientEnabled:    cfg.Engine.AmbientEnabled,
		}
		o.Agents = agents
		o.Locations = locations
		o.Presenter = hub
		o.Clock = opts.Clock
		o.Injector = lore.NewInjector(book, agents, func(o *lore.Options) {
			o.Cooldown = cfg.Engine.LoreCooldown
			o.Clock = opts.Clock
			o.Logger = opts.Logger
		})
		o.Pipeline = significance.New(gw, agents, locations, func(o *significance.Options) {
			o.Logger = opts.Logger
			o.Tracer = tracer
		})
		o.Assembler = prompt.New(locations, func(o *prompt.Options) {
			o.GeneralContexts = cfg.Engine.GeneralContexts
		})
		o.Callbacks = opts.Callbacks
		o.Logger = opts.Logger
		if opts.WorldClock != nil {
			o.WorldClock = opts.WorldClock
		}
	})
	if err != nil {
		return nil, err
	}

	return &App{
		Engine:  eng,
		Gateway: gw,
		Hub:     hub,
		Book:    book,
		Handler: api.NewRouter(eng, func(o *api.Options) {
			o.Websocket = hub
			o.Logger = opts.Logger
		}),
		cfg:    cfg,
		opts:   opts,
		logger: logging.With(opts.Logger, "component", "app"),
	}, nil
}

// NewCompleter builds the completer for cfg.Model.Provider.
func NewCompleter(cfg config.Config, logger logging.Logger) (model.Completer, error) {
	timeouts := model.Timeouts{
		Connect: cfg.Gateway.ConnectTimeout,
		Write:   cfg.Gateway.WriteTimeout,
		Read:    cfg.Gateway.ReadTimeout,
	}
	switch cfg.Model.Provider {
	case config.ProviderOpenAI:
		return openai.NewCompleter(func(o *openai.Options) {
			o.Model = cfg.Model.Name
			o.MaxTokens = int64(cfg.Model.MaxTokens)
			o.APIKey = cfg.Model.APIKey
			o.BaseURL = cfg.Model.BaseURL
			o.Timeouts = timeouts
			o.Logger = logger
		}), nil
	case config.ProviderAnthropic:
		return anthropic.NewCompleter(func(o *anthropic.Options) {
			o.Model = anthropicsdk.Model(cfg.Model.Name)
			o.MaxTokens = int64(cfg.Model.MaxTokens)
			o.APIKey = cfg.Model.APIKey
			o.BaseURL = cfg.Model.BaseURL
			o.Timeouts = timeouts
			o.Logger = logger
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Model.Provider)
	}
}

// Start loads the lore directory and, when configured, starts watching it.
func (a *App) Start(ctx context.Context) error {
	if !a.cfg.Server.WatchLore {
		entries, err := lore.LoadDir(a.cfg.Server.LoreDir)
		if err != nil {
			a.logger.Warn("some lore files were skipped", "dir", a.cfg.Server.LoreDir, "error", err)
		}
		a.Book.Replace(entries)
		a.logger.Info("lore loaded", "entries", a.Book.Len())
		return nil
	}

	w, err := lore.NewWatcher(a.cfg.Server.LoreDir, a.Book, func(o *lore.WatcherOptions) {
		o.Logger = a.opts.Logger
	})
	if err != nil {
		return fmt.Errorf("lore watcher: %w", err)
	}
	a.watcher = w
	return w.Start(ctx)
}

// Serve starts the App and serves HTTP on cfg.Server.HTTPAddr until ctx is
// cancelled, then shuts everything down.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.HTTPAddr,
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.opts.ShutdownTimeout)
	defer cancel()

	// Websocket connections are hijacked and not tracked by Shutdown.
	a.Hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("http shutdown: %w", err))
	}
	return errors.Join(serveErr, a.Close(shutdownCtx))
}

// Close stops the lore watcher, the hub and the engine. Ending sessions run
// their significance pipelines before Close returns or ctx expires.
func (a *App) Close(ctx context.Context) error {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.Hub.Close()
	return a.Engine.Close(ctx)
}
