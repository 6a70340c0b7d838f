package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FinSeries/pkg/config"
	xhttp "FinSeries/pkg/http"
	applogger "FinSeries/pkg/logger"
)

// Component is a long-running part of the application.
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type funcComponent struct {
	start func(context.Context) error
	stop  func(context.Context) error
}

func (f funcComponent) Start(ctx context.Context) error { return f.start(ctx) }
func (f funcComponent) Stop(ctx context.Context) error  { return f.stop(ctx) }

// Func adapts a start/stop pair to Component.
func Func(start, stop func(context.Context) error) Component {
	return funcComponent{start: start, stop: stop}
}

type named struct {
	name string
	c    Component
}

type closer struct {
	name  string
	close func() error
}

// App encapsulates the application lifecycle: components start in the order
// they were added and stop in reverse, then closers release infrastructure.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	http       *xhttp.Server
	components []named
	closers    []closer
}

// New creates an App serving httpServer. The HTTP server starts last so
// requests only arrive once every backing component is running.
func New(cfg *config.Config, l *applogger.Logger, httpServer *xhttp.Server) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{cfg: cfg, log: l, http: httpServer}
}

// AddComponent registers a component started by Run.
func (a *App) AddComponent(name string, c Component) {
	a.components = append(a.components, named{name: name, c: c})
}

// AddCloser registers a resource released after every component stopped.
func (a *App) AddCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, close: fn})
}

// Run starts all components and blocks until ctx is cancelled, then shuts
// down within the configured shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	all := a.components
	if a.http != nil {
		all = append(all, named{name: "http", c: Func(
			func(context.Context) error { return a.http.Start() },
			a.http.Stop,
		)})
	}

	started := make([]named, 0, len(all))
	for _, n := range all {
		if err := n.c.Start(ctx); err != nil {
			a.log.Error("component start failed", applogger.String("component", n.name), applogger.Error(err))
			a.shutdown(started)
			return fmt.Errorf("start %s: %w", n.name, err)
		}
		a.log.Info("component started", applogger.String("component", n.name))
		started = append(started, n)
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return a.shutdown(started)
}

func (a *App) shutdown(started []named) error {
	timeout := 10 * time.Second
	if a.cfg != nil && a.cfg.Server.ShutdownTimeout > 0 {
		timeout = a.cfg.Server.ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		n := started[i]
		if err := n.c.Stop(ctx); err != nil {
			a.log.Warn("component stop error", applogger.String("component", n.name), applogger.Error(err))
			errs = append(errs, fmt.Errorf("stop %s: %w", n.name, err))
		}
	}
	for _, c := range a.closers {
		if err := c.close(); err != nil {
			a.log.Warn("close error", applogger.String("resource", c.name), applogger.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
