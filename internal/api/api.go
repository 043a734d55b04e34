// Package api wires NudgePipe together and serves its HTTP endpoints.
//
// Run builds the store, text generator, chat transport, engine and scheduler
// from module options, then serves the chi router until the context ends.
// RunTick builds the same components for a single timer tick.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/NudgePipe/internal/flavor"
	"github.com/BTreeMap/NudgePipe/internal/flow"
	"github.com/BTreeMap/NudgePipe/internal/genai"
	"github.com/BTreeMap/NudgePipe/internal/messaging"
	"github.com/BTreeMap/NudgePipe/internal/metrics"
	"github.com/BTreeMap/NudgePipe/internal/recovery"
	"github.com/BTreeMap/NudgePipe/internal/scheduler"
	"github.com/BTreeMap/NudgePipe/internal/store"
	"github.com/BTreeMap/NudgePipe/internal/ticklock"
	"github.com/BTreeMap/NudgePipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/NudgePipe/internal/whatsapp"
)

const (
	// DefaultServerAddr is the listen address when none is configured.
	DefaultServerAddr = ":8080"

	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"

	shutdownTimeout = 10 * time.Second
)

// Opts holds the API server and wiring configuration.
type Opts struct {
	Addr               string
	Transport          string
	Timezone           string
	DefaultCheckinHour int
	RedisURL           string
	FlavorFile         string
	TwilioWebhookURL   string
	TwilioAuthToken    string
}

// Option configures Run and RunTick.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTransport selects the chat transport: "whatsapp" or "twilio".
func WithTransport(name string) Option {
	return func(o *Opts) { o.Transport = name }
}

// WithTimezone sets the IANA zone used for check-in hours and cron.
func WithTimezone(tz string) Option {
	return func(o *Opts) { o.Timezone = tz }
}

// WithDefaultCheckinHour sets the check-in hour given to new users.
func WithDefaultCheckinHour(hour int) Option {
	return func(o *Opts) { o.DefaultCheckinHour = hour }
}

// WithRedisURL serializes ticks through Redis instead of an in-process lock.
func WithRedisURL(url string) Option {
	return func(o *Opts) { o.RedisURL = url }
}

// WithFlavorFile loads praise and tiny-step tables from a YAML file.
func WithFlavorFile(path string) Option {
	return func(o *Opts) { o.FlavorFile = path }
}

// WithTwilioWebhook enables X-Twilio-Signature checks for the given public
// webhook URL.
func WithTwilioWebhook(publicURL, authToken string) Option {
	return func(o *Opts) {
		o.TwilioWebhookURL = publicURL
		o.TwilioAuthToken = authToken
	}
}

func newOpts(opts ...Option) Opts {
	cfg := Opts{
		Addr:               DefaultServerAddr,
		Transport:          TransportWhatsApp,
		Timezone:           flow.DefaultTimezone,
		DefaultCheckinHour: flow.DefaultCheckinHour,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Modules groups the per-package options built by the CLI.
type Modules struct {
	WhatsApp []whatsapp.Option
	Twilio   []twiliowhatsapp.Option
	Store    []store.Option
	GenAI    []genai.Option
	API      []Option
}

// components is everything Run and RunTick share.
type components struct {
	opts      Opts
	loc       *time.Location
	store     store.Backend
	metrics   *metrics.Metrics
	svc       messaging.Service
	twilio    *messaging.TwilioService
	messenger *messaging.Messenger
	engine    *flow.Engine
	closers   []func() error
}

func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			slog.Warn("api: close failed", "error", err)
		}
	}
}

// bootstrap builds the components. On error everything opened so far is closed.
func bootstrap(ctx context.Context, mods Modules) (*components, error) {
	c := &components{opts: newOpts(mods.API...), metrics: metrics.New()}
	ready := false
	defer func() {
		if !ready {
			c.close()
		}
	}()

	var err error
	c.loc, err = time.LoadLocation(c.opts.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", c.opts.Timezone, err)
	}

	if len(mods.Store) == 0 {
		slog.Warn("api.bootstrap: no database DSN provided, using in-memory store")
		c.store = store.NewInMemoryStore()
	} else if c.store, err = store.New(mods.Store...); err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	c.closers = append(c.closers, c.store.Close)

	var gen genai.Generator
	if g, genErr := genai.New(mods.GenAI...); genErr != nil {
		slog.Warn("api.bootstrap: text generator unavailable, using local coach", "error", genErr)
	} else {
		gen = g
		if closer, ok := g.(io.Closer); ok {
			c.closers = append(c.closers, closer.Close)
		}
	}

	flavors := flavor.Default()
	if c.opts.FlavorFile != "" {
		if flavors, err = flavor.LoadFile(c.opts.FlavorFile); err != nil {
			return nil, fmt.Errorf("failed to load flavor tables: %w", err)
		}
	}

	engineOpts := []flow.Option{
		flow.WithLocation(c.loc),
		flow.WithMetrics(c.metrics),
		flow.WithDefaultCheckinHour(c.opts.DefaultCheckinHour),
	}
	if c.opts.RedisURL != "" {
		locker, lockErr := ticklock.NewRedisFromURL(ctx, c.opts.RedisURL)
		if lockErr != nil {
			return nil, fmt.Errorf("failed to connect tick locker: %w", lockErr)
		}
		c.closers = append(c.closers, locker.Close)
		engineOpts = append(engineOpts, flow.WithLocker(locker))
		slog.Info("api.bootstrap: ticks serialized through Redis")
	}

	if err := c.openTransport(ctx, mods); err != nil {
		return nil, err
	}
	c.messenger = messaging.NewMessenger(c.svc, c.metrics)

	coach := flow.NewCoach(gen, flow.WithCoachMetrics(c.metrics))
	c.engine = flow.NewEngine(c.store, c.messenger, coach, flavors, engineOpts...)
	ready = true
	return c, nil
}

func (c *components) openTransport(ctx context.Context, mods Modules) error {
	switch c.opts.Transport {
	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient(mods.Twilio...)
		if err != nil {
			return fmt.Errorf("failed to create Twilio client: %w", err)
		}
		var svcOpts []messaging.TwilioOption
		if c.opts.TwilioWebhookURL != "" && c.opts.TwilioAuthToken != "" {
			validator := twiliowhatsapp.NewWebhookValidator(c.opts.TwilioAuthToken)
			svcOpts = append(svcOpts, messaging.WithSignatureValidation(validator, c.opts.TwilioWebhookURL))
		} else {
			slog.Warn("api.openTransport: Twilio webhook signature validation disabled")
		}
		c.twilio = messaging.NewTwilioService(client, svcOpts...)
		c.svc = c.twilio
	case TransportWhatsApp:
		client, err := whatsapp.NewClient(ctx, mods.WhatsApp...)
		if err != nil {
			return fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		c.closers = append(c.closers, func() error { client.Disconnect(); return nil })
		c.svc = messaging.NewWhatsAppService(client)
	default:
		return fmt.Errorf("unknown transport %q", c.opts.Transport)
	}
	c.closers = append(c.closers, c.svc.Stop)
	slog.Info("api.openTransport: transport ready", "transport", c.opts.Transport)
	return nil
}

// scheduleJobs registers the timer ticks and the daily metrics reset.
func scheduleJobs(ctx context.Context, sched *scheduler.Scheduler, engine *flow.Engine, m *metrics.Metrics) error {
	tick := func(kind flow.TickKind) func() {
		return func() {
			if _, err := engine.Tick(ctx, kind); err != nil {
				slog.Error("api: scheduled tick failed", "kind", kind, "error", err)
			}
		}
	}
	jobs := []struct {
		name string
		spec string
		task func()
	}{
		{"daily-checkin", scheduler.DailySpec, tick(flow.TickDaily)},
		{"weekly-insight", scheduler.WeeklySpec, tick(flow.TickWeekly)},
		{"session-nudge", scheduler.SessionSpec, tick(flow.TickSession)},
		{"metrics-reset", scheduler.MetricsResetSpec, func() { m.Reset() }},
	}
	for _, j := range jobs {
		if err := sched.AddNamedJob(j.name, j.spec, j.task); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", j.name, err)
		}
	}
	return nil
}

// Run starts the bot and blocks until ctx is canceled or the HTTP server fails.
func Run(ctx context.Context, mods Modules) error {
	c, err := bootstrap(ctx, mods)
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	if err := recoverState(ctx, c); err != nil {
		slog.Warn("api.Run: startup recovery incomplete", "error", err)
	}
	rh := messaging.NewResponseHandler(c.engine, c.messenger, c.store)
	rh.Start(ctx)

	sched := scheduler.NewScheduler(scheduler.WithLocation(c.loc))
	defer func() { <-sched.Stop().Done() }()
	if err := scheduleJobs(ctx, sched, c.engine, c.metrics); err != nil {
		return err
	}

	srv := NewServer(c.engine, c.messenger.Service(), c.metrics, WithTwilioService(c.twilio))
	httpServer := &http.Server{
		Addr:              c.opts.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("api.Run: HTTP server listening", "addr", c.opts.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("api.Run: shutting down", "reason", ctx.Err())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("api.Run: HTTP shutdown incomplete", "error", err)
	}
	return nil
}

// recoverState runs the startup recovery components against c.
func recoverState(ctx context.Context, c *components) error {
	rm := recovery.NewManager(c.store)
	rm.RegisterTickRecovery(c.engine.Tick)
	rm.RegisterRecoverable(recovery.NewSessionRecovery(c.engine))
	return rm.RecoverAll(ctx)
}

// RunTick runs one timer tick of the given kind and returns its result.
func RunTick(ctx context.Context, mods Modules, kind flow.TickKind) (flow.TickResult, error) {
	c, err := bootstrap(ctx, mods)
	if err != nil {
		return flow.TickResult{Kind: kind}, err
	}
	defer c.close()
	return c.engine.Tick(ctx, kind)
}
