package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/backoff"
	"github.com/xraph/escrow/bank"
	"github.com/xraph/escrow/dlq"
	"github.com/xraph/escrow/event"
	"github.com/xraph/escrow/ext"
	mw "github.com/xraph/escrow/middleware"
	"github.com/xraph/escrow/observability"
	"github.com/xraph/escrow/payment"
	"github.com/xraph/escrow/recovery"
	"github.com/xraph/escrow/saga"
	"github.com/xraph/escrow/shop"
	"github.com/xraph/escrow/store"
	"github.com/xraph/escrow/stream"
	"github.com/xraph/escrow/widget"
	"github.com/xraph/escrow/workflow"
)

const instrumentationName = "github.com/xraph/escrow"

// DefaultStepTimeout bounds a single step body unless WithStepTimeout
// overrides it.
const DefaultStepTimeout = 30 * time.Second

// Engine holds every wired subsystem. Create one with New.
type Engine struct {
	cfg         escrow.Config
	store       store.Store
	engineStore store.Engine
	logger      *slog.Logger

	extensions *ext.Registry
	userExts   []ext.Extension
	metrics    *observability.MetricsExtension
	stream     *stream.Broker
	mws        []mw.Middleware
	stepTO     time.Duration
	httpClient *http.Client
	backoff    backoff.Strategy

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	promRegistry   *prometheus.Registry

	registry *workflow.Registry
	steps    *workflow.Steps
	bus      *event.Bus
	runner   *workflow.Runner
	dlq      *dlq.Service
	recovery *recovery.Scheduler
	callout  *saga.Callout

	bank    *bank.Bank
	shop    *shop.Shop
	widget  *widget.Shop
	payment *payment.Processor
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the aggregate store holding both the engine records and
// the business ledgers. It is required.
func WithStore(s store.Store) Option {
	return func(eng *Engine) { eng.store = s }
}

// WithEngineStore keeps executions, checkpoints, signals, messages and
// dead letters in s instead of the aggregate store. Business records stay
// in the store given to WithStore.
func WithEngineStore(s store.Engine) Option {
	return func(eng *Engine) { eng.engineStore = s }
}

// WithConfig sets the configuration. DefaultConfig is used otherwise.
func WithConfig(cfg escrow.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithLogger sets the logger shared by every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.userExts = append(eng.userExts, e) }
}

// WithMiddleware adds step middleware after the default chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithStepTimeout bounds every step body. Zero disables the bound.
func WithStepTimeout(d time.Duration) Option {
	return func(eng *Engine) { eng.stepTO = d }
}

// WithHTTPClient sets the client used for remote callouts.
func WithHTTPClient(c *http.Client) Option {
	return func(eng *Engine) { eng.httpClient = c }
}

// WithBackoff sets the delay strategy between automatic dead letter
// retries.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.backoff = b }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware. If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// WithPrometheusRegistry registers the execution metrics with registry.
// Without it every engine gets its own isolated registry.
func WithPrometheusRegistry(registry *prometheus.Registry) Option {
	return func(eng *Engine) { eng.promRegistry = registry }
}

// New builds an Engine. It fails when no store is configured or the
// configuration is invalid.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{
		cfg:    escrow.DefaultConfig(),
		logger: slog.Default(),
		stepTO: DefaultStepTimeout,
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.store == nil {
		return nil, escrow.ErrNoStore
	}
	if err := eng.cfg.Validate(); err != nil {
		return nil, err
	}
	if eng.engineStore == nil {
		eng.engineStore = eng.store
	}

	eng.extensions = ext.NewRegistry(eng.logger)
	eng.metrics = observability.NewMetricsExtensionWithRegistry(eng.promRegistry)
	eng.extensions.Register(eng.metrics)
	eng.stream = stream.NewBroker(eng.logger)
	eng.extensions.Register(eng.stream)

	eng.registry = workflow.NewRegistry()
	eng.steps = workflow.NewSteps()
	eng.bus = event.NewBus(eng.engineStore,
		event.WithPollInterval(eng.cfg.SignalPollInterval),
		event.WithLogger(eng.logger),
	)
	eng.runner = workflow.NewRunner(eng.registry, eng.engineStore, eng.bus,
		workflow.WithLogger(eng.logger),
		workflow.WithEmitter(eng.extensions),
		workflow.WithSteps(eng.steps),
		workflow.WithMiddleware(eng.middleware()...),
	)

	dlqOpts := []dlq.Option{
		dlq.WithMaxRetries(eng.cfg.MaxFatalRetries),
		dlq.WithLogger(eng.logger),
	}
	if eng.backoff != nil {
		dlqOpts = append(dlqOpts, dlq.WithBackoff(eng.backoff))
	}
	eng.dlq = dlq.NewService(eng.engineStore, eng.runner, dlqOpts...)
	eng.extensions.Register(&deadLetterHook{dlq: eng.dlq, emit: eng.extensions})
	for _, e := range eng.userExts {
		eng.extensions.Register(e)
	}

	rec, err := recovery.NewScheduler(eng.runner, eng.dlq, eng.extensions,
		recovery.WithSchedule(eng.cfg.RecoverySchedule),
		recovery.WithStaleAfter(eng.cfg.StaleAfter),
		recovery.WithLogger(eng.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", escrow.ErrInvalidConfig, err)
	}
	eng.recovery = rec

	calloutOpts := []saga.CalloutOption{
		saga.WithTimeout(eng.cfg.CalloutTimeout),
		saga.WithRateLimit(eng.cfg.CalloutRateLimit),
		saga.WithCalloutLogger(eng.logger),
	}
	if eng.httpClient != nil {
		calloutOpts = append(calloutOpts, saga.WithHTTPClient(eng.httpClient))
	}
	eng.callout = saga.NewCallout(calloutOpts...)

	eng.bank = bank.New(eng.store, eng.callout, eng.cfg, bank.WithLogger(eng.logger))
	eng.shop = shop.New(eng.store, eng.callout, eng.cfg, shop.WithLogger(eng.logger))
	eng.widget = widget.New(eng.store, eng.cfg, widget.WithLogger(eng.logger))
	eng.payment = payment.NewProcessor(eng.store, eng.callout, eng.cfg, payment.WithLogger(eng.logger))

	eng.bank.Register(eng.registry, eng.steps)
	eng.shop.Register(eng.registry, eng.steps)
	eng.widget.Register(eng.registry, eng.steps)
	eng.payment.Register(eng.registry, eng.steps)

	return eng, nil
}

// middleware builds the step chain: recover, tracing, metrics, logging,
// timeout, then any user middleware.
func (eng *Engine) middleware() []mw.Middleware {
	tracing := mw.Tracing()
	if eng.tracerProvider != nil {
		tracing = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	}
	metrics := mw.Metrics()
	if eng.meterProvider != nil {
		metrics = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	}

	chain := []mw.Middleware{
		mw.Recover(eng.logger),
		tracing,
		metrics,
		mw.Logging(eng.logger),
		mw.Timeout(eng.stepTO),
	}
	return append(chain, eng.mws...)
}

// Start seeds the widget, resumes every execution left running by a
// previous process and starts the recovery scheduler.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.widget.Seed(ctx); err != nil {
		return err
	}

	n, err := eng.runner.ResumeAll(ctx)
	if err != nil {
		eng.logger.Warn("failed to resume executions", slog.String("error", err.Error()))
	} else if n > 0 {
		eng.logger.Info("resumed executions", slog.Int("count", n))
	}

	if err := eng.recovery.Start(ctx); err != nil {
		return fmt.Errorf("start recovery scheduler: %w", err)
	}
	return nil
}

// Stop halts the recovery scheduler, interrupts in-flight executions and
// notifies extensions. Interrupted executions resume on the next Start.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.recovery.Stop(ctx); err != nil {
		eng.logger.Error("recovery scheduler stop error", slog.String("error", err.Error()))
	}
	err := eng.runner.Shutdown(ctx)
	eng.extensions.EmitShutdown(ctx)
	return err
}

// Config returns the engine configuration.
func (eng *Engine) Config() escrow.Config { return eng.cfg }

// Store returns the aggregate store.
func (eng *Engine) Store() store.Store { return eng.store }

// EngineStore returns the store holding executions and dead letters.
func (eng *Engine) EngineStore() store.Engine { return eng.engineStore }

// Logger returns the engine logger.
func (eng *Engine) Logger() *slog.Logger { return eng.logger }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Metrics returns the Prometheus metrics extension.
func (eng *Engine) Metrics() *observability.MetricsExtension { return eng.metrics }

// Stream returns the live lifecycle event broker.
func (eng *Engine) Stream() *stream.Broker { return eng.stream }

// Runner returns the durable workflow runner.
func (eng *Engine) Runner() *workflow.Runner { return eng.runner }

// Bus returns the event bus.
func (eng *Engine) Bus() *event.Bus { return eng.bus }

// DLQService returns the dead letter service.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlq }

// Recovery returns the recovery scheduler.
func (eng *Engine) Recovery() *recovery.Scheduler { return eng.recovery }

// Bank returns the bank workflows.
func (eng *Engine) Bank() *bank.Bank { return eng.bank }

// Shop returns the e-commerce checkout.
func (eng *Engine) Shop() *shop.Shop { return eng.shop }

// Widget returns the widget store.
func (eng *Engine) Widget() *widget.Shop { return eng.widget }

// Payment returns the mock payment processor.
func (eng *Engine) Payment() *payment.Processor { return eng.payment }
