package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-payflow/internal/aws"
	"github.com/imrishuroy/go-payflow/internal/config"
	"github.com/imrishuroy/go-payflow/internal/deadletter"
	"github.com/imrishuroy/go-payflow/internal/gateway"
	"github.com/imrishuroy/go-payflow/internal/handlers"
	"github.com/imrishuroy/go-payflow/internal/idempotency"
	"github.com/imrishuroy/go-payflow/internal/intake"
	"github.com/imrishuroy/go-payflow/internal/kvstore"
	"github.com/imrishuroy/go-payflow/internal/monitor"
	"github.com/imrishuroy/go-payflow/internal/notify"
	"github.com/imrishuroy/go-payflow/internal/orders"
	"github.com/imrishuroy/go-payflow/internal/payments"
	"github.com/imrishuroy/go-payflow/internal/queue"
	"github.com/imrishuroy/go-payflow/internal/ratelimit"
	"github.com/imrishuroy/go-payflow/internal/tokenizer"
	"go.uber.org/zap"
)

// App holds every long-lived component of the pipeline. The api, worker and
// ctl binaries build one and use the parts they need.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	KV      kvstore.Store
	Orders  orders.Repository
	Backend queue.Backend
	Queue   *queue.Manager
	Tokens  *tokenizer.Tokenizer
	Gateway gateway.Gateway
	Sender  notify.Sender
	Ledger  *idempotency.Ledger
	Limiter *ratelimit.Limiter

	Intake     *intake.Service
	Reconciler *intake.Reconciler
	DeadLetter *deadletter.Handler
	Monitor    *monitor.Fanout

	aws     *aws.AWSClients
	closers []func() error
	once    sync.Once
}

// Option overrides a component that New would otherwise build from config.
type Option func(*App)

func WithAWSClients(c *aws.AWSClients) Option { return func(a *App) { a.aws = c } }

func WithKV(kv kvstore.Store) Option { return func(a *App) { a.KV = kv } }

func WithOrders(repo orders.Repository) Option { return func(a *App) { a.Orders = repo } }

func WithBackend(b queue.Backend) Option { return func(a *App) { a.Backend = b } }

func WithGateway(gw gateway.Gateway) Option { return func(a *App) { a.Gateway = gw } }

func WithSender(s notify.Sender) Option { return func(a *App) { a.Sender = s } }

// New builds the components named by cfg. Nothing is started.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	for _, o := range opts {
		o(a)
	}

	steps := []func(context.Context) error{
		a.buildKV,
		a.buildOrders,
		a.buildBackend,
		a.buildGateway,
		a.buildSender,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			_ = a.closeAll()
			return nil, err
		}
	}

	a.Ledger = idempotency.NewLedger(a.KV, cfg.IdempotencyTTL)
	a.Limiter = ratelimit.NewLimiter(a.KV)
	a.Queue = queue.NewManager(a.Backend, a.KV, logger.Named("queue"), queue.Options{
		Defaults: queue.JobOptions{
			Attempts: cfg.Queue.Attempts,
			Backoff: queue.Backoff{
				Type:   queue.BackoffExponential,
				Delay:  cfg.Queue.BackoffDelay,
				Jitter: cfg.Queue.BackoffJitter,
			},
		},
		StatusTTL:     cfg.Queue.StatusTTL,
		DeadLetterTTL: cfg.Queue.DeadLetterTTL,
		PollWait:      cfg.Queue.PollWait,
	})
	a.Intake = intake.NewService(a.Orders, a.Queue, a.Ledger, a.KV, logger.Named("intake"))
	a.Reconciler = intake.NewReconciler(a.Orders, a.Queue, a.KV, cfg.ReconcileInterval, logger.Named("reconciler"))
	a.DeadLetter = deadletter.NewHandler(a.Queue, queue.PaymentProcessingDLQ, logger.Named("dlq"))

	sinks, err := a.buildSinks(ctx)
	if err != nil {
		_ = a.closeAll()
		return nil, err
	}
	a.Monitor = monitor.NewFanout(a.Queue.Events(), logger.Named("monitor"), sinks...)
	a.closers = append(a.closers, a.Monitor.Close)

	return a, nil
}

// awsClients loads the SDK clients the first time a component needs them.
func (a *App) awsClients(ctx context.Context) (*aws.AWSClients, error) {
	if a.aws != nil {
		return a.aws, nil
	}
	clients, err := aws.NewAWSClients(ctx, a.Config.AWSRegion, a.Config.AWSEndpoint)
	if err != nil {
		return nil, fmt.Errorf("init aws clients: %w", err)
	}
	a.aws = clients
	return clients, nil
}

func (a *App) buildKV(ctx context.Context) error {
	if a.KV != nil {
		return nil
	}
	switch a.Config.KV.Backend {
	case config.BackendRedis:
		store := kvstore.NewRedisStore(a.Config.KV.RedisAddr, a.Config.KV.RedisPassword, a.Config.KV.RedisDB)
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return fmt.Errorf("connect redis: %w", err)
		}
		a.KV = store
	case config.BackendMemory:
		a.KV = kvstore.NewMemoryStore()
	default:
		clients, err := a.awsClients(ctx)
		if err != nil {
			return err
		}
		a.KV = kvstore.NewDynamoStore(clients.DynamoDB, a.Config.KV.Table)
	}
	a.closers = append(a.closers, a.KV.Close)
	return nil
}

func (a *App) buildOrders(ctx context.Context) error {
	if a.Orders != nil {
		return nil
	}
	if a.Config.Orders.Backend == config.BackendPostgres {
		if err := orders.Migrate(a.Config.Orders.DatabaseURL); err != nil {
			return err
		}
		pool, err := orders.NewPool(ctx, a.Config.Orders.DatabaseURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		a.Orders = orders.NewPostgresStore(pool, a.Logger.Named("orders"))
		return nil
	}
	clients, err := a.awsClients(ctx)
	if err != nil {
		return err
	}
	a.Orders = orders.NewDynamoStore(clients.DynamoDB, a.Config.Orders.Table)
	return nil
}

func (a *App) buildBackend(ctx context.Context) error {
	if a.Backend != nil {
		return nil
	}
	if a.Config.Queue.Backend == config.BackendMemory {
		a.Backend = queue.NewMemoryBackend(a.Config.Queue.VisibilityTimeout)
		return nil
	}
	clients, err := a.awsClients(ctx)
	if err != nil {
		return err
	}
	a.Backend = queue.NewSQSBackend(clients.SQS, map[string]string{
		queue.PaymentProcessing:    a.Config.Queue.PaymentURL,
		queue.EmailNotifications:   a.Config.Queue.EmailURL,
		queue.PaymentProcessingDLQ: a.Config.Queue.DeadLetterURL,
	}, a.Config.Queue.VisibilityTimeout)
	return nil
}

func (a *App) buildGateway(ctx context.Context) error {
	tokens, err := tokenizer.New(a.Config.CardTokenKey, a.Config.CardTokenTTL)
	if err != nil {
		return fmt.Errorf("init tokenizer: %w", err)
	}
	a.Tokens = tokens
	if a.Gateway != nil {
		return nil
	}
	if a.Config.Gateway.Mode == config.GatewayHTTP {
		a.Gateway = gateway.NewHTTPGateway(a.Config.Gateway.BaseURL, a.Config.Gateway.Timeout, a.Config.Gateway.RPS, a.Logger.Named("gateway"))
		return nil
	}
	a.Gateway = gateway.NewMockGateway(tokens, a.Logger.Named("gateway"))
	return nil
}

func (a *App) buildSender(ctx context.Context) error {
	if a.Sender != nil {
		return nil
	}
	if a.Config.Notify.Mode == config.NotifyAMQP {
		s, err := notify.NewAMQPSender(a.Config.Notify.AMQPURL, a.Config.Notify.AMQPQueue, a.Config.Notify.FromSender, a.Logger.Named("email"))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, s.Close)
		a.Sender = s
		return nil
	}
	a.Sender = notify.NewLogSender(a.Logger.Named("email"))
	return nil
}

func (a *App) buildSinks(ctx context.Context) ([]monitor.Sink, error) {
	sinks := []monitor.Sink{monitor.NewLogSink(a.Logger.Named("events"))}
	if a.Config.Monitor.MetricsEnabled {
		clients, err := a.awsClients(ctx)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, monitor.NewCloudWatchSink(clients.CloudWatch, a.Config.Monitor.MetricsNamespace))
	}
	if len(a.Config.Monitor.KafkaBrokers) > 0 {
		sinks = append(sinks, monitor.NewKafkaSink(a.Config.Monitor.KafkaBrokers, a.Config.Monitor.KafkaTopic, a.Logger.Named("kafka")))
	}
	return sinks, nil
}

// RegisterWorkers attaches the payment, email and dead-letter consumers.
func (a *App) RegisterWorkers() error {
	paymentWorker := payments.NewWorker(a.Orders, a.Gateway, a.Queue, a.DeadLetter, a.Config.Gateway.Timeout, a.Logger.Named("payments"))
	emailWorker := notify.NewWorker(a.Sender, a.Logger.Named("email"))
	observer := deadletter.NewObserver(a.Logger.Named("dlq"))

	return errors.Join(
		a.Queue.RegisterWorker(queue.PaymentProcessing, paymentWorker.Handle, queue.WorkerOptions{Concurrency: a.Config.Queue.PaymentConcurrency}),
		a.Queue.RegisterWorker(queue.EmailNotifications, emailWorker.Handle, queue.WorkerOptions{Concurrency: a.Config.Queue.EmailConcurrency}),
		a.Queue.RegisterWorker(queue.PaymentProcessingDLQ, observer.Handle, queue.WorkerOptions{Concurrency: 1}),
	)
}

// Router builds the HTTP API over the intake service.
func (a *App) Router() *gin.Engine {
	return handlers.NewRouter(handlers.RouterConfig{
		Orders:  handlers.NewOrdersHandler(a.Intake, a.Orders, a.Gateway, a.Logger.Named("http")),
		Limiter: a.Limiter,
		Global: ratelimit.Config{
			Name:   "global",
			Window: a.Config.RateLimit.Window,
			Max:    a.Config.RateLimit.Max,
		},
		Sensitive: ratelimit.Config{
			Name:   "sensitive",
			Window: a.Config.RateLimit.SensitiveWindow,
			Max:    a.Config.RateLimit.SensitiveMax,
		},
		Production: a.Config.IsProduction(),
		Logger:     a.Logger,
	})
}

// RunBackground starts queue polling, the event fan-out and the reconciler.
// They stop when ctx is done; call Close afterwards to drain in-flight jobs.
func (a *App) RunBackground(ctx context.Context) error {
	if err := a.Queue.Start(ctx); err != nil {
		return err
	}
	go a.Monitor.Run(ctx)
	go a.Reconciler.Run(ctx)
	return nil
}

// Close drains the queue manager and releases every connection.
func (a *App) Close(ctx context.Context) error {
	var err error
	a.once.Do(func() {
		err = errors.Join(a.Queue.Close(ctx), a.closeAll())
	})
	return err
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
