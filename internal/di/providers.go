package di

import (
	"context"
	"fmt"
	"time"

	"FinSeries/internal/domain/repository"
	"FinSeries/internal/handler/api"
	internalrepo "FinSeries/internal/repository"
	"FinSeries/internal/service/ratelimit"
	"FinSeries/internal/service/scheduler"
	"FinSeries/internal/service/stream"
	"FinSeries/internal/services/provider"
	"FinSeries/internal/services/validation"
	"FinSeries/internal/usecase"
	"FinSeries/pkg/cache"
	pkgch "FinSeries/pkg/clickhouse"
	"FinSeries/pkg/config"
	xhttp "FinSeries/pkg/http"
	pkgkafka "FinSeries/pkg/kafka"
	applogger "FinSeries/pkg/logger"
	"FinSeries/pkg/metrics"
	"FinSeries/pkg/queue"
	"FinSeries/pkg/server"
)

// Optional infrastructure providers return a nil pointer when the feature is
// disabled; consumers check for nil before converting to an interface.

// ProvideLogger builds the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("app", cfg.AppName), applogger.String("env", cfg.Environment)), nil
}

// ProvidePolicy loads the validation policy. A missing policy file aborts startup.
func ProvidePolicy(cfg *config.Config) (*validation.Policy, error) {
	p, err := validation.LoadPolicy(cfg.DefaultsPath(), cfg.PolicyPath())
	if err != nil {
		return nil, fmt.Errorf("validation policy: %w", err)
	}
	return p, nil
}

// ProvideEngine creates the validation engine.
func ProvideEngine() *validation.Engine {
	return validation.NewEngine()
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New(nil)
}

// ProvideRedis connects to Redis when enabled.
func ProvideRedis(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Cache.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Cache.Redis.Host, cfg.Cache.Redis.Port),
		cache.WithRedisAuth(cfg.Cache.Redis.Password, cfg.Cache.Redis.DB),
		cache.WithRedisPrefix(cfg.AppName),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCache returns a layered cache over Redis, or a process-local cache.
func ProvideCache(cfg *config.Config, rc *cache.RedisCache) cache.Service {
	if rc != nil {
		return cache.NewLayeredCache(rc,
			cache.WithLayeredMemorySize(cfg.Cache.MemoryMaxSize),
			cache.WithLayeredMemoryTTL(cfg.Cache.MemoryTTL),
		)
	}
	return cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize))
}

// ProvideClickHouseClient creates a ClickHouse client when enabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithPool(10, 5, 5*time.Minute),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		pkgch.WithEnsureDatabase(true),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideSeriesStore creates the ClickHouse series store and its tables.
func ProvideSeriesStore(ch *pkgch.Client, cfg *config.Config, l *applogger.Logger) (*internalrepo.CHSeriesStore, error) {
	if ch == nil {
		return nil, nil
	}
	store := internalrepo.NewCHSeriesStore(ch,
		ch.Database()+"."+cfg.Providers.Warehouse.Table,
		ch.Database()+".series_reports",
		l,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ch.InitSchema(ctx, store.Schema()); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideKafkaProducer creates a Kafka producer when enabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideStreamHub creates the websocket report hub.
func ProvideStreamHub(l *applogger.Logger) *stream.Hub {
	return stream.NewHub(l)
}

// ProvideReportPublisher fans reports out to the websocket hub and, when
// enabled, the report topic.
func ProvideReportPublisher(producer *pkgkafka.Producer, hub *stream.Hub, cfg *config.Config) repository.ReportPublisher {
	pubs := []repository.ReportPublisher{hub}
	if producer != nil {
		pubs = append(pubs, internalrepo.NewKafkaReportPublisher(producer, cfg.Kafka.ReportTopic))
	}
	return internalrepo.NewFanOutPublisher(pubs...)
}

// ProvideRouter builds the upstream providers and the prefix router.
func ProvideRouter(cfg *config.Config, store *internalrepo.CHSeriesStore, l *applogger.Logger) *provider.Router {
	start, end := cfg.DataWindow()
	client := xhttp.NewClient(
		xhttp.WithTimeout(cfg.Providers.Timeout),
		xhttp.WithUserAgent(cfg.Providers.UserAgent),
	)
	bc := provider.BreakerConfig{
		MaxRequests:      cfg.Providers.Breaker.MaxRequests,
		Interval:         cfg.Providers.Breaker.Interval,
		Timeout:          cfg.Providers.Breaker.Timeout,
		FailureThreshold: cfg.Providers.Breaker.FailureThreshold,
	}

	fred := provider.NewFRED(provider.FREDConfig{
		BaseURL:   cfg.Providers.FRED.BaseURL,
		APIKey:    cfg.Providers.FRED.APIKey,
		DataStart: start,
		DataEnd:   end,
	}, client, ratelimit.New(cfg.Providers.FRED.RPS, cfg.Providers.FRED.Burst), bc, l)

	var market repository.SeriesProvider
	if cfg.Data.UseDummyMarket {
		market = provider.NewDummy()
	} else {
		market = provider.NewChart(provider.ChartConfig{
			BaseURL:   cfg.Providers.Chart.BaseURL,
			DataStart: start,
			DataEnd:   end,
		}, client, ratelimit.New(cfg.Providers.Chart.RPS, cfg.Providers.Chart.Burst), bc, l)
	}

	var opts []provider.RouterOption
	if cfg.Providers.Warehouse.Enabled && store != nil {
		opts = append(opts, provider.WithWarehouse(store))
	}
	return provider.NewRouter(fred, market, opts...)
}

// ProvideSeriesProvider puts the router behind the series cache when enabled.
func ProvideSeriesProvider(router *provider.Router, c cache.Service, cfg *config.Config, l *applogger.Logger) repository.SeriesProvider {
	if !cfg.Cache.Enabled {
		return router
	}
	return provider.NewCached(router, c, cfg.Cache.TTLDaily, cfg.Cache.TTLPeriodic, l)
}

// ProvideSeriesQuality creates the service facade.
func ProvideSeriesQuality(
	cfg *config.Config,
	p repository.SeriesProvider,
	router *provider.Router,
	engine *validation.Engine,
	policy *validation.Policy,
	m repository.Metrics,
	pub repository.ReportPublisher,
	store *internalrepo.CHSeriesStore,
	l *applogger.Logger,
) *usecase.SeriesQuality {
	start, end := cfg.DataWindow()
	opts := []usecase.SeriesQualityOption{
		usecase.WithReportPublisher(pub),
		usecase.WithSourceResolver(router),
		usecase.WithDataWindow(usecase.DataWindow{Start: start, End: end, MaxLookbackDays: cfg.Data.MaxLookbackDays}),
		usecase.WithLogger(l),
	}
	if store != nil {
		opts = append(opts, usecase.WithReportStore(store))
	}
	return usecase.NewSeriesQuality(p, engine, policy, m, opts...)
}

// ProvideKafkaConsumer creates the points consumer when enabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerStartLatest(cfg.Kafka.Consumer.StartLatest),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(
		pkgkafka.TraceHook(),
		pkgkafka.PayloadLimitHook(cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.LoggingHook(l),
	))
	return consumer, nil
}

// ProvidePointsHandler creates the points topic handler.
func ProvidePointsHandler(cfg *config.Config, svc *usecase.SeriesQuality, store *internalrepo.CHSeriesStore, m repository.Metrics) *usecase.KafkaPointsHandler {
	var ps repository.PointStore
	if store != nil {
		ps = store
	}
	return usecase.NewKafkaPointsHandler(cfg.Kafka.PointsTopic, svc, ps, m)
}

// ProvideRevalidateJob creates the revalidation queue job.
func ProvideRevalidateJob(svc *usecase.SeriesQuality) *usecase.RevalidateJob {
	return usecase.NewRevalidateJob(svc)
}

// ProvideRedisQueue creates the Redis job queue when enabled.
func ProvideRedisQueue(cfg *config.Config, rc *cache.RedisCache, job *usecase.RevalidateJob, l *applogger.Logger) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	q := queue.NewRedisQueue(l, &queue.QueueConfig{
		Workers:       cfg.Queue.Workers,
		RetryLimit:    cfg.Queue.MaxRetries,
		RetryDelay:    cfg.Queue.RetryDelay,
		MaxRetryDelay: cfg.Queue.MaxRetryDelay,
		PollInterval:  cfg.Queue.PollInterval,
	}, rc.Client(), queue.WithKeyPrefix(cfg.AppName+":queue:"+cfg.Queue.Name))
	q.RegisterJob(job)
	return q
}

// ProvideQueueService returns the Redis queue, or runs jobs inline without one.
func ProvideQueueService(rq *queue.RedisQueue, job *usecase.RevalidateJob) queue.QueueService {
	if rq != nil {
		return rq
	}
	return queue.NewInline(job)
}

// ProvideScheduler creates the revalidation scheduler when enabled.
func ProvideScheduler(cfg *config.Config, q queue.QueueService, c cache.Service, l *applogger.Logger) (*scheduler.Scheduler, error) {
	if !cfg.Scheduler.Enabled {
		return nil, nil
	}
	watch := make([]scheduler.WatchItem, 0, len(cfg.Scheduler.Watchlist))
	for _, w := range cfg.Scheduler.Watchlist {
		watch = append(watch, scheduler.WatchItem{Symbol: w.Symbol, Freq: w.Freq})
	}
	return scheduler.New(scheduler.Config{
		Spec:         cfg.Scheduler.Spec,
		LockTTL:      cfg.Scheduler.LockTTL,
		LookbackDays: cfg.Scheduler.LookbackDays,
		MsgType:      usecase.RevalidateJobType,
		Watchlist:    watch,
	}, q, c, l)
}

// ProvideHTTPHandler creates the HTTP route handler.
func ProvideHTTPHandler(
	cfg *config.Config,
	svc *usecase.SeriesQuality,
	hub *stream.Hub,
	ch *pkgch.Client,
	rc *cache.RedisCache,
	l *applogger.Logger,
) *api.SeriesEchoHandler {
	opts := []api.SeriesHandlerOption{
		api.WithRateLimit(ratelimit.New(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst)),
		api.WithReportStream(hub),
	}
	if ch != nil {
		opts = append(opts, api.WithHealthCheck("clickhouse", ch.Health))
	}
	if rc != nil {
		opts = append(opts, api.WithHealthCheck("redis", rc.Ping))
	}
	return api.NewSeriesEchoHandler(l, svc, opts...)
}

// ProvideHTTPServer creates the Echo server.
func ProvideHTTPServer(cfg *config.Config, h *api.SeriesEchoHandler, l *applogger.Logger) *xhttp.Server {
	return xhttp.NewServer(h,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithLogger(l),
		xhttp.WithMetrics(cfg.Metrics.Enabled, cfg.Server.SlowThreshold),
	)
}

// ProvideApp assembles the application lifecycle.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	points *usecase.KafkaPointsHandler,
	rq *queue.RedisQueue,
	sched *scheduler.Scheduler,
	pub repository.ReportPublisher,
	c cache.Service,
	ch *pkgch.Client,
) *server.App {
	app := server.New(cfg, l, httpServer)
	if consumer != nil {
		consumer.RegisterHandler(points)
		app.AddComponent("kafka-consumer", server.Func(
			func(context.Context) error { return consumer.Start() },
			consumer.Stop,
		))
	}
	if rq != nil {
		app.AddComponent("redis-queue", server.Func(rq.Start, rq.Stop))
	}
	if sched != nil {
		app.AddComponent("scheduler", server.Func(
			func(context.Context) error { sched.Start(); return nil },
			sched.Stop,
		))
	}
	app.AddCloser("report-publisher", pub.Close)
	// the layered cache also closes the Redis client
	app.AddCloser("cache", c.Close)
	if ch != nil {
		app.AddCloser("clickhouse", ch.Close)
	}
	return app
}
