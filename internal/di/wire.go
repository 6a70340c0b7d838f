//go:build wireinject
// +build wireinject

package di

import (
	"FinSeries/pkg/config"
	"FinSeries/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Validation
		ProvidePolicy,
		ProvideEngine,

		// Infrastructure clients
		ProvideRedis,
		ProvideCache,
		ProvideClickHouseClient,
		ProvideKafkaProducer,

		// Repositories
		ProvideSeriesStore,
		ProvideStreamHub,
		ProvideReportPublisher,

		// Providers and use cases
		ProvideRouter,
		ProvideSeriesProvider,
		ProvideSeriesQuality,
		ProvidePointsHandler,
		ProvideRevalidateJob,

		// Background work
		ProvideKafkaConsumer,
		ProvideRedisQueue,
		ProvideQueueService,
		ProvideScheduler,

		// HTTP and application server
		ProvideHTTPHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
