package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// defaultSetupTimeout bounds the storage connection and schema setup.
const defaultSetupTimeout = 30 * time.Second

type AppProvider interface {
	Run() error
	Serve() func() error
	Stop(context.Context, context.Context) func() error
}

type App struct {
	logger         *zap.Logger
	config         *Config
	server         *http.Server
	cleanups       []func()
	queueConsumers []func(context.Context) error
}

// NewApp provides an instance of App.
func NewApp() (AppProvider, error) {
	config, err := LoadAndInitConfigs(GitCommit, GitTag, BuildTime)
	if err != nil {
		return nil, fmt.Errorf("failed to setup app configuration: %s", err)
	}

	clock := NewClock(config.IsProduction)
	logWriter := NewRSyncWriter(config, clock)
	logger, flusher := SetupLogging(config, logWriter, NewTickClock(clock))

	app := &App{logger: logger, config: config}
	app.cleanups = append(app.cleanups,
		func() {
			if err := flusher(); err != nil {
				fmt.Println("error during flushing of logs: ", err)
			}
		},
		func() {
			if err := logWriter.Close(); err != nil {
				fmt.Println("error during closing of log file: ", err)
			}
		},
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultSetupTimeout)
	defer cancel()

	// Setup the storage selected by the configuration.
	setup, err := SetupStorage(ctx, logger, config)
	// storage clients must be closed before the logs are flushed.
	app.cleanups = append([]func(){setup.Close}, app.cleanups...)
	if err != nil {
		app.Clean()
		return nil, err
	}
	logger.Info("storage ready", zap.String("storage.driver", config.Storage.Driver))

	// Setup the replication of changes into a local boltdb file.
	var queue Queuer
	if config.Replica.Enabled {
		redisClient, err := setup.redisClient(logger, &config.Redis)
		if err != nil {
			app.Clean()
			return nil, err
		}
		replicaDB, err := GetBoltDBClient(config.Replica.BoltDB())
		if err != nil {
			app.Clean()
			return nil, fmt.Errorf("failed to open replica boltdb file: %s", err)
		}
		setup.onClose(logger, "replica", replicaDB.Close)

		queue = NewRedisQueue(redisClient)
		replica := NewReplicaConsumer(logger, queue, NewBoltBookStorage(logger, config.Replica.BoltDB(), replicaDB))
		app.queueConsumers = append(app.queueConsumers, func(ctx context.Context) error {
			return replica.Consume(ctx, CreateQueue, UpdateQueue, DeleteQueue)
		})
	}

	metrics := NewMetrics()
	idsHandler := NewIDsHandler()
	bookService := NewBookService(
		logger,
		config,
		clock,
		idsHandler,
		setup.storage,
		queue,
		NewPlaceholderFetcher(logger, &config.External),
		metrics,
	)

	stats := &Statistics{
		version:   config.GitTag,
		container: IsAppRunningInDocker(),
		started:   clock.Now(),
		runtime:   runtime.Version(),
		platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	// Use git commit in case the tag is not set.
	if config.GitTag == "" {
		stats.version = config.GitCommit
	}
	apiService := NewAPIHandler(logger, config, stats, clock, idsHandler, metrics, bookService)

	// Build the map of middlewares stacks.
	middlewaresPublic, middlewaresOps := apiService.MiddlewaresStacks()

	// Configure the endpoints with their handlers and middlewares.
	router := apiService.SetupRoutes(httprouter.New(),
		&MiddlewareMap{
			public: middlewaresPublic.Chain,
			ops:    middlewaresOps.Chain,
		},
	)
	// Wrap the router with the default http timeout handler.
	routerWithTimeout := http.TimeoutHandler(
		router,
		config.Server.RequestTimeout,
		"Timeout. Processing taking too long. Please reach out to support.")

	// Build the api server definition.
	app.server = &http.Server{
		Addr:           fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port),
		Handler:        routerWithTimeout,
		ReadTimeout:    config.Server.ReadTimeout,
		WriteTimeout:   config.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // Max headers size : 1MB
		ConnContext:    SaveConnInContext,
	}

	return app, nil
}

// Run starts the api web server and a goroutine which is responsible to stop it.
func (app *App) Run() error {
	defer app.Clean()
	nCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(nCtx)

	g.Go(app.ConsumeQueues(gCtx, g))
	g.Go(app.Serve())
	g.Go(app.Stop(nCtx, gCtx))

	err := g.Wait()
	app.logger.Info("api server stopped",
		zap.String("app.host", app.config.Server.Host),
		zap.String("app.port", app.config.Server.Port),
		zap.Error(err),
	)
	return err
}

// Clean calls all registered cleanups functions.
func (app *App) Clean() {
	for _, f := range app.cleanups {
		f()
	}
}

// Serve starts the api web server. It returned error
// will be caught by the errorgroup.
func (app *App) Serve() func() error {
	return func() error {
		app.logger.Info("api server starting",
			zap.String("app.host", app.config.Server.Host),
			zap.String("app.port", app.config.Server.Port),
			zap.String("storage.driver", app.config.Storage.Driver),
		)
		err := app.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		return err
	}
}

// Stop listens for the group context and triggers the server graceful shutdown.
// We proceed with a brutal shutdown if the graceful did not complete successfully.
// It returns `nil` so the errorgroup catches only the `Serve` method result.
func (app *App) Stop(nCtx, gCtx context.Context) func() error {
	return func() error {
		<-gCtx.Done()

		if nCtx.Err() != nil {
			app.logger.Info("api server stopping. reason: requested to stop")
		} else {
			app.logger.Info("api server stopping. reason: errored at running")
		}

		sCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
		defer cancel()
		err := app.server.Shutdown(sCtx)
		switch {
		case err == nil, errors.Is(err, http.ErrServerClosed):
			app.logger.Info("api server graceful shutdown succeeded")
		case errors.Is(err, context.DeadlineExceeded):
			app.logger.Info("api server graceful shutdown timed out")
		default:
			app.logger.Info("api server graceful shutdown failed", zap.Error(err))
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Info("api server going to force shutdown", zap.Error(app.server.Close()))
		}
		return nil
	}
}

// ConsumeQueues runs all queue consumers into separate controlled goroutines.
func (app *App) ConsumeQueues(gCtx context.Context, g *errgroup.Group) func() error {
	return func() error {
		for _, consume := range app.queueConsumers {
			consume := consume
			g.Go(func() error {
				return consume(gCtx)
			})
		}
		return nil
	}
}
