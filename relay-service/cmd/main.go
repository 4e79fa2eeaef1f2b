package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	pkgconfig "github.com/weiawesome/wes-io-live/pkg/config"
	pkglog "github.com/weiawesome/wes-io-live/pkg/log"
	"github.com/weiawesome/wes-io-live/pkg/pubsub"
	"github.com/weiawesome/wes-io-live/relay-service/internal/config"
	relaygrpc "github.com/weiawesome/wes-io-live/relay-service/internal/grpc"
	"github.com/weiawesome/wes-io-live/relay-service/internal/handler"
	"github.com/weiawesome/wes-io-live/relay-service/internal/hub"
	"github.com/weiawesome/wes-io-live/relay-service/internal/idgen"
	"github.com/weiawesome/wes-io-live/relay-service/internal/presence"
	"github.com/weiawesome/wes-io-live/relay-service/internal/registry"
	"github.com/weiawesome/wes-io-live/relay-service/internal/reporter"
	"github.com/weiawesome/wes-io-live/relay-service/internal/router"
	"github.com/weiawesome/wes-io-live/relay-service/internal/sink"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, v, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty || cfg.Log.Level == "debug",
		ServiceName: "relay-service",
	})
	logger := pkglog.L()

	if pkgconfig.Watch(v, func(v *viper.Viper) {
		level := pkglog.SetLevel(v.GetString("log.level"))
		logger.Info().Str("level", level.String()).Msg("config reloaded")
	}) {
		logger.Info().Str("file", v.ConfigFileUsed()).Msg("watching config file")
	}

	gen, err := idgen.New(cfg.Relay.IDStrategy, idgen.Options{
		NanoIDSize:     cfg.NanoID.Size,
		NanoIDAlphabet: cfg.NanoID.Alphabet,
		CUID2Length:    cfg.CUID2.Length,
		MachineID:      cfg.Snowflake.MachineID,
		Epoch:          cfg.Snowflake.Epoch,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("strategy", cfg.Relay.IDStrategy).Msg("failed to create id generator")
	}

	reg := registry.New(gen, registry.Options{
		MaxAttempts:     cfg.Relay.IDMaxAttempts,
		UsernamePrefix:  cfg.Relay.UsernamePrefix,
		UsernameIDChars: cfg.Relay.UsernameIDChars,
	})
	typing := presence.NewRelay(cfg.Presence.TypingTTL)

	routerOpts := router.Options{DefaultRoom: cfg.Relay.DefaultRoom}

	sinks, err := sink.Build(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open event sinks")
	}
	var dispatcher *sink.Dispatcher
	if sinks != nil {
		dispatcher = sink.NewDispatcher(sinks, cfg.Sink.Buffer, cfg.Sink.PublishTimeout)
		if cfg.Transcript.MaxAge > 0 {
			dispatcher.FlushEvery(cfg.Transcript.MaxAge / 2)
		}
		go dispatcher.Run(context.Background())
		routerOpts.Events = dispatcher
		logger.Info().Strs("drivers", cfg.Sink.Drivers).Msg("event sinks enabled")
	}

	hubOpts := hub.Options{EventBuffer: cfg.Relay.EventBuffer}
	if typing.Tracking() {
		hubOpts.SweepInterval = cfg.Presence.SweepInterval
	}
	relayHub := hub.New(router.New(reg, typing, routerOpts), hubOpts)

	hubCtx, stopHub := context.WithCancel(context.Background())
	go relayHub.Run(hubCtx)

	var grpcServer *relaygrpc.Server
	if cfg.GRPC.Enabled {
		grpcAddr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
		grpcServer, err = relaygrpc.Start(grpcAddr, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to start grpc server")
		}
		grpcServer.WatchHub(relayHub.Done())
		grpcServer.MarkServing()
	}

	var (
		statsReporter  *reporter.RedisReporter
		reporterClient *redis.Client
	)
	if cfg.Reporter.Enabled {
		reporterClient, err = pubsub.NewRedisClient(context.Background(), cfg.PubSub(pubsub.DriverRedis).Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect stats reporter to redis")
		}
		instance, _ := os.Hostname()
		statsReporter = reporter.NewRedisReporter(
			reporter.NewRedisStore(reporterClient),
			cfg.Reporter.Key,
			instance,
			cfg.Reporter.HeartbeatInterval,
			cfg.Reporter.KeyTTL,
			relayHub.Stats,
		)
		statsReporter.Start(context.Background())
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(pkglog.GinMiddleware(logger))

	handler.NewHandler(relayHub, cfg.WebSocket).RegisterRoutes(engine)

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     engine,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().Str("address", server.Addr).Msg("relay service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Upgraded sockets are hijacked, so server.Shutdown does not wait for
	// them. Stopping the hub closes each one with a normal close frame.
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"relay": func(ctx context.Context) error {
				logger.Info().Msg("shutting down relay")
				if grpcServer != nil {
					grpcServer.MarkNotServing()
				}
				err := server.Shutdown(ctx)
				stopHub()
				select {
				case <-relayHub.Done():
				case <-ctx.Done():
					return ctx.Err()
				}
				if grpcServer != nil {
					grpcServer.Stop()
				}
				return err
			},
			"sink": func(ctx context.Context) error {
				if dispatcher == nil {
					return nil
				}
				select {
				case <-relayHub.Done():
				case <-ctx.Done():
					return ctx.Err()
				}
				return dispatcher.Close(ctx)
			},
			"reporter": func(ctx context.Context) error {
				if statsReporter == nil {
					return nil
				}
				err := statsReporter.Close(ctx)
				reporterClient.Close()
				return err
			},
		},
	)

	exitCode := <-wait
	logger.Info().Int("code", exitCode).Msg("relay service stopped")
	os.Exit(exitCode)
}
