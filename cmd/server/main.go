package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"coderoom/internal/api"
	"coderoom/internal/config"
	"coderoom/internal/room_management"
	"coderoom/internal/routers"
	"coderoom/internal/session"
	"coderoom/internal/utils"
)

var (
	listenAndServe = func(srv *http.Server) error { return srv.ListenAndServe() }
	awaitShutdown  = func(ctx context.Context, timeout time.Duration, ops map[string]gfshutdown.Operation) int {
		return <-gfshutdown.GracefulShutdown(ctx, timeout, ops)
	}
	exitFunc = defaultExit
	exit     = os.Exit
)

func main() {
	if err := run(context.Background()); err != nil {
		exitFunc(err)
	}
}

func defaultExit(err error) {
	log.Printf("coderoom: %v", err)
	exit(1)
}

func newPublisher(cfg *config.Config, logger *utils.Logger) room_management.Publisher {
	if cfg.RedisAddr == "" {
		return room_management.NopPublisher{}
	}
	logger.Info("publishing room events", "redis", cfg.RedisAddr, "channel", cfg.RoomEventsChannel)
	return room_management.NewRedisPublisher(cfg.RedisAddr, cfg.RoomEventsChannel, logger)
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := utils.NewLoggerWithLevel(cfg.LogLevel)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	publisher := newPublisher(cfg, logger)
	defer publisher.Close()
	hub := session.NewHub()
	gateway := session.NewGateway(hub, logger, publisher)
	go gateway.Run(ctx)

	h := api.NewHandlers(logger, hub, gateway, cfg.SendBuffer, cfg.CORSOrigins)

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)
	r.Mount("/", routers.New(h, cfg.CORSOrigins))

	srv := &http.Server{Addr: cfg.Addr(), Handler: r, ReadHeaderTimeout: 10 * time.Second}

	serve, await := listenAndServe, awaitShutdown
	serveErr := make(chan error, 1)
	go func() { serveErr <- serve(srv) }()

	shutdownCode := make(chan int, 1)
	go func() {
		shutdownCode <- await(ctx, cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
			"http-server": srv.Shutdown,
			"gateway": func(context.Context) error {
				cancel()
				gateway.Wait()
				return nil
			},
			"room-events": func(context.Context) error { return publisher.Close() },
		})
	}()

	logger.Info("coderoom listening", "addr", cfg.Addr())

	select {
	case err := <-serveErr:
		if err == nil || !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return shutdownResult(<-shutdownCode)
	case code := <-shutdownCode:
		return shutdownResult(code)
	}
}

func shutdownResult(code int) error {
	if code != 0 {
		return fmt.Errorf("shutdown finished with exit code %d", code)
	}
	return nil
}
