// Command fvi-actor hosts actors for remote peers. It listens on TCP (and
// optionally on NATS), exposes Prometheus metrics and serves as the child
// binary of forked placements.
//
// With demo enabled it also spawns a forked greeter group and talks to it.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/salespaulo/fvi-actor-system/adapters/nats"
	prom "github.com/salespaulo/fvi-actor-system/adapters/prometheus"
	"github.com/salespaulo/fvi-actor-system/core/actor"
	"github.com/salespaulo/fvi-actor-system/core/logging"
	"github.com/salespaulo/fvi-actor-system/core/placement"
	"github.com/salespaulo/fvi-actor-system/core/system"
)

type (
	GreetRequest struct {
		Name string `json:"name"`
	}
	GreetResponse struct {
		Message string `json:"message"`
		PID     int    `json:"pid"`
	}
)

var greeter = actor.MustRegister(actor.NewBehavior("fvi.greeter",
	actor.Handle("greet", func(hc actor.HandlerCtx, req GreetRequest) (GreetResponse, error) {
		hc.Log().Info("greeting", slog.String("name", req.Name))
		return GreetResponse{Message: "Hello, " + req.Name, PID: os.Getpid()}, nil
	}),
))

func main() {
	// forked children never get past this line
	system.Init()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	log, err := logging.New(os.Stderr, cfg.System.Log)
	if err != nil {
		slog.Error("invalid log config", slog.Any("error", err))
		os.Exit(1)
	}
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("fvi-actor failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg fileConfig, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := prom.NewAllMetrics(reg)

	opts := []system.Option{
		system.WithLogger(log),
		system.WithMetrics(m.Actor, m.Transport),
	}
	if cfg.NatsURL != "" {
		natsCfg := nats.TransportConfig{
			Connect: nats.ReuseConnection(nats.ConnectURL(cfg.NatsURL)),
			Log:     log,
		}
		opts = append(opts,
			system.WithListener(nats.NewListener(natsCfg, cfg.NatsNode)),
			system.WithDialer(nats.Scheme, nats.NewDialer(natsCfg)),
		)
	}

	sys := system.New(cfg.System, opts...)
	defer func() {
		dctx, dcancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer dcancel()
		if err := sys.Destroy(dctx); err != nil {
			log.Error("teardown failed", slog.Any("error", err))
		}
	}()

	go func() {
		for err := range sys.Errors() {
			log.Warn("actor error", slog.Any("error", err))
		}
	}()

	if err := sys.Listen(ctx); err != nil {
		return err
	}
	log.Info("listening", slog.String("addr", sys.Addr()))

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		defer srv.Close()
		log.Info("serving metrics", slog.String("addr", cfg.MetricsAddr))
	}

	if cfg.Demo {
		if err := demo(ctx, sys, log); err != nil {
			return fmt.Errorf("demo: %w", err)
		}
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// demo spawns a forked group of two greeters and greets through it.
func demo(ctx context.Context, sys *system.System, log *slog.Logger) error {
	root, err := sys.RootActor(ctx)
	if err != nil {
		return err
	}
	group, err := root.CreateChild(ctx, greeter,
		placement.WithMode(placement.ModeForked),
		placement.WithClusterSize(2),
	)
	if err != nil {
		return err
	}

	for _, name := range []string{"alice", "bob", "charlie"} {
		res, err := system.Ask[GreetResponse](ctx, group, "greet", GreetRequest{Name: name})
		if err != nil {
			return fmt.Errorf("greet %s: %w", name, err)
		}
		log.Info("greeted", slog.String("message", res.Message), slog.Int("pid", res.PID))
	}
	return nil
}
