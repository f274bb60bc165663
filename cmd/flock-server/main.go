package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flock/internal/config"
	"flock/internal/directory"
	"flock/internal/discovery"
	"flock/internal/logger"
	zapfactory "flock/internal/logger/zap"
	"flock/internal/model"
	"flock/internal/node"
	"flock/internal/ringtable"
	"flock/internal/rpcclient"
	"flock/internal/server"
	"flock/internal/telemetry"
)

var defaultConfigPath = "config/node/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %q: %v", *configPath, err)
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.ValidateConfig(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	var lgr logger.Logger
	if cfg.Logger.Active {
		zapLog, err := zapfactory.New(cfg.Logger)
		if err != nil {
			log.Fatalf("failed to initialize logger: %v", err)
		}
		defer func() { _ = zapLog.Sync() }()
		lgr = zapfactory.NewZapAdapter(zapLog)
	} else {
		lgr = &logger.NopLogger{}
	}
	cfg.LogConfig(lgr)

	cmdConn, advertised, err := server.ListenUDP("private", cfg.Node.Bind, "", cfg.Node.CommandPort)
	if err != nil {
		lgr.Error("failed to bind command socket", logger.F("err", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = cmdConn.Close() }()

	self, err := model.ParseEndpoint(advertised)
	if err != nil {
		lgr.Error("failed to parse advertised address", logger.F("err", err.Error()))
		os.Exit(1)
	}
	self = self.CommandOf()
	lgr = lgr.Named("node").With(logger.FEndpoint("self", self), logger.F("name", cfg.Node.Name))
	lgr.Info("command socket bound", logger.FEndpoint("addr", self))

	liveConn, _, err := server.ListenUDP("private", cfg.Node.Bind, self.IP, cfg.Node.LivenessPort)
	if err != nil {
		lgr.Error("failed to bind liveness socket", logger.F("err", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = liveConn.Close() }()
	lgr.Info("liveness socket bound", logger.F("port", cfg.Node.LivenessPort))

	shutdown := telemetry.InitTracer(cfg.Telemetry, "flock-server", self)
	defer func() { _ = shutdown(context.Background()) }()

	rt := ringtable.New(self, cfg.Ring.FaultTolerance, ringtable.WithLogger(lgr.Named("ringtable")))
	dir := directory.New(lgr.Named("directory"))
	rep := directory.NewReplicaTable(lgr.Named("replicas"))
	pool := rpcclient.NewPool(lgr.Named("rpcclient"))
	rc := rpcclient.New(pool)
	disc := discovery.NewBroadcastDiscoverer(cfg.Discovery, lgr.Named("discovery"))

	n := node.New(self, cfg.Node.Name, cfg.Ring, rt, dir, rep, rc, disc, node.WithLogger(lgr))

	bootstrapCtx, cancelBootstrap := context.WithTimeout(context.Background(), 10*time.Second)
	err = n.Bootstrap(bootstrapCtx)
	cancelBootstrap()
	if err != nil {
		lgr.Error("bootstrap failed", logger.F("err", err.Error()))
		os.Exit(1)
	}

	multicast := discovery.NewMulticastResponder(cfg.Discovery, self, lgr.Named("discovery"))

	srv := server.New(cmdConn, liveConn, n, server.WithLogger(lgr.Named("server")), server.WithMulticastResponder(multicast))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		srv.Start(ctx)
		close(done)
	}()

	select {
	case <-ctx.Done():
		lgr.Info("shutdown signal received, stopping server gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		select {
		case <-done:
			lgr.Info("server stopped gracefully")
		case <-shutdownCtx.Done():
			lgr.Warn("graceful stop timed out, forcing shutdown")
			srv.Stop()
		}
	case <-done:
		lgr.Warn("server loop exited unexpectedly")
	}
}
