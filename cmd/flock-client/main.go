package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"flock/internal/config"
	"flock/internal/crypto"
	"flock/internal/discovery"
	"flock/internal/logger"
	zapfactory "flock/internal/logger/zap"
	"flock/internal/model"
	"flock/internal/peer"
	"flock/internal/rpcclient"
	"flock/internal/server"
	"flock/internal/store"
)

var defaultConfigPath = "config/client/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadClientConfig(*configPath)
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

	msgConn, advertised, err := server.ListenUDP("private", "0.0.0.0", "", 0)
	if err != nil {
		lgr.Error("failed to bind message socket", logger.F("err", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = msgConn.Close() }()

	self, err := model.ParseEndpoint(advertised)
	if err != nil {
		lgr.Error("failed to parse advertised address", logger.F("err", err.Error()))
		os.Exit(1)
	}
	lgr = lgr.Named("peer").With(logger.FEndpoint("self", self), logger.F("username", cfg.Username))
	lgr.Info("message socket bound", logger.FEndpoint("addr", self))

	serverEP, err := resolveServer(cfg, lgr)
	if err != nil {
		lgr.Error("failed to locate a directory server", logger.F("err", err.Error()))
		os.Exit(1)
	}
	lgr.Info("directory server located", logger.FEndpoint("server", serverEP))

	ks, err := crypto.LoadOrCreate(cfg.Keys.PrivatePath, cfg.Keys.PublicPath)
	if err != nil {
		lgr.Error("failed to load identity keypair", logger.F("err", err.Error()))
		os.Exit(1)
	}

	pool := rpcclient.NewPool(lgr.Named("rpcclient"))
	rc := rpcclient.New(pool)
	res := peer.NewDirectoryResolver(rc, serverEP, 2*time.Second)

	registerCtx, cancelRegister := context.WithTimeout(context.Background(), 5*time.Second)
	err = res.Register(registerCtx, cfg.Username, self)
	cancelRegister()
	if err != nil {
		lgr.Error("registration failed", logger.F("err", err.Error()))
		os.Exit(1)
	}
	lgr.Info("registered with directory server")

	cl := peer.New(msgConn, self, cfg.Username, rc, res, ks, store.NewMemoryStore(),
		peer.WithLogger(lgr),
		peer.WithKeyExchangeTimeout(cfg.KeyExchangeTTL),
		peer.WithSink(func(contact, text string) {
			fmt.Printf("\n[%s] %s\n> ", contact, text)
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		cl.Run(ctx)
		close(done)
	}()

	go runREPL(ctx, cl)

	<-done
	lgr.Info("client stopped")
}

// resolveServer returns the configured directory server address, or
// discovers one on the LAN when none is configured. Broadcast and
// multicast discovery race concurrently, per spec.md §4.4's multicast
// being "an alternative to broadcast" rather than a fallback tried only
// after broadcast fails outright.
func resolveServer(cfg *config.ClientConfig, lgr logger.Logger) (model.Endpoint, error) {
	if cfg.Server != "" {
		return model.ParseEndpoint(cfg.Server)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Discovery.BroadcastTimeout)
	defer cancel()

	type result struct {
		peers []discovery.Peer
		err   error
	}
	results := make(chan result, 2)
	discoverers := []discovery.Discoverer{
		discovery.NewBroadcastDiscoverer(cfg.Discovery, lgr.Named("discovery")),
		discovery.NewMulticastDiscoverer(cfg.Discovery, lgr.Named("discovery")),
	}
	for _, d := range discoverers {
		go func(d discovery.Discoverer) {
			peers, err := d.Discover(ctx)
			results <- result{peers: peers, err: err}
		}(d)
	}

	var lastErr error
	for range discoverers {
		r := <-results
		if r.err != nil {
			lastErr = r.err
			continue
		}
		if len(r.peers) > 0 {
			return r.peers[0].Endpoint, nil
		}
	}
	if lastErr != nil {
		return model.Endpoint{}, lastErr
	}
	return model.Endpoint{}, fmt.Errorf("no directory server answered discovery")
}

// runREPL is a minimal stdin presentation loop: "<recipient> <text>"
// sends a message, everything else is ignored. A real presentation
// layer (terminal UI, HTTP API) wraps Client instead of this loop.
func runREPL(ctx context.Context, cl *peer.Client) {
	fmt.Println("connected. send with: <recipient> <message text>")
	fmt.Print("> ")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}
		recipient, text, ok := strings.Cut(line, " ")
		if !ok || text == "" {
			fmt.Println("usage: <recipient> <message text>")
			fmt.Print("> ")
			continue
		}
		if err := cl.Send(ctx, recipient, text); err != nil {
			fmt.Printf("send failed: %v\n> ", err)
			continue
		}
		fmt.Print("> ")
	}
}
