package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"pptp-vpn-agent/internal/auth"
	"pptp-vpn-agent/internal/config"
	"pptp-vpn-agent/internal/logger"
	"pptp-vpn-agent/internal/netns"
	"pptp-vpn-agent/internal/outbox"
	"pptp-vpn-agent/internal/pptp"
	"pptp-vpn-agent/internal/server"
	"pptp-vpn-agent/internal/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) > 0 && args[0] == "hash-token" {
		return hashToken(args[1:])
	}

	var (
		configPath  string
		host        string
		listen      string
		logLevel    string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("pptp-agent", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the YAML config file")
	flagSet.StringVar(&host, "host", "", "agent host name reported to the controller")
	flagSet.StringVar(&listen, "listen", "", "HTTP listen address")
	flagSet.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Println(version.Current().String())
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flagSet.Changed("host") {
		cfg.Host = host
	}
	if flagSet.Changed("listen") {
		cfg.Listen = listen
	}
	if flagSet.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Log)
	defer func() { _ = log.Sync() }()
	log.Infow("starting", "version", version.Current().String(), "host", cfg.Host)

	return serve(cfg, log)
}

func serve(cfg *config.Config, log *zap.SugaredLogger) error {
	authManager, err := auth.NewManager(cfg.API.TokenHash)
	if err != nil {
		return err
	}
	if !authManager.Enabled() {
		log.Warnw("api.token_hash not set; HTTP API is unauthenticated and bound to loopback only", "listen", cfg.Listen)
	}

	tmpl, err := pptp.LoadOptionsTemplate(cfg.PPTP.OptionsTemplate)
	if err != nil {
		return err
	}

	db, err := outbox.Open(cfg.Outbox.Path)
	if err != nil {
		return fmt.Errorf("open outbox %s: %w", cfg.Outbox.Path, err)
	}
	defer db.Close()
	store, err := outbox.NewStore(db, cfg.Outbox.Retention, log.Named("outbox"))
	if err != nil {
		return err
	}

	layout := pptp.Layout{BaseDir: cfg.PPTP.ConfigBaseDir}
	driver, err := pptp.NewDriver(pptp.Options{
		Host:        cfg.Host,
		SecretsPath: cfg.PPTP.ChapSecrets,
		Layout:      layout,
		Binary:      cfg.PPTP.Binary,
		Template:    tmpl,
		Executor:    netns.NewIPExecutor(cfg.Netns.RootHelper, cfg.PPTP.ProcessStartTimeout),
		Namespaces:  netns.NewResolver(cfg.Netns.RunDir),
		Probe:       pptp.NewOSProbe(layout),
		Reporter:    store,
		Interval:    cfg.PPTP.StatusCheckInterval,
		Logger:      log.Named("pptp"),
	})
	if err != nil {
		return err
	}

	srv := server.New(driver, store, authManager.Middleware, log.Named("http"))
	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan struct{})
	go driver.Start(stop)
	go store.Start(stop, cfg.Outbox.CleanupInterval)

	errCh := make(chan error, 1)
	go func() {
		log.Infow("listening", "addr", cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Infow("shutting down", "signal", sig.String())
	case runErr = <-errCh:
		log.Errorw("http server error", "error", runErr)
	}
	close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warnw("graceful shutdown error", "error", err)
	}
	return runErr
}

// hashToken prints the bcrypt hash for api.token_hash. Without an argument a
// random token is generated and printed first.
func hashToken(args []string) error {
	token := ""
	if len(args) > 0 {
		token = args[0]
	} else {
		generated, err := auth.GenerateToken()
		if err != nil {
			return err
		}
		token = generated
		fmt.Printf("token: %s\n", token)
	}
	hash, err := auth.HashToken(token)
	if err != nil {
		return err
	}
	fmt.Printf("token_hash: %s\n", hash)
	return nil
}
