package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/solarwatch/growattproxy/internal/appconfig"
	"github.com/solarwatch/growattproxy/internal/proxy"
	"github.com/solarwatch/growattproxy/internal/runtimeenv"
	"github.com/solarwatch/growattproxy/internal/schema"
	"github.com/solarwatch/growattproxy/internal/store"
	"github.com/solarwatch/growattproxy/pkg/logger"
)

func runStart(args []string) {
	fs := newFlagSet("start")
	configPath := fs.String("config", "./config.yaml", "path to the YAML configuration file")
	loggingLevel := fs.String("logging-level", "", "override the configuration file's logging.level")
	gops := fs.Bool("gops", false, "listen via github.com/google/gops/agent (for debugging)")
	_ = fs.Parse(args)

	if err := runtimeenv.LoadEnv("./.env"); err != nil && !os.IsNotExist(err) {
		fatalf("parsing './.env' failed: %v", err)
	}

	cfg, err := appconfig.Load(*configPath)
	if err != nil {
		fatalf("loading configuration from %s failed: %v", *configPath, err)
	}

	log := logger.Default("growattproxy", resolveLoggingLevel(*loggingLevel, cfg.Logging.Level))
	stopGops := startGops(*gops, log)
	defer stopGops()

	log.Info("growattproxy starting up")

	sch, err := schema.Load(cfg.InvertersPath)
	if err != nil {
		fatalf("loading inverter schema from %s failed: %v", cfg.InvertersPath, err)
	}
	log.Info("loaded %d field definitions from %s", len(sch), cfg.InvertersPath)

	if err := store.Migrate(cfg.DB.Driver, cfg.DB.DSN); err != nil {
		fatalf("running database migrations failed: %v", err)
	}

	db, err := store.Open(cfg.DB.Driver, cfg.DB.DSN, log)
	if err != nil {
		fatalf("opening database failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln := proxy.NewListener(ctx, cfg.ListenAddr, &proxy.Config{
		RemoteAddr: cfg.RemoteAddr,
		Schema:     sch,
		Store:      db,
		Logger:     log,
		Hook:       &loggingHook{log: log},
	})

	errCh := make(chan error, 1)
	go func() { errCh <- ln.Listen() }()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	runtimeenv.SystemdNotify(true, "running")

	select {
	case err := <-errCh:
		if err != nil {
			fatalf("listener stopped: %v", err)
		}
	case <-sigs:
		log.Info("shutdown signal received")
		runtimeenv.SystemdNotify(false, "shutting down")
		ln.Stop()
		<-errCh
	}

	log.Info("growattproxy stopped")
}

func fatalf(format string, args ...any) {
	logger.Default("growattproxy", logger.ERROR).Error(format, args...)
	os.Exit(1)
}
