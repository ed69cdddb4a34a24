package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/crystal-mush/gochanserv/pkg/audit"
	"github.com/crystal-mush/gochanserv/pkg/boltstore"
	"github.com/crystal-mush/gochanserv/pkg/logging"
	"github.com/crystal-mush/gochanserv/pkg/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func envInt(envVar string) int {
	n, _ := strconv.Atoi(os.Getenv(envVar))
	return n
}

type options struct {
	confPath string
	boltPath string
	auditDB  string
	logLevel string
	port     int
	webPort  int
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gochanserv: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	fs := pflag.NewFlagSet("gochanserv", pflag.ContinueOnError)
	fs.StringVar(&opts.confPath, "conf", envDefault("GOCHANSERV_CONF", ""), "Path to services config file (env: GOCHANSERV_CONF)")
	fs.StringVar(&opts.boltPath, "bolt", envDefault("GOCHANSERV_BOLT", ""), "Path to bbolt database, overrides config (env: GOCHANSERV_BOLT)")
	fs.StringVar(&opts.auditDB, "audit-db", envDefault("GOCHANSERV_AUDIT_DB", ""), "Path to SQLite audit database, overrides config (env: GOCHANSERV_AUDIT_DB)")
	fs.StringVar(&opts.logLevel, "log-level", envDefault("GOCHANSERV_LOG_LEVEL", ""), "Log level, overrides config (env: GOCHANSERV_LOG_LEVEL)")
	fs.IntVar(&opts.port, "port", envInt("GOCHANSERV_PORT"), "Uplink port, overrides config (env: GOCHANSERV_PORT)")
	fs.IntVar(&opts.webPort, "web-port", envInt("GOCHANSERV_WEB_PORT"), "Web port; setting it enables the web API (env: GOCHANSERV_WEB_PORT)")
	showVersion := fs.BoolP("version", "v", false, "Print version and exit")
	fs.Usage = func() { usage(fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Println(server.VersionString())
		return nil
	}

	conf, err := loadConf(opts)
	if err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return serve(conf, opts.confPath)
	}
	switch rest[0] {
	case "token":
		if len(rest) != 2 {
			return fmt.Errorf("usage: gochanserv token <account>")
		}
		tok, err := server.IssueWithSecret(conf.JWTSecret, conf.JWTExpiry, rest[1])
		if err != nil {
			return err
		}
		fmt.Println(tok)
	case "gen-secret":
		fmt.Println(server.GenerateJWTSecret())
	case "backup":
		if len(rest) != 2 {
			return fmt.Errorf("usage: gochanserv backup <path>")
		}
		store, err := boltstore.Open(conf.BoltPath)
		if err != nil {
			return err
		}
		defer store.Close()
		return store.Backup(rest[1])
	default:
		usage(fs)
		return fmt.Errorf("unknown command %q", rest[0])
	}
	return nil
}

func usage(fs *pflag.FlagSet) {
	fmt.Fprintln(os.Stderr, "Usage: gochanserv [flags]                  run services")
	fmt.Fprintln(os.Stderr, "       gochanserv [flags] token <account>  issue a web API token")
	fmt.Fprintln(os.Stderr, "       gochanserv gen-secret               print a random jwt_secret")
	fmt.Fprintln(os.Stderr, "       gochanserv [flags] backup <path>    snapshot the bbolt database")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Flags:")
	fs.PrintDefaults()
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Environment variables (used as defaults when flags are not set):")
	fmt.Fprintln(os.Stderr, "  GOCHANSERV_CONF        Path to services config file (.yaml)")
	fmt.Fprintln(os.Stderr, "  GOCHANSERV_BOLT        Path to bbolt database")
	fmt.Fprintln(os.Stderr, "  GOCHANSERV_AUDIT_DB    Path to SQLite audit database")
	fmt.Fprintln(os.Stderr, "  GOCHANSERV_PORT        Uplink port")
	fmt.Fprintln(os.Stderr, "  GOCHANSERV_WEB_PORT    Web API port")
	fmt.Fprintln(os.Stderr, "  GOCHANSERV_LOG_LEVEL   debug, info, warn or error")
	fmt.Fprintln(os.Stderr, "  GOCHANSERV_JWT_SECRET  Secret for signing web API tokens")
}

// loadConf reads the config file, if any, and applies flag and
// environment overrides.
func loadConf(opts options) (*server.ServicesConf, error) {
	conf := server.DefaultServicesConf()
	if opts.confPath != "" {
		var err error
		if conf, err = server.LoadServicesConf(opts.confPath); err != nil {
			return nil, err
		}
	}
	if opts.boltPath != "" {
		conf.BoltPath = opts.boltPath
	}
	if opts.auditDB != "" {
		conf.AuditDB = opts.auditDB
	}
	if opts.logLevel != "" {
		conf.LogLevel = opts.logLevel
	}
	if opts.port != 0 {
		conf.UplinkPort = opts.port
	}
	if opts.webPort != 0 {
		conf.WebEnabled = true
		conf.WebPort = opts.webPort
	}
	if v := os.Getenv("GOCHANSERV_JWT_SECRET"); v != "" {
		conf.JWTSecret = v
	}
	return conf, nil
}

func serve(conf *server.ServicesConf, confPath string) error {
	logging.Init("gochanserv", conf.LogLevel, conf.LogJSON)
	log.Info().Str("component", "main").Str("version", server.Version).Msg("starting " + server.VersionString())

	if err := os.MkdirAll(filepath.Dir(conf.BoltPath), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	store, err := boltstore.Open(conf.BoltPath)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info().Str("component", "main").Str("path", store.Path()).Msg("opened channel database")
	accounts, err := store.LoadAccounts()
	if err != nil {
		return err
	}
	channels, err := store.LoadChannels()
	if err != nil {
		return err
	}

	sinks := []audit.Sink{audit.LogSink{Logger: log.Logger}}
	var history server.AuditQuerier
	if conf.AuditDB != "" {
		sqlSink, err := audit.OpenSQLSink(conf.AuditDB, 5*time.Second)
		if err != nil {
			return err
		}
		defer sqlSink.Close()
		log.Info().Str("component", "main").Str("path", sqlSink.Path()).Msg("opened audit database")
		sinks = append(sinks, sqlSink)
		history = sqlSink
	}

	reg := prometheus.NewRegistry()
	svc, err := server.NewServices(conf, server.Options{
		Store:      store,
		Registerer: reg,
		Gatherer:   reg,
		Sinks:      sinks,
		ConfPath:   confPath,
	})
	if err != nil {
		return err
	}
	svc.Registry.Load(accounts, channels)
	svc.ApplyAccountClasses()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.WatchConfig(ctx, 500*time.Millisecond); err != nil {
		log.Warn().Err(err).Str("component", "main").Msg("config watching disabled")
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				svc.Reload()
			}
		}
	}()

	var web *server.WebServer
	if conf.WebEnabled {
		web = server.NewWebServer(svc, history, server.WebConfig{
			Port:      conf.WebPort,
			Host:      conf.WebHost,
			JWTSecret: conf.JWTSecret,
			JWTExpiry: conf.JWTExpiry,
		})
		if conf.JWTSecret == "" {
			log.Warn().Str("component", "main").Msg("jwt_secret not set; web tokens will not survive a restart")
		}
		go func() {
			if err := web.Start(); err != nil {
				log.Error().Err(err).Str("component", "web").Msg("web server stopped")
			}
		}()
	}

	err = server.NewUplink(svc).ListenAndServe(ctx, conf.UplinkAddr())

	if web != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		web.Stop(shutdownCtx)
	}
	log.Info().Str("component", "main").Msg("shutting down")
	return err
}
