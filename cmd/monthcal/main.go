package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"monthcal/internal/calendar"
	"monthcal/internal/config"
	"monthcal/internal/ics"
	appLog "monthcal/internal/log"
	"monthcal/internal/refresh"
	"monthcal/internal/store"
	"monthcal/internal/web"
)

var version = "0.1.0-dev"

type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := conf.ApplyEnv(flags.envFile); err != nil {
		appLog.Error("failed to apply environment", err, "env_file", flags.envFile)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err)
		os.Exit(1)
	}
	if err := refresh.ValidateSchedule(conf.RefreshCron); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}

	level, err := appLog.ParseLevel(conf.LogLevel)
	if err != nil {
		appLog.Error("invalid log level; using INFO", err)
	}
	appLog.SetLevel(level)

	appLog.Info("monthcal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"refresh", conf.RefreshCron,
		"calendars", len(conf.Calendars),
		"metrics", conf.Metrics,
		"once", flags.once,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := store.New()
	refresher := refresh.New(conf, ics.NewFetcher(conf.CacheDir, nil), st)

	srv, err := web.NewServer(conf, st)
	if err != nil {
		appLog.Error("failed to build web server", err)
		os.Exit(1)
	}

	if flags.once {
		if err := runOnce(ctx, conf, refresher, srv); err != nil {
			appLog.Error("single run failed", err)
			os.Exit(1)
		}
		return
	}

	if err := refresher.Start(ctx); err != nil {
		appLog.Error("failed to start refresher", err)
		os.Exit(1)
	}

	if err := web.StartServer(ctx, conf, srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
		appLog.Error("HTTP server failed", err)
		refresher.Stop()
		os.Exit(1)
	}

	refresher.Stop()
	appLog.Info("monthcal exiting")
}

// runOnce refreshes the feeds and prints the current month table of the
// first configured calendar.
func runOnce(ctx context.Context, conf *config.Config, refresher *refresh.Refresher, srv *web.Server) error {
	if err := refresher.RefreshAll(ctx); err != nil {
		appLog.Warn("refresh reported errors", "err", err)
	}

	now := time.Now().In(conf.Location())
	req := calendar.Request{Year: now.Year(), Month: int(now.Month()), Day: now.Day()}
	if len(conf.Calendars) > 0 {
		req.CalendarName = conf.Calendars[0].Name
	}

	out, err := srv.Renderer().RenderMonth(req, conf.WithYear())
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./monthcal.yaml", "Path to config file")
	flag.StringVar(&cfg.envFile, "env", ".env", "Optional .env file with MONTHCAL_* overrides")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Refresh feeds once, print this month's table and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}
	return cfg
}
