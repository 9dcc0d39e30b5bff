package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"srules/internal/config"
	"srules/internal/ics"
	"srules/internal/interval"
	appLog "srules/internal/log"
	"srules/internal/model"
	"srules/internal/registry"
	"srules/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	serve      bool
	schedule   string
	at         string
	from       string
	to         string
	export     string
	logLevel   string
}

func main() {
	// .env is optional; values already in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		appLog.Error("failed to read .env", err)
	}

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	level := conf.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(level))
	defer appLog.Sync()

	appLog.Info("effective config",
		"config_path", flags.configPath,
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"schedules", len(conf.Schedules),
		"serve", flags.serve,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New(ics.NewLoader(nil))
	if err := reg.Reload(ctx, conf); err != nil && !flags.serve {
		// partial registries are still served; one-shot queries need every schedule
		appLog.Error("failed to build schedules", err)
		os.Exit(1)
	}

	if flags.serve {
		if err := serve(ctx, flags, conf, reg); err != nil {
			appLog.Error("server stopped", err)
			os.Exit(1)
		}
		appLog.Info("srules exiting")
		return
	}

	if err := query(os.Stdout, flags, reg); err != nil {
		appLog.Error("query failed", err)
		os.Exit(1)
	}
}

// serve runs the HTTP API and reloads config plus ICS sources on the
// configured cron schedule.
func serve(ctx context.Context, flags flagConfig, conf *config.Config, reg *registry.Registry) error {
	c := cron.New()
	_, err := c.AddFunc(conf.RefreshCron, func() {
		next, err := config.Load(flags.configPath)
		if err != nil {
			appLog.Error("config reload failed; keeping current schedules", err)
			return
		}
		_ = reg.Reload(ctx, next)
	})
	if err != nil {
		return fmt.Errorf("refresh %q: %w", conf.RefreshCron, err)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	return web.NewServer(conf, reg).Run(ctx, conf.Listen)
}

// query answers one question about one schedule and writes the answer to w:
//   - -export writes iCalendar (optionally limited by -from/-to)
//   - -from/-to lists occurrences overlapping the range
//   - otherwise -at (default now) reports containment, next and previous
func query(w io.Writer, flags flagConfig, reg *registry.Registry) error {
	name := flags.schedule
	if name == "" {
		list := reg.List()
		if len(list) != 1 {
			return fmt.Errorf("-schedule is required when %d schedules are configured", len(list))
		}
		name = list[0].Name
	}
	sc, err := reg.Get(name)
	if err != nil {
		return err
	}

	parse := func(v string, def time.Time) (time.Time, error) {
		if v == "" {
			return def, nil
		}
		t, _, err := config.ParseTime(v, sc.Location)
		return t, err
	}

	result := sc.Result
	if flags.from != "" || flags.to != "" {
		from, err := parse(flags.from, time.Now())
		if err != nil {
			return err
		}
		to, err := parse(flags.to, from.AddDate(0, 0, 7))
		if err != nil {
			return err
		}
		result = result.Between(from, to, true)
		if flags.export == "" {
			return writePeriods(w, model.Periods(sc.Name, result.Occurrences(), sc.Location))
		}
	}

	if flags.export != "" {
		body := ics.Export(sc.Name, model.Periods(sc.Name, result.Occurrences(), sc.Location), time.Now())
		if flags.export == "-" {
			_, err := io.WriteString(w, body)
			return err
		}
		if err := os.WriteFile(flags.export, []byte(body), 0o644); err != nil {
			return err
		}
		appLog.Info("calendar exported", "schedule", sc.Name, "path", flags.export, "periods", result.Len())
		return nil
	}

	at, err := parse(flags.at, time.Now())
	if err != nil {
		return err
	}
	cur, in := result.Find(interval.Instant(at))
	fmt.Fprintf(w, "schedule  %s\nat        %s\ncontains  %t\n", sc.Name, at.In(sc.Location).Format(time.RFC3339), in)
	if in {
		fmt.Fprintf(w, "current   %s\n", formatPeriod(model.NewPeriod(sc.Name, cur, sc.Location)))
	}
	if next, ok := result.Next(at, false); ok {
		fmt.Fprintf(w, "next      %s\n", formatPeriod(model.NewPeriod(sc.Name, next, sc.Location)))
	}
	if prev, ok := result.Prev(at, false); ok {
		fmt.Fprintf(w, "prev      %s\n", formatPeriod(model.NewPeriod(sc.Name, prev, sc.Location)))
	}
	return nil
}

func formatPeriod(p model.Period) string {
	return fmt.Sprintf("%s  %s  %6.0fm", p.Start.Format(time.RFC3339), p.End.Format(time.RFC3339), p.DurationMinutes)
}

func writePeriods(w io.Writer, periods []model.Period) error {
	for _, p := range periods {
		if _, err := fmt.Fprintln(w, formatPeriod(p)); err != nil {
			return err
		}
	}
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", envOr("SRULES_CONFIG", "./srules.yaml"), "Path to config file ($SRULES_CONFIG)")
	flag.StringVar(&cfg.listen, "listen", os.Getenv("SRULES_LISTEN"), "HTTP listen address (overrides config if set, $SRULES_LISTEN)")
	flag.BoolVar(&cfg.serve, "serve", false, "Serve the HTTP API instead of answering one query")
	flag.StringVar(&cfg.schedule, "schedule", "", "Schedule to query (optional when only one is configured)")
	flag.StringVar(&cfg.at, "at", "", "Instant to query, YYYY-MM-DD or YYYY-MM-DDTHH:MM (default now)")
	flag.StringVar(&cfg.from, "from", "", "Start of the listed range")
	flag.StringVar(&cfg.to, "to", "", "End of the listed range (default from + 7 days)")
	flag.StringVar(&cfg.export, "export", "", "Write the schedule as iCalendar to this path (- for stdout)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "debug, info or error (overrides config if set)")

	flag.Parse()

	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
