package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	persistlog "followme.ai/internal/persistence/log"
	"followme.ai/internal/sim/driver"
	"followme.ai/internal/sim/scenario"
	"followme.ai/internal/sim/tuning"
	"followme.ai/internal/transport/observer"
)

type options struct {
	tuningPath   string
	scenarioPath string
	dataDir      string
	agents       int
	seed         int64
	rounds       int
	observe      string
	natsURL      string
	disableDB    bool
	logFormat    string
	logLevel     string
	quiet        bool
}

func main() {
	var o options
	flag.StringVar(&o.tuningPath, "tuning", "./configs/tuning.yaml", "path to tuning.yaml")
	flag.StringVar(&o.scenarioPath, "scenario", "./configs/scenarios/flock.yaml", "scenario file (yaml or json)")
	flag.StringVar(&o.dataDir, "data", "./data", "runtime data directory")
	flag.IntVar(&o.agents, "agents", -1, "swarm size (overrides tuning)")
	flag.Int64Var(&o.seed, "seed", 0, "rng seed (overrides tuning when non-zero)")
	flag.IntVar(&o.rounds, "rounds", -1, "max rounds, 0 = unlimited (overrides tuning)")
	flag.StringVar(&o.observe, "observe", "", "observer http listen address (empty to disable)")
	flag.StringVar(&o.natsURL, "nats", "", "nats url to publish rounds to, or \"embedded\"")
	flag.BoolVar(&o.disableDB, "disable_db", false, "disable the sqlite run index")
	flag.StringVar(&o.logFormat, "log_format", "text", "log format: text|json")
	flag.StringVar(&o.logLevel, "log_level", "info", "log level: debug|info|warn|error")
	flag.BoolVar(&o.quiet, "quiet", false, "do not print the final agent report")
	flag.Parse()

	logger, err := newLogger(os.Stderr, o.logFormat, o.logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, o, logger, os.Stdout); err != nil {
		logger.Error("run failed", "err", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("bad -log_level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("bad -log_format %q", format)
	}
}

func loadTuning(o options) (tuning.Tuning, error) {
	t, err := tuning.Load(o.tuningPath)
	if errors.Is(err, os.ErrNotExist) {
		t, err = tuning.Defaults(), nil
	}
	if err != nil {
		return tuning.Tuning{}, err
	}
	if o.agents >= 0 {
		t.SwarmSize = o.agents
	}
	if o.seed != 0 {
		t.Seed = o.seed
	}
	if o.rounds >= 0 {
		t.MaxRounds = o.rounds
	}
	return t, t.Validate()
}

func run(ctx context.Context, o options, logger *slog.Logger, out io.Writer) error {
	tune, err := loadTuning(o)
	if err != nil {
		return fmt.Errorf("load tuning: %w", err)
	}
	sc, err := scenario.Load(o.scenarioPath)
	if err != nil {
		return fmt.Errorf("load scenario: %w", err)
	}

	runID := uuid.NewString()
	runDir := filepath.Join(o.dataDir, "runs", runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}

	var sinks sinkSet
	defer sinks.Close()

	rounds := persistlog.NewRoundLogger(runDir, persistlog.DefaultSegmentRounds)
	sinks.add(rounds, rounds.Close)
	if err := openIndex(&sinks, o); err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	if err := openBus(&sinks, o, logger); err != nil {
		return fmt.Errorf("open nats: %w", err)
	}
	var obs *observer.Server
	if o.observe != "" {
		obs = observer.NewServer(observer.Config{Logger: logger})
		sinks.add(obs, nil)
	}

	d, err := driver.New(driver.Config{Tuning: tune, Scenario: sc, RunID: runID, Logger: logger, Sinks: sinks.list()})
	if err != nil {
		return err
	}

	if obs != nil {
		obs.SetRegions(d.Regions())
		srv := &http.Server{
			Addr:              o.observe,
			Handler:           newMux(obs, d, &sinks),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("observer listening", "addr", o.observe)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("observer stopped", "err", err)
			}
		}()
		defer func() {
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			_ = srv.Shutdown(ctx2)
		}()
	}

	res, runErr := d.Run(ctx)

	if !o.quiet {
		for _, s := range d.Swarm().Snapshot() {
			fmt.Fprint(out, s.String())
		}
	}
	fmt.Fprintf(out, "run %s: %d rounds, reason=%s, faults=%d, digest=%s\n",
		res.RunID, res.Rounds, res.Reason, res.Faults, res.Digest)
	fmt.Fprintf(out, "round log: %s\n", runDir)

	if errors.Is(runErr, context.Canceled) {
		logger.Info("interrupted", "rounds", res.Rounds)
		return nil
	}
	return runErr
}
