package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	logger "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"papertrader/src/broker"
	"papertrader/src/config"
	"papertrader/src/database"
	"papertrader/src/marketdata"
	"papertrader/src/model"
	"papertrader/src/repository"
	"papertrader/src/server"
	"papertrader/src/session"
	"papertrader/src/statestore"
	"papertrader/src/strategy"
)

var Version string

func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = logger.InfoLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	SetupLogger()

	app := cli.NewApp()
	app.Name = "papertrader"
	app.Usage = "Autonomous paper-trading session engine"
	app.Version = Version

	app.Commands = []cli.Command{
		runCMD,
		replayCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	runCMD = cli.Command{
		Name:        "run",
		Usage:       "run a live session against the exchange stream",
		Action:      runAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run a paper-trading session on the live Binance stream`,
	}
	replayCMD = cli.Command{
		Name:      "replay",
		Usage:     "run a session against recorded candles",
		Action:    replayAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "file",
				Usage: "CSV candle file (unix_ms,open,high,low,close,volume)",
			},
			cli.Float64Flag{
				Name:  "speed",
				Usage: "replay speed multiplier, 0 means as fast as possible",
				Value: 0,
			},
		},
		Description: `Run a paper-trading session reading candles from a CSV file`,
	}
)

func runAction(_ *cli.Context) error {
	logger.Info("Starting live session CMD")

	cfg := config.GetConfig()
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Error("Invalid configuration")
		return err
	}

	source := marketdata.NewBinanceSource(cfg)
	return runSession(cfg, source)
}

func replayAction(c *cli.Context) error {
	logger.Info("Starting replay session CMD")

	cfg := config.GetConfig()
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Error("Invalid configuration")
		return err
	}

	file := c.String("file")
	if file == "" {
		return fmt.Errorf("replay requires --file")
	}

	source := marketdata.NewReplaySource(file, cfg.Symbol, cfg.CandleInterval, c.Float64("speed"))
	return runSession(cfg, source)
}

func runSession(cfg config.Config, source marketdata.Source) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	var journal *repository.JournalRepository
	dbConfig := database.GetConfig()
	if dbConfig.EnableDB {
		if err := database.InitMainDB(); err != nil {
			logger.WithError(err).Error("Failed to connect to journal database")
			return err
		}
		journal = repository.NewJournalRepository()
	}

	store := statestore.New(cfg.StatePath, cfg.WorkingOrderTTL)
	state := store.Load(func() *model.SessionState {
		return model.NewSessionState(cfg.Symbol, cfg.StartingEquity)
	})

	// Journal is a concrete pointer; pass interfaces only when it exists,
	// otherwise a typed-nil would defeat the broker's nil checks.
	var brokerJournal broker.Journal
	var excJournal session.ExceptionJournal
	if journal != nil {
		brokerJournal = journal
		excJournal = journal
	}

	b := broker.New(cfg, state, store, brokerJournal)
	engine := strategy.NewSMACross(cfg.StrategyFastPeriod, cfg.StrategySlowPeriod)
	orch := session.New(cfg, b, source, engine, excJournal)

	if cfg.OpsEnabled {
		ops := server.Start(cfg.OpsPort, orch)
		defer ops.Stop()
	}

	logger.WithFields(map[string]interface{}{
		"symbol":   cfg.Symbol,
		"strategy": engine.Name(),
		"source":   source.Name(),
		"equity":   state.Equity.String(),
		"duration": cfg.SessionDuration.String(),
	}).Info("Session starting")

	report, err := orch.Run(ctx)
	if err != nil {
		logger.WithError(err).Error("Session ended with error")
	}

	logger.WithFields(map[string]interface{}{
		"status":      report.Status,
		"pnl":         report.PnLAbsolute.String(),
		"errors":      report.ErrorCount,
		"duration_s":  report.DurationSeconds,
		"exit_code":   report.ExitCode,
		"report_path": cfg.ReportPath,
	}).Info("Session finished")

	if report.ExitCode != 0 {
		// Give log sinks a moment before the process dies.
		time.Sleep(200 * time.Millisecond)
		os.Exit(report.ExitCode)
	}
	return nil
}
