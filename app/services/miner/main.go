package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/minernet/foundation/blockchain/genesis"
	"github.com/ardanlabs/minernet/foundation/blockchain/miner"
	"github.com/ardanlabs/minernet/foundation/ipc"
	"github.com/ardanlabs/minernet/foundation/ipc/posix"
	"github.com/ardanlabs/minernet/foundation/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Signals are captured before anything else so the attach of the shared
	// objects is never interrupted. They wait in the inbox until the round
	// loop reads them.
	inbox, stop := posix.Notify(64)
	defer stop()

	// Construct the application logger.
	log, err := logger.New("MINER")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence. Leaving the network on
	// request is a clean exit.
	if err := run(log, inbox); err != nil && !errors.Is(err, miner.ErrAbandoned) {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		stop()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger, inbox <-chan ipc.Signal) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Args  conf.Args
		Miner struct {
			Dir            string        `conf:"default:/dev/shm/minernet"`
			GenesisFile    string        `conf:"default:zblock/genesis.json"`
			VoteTimeout    time.Duration `conf:"default:2s"`
			RoundTimeout   time.Duration `conf:"default:0s"`
			TallyMode      string        `conf:"default:integer"`
			TallyThreshold float64       `conf:"default:0.5"`
			Seed           int64         `conf:"default:-1"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "usage: miner <worker_count> <round_count>",
		},
	}

	const prefix = "MINER"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	workers, err := strconv.Atoi(cfg.Args.Num(0))
	if err != nil {
		return fmt.Errorf("usage: miner <worker_count> <round_count>: worker_count: %w", err)
	}

	// A round count of zero or less means run until told to stop.
	rounds, err := strconv.Atoi(cfg.Args.Num(1))
	if err != nil {
		return fmt.Errorf("usage: miner <worker_count> <round_count>: round_count: %w", err)
	}

	// =========================================================================
	// App Starting

	traceID := uuid.New().String()
	pid := os.Getpid()

	log.Infow("starting service", "version", build, "traceid", traceID, "pid", pid)
	defer log.Infow("shutdown complete", "traceid", traceID)

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out, "traceid", traceID)

	// =========================================================================
	// Miner Support

	gen, err := genesis.Load(cfg.Miner.GenesisFile)
	if err != nil {
		return fmt.Errorf("loading genesis: %w", err)
	}

	ns, err := posix.New(cfg.Miner.Dir)
	if err != nil {
		return err
	}

	// The blockchain packages accept a function of this signature to allow the
	// application to log.
	ev := func(v string, args ...any) {
		log.Infow(fmt.Sprintf(v, args...), "traceid", traceID)
	}

	m, err := miner.New(miner.Config{
		Namespace: ns,
		Signaler:  posix.Signaler{},
		Inbox:     inbox,
		PID:       pid,
		Workers:   workers,
		Rounds:    rounds,
		Genesis:   gen,
		Tally: miner.Tally{
			Mode:      cfg.Miner.TallyMode,
			Threshold: cfg.Miner.TallyThreshold,
		},
		VoteTimeout:  cfg.Miner.VoteTimeout,
		RoundTimeout: cfg.Miner.RoundTimeout,
		Seed:         cfg.Miner.Seed,
		EvHandler:    ev,
	})
	if err != nil {
		return err
	}

	log.Infow("startup", "status", "joined network", "index", m.Index(), "traceid", traceID)

	// =========================================================================
	// Rounds

	runErr := m.Run(context.Background())

	log.Infow("shutdown", "status", "leaving network", "traceid", traceID)
	if err := m.Close(); err != nil {
		return errors.Join(runErr, fmt.Errorf("closing miner: %w", err))
	}

	return runErr
}
