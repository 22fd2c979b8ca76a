package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"savannah.ai/internal/config"
	"savannah.ai/internal/observerproto"
	"savannah.ai/internal/sim/engine"
	"savannah.ai/internal/transport/observer"
)

func runCmd() *cobra.Command {
	var (
		configPath   string
		dataDir      string
		resume       bool
		observe      bool
		observerAddr string
		seed         int64
		ticks        int
		providerName string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a new simulation run, or resume an interrupted one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if resume && dataDir == "" {
				return fmt.Errorf("--resume requires --data pointing at an existing run")
			}
			if dataDir == "" {
				dataDir = filepath.Join("data", "exp_"+time.Now().Format("20060102_150405"))
			}
			if resume && configPath == "" {
				// A run directory carries its resolved config.
				configPath = filepath.Join(dataDir, "config.yaml")
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seed") {
				cfg.Simulation.Seed = seed
			}
			if cmd.Flags().Changed("ticks") {
				cfg.Simulation.Ticks = ticks
			}
			if cmd.Flags().Changed("provider") {
				cfg.Provider.Name = providerName
			}
			if cmd.Flags().Changed("observer-addr") {
				cfg.Observer.Addr = observerAddr
			}

			logger := log.New(os.Stdout, "[savannah] ", log.LstdFlags|log.Lmicroseconds)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var (
				eng  *engine.Engine
				opts []engine.Option
				obs  *observer.Server
			)
			if observe {
				// The handshake closure resolves after construction;
				// no subscriber can connect before Serve below.
				obs = observer.NewServer(func() observerproto.HelloMsg { return eng.Hello() }, logger)
				opts = append(opts, engine.WithObserver(obs))
			}
			eng, err = engine.New(cfg, dataDir, logger, opts...)
			if err != nil {
				return err
			}
			defer eng.Close()

			if resume {
				if err := eng.Resume(); err != nil {
					return err
				}
			} else {
				if err := eng.Setup(); err != nil {
					return err
				}
				logger.Printf("run %s started in %s", eng.RunID(), dataDir)
			}

			if observe {
				srv, err := obs.Serve(cfg.Observer.Addr)
				if err != nil {
					return fmt.Errorf("observer: %w", err)
				}
				defer srv.Close()
				logger.Printf("observer listening on ws://%s/observer", cfg.Observer.Addr)
			}

			sum, err := eng.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("\nRun complete after %d ticks.\n", sum.Ticks)
			fmt.Printf("  Survivors:        %d / %d\n", sum.Alive, sum.Total)
			fmt.Printf("  Perturbations:    %d\n", sum.PerturbationEvents)
			fmt.Printf("  Parse failures:   %d\n", sum.ParseFailures)
			fmt.Printf("  Fallback actions: %d\n", sum.Fallbacks)
			fmt.Printf("  Data directory:   %s\n", dataDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (yaml, supports 'inherits')")
	cmd.Flags().StringVarP(&dataDir, "data", "d", "", "run data directory (default data/exp_<timestamp>)")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume from the latest snapshot in --data")
	cmd.Flags().BoolVar(&observe, "observe", false, "serve the live observer websocket")
	cmd.Flags().StringVar(&observerAddr, "observer-addr", "", "observer listen address (overrides config)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "simulation seed (overrides config)")
	cmd.Flags().IntVar(&ticks, "ticks", 0, "tick limit (overrides config)")
	cmd.Flags().StringVar(&providerName, "provider", "", "inference provider: mock, claude_code, local_ollama")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Defaults()
		return &cfg, nil
	}
	return config.Load(path)
}
