package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/san-kum/mavoffboard/internal/config"
	"github.com/san-kum/mavoffboard/internal/link"
	"github.com/san-kum/mavoffboard/internal/logging"
	"github.com/san-kum/mavoffboard/internal/metrics"
	"github.com/san-kum/mavoffboard/internal/observability"
	"github.com/san-kum/mavoffboard/internal/sitl"
	"github.com/san-kum/mavoffboard/internal/storage"
	"github.com/san-kum/mavoffboard/internal/vehicle"
)

// loadConfig reads --config if given and applies the persistent flags that
// were set on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("address") {
		cfg.Connection.Address = address
	}
	if flags.Changed("data") {
		cfg.DataDir = dataDir
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if flags.Changed("sim-gps") {
		cfg.Sim.GPS = simGPS
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// session is one connected vehicle plus the plumbing around it.
type session struct {
	cfg     *config.Config
	log     logging.Logger
	sys     *vehicle.System
	address string
}

func openSession(ctx context.Context, cfg *config.Config) (*session, error) {
	log := cfg.NewLogger(nil)

	collector, err := observability.NewCollector(nil)
	if err != nil {
		return nil, err
	}

	var l link.Link
	addr := cfg.Connection.Address
	if useSim {
		sim, err := sitl.New(cfg.SitlConfig(log))
		if err != nil {
			return nil, err
		}
		l, addr = sim, "sim://px4"
	} else {
		a, err := cfg.Address()
		if err != nil {
			return nil, err
		}
		nl, err := link.Dial(a, cfg.LinkOptions(log))
		if err != nil {
			return nil, err
		}
		l = nl
	}

	if metricsAddr != "" {
		go func() {
			if err := collector.Serve(ctx, metricsAddr, log); err != nil {
				log.Error(ctx, "metrics server stopped", logging.Err(err))
			}
		}()
	}

	sys := vehicle.New(collector.Instrument(l), cfg.VehicleConfig(log, collector))
	log.Debug(ctx, "session open", logging.String("address", addr), logging.Bool("sim", useSim))
	return &session{cfg: cfg, log: log, sys: sys, address: addr}, nil
}

func (s *session) Close() error {
	return s.sys.Close()
}

// save stores the recorded samples with their flight metrics.
func (s *session) save(command, plan string, samples []storage.Sample, runErr error) (string, error) {
	outcome := "ok"
	if runErr != nil {
		outcome = runErr.Error()
	}
	st := storage.New(s.cfg.DataDir)
	return st.Save(storage.FlightMetadata{
		Command:   command,
		Plan:      plan,
		Address:   s.address,
		Simulated: useSim,
		Outcome:   outcome,
		Metrics:   metrics.Compute(samples),
	}, samples)
}
