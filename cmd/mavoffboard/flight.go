package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/san-kum/mavoffboard/internal/config"
	"github.com/san-kum/mavoffboard/internal/mission"
	"github.com/san-kum/mavoffboard/internal/storage"
	"github.com/san-kum/mavoffboard/internal/tui"
)

func runFly(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	plan := cfg.FlightPlan
	if preset != "" {
		p := config.GetPreset(preset)
		if p == nil {
			return fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
		plan = *p
	}
	if cmd.Flags().Changed("settle") {
		plan.Settle = settle
	}
	if cmd.Flags().Changed("dwell") {
		plan.Dwell = dwell
	}
	if cmd.Flags().Changed("require-position") {
		plan.RequirePositionEstimate = requireEstimate
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	var rec *storage.Recorder
	if !noRecord {
		rec = storage.NewRecorder(s.sys.Telemetry, nil)
	}

	out := cmd.OutOrStdout()
	flyErr := mission.NewRunner(s.sys, out, s.log).Fly(ctx, plan.Plan())

	if rec != nil {
		id, err := s.save("fly", plan.Name, rec.Stop(), flyErr)
		if err != nil {
			return fmt.Errorf("save flight log: %w", err)
		}
		fmt.Fprintf(out, "flight log: %s\n", id)
	}
	return flyErr
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("interval") {
		cfg.Monitor.Interval = interval
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	var rec *storage.Recorder
	if record {
		rec = storage.NewRecorder(s.sys.Telemetry, nil)
	}

	out := cmd.OutOrStdout()
	var monErr error
	if useTUI {
		monErr = monitorTUI(ctx, s)
	} else {
		monErr = mission.NewRunner(s.sys, out, s.log).Monitor(ctx, cfg.Monitor.Interval)
	}

	if rec != nil {
		id, err := s.save("monitor", "", rec.Stop(), monErr)
		if err != nil {
			return fmt.Errorf("save flight log: %w", err)
		}
		fmt.Fprintf(out, "flight log: %s\n", id)
	}
	return monErr
}

// monitorTUI runs the monitor loop in the background and shows the
// dashboard until the user quits or ctx is cancelled.
func monitorTUI(ctx context.Context, s *session) error {
	mctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- mission.NewRunner(s.sys, io.Discard, s.log).Monitor(mctx, s.cfg.Monitor.Interval)
	}()

	model := tui.NewModel(s.sys.Telemetry, "mavoffboard monitor: "+s.address)
	defer model.Close()

	p := tea.NewProgram(model)
	go func() {
		<-mctx.Done()
		p.Quit()
	}()

	_, uiErr := p.Run()
	cancel()
	if err := <-errc; err != nil {
		return err
	}
	return uiErr
}
