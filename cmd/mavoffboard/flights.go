package main

import (
	"errors"
	"fmt"
	"math"
	"os"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/mavoffboard/internal/config"
	"github.com/san-kum/mavoffboard/internal/storage"
)

const defaultConfigPath = "mavoffboard.yaml"

func openStore(cmd *cobra.Command) (*storage.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return storage.New(cfg.DataDir), nil
}

func listFlights(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	flights, err := st.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(flights) == 0 {
		fmt.Fprintln(out, "no flights found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCOMMAND\tPLAN\tTIME\tDURATION\tSAMPLES\tMAX ALT\tOUTCOME")

	for _, f := range flights {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1fs\t%d\t%.2fm\t%s\n",
			f.ID,
			f.Command,
			f.Plan,
			f.Timestamp.Format("2006-01-02 15:04:05"),
			f.Duration,
			f.Samples,
			f.Metrics["max_altitude"],
			f.Outcome,
		)
	}

	return w.Flush()
}

func plotFlight(cmd *cobra.Command, args []string) error {
	id := args[0]

	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	meta, err := st.Load(id)
	if err != nil {
		return err
	}
	samples, err := st.LoadSamples(id)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return fmt.Errorf("no data to plot")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "flight: %s\n", meta.ID)
	fmt.Fprintf(out, "command: %s\n", meta.Command)
	if meta.Plan != "" {
		fmt.Fprintf(out, "plan: %s\n", meta.Plan)
	}
	fmt.Fprintf(out, "samples: %d\n\n", len(samples))

	series := []struct {
		caption string
		value   func(storage.Sample) float64
	}{
		{"altitude (m)", func(s storage.Sample) float64 { return -s.D }},
		{"north (m)", func(s storage.Sample) float64 { return s.N }},
		{"east (m)", func(s storage.Sample) float64 { return s.E }},
		{"speed (m/s)", func(s storage.Sample) float64 {
			return math.Sqrt(s.VN*s.VN + s.VE*s.VE + s.VD*s.VD)
		}},
	}

	for _, sr := range series {
		data := make([]float64, len(samples))
		for i, s := range samples {
			data[i] = sr.value(s)
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(sr.caption),
		)
		fmt.Fprintln(out, graph)
		fmt.Fprintln(out)
	}

	for _, name := range []string{"max_altitude", "max_speed", "path_length", "final_offset"} {
		if v, ok := meta.Metrics[name]; ok {
			fmt.Fprintf(out, "%-14s %.3f\n", name, v)
		}
	}
	return nil
}

func exportFlight(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}

	if outputFile == "" {
		return st.ExportJSON(cmd.OutOrStdout(), args[0])
	}

	f, err := os.Create(outputFile)
	if err != nil {
		return err
	}
	if err := st.ExportJSON(f, args[0]); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported to %s\n", outputFile)
	return nil
}

func listPresets(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, name := range config.ListPresets() {
		p := config.GetPreset(name)
		fmt.Fprintf(out, "%s (settle %s, dwell %s)\n", name, p.Settle, p.Dwell)
		for _, wp := range p.Waypoints {
			fmt.Fprintf(out, "  %gm North, %gm East, %gm Down, yaw %g\n", wp.North, wp.East, wp.Down, wp.Yaw)
		}
	}
	return nil
}

func initConfig(cmd *cobra.Command, args []string) error {
	path := defaultConfigPath
	if len(args) > 0 {
		path = args[0]
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if err := config.Save(path, config.DefaultConfig()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}
