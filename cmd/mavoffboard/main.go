package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	configFile  string
	address     string
	useSim      bool
	dataDir     string
	logLevel    string
	logFormat   string
	metricsAddr string

	// fly
	preset          string
	settle          time.Duration
	dwell           time.Duration
	requireEstimate bool
	noRecord        bool

	// monitor
	interval time.Duration
	useTUI   bool
	record   bool

	// sim
	simGPS bool

	// export, config init
	outputFile string
	force      bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Registering the flags also resets the
// package-level flag variables to their defaults.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "mavoffboard",
		Short:        "fly PX4 vehicles in offboard mode over MAVLink",
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file path (yaml)")
	pf.StringVar(&address, "address", "", "connection URL: serial://dev[:baud], udp://[host]:port, udpout://host:port, tcp://host:port")
	pf.BoolVar(&useSim, "sim", false, "fly the built-in simulated vehicle instead of a real link")
	pf.BoolVar(&simGPS, "sim-gps", false, "give the simulated vehicle a position estimate (HOLD allowed)")
	pf.StringVar(&dataDir, "data", "", "flight log directory")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "", "log format: text or json")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	flyCmd := &cobra.Command{
		Use:   "fly",
		Short: "arm, start offboard and fly the flight plan",
		Args:  cobra.NoArgs,
		RunE:  runFly,
	}
	flyCmd.Flags().StringVar(&preset, "preset", "", "use a named flight plan")
	flyCmd.Flags().DurationVar(&settle, "settle", 0, "wait after the initial setpoint")
	flyCmd.Flags().DurationVar(&dwell, "dwell", 0, "wait after each waypoint")
	flyCmd.Flags().BoolVar(&requireEstimate, "require-position", false, "wait for a local position estimate before arming")
	flyCmd.Flags().BoolVar(&noRecord, "no-record", false, "do not save a flight log")

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "stream a zero setpoint and print the local position",
		Args:  cobra.NoArgs,
		RunE:  runMonitor,
	}
	monitorCmd.Flags().DurationVar(&interval, "interval", 0, "print interval")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", false, "show a live terminal dashboard")
	monitorCmd.Flags().BoolVar(&record, "record", false, "save the telemetry as a flight log")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list flight logs",
		Args:  cobra.NoArgs,
		RunE:  listFlights,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [flight_id]",
		Short: "plot a flight log",
		Args:  cobra.ExactArgs(1),
		RunE:  plotFlight,
	}

	exportCmd := &cobra.Command{
		Use:   "export [flight_id]",
		Short: "export a flight log to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportFlight,
	}
	exportCmd.Flags().StringVarP(&outputFile, "output", "o", "", "write to file instead of stdout")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available flight plans",
		Args:  cobra.NoArgs,
		RunE:  listPresets,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "manage the config file",
	}
	configInitCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "write the default config",
		Args:  cobra.MaximumNArgs(1),
		RunE:  initConfig,
	}
	configInitCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(flyCmd, monitorCmd, listCmd, plotCmd, exportCmd, presetsCmd, configCmd)
	return rootCmd
}
