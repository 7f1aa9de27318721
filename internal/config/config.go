package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/mavoffboard/internal/link"
	"github.com/san-kum/mavoffboard/internal/logging"
	"github.com/san-kum/mavoffboard/internal/mission"
	"github.com/san-kum/mavoffboard/internal/sitl"
	"github.com/san-kum/mavoffboard/internal/vehicle"
)

const (
	DefaultAddress = "serial:///dev/serial/by-id/usb-FTDI_FT232R_USB_UART_B0019BWS-if00-port0:57600"
	DefaultDataDir = "flights"
)

type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Offboard   OffboardConfig   `yaml:"offboard"`
	FlightPlan FlightPlanConfig `yaml:"flight_plan"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Sim        SimConfig        `yaml:"sim"`
	Log        LogConfig        `yaml:"log"`
	DataDir    string           `yaml:"data_dir"`
}

type ConnectionConfig struct {
	Address          string        `yaml:"address"`
	SystemID         uint8         `yaml:"system_id"`
	ComponentID      uint8         `yaml:"component_id"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	CommandTimeout   time.Duration `yaml:"command_timeout"`
	CommandRetries   int           `yaml:"command_retries"`
}

type OffboardConfig struct {
	SetpointRate float64 `yaml:"setpoint_rate"`
}

type FlightPlanConfig struct {
	Name                    string           `yaml:"name"`
	Settle                  time.Duration    `yaml:"settle"`
	Dwell                   time.Duration    `yaml:"dwell"`
	RequirePositionEstimate bool             `yaml:"require_position_estimate"`
	Waypoints               []WaypointConfig `yaml:"waypoints"`
}

// WaypointConfig is an NED offset in metres; yaw in degrees.
type WaypointConfig struct {
	North float32 `yaml:"north"`
	East  float32 `yaml:"east"`
	Down  float32 `yaml:"down"`
	Yaw   float32 `yaml:"yaw"`
}

type MonitorConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type SimConfig struct {
	GPS           bool    `yaml:"gps"`
	TelemetryRate float64 `yaml:"telemetry_rate"`
	PhysicsRate   float64 `yaml:"physics_rate"`
	Integrator    string  `yaml:"integrator"`
	Kp            float64 `yaml:"kp"`
	Ki            float64 `yaml:"ki"`
	Kd            float64 `yaml:"kd"`
	MaxAccel      float64 `yaml:"max_accel"`
}

// LogConfig left empty defers to the MAVOFFBOARD_LOG_* environment.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func DefaultConfig() *Config {
	plan := mission.DefaultPlan()
	simDefaults := sitl.DefaultConfig()
	return &Config{
		Connection: ConnectionConfig{
			Address:          DefaultAddress,
			SystemID:         link.DefaultSystemID,
			ComponentID:      link.DefaultComponentID,
			HeartbeatTimeout: vehicle.DefaultHeartbeatTimeout,
			CommandTimeout:   vehicle.DefaultCommandTimeout,
			CommandRetries:   vehicle.DefaultCommandRetries,
		},
		Offboard: OffboardConfig{
			SetpointRate: vehicle.DefaultSetpointRate,
		},
		FlightPlan: planConfig(plan),
		Monitor: MonitorConfig{
			Interval: mission.DefaultMonitorInterval,
		},
		Sim: SimConfig{
			TelemetryRate: simDefaults.TelemetryRate,
			PhysicsRate:   simDefaults.PhysicsRate,
			Integrator:    simDefaults.Integrator,
			Kp:            simDefaults.Kp,
			Ki:            simDefaults.Ki,
			Kd:            simDefaults.Kd,
			MaxAccel:      simDefaults.MaxAccel,
		},
		DataDir: DefaultDataDir,
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := link.ParseAddress(c.Connection.Address); err != nil {
		errs = append(errs, fmt.Errorf("connection.address: %w", err))
	}
	if c.Connection.HeartbeatTimeout <= 0 {
		errs = append(errs, errors.New("connection.heartbeat_timeout must be positive"))
	}
	if c.Connection.CommandTimeout <= 0 {
		errs = append(errs, errors.New("connection.command_timeout must be positive"))
	}
	if c.Connection.CommandRetries < 0 {
		errs = append(errs, errors.New("connection.command_retries must not be negative"))
	}
	if c.Offboard.SetpointRate <= 0 {
		errs = append(errs, errors.New("offboard.setpoint_rate must be positive"))
	}
	if c.FlightPlan.Settle < 0 || c.FlightPlan.Dwell < 0 {
		errs = append(errs, errors.New("flight_plan settle and dwell must not be negative"))
	}
	if c.Monitor.Interval <= 0 {
		errs = append(errs, errors.New("monitor.interval must be positive"))
	}
	if c.Sim.TelemetryRate <= 0 || c.Sim.PhysicsRate <= 0 {
		errs = append(errs, errors.New("sim rates must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) Address() (link.Address, error) {
	return link.ParseAddress(c.Connection.Address)
}

func (c *Config) LinkOptions(log logging.Logger) link.Options {
	return link.Options{
		SystemID:    c.Connection.SystemID,
		ComponentID: c.Connection.ComponentID,
		Logger:      log,
	}
}

func (c *Config) VehicleConfig(log logging.Logger, obs vehicle.CommandObserver) vehicle.Config {
	return vehicle.Config{
		HeartbeatTimeout: c.Connection.HeartbeatTimeout,
		CommandTimeout:   c.Connection.CommandTimeout,
		CommandRetries:   c.Connection.CommandRetries,
		SetpointRate:     c.Offboard.SetpointRate,
		Logger:           log,
		Observer:         obs,
	}
}

func (c *Config) SitlConfig(log logging.Logger) sitl.Config {
	cfg := sitl.DefaultConfig()
	cfg.GPS = c.Sim.GPS
	cfg.TelemetryRate = c.Sim.TelemetryRate
	cfg.PhysicsRate = c.Sim.PhysicsRate
	cfg.Integrator = c.Sim.Integrator
	cfg.Kp, cfg.Ki, cfg.Kd = c.Sim.Kp, c.Sim.Ki, c.Sim.Kd
	cfg.MaxAccel = c.Sim.MaxAccel
	cfg.Logger = log
	return cfg
}

func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}

// NewLogger builds the configured logger writing to out (nil is stderr).
// With neither level nor format set, MAVOFFBOARD_LOG_LEVEL and
// MAVOFFBOARD_LOG_FORMAT decide.
func (c *Config) NewLogger(out io.Writer) logging.Logger {
	if c.Log.Level == "" && c.Log.Format == "" {
		return logging.NewFromEnv(out)
	}
	lc := c.LoggingConfig()
	lc.Output = out
	return logging.New(lc)
}

func (f FlightPlanConfig) Plan() mission.Plan {
	plan := mission.Plan{
		Name:                    f.Name,
		Settle:                  f.Settle,
		Dwell:                   f.Dwell,
		RequirePositionEstimate: f.RequirePositionEstimate,
		Waypoints:               make([]vehicle.PositionNedYaw, len(f.Waypoints)),
	}
	for i, wp := range f.Waypoints {
		plan.Waypoints[i] = vehicle.PositionNedYaw{NorthM: wp.North, EastM: wp.East, DownM: wp.Down, YawDeg: wp.Yaw}
	}
	return plan
}

func planConfig(p mission.Plan) FlightPlanConfig {
	f := FlightPlanConfig{
		Name:                    p.Name,
		Settle:                  p.Settle,
		Dwell:                   p.Dwell,
		RequirePositionEstimate: p.RequirePositionEstimate,
		Waypoints:               make([]WaypointConfig, len(p.Waypoints)),
	}
	for i, wp := range p.Waypoints {
		f.Waypoints[i] = WaypointConfig{North: wp.NorthM, East: wp.EastM, Down: wp.DownM, Yaw: wp.YawDeg}
	}
	return f
}
