// Package mission runs the operator-facing flight sequences: a scripted
// offboard flight and a position monitor loop.
package mission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/san-kum/mavoffboard/internal/logging"
	"github.com/san-kum/mavoffboard/internal/vehicle"
)

const (
	DefaultSettle          = 5 * time.Second
	DefaultDwell           = 10 * time.Second
	DefaultMonitorInterval = time.Second
)

// Plan is a sequence of offboard position setpoints relative to the
// position where offboard mode started.
type Plan struct {
	Name string
	// Settle is the wait after the initial zero setpoint.
	Settle time.Duration
	// Dwell is the wait after each waypoint.
	Dwell     time.Duration
	Waypoints []vehicle.PositionNedYaw
	// RequirePositionEstimate waits for a local position sample before arming.
	RequirePositionEstimate bool
}

func DefaultPlan() Plan {
	return Plan{
		Name:   "hop",
		Settle: DefaultSettle,
		Dwell:  DefaultDwell,
		Waypoints: []vehicle.PositionNedYaw{
			{NorthM: 0, EastM: 0, DownM: -1},
			{NorthM: 0, EastM: 0, DownM: 1},
		},
	}
}

// Runner drives one vehicle.System and prints progress to out.
type Runner struct {
	sys *vehicle.System
	out io.Writer
	log logging.Logger
}

func NewRunner(sys *vehicle.System, out io.Writer, log logging.Logger) *Runner {
	if log == nil {
		log = logging.Noop()
	}
	return &Runner{sys: sys, out: out, log: log.With(logging.String("component", "mission"))}
}

func (r *Runner) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format+"\n", args...)
}

func (r *Runner) connect(ctx context.Context) error {
	r.printf("Waiting for drone to connect...")
	if err := r.sys.WaitConnected(ctx); err != nil {
		return fmt.Errorf("wait for connection: %w", err)
	}
	r.printf("-- Connected to drone!")
	return nil
}

// Fly connects, arms, enters offboard mode and visits every waypoint of the
// plan. A rejected offboard start disarms and returns the error; a rejected
// offboard stop is only reported.
func (r *Runner) Fly(ctx context.Context, plan Plan) error {
	if err := r.connect(ctx); err != nil {
		return err
	}

	if plan.RequirePositionEstimate {
		r.printf("Waiting for drone to have a local position estimate...")
		if _, err := r.sys.Telemetry.PositionVelocityNed(ctx); err != nil {
			return fmt.Errorf("wait for position estimate: %w", err)
		}
		r.printf("-- Local position estimate OK")
	}

	r.printf("-- Arming")
	if err := r.sys.Action.Arm(ctx); err != nil {
		return err
	}
	r.printf("-- Drone is Armed")

	r.printf("-- Setting Attitude Setpoint")
	if err := r.sys.Offboard.SetAttitude(vehicle.Attitude{}); err != nil {
		return err
	}

	r.printf("-- Starting offboard")
	if err := r.sys.Offboard.Start(ctx); err != nil {
		var oe *vehicle.OffboardError
		if !errors.As(err, &oe) {
			return err
		}
		r.printf("Starting offboard mode failed with error code: %s", oe.Result)
		r.printf("-- Disarming")
		if derr := r.sys.Action.Disarm(ctx); derr != nil {
			r.log.Warn(ctx, "disarm after failed offboard start", logging.Err(derr))
		}
		return err
	}

	r.printf("-- Setting initial setpoint")
	if err := r.sys.Offboard.SetPositionNed(vehicle.PositionNedYaw{}); err != nil {
		return err
	}
	if err := sleep(ctx, plan.Settle); err != nil {
		return err
	}

	r.printf("-- Starting Flight plan")
	for i, wp := range plan.Waypoints {
		r.printf("-- Go %gm North, %gm East, %gm Down", wp.NorthM, wp.EastM, wp.DownM)
		if err := r.sys.Offboard.SetPositionNed(wp); err != nil {
			return err
		}
		r.log.Debug(ctx, "waypoint sent", logging.Int("index", i))
		if err := sleep(ctx, plan.Dwell); err != nil {
			return err
		}
	}

	r.printf("-- Disarming drone")
	if err := r.sys.Action.Disarm(ctx); err != nil {
		return err
	}

	r.printf("-- Stopping offboard")
	if err := r.sys.Offboard.Stop(ctx); err != nil {
		var oe *vehicle.OffboardError
		if !errors.As(err, &oe) {
			return err
		}
		r.printf("Stopping offboard mode failed with error code: %s", oe.Result)
	}
	return nil
}

// Monitor keeps a zero position setpoint streaming and prints the vehicle
// position every interval until ctx is cancelled.
func (r *Runner) Monitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	if err := r.connect(ctx); err != nil {
		return ignoreCancel(err)
	}

	for {
		if err := r.sys.Offboard.SetPositionNed(vehicle.PositionNedYaw{}); err != nil {
			return err
		}
		pv, err := r.sys.Telemetry.PositionVelocityNed(ctx)
		if err != nil {
			return ignoreCancel(err)
		}
		r.printf("-- POS: %s", pv)
		if err := sleep(ctx, interval); err != nil {
			return ignoreCancel(err)
		}
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
