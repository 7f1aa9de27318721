package mission_test

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"

	"github.com/san-kum/mavoffboard/internal/link"
	"github.com/san-kum/mavoffboard/internal/logging"
	"github.com/san-kum/mavoffboard/internal/mission"
	"github.com/san-kum/mavoffboard/internal/sitl"
	"github.com/san-kum/mavoffboard/internal/vehicle"
)

// scriptedAutopilot heartbeats as a PX4 vehicle and acknowledges every
// command with the result picked by policy. It never sends telemetry.
type scriptedAutopilot struct {
	frames chan link.Frame
	done   chan struct{}
	once   sync.Once
	policy func(*common.MessageCommandLong) common.MAV_RESULT

	mu   sync.Mutex
	sent []*common.MessageCommandLong
}

func newScriptedAutopilot(policy func(*common.MessageCommandLong) common.MAV_RESULT) *scriptedAutopilot {
	a := &scriptedAutopilot{
		frames: make(chan link.Frame, 64),
		done:   make(chan struct{}),
		policy: policy,
	}
	go a.heartbeats()
	return a
}

func (a *scriptedAutopilot) heartbeats() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		a.emit(&common.MessageHeartbeat{
			Type:       common.MAV_TYPE_QUADROTOR,
			Autopilot:  common.MAV_AUTOPILOT_PX4,
			BaseMode:   common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED,
			CustomMode: vehicle.PX4CustomMode(3, 0),
		})
		select {
		case <-a.done:
			return
		case <-ticker.C:
		}
	}
}

func (a *scriptedAutopilot) emit(msg message.Message) {
	select {
	case a.frames <- link.Frame{SystemID: 1, ComponentID: 1, Message: msg}:
	case <-a.done:
	}
}

func (a *scriptedAutopilot) Frames() <-chan link.Frame { return a.frames }

func (a *scriptedAutopilot) Send(msg message.Message) error {
	c, ok := msg.(*common.MessageCommandLong)
	if !ok {
		return nil
	}
	a.mu.Lock()
	a.sent = append(a.sent, c)
	a.mu.Unlock()
	a.emit(&common.MessageCommandAck{Command: c.Command, Result: a.policy(c)})
	return nil
}

func (a *scriptedAutopilot) Close() error {
	a.once.Do(func() { close(a.done) })
	return nil
}

func (a *scriptedAutopilot) commands() []*common.MessageCommandLong {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*common.MessageCommandLong(nil), a.sent...)
}

func shortPlan() mission.Plan {
	plan := mission.DefaultPlan()
	plan.Settle = 200 * time.Millisecond
	plan.Dwell = 1500 * time.Millisecond
	return plan
}

func newSystem(l link.Link) *vehicle.System {
	sys := vehicle.New(l, vehicle.Config{
		CommandTimeout: 200 * time.Millisecond,
		Logger:         logging.Noop(),
	})
	DeferCleanup(sys.Close)
	return sys
}

// trackMinDown records the highest point reached (most negative down).
func trackMinDown(sys *vehicle.System) func() float32 {
	samples, cancel := sys.Telemetry.SubscribePositionVelocityNed()
	var (
		mu     sync.Mutex
		lowest float32
	)
	go func() {
		for s := range samples {
			mu.Lock()
			if s.Position.DownM < lowest {
				lowest = s.Position.DownM
			}
			mu.Unlock()
		}
	}()
	DeferCleanup(cancel)
	return func() float32 {
		mu.Lock()
		defer mu.Unlock()
		return lowest
	}
}

var _ = Describe("Runner", func() {
	var out *gbytes.Buffer

	BeforeEach(func() {
		out = gbytes.NewBuffer()
	})

	startSim := func(gps bool) (*sitl.Vehicle, *vehicle.System) {
		cfg := sitl.DefaultConfig()
		cfg.GPS = gps
		sim, err := sitl.New(cfg)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(sim.Close)
		return sim, newSystem(sim)
	}

	Describe("Fly", func() {
		It("flies the hop plan and reports the denied stop without GPS", func(ctx SpecContext) {
			sim, sys := startSim(false)
			minDown := trackMinDown(sys)

			err := mission.NewRunner(sys, out, nil).Fly(ctx, shortPlan())
			Expect(err).NotTo(HaveOccurred())

			for _, line := range []string{
				"Waiting for drone to connect...",
				"-- Connected to drone!",
				"-- Arming",
				"-- Drone is Armed",
				"-- Setting Attitude Setpoint",
				"-- Starting offboard",
				"-- Setting initial setpoint",
				"-- Starting Flight plan",
				"-- Go 0m North, 0m East, -1m Down",
				"-- Go 0m North, 0m East, 1m Down",
				"-- Disarming drone",
				"-- Stopping offboard",
				"Stopping offboard mode failed with error code: COMMAND_DENIED",
			} {
				Expect(out).To(gbytes.Say(regexp.QuoteMeta(line)))
			}

			Expect(minDown()).To(BeNumerically("<", -0.5))
			snap := sim.Snapshot()
			Expect(snap.Armed).To(BeFalse())
			Expect(snap.Position[2]).To(BeNumerically("~", 0, 0.01))
			Expect(sys.Offboard.Streaming()).To(BeFalse())
		}, SpecTimeout(20*time.Second))

		It("switches to HOLD on stop when a position estimate is available", func(ctx SpecContext) {
			sim, sys := startSim(true)

			err := mission.NewRunner(sys, out, nil).Fly(ctx, shortPlan())
			Expect(err).NotTo(HaveOccurred())

			Expect(out).To(gbytes.Say(regexp.QuoteMeta("-- Stopping offboard")))
			Expect(string(out.Contents())).NotTo(ContainSubstring("failed with error code"))
			Expect(sim.Snapshot().Mode).To(Equal(vehicle.FlightModeHold))
		}, SpecTimeout(20*time.Second))

		It("disarms and returns the error when offboard start is rejected", func(ctx SpecContext) {
			ap := newScriptedAutopilot(func(c *common.MessageCommandLong) common.MAV_RESULT {
				if c.Command == common.MAV_CMD_DO_SET_MODE {
					return common.MAV_RESULT_DENIED
				}
				return common.MAV_RESULT_ACCEPTED
			})
			sys := newSystem(ap)

			err := mission.NewRunner(sys, out, nil).Fly(ctx, shortPlan())

			var oe *vehicle.OffboardError
			Expect(err).To(BeAssignableToTypeOf(oe))
			res, ok := vehicle.ResultOf(err)
			Expect(ok).To(BeTrue())
			Expect(res).To(Equal(vehicle.ResultCommandDenied))

			Expect(out).To(gbytes.Say(regexp.QuoteMeta("Starting offboard mode failed with error code: COMMAND_DENIED")))
			Expect(out).To(gbytes.Say(regexp.QuoteMeta("-- Disarming")))
			Expect(string(out.Contents())).NotTo(ContainSubstring("-- Setting initial setpoint"))

			cmds := ap.commands()
			Expect(cmds).NotTo(BeEmpty())
			last := cmds[len(cmds)-1]
			Expect(last.Command).To(Equal(common.MAV_CMD_COMPONENT_ARM_DISARM))
			Expect(last.Param1).To(Equal(float32(0)))
		}, SpecTimeout(10*time.Second))

		It("propagates an arming failure", func(ctx SpecContext) {
			ap := newScriptedAutopilot(func(*common.MessageCommandLong) common.MAV_RESULT {
				return common.MAV_RESULT_TEMPORARILY_REJECTED
			})
			sys := newSystem(ap)

			err := mission.NewRunner(sys, out, nil).Fly(ctx, shortPlan())

			var ae *vehicle.ActionError
			Expect(err).To(BeAssignableToTypeOf(ae))
			Expect(string(out.Contents())).NotTo(ContainSubstring("-- Drone is Armed"))
		}, SpecTimeout(10*time.Second))

		It("waits for a position estimate before arming when required", func(ctx SpecContext) {
			ap := newScriptedAutopilot(func(*common.MessageCommandLong) common.MAV_RESULT {
				return common.MAV_RESULT_ACCEPTED
			})
			sys := newSystem(ap)

			plan := shortPlan()
			plan.RequirePositionEstimate = true
			short, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
			defer cancel()

			err := mission.NewRunner(sys, out, nil).Fly(short, plan)
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(out).To(gbytes.Say(regexp.QuoteMeta("Waiting for drone to have a local position estimate...")))
			Expect(string(out.Contents())).NotTo(ContainSubstring("-- Arming"))
			Expect(ap.commands()).To(BeEmpty())
		}, SpecTimeout(5*time.Second))
	})

	Describe("Monitor", func() {
		It("prints the position until cancelled", func(ctx SpecContext) {
			_, sys := startSim(false)

			mctx, cancel := context.WithCancel(ctx)
			errc := make(chan error, 1)
			go func() {
				errc <- mission.NewRunner(sys, out, nil).Monitor(mctx, 100*time.Millisecond)
			}()

			Eventually(out).WithTimeout(5 * time.Second).Should(
				gbytes.Say(`-- POS: -?0\.00m North, -?0\.00m East, -?0\.00m Down`))
			Eventually(out).WithTimeout(time.Second).Should(gbytes.Say(`-- POS: `))
			Expect(sys.Offboard.Streaming()).To(BeTrue())

			cancel()
			Eventually(errc).WithTimeout(time.Second).Should(Receive(BeNil()))
		}, SpecTimeout(10*time.Second))

		It("returns cleanly when cancelled before the drone connects", func(ctx SpecContext) {
			sys := newSystem(newScriptedAutopilot(nil))
			mctx, cancel := context.WithCancel(ctx)
			cancel()
			Expect(mission.NewRunner(sys, out, nil).Monitor(mctx, time.Second)).To(Succeed())
		})
	})
})
