package vehicle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	. "github.com/onsi/gomega"
)

func newTestSystem(t *testing.T, cfg Config) (*System, *fakeAutopilot) {
	t.Helper()
	fake := newFakeAutopilot()
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 50 * time.Millisecond
	}
	sys := New(fake, cfg)
	t.Cleanup(func() { sys.Close() })
	return sys, fake
}

func connect(t *testing.T, sys *System, fake *fakeAutopilot) {
	t.Helper()
	fake.emit(px4Heartbeat(PX4CustomMode(px4Posctl, 0), false))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sys.WaitConnected(ctx); err != nil {
		t.Fatalf("WaitConnected: %v", err)
	}
}

func TestWaitConnected(t *testing.T) {
	g := NewWithT(t)
	sys, fake := newTestSystem(t, Config{})

	g.Expect(sys.IsConnected()).To(BeFalse())
	connect(t, sys, fake)

	sysID, compID, ok := sys.Target()
	g.Expect(ok).To(BeTrue())
	g.Expect(sysID).To(Equal(uint8(1)))
	g.Expect(compID).To(Equal(uint8(1)))
	g.Expect(sys.Telemetry.FlightMode()).To(Equal(FlightModePosctl))
	g.Expect(sys.Telemetry.Armed()).To(BeFalse())
}

func TestWaitConnectedIgnoresGroundStations(t *testing.T) {
	sys, fake := newTestSystem(t, Config{})

	fake.emit(&common.MessageHeartbeat{
		Type:      common.MAV_TYPE_GCS,
		Autopilot: common.MAV_AUTOPILOT_INVALID,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := sys.WaitConnected(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestConnectionStateStream(t *testing.T) {
	g := NewWithT(t)
	sys, fake := newTestSystem(t, Config{HeartbeatTimeout: 100 * time.Millisecond})

	states, cancel := sys.ConnectionState()
	defer cancel()

	fake.emit(px4Heartbeat(0, false))
	g.Eventually(states).WithTimeout(time.Second).Should(Receive(Equal(ConnectionState{IsConnected: true})))
	g.Eventually(states).WithTimeout(2 * time.Second).Should(Receive(Equal(ConnectionState{IsConnected: false})))
	g.Expect(sys.IsConnected()).To(BeFalse())
}

func TestHeartbeatUpdatesArmedAndMode(t *testing.T) {
	g := NewWithT(t)
	sys, fake := newTestSystem(t, Config{})
	connect(t, sys, fake)

	fake.emit(px4Heartbeat(PX4CustomMode(px4Offboard, 0), true))
	g.Eventually(sys.Telemetry.Armed).WithTimeout(time.Second).Should(BeTrue())
	g.Eventually(sys.Offboard.IsActive).WithTimeout(time.Second).Should(BeTrue())
}

func TestHeartbeatFromOtherSystemIgnored(t *testing.T) {
	g := NewWithT(t)
	sys, fake := newTestSystem(t, Config{})
	connect(t, sys, fake)

	fake.emitFrom(7, px4Heartbeat(PX4CustomMode(px4Offboard, 0), true))
	g.Consistently(sys.Telemetry.Armed).WithTimeout(100 * time.Millisecond).Should(BeFalse())
}

func TestArmAccepted(t *testing.T) {
	g := NewWithT(t)
	sys, fake := newTestSystem(t, Config{})
	connect(t, sys, fake)
	fake.setResponder(ackAll(common.MAV_RESULT_ACCEPTED))

	g.Expect(sys.Action.Arm(context.Background())).To(Succeed())

	cmds := fake.commands()
	g.Expect(cmds).To(HaveLen(1))
	g.Expect(cmds[0].Command).To(Equal(common.MAV_CMD_COMPONENT_ARM_DISARM))
	g.Expect(cmds[0].Param1).To(Equal(float32(1)))
	g.Expect(cmds[0].TargetSystem).To(Equal(uint8(1)))
}

func TestDisarmDenied(t *testing.T) {
	g := NewWithT(t)
	sys, fake := newTestSystem(t, Config{})
	connect(t, sys, fake)
	fake.setResponder(ackAll(common.MAV_RESULT_DENIED))

	err := sys.Action.Disarm(context.Background())

	var ae *ActionError
	g.Expect(errors.As(err, &ae)).To(BeTrue())
	g.Expect(ae.Result).To(Equal(ResultCommandDenied))
	g.Expect(err.Error()).To(Equal("disarm: COMMAND_DENIED"))
}

func TestKillSendsForceFlag(t *testing.T) {
	g := NewWithT(t)
	sys, fake := newTestSystem(t, Config{})
	connect(t, sys, fake)
	fake.setResponder(ackAll(common.MAV_RESULT_ACCEPTED))

	g.Expect(sys.Action.Kill(context.Background())).To(Succeed())
	g.Expect(fake.commands()[0].Param2).To(Equal(float32(forceDisarmMagic)))
}

func TestArmWithoutSystem(t *testing.T) {
	sys, _ := newTestSystem(t, Config{})

	err := sys.Action.Arm(context.Background())
	if res, ok := ResultOf(err); !ok || res != ResultNoSystem {
		t.Fatalf("expected NO_SYSTEM, got %v", err)
	}
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected errors.Is ErrNotConnected, got %v", err)
	}
}

func TestCommandRetriesUntilAcked(t *testing.T) {
	g := NewWithT(t)
	sys, fake := newTestSystem(t, Config{CommandTimeout: 20 * time.Millisecond, CommandRetries: 3})
	connect(t, sys, fake)

	attempts := 0
	fake.setResponder(func(m message.Message) []message.Message {
		c, ok := m.(*common.MessageCommandLong)
		if !ok {
			return nil
		}
		attempts++
		if attempts < 3 {
			return nil
		}
		return []message.Message{&common.MessageCommandAck{Command: c.Command, Result: common.MAV_RESULT_ACCEPTED}}
	})

	g.Expect(sys.Action.Arm(context.Background())).To(Succeed())

	cmds := fake.commands()
	g.Expect(cmds).To(HaveLen(3))
	for i, c := range cmds {
		g.Expect(c.Confirmation).To(Equal(uint8(i)))
	}
}

func TestCommandTimeout(t *testing.T) {
	g := NewWithT(t)
	sys, fake := newTestSystem(t, Config{CommandTimeout: 10 * time.Millisecond, CommandRetries: 2})
	connect(t, sys, fake)

	err := sys.Action.Arm(context.Background())

	res, ok := ResultOf(err)
	g.Expect(ok).To(BeTrue())
	g.Expect(res).To(Equal(ResultTimeout))
	g.Expect(fake.commands()).To(HaveLen(3))
}

func TestCommandInProgressExtendsWait(t *testing.T) {
	g := NewWithT(t)
	sys, fake := newTestSystem(t, Config{CommandTimeout: 40 * time.Millisecond, CommandRetries: 0})
	connect(t, sys, fake)

	fake.setResponder(func(m message.Message) []message.Message {
		c, ok := m.(*common.MessageCommandLong)
		if !ok {
			return nil
		}
		go func() {
			fake.emit(&common.MessageCommandAck{Command: c.Command, Result: common.MAV_RESULT_IN_PROGRESS})
			time.Sleep(25 * time.Millisecond)
			fake.emit(&common.MessageCommandAck{Command: c.Command, Result: common.MAV_RESULT_IN_PROGRESS})
			time.Sleep(25 * time.Millisecond)
			fake.emit(&common.MessageCommandAck{Command: c.Command, Result: common.MAV_RESULT_ACCEPTED})
		}()
		return nil
	})

	g.Expect(sys.Action.Arm(context.Background())).To(Succeed())
	g.Expect(fake.commands()).To(HaveLen(1))
}

func TestCommandContextCancelled(t *testing.T) {
	sys, fake := newTestSystem(t, Config{CommandTimeout: time.Second})
	connect(t, sys, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sys.Action.Arm(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type recordingObserver struct {
	commands []string
	results  []Result
}

func (r *recordingObserver) CommandCompleted(command string, result Result, _ time.Duration) {
	r.commands = append(r.commands, command)
	r.results = append(r.results, result)
}

func TestCommandObserver(t *testing.T) {
	g := NewWithT(t)
	obs := &recordingObserver{}
	sys, fake := newTestSystem(t, Config{Observer: obs})
	connect(t, sys, fake)
	fake.setResponder(ackAll(common.MAV_RESULT_ACCEPTED))

	g.Expect(sys.Action.Arm(context.Background())).To(Succeed())
	g.Expect(obs.commands).To(Equal([]string{"arm_disarm"}))
	g.Expect(obs.results).To(Equal([]Result{ResultSuccess}))
}

func TestSetFlightModeUnsupported(t *testing.T) {
	sys, fake := newTestSystem(t, Config{})
	connect(t, sys, fake)

	err := sys.Action.SetFlightMode(context.Background(), FlightModeAcro)
	if res, _ := ResultOf(err); res != ResultUnsupported {
		t.Fatalf("expected UNSUPPORTED, got %v", err)
	}
	if len(fake.commands()) != 0 {
		t.Error("no command should be sent for an unsupported mode")
	}
}

func TestCloseUnblocksWaiters(t *testing.T) {
	fake := newFakeAutopilot()
	sys := New(fake, Config{})

	errc := make(chan error, 1)
	go func() { errc <- sys.WaitConnected(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	sys.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitConnected did not return after Close")
	}
}
