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

// emitUntilDone keeps publishing msg so a subscriber that arrives late still
// sees a sample.
func emitUntilDone(fake *fakeAutopilot, stop <-chan struct{}, msg func() message.Message) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			fake.emit(msg())
		}
	}
}

func TestPositionVelocityNed(t *testing.T) {
	g := NewWithT(t)
	sys, fake := newTestSystem(t, Config{})
	connect(t, sys, fake)

	stop := make(chan struct{})
	defer close(stop)
	go emitUntilDone(fake, stop, func() message.Message {
		return &common.MessageLocalPositionNed{TimeBootMs: 42, X: 1.5, Y: -2, Z: -1, Vx: 0.1, Vy: 0.2, Vz: -0.3}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pv, err := sys.Telemetry.PositionVelocityNed(ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(pv.Position).To(Equal(PositionNed{NorthM: 1.5, EastM: -2, DownM: -1}))
	g.Expect(pv.Velocity).To(Equal(VelocityNed{NorthMS: 0.1, EastMS: 0.2, DownMS: -0.3}))
	g.Expect(pv.String()).To(Equal("1.50m North, -2.00m East, -1.00m Down"))

	last, ok := sys.Telemetry.LastPositionVelocityNed()
	g.Expect(ok).To(BeTrue())
	g.Expect(last.TimeBootMs).To(Equal(uint32(42)))
}

func TestAttitudeInDegrees(t *testing.T) {
	g := NewWithT(t)
	sys, fake := newTestSystem(t, Config{})
	connect(t, sys, fake)

	stop := make(chan struct{})
	defer close(stop)
	go emitUntilDone(fake, stop, func() message.Message {
		return &common.MessageAttitude{Roll: 0.1, Pitch: -0.2, Yaw: 3.0}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	att, err := sys.Telemetry.Attitude(ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(float64(att.RollDeg)).To(BeNumerically("~", 5.7296, 1e-3))
	g.Expect(float64(att.PitchDeg)).To(BeNumerically("~", -11.459, 1e-3))
	g.Expect(float64(att.YawDeg)).To(BeNumerically("~", 171.887, 1e-3))

	last, ok := sys.Telemetry.LastAttitude()
	g.Expect(ok).To(BeTrue())
	g.Expect(float64(last.YawDeg)).To(BeNumerically("~", 171.887, 1e-3))
}

func TestTelemetryFromUnknownSystemDropped(t *testing.T) {
	sys, fake := newTestSystem(t, Config{})
	connect(t, sys, fake)

	fake.emitFrom(9, &common.MessageLocalPositionNed{X: 5})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := sys.Telemetry.PositionVelocityNed(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected no sample, got %v", err)
	}
}

func TestSubscribeDeliversEverySample(t *testing.T) {
	g := NewWithT(t)
	sys, fake := newTestSystem(t, Config{})
	connect(t, sys, fake)

	ch, cancel := sys.Telemetry.SubscribePositionVelocityNed()
	defer cancel()

	for i := 0; i < 3; i++ {
		fake.emit(&common.MessageLocalPositionNed{TimeBootMs: uint32(i)})
	}
	for i := 0; i < 3; i++ {
		var pv PositionVelocityNed
		g.Eventually(ch).WithTimeout(time.Second).Should(Receive(&pv))
		g.Expect(pv.TimeBootMs).To(Equal(uint32(i)))
	}
}

func TestSetRate(t *testing.T) {
	g := NewWithT(t)
	sys, fake := newTestSystem(t, Config{})
	connect(t, sys, fake)
	fake.setResponder(ackAll(common.MAV_RESULT_ACCEPTED))

	g.Expect(sys.Telemetry.SetRatePositionVelocityNed(context.Background(), 10)).To(Succeed())
	cmds := fake.commands()
	g.Expect(cmds).To(HaveLen(1))
	g.Expect(cmds[0].Command).To(Equal(common.MAV_CMD_SET_MESSAGE_INTERVAL))
	g.Expect(cmds[0].Param1).To(Equal(float32(32)))
	g.Expect(cmds[0].Param2).To(Equal(float32(100000)))

	g.Expect(sys.Telemetry.SetRateAttitude(context.Background(), 0)).NotTo(Succeed())
}
