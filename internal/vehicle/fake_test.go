package vehicle

import (
	"sync"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/san-kum/mavoffboard/internal/link"
)

// fakeAutopilot is a scripted link: respond is called for every message the
// System sends and its return values are delivered back as frames.
type fakeAutopilot struct {
	frames chan link.Frame
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	sent    []message.Message
	respond func(msg message.Message) []message.Message
}

func newFakeAutopilot() *fakeAutopilot {
	return &fakeAutopilot{
		frames: make(chan link.Frame, 256),
		done:   make(chan struct{}),
	}
}

func (f *fakeAutopilot) Frames() <-chan link.Frame { return f.frames }

func (f *fakeAutopilot) Send(msg message.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		for _, r := range respond(msg) {
			f.emit(r)
		}
	}
	return nil
}

func (f *fakeAutopilot) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeAutopilot) setResponder(fn func(msg message.Message) []message.Message) {
	f.mu.Lock()
	f.respond = fn
	f.mu.Unlock()
}

func (f *fakeAutopilot) emit(msg message.Message) {
	f.emitFrom(1, msg)
}

func (f *fakeAutopilot) emitFrom(sysID uint8, msg message.Message) {
	select {
	case f.frames <- link.Frame{SystemID: sysID, ComponentID: 1, Message: msg}:
	case <-f.done:
	}
}

func (f *fakeAutopilot) commands() []*common.MessageCommandLong {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*common.MessageCommandLong
	for _, m := range f.sent {
		if c, ok := m.(*common.MessageCommandLong); ok {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeAutopilot) count(match func(message.Message) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if match(m) {
			n++
		}
	}
	return n
}

func isPositionSetpoint(m message.Message) bool {
	_, ok := m.(*common.MessageSetPositionTargetLocalNed)
	return ok
}

func isAttitudeSetpoint(m message.Message) bool {
	_, ok := m.(*common.MessageSetAttitudeTarget)
	return ok
}

func px4Heartbeat(customMode uint32, armed bool) *common.MessageHeartbeat {
	base := common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED
	if armed {
		base |= common.MAV_MODE_FLAG_SAFETY_ARMED
	}
	return &common.MessageHeartbeat{
		Type:           common.MAV_TYPE_QUADROTOR,
		Autopilot:      common.MAV_AUTOPILOT_PX4,
		BaseMode:       base,
		CustomMode:     customMode,
		SystemStatus:   common.MAV_STATE_STANDBY,
		MavlinkVersion: 3,
	}
}

// ackAll acknowledges every COMMAND_LONG with result.
func ackAll(result common.MAV_RESULT) func(message.Message) []message.Message {
	return func(m message.Message) []message.Message {
		c, ok := m.(*common.MessageCommandLong)
		if !ok {
			return nil
		}
		return []message.Message{&common.MessageCommandAck{Command: c.Command, Result: result}}
	}
}
