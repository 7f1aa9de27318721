package vehicle

import (
	"context"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/san-kum/mavoffboard/internal/link"
	"github.com/san-kum/mavoffboard/internal/logging"
)

const (
	DefaultHeartbeatTimeout = 3 * time.Second
	DefaultCommandTimeout   = 500 * time.Millisecond
	DefaultCommandRetries   = 3
	DefaultSetpointRate     = 20.0 // Hz

	watchdogPeriod = 250 * time.Millisecond
)

// CommandObserver is notified after every command exchange.
type CommandObserver interface {
	CommandCompleted(command string, result Result, elapsed time.Duration)
}

type Config struct {
	HeartbeatTimeout time.Duration
	CommandTimeout   time.Duration
	CommandRetries   int
	// SetpointRate is how often the active offboard setpoint is re-sent.
	SetpointRate float64
	Logger       logging.Logger
	Observer     CommandObserver
}

func (c *Config) setDefaults() {
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.CommandRetries < 0 {
		c.CommandRetries = 0
	}
	if c.SetpointRate <= 0 {
		c.SetpointRate = DefaultSetpointRate
	}
	if c.Logger == nil {
		c.Logger = logging.Noop()
	}
}

// System is a connection to one PX4 autopilot. The first autopilot heartbeat
// seen on the link selects the target system.
type System struct {
	Action    *Action
	Offboard  *Offboard
	Telemetry *Telemetry

	link  link.Link
	cfg   Config
	log   logging.Logger
	start time.Time

	mu            sync.RWMutex
	targetSystem  uint8
	targetComp    uint8
	hasTarget     bool
	connected     bool
	connectedCh   chan struct{}
	lastHeartbeat time.Time
	armed         bool
	mode          FlightMode
	pending       map[common.MAV_CMD]chan *common.MessageCommandAck

	connState *hub[ConnectionState]
	posVel    *hub[PositionVelocityNed]
	attitude  *hub[EulerAngle]

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New(l link.Link, cfg Config) *System {
	cfg.setDefaults()
	s := &System{
		link:        l,
		cfg:         cfg,
		log:         cfg.Logger.With(logging.String("component", "vehicle")),
		start:       time.Now(),
		connectedCh: make(chan struct{}),
		mode:        FlightModeUnknown,
		pending:     make(map[common.MAV_CMD]chan *common.MessageCommandAck),
		connState:   newHub[ConnectionState](),
		posVel:      newHub[PositionVelocityNed](),
		attitude:    newHub[EulerAngle](),
		done:        make(chan struct{}),
	}
	s.Action = &Action{sys: s}
	s.Offboard = newOffboard(s)
	s.Telemetry = &Telemetry{sys: s}

	s.wg.Add(2)
	go s.readLoop()
	go s.watchdog()
	return s
}

// WaitConnected blocks until an autopilot heartbeat has been received.
func (s *System) WaitConnected(ctx context.Context) error {
	for {
		s.mu.RLock()
		connected, ch := s.connected, s.connectedCh
		s.mu.RUnlock()
		if connected {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrClosed
		}
	}
}

func (s *System) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// ConnectionState streams connection changes until the returned cancel runs.
func (s *System) ConnectionState() (<-chan ConnectionState, func()) {
	return s.connState.subscribe()
}

// Target returns the system and component id of the connected autopilot.
func (s *System) Target() (sysID, compID uint8, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.targetSystem, s.targetComp, s.hasTarget
}

func (s *System) Close() error {
	s.closeOnce.Do(func() {
		s.Offboard.stopStreaming()
		close(s.done)
	})
	err := s.link.Close()
	s.wg.Wait()
	s.connState.close()
	s.posVel.close()
	s.attitude.close()
	return err
}

func (s *System) timeBootMs() uint32 {
	return uint32(time.Since(s.start).Milliseconds())
}

func (s *System) readLoop() {
	defer s.wg.Done()
	frames := s.link.Frames()
	for {
		select {
		case <-s.done:
			return
		case f, ok := <-frames:
			if !ok {
				s.log.Warn(context.Background(), "link closed")
				s.setDisconnected()
				return
			}
			s.handle(f)
		}
	}
}

func (s *System) handle(f link.Frame) {
	switch msg := f.Message.(type) {
	case *common.MessageHeartbeat:
		s.handleHeartbeat(f, msg)

	case *common.MessageCommandAck:
		if !s.fromTarget(f) {
			return
		}
		s.mu.RLock()
		ch, ok := s.pending[msg.Command]
		s.mu.RUnlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
		}

	case *common.MessageLocalPositionNed:
		if !s.fromTarget(f) {
			return
		}
		s.posVel.publish(PositionVelocityNed{
			Position:   PositionNed{NorthM: msg.X, EastM: msg.Y, DownM: msg.Z},
			Velocity:   VelocityNed{NorthMS: msg.Vx, EastMS: msg.Vy, DownMS: msg.Vz},
			TimeBootMs: msg.TimeBootMs,
		})

	case *common.MessageAttitude:
		if !s.fromTarget(f) {
			return
		}
		s.attitude.publish(EulerAngle{
			RollDeg:  rad2deg(msg.Roll),
			PitchDeg: rad2deg(msg.Pitch),
			YawDeg:   rad2deg(msg.Yaw),
		})
	}
}

func (s *System) handleHeartbeat(f link.Frame, hb *common.MessageHeartbeat) {
	if hb.Type == common.MAV_TYPE_GCS || hb.Autopilot == common.MAV_AUTOPILOT_INVALID {
		return
	}

	s.mu.Lock()
	if !s.hasTarget {
		s.targetSystem, s.targetComp, s.hasTarget = f.SystemID, f.ComponentID, true
	}
	if f.SystemID != s.targetSystem {
		s.mu.Unlock()
		return
	}
	s.lastHeartbeat = time.Now()
	s.armed = hb.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0
	if hb.BaseMode&common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED != 0 {
		s.mode = DecodePX4Mode(hb.CustomMode)
	}
	becameConnected := !s.connected
	if becameConnected {
		s.connected = true
		close(s.connectedCh)
	}
	sysID := s.targetSystem
	s.mu.Unlock()

	if becameConnected {
		s.log.Info(context.Background(), "autopilot connected", logging.Uint8("system_id", sysID))
		s.connState.publish(ConnectionState{IsConnected: true})
	}
}

func (s *System) fromTarget(f link.Frame) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasTarget && f.SystemID == s.targetSystem
}

func (s *System) watchdog() {
	defer s.wg.Done()
	ticker := time.NewTicker(watchdogPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.RLock()
			stale := s.connected && time.Since(s.lastHeartbeat) > s.cfg.HeartbeatTimeout
			s.mu.RUnlock()
			if stale {
				s.log.Warn(context.Background(), "heartbeat timeout",
					logging.Duration("timeout", s.cfg.HeartbeatTimeout))
				s.setDisconnected()
			}
		}
	}
}

func (s *System) setDisconnected() {
	s.mu.Lock()
	was := s.connected
	if was {
		s.connected = false
		s.connectedCh = make(chan struct{})
	}
	s.mu.Unlock()
	if was {
		s.connState.publish(ConnectionState{IsConnected: false})
	}
}

func (s *System) isArmed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.armed
}

func (s *System) flightMode() FlightMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}
