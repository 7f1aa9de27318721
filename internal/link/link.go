package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/san-kum/mavoffboard/internal/logging"
)

var ErrClosed = errors.New("link closed")

const (
	DefaultSystemID    = 245
	DefaultComponentID = 190 // MAV_COMP_ID_MISSIONPLANNER, what MAVSDK uses for a GCS
	frameBuffer        = 256
)

// Frame is one decoded message together with its sender.
type Frame struct {
	SystemID    uint8
	ComponentID uint8
	Message     message.Message
}

// Link is a bidirectional MAVLink message channel to one or more vehicles.
type Link interface {
	// Frames is closed when the link closes.
	Frames() <-chan Frame
	Send(msg message.Message) error
	Close() error
}

type Options struct {
	SystemID    uint8
	ComponentID uint8
	Logger      logging.Logger
}

// NodeLink is a Link backed by a gomavlib node using the common dialect.
type NodeLink struct {
	node   *gomavlib.Node
	frames chan Frame
	done   chan struct{}
	once   sync.Once
	log    logging.Logger
}

func Dial(addr Address, opts Options) (*NodeLink, error) {
	if opts.SystemID == 0 {
		opts.SystemID = DefaultSystemID
	}
	if opts.ComponentID == 0 {
		opts.ComponentID = DefaultComponentID
	}
	if opts.Logger == nil {
		opts.Logger = logging.Noop()
	}

	endpoint, err := addr.endpoint()
	if err != nil {
		return nil, err
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:      []gomavlib.EndpointConf{endpoint},
		Dialect:        common.Dialect,
		OutVersion:     gomavlib.V2,
		OutSystemID:    opts.SystemID,
		OutComponentID: opts.ComponentID,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", addr, err)
	}

	l := &NodeLink{
		node:   node,
		frames: make(chan Frame, frameBuffer),
		done:   make(chan struct{}),
		log:    opts.Logger.With(logging.String("address", addr.String())),
	}
	go l.readLoop()
	return l, nil
}

func (a Address) endpoint() (gomavlib.EndpointConf, error) {
	hostPort := net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
	switch a.Scheme {
	case SchemeSerial:
		return gomavlib.EndpointSerial{Device: a.Device, Baud: a.Baud}, nil
	case SchemeUDP:
		return gomavlib.EndpointUDPServer{Address: hostPort}, nil
	case SchemeUDPOut:
		return gomavlib.EndpointUDPClient{Address: hostPort}, nil
	case SchemeTCP:
		return gomavlib.EndpointTCPClient{Address: hostPort}, nil
	default:
		return nil, fmt.Errorf("unsupported scheme %q", a.Scheme)
	}
}

func (l *NodeLink) readLoop() {
	defer close(l.frames)
	ctx := context.Background()
	events := l.node.Events()

	for {
		var evt gomavlib.Event
		select {
		case <-l.done:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			evt = e
		}

		switch e := evt.(type) {
		case *gomavlib.EventFrame:
			f := Frame{
				SystemID:    e.SystemID(),
				ComponentID: e.ComponentID(),
				Message:     e.Message(),
			}
			select {
			case l.frames <- f:
			case <-l.done:
				return
			}

		case *gomavlib.EventChannelOpen:
			l.log.Info(ctx, "channel open", logging.String("channel", fmt.Sprint(e.Channel)))

		case *gomavlib.EventChannelClose:
			l.log.Warn(ctx, "channel closed", logging.String("channel", fmt.Sprint(e.Channel)))

		case *gomavlib.EventParseError:
			l.log.Debug(ctx, "parse error", logging.Err(e.Error))
		}
	}
}

func (l *NodeLink) Frames() <-chan Frame { return l.frames }

func (l *NodeLink) Send(msg message.Message) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	if err := l.node.WriteMessageAll(msg); err != nil {
		return fmt.Errorf("write %T: %w", msg, err)
	}
	return nil
}

func (l *NodeLink) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.node.Close()
	})
	return nil
}
