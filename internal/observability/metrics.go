// Package observability exposes Prometheus metrics for the MAVLink link and
// the vehicle command layer.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/san-kum/mavoffboard/internal/link"
	"github.com/san-kum/mavoffboard/internal/logging"
	"github.com/san-kum/mavoffboard/internal/vehicle"
)

type Collector struct {
	gatherer prometheus.Gatherer

	FramesIn         *prometheus.CounterVec
	FramesOut        *prometheus.CounterVec
	SendErrors       prometheus.Counter
	Commands         *prometheus.CounterVec
	CommandDurations *prometheus.HistogramVec
}

// NewCollector registers the metrics against reg, defaulting to the global
// Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	framesIn, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mavlink_frames_received_total",
		Help: "MAVLink messages received from the link, by message name.",
	}, []string{"message"}), "mavlink_frames_received_total")
	if err != nil {
		return nil, err
	}
	framesOut, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mavlink_frames_sent_total",
		Help: "MAVLink messages written to the link, by message name.",
	}, []string{"message"}), "mavlink_frames_sent_total")
	if err != nil {
		return nil, err
	}
	sendErrors, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mavlink_send_errors_total",
		Help: "Link writes that failed.",
	}), "mavlink_send_errors_total")
	if err != nil {
		return nil, err
	}
	commands, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vehicle_commands_total",
		Help: "Completed COMMAND_LONG exchanges, by command and result.",
	}, []string{"command", "result"}), "vehicle_commands_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vehicle_command_duration_seconds",
		Help:    "Time from first send to final ack or give-up.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"command"}), "vehicle_command_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:         gatherer,
		FramesIn:         framesIn,
		FramesOut:        framesOut,
		SendErrors:       sendErrors,
		Commands:         commands,
		CommandDurations: durations,
	}, nil
}

// CommandCompleted implements vehicle.CommandObserver.
func (c *Collector) CommandCompleted(command string, result vehicle.Result, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.Commands.WithLabelValues(command, result.String()).Inc()
	c.CommandDurations.WithLabelValues(command).Observe(elapsed.Seconds())
}

func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string, log logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info(ctx, "metrics listening", logging.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// MessageName is the metric label for a MAVLink message, e.g. "Heartbeat".
func MessageName(m message.Message) string {
	t := reflect.TypeOf(m)
	if t == nil {
		return "unknown"
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return strings.TrimPrefix(t.Name(), "Message")
}

// Instrument wraps l so every frame in either direction is counted.
func (c *Collector) Instrument(l link.Link) link.Link {
	il := &instrumentedLink{
		inner:  l,
		c:      c,
		frames: make(chan link.Frame, 256),
		done:   make(chan struct{}),
	}
	go il.forward()
	return il
}

type instrumentedLink struct {
	inner  link.Link
	c      *Collector
	frames chan link.Frame
	done   chan struct{}
	once   sync.Once
}

func (l *instrumentedLink) forward() {
	defer close(l.frames)
	for {
		select {
		case <-l.done:
			return
		case f, ok := <-l.inner.Frames():
			if !ok {
				return
			}
			l.c.FramesIn.WithLabelValues(MessageName(f.Message)).Inc()
			select {
			case l.frames <- f:
			case <-l.done:
				return
			}
		}
	}
}

func (l *instrumentedLink) Frames() <-chan link.Frame { return l.frames }

func (l *instrumentedLink) Send(msg message.Message) error {
	if err := l.inner.Send(msg); err != nil {
		l.c.SendErrors.Inc()
		return err
	}
	l.c.FramesOut.WithLabelValues(MessageName(msg)).Inc()
	return nil
}

func (l *instrumentedLink) Close() error {
	l.once.Do(func() { close(l.done) })
	return l.inner.Close()
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
