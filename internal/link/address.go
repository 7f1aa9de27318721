package link

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

type Scheme string

const (
	SchemeSerial Scheme = "serial"
	SchemeUDP    Scheme = "udp"    // listen for an autopilot
	SchemeUDPOut Scheme = "udpout" // send to a known autopilot address
	SchemeTCP    Scheme = "tcp"

	DefaultBaud = 57600
)

// Address is a parsed connection URL in the form accepted by MAVSDK:
// serial:///dev/ttyUSB0:57600, udp://:14540, udpout://10.0.0.2:14580,
// tcp://127.0.0.1:5760.
type Address struct {
	Scheme Scheme
	Device string
	Baud   int
	Host   string
	Port   int
}

func ParseAddress(s string) (Address, error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(s), "://")
	if !ok {
		return Address{}, fmt.Errorf("address %q: missing scheme", s)
	}

	switch Scheme(scheme) {
	case SchemeSerial:
		return parseSerial(rest)
	case SchemeUDP, SchemeUDPOut, SchemeTCP:
		a, err := parseHostPort(Scheme(scheme), rest)
		if err != nil {
			return Address{}, fmt.Errorf("address %q: %w", s, err)
		}
		return a, nil
	default:
		return Address{}, fmt.Errorf("address %q: unsupported scheme %q", s, scheme)
	}
}

func parseSerial(rest string) (Address, error) {
	a := Address{Scheme: SchemeSerial, Device: rest, Baud: DefaultBaud}
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		baud, err := strconv.Atoi(rest[i+1:])
		if err != nil {
			return Address{}, fmt.Errorf("serial address %q: invalid baud rate %q", rest, rest[i+1:])
		}
		if baud <= 0 {
			return Address{}, fmt.Errorf("serial address %q: baud rate must be positive", rest)
		}
		a.Device, a.Baud = rest[:i], baud
	}
	if a.Device == "" {
		return Address{}, fmt.Errorf("serial address %q: empty device", rest)
	}
	return a, nil
}

func parseHostPort(scheme Scheme, rest string) (Address, error) {
	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return Address{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Address{}, fmt.Errorf("invalid port %q", portStr)
	}
	if host == "" && scheme != SchemeUDP {
		return Address{}, fmt.Errorf("%s requires a host", scheme)
	}
	return Address{Scheme: scheme, Host: host, Port: port}, nil
}

func (a Address) String() string {
	if a.Scheme == SchemeSerial {
		return fmt.Sprintf("serial://%s:%d", a.Device, a.Baud)
	}
	return fmt.Sprintf("%s://%s", a.Scheme, net.JoinHostPort(a.Host, strconv.Itoa(a.Port)))
}
