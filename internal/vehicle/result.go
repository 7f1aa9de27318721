package vehicle

import (
	"errors"
	"fmt"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
)

var (
	ErrNotConnected = errors.New("no system connected")
	ErrClosed       = errors.New("system closed")
)

// Result is the outcome of a request to the flight controller.
type Result int

const (
	ResultUnknown Result = iota
	ResultSuccess
	ResultNoSystem
	ResultConnectionError
	ResultBusy
	ResultCommandDenied
	ResultTimeout
	ResultNoSetpointSet
	ResultUnsupported
	ResultFailed
)

var resultNames = map[Result]string{
	ResultUnknown:         "UNKNOWN",
	ResultSuccess:         "SUCCESS",
	ResultNoSystem:        "NO_SYSTEM",
	ResultConnectionError: "CONNECTION_ERROR",
	ResultBusy:            "BUSY",
	ResultCommandDenied:   "COMMAND_DENIED",
	ResultTimeout:         "TIMEOUT",
	ResultNoSetpointSet:   "NO_SETPOINT_SET",
	ResultUnsupported:     "UNSUPPORTED",
	ResultFailed:          "FAILED",
}

func (r Result) String() string {
	if s, ok := resultNames[r]; ok {
		return s
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

func resultFromAck(r common.MAV_RESULT) Result {
	switch r {
	case common.MAV_RESULT_ACCEPTED:
		return ResultSuccess
	case common.MAV_RESULT_TEMPORARILY_REJECTED:
		return ResultBusy
	case common.MAV_RESULT_DENIED:
		return ResultCommandDenied
	case common.MAV_RESULT_UNSUPPORTED:
		return ResultUnsupported
	case common.MAV_RESULT_FAILED:
		return ResultFailed
	default:
		return ResultUnknown
	}
}

// OffboardError is returned when the flight controller rejects an offboard
// start or stop request.
type OffboardError struct {
	Op     string
	Result Result
}

func (e *OffboardError) Error() string {
	return fmt.Sprintf("offboard %s: %s", e.Op, e.Result)
}

func (e *OffboardError) Unwrap() error { return sentinelFor(e.Result) }

// ActionError is returned when an action such as arming is rejected.
type ActionError struct {
	Action string
	Result Result
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Result)
}

func (e *ActionError) Unwrap() error { return sentinelFor(e.Result) }

// sentinelFor lets errors.Is match NO_SYSTEM failures against ErrNotConnected.
func sentinelFor(r Result) error {
	if r == ResultNoSystem {
		return ErrNotConnected
	}
	return nil
}

// ResultOf extracts the Result carried by err, if any.
func ResultOf(err error) (Result, bool) {
	var oe *OffboardError
	if errors.As(err, &oe) {
		return oe.Result, true
	}
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Result, true
	}
	return ResultUnknown, false
}
