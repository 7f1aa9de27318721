package vehicle

import (
	"context"
	"fmt"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/san-kum/mavoffboard/internal/logging"
)

// forceDisarmMagic in param2 of ARM_DISARM makes PX4 skip its in-air checks.
const forceDisarmMagic = 21196

func commandName(cmd common.MAV_CMD) string {
	switch cmd {
	case common.MAV_CMD_COMPONENT_ARM_DISARM:
		return "arm_disarm"
	case common.MAV_CMD_DO_SET_MODE:
		return "set_mode"
	case common.MAV_CMD_SET_MESSAGE_INTERVAL:
		return "set_message_interval"
	default:
		return fmt.Sprintf("cmd_%d", uint32(cmd))
	}
}

// sendCommand sends COMMAND_LONG and waits for the matching COMMAND_ACK,
// retrying on timeout. Only transport and context failures are returned as
// errors; a rejection is reported through the Result.
func (s *System) sendCommand(ctx context.Context, cmd common.MAV_CMD, params [7]float32) (Result, error) {
	started := time.Now()
	res, err := s.exchange(ctx, cmd, params)
	if s.cfg.Observer != nil {
		s.cfg.Observer.CommandCompleted(commandName(cmd), res, time.Since(started))
	}
	return res, err
}

func (s *System) exchange(ctx context.Context, cmd common.MAV_CMD, params [7]float32) (Result, error) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ResultNoSystem, nil
	}
	if _, busy := s.pending[cmd]; busy {
		s.mu.Unlock()
		return ResultBusy, nil
	}
	acks := make(chan *common.MessageCommandAck, 1)
	s.pending[cmd] = acks
	targetSys, targetComp := s.targetSystem, s.targetComp
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, cmd)
		s.mu.Unlock()
	}()

	log := s.log.With(logging.String("command", commandName(cmd)))

	for attempt := 0; attempt <= s.cfg.CommandRetries; attempt++ {
		msg := &common.MessageCommandLong{
			TargetSystem:    targetSys,
			TargetComponent: targetComp,
			Command:         cmd,
			Confirmation:    uint8(attempt),
			Param1:          params[0],
			Param2:          params[1],
			Param3:          params[2],
			Param4:          params[3],
			Param5:          params[4],
			Param6:          params[5],
			Param7:          params[6],
		}
		if err := s.link.Send(msg); err != nil {
			return ResultConnectionError, fmt.Errorf("send %s: %w", commandName(cmd), err)
		}
		log.Debug(ctx, "command sent", logging.Int("attempt", attempt))

		res, done, err := s.awaitAck(ctx, acks)
		if err != nil {
			return res, err
		}
		if done {
			log.Debug(ctx, "command acknowledged", logging.String("result", res.String()))
			return res, nil
		}
	}

	log.Warn(ctx, "command timed out", logging.Int("retries", s.cfg.CommandRetries))
	return ResultTimeout, nil
}

// awaitAck waits one command timeout for a final ack. IN_PROGRESS acks
// extend the wait without resending.
func (s *System) awaitAck(ctx context.Context, acks <-chan *common.MessageCommandAck) (Result, bool, error) {
	timer := time.NewTimer(s.cfg.CommandTimeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-acks:
			if ack.Result == common.MAV_RESULT_IN_PROGRESS {
				timer.Reset(s.cfg.CommandTimeout)
				continue
			}
			return resultFromAck(ack.Result), true, nil
		case <-timer.C:
			return ResultTimeout, false, nil
		case <-ctx.Done():
			return ResultTimeout, false, ctx.Err()
		case <-s.done:
			return ResultConnectionError, false, ErrClosed
		}
	}
}

func (s *System) setFlightMode(ctx context.Context, m FlightMode) (Result, error) {
	main, sub, ok := px4ModeFor(m)
	if !ok {
		return ResultUnsupported, nil
	}
	return s.sendCommand(ctx, common.MAV_CMD_DO_SET_MODE, [7]float32{
		float32(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED),
		float32(main),
		float32(sub),
	})
}

// Action holds one-shot vehicle actions.
type Action struct {
	sys *System
}

func (a *Action) Arm(ctx context.Context) error {
	return a.armDisarm(ctx, "arm", 1, 0)
}

func (a *Action) Disarm(ctx context.Context) error {
	return a.armDisarm(ctx, "disarm", 0, 0)
}

// Kill disarms even while airborne.
func (a *Action) Kill(ctx context.Context) error {
	return a.armDisarm(ctx, "kill", 0, forceDisarmMagic)
}

func (a *Action) armDisarm(ctx context.Context, name string, arm, force float32) error {
	res, err := a.sys.sendCommand(ctx, common.MAV_CMD_COMPONENT_ARM_DISARM, [7]float32{arm, force})
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if res != ResultSuccess {
		return &ActionError{Action: name, Result: res}
	}
	return nil
}

// SetFlightMode requests a PX4 flight mode.
func (a *Action) SetFlightMode(ctx context.Context, m FlightMode) error {
	res, err := a.sys.setFlightMode(ctx, m)
	if err != nil {
		return fmt.Errorf("set mode %s: %w", m, err)
	}
	if res != ResultSuccess {
		return &ActionError{Action: "set mode " + string(m), Result: res}
	}
	return nil
}
