package presence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Youngger9765/career-creator-sub000/internal/transport"
)

// DefaultCheckTimeout bounds the pre-join liveness probe.
const DefaultCheckTimeout = 3 * time.Second

// CheckOwnerOnline answers "is any owner currently present in this room"
// before a visitor commits to joining. It subscribes briefly, asks existing
// participants for their membership view and inspects the first answer.
//
// The probe fails open: a timeout or an unreachable channel answers true,
// since refusing a join on missing information is worse than letting the
// visitor in and relying on the in-session grace period. The one exception
// is rate limiting, which is returned as a hard error so callers do not
// retry into a quota wall.
func CheckOwnerOnline(ctx context.Context, ch transport.Channel, clock clockwork.Clock, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}

	if err := ch.Join(ctx); err != nil {
		if errors.Is(err, transport.ErrRateLimited) {
			return false, err
		}
		log.Warn().Err(err).Msg("presence probe could not connect; assuming owner present")
		return true, nil
	}
	defer func() {
		if err := ch.Leave(); err != nil {
			log.Debug().Err(err).Msg("presence probe leave failed")
		}
	}()

	probeID := uuid.New().String()
	answer := make(chan bool, 1)

	unsub, err := ch.Subscribe(eventSyncState, func(env transport.Envelope) {
		var state syncState
		if err := env.Decode(&state); err != nil {
			return
		}
		if state.ParticipantID == probeID {
			return
		}
		found := false
		for _, r := range state.Members {
			if r.Role == transport.RoleOwner {
				found = true
				break
			}
		}
		select {
		case answer <- found:
		default:
		}
	})
	if err != nil {
		if errors.Is(err, transport.ErrRateLimited) {
			return false, err
		}
		log.Warn().Err(err).Msg("presence probe subscribe failed; assuming owner present")
		return true, nil
	}
	defer unsub()

	if err := ch.Publish(ctx, eventSyncRequest, syncRequest{ParticipantID: probeID}); err != nil {
		if errors.Is(err, transport.ErrRateLimited) {
			return false, err
		}
		log.Warn().Err(err).Msg("presence probe request failed; assuming owner present")
		return true, nil
	}

	// A synchronous transport may have answered already.
	select {
	case found := <-answer:
		return found, nil
	default:
	}

	timer := clock.NewTimer(timeout)
	defer stopAndDrainTimer(timer)

	select {
	case found := <-answer:
		return found, nil
	case <-timer.Chan():
		log.Debug().Msg("presence probe timed out; assuming owner present")
		return true, nil
	case <-ctx.Done():
		return true, nil
	}
}
