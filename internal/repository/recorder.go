package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voicelink/session-server-go/internal/model"
	"github.com/voicelink/session-server-go/internal/util"
)

const recordTimeout = 5 * time.Second

// Recorder writes pairing events to the history store off the hot path.
// A nil Recorder (history persistence disabled) is a valid no-op.
type Recorder struct {
	repo PairingEventRepository
}

func NewRecorder(repo PairingEventRepository) *Recorder {
	if repo == nil {
		return nil
	}
	return &Recorder{repo: repo}
}

// Record persists one event asynchronously. Failures are logged, never
// surfaced: history must not interfere with the connection protocol.
func (r *Recorder) Record(eventType, code string, device model.DeviceType, sessionID string, details map[string]any) {
	if r == nil {
		return
	}

	params := model.CreatePairingEventParams{
		EventType: eventType,
		Code:      util.MaskCode(code),
	}
	if device.Valid() {
		d := string(device)
		params.DeviceType = &d
	}
	if sessionID != "" {
		s := sessionID
		params.SessionID = &s
	}
	if details != nil {
		if data, err := json.Marshal(details); err == nil {
			params.Details = data
		}
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()

		if err := r.repo.Insert(ctx, params); err != nil {
			log.Error().Err(err).Str("eventType", eventType).Msg("failed to record pairing event")
		}
	}()
}
