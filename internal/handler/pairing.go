package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voicelink/session-server-go/internal/audit"
	"github.com/voicelink/session-server-go/internal/registry"
	"github.com/voicelink/session-server-go/internal/repository"
	"github.com/voicelink/session-server-go/internal/util"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type PairingHandler struct {
	registry  *registry.Registry
	recorder  *repository.Recorder
	eventRepo repository.PairingEventRepository
}

func NewPairingHandler(reg *registry.Registry, recorder *repository.Recorder, eventRepo repository.PairingEventRepository) *PairingHandler {
	return &PairingHandler{
		registry:  reg,
		recorder:  recorder,
		eventRepo: eventRepo,
	}
}

type generateCodeResponse struct {
	Code             string    `json:"code"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	ExpiresInSeconds int64     `json:"expires_in_seconds"`
}

func (h *PairingHandler) GenerateCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.registry.GenerateCode()
	if err != nil {
		log.Error().Err(err).Msg("pairing code generation failed")
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type: audit.EventCodeGenerate,
		Details: map[string]any{
			"code":      util.MaskCode(code.Code),
			"expiresAt": code.ExpiresAt,
		},
	})
	h.recorder.Record(repository.EventCodeGenerated, code.Code, "", "", nil)

	writeJSON(w, http.StatusCreated, generateCodeResponse{
		Code:             code.Code,
		CreatedAt:        code.CreatedAt,
		ExpiresAt:        code.ExpiresAt,
		ExpiresInSeconds: int64(time.Until(code.ExpiresAt).Seconds()),
	})
}

func (h *PairingHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.eventRepo == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "Pairing history is not enabled",
		})
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxHistoryLimit {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be between 1 and " + strconv.Itoa(maxHistoryLimit),
			})
			return
		}
		limit = parsed
	}

	events, err := h.eventRepo.ListRecent(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list pairing history")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}
