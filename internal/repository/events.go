package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/voicelink/session-server-go/internal/model"
)

// Pairing lifecycle event types persisted to the history store.
const (
	EventCodeGenerated = "code_generated"
	EventIdentified    = "identified"
	EventPaired        = "paired"
	EventSuperseded    = "superseded"
	EventDisconnected  = "disconnected"
)

// PairingEventRepository stores the append-only pairing history. Codes are
// stored masked; the history is diagnostics, not protocol state.
type PairingEventRepository interface {
	Insert(ctx context.Context, params model.CreatePairingEventParams) error
	ListRecent(ctx context.Context, limit int) ([]model.PairingEvent, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type pairingEventRepo struct {
	db *sqlx.DB
}

func NewPairingEventRepository(db *sqlx.DB) PairingEventRepository {
	return &pairingEventRepo{db: db}
}

func (r *pairingEventRepo) Insert(ctx context.Context, params model.CreatePairingEventParams) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pairing_events (event_type, code, device_type, session_id, details)
		VALUES ($1, $2, $3, $4, $5)
	`, params.EventType, params.Code, params.DeviceType, params.SessionID, params.Details)
	return err
}

func (r *pairingEventRepo) ListRecent(ctx context.Context, limit int) ([]model.PairingEvent, error) {
	var events []model.PairingEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM pairing_events
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	return events, err
}

func (r *pairingEventRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM pairing_events WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
