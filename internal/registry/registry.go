package registry

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/voicelink/session-server-go/internal/errors"
	"github.com/voicelink/session-server-go/internal/model"
	"github.com/voicelink/session-server-go/internal/util"
)

const (
	// Excludes O, I, 0 and 1 so codes survive being read out loud.
	codeChars      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	maxGenAttempts = 10
)

// ClaimResult reports the occupancy outcome of a successful claim.
type ClaimResult struct {
	// Peer is a copy of the opposite slot's binding when it is filled.
	Peer *model.SlotBinding
	// Superseded is the displaced prior occupant when a reconnecting device
	// re-claimed its slot with the same session id.
	Superseded *model.SlotBinding
}

type entry struct {
	mu        sync.Mutex
	code      string
	createdAt time.Time
	expiresAt time.Time
	// consumed marks that both slots were filled at some point; the code is
	// retired for good once such a pair fully disconnects.
	consumed bool
	slots    map[model.DeviceType]*model.SlotBinding
}

func (e *entry) occupied() int {
	return len(e.slots)
}

// Registry maps pairing codes to their desktop/mobile slot bindings. All
// state is process-local; a restart retires every code. The entries table is
// guarded by a read-write lock, while slot mutation locks only the entry for
// that code so claims against different codes never contend.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration
	nowFn   func() time.Time
}

func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		ttl:     ttl,
		nowFn:   time.Now,
	}
}

// GenerateCode mints a pairing code unique among the active set, with an
// unused-code TTL. Collisions regenerate.
func (r *Registry) GenerateCode() (model.PairingCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < maxGenAttempts; attempt++ {
		code := randomCode()
		if _, exists := r.entries[code]; exists {
			continue
		}

		now := r.nowFn()
		e := &entry{
			code:      code,
			createdAt: now,
			expiresAt: now.Add(r.ttl),
			slots:     make(map[model.DeviceType]*model.SlotBinding),
		}
		r.entries[code] = e

		log.Info().
			Str("code", util.MaskCode(code)).
			Time("expiresAt", e.expiresAt).
			Msg("pairing code created")

		return model.PairingCode{Code: code, CreatedAt: now, ExpiresAt: e.expiresAt}, nil
	}

	return model.PairingCode{}, apperrors.Internal("could not generate a unique pairing code")
}

// Claim binds a connection to the device slot of a code. A claim against an
// occupied slot succeeds only when it carries the session id of the current
// occupant, in which case the stale binding is displaced and reported in
// ClaimResult.Superseded.
func (r *Registry) Claim(code string, device model.DeviceType, connID, sessionID string) (ClaimResult, error) {
	code = Normalize(code)

	e, err := r.lookup(code)
	if err != nil {
		return ClaimResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// The entry may have been retired between lookup and lock acquisition.
	r.mu.RLock()
	_, live := r.entries[code]
	r.mu.RUnlock()
	if !live {
		return ClaimResult{}, apperrors.CodeExpired(util.MaskCode(code))
	}

	result := ClaimResult{}

	if current, ok := e.slots[device]; ok {
		if current.SessionID != sessionID {
			return ClaimResult{}, apperrors.SlotOccupied(string(device))
		}
		displaced := *current
		result.Superseded = &displaced
	}

	e.slots[device] = &model.SlotBinding{
		ConnectionID: connID,
		SessionID:    sessionID,
		ClaimedAt:    r.nowFn(),
	}

	if peer, ok := e.slots[device.Peer()]; ok {
		peerCopy := *peer
		result.Peer = &peerCopy
		e.consumed = true
	}

	return result, nil
}

// Release removes a connection's binding from its slot. It is idempotent and
// a no-op when the slot has since been taken over by a successor connection.
// The remaining peer binding, if any, is returned so the caller can notify it.
func (r *Registry) Release(code string, device model.DeviceType, connID string) (released bool, peer *model.SlotBinding) {
	code = Normalize(code)

	r.mu.RLock()
	e, ok := r.entries[code]
	r.mu.RUnlock()
	if !ok {
		return false, nil
	}

	e.mu.Lock()
	current, occupied := e.slots[device]
	if !occupied || current.ConnectionID != connID {
		e.mu.Unlock()
		return false, nil
	}

	delete(e.slots, device)
	if p, ok := e.slots[device.Peer()]; ok {
		peerCopy := *p
		peer = &peerCopy
	}
	empty := e.occupied() == 0
	retire := empty && (e.consumed || r.nowFn().After(e.expiresAt))
	e.mu.Unlock()

	if retire {
		r.retire(code)
	}

	return true, peer
}

// Slots returns copies of the current slot bindings of a code.
func (r *Registry) Slots(code string) map[model.DeviceType]model.SlotBinding {
	r.mu.RLock()
	e, ok := r.entries[Normalize(code)]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	slots := make(map[model.DeviceType]model.SlotBinding, len(e.slots))
	for device, binding := range e.slots {
		slots[device] = *binding
	}
	return slots
}

// Peer returns a copy of the opposite slot's binding, if filled.
func (r *Registry) Peer(code string, device model.DeviceType) *model.SlotBinding {
	r.mu.RLock()
	e, ok := r.entries[Normalize(code)]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.slots[device.Peer()]
	if !ok {
		return nil
	}
	peerCopy := *p
	return &peerCopy
}

// PurgeExpired retires codes that passed their TTL without any live binding.
func (r *Registry) PurgeExpired(now time.Time) int {
	r.mu.RLock()
	snapshot := make(map[string]*entry, len(r.entries))
	for code, e := range r.entries {
		snapshot[code] = e
	}
	r.mu.RUnlock()

	var stale []string
	for code, e := range snapshot {
		e.mu.Lock()
		if e.occupied() == 0 && now.After(e.expiresAt) {
			stale = append(stale, code)
		}
		e.mu.Unlock()
	}

	for _, code := range stale {
		r.retire(code)
	}

	if len(stale) > 0 {
		log.Info().Int("count", len(stale)).Msg("expired pairing codes retired")
	}
	return len(stale)
}

// ActiveCodes counts codes currently in the table.
func (r *Registry) ActiveCodes() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// PairedCount counts codes with both slots bound.
func (r *Registry) PairedCount() int {
	r.mu.RLock()
	snapshot := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		snapshot = append(snapshot, e)
	}
	r.mu.RUnlock()

	count := 0
	for _, e := range snapshot {
		e.mu.Lock()
		if e.occupied() == 2 {
			count++
		}
		e.mu.Unlock()
	}
	return count
}

func (r *Registry) lookup(code string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[code]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.CodeNotFound(util.MaskCode(code))
	}

	e.mu.Lock()
	expired := e.occupied() == 0 && r.nowFn().After(e.expiresAt)
	e.mu.Unlock()

	// An expired code with a live binding stays claimable: the TTL bounds the
	// unused window, not an established pair's lifetime.
	if expired {
		r.retire(code)
		return nil, apperrors.CodeExpired(util.MaskCode(code))
	}
	return e, nil
}

func (r *Registry) retire(code string) {
	r.mu.Lock()
	delete(r.entries, code)
	r.mu.Unlock()

	log.Debug().Str("code", util.MaskCode(code)).Msg("pairing code retired")
}

// Normalize upper-cases and trims a client-supplied code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func randomCode() string {
	chars := []byte(codeChars)
	part1 := make([]byte, 4)
	part2 := make([]byte, 4)

	for i := 0; i < 4; i++ {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		part1[i] = chars[n.Int64()]
	}
	for i := 0; i < 4; i++ {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		part2[i] = chars[n.Int64()]
	}

	return fmt.Sprintf("%s-%s", string(part1), string(part2))
}
