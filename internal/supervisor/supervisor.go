package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voicelink/session-server-go/internal/config"
	"github.com/voicelink/session-server-go/internal/model"
	"github.com/voicelink/session-server-go/internal/realtime"
	"github.com/voicelink/session-server-go/internal/registry"
	"github.com/voicelink/session-server-go/internal/repository"
	"github.com/voicelink/session-server-go/internal/token"
)

const historySweepEvery = time.Hour

type Options struct {
	SweepInterval   time.Duration
	IdentifyTimeout time.Duration
	IdleTimeout     time.Duration
	TokenRecheck    time.Duration
}

// Supervisor is the timer loop watching every live connection. Each tick it
// closes connections that blew their identification deadline or idle window
// and re-validates tokens at a coarser cadence, forcing an auth-revocation
// close on expiry. It holds no connection state of its own; all mutation is
// delegated to the manager. The tick interval must stay short relative to
// the identification deadline, which config.Validate enforces.
type Supervisor struct {
	manager   *realtime.Manager
	registry  *registry.Registry
	validator *token.Validator
	eventRepo repository.PairingEventRepository
	opts      Options

	done             chan struct{}
	lastHistorySweep time.Time
}

func New(
	manager *realtime.Manager,
	reg *registry.Registry,
	validator *token.Validator,
	eventRepo repository.PairingEventRepository,
	opts Options,
) *Supervisor {
	return &Supervisor{
		manager:   manager,
		registry:  reg,
		validator: validator,
		eventRepo: eventRepo,
		opts:      opts,
		done:      make(chan struct{}),
	}
}

func (s *Supervisor) Start() {
	go s.run()
	log.Info().Dur("interval", s.opts.SweepInterval).Msg("session supervisor started")
}

func (s *Supervisor) Stop() {
	close(s.done)
	log.Info().Msg("session supervisor stopped")
}

func (s *Supervisor) run() {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

func (s *Supervisor) sweep(now time.Time) {
	for _, c := range s.manager.Connections() {
		state := c.State()

		switch {
		case state.AwaitingIdentify():
			if now.Sub(c.OpenedAt()) >= s.opts.IdentifyTimeout {
				s.manager.CloseTimeout(c, model.ReasonSecurityUnidentified)
			}

		case state.Active():
			if now.Sub(c.LastActivity()) >= s.opts.IdleTimeout {
				s.manager.CloseTimeout(c, model.ReasonIdleTimeout)
				continue
			}
			if now.Sub(c.LastTokenCheck()) >= s.opts.TokenRecheck {
				c.MarkTokenChecked(now)
				status := s.validator.Status(c.Token(), now)
				if status.Expired {
					s.manager.CloseAuthExpired(c)
				} else if status.ShouldRefreshSoon {
					log.Debug().
						Str("connectionId", c.ID()).
						Int64("timeUntilExpiry", status.TimeUntilExpiry).
						Msg("connection token nearing expiry")
				}
			}
		}
	}

	s.registry.PurgeExpired(now)
	s.sweepHistory(now)
}

func (s *Supervisor) sweepHistory(now time.Time) {
	if s.eventRepo == nil || now.Sub(s.lastHistorySweep) < historySweepEvery {
		return
	}
	s.lastHistorySweep = now

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := s.eventRepo.DeleteOlderThan(ctx, now.Add(-config.EventHistoryRetention))
	if err != nil {
		log.Error().Err(err).Msg("failed to prune pairing event history")
	} else if count > 0 {
		log.Info().Int64("count", count).Msg("pruned pairing event history")
	}
}
