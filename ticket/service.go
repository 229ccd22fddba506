package ticket

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config is the UFO_TICKET_* environment surface.
type Config struct {
	RPCURL          string
	ContractAddress string
	SignerKey       string
	Required        bool
	UseOnchainStats bool
}

// Configured reports whether the contract wiring is present.
func (c Config) Configured() bool {
	return c.RPCURL != "" && c.ContractAddress != ""
}

// JoinResult is the outcome of a ticket gate check.
type JoinResult struct {
	OK      bool
	TokenID uint64
	Reason  string
}

// Deny reasons surfaced to clients in join_denied.
const (
	ReasonNoTicket     = "no_ticket"
	ReasonNotOwner     = "ticket_not_owned"
	ReasonDestroyed    = "ticket_destroyed"
	ReasonTicketError  = "ticket_unavailable"
	statsCacheTTL      = 30 * time.Second
	settlementQueueCap = 64
	settleTimeout      = 60 * time.Second
)

type settleJob struct {
	loserTokenID  uint64
	winnerAddress string
	done          func(txHash string)
}

type cachedStats struct {
	stats Stats
	at    time.Time
}

// Service gates joins on ticket ownership and settles finished matches. All
// settlement transactions flow through one FIFO worker: the signer has a
// scalar nonce and concurrent rooms must not race it.
type Service struct {
	cfg      Config
	contract Contract
	log      zerolog.Logger

	queue chan settleJob
	stop  chan struct{}
	wg    sync.WaitGroup

	mu         sync.Mutex
	statsCache map[uint64]cachedStats
}

// NewService builds the service. contract may be nil when unconfigured.
func NewService(cfg Config, contract Contract, log zerolog.Logger) *Service {
	s := &Service{
		cfg:        cfg,
		contract:   contract,
		log:        log.With().Str("component", "ticket").Logger(),
		queue:      make(chan settleJob, settlementQueueCap),
		stop:       make(chan struct{}),
		statsCache: make(map[uint64]cachedStats),
	}
	s.wg.Add(1)
	go s.settleLoop()
	return s
}

// Close drains the settlement queue and stops the worker.
func (s *Service) Close() {
	close(s.stop)
	s.wg.Wait()
}

// Required reports whether joins without a valid ticket are denied.
func (s *Service) Required() bool { return s.cfg.Required }

// UseOnchainStats reports whether on-chain stats are the only truth source.
func (s *Service) UseOnchainStats() bool { return s.cfg.UseOnchainStats }

// CheckJoin validates that address may enter a ticketed room. A stale
// optionalTokenID falls back to activeTokenIdOf. RPC failures degrade closed
// when tickets are required and open otherwise.
func (s *Service) CheckJoin(ctx context.Context, address string, optionalTokenID uint64) JoinResult {
	if s.contract == nil {
		if s.cfg.Required {
			return JoinResult{OK: false, Reason: ReasonTicketError}
		}
		return JoinResult{OK: true, TokenID: 0}
	}

	if optionalTokenID != 0 {
		if res, ok := s.checkToken(ctx, address, optionalTokenID); ok {
			return res
		}
		// Fall through to the active-token lookup below.
	}

	tokenID, err := s.contract.ActiveTokenIdOf(ctx, address)
	if err != nil {
		s.log.Warn().Err(err).Str("address", address).Msg("activeTokenIdOf failed")
		return s.degrade()
	}
	if tokenID == 0 {
		if s.cfg.Required {
			return JoinResult{OK: false, Reason: ReasonNoTicket}
		}
		return JoinResult{OK: true, TokenID: 0}
	}
	if res, ok := s.checkToken(ctx, address, tokenID); ok {
		return res
	}
	if s.cfg.Required {
		return JoinResult{OK: false, Reason: ReasonNoTicket}
	}
	return JoinResult{OK: true, TokenID: 0}
}

// checkToken validates one specific token; ok=false means "try the fallback".
func (s *Service) checkToken(ctx context.Context, address string, tokenID uint64) (JoinResult, bool) {
	owner, err := s.contract.OwnerOf(ctx, tokenID)
	if err != nil {
		s.log.Warn().Err(err).Uint64("token", tokenID).Msg("ownerOf failed")
		return s.degrade(), s.degrade().OK
	}
	if !strings.EqualFold(owner, address) {
		return JoinResult{OK: false, Reason: ReasonNotOwner}, false
	}
	destroyed, err := s.contract.IsDestroyed(ctx, tokenID)
	if err != nil {
		s.log.Warn().Err(err).Uint64("token", tokenID).Msg("isDestroyed failed")
		return s.degrade(), s.degrade().OK
	}
	if destroyed {
		return JoinResult{OK: false, Reason: ReasonDestroyed}, false
	}
	return JoinResult{OK: true, TokenID: tokenID}, true
}

func (s *Service) degrade() JoinResult {
	if s.cfg.Required {
		return JoinResult{OK: false, Reason: ReasonTicketError}
	}
	return JoinResult{OK: true, TokenID: 0}
}

// StatsOf returns the on-chain stats of a token, cached briefly.
func (s *Service) StatsOf(ctx context.Context, tokenID uint64) (Stats, error) {
	s.mu.Lock()
	if c, ok := s.statsCache[tokenID]; ok && time.Since(c.at) < statsCacheTTL {
		s.mu.Unlock()
		return c.stats, nil
	}
	s.mu.Unlock()

	stats, err := s.contract.StatsOf(ctx, tokenID)
	if err != nil {
		return Stats{}, err
	}
	s.mu.Lock()
	s.statsCache[tokenID] = cachedStats{stats: stats, at: time.Now()}
	s.mu.Unlock()
	return stats, nil
}

// ResolveMatchBurnAndPayout queues the burn+payout transaction. done is
// invoked from the settlement worker with the tx hash, or "" on any failure;
// errors never propagate to the caller.
func (s *Service) ResolveMatchBurnAndPayout(loserTokenID uint64, winnerAddress string, done func(txHash string)) {
	job := settleJob{loserTokenID: loserTokenID, winnerAddress: winnerAddress, done: done}
	select {
	case s.queue <- job:
	default:
		s.log.Error().Uint64("loser", loserTokenID).Msg("settlement queue full, dropping")
		if done != nil {
			done("")
		}
	}
}

func (s *Service) settleLoop() {
	defer s.wg.Done()
	for {
		select {
		case job := <-s.queue:
			s.settle(job)
		case <-s.stop:
			// Drain what is already queued so finished matches still settle.
			for {
				select {
				case job := <-s.queue:
					s.settle(job)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) settle(job settleJob) {
	hash := ""
	if s.contract == nil {
		s.log.Warn().Uint64("loser", job.loserTokenID).Msg("settlement skipped, contract unconfigured")
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
		h, err := s.contract.ResolveMatch(ctx, job.loserTokenID, job.winnerAddress)
		cancel()
		if err != nil {
			s.log.Error().Err(err).Uint64("loser", job.loserTokenID).Str("winner", job.winnerAddress).Msg("resolveMatch failed")
		} else {
			hash = h
			s.log.Info().Uint64("loser", job.loserTokenID).Str("winner", job.winnerAddress).Str("tx", h).Msg("match settled")
		}
	}
	if job.done != nil {
		job.done(hash)
	}
}
