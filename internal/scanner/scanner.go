package scanner

import (
	"context"
	"log/slog"
	"time"

	"spreadwatch/internal/config"
	"spreadwatch/internal/database"
	"spreadwatch/internal/model"
	"spreadwatch/internal/source"
	"spreadwatch/internal/spread"
)

// phase names the scheduler's states for logging.
type phase string

const (
	phaseIdle       phase = "idle"
	phaseFetching   phase = "fetching"
	phaseComputing  phase = "computing"
	phasePersisting phase = "persisting"
	phaseWaiting    phase = "waiting"
)

// Reporter renders one completed cycle's opportunities. The console report
// implements it; tests stub it out.
type Reporter interface {
	RenderCycle(opportunities []model.Opportunity, topN int)
}

// round is one pair's scan result, kept whole so persistence can record the
// full snapshot after all pairs are done.
type round struct {
	coin       string
	fiat       string
	capturedAt time.Time
	quotes     map[string]model.Quote
	opps       []model.Opportunity
}

// Scanner drives the scan loop: fetch quotes per configured pair, compute
// spreads, persist snapshots, wait, repeat. Strictly sequential: one
// outstanding request at a time, with a mandatory pause after every request
// to respect the API's rate limits.
type Scanner struct {
	logger   *slog.Logger
	source   source.QuoteSource
	store    database.Store
	reporter Reporter
	cfg      config.ScannerConfig

	cyclesRun       int64
	totalFound      int64
	totalPersisted  int64
	snapshotsSaved  int64
	persistFailures int64
}

// New creates a Scanner. store may be nil only when persistence is
// disabled; reporter may be nil to skip rendering.
func New(logger *slog.Logger, src source.QuoteSource, store database.Store, reporter Reporter, cfg config.ScannerConfig) *Scanner {
	return &Scanner{
		logger:   logger,
		source:   src,
		store:    store,
		reporter: reporter,
		cfg:      cfg,
	}
}

// Run executes scan cycles until the context is canceled, then logs a final
// summary and returns. Cancellation is honored between requests and between
// cycles; a cycle's persistence step either completes or is rolled back by
// the store, so no snapshot is left half-written.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("Scanner: starting",
		"pairs", len(s.cfg.Coins)*len(s.cfg.Fiats),
		"minSpread", s.cfg.MinSpread,
		"interval", s.cfg.UpdateInterval(),
		"persist", s.cfg.Persist,
	)

	for {
		s.runCycle(ctx)
		if ctx.Err() != nil {
			break
		}

		s.setPhase(phaseWaiting)
		select {
		case <-ctx.Done():
		case <-time.After(s.cfg.UpdateInterval()):
			continue
		}
		break
	}

	s.logger.Info("Scanner: stopped",
		"cycles", s.cyclesRun,
		"opportunitiesFound", s.totalFound,
		"opportunitiesPersisted", s.totalPersisted,
		"snapshotsSaved", s.snapshotsSaved,
		"persistFailures", s.persistFailures,
	)
	return nil
}

// TotalPersisted reports how many opportunities were persisted over the
// scanner's lifetime, for the shutdown summary.
func (s *Scanner) TotalPersisted() int64 {
	return s.totalPersisted
}

func (s *Scanner) runCycle(ctx context.Context) {
	s.setPhase(phaseIdle)
	s.cyclesRun++

	var rounds []round
	var cycleOpps []model.Opportunity

	for _, coin := range s.cfg.Coins {
		for _, fiat := range s.cfg.Fiats {
			if ctx.Err() != nil {
				return
			}

			s.setPhase(phaseFetching)
			quotes, err := s.source.GetQuotes(ctx, coin, fiat, s.cfg.Volume)

			// The pause applies after every request, successful or not.
			if !s.pause(ctx) {
				return
			}
			if err != nil {
				s.logger.Warn("Scanner: quote fetch failed, skipping pair",
					"coin", coin, "fiat", fiat, "error", err)
				continue
			}

			s.setPhase(phaseComputing)
			capturedAt := time.Now().UTC()
			opps := spread.Calculate(coin, fiat, quotes, s.cfg.MinSpread, capturedAt)

			rounds = append(rounds, round{
				coin:       coin,
				fiat:       fiat,
				capturedAt: capturedAt,
				quotes:     quotes,
				opps:       opps,
			})
			cycleOpps = append(cycleOpps, opps...)
		}
	}

	spread.SortBySpread(cycleOpps)
	s.totalFound += int64(len(cycleOpps))

	if s.cfg.Persist && s.store != nil {
		s.setPhase(phasePersisting)
		s.persist(ctx, rounds)
	}

	if s.reporter != nil {
		s.reporter.RenderCycle(cycleOpps, s.cfg.TopN)
	}
}

// persist records every round of the cycle. A failed round is surfaced in
// the log and does not block the remaining rounds; the in-memory results
// were already accumulated for display either way.
func (s *Scanner) persist(ctx context.Context, rounds []round) {
	for _, r := range rounds {
		snap := model.MarketSnapshot{
			Timestamp: r.capturedAt,
			Coin:      r.coin,
			Fiat:      r.fiat,
			Volume:    s.cfg.Volume,
		}
		id, err := s.store.SaveSnapshot(ctx, snap, r.quotes, r.opps)
		if err != nil {
			s.persistFailures++
			s.logger.Error("Scanner: snapshot persistence failed",
				"coin", r.coin, "fiat", r.fiat, "error", err)
			continue
		}
		s.snapshotsSaved++
		s.totalPersisted += int64(len(r.opps))
		s.logger.Debug("Scanner: snapshot saved",
			"snapshotID", id, "coin", r.coin, "fiat", r.fiat, "opportunities", len(r.opps))
	}
}

// pause sleeps the inter-request delay, returning false if the context was
// canceled first.
func (s *Scanner) pause(ctx context.Context) bool {
	delay := s.cfg.RequestDelay()
	if delay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (s *Scanner) setPhase(p phase) {
	s.logger.Debug("Scanner: phase", "phase", string(p))
}
