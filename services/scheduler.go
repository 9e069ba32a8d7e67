package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ancer-engine/config"
	"ancer-engine/models"
	"ancer-engine/storage"
	"ancer-engine/utils"
)

// RefreshOptions controls one valuation sweep.
type RefreshOptions struct {
	// Force ignores the cooldown window.
	Force bool
	// Limit caps the number of properties examined; 0 means no cap.
	Limit      int
	TimeBudget time.Duration
}

// ImportOptions controls one dedup/import sweep.
type ImportOptions struct {
	// DryRun computes decisions without writing.
	DryRun bool
	// Limit caps the number of pending listings examined; 0 uses the
	// configured import limit.
	Limit int
	// Rescore revisits pending listings that already carry a review-band
	// score; by default they wait for a human decision.
	Rescore    bool
	TimeBudget time.Duration
}

type refreshOutcome uint8

const (
	refreshUpdated refreshOutcome = iota
	refreshNoEstimate
	refreshCooldown
	refreshFailed
	refreshInterrupted
)

type importResult struct {
	outcome     models.DedupOutcome
	conflict    bool
	failed      bool
	interrupted bool
}

// Scheduler runs the batch sweeps. Each sweep is bounded by a row limit
// and a time budget and is safe to re-run at any point.
type Scheduler struct {
	store    storage.ReferenceStore
	valuer   *Valuer
	selector *Selector
	types    *TypeMapper
	cfg      *config.Config
	clock    utils.Clock
	logger   *utils.Logger
}

// NewScheduler wires a Scheduler from its collaborators.
func NewScheduler(store storage.ReferenceStore, types *TypeMapper, cfg *config.Config, clock utils.Clock, logger *utils.Logger) *Scheduler {
	selector := NewSelector(store, types, cfg, clock, logger)
	return &Scheduler{
		store:    store,
		valuer:   NewValuer(selector, NewEstimator(cfg.Estimator)),
		selector: selector,
		types:    types,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
	}
}

// Valuer exposes the single-property valuation path.
func (s *Scheduler) Valuer() *Valuer {
	return s.valuer
}

// RefreshValuations recomputes estimates for approved properties in id
// order. Properties valued within the cooldown are skipped unless forced.
// Only infrastructure failures abort the sweep; the report is returned
// either way.
func (s *Scheduler) RefreshValuations(ctx context.Context, opts RefreshOptions) (*models.ValuationReport, error) {
	start := time.Now()
	report := &models.ValuationReport{RunID: uuid.NewString()}
	defer func() { report.Elapsed = time.Since(start) }()

	log := s.logger.With("run", report.RunID)
	ctx, cancel := s.withBudget(ctx, opts.TimeBudget)
	defer cancel()

	log.Info("[valuation] sweep started (force=%v, limit=%d)", opts.Force, opts.Limit)

	var mu sync.Mutex
	var after int64
	for {
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}
		size := s.pageSize(opts.Limit, report.Processed)
		if size == 0 {
			break
		}
		page, err := s.store.ListApprovedProperties(ctx, after, size)
		if err != nil {
			if ctx.Err() != nil {
				report.Interrupted = true
				break
			}
			return report, fmt.Errorf("valuation: list properties after %d: %w", after, err)
		}
		if len(page) == 0 {
			break
		}

		pool := utils.NewWorkerPool(ctx, s.cfg.MaxConcurrency, s.cfg.RateLimitMs)
		for i := range page {
			p := page[i]
			pool.Submit(func(ctx context.Context) error {
				outcome, err := s.refreshOne(ctx, log, &p, opts.Force)
				mu.Lock()
				defer mu.Unlock()
				switch outcome {
				case refreshUpdated:
					report.Updated++
				case refreshNoEstimate:
					report.NoEstimate++
				case refreshCooldown:
					report.Cooldown++
				case refreshFailed:
					report.Failed++
				case refreshInterrupted:
					return err
				}
				report.Processed++
				return err
			})
		}
		if err := pool.Wait(); err != nil {
			log.Error("[valuation] sweep aborted: %v", err)
			return report, fmt.Errorf("valuation: sweep aborted: %w", err)
		}

		after = page[len(page)-1].ID
		if len(page) < size {
			break
		}
	}

	log.Info("[valuation] sweep finished: %d processed, %d updated, %d without estimate, %d in cooldown, %d failed",
		report.Processed, report.Updated, report.NoEstimate, report.Cooldown, report.Failed)
	if report.Interrupted {
		log.Warn("[valuation] time budget exhausted, remaining properties left for the next run")
	}
	return report, nil
}

func (s *Scheduler) refreshOne(ctx context.Context, log *utils.Logger, p *models.Property, force bool) (refreshOutcome, error) {
	if ctx.Err() != nil {
		return refreshInterrupted, nil
	}
	now := s.clock.Now()
	if !force && p.LastValuedAt != nil && now.Sub(*p.LastValuedAt) < s.cfg.Sweep.Cooldown {
		return refreshCooldown, nil
	}

	a, err := s.valuer.Appraise(ctx, p)
	if err != nil {
		return s.classifyRefresh(ctx, log, p.ID, err)
	}

	update := models.ValuationUpdate{PropertyID: p.ID, ValuedAt: now}
	if a.OK {
		v := a.Valuation
		update.Valuation = &v
	}
	if err := s.store.SaveValuation(ctx, update); err != nil {
		return s.classifyRefresh(ctx, log, p.ID, err)
	}

	if !a.OK {
		log.Debug("[valuation] property %d: no comparables, estimate cleared", p.ID)
		return refreshNoEstimate, nil
	}
	log.Debug("[valuation] property %d: %d kobo (confidence %.2f, %d comparables)",
		p.ID, a.Valuation.EstimateKobo, a.Valuation.Confidence, a.Valuation.ComparableCount)
	return refreshUpdated, nil
}

func (s *Scheduler) classifyRefresh(ctx context.Context, log *utils.Logger, id int64, err error) (refreshOutcome, error) {
	if ctx.Err() != nil {
		return refreshInterrupted, nil
	}
	if errors.Is(err, models.ErrInfrastructure) {
		return refreshFailed, err
	}
	log.Warn("[valuation] property %d skipped: %v", id, err)
	return refreshFailed, nil
}

// ImportScraped runs dedup over pending scraped listings. Listings whose
// best match clears the match threshold become matched, clear misses are
// imported, and the review band stays pending with its score recorded.
// A dry run decides everything and writes nothing.
func (s *Scheduler) ImportScraped(ctx context.Context, opts ImportOptions) (*models.DedupReport, error) {
	start := time.Now()
	report := &models.DedupReport{RunID: uuid.NewString(), DryRun: opts.DryRun}
	defer func() { report.Elapsed = time.Since(start) }()

	log := s.logger.With("run", report.RunID)
	ctx, cancel := s.withBudget(ctx, opts.TimeBudget)
	defer cancel()

	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.Sweep.ImportLimit
	}

	locations, err := LoadLocationResolver(ctx, s.store)
	if err != nil {
		return report, fmt.Errorf("dedup: %w", err)
	}
	matcher := NewMatcher(s.selector, s.types, locations, s.cfg.Dedup)

	log.Info("[dedup] sweep started (dry-run=%v, limit=%d)", opts.DryRun, limit)

	var mu sync.Mutex
	var after int64
	for {
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}
		size := s.pageSize(limit, report.Processed)
		if size == 0 {
			break
		}
		page, err := s.store.ListPendingListings(ctx, after, size)
		if err != nil {
			if ctx.Err() != nil {
				report.Interrupted = true
				break
			}
			return report, fmt.Errorf("dedup: list pending after %d: %w", after, err)
		}
		if len(page) == 0 {
			break
		}

		pool := utils.NewWorkerPool(ctx, s.cfg.MaxConcurrency, s.cfg.RateLimitMs)
		for i := range page {
			l := page[i]
			if l.DedupScore != nil && !opts.Rescore {
				continue
			}
			pool.Submit(func(ctx context.Context) error {
				res, err := s.importOne(ctx, log, matcher, &l, opts.DryRun)
				if res.interrupted {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				report.Processed++
				switch {
				case res.conflict:
					report.Conflicts++
					return nil
				case res.failed:
					report.Failed++
					return err
				}
				report.Outcomes = append(report.Outcomes, res.outcome)
				switch res.outcome.Decision {
				case models.DecisionNew:
					report.Imported++
				case models.DecisionMatch:
					report.Matched++
				case models.DecisionReview:
					report.Review++
				case models.DecisionUnresolved:
					report.Unresolved++
				case models.DecisionReject:
					report.Rejected++
				}
				return nil
			})
		}
		if err := pool.Wait(); err != nil {
			log.Error("[dedup] sweep aborted: %v", err)
			sortOutcomes(report.Outcomes)
			return report, fmt.Errorf("dedup: sweep aborted: %w", err)
		}

		after = page[len(page)-1].ID
		if len(page) < size {
			break
		}
	}
	sortOutcomes(report.Outcomes)

	log.Info("[dedup] sweep finished: %d processed, %d imported, %d matched, %d for review, %d rejected, %d unresolved, %d conflicts",
		report.Processed, report.Imported, report.Matched, report.Review, report.Rejected, report.Unresolved, report.Conflicts)
	return report, nil
}

func (s *Scheduler) importOne(ctx context.Context, log *utils.Logger, m *Matcher, l *models.ScrapedListing, dryRun bool) (importResult, error) {
	if ctx.Err() != nil {
		return importResult{interrupted: true}, nil
	}
	res := importResult{outcome: models.DedupOutcome{ListingID: l.ID}}
	if l.Status.Terminal() {
		res.conflict = true
		return res, nil
	}

	if reason := RejectionReason(l); reason != "" {
		res.outcome.Decision = models.DecisionReject
		res.outcome.Reason = reason
		if dryRun {
			return res, nil
		}
		err := s.store.TransitionListing(ctx, models.ListingTransition{
			ListingID:       l.ID,
			To:              models.StatusRejected,
			RejectionReason: reason,
		})
		return s.classifyImport(ctx, log, res, err)
	}

	match, err := m.Match(ctx, l)
	if err != nil {
		return s.classifyImport(ctx, log, res, err)
	}
	res.outcome.Decision = match.Decision
	res.outcome.DedupScore = match.Score
	res.outcome.MatchedPropertyID = match.MatchedPropertyID
	if dryRun {
		return res, nil
	}

	switch match.Decision {
	case models.DecisionMatch:
		err = s.store.TransitionListing(ctx, models.ListingTransition{
			ListingID:         l.ID,
			To:                models.StatusMatched,
			DedupScore:        match.Score,
			MatchedPropertyID: match.MatchedPropertyID,
		})
	case models.DecisionNew:
		err = s.store.TransitionListing(ctx, models.ListingTransition{
			ListingID:  l.ID,
			To:         models.StatusImported,
			DedupScore: match.Score,
		})
	case models.DecisionReview:
		err = s.store.RecordDedupScore(ctx, l.ID, match.Score)
	case models.DecisionUnresolved:
		log.Debug("[dedup] listing %d: location %q not resolved, left pending", l.ID, l.Location)
	}
	return s.classifyImport(ctx, log, res, err)
}

func (s *Scheduler) classifyImport(ctx context.Context, log *utils.Logger, res importResult, err error) (importResult, error) {
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, models.ErrConcurrencyConflict):
		log.Debug("[dedup] listing %d already handled by another run", res.outcome.ListingID)
		res.conflict = true
		return res, nil
	case ctx.Err() != nil:
		res.interrupted = true
		return res, nil
	case errors.Is(err, models.ErrInfrastructure):
		res.failed = true
		return res, err
	}
	log.Warn("[dedup] listing %d skipped: %v", res.outcome.ListingID, err)
	res.failed = true
	return res, nil
}

// pageSize caps the next page so the sweep stops exactly at limit.
func (s *Scheduler) pageSize(limit, processed int) int {
	size := s.cfg.Sweep.PageSize
	if limit > 0 {
		remaining := limit - processed
		if remaining <= 0 {
			return 0
		}
		if remaining < size {
			size = remaining
		}
	}
	return size
}

func (s *Scheduler) withBudget(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		budget = s.cfg.Sweep.TimeBudget
	}
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, budget)
}

func sortOutcomes(out []models.DedupOutcome) {
	sort.Slice(out, func(i, j int) bool { return out[i].ListingID < out[j].ListingID })
}
