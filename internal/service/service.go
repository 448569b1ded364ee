package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/holiman/uint256"
	log "github.com/sirupsen/logrus"

	"apx-claims-api/internal/cache"
	"apx-claims-api/internal/claims"
	"apx-claims-api/internal/database"
	"apx-claims-api/internal/events"
	"apx-claims-api/internal/features"
	"apx-claims-api/internal/metrics"
	"apx-claims-api/internal/models"
	"apx-claims-api/internal/tracing"
	"apx-claims-api/internal/units"
	"apx-claims-api/internal/validation"
)

const (
	SourceLedger = "ledger"
	SourceCache  = "cache"

	DefaultHistoryLimit = 50
)

var (
	// ErrClaimNotAvailable is returned when a claim is attempted during the
	// cooldown. The concrete error is a *NotAvailableError.
	ErrClaimNotAvailable = errors.New("claim not available yet")
	// ErrUnknownCadence is returned for cadences that are not offered.
	ErrUnknownCadence = errors.New("unknown claim cadence")
	// ErrLedgerUnavailable is returned when the ledger failed and no
	// fallback could answer.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
)

// NotAvailableError carries the instant a refused claim opens up.
type NotAvailableError struct {
	Cadence         claims.Cadence
	NextAvailableAt *time.Time
}

func (e *NotAvailableError) Error() string {
	if e.NextAvailableAt == nil {
		return fmt.Sprintf("%s claim not available yet", e.Cadence)
	}
	return fmt.Sprintf("%s claim available at %s", e.Cadence, e.NextAvailableAt.UTC().Format(time.RFC3339))
}

func (e *NotAvailableError) Unwrap() error {
	return ErrClaimNotAvailable
}

// Ledger is the system of record for claim state.
type Ledger interface {
	GetClaimRecord(ctx context.Context, address string, cadence claims.Cadence) (claims.ClaimRecord, error)
	Claim(ctx context.Context, address string, program claims.Program, now time.Time) (database.ClaimEntry, claims.ClaimRecord, error)
	GetLifetimeReward(ctx context.Context, address string) (*uint256.Int, error)
	ListClaimHistory(ctx context.Context, address string, limit int) ([]database.ClaimEntry, error)
	ResetLapsedStreaks(ctx context.Context, cadence claims.Cadence, cutoff time.Time) (int64, error)
}

// ProgramStore persists reward programs.
type ProgramStore interface {
	ListPrograms(ctx context.Context) ([]database.StoredProgram, error)
	UpsertProgram(ctx context.Context, program claims.Program) (database.StoredProgram, error)
}

// Dependencies are the optional collaborators of a Service. Nil fields
// disable the matching behavior.
type Dependencies struct {
	Mirror   *cache.ClaimMirror
	Events   *events.Manager
	Features *features.Manager
	Metrics  *metrics.Metrics
}

// Service provides business logic for the claims API.
type Service struct {
	ledger   Ledger
	store    ProgramStore
	mirror   *cache.ClaimMirror
	events   *events.Manager
	features *features.Manager
	metrics  *metrics.Metrics

	mu       sync.RWMutex
	programs map[claims.Cadence]database.StoredProgram
}

// NewService creates a new service instance. Call ReloadPrograms before
// serving requests.
func NewService(ledger Ledger, store ProgramStore, deps Dependencies) *Service {
	if deps.Events == nil {
		deps.Events = events.NewManager(false)
	}
	if deps.Features == nil {
		deps.Features = features.NewManager()
	}

	return &Service{
		ledger:   ledger,
		store:    store,
		mirror:   deps.Mirror,
		events:   deps.Events,
		features: deps.Features,
		metrics:  deps.Metrics,
		programs: make(map[claims.Cadence]database.StoredProgram),
	}
}

// ReloadPrograms refreshes the in-memory program snapshot from the store.
// Claims are evaluated against the snapshot so that a ledger outage does not
// also take the program table with it.
func (s *Service) ReloadPrograms(ctx context.Context) error {
	stored, err := s.store.ListPrograms(ctx)
	if err != nil {
		return fmt.Errorf("failed to load programs: %w", err)
	}

	programs := make(map[claims.Cadence]database.StoredProgram, len(stored))
	for _, p := range stored {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("stored %s program: %w", p.Cadence, err)
		}
		programs[p.Cadence] = p
	}

	for _, cadence := range claims.Cadences {
		if _, ok := programs[cadence]; !ok {
			return fmt.Errorf("no %s program stored", cadence)
		}
	}

	s.mu.Lock()
	s.programs = programs
	s.mu.Unlock()
	return nil
}

// enabledCadences lists the cadences currently offered to users.
func (s *Service) enabledCadences() []claims.Cadence {
	cadences := []claims.Cadence{claims.Daily}
	if s.features.IsEnabled(features.FeatureWeeklyClaims) {
		cadences = append(cadences, claims.Weekly)
	}
	return cadences
}

// program resolves an offered cadence to its current program.
func (s *Service) program(raw string) (claims.Program, error) {
	cadence, ok := claims.ParseCadence(validation.SanitizeString(raw))
	if !ok {
		return claims.Program{}, fmt.Errorf("%w: %q", ErrUnknownCadence, raw)
	}
	if cadence == claims.Weekly && !s.features.IsEnabled(features.FeatureWeeklyClaims) {
		return claims.Program{}, fmt.Errorf("%w: %q", ErrUnknownCadence, raw)
	}

	s.mu.RLock()
	stored, ok := s.programs[cadence]
	s.mu.RUnlock()
	if !ok {
		return claims.Program{}, fmt.Errorf("%w: %q has no program", ErrUnknownCadence, raw)
	}
	return stored.Program, nil
}

// GetAvailability previews every offered cadence for address at now.
func (s *Service) GetAvailability(ctx context.Context, address string, now time.Time) (models.AvailabilityResponse, error) {
	ctx, span := tracing.GetTracer().StartSpan(ctx, "service.GetAvailability")
	defer span.End()

	address, err := validation.ValidateAddress(address, "address")
	if err != nil {
		return models.AvailabilityResponse{}, err
	}

	cadences := s.enabledCadences()
	programs := make([]claims.Program, 0, len(cadences))
	for _, cadence := range cadences {
		program, err := s.program(string(cadence))
		if err != nil {
			return models.AvailabilityResponse{}, err
		}
		programs = append(programs, program)
	}

	return s.availability(ctx, address, programs, now)
}

// GetCadenceAvailability previews a single cadence.
func (s *Service) GetCadenceAvailability(ctx context.Context, address, cadence string, now time.Time) (models.AvailabilityResponse, error) {
	ctx, span := tracing.GetTracer().StartSpan(ctx, "service.GetCadenceAvailability")
	defer span.End()

	address, err := validation.ValidateAddress(address, "address")
	if err != nil {
		return models.AvailabilityResponse{}, err
	}

	program, err := s.program(cadence)
	if err != nil {
		return models.AvailabilityResponse{}, err
	}

	return s.availability(ctx, address, []claims.Program{program}, now)
}

func (s *Service) availability(ctx context.Context, address string, programs []claims.Program, now time.Time) (models.AvailabilityResponse, error) {
	response := models.AvailabilityResponse{
		Address:   address,
		Source:    SourceLedger,
		CheckedAt: now,
		Claims:    make([]models.CadenceAvailability, 0, len(programs)),
	}

	for _, program := range programs {
		record, source, err := s.readRecord(ctx, address, program.Cadence)
		if err != nil {
			return models.AvailabilityResponse{}, err
		}
		if source == SourceCache {
			response.Source = SourceCache
		}

		response.Claims = append(response.Claims, availabilityView(program.Cadence, record, program.Evaluate(record, now)))
	}

	s.events.PublishAvailabilityChecked(ctx, response)
	return response, nil
}

// readRecord reads from the ledger and refreshes the mirror. When the ledger
// fails it answers from the mirror if the fallback flag allows it.
func (s *Service) readRecord(ctx context.Context, address string, cadence claims.Cadence) (claims.ClaimRecord, string, error) {
	record, err := s.ledger.GetClaimRecord(ctx, address, cadence)
	if err == nil {
		s.mirrorRecord(ctx, address, cadence, record)
		return record, SourceLedger, nil
	}

	s.metrics.LedgerError("read")
	logger := log.WithFields(log.Fields{"address": address, "cadence": string(cadence)})

	if s.mirror != nil && s.features.IsEnabled(features.FeatureCacheFallback) {
		cached, cacheErr := s.mirror.Get(ctx, address, cadence)
		if cacheErr == nil {
			s.metrics.CacheFallback(string(cadence))
			logger.WithError(err).Warn("ledger read failed, serving claim record from mirror")
			return cached, SourceCache, nil
		}
		if !errors.Is(cacheErr, cache.ErrNotFound) {
			logger.WithError(cacheErr).Warn("mirror read failed")
		}
	}

	logger.WithError(err).Error("ledger read failed")
	return claims.ClaimRecord{}, "", fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
}

func (s *Service) mirrorRecord(ctx context.Context, address string, cadence claims.Cadence, record claims.ClaimRecord) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Put(ctx, address, cadence, record); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"address": address,
			"cadence": string(cadence),
		}).Warn("failed to mirror claim record")
	}
}

// Claim claims the cadence's reward for address at now. Claims always go to
// the ledger; the mirror never authorizes a payout.
func (s *Service) Claim(ctx context.Context, address, cadence string, now time.Time) (models.ClaimReceipt, error) {
	ctx, span := tracing.GetTracer().StartSpan(ctx, "service.Claim")
	defer span.End()

	address, err := validation.ValidateAddress(address, "address")
	if err != nil {
		return models.ClaimReceipt{}, err
	}

	program, err := s.program(cadence)
	if err != nil {
		return models.ClaimReceipt{}, err
	}

	logger := log.WithFields(log.Fields{"address": address, "cadence": string(program.Cadence)})

	entry, record, err := s.ledger.Claim(ctx, address, program, now)
	if errors.Is(err, claims.ErrCooldownActive) {
		s.metrics.ClaimRecorded(string(program.Cadence), "cooldown")
		s.mirrorRecord(ctx, address, program.Cadence, record)
		logger.Debug("claim refused during cooldown")
		return models.ClaimReceipt{}, &NotAvailableError{
			Cadence:         program.Cadence,
			NextAvailableAt: claims.NextAvailableAt(record.LastClaimAt, program.Policy.Duration),
		}
	}
	if err != nil {
		s.metrics.ClaimRecorded(string(program.Cadence), "error")
		s.metrics.LedgerError("claim")
		logger.WithError(err).Error("claim failed")
		tracing.RecordError(span, err)
		return models.ClaimReceipt{}, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}

	s.mirrorRecord(ctx, address, program.Cadence, record)
	s.metrics.ClaimRecorded(string(program.Cadence), "success")

	receipt := receiptView(entry)
	logger.WithFields(log.Fields{
		"streak":     receipt.Streak,
		"multiplier": receipt.Multiplier,
		"reward":     receipt.Reward,
	}).Info("claim completed")

	s.events.PublishClaimCompleted(ctx, receipt)
	return receipt, nil
}

// GetBalance returns the lifetime reward of address. During a ledger outage
// the largest mirrored lifetime total answers instead, since the total only
// grows.
func (s *Service) GetBalance(ctx context.Context, address string) (models.BalanceResponse, error) {
	ctx, span := tracing.GetTracer().StartSpan(ctx, "service.GetBalance")
	defer span.End()

	address, err := validation.ValidateAddress(address, "address")
	if err != nil {
		return models.BalanceResponse{}, err
	}

	source := SourceLedger
	lifetime, err := s.ledger.GetLifetimeReward(ctx, address)
	if err != nil {
		s.metrics.LedgerError("balance")
		lifetime, err = s.mirroredLifetime(ctx, address, err)
		if err != nil {
			return models.BalanceResponse{}, err
		}
		source = SourceCache
	}

	return models.BalanceResponse{
		Address:             address,
		Source:              source,
		LifetimeReward:      units.Format(lifetime),
		LifetimeRewardUnits: lifetime.Dec(),
	}, nil
}

func (s *Service) mirroredLifetime(ctx context.Context, address string, ledgerErr error) (*uint256.Int, error) {
	if s.mirror == nil || !s.features.IsEnabled(features.FeatureCacheFallback) {
		return nil, fmt.Errorf("%w: %w", ErrLedgerUnavailable, ledgerErr)
	}

	var best *uint256.Int
	for _, cadence := range claims.Cadences {
		record, err := s.mirror.Get(ctx, address, cadence)
		if err != nil {
			continue
		}
		if best == nil || record.LifetimeReward.Gt(best) {
			best = record.LifetimeReward
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerUnavailable, ledgerErr)
	}

	s.metrics.CacheFallback("balance")
	log.WithError(ledgerErr).WithField("address", address).Warn("ledger read failed, serving balance from mirror")
	return best, nil
}

// GetHistory returns the latest claims of address, newest first.
func (s *Service) GetHistory(ctx context.Context, address string, limit int) (models.HistoryResponse, error) {
	ctx, span := tracing.GetTracer().StartSpan(ctx, "service.GetHistory")
	defer span.End()

	address, err := validation.ValidateAddress(address, "address")
	if err != nil {
		return models.HistoryResponse{}, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	entries, err := s.ledger.ListClaimHistory(ctx, address, limit)
	if err != nil {
		s.metrics.LedgerError("history")
		return models.HistoryResponse{}, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}

	response := models.HistoryResponse{
		Address: address,
		Claims:  make([]models.ClaimReceipt, 0, len(entries)),
	}
	for _, entry := range entries {
		response.Claims = append(response.Claims, receiptView(entry))
	}
	return response, nil
}

// ListPrograms returns the programs of every offered cadence.
func (s *Service) ListPrograms(ctx context.Context) models.ProgramsResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	response := models.ProgramsResponse{Programs: []models.Program{}}
	for _, cadence := range s.enabledCadences() {
		if stored, ok := s.programs[cadence]; ok {
			response.Programs = append(response.Programs, programView(stored))
		}
	}
	return response
}

// UpdateProgram replaces the program of cadence. Changes apply to claims
// evaluated after the call returns.
func (s *Service) UpdateProgram(ctx context.Context, cadence string, req models.Program) (models.Program, error) {
	ctx, span := tracing.GetTracer().StartSpan(ctx, "service.UpdateProgram")
	defer span.End()

	cadence = validation.SanitizeString(cadence)
	if _, ok := claims.ParseCadence(cadence); !ok {
		return models.Program{}, fmt.Errorf("%w: %q", ErrUnknownCadence, cadence)
	}

	if req.Cadence == "" {
		req.Cadence = cadence
	}
	if validation.SanitizeString(req.Cadence) != cadence {
		return models.Program{}, &validation.ValidationError{
			Field:   "cadence",
			Message: "must match the cadence in the path",
		}
	}

	program, err := validation.ValidateProgram(req)
	if err != nil {
		return models.Program{}, err
	}

	stored, err := s.store.UpsertProgram(ctx, program)
	if err != nil {
		s.metrics.LedgerError("program")
		return models.Program{}, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}

	s.mu.Lock()
	s.programs[stored.Cadence] = stored
	s.mu.Unlock()

	view := programView(stored)
	log.WithFields(log.Fields{
		"cadence":     view.Cadence,
		"base_amount": view.BaseAmount,
		"tiers":       len(view.Tiers),
	}).Info("reward program updated")

	s.events.PublishProgramUpdated(ctx, view)
	return view, nil
}

// SweepLapsedStreaks zeroes the streak of every record whose last claim lies
// further back than the cadence's streak window. It only touches streaks;
// what a user can claim is unchanged because a lapsed streak already restarts
// at 1 on the next claim.
func (s *Service) SweepLapsedStreaks(ctx context.Context, now time.Time) (map[string]int64, error) {
	ctx, span := tracing.GetTracer().StartSpan(ctx, "service.SweepLapsedStreaks")
	defer span.End()

	s.mu.RLock()
	programs := make([]claims.Program, 0, len(s.programs))
	for _, stored := range s.programs {
		programs = append(programs, stored.Program)
	}
	s.mu.RUnlock()

	sort.Slice(programs, func(i, j int) bool { return programs[i].Cadence < programs[j].Cadence })

	reset := make(map[string]int64, len(programs))
	for _, program := range programs {
		cutoff := now.Add(-program.Policy.StreakWindow())
		n, err := s.ledger.ResetLapsedStreaks(ctx, program.Cadence, cutoff)
		if err != nil {
			s.metrics.LedgerError("sweep")
			tracing.RecordError(span, err)
			return reset, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
		}

		reset[string(program.Cadence)] = n
		s.metrics.StreaksReset(string(program.Cadence), n)
		log.WithFields(log.Fields{
			"cadence": string(program.Cadence),
			"cutoff":  cutoff.Format(time.RFC3339),
			"reset":   n,
		}).Info("lapsed streaks swept")
	}

	s.events.PublishStreaksSwept(ctx, reset, now)
	return reset, nil
}

func availabilityView(cadence claims.Cadence, record claims.ClaimRecord, a claims.Availability) models.CadenceAvailability {
	return models.CadenceAvailability{
		Cadence:         string(cadence),
		CanClaimNow:     a.CanClaimNow,
		NextAvailableAt: a.NextAvailableAt,
		NextStreak:      a.NextStreak,
		Multiplier:      a.Multiplier.String(),
		BonusPercent:    a.BonusPercent,
		Reward:          units.Format(a.RewardIfClaimedNow),
		RewardUnits:     a.RewardIfClaimedNow.Dec(),
		Record: models.ClaimRecord{
			LastClaimAt:   record.LastClaimAt,
			CurrentStreak: record.CurrentStreak,
			TotalClaims:   record.TotalClaims,
		},
	}
}

func receiptView(entry database.ClaimEntry) models.ClaimReceipt {
	return models.ClaimReceipt{
		ID:             entry.ID,
		Address:        entry.Address,
		Cadence:        string(entry.Cadence),
		ClaimedAt:      entry.ClaimedAt,
		Streak:         entry.Streak,
		Multiplier:     entry.Multiplier.String(),
		BonusPercent:   entry.BonusPercent,
		Reward:         units.Format(entry.Amount),
		RewardUnits:    entry.Amount.Dec(),
		LifetimeReward: units.Format(entry.LifetimeReward),
	}
}

func programView(stored database.StoredProgram) models.Program {
	updatedAt := stored.UpdatedAt
	view := models.Program{
		Cadence:     string(stored.Cadence),
		Cooldown:    stored.Policy.Duration.String(),
		GracePeriod: stored.Policy.GracePeriod.String(),
		BaseAmount:  units.Format(stored.BaseAmount),
		Tiers:       make([]models.TierView, 0, len(stored.Tiers)),
		UpdatedAt:   &updatedAt,
	}
	for _, tier := range stored.Tiers.Sorted() {
		view.Tiers = append(view.Tiers, models.TierView{
			Threshold:  tier.Threshold,
			Multiplier: tier.Multiplier.String(),
		})
	}
	return view
}
