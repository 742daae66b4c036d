// Package report is the read-only view over the ledger. It never writes.
package report

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/internal/repository"
	apperrors "github.com/jwalitptl/bloodbank-api/pkg/errors"
	"github.com/jwalitptl/bloodbank-api/pkg/logger"
)

const summaryKey = "inventory_summary"

// Clock supplies the inventory calendar date.
type Clock interface {
	Today() time.Time
}

type Config struct {
	ExpiringSoonDays int
	SummaryTTL       time.Duration
}

type Service struct {
	repo      repository.ReportRepository
	auditRepo repository.AuditRepository
	clock     Clock
	config    Config
	cache     *cache.Cache
	logger    *logger.Logger

	// mu guards generation, which Invalidate bumps. A summary computed
	// across a bump is returned but not cached.
	mu         sync.Mutex
	generation uint64
}

func NewService(repo repository.ReportRepository, auditRepo repository.AuditRepository, clock Clock, config Config, log *logger.Logger) *Service {
	if config.SummaryTTL <= 0 {
		config.SummaryTTL = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:      repo,
		auditRepo: auditRepo,
		clock:     clock,
		config:    config,
		cache:     cache.New(config.SummaryTTL, 2*config.SummaryTTL),
		logger:    log.Named("report"),
	}
}

func require(id model.Identity, c model.Capability) error {
	if !id.Can(c) {
		return apperrors.PermissionDenied(string(c))
	}
	return nil
}

func (s *Service) persistence(ctx context.Context, op string, err error) error {
	logger.FromContext(ctx, s.logger).Error(err, "report query failed", "operation", op)
	return apperrors.Persistence(err)
}

// List returns one page of units with their donors. Count runs with the
// same filter, so Total always agrees with the rows that paging walks.
func (s *Service) List(ctx context.Context, id model.Identity, q model.UnitQuery) (*model.UnitPage, error) {
	if err := require(id, model.CapView); err != nil {
		return nil, err
	}
	filters, err := normalizeFilters(q.Filters)
	if err != nil {
		return nil, err
	}
	q.Filters = filters
	q = q.Normalize()

	rows, err := s.repo.ListUnits(ctx, q)
	if err != nil {
		return nil, s.persistence(ctx, "list", err)
	}
	total, err := s.repo.CountUnits(ctx, q.Filters)
	if err != nil {
		return nil, s.persistence(ctx, "count", err)
	}

	if !id.Can(model.CapViewDonorInfo) {
		for _, r := range rows {
			r.MaskPII()
		}
	}
	if rows == nil {
		rows = []*model.UnitRow{}
	}
	return &model.UnitPage{Rows: rows, Total: total, Page: q.Page, PageSize: q.PageSize}, nil
}

func (s *Service) Count(ctx context.Context, id model.Identity, f model.UnitFilters) (int64, error) {
	if err := require(id, model.CapView); err != nil {
		return 0, err
	}
	f, err := normalizeFilters(f)
	if err != nil {
		return 0, err
	}
	total, err := s.repo.CountUnits(ctx, f)
	if err != nil {
		return 0, s.persistence(ctx, "count", err)
	}
	return total, nil
}

func (s *Service) Get(ctx context.Context, id model.Identity, unitID string) (*model.UnitDetail, error) {
	if err := require(id, model.CapView); err != nil {
		return nil, err
	}
	row, err := s.repo.GetUnit(ctx, unitID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("unit", nil)
		}
		return nil, s.persistence(ctx, "get", err)
	}
	if !id.Can(model.CapViewDonorInfo) {
		row.MaskPII()
	}

	issuances, err := s.repo.ListIssuances(ctx, unitID)
	if err != nil {
		return nil, s.persistence(ctx, "issuances", err)
	}
	if issuances == nil {
		issuances = []*model.IssuanceRecord{}
	}
	return &model.UnitDetail{UnitRow: row, Issuances: issuances}, nil
}

// Summary counts units per blood type and status. The result is cached
// until the TTL passes or a ledger mutation calls Invalidate.
func (s *Service) Summary(ctx context.Context, id model.Identity) (*model.InventorySummary, error) {
	if err := require(id, model.CapView); err != nil {
		return nil, err
	}
	if cached, ok := s.cache.Get(summaryKey); ok {
		return cached.(*model.InventorySummary), nil
	}
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	counts, err := s.repo.StatusCounts(ctx)
	if err != nil {
		return nil, s.persistence(ctx, "summary", err)
	}

	summary := &model.InventorySummary{
		ByBloodType: make(map[model.BloodType]*model.StatusCounts, len(model.BloodTypes)),
		GeneratedAt: time.Now().UTC(),
	}
	for _, bt := range model.BloodTypes {
		summary.ByBloodType[bt] = &model.StatusCounts{}
	}
	for _, c := range counts {
		sc, ok := summary.ByBloodType[c.BloodType]
		if !ok {
			sc = &model.StatusCounts{}
			summary.ByBloodType[c.BloodType] = sc
		}
		sc.Add(c.Status, c.Count)
	}

	today := s.clock.Today()
	soon, err := s.repo.CountExpiringBetween(ctx, today, today.AddDate(0, 0, s.config.ExpiringSoonDays))
	if err != nil {
		return nil, s.persistence(ctx, "expiring", err)
	}
	summary.ExpiringSoon = soon

	s.mu.Lock()
	if s.generation == gen {
		s.cache.SetDefault(summaryKey, summary)
	}
	s.mu.Unlock()
	return summary, nil
}

// Invalidate drops the cached summary.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.cache.Delete(summaryKey)
}

// AuditLog returns audit entries newest first, optionally for one unit.
func (s *Service) AuditLog(ctx context.Context, id model.Identity, unitID string, limit int) ([]*model.AuditEntry, error) {
	if err := require(id, model.CapViewAudit); err != nil {
		return nil, err
	}
	entries, err := s.auditRepo.ListAudit(ctx, model.AuditFilter{UnitID: unitID, Limit: limit}.Normalize())
	if err != nil {
		return nil, s.persistence(ctx, "audit", err)
	}
	if entries == nil {
		entries = []*model.AuditEntry{}
	}
	return entries, nil
}

// normalizeFilters validates the filter values and puts enums in their
// canonical spelling.
func normalizeFilters(f model.UnitFilters) (model.UnitFilters, error) {
	if f.BloodType != "" {
		bt, ok := model.ParseBloodType(string(f.BloodType))
		if !ok {
			return f, apperrors.InvalidInput("invalid blood type filter " + string(f.BloodType))
		}
		f.BloodType = bt
	}
	if f.Status != "" {
		st, ok := model.ParseUnitStatus(strings.ToLower(string(f.Status)))
		if !ok {
			return f, apperrors.InvalidInput("invalid status filter " + string(f.Status))
		}
		f.Status = st
	}
	if f.CollectedFrom != nil && f.CollectedTo != nil && f.CollectedFrom.After(*f.CollectedTo) {
		return f, apperrors.InvalidInput("collected_from must not be after collected_to")
	}
	return f, nil
}
