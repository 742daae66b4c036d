// Package memory is an in-process implementation of the repository
// interfaces. Each transaction works on a clone of the state and the clone
// replaces the live state only when the callback succeeds.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/internal/repository"
)

// ErrAuditUnavailable is returned by AppendAudit while audit failure is
// injected.
var ErrAuditUnavailable = errors.New("audit store unavailable")

type mintKey struct {
	bloodType model.BloodType
	date      time.Time
}

type state struct {
	donors        map[uuid.UUID]*model.Donor
	units         map[string]*model.Unit
	sequences     map[mintKey]int
	nextID        int64
	audit         []*model.AuditEntry
	activity      []*model.AdminActivity
	issuances     []*model.IssuanceRecord
	outbox        []*model.OutboxEvent
	notifications []*model.Notification
}

func newState() state {
	return state{
		donors: make(map[uuid.UUID]*model.Donor),
		units:     make(map[string]*model.Unit),
		sequences: make(map[mintKey]int),
	}
}

// clone copies everything a transaction may mutate. Audit, activity and
// issuance rows are append-only, so sharing the pointers is safe.
func (s state) clone() state {
	c := state{
		donors:        make(map[uuid.UUID]*model.Donor, len(s.donors)),
		units:         make(map[string]*model.Unit, len(s.units)),
		sequences:     make(map[mintKey]int, len(s.sequences)),
		nextID:        s.nextID,
		audit:         append([]*model.AuditEntry(nil), s.audit...),
		activity:      append([]*model.AdminActivity(nil), s.activity...),
		issuances:     append([]*model.IssuanceRecord(nil), s.issuances...),
		outbox:        make([]*model.OutboxEvent, len(s.outbox)),
		notifications: append([]*model.Notification(nil), s.notifications...),
	}
	for id, d := range s.donors {
		dc := *d
		c.donors[id] = &dc
	}
	for id, u := range s.units {
		c.units[id] = u.Clone()
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	for i, e := range s.outbox {
		ec := *e
		c.outbox[i] = &ec
	}
	return c
}

// Store satisfies every repository interface of the service.
type Store struct {
	mu    sync.RWMutex
	state state

	failAudit        bool
	duplicateInserts int
}

func NewStore() *Store {
	return &Store{state: newState()}
}

// FailAudit makes every AppendAudit call fail until switched off.
func (s *Store) FailAudit(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAudit = fail
}

// RejectNextInserts makes the next n unit inserts fail with
// repository.ErrDuplicate, simulating a lost minting race.
func (s *Store) RejectNextInserts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duplicateInserts = n
}

func (s *Store) Ping(context.Context) error { return nil }

// WithTx serializes transactions on the store mutex.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, repository.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &ledgerTx{store: s, state: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *Store) view(fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&s.state)
}

type ledgerTx struct {
	store *Store
	state state
}

func (t *ledgerTx) GetEligibleDonor(_ context.Context, id uuid.UUID) (*model.Donor, error) {
	d, ok := t.state.donors[id]
	if !ok || d.IsSynthetic {
		return nil, repository.ErrNotFound
	}
	dc := *d
	return &dc, nil
}

// LockMintKey is a no-op: the store mutex already serializes transactions.
func (t *ledgerTx) LockMintKey(context.Context, model.BloodType, time.Time) error {
	return nil
}

// NextSequence advances the per-(type, date) counter. Deleting a unit never
// lowers it, so a unit id is never minted twice.
func (t *ledgerTx) NextSequence(_ context.Context, bt model.BloodType, date time.Time) (int, error) {
	key := mintKey{bloodType: bt, date: model.DateOf(date)}
	highest := t.state.sequences[key]
	for _, u := range t.state.units {
		if u.BloodType == bt && u.CollectionDate.Equal(key.date) && u.SequenceNo > highest {
			highest = u.SequenceNo
		}
	}
	t.state.sequences[key] = highest + 1
	return highest + 1, nil
}

func (t *ledgerTx) InsertUnit(_ context.Context, u *model.Unit) error {
	if t.store.duplicateInserts > 0 {
		t.store.duplicateInserts--
		return repository.ErrDuplicate
	}
	if _, exists := t.state.units[u.UnitID]; exists {
		return repository.ErrDuplicate
	}
	t.state.nextID++
	u.ID = t.state.nextID
	t.state.units[u.UnitID] = u.Clone()
	return nil
}

func (t *ledgerTx) GetUnitForUpdate(_ context.Context, unitID string) (*model.Unit, error) {
	u, ok := t.state.units[unitID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u.Clone(), nil
}

func (t *ledgerTx) NextAvailableForUpdate(_ context.Context, bt model.BloodType) (*model.Unit, error) {
	var best *model.Unit
	for _, u := range t.state.units {
		if u.BloodType != bt || u.Status != model.UnitStatusAvailable {
			continue
		}
		if best == nil || fifoBefore(u, best) {
			best = u
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	return best.Clone(), nil
}

func fifoBefore(a, b *model.Unit) bool {
	if !a.CollectionDate.Equal(b.CollectionDate) {
		return a.CollectionDate.Before(b.CollectionDate)
	}
	return a.ID < b.ID
}

func (t *ledgerTx) UpdateUnit(_ context.Context, u *model.Unit) error {
	if _, ok := t.state.units[u.UnitID]; !ok {
		return repository.ErrNotFound
	}
	t.state.units[u.UnitID] = u.Clone()
	return nil
}

func (t *ledgerTx) DeleteUnit(_ context.Context, unitID string) error {
	if _, ok := t.state.units[unitID]; !ok {
		return repository.ErrNotFound
	}
	delete(t.state.units, unitID)
	return nil
}

func (t *ledgerTx) ListExpirableForUpdate(_ context.Context, today time.Time) ([]*model.Unit, error) {
	today = model.DateOf(today)
	var units []*model.Unit
	for _, u := range t.state.units {
		if (u.Status == model.UnitStatusAvailable || u.Status == model.UnitStatusQuarantined) &&
			u.ExpiryDate.Before(today) {
			units = append(units, u.Clone())
		}
	}
	sort.Slice(units, func(i, j int) bool {
		if !units[i].ExpiryDate.Equal(units[j].ExpiryDate) {
			return units[i].ExpiryDate.Before(units[j].ExpiryDate)
		}
		return units[i].ID < units[j].ID
	})
	return units, nil
}

func (t *ledgerTx) CountAvailable(_ context.Context, bt model.BloodType) (int, error) {
	n := 0
	for _, u := range t.state.units {
		if u.BloodType == bt && u.Status == model.UnitStatusAvailable {
			n++
		}
	}
	return n, nil
}

func (t *ledgerTx) InsertIssuance(_ context.Context, rec *model.IssuanceRecord) error {
	for _, r := range t.state.issuances {
		if r.UnitID == rec.UnitID {
			return repository.ErrDuplicate
		}
	}
	rc := *rec
	t.state.issuances = append(t.state.issuances, &rc)
	return nil
}

func (t *ledgerTx) InsertOutboxEvent(_ context.Context, event *model.OutboxEvent) error {
	ec := *event
	t.state.outbox = append(t.state.outbox, &ec)
	return nil
}

func (t *ledgerTx) AppendAudit(_ context.Context, entry *model.AuditEntry, mirror *model.AdminActivity) error {
	if t.store.failAudit {
		return ErrAuditUnavailable
	}
	ec := *entry
	t.state.audit = append(t.state.audit, &ec)
	if mirror != nil {
		mc := *mirror
		t.state.activity = append(t.state.activity, &mc)
	}
	return nil
}

func (s *Store) CreateDonor(_ context.Context, d *model.Donor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.donors[d.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, existing := range s.state.donors {
		if existing.ReferenceCode == d.ReferenceCode {
			return repository.ErrDuplicate
		}
	}
	dc := *d
	s.state.donors[d.ID] = &dc
	return nil
}

func (s *Store) GetDonor(_ context.Context, id uuid.UUID) (*model.Donor, error) {
	var (
		out *model.Donor
		err error
	)
	s.view(func(st *state) {
		d, ok := st.donors[id]
		if !ok {
			err = repository.ErrNotFound
			return
		}
		dc := *d
		out = &dc
	})
	return out, err
}

func (st *state) row(u *model.Unit) *model.UnitRow {
	row := &model.UnitRow{Unit: *u.Clone()}
	if d, ok := st.donors[u.DonorID]; ok {
		row.DonorReference = d.ReferenceCode
		row.DonorName = d.FullName()
		row.DonorEmail = d.Email
		row.DonorPhone = d.Phone
		row.DonorSynthetic = d.IsSynthetic
	}
	return row
}

// matches mirrors the WHERE clause of the postgres report queries.
func matches(row *model.UnitRow, f model.UnitFilters) bool {
	if !f.IncludeSynthetic && row.DonorSynthetic {
		return false
	}
	if f.BloodType != "" && row.BloodType != f.BloodType {
		return false
	}
	if f.Status != "" && row.Status != f.Status {
		return false
	}
	if f.CollectedFrom != nil && row.CollectionDate.Before(model.DateOf(*f.CollectedFrom)) {
		return false
	}
	if f.CollectedTo != nil && row.CollectionDate.After(model.DateOf(*f.CollectedTo)) {
		return false
	}
	if s := strings.ToLower(strings.TrimSpace(f.Search)); s != "" {
		if !strings.Contains(strings.ToLower(row.UnitID), s) &&
			!strings.Contains(strings.ToLower(row.DonorName), s) &&
			!strings.Contains(strings.ToLower(row.DonorReference), s) {
			return false
		}
	}
	return true
}

func (s *Store) filtered(f model.UnitFilters) []*model.UnitRow {
	var rows []*model.UnitRow
	s.view(func(st *state) {
		for _, u := range st.units {
			if row := st.row(u); matches(row, f) {
				rows = append(rows, row)
			}
		}
	})
	return rows
}

func compareBy(field string, a, b *model.UnitRow) int {
	switch field {
	case model.SortUnitID:
		return strings.Compare(a.UnitID, b.UnitID)
	case model.SortBloodType:
		return strings.Compare(string(a.BloodType), string(b.BloodType))
	case model.SortCollectionDate:
		return a.CollectionDate.Compare(b.CollectionDate)
	case model.SortExpiryDate:
		return a.ExpiryDate.Compare(b.ExpiryDate)
	case model.SortStatus:
		return a.Status.Priority() - b.Status.Priority()
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func sortRows(rows []*model.UnitRow, q model.UnitQuery) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if q.SortField == "" {
			if pa, pb := a.Status.Priority(), b.Status.Priority(); pa != pb {
				return pa < pb
			}
			if !a.CollectionDate.Equal(b.CollectionDate) {
				return a.CollectionDate.Before(b.CollectionDate)
			}
			return a.ID < b.ID
		}
		c := compareBy(q.SortField, a, b)
		if c == 0 {
			c = int(a.ID - b.ID)
		}
		if q.SortOrder == "ASC" {
			return c < 0
		}
		return c > 0
	})
}

func (s *Store) ListUnits(_ context.Context, q model.UnitQuery) ([]*model.UnitRow, error) {
	q = q.Normalize()
	rows := s.filtered(q.Filters)
	sortRows(rows, q)

	start := q.Offset()
	if start >= len(rows) {
		return []*model.UnitRow{}, nil
	}
	end := start + q.PageSize
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end], nil
}

func (s *Store) CountUnits(_ context.Context, f model.UnitFilters) (int64, error) {
	return int64(len(s.filtered(f))), nil
}

func (s *Store) GetUnit(_ context.Context, unitID string) (*model.UnitRow, error) {
	var row *model.UnitRow
	s.view(func(st *state) {
		if u, ok := st.units[unitID]; ok {
			row = st.row(u)
		}
	})
	if row == nil {
		return nil, repository.ErrNotFound
	}
	return row, nil
}

func (s *Store) StatusCounts(context.Context) ([]model.StatusCount, error) {
	type key struct {
		bt     model.BloodType
		status model.UnitStatus
	}
	counts := make(map[key]int)
	s.view(func(st *state) {
		for _, u := range st.units {
			if d, ok := st.donors[u.DonorID]; ok && d.IsSynthetic {
				continue
			}
			counts[key{u.BloodType, u.Status}]++
		}
	})

	out := make([]model.StatusCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, model.StatusCount{BloodType: k.bt, Status: k.status, Count: n})
	}
	return out, nil
}

func (s *Store) CountExpiringBetween(_ context.Context, from, to time.Time) (int, error) {
	from, to = model.DateOf(from), model.DateOf(to)
	n := 0
	s.view(func(st *state) {
		for _, u := range st.units {
			if d, ok := st.donors[u.DonorID]; ok && d.IsSynthetic {
				continue
			}
			if u.Status == model.UnitStatusAvailable &&
				!u.ExpiryDate.Before(from) && !u.ExpiryDate.After(to) {
				n++
			}
		}
	})
	return n, nil
}

func (s *Store) ListIssuances(_ context.Context, unitID string) ([]*model.IssuanceRecord, error) {
	var out []*model.IssuanceRecord
	s.view(func(st *state) {
		for i := len(st.issuances) - 1; i >= 0; i-- {
			if r := st.issuances[i]; r.UnitID == unitID {
				rc := *r
				out = append(out, &rc)
			}
		}
	})
	return out, nil
}

// ListAudit returns entries newest first. Entries are appended in commit
// order, so walking backwards is enough.
func (s *Store) ListAudit(_ context.Context, f model.AuditFilter) ([]*model.AuditEntry, error) {
	f = f.Normalize()
	out := []*model.AuditEntry{}
	s.view(func(st *state) {
		for i := len(st.audit) - 1; i >= 0 && len(out) < f.Limit; i-- {
			if e := st.audit[i]; f.UnitID == "" || e.UnitID == f.UnitID {
				ec := *e
				out = append(out, &ec)
			}
		}
	})
	return out, nil
}

// AdminActivity returns the mirror rows in insertion order.
func (s *Store) AdminActivity() []*model.AdminActivity {
	var out []*model.AdminActivity
	s.view(func(st *state) {
		out = append(out, st.activity...)
	})
	return out
}

// OutboxEvents returns a copy of every outbox event in insertion order.
func (s *Store) OutboxEvents() []*model.OutboxEvent {
	var out []*model.OutboxEvent
	s.view(func(st *state) {
		for _, e := range st.outbox {
			ec := *e
			out = append(out, &ec)
		}
	})
	return out
}

func (s *Store) Notifications() []*model.Notification {
	var out []*model.Notification
	s.view(func(st *state) {
		out = append(out, st.notifications...)
	})
	return out
}

func (s *Store) ClaimPending(
	ctx context.Context,
	limit, maxAttempts int,
	handle func(context.Context, *model.OutboxEvent) error,
) (processed int, failed int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, evt := range s.state.outbox {
		if processed+failed >= limit {
			break
		}
		if evt.Status != model.OutboxStatusPending {
			continue
		}
		if herr := handle(ctx, evt); herr != nil {
			msg := herr.Error()
			evt.ErrorMessage = &msg
			evt.RetryCount++
			if evt.RetryCount >= maxAttempts {
				evt.Status = model.OutboxStatusFailed
			}
			evt.UpdatedAt = now
			failed++
			continue
		}
		evt.Status = model.OutboxStatusProcessed
		evt.ErrorMessage = nil
		evt.ProcessedAt = &now
		evt.UpdatedAt = now
		processed++
	}
	return processed, failed, nil
}

func (s *Store) PurgeProcessed(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.state.outbox[:0]
	var purged int64
	for _, evt := range s.state.outbox {
		if evt.Status == model.OutboxStatusProcessed && evt.ProcessedAt != nil && evt.ProcessedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, evt)
	}
	s.state.outbox = kept
	return purged, nil
}

func (s *Store) CreateNotification(_ context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	nc := *n
	s.state.notifications = append(s.state.notifications, &nc)
	return nil
}

var (
	_ repository.LedgerRepository       = (*Store)(nil)
	_ repository.ReportRepository       = (*Store)(nil)
	_ repository.AuditRepository        = (*Store)(nil)
	_ repository.DonorRepository        = (*Store)(nil)
	_ repository.OutboxRepository       = (*Store)(nil)
	_ repository.NotificationRepository = (*Store)(nil)
	_ repository.HealthChecker          = (*Store)(nil)
)
