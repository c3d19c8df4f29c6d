// Package memory provides in-process implementations of the repository interfaces. They
// back local runs without Postgres or Scylla and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-campaign-core/internal/domain"
	"github.com/acme/voice-campaign-core/internal/repository"
)

// Store holds every table behind one lock so counter updates stay transactional.
type Store struct {
	mu           sync.Mutex
	campaigns    map[uuid.UUID]*domain.Campaign
	recipients   map[uuid.UUID]*domain.Recipient
	agents       map[uuid.UUID]*domain.Agent
	phoneNumbers map[uuid.UUID]*domain.PhoneNumber
	integrations map[string]*domain.Integration
	attempts     map[uuid.UUID][]domain.DispatchAttempt
}

// New returns an empty store.
func New() *Store {
	return &Store{
		campaigns:    make(map[uuid.UUID]*domain.Campaign),
		recipients:   make(map[uuid.UUID]*domain.Recipient),
		agents:       make(map[uuid.UUID]*domain.Agent),
		phoneNumbers: make(map[uuid.UUID]*domain.PhoneNumber),
		integrations: make(map[string]*domain.Integration),
		attempts:     make(map[uuid.UUID][]domain.DispatchAttempt),
	}
}

// Campaigns returns the campaign repository view.
func (s *Store) Campaigns() *Campaigns { return &Campaigns{s: s} }

// Recipients returns the recipient repository view.
func (s *Store) Recipients() *Recipients { return &Recipients{s: s} }

// Directory returns the agent directory view.
func (s *Store) Directory() *Directory { return &Directory{s: s} }

// Attempts returns the attempt log view.
func (s *Store) Attempts() *Attempts { return &Attempts{s: s} }

// PutAgent seeds an agent.
func (s *Store) PutAgent(a *domain.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.agents[a.ID] = &cp
}

// PutPhoneNumber seeds a phone number record.
func (s *Store) PutPhoneNumber(p *domain.PhoneNumber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.phoneNumbers[p.ID] = &cp
}

// PutIntegration seeds a workspace integration.
func (s *Store) PutIntegration(i *domain.Integration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *i
	s.integrations[integrationKey(i.WorkspaceID, i.Provider)] = &cp
}

func integrationKey(workspaceID uuid.UUID, provider domain.Provider) string {
	return workspaceID.String() + "/" + string(provider)
}

func (s *Store) applyCounters(id uuid.UUID, d repository.CounterDelta) {
	c, ok := s.campaigns[id]
	if !ok {
		return
	}
	clamp := func(v int64) int64 {
		if v < 0 {
			return 0
		}
		return v
	}
	c.Counters.TotalRecipients = clamp(c.Counters.TotalRecipients + d.TotalRecipients)
	c.Counters.PendingCalls = clamp(c.Counters.PendingCalls + d.PendingCalls)
	c.Counters.CompletedCalls = clamp(c.Counters.CompletedCalls + d.CompletedCalls)
	c.Counters.SuccessfulCalls = clamp(c.Counters.SuccessfulCalls + d.SuccessfulCalls)
	c.Counters.FailedCalls = clamp(c.Counters.FailedCalls + d.FailedCalls)
}

func cloneCampaign(c *domain.Campaign) *domain.Campaign {
	cp := *c
	return &cp
}

func cloneRecipient(r *domain.Recipient) *domain.Recipient {
	cp := *r
	cp.Variables = make(map[string]string, len(r.Variables))
	for k, v := range r.Variables {
		cp.Variables[k] = v
	}
	return &cp
}

// Campaigns implements repository.CampaignRepository.
type Campaigns struct{ s *Store }

var _ repository.CampaignRepository = (*Campaigns)(nil)

func (r *Campaigns) Create(_ context.Context, c *domain.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.campaigns[c.ID]; ok {
		return fmt.Errorf("%w: campaign %s already exists", repository.ErrConflict, c.ID)
	}
	r.s.campaigns[c.ID] = cloneCampaign(c)
	return nil
}

func (r *Campaigns) Get(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok || c.DeletedAt != nil {
		return nil, fmt.Errorf("%w: campaign %s", repository.ErrNotFound, id)
	}
	return cloneCampaign(c), nil
}

func (r *Campaigns) Update(_ context.Context, c *domain.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.campaigns[c.ID]
	if !ok || cur.DeletedAt != nil {
		return fmt.Errorf("%w: campaign %s", repository.ErrNotFound, c.ID)
	}
	next := cloneCampaign(c)
	// status and counters only move through their dedicated operations
	next.Status = cur.Status
	next.Counters = cur.Counters
	next.StartedAt, next.CompletedAt = cur.StartedAt, cur.CompletedAt
	r.s.campaigns[c.ID] = next
	return nil
}

func (r *Campaigns) TransitionStatus(_ context.Context, t repository.StatusTransition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[t.ID]
	if !ok || c.DeletedAt != nil || !containsStatus(t.From, c.Status) {
		return fmt.Errorf("%w: campaign %s is no longer in an expected status", repository.ErrConflict, t.ID)
	}
	c.Status = t.To
	c.UpdatedAt = t.At
	if t.To == domain.CampaignStatusActive && c.StartedAt == nil {
		at := t.At
		c.StartedAt = &at
	}
	if t.To.Terminal() {
		at := t.At
		c.CompletedAt = &at
	}
	if t.ScheduledStartAt != nil {
		at := *t.ScheduledStartAt
		c.ScheduledStartAt = &at
	}
	return nil
}

func (r *Campaigns) CompleteIfDrained(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok || c.DeletedAt != nil || c.Status != domain.CampaignStatusActive {
		return false, nil
	}
	for _, rc := range r.s.recipients {
		if rc.CampaignID == id && !rc.Status.Terminal() {
			return false, nil
		}
	}
	c.Status = domain.CampaignStatusCompleted
	c.CompletedAt = &at
	c.UpdatedAt = at
	return true, nil
}

func (r *Campaigns) ApplyCounters(_ context.Context, id uuid.UUID, delta repository.CounterDelta) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.applyCounters(id, delta)
	return nil
}

func (r *Campaigns) SoftDelete(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok || c.DeletedAt != nil || c.Status == domain.CampaignStatusActive {
		return fmt.Errorf("%w: campaign %s cannot be deleted while active", repository.ErrConflict, id)
	}
	c.DeletedAt = &at
	c.UpdatedAt = at
	return nil
}

func (r *Campaigns) List(_ context.Context, f repository.CampaignFilter) ([]*domain.Campaign, error) {
	out := r.filter(func(c *domain.Campaign) bool {
		if f.WorkspaceID != nil && c.WorkspaceID != *f.WorkspaceID {
			return false
		}
		return f.Status == "" || c.Status == f.Status
	}, func(a, b *domain.Campaign) bool { return a.CreatedAt.After(b.CreatedAt) })
	return page(out, f.Limit, f.Offset), nil
}

func (r *Campaigns) ListByStatus(_ context.Context, statuses []domain.CampaignStatus, limit int) ([]*domain.Campaign, error) {
	out := r.filter(func(c *domain.Campaign) bool { return containsStatus(statuses, c.Status) },
		func(a, b *domain.Campaign) bool { return a.UpdatedAt.Before(b.UpdatedAt) })
	return page(out, limit, 0), nil
}

func (r *Campaigns) ListDue(_ context.Context, now time.Time, limit int) ([]*domain.Campaign, error) {
	out := r.filter(func(c *domain.Campaign) bool {
		return (c.Status == domain.CampaignStatusScheduled || c.Status == domain.CampaignStatusReady) &&
			c.ScheduledStartAt != nil && !c.ScheduledStartAt.After(now)
	}, func(a, b *domain.Campaign) bool { return a.ScheduledStartAt.Before(*b.ScheduledStartAt) })
	return page(out, limit, 0), nil
}

func (r *Campaigns) ListExpiredDrafts(_ context.Context, now time.Time, limit int) ([]*domain.Campaign, error) {
	out := r.filter(func(c *domain.Campaign) bool {
		return c.Status == domain.CampaignStatusDraft && c.ScheduledExpiresAt != nil && c.ScheduledExpiresAt.Before(now)
	}, func(a, b *domain.Campaign) bool { return a.ScheduledExpiresAt.Before(*b.ScheduledExpiresAt) })
	return page(out, limit, 0), nil
}

func (r *Campaigns) ListAbandonedDrafts(_ context.Context, createdBefore time.Time, limit int) ([]*domain.Campaign, error) {
	out := r.filter(func(c *domain.Campaign) bool {
		return c.Status == domain.CampaignStatusDraft && c.Counters.TotalRecipients == 0 && c.CreatedAt.Before(createdBefore)
	}, func(a, b *domain.Campaign) bool { return a.CreatedAt.Before(b.CreatedAt) })
	return page(out, limit, 0), nil
}

func (r *Campaigns) filter(keep func(*domain.Campaign) bool, less func(a, b *domain.Campaign) bool) []*domain.Campaign {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Campaign
	for _, c := range r.s.campaigns {
		if c.DeletedAt == nil && keep(c) {
			out = append(out, cloneCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// Recipients implements repository.RecipientRepository.
type Recipients struct{ s *Store }

var _ repository.RecipientRepository = (*Recipients)(nil)

func (r *Recipients) InsertBatch(_ context.Context, campaignID uuid.UUID, batch []*domain.Recipient) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var inserted int64
	for _, rc := range batch {
		if r.phoneTaken(campaignID, rc.PhoneNumber) {
			continue
		}
		cp := cloneRecipient(rc)
		cp.CampaignID = campaignID
		r.s.recipients[cp.ID] = cp
		inserted++
	}
	r.s.applyCounters(campaignID, repository.CounterDelta{TotalRecipients: inserted, PendingCalls: inserted})
	return inserted, nil
}

func (r *Recipients) Insert(_ context.Context, rc *domain.Recipient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.phoneTaken(rc.CampaignID, rc.PhoneNumber) {
		return fmt.Errorf("%w: phone number %s already exists on this campaign", repository.ErrConflict, rc.PhoneNumber)
	}
	r.s.recipients[rc.ID] = cloneRecipient(rc)
	r.s.applyCounters(rc.CampaignID, repository.CounterDelta{TotalRecipients: 1, PendingCalls: 1})
	return nil
}

func (r *Recipients) Get(_ context.Context, campaignID, id uuid.UUID) (*domain.Recipient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rc, ok := r.s.recipients[id]
	if !ok || rc.CampaignID != campaignID {
		return nil, fmt.Errorf("%w: recipient %s", repository.ErrNotFound, id)
	}
	return cloneRecipient(rc), nil
}

func (r *Recipients) Delete(_ context.Context, campaignID, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rc, ok := r.s.recipients[id]
	if !ok || rc.CampaignID != campaignID {
		return fmt.Errorf("%w: recipient %s", repository.ErrNotFound, id)
	}
	delete(r.s.recipients, id)
	r.s.applyCounters(campaignID, repository.RemovalDelta(rc.Status, rc.Successful))
	return nil
}

func (r *Recipients) DeleteAll(_ context.Context, campaignID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var removed int64
	var delta repository.CounterDelta
	for id, rc := range r.s.recipients {
		if rc.CampaignID != campaignID {
			continue
		}
		delete(r.s.recipients, id)
		delta = delta.Add(repository.RemovalDelta(rc.Status, rc.Successful))
		removed++
	}
	r.s.applyCounters(campaignID, delta)
	return removed, nil
}

func (r *Recipients) List(_ context.Context, campaignID uuid.UUID, f repository.RecipientFilter) ([]*domain.Recipient, error) {
	out := r.filter(func(rc *domain.Recipient) bool {
		return rc.CampaignID == campaignID && (f.Status == "" || rc.Status == f.Status)
	})
	return page(out, f.Limit, f.Offset), nil
}

func (r *Recipients) ListPending(_ context.Context, campaignID uuid.UUID, limit int) ([]*domain.Recipient, error) {
	out := r.filter(func(rc *domain.Recipient) bool {
		return rc.CampaignID == campaignID && rc.Status == domain.RecipientStatusPending
	})
	return page(out, limit, 0), nil
}

func (r *Recipients) CountByStatus(_ context.Context, campaignID uuid.UUID, statuses ...domain.RecipientStatus) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, rc := range r.s.recipients {
		if rc.CampaignID != campaignID {
			continue
		}
		for _, st := range statuses {
			if rc.Status == st {
				n++
				break
			}
		}
	}
	return n, nil
}

func (r *Recipients) ListStuckCalling(_ context.Context, updatedBefore time.Time, limit int) ([]*domain.Recipient, error) {
	out := r.filter(func(rc *domain.Recipient) bool {
		return rc.Status == domain.RecipientStatusCalling && rc.UpdatedAt.Before(updatedBefore)
	})
	return page(out, limit, 0), nil
}

func (r *Recipients) ApplyStatus(_ context.Context, u repository.RecipientStatusUpdate) (repository.StatusChange, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rc, ok := r.s.recipients[u.RecipientID]
	if !ok || rc.CampaignID != u.CampaignID {
		return repository.StatusChange{}, repository.ErrNotFound
	}

	change := repository.StatusChange{From: rc.Status, To: u.Status}
	if domain.AttachesCall(rc.Status, rc.VendorCallID, u.Status, u.VendorCallID) {
		rc.VendorCallID = u.VendorCallID
		rc.UpdatedAt = u.At
		change.Applied = true
		return change, nil
	}
	if !forward(rc.Status, u.Status) {
		return change, nil
	}
	rc.Status = u.Status
	rc.Successful = u.Successful
	if u.VendorCallID != "" {
		rc.VendorCallID = u.VendorCallID
	}
	if u.Error != "" {
		rc.LastError = u.Error
	}
	if u.Status == domain.RecipientStatusCalling {
		rc.Attempts++
	}
	rc.UpdatedAt = u.At

	change.Applied = true
	change.Delta = repository.TransitionDelta(change.From, u.Status, u.Successful)
	r.s.applyCounters(u.CampaignID, change.Delta)
	return change, nil
}

// phoneTaken must be called with the lock held.
func (r *Recipients) phoneTaken(campaignID uuid.UUID, phone string) bool {
	for _, rc := range r.s.recipients {
		if rc.CampaignID == campaignID && rc.PhoneNumber == phone {
			return true
		}
	}
	return false
}

func (r *Recipients) filter(keep func(*domain.Recipient) bool) []*domain.Recipient {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Recipient
	for _, rc := range r.s.recipients {
		if keep(rc) {
			out = append(out, cloneRecipient(rc))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].PhoneNumber < out[j].PhoneNumber
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Directory implements repository.AgentDirectory.
type Directory struct{ s *Store }

var _ repository.AgentDirectory = (*Directory)(nil)

func (d *Directory) GetAgent(_ context.Context, id uuid.UUID) (*domain.Agent, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	a, ok := d.s.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: agent %s", repository.ErrNotFound, id)
	}
	cp := *a
	return &cp, nil
}

func (d *Directory) GetPhoneNumber(_ context.Context, id uuid.UUID) (*domain.PhoneNumber, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	p, ok := d.s.phoneNumbers[id]
	if !ok {
		return nil, fmt.Errorf("%w: phone number %s", repository.ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (d *Directory) GetIntegration(_ context.Context, workspaceID uuid.UUID, provider domain.Provider) (*domain.Integration, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	i, ok := d.s.integrations[integrationKey(workspaceID, provider)]
	if !ok {
		return nil, fmt.Errorf("%w: integration %s for workspace %s", repository.ErrNotFound, provider, workspaceID)
	}
	cp := *i
	return &cp, nil
}

// Attempts implements repository.AttemptLog. The paging state is the decimal offset.
type Attempts struct{ s *Store }

var _ repository.AttemptLog = (*Attempts)(nil)

func (a *Attempts) Append(_ context.Context, attempt domain.DispatchAttempt) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.attempts[attempt.CampaignID] = append(a.s.attempts[attempt.CampaignID], attempt)
	return nil
}

func (a *Attempts) List(_ context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.DispatchAttempt, []byte, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	all := a.s.attempts[campaignID]
	offset := 0
	if len(pagingState) > 0 {
		if _, err := fmt.Sscanf(string(pagingState), "%d", &offset); err != nil {
			return nil, nil, fmt.Errorf("attempts: bad paging state: %w", err)
		}
	}
	if limit <= 0 {
		limit = 50
	}
	// newest first
	var out []domain.DispatchAttempt
	for i := len(all) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	var next []byte
	if offset+len(out) < len(all) {
		next = []byte(fmt.Sprintf("%d", offset+len(out)))
	}
	return out, next, nil
}

func containsStatus(list []domain.CampaignStatus, s domain.CampaignStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func forward(from, to domain.RecipientStatus) bool {
	for _, s := range domain.PredecessorsOf(to) {
		if s == from {
			return true
		}
	}
	return false
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
