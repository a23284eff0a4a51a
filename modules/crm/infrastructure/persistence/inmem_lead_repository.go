package persistence

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/leadloop/leadloop/modules/crm/domain/aggregates/lead"
	"github.com/leadloop/leadloop/pkg/composables"
)

type InmemLeadRepository struct {
	storage *SafeMap[uuid.UUID, lead.Lead]
}

func NewInmemLeadRepository() *InmemLeadRepository {
	return &InmemLeadRepository{
		storage: NewSafeMap[uuid.UUID, lead.Lead](),
	}
}

func (r *InmemLeadRepository) GetByID(ctx context.Context, id uuid.UUID) (lead.Lead, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	l, found := r.storage.Get(id)
	if !found || l.TenantID() != tenantID {
		return nil, lead.ErrLeadNotFound
	}
	return l, nil
}

func (r *InmemLeadRepository) Create(ctx context.Context, l lead.Lead) (lead.Lead, error) {
	return r.Save(ctx, l)
}

func (r *InmemLeadRepository) Save(ctx context.Context, l lead.Lead) (lead.Lead, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	if l.TenantID() != tenantID {
		return nil, errors.New("lead tenant mismatch")
	}
	r.storage.Set(l.ID(), l)
	return l, nil
}

func (r *InmemLeadRepository) ScheduleFollowup(_ context.Context, id uuid.UUID, at time.Time) error {
	var err error
	r.storage.Update(func(m map[uuid.UUID]lead.Lead) {
		l, found := m[id]
		if !found {
			err = lead.ErrLeadNotFound
			return
		}
		m[id] = l.WithNextFollowup(&at)
	})
	return err
}

func (r *InmemLeadRepository) FindStale(_ context.Context, cutoff time.Time, limit int) ([]lead.Lead, error) {
	var stale []lead.Lead
	for _, l := range r.storage.Values() {
		if l.Stage().Terminal() || l.OptedOut() {
			continue
		}
		next := l.NextFollowupAt()
		if next == nil || next.Before(cutoff) {
			stale = append(stale, l)
		}
	}
	sortLeads(stale)
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (r *InmemLeadRepository) CountDue(_ context.Context, now time.Time) (int, error) {
	count := 0
	for _, l := range r.storage.Values() {
		if l.Stage().Terminal() || l.OptedOut() {
			continue
		}
		next := l.NextFollowupAt()
		if next != nil && !next.After(now) {
			count++
		}
	}
	return count, nil
}

func (r *InmemLeadRepository) ClaimDue(_ context.Context, now time.Time, perTenant, limit int) ([]lead.Lead, error) {
	var claimed []lead.Lead
	r.storage.Update(func(m map[uuid.UUID]lead.Lead) {
		var due []lead.Lead
		for _, l := range m {
			if l.Stage().Terminal() || l.OptedOut() {
				continue
			}
			next := l.NextFollowupAt()
			if next == nil || next.After(now) {
				continue
			}
			due = append(due, l)
		}
		sort.Slice(due, func(i, j int) bool {
			a, b := due[i].NextFollowupAt(), due[j].NextFollowupAt()
			if a.Equal(*b) {
				return due[i].ID().String() < due[j].ID().String()
			}
			return a.Before(*b)
		})

		perTenantSeen := make(map[uuid.UUID]int)
		for _, l := range due {
			if len(claimed) >= limit {
				break
			}
			if perTenantSeen[l.TenantID()] >= perTenant {
				continue
			}
			perTenantSeen[l.TenantID()]++
			updated := l.WithNextFollowup(nil)
			m[l.ID()] = updated
			claimed = append(claimed, updated)
		}
	})
	return claimed, nil
}

func sortLeads(leads []lead.Lead) {
	sort.Slice(leads, func(i, j int) bool {
		return leads[i].ID().String() < leads[j].ID().String()
	})
}
