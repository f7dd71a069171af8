package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/principal"
)

type principalRepository struct {
	db *DB
}

var _ principal.Repository = (*principalRepository)(nil) // interface compliance check

func NewPrincipalRepository(db *DB) *principalRepository {
	return &principalRepository{db: db}
}

func (repo *principalRepository) query() []principal.Principal {
	ps := make([]principal.Principal, 0, len(repo.db.principals))
	for _, p := range repo.db.principals {
		ps = append(ps, *p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].CreatedAt.Before(ps[j].CreatedAt) })
	return ps
}

func isExcluded(p principal.Principal, excluded []principal.Principal) bool {
	for _, ex := range excluded {
		if p.ID == ex.ID {
			return true
		}
	}
	return false
}

func (repo *principalRepository) checkEmailUniqueness(email string, excluded ...principal.Principal) error {
	email = strings.ToLower(email)
	for _, p := range repo.db.principals {
		if strings.ToLower(p.Email) == email && !isExcluded(*p, excluded) {
			return principal.ErrEmailExists
		}
	}
	return nil
}

func (repo *principalRepository) CheckEmailUniqueness(_ context.Context, email string, excluded ...principal.Principal) error {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	return repo.checkEmailUniqueness(email, excluded...)
}

func (repo *principalRepository) CreatePrincipal(_ context.Context, p principal.Principal) (principal.Principal, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	// uniqueness check and insert under one lock: concurrent creates for the
	// same email cannot both succeed.
	if err := repo.checkEmailUniqueness(p.Email); err != nil {
		return principal.Principal{}, err
	}
	p.ID = uuid.New().String()
	repo.db.principals[p.ID] = &p
	return p, nil
}

// SeedPrincipal inserts a record bypassing the uniqueness index, simulating
// legacy rows that predate it. Reconciliation tests only.
func (repo *principalRepository) SeedPrincipal(p principal.Principal) principal.Principal {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	repo.db.principals[p.ID] = &p
	return p
}

func (repo *principalRepository) GetPrincipal(_ context.Context, filter principal.GetFilter) (principal.Principal, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if filter.ID != "" {
		if p, ok := repo.db.principals[filter.ID]; ok {
			return *p, nil
		}
		return principal.Principal{}, principal.ErrNotFound
	}
	if filter.Email != "" {
		email := strings.ToLower(filter.Email)
		for _, p := range repo.query() {
			if strings.ToLower(p.Email) == email {
				return p, nil
			}
		}
	}
	return principal.Principal{}, principal.ErrNotFound
}

func (repo *principalRepository) FilterPrincipals(_ context.Context, filter principal.QueryFilter, ordering []core.DBOrdering) ([]principal.Principal, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	ps := repo.query()

	if !filter.AllTenants {
		var filtered []principal.Principal
		for _, p := range ps {
			if p.InstituteID == filter.InstituteID {
				filtered = append(filtered, p)
			}
		}
		ps = filtered
	}

	if filter.Search != "" {
		search := strings.ToLower(filter.Search)
		var filtered []principal.Principal
		for _, p := range ps {
			if strings.Contains(strings.ToLower(p.Name), search) || strings.Contains(strings.ToLower(p.Email), search) {
				filtered = append(filtered, p)
			}
		}
		ps = filtered
	}

	if len(filter.Roles) > 0 {
		var filtered []principal.Principal
		for _, p := range ps {
			for _, role := range filter.Roles {
				if p.Role == role {
					filtered = append(filtered, p)
					break
				}
			}
		}
		ps = filtered
	}

	if filter.IsActive != nil {
		var filtered []principal.Principal
		for _, p := range ps {
			if p.Active() == *filter.IsActive {
				filtered = append(filtered, p)
			}
		}
		ps = filtered
	}

	if !filter.CreatedFrom.IsZero() {
		var filtered []principal.Principal
		for _, p := range ps {
			if !p.CreatedAt.Before(filter.CreatedFrom) {
				filtered = append(filtered, p)
			}
		}
		ps = filtered
	}
	if !filter.CreatedTo.IsZero() {
		var filtered []principal.Principal
		for _, p := range ps {
			if !p.CreatedAt.After(filter.CreatedTo) {
				filtered = append(filtered, p)
			}
		}
		ps = filtered
	}

	applyOrdering(ps, ordering)
	return ps, nil
}

func applyOrdering(ps []principal.Principal, ordering []core.DBOrdering) {
	if len(ordering) == 0 {
		return
	}
	ord := ordering[0]
	sort.SliceStable(ps, func(i, j int) bool {
		var less bool
		switch ord.Field {
		case "name":
			less = ps[i].Name < ps[j].Name
		case "email":
			less = ps[i].Email < ps[j].Email
		default: // created_at
			less = ps[i].CreatedAt.Before(ps[j].CreatedAt)
		}
		if !ord.Ascending {
			return !less
		}
		return less
	})
}

func (repo *principalRepository) UpdatePrincipal(_ context.Context, p principal.Principal, isActive *bool) (principal.Principal, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	orig, ok := repo.db.principals[p.ID]
	if !ok {
		return principal.Principal{}, principal.ErrNotFound
	}

	if p.Name != "" {
		orig.Name = p.Name
	}
	if p.Email != "" {
		orig.Email = p.Email
	}
	if p.Role != "" {
		orig.Role = p.Role
	}
	if p.Relations != nil {
		orig.Relations = p.Relations
	}
	if p.PasswordHash != nil {
		orig.PasswordHash = p.PasswordHash
	}
	if !p.UpdatedAt.IsZero() {
		orig.UpdatedAt = p.UpdatedAt
	}
	if !p.LastLogin.IsZero() {
		orig.LastLogin = p.LastLogin
	}
	if isActive != nil {
		orig.SetActive(*isActive)
	}
	return *orig, nil
}

func (repo *principalRepository) DeletePrincipalsByID(_ context.Context, ids ...string) (int, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	var cnt int
	for _, id := range ids {
		if _, ok := repo.db.principals[id]; ok {
			delete(repo.db.principals, id)
			cnt++
		}
	}

	// cascade: drop deleted IDs from remaining relation lists
	deleted := make(map[string]bool, len(ids))
	for _, id := range ids {
		deleted[id] = true
	}
	for _, p := range repo.db.principals {
		if p.Relations == nil {
			continue
		}
		kept := p.Relations[:0]
		for _, rel := range p.Relations {
			if !deleted[rel] {
				kept = append(kept, rel)
			}
		}
		p.Relations = kept
	}
	return cnt, nil
}

// reconciliation support

func (repo *principalRepository) FindOrphanPrincipals(_ context.Context) ([]principal.Principal, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var orphans []principal.Principal
	for _, p := range repo.query() {
		if !p.Linked() && !p.IsSuperAdmin() {
			orphans = append(orphans, p)
		}
	}
	return orphans, nil
}

func (repo *principalRepository) FindEmailConflicts(_ context.Context) ([]principal.EmailConflict, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	groups := make(map[string][]principal.Principal)
	for _, p := range repo.query() {
		email := strings.ToLower(p.Email)
		groups[email] = append(groups[email], p)
	}

	emails := make([]string, 0, len(groups))
	for email, group := range groups {
		if len(group) > 1 {
			emails = append(emails, email)
		}
	}
	sort.Strings(emails)

	conflicts := make([]principal.EmailConflict, 0, len(emails))
	for _, email := range emails {
		conflicts = append(conflicts, principal.EmailConflict{Email: email, Principals: groups[email]})
	}
	return conflicts, nil
}

func (repo *principalRepository) GetPrincipalsByEmail(_ context.Context, email string) ([]principal.Principal, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	email = strings.ToLower(email)
	var group []principal.Principal
	for _, p := range repo.query() {
		if strings.ToLower(p.Email) == email {
			group = append(group, p)
		}
	}
	return group, nil
}

func (repo *principalRepository) RelinkPrincipalInstitute(_ context.Context, id, instituteID, prevInstituteID string) (bool, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	p, ok := repo.db.principals[id]
	if !ok {
		return false, nil
	}
	if p.InstituteID != prevInstituteID {
		return false, nil // concurrent change; caller re-reads
	}
	p.InstituteID = instituteID
	return true, nil
}
