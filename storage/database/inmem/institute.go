package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/darasahq/darasa/core/institute"
	"github.com/darasahq/darasa/core/principal"
)

type instituteRepository struct {
	db *DB
}

var _ institute.Repository = (*instituteRepository)(nil) // interface compliance check

func NewInstituteRepository(db *DB) *instituteRepository {
	return &instituteRepository{db: db}
}

func (repo *instituteRepository) query() []institute.Institute {
	insts := make([]institute.Institute, 0, len(repo.db.institutes))
	for _, inst := range repo.db.institutes {
		insts = append(insts, *inst)
	}
	sort.Slice(insts, func(i, j int) bool { return insts[i].CreatedAt.Before(insts[j].CreatedAt) })
	return insts
}

func instExcluded(inst institute.Institute, excluded []institute.Institute) bool {
	for _, ex := range excluded {
		if inst.ID == ex.ID {
			return true
		}
	}
	return false
}

func (repo *instituteRepository) checkSubdomainUniqueness(subdomain string, excluded ...institute.Institute) error {
	if subdomain == "" {
		return nil
	}
	subdomain = strings.ToLower(subdomain)
	for _, inst := range repo.db.institutes {
		if strings.ToLower(inst.Subdomain) == subdomain && !instExcluded(*inst, excluded) {
			return institute.ErrSubdomainExists
		}
	}
	return nil
}

func (repo *instituteRepository) CheckSubdomainUniqueness(_ context.Context, subdomain string, excluded ...institute.Institute) error {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	return repo.checkSubdomainUniqueness(subdomain, excluded...)
}

// CreateInstituteWithOwner inserts the institute and its owner principal under
// one lock: both uniqueness checks and both inserts succeed or fail together.
func (repo *instituteRepository) CreateInstituteWithOwner(_ context.Context, inst institute.Institute, owner principal.Principal) (institute.Institute, principal.Principal, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if err := repo.checkSubdomainUniqueness(inst.Subdomain); err != nil {
		return institute.Institute{}, principal.Principal{}, err
	}
	ownerEmail := strings.ToLower(owner.Email)
	for _, p := range repo.db.principals {
		if strings.ToLower(p.Email) == ownerEmail {
			return institute.Institute{}, principal.Principal{}, principal.ErrEmailExists
		}
	}

	inst.ID = uuid.New().String()
	owner.ID = uuid.New().String()
	inst.OwnerID = owner.ID
	owner.InstituteID = inst.ID

	repo.db.institutes[inst.ID] = &inst
	repo.db.principals[owner.ID] = &owner
	return inst, owner, nil
}

func (repo *instituteRepository) GetInstitute(_ context.Context, filter institute.GetFilter) (institute.Institute, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if filter.ID != "" {
		if inst, ok := repo.db.institutes[filter.ID]; ok {
			return *inst, nil
		}
		return institute.Institute{}, institute.ErrNotFound
	}
	if filter.Subdomain != "" {
		subdomain := strings.ToLower(filter.Subdomain)
		for _, inst := range repo.query() {
			if strings.ToLower(inst.Subdomain) == subdomain {
				return inst, nil
			}
		}
	}
	if filter.OwnerID != "" {
		for _, inst := range repo.query() {
			if inst.OwnerID == filter.OwnerID {
				return inst, nil
			}
		}
	}
	return institute.Institute{}, institute.ErrNotFound
}

func (repo *instituteRepository) QueryInstitutes(_ context.Context) ([]institute.Institute, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	return repo.query(), nil
}

func (repo *instituteRepository) QueryInstitutesByOwner(_ context.Context, ownerID string) ([]institute.Institute, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var owned []institute.Institute
	for _, inst := range repo.query() {
		if inst.OwnerID == ownerID {
			owned = append(owned, inst)
		}
	}
	return owned, nil
}

func (repo *instituteRepository) UpdateInstitute(_ context.Context, inst institute.Institute, isActive *bool) (institute.Institute, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	orig, ok := repo.db.institutes[inst.ID]
	if !ok {
		return institute.Institute{}, institute.ErrNotFound
	}

	if inst.Name != "" {
		orig.Name = inst.Name
	}
	if inst.Subdomain != "" {
		if err := repo.checkSubdomainUniqueness(inst.Subdomain, *orig); err != nil {
			return institute.Institute{}, err
		}
		orig.Subdomain = inst.Subdomain
	}
	if inst.OwnerID != "" {
		orig.OwnerID = inst.OwnerID
	}
	if inst.Settings != nil {
		orig.Settings = inst.Settings
	}
	if !inst.UpdatedAt.IsZero() {
		orig.UpdatedAt = inst.UpdatedAt
	}
	if isActive != nil {
		orig.SetActive(*isActive)
	}
	return *orig, nil
}
