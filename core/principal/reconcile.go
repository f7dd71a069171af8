package principal

import (
	"context"

	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
)

// EmailConflict groups principals sharing a case-insensitive email. Such
// groups can only come from legacy data created before the storage layer
// enforced the uniqueness index.
type EmailConflict struct {
	Email      string      `json:"email"` // lower-cased
	Principals []Principal `json:"principals"`
}

// Reconciler detects and repairs broken identity/tenant links. All of its
// operations are operator-invoked, idempotent batch passes; none of them run
// continuously. Repairs are privileged and logged as auditable events.
type Reconciler struct {
	repo       Repository
	institutes InstituteDirectory
	logger     core.Logger
}

func NewReconciler(repo Repository, institutes InstituteDirectory, logger core.Logger) *Reconciler {
	return &Reconciler{
		repo:       repo,
		institutes: institutes,
		logger:     logger,
	}
}

// FindOrphans lists principals with a missing institute link, excluding super
// admins (for whom the link is legitimately absent).
func (rec *Reconciler) FindOrphans(ctx context.Context) ([]Principal, error) {
	return rec.repo.FindOrphanPrincipals(ctx)
}

// FindEmailConflicts lists groups of principals colliding on a
// case-insensitive email.
func (rec *Reconciler) FindEmailConflicts(ctx context.Context) ([]EmailConflict, error) {
	return rec.repo.FindEmailConflicts(ctx)
}

// RelinkInstitute sets a principal's institute link. The write is an atomic
// compare-and-set against the link observed here, so a concurrent legitimate
// update is never clobbered: it surfaces as ErrRelinkConflict and the
// operator re-reads and retries. Repeating a completed relink is a no-op with
// the same end state.
func (rec *Reconciler) RelinkInstitute(ctx context.Context, actorID, principalID, instituteID string) (Principal, error) {
	exists, err := rec.institutes.InstituteExists(ctx, instituteID)
	if err != nil {
		return Principal{}, errors.Wrap(err, "checking institute")
	}
	if !exists {
		return Principal{}, ErrNotFound
	}

	p, err := rec.repo.GetPrincipal(ctx, GetFilter{ID: principalID})
	if err != nil {
		return Principal{}, err
	}

	updated, err := rec.repo.RelinkPrincipalInstitute(ctx, p.ID, instituteID, p.InstituteID)
	if err != nil {
		return Principal{}, errors.Wrap(err, "relinking institute")
	}
	if !updated {
		if _, err := rec.repo.GetPrincipal(ctx, GetFilter{ID: principalID}); err != nil {
			return Principal{}, err
		}
		return Principal{}, ErrRelinkConflict
	}

	rec.logger.Info("principal institute relinked",
		map[string]interface{}{
			"actor":          actorID,
			"principal":      p.ID,
			"prev_institute": p.InstituteID,
			"institute":      instituteID,
		})

	return rec.repo.GetPrincipal(ctx, GetFilter{ID: principalID})
}

// ResolveEmailConflict keeps one principal of a conflicting group and deletes
// the others. It refuses to delete any principal that owns an institute
// (ownership must be transferred first). Returns the number of principals
// removed; resolving an already-resolved group removes zero.
func (rec *Reconciler) ResolveEmailConflict(ctx context.Context, actorID, email, keepID string) (int, error) {
	group, err := rec.repo.GetPrincipalsByEmail(ctx, core.CleanString(email, true /* lower */))
	if err != nil {
		return 0, err
	}

	var keep *Principal
	losers := make([]string, 0, len(group))
	for i := range group {
		if group[i].ID == keepID {
			keep = &group[i]
			continue
		}
		losers = append(losers, group[i].ID)
	}
	if keep == nil {
		return 0, ErrNotFound
	}
	if len(losers) == 0 {
		return 0, nil
	}

	for _, id := range losers {
		owned, err := rec.institutes.OwnedInstituteIDs(ctx, id)
		if err != nil {
			return 0, errors.Wrap(err, "checking institute ownership")
		}
		if len(owned) > 0 {
			return 0, ErrSoleInstituteOwner
		}
	}

	removed, err := rec.repo.DeletePrincipalsByID(ctx, losers...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting conflicting principals")
	}

	rec.logger.Info("email conflict resolved",
		map[string]interface{}{
			"actor":   actorID,
			"email":   keep.Email,
			"kept":    keep.ID,
			"removed": removed,
		})

	return removed, nil
}
