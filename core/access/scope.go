package access

// Scope is the effective institute filter for a query. All==true (super admin
// only) means no institute restriction is injected.
type Scope struct {
	InstituteID string
	All         bool
}

// QueryScope returns the filter every domain query must carry for this
// context. Non-super-admin callers are always confined to their own
// institute; there is no opt-out path for them.
func (c Context) QueryScope() Scope {
	if c.IsSuperAdmin() {
		return Scope{All: true}
	}
	return Scope{InstituteID: c.InstituteID}
}

// StampInstitute returns the institute id to stamp onto a new record,
// overriding whatever the client supplied. A super admin acts across
// institutes and must name one explicitly.
func (c Context) StampInstitute(requested string) (string, error) {
	if c.IsSuperAdmin() {
		if requested == "" {
			return "", ErrMissingInstitute
		}
		return requested, nil
	}
	return c.InstituteID, nil
}

// CheckRecord verifies that a directly-fetched record belongs to the
// context's institute. A mismatch is reported as ErrNotFound, never as a
// permission error.
func (c Context) CheckRecord(instituteID string) error {
	if c.IsSuperAdmin() {
		return nil
	}
	if instituteID != c.InstituteID {
		return ErrNotFound
	}
	return nil
}
