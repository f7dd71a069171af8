package sqlxrepos

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/institute"
	"github.com/darasahq/darasa/core/principal"
)

// unique constraint names, matching the migrations
const (
	principalEmailKey     = "principal_email_key"
	instituteSubdomainKey = "institute_subdomain_key"
)

// principalOrderColumns are the only columns orderable through FilterPrincipals.
// Ordering fields come from client input and must never reach the SQL text
// unchecked; anything not listed here is dropped.
var principalOrderColumns = map[string]struct{}{
	"name":       {},
	"email":      {},
	"created_at": {},
}

func orderByClause(ordering []core.DBOrdering, allowed map[string]struct{}) string {
	clauses := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		if _, ok := allowed[ord.Field]; !ok {
			continue
		}
		clauses = append(clauses, ord.String())
	}
	if len(clauses) == 0 {
		return "created_at"
	}
	return strings.Join(clauses, ", ")
}

type principalRow struct {
	ID           string         `db:"id"`
	Name         null.String    `db:"name"`
	Email        null.String    `db:"email"`
	Role         null.String    `db:"role"`
	InstituteID  null.String    `db:"institute_id"`
	Relations    pq.StringArray `db:"relations"`
	IsActive     null.Bool      `db:"is_active"`
	PasswordHash null.Bytes     `db:"password_hash"`
	CreatedAt    null.Time      `db:"created_at"`
	UpdatedAt    null.Time      `db:"updated_at"`
	LastLogin    null.Time      `db:"last_login"`
}

func rowFromPrincipal(p principal.Principal) principalRow {
	return principalRow{
		ID:           p.ID,
		Name:         null.NewString(p.Name, p.Name != ""),
		Email:        null.NewString(p.Email, p.Email != ""),
		Role:         null.NewString(p.Role, p.Role != ""),
		InstituteID:  null.NewString(p.InstituteID, p.InstituteID != ""),
		Relations:    pq.StringArray(p.Relations),
		IsActive:     null.BoolFromPtr(p.IsActive),
		PasswordHash: null.BytesFrom(p.PasswordHash),
		CreatedAt:    null.NewTime(p.CreatedAt.UTC(), !p.CreatedAt.IsZero()),
		UpdatedAt:    null.NewTime(p.UpdatedAt.UTC(), !p.UpdatedAt.IsZero()),
		LastLogin:    null.NewTime(p.LastLogin.UTC(), !p.LastLogin.IsZero()),
	}
}

func (row principalRow) toPrincipal() principal.Principal {
	return principal.Principal{
		ID:           row.ID,
		Name:         row.Name.String,
		Email:        row.Email.String,
		Role:         row.Role.String,
		InstituteID:  row.InstituteID.String,
		Relations:    []string(row.Relations),
		IsActive:     row.IsActive.Ptr(),
		PasswordHash: row.PasswordHash.Bytes,
		CreatedAt:    row.CreatedAt.Time,
		UpdatedAt:    row.UpdatedAt.Time,
		LastLogin:    row.LastLogin.Time,
	}
}

type principalRepository struct {
	db *sqlx.DB
}

var _ principal.Repository = (*principalRepository)(nil) // interface compliance check

func NewPrincipalRepository(db *sql.DB) *principalRepository {
	return &principalRepository{db: sqlx.NewDb(db, "postgres")}
}

// trapNoRowsErr maps psql "no rows" err to principal.ErrNotFound
func trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return principal.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

// trapUniqueViolation maps a pq unique-constraint violation to the matching
// domain error; the index is the authority on uniqueness, not a prior read.
func trapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch pqErr.Constraint {
		case principalEmailKey:
			return principal.ErrEmailExists
		case instituteSubdomainKey:
			return institute.ErrSubdomainExists
		}
	}
	return err
}

func (repo *principalRepository) CheckEmailUniqueness(ctx context.Context, email string, excluded ...principal.Principal) error {
	query := `SELECT EXISTS (SELECT 1 FROM principal WHERE lower(email) = lower($1) AND id <> ALL($2))`
	ids := make([]string, 0, len(excluded))
	for _, p := range excluded {
		ids = append(ids, p.ID)
	}

	var exists bool
	if err := repo.db.GetContext(ctx, &exists, query, email, pq.StringArray(ids)); err != nil {
		return errors.Wrap(err, "checking email uniqueness")
	}
	if exists {
		return principal.ErrEmailExists
	}
	return nil
}

func (repo *principalRepository) CreatePrincipal(ctx context.Context, p principal.Principal) (principal.Principal, error) {
	p.ID = uuid.New().String()
	row := rowFromPrincipal(p)

	query := `
		INSERT INTO principal (id, name, email, role, institute_id, relations, is_active, password_hash, created_at, updated_at)
		VALUES (:id, :name, :email, :role, :institute_id, :relations, :is_active, :password_hash, :created_at, :updated_at)`
	if _, err := repo.db.NamedExecContext(ctx, query, row); err != nil {
		return principal.Principal{}, errors.Wrap(trapUniqueViolation(err), "inserting principal")
	}
	return repo.GetPrincipal(ctx, principal.GetFilter{ID: p.ID})
}

func (repo *principalRepository) GetPrincipal(ctx context.Context, filter principal.GetFilter) (principal.Principal, error) {
	var row principalRow
	var err error

	if filter.ID != "" {
		if _, uerr := uuid.Parse(filter.ID); uerr != nil {
			return principal.Principal{}, principal.ErrNotFound
		}
		err = repo.db.GetContext(ctx, &row, `SELECT * FROM principal WHERE id = $1`, filter.ID)
	} else if filter.Email != "" {
		err = repo.db.GetContext(ctx, &row, `SELECT * FROM principal WHERE lower(email) = lower($1) LIMIT 1`, filter.Email)
	} else {
		return principal.Principal{}, principal.ErrNotFound
	}

	if err != nil {
		return principal.Principal{}, trapNoRowsErr(err, "finding principal")
	}
	return row.toPrincipal(), nil
}

func (repo *principalRepository) FilterPrincipals(ctx context.Context, filter principal.QueryFilter, ordering []core.DBOrdering) ([]principal.Principal, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return pqPlaceholder(len(args))
	}

	if !filter.AllTenants {
		conds = append(conds, "institute_id IS NOT DISTINCT FROM NULLIF("+arg(filter.InstituteID)+", '')")
	}
	if filter.Search != "" {
		val := "%" + filter.Search + "%"
		ph := arg(val)
		conds = append(conds, "(name ILIKE "+ph+" OR email ILIKE "+ph+")")
	}
	if len(filter.Roles) > 0 {
		conds = append(conds, "role = ANY("+arg(pq.StringArray(filter.Roles))+")")
	}
	if filter.IsActive != nil {
		conds = append(conds, "is_active = "+arg(*filter.IsActive))
	}
	if !filter.CreatedFrom.IsZero() {
		conds = append(conds, "created_at >= "+arg(filter.CreatedFrom.UTC()))
	}
	if !filter.CreatedTo.IsZero() {
		conds = append(conds, "created_at <= "+arg(filter.CreatedTo.UTC()))
	}

	query := `SELECT * FROM principal`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY " + orderByClause(ordering, principalOrderColumns)

	var rows []principalRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying principals")
	}
	ps := make([]principal.Principal, 0, len(rows))
	for _, row := range rows {
		ps = append(ps, row.toPrincipal())
	}
	return ps, nil
}

func (repo *principalRepository) UpdatePrincipal(ctx context.Context, p principal.Principal, isActive *bool) (principal.Principal, error) {
	var (
		sets []string
		args []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return pqPlaceholder(len(args))
	}

	if p.Name != "" {
		sets = append(sets, "name = "+arg(p.Name))
	}
	if p.Email != "" {
		sets = append(sets, "email = "+arg(p.Email))
	}
	if p.Role != "" {
		sets = append(sets, "role = "+arg(p.Role))
	}
	if p.Relations != nil {
		sets = append(sets, "relations = "+arg(pq.StringArray(p.Relations)))
	}
	if p.PasswordHash != nil {
		sets = append(sets, "password_hash = "+arg(p.PasswordHash))
	}
	if !p.UpdatedAt.IsZero() {
		sets = append(sets, "updated_at = "+arg(p.UpdatedAt.UTC()))
	}
	if !p.LastLogin.IsZero() {
		sets = append(sets, "last_login = "+arg(p.LastLogin.UTC()))
	}
	if isActive != nil {
		sets = append(sets, "is_active = "+arg(*isActive))
	}
	if len(sets) == 0 {
		return repo.GetPrincipal(ctx, principal.GetFilter{ID: p.ID})
	}

	query := `UPDATE principal SET ` + strings.Join(sets, ", ") + ` WHERE id = ` + arg(p.ID)
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return principal.Principal{}, errors.Wrap(trapUniqueViolation(err), "updating principal")
	}
	if cnt, err := res.RowsAffected(); err == nil && cnt == 0 {
		return principal.Principal{}, principal.ErrNotFound
	}
	return repo.GetPrincipal(ctx, principal.GetFilter{ID: p.ID})
}

func (repo *principalRepository) DeletePrincipalsByID(ctx context.Context, ids ...string) (int, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "starting delete transaction")
	}
	defer func() { _ = tx.Rollback() }()

	idArr := pq.StringArray(ids)
	res, err := tx.ExecContext(ctx, `DELETE FROM principal WHERE id = ANY($1)`, idArr)
	if err != nil {
		return 0, errors.Wrap(err, "deleting principals")
	}
	cnt, _ := res.RowsAffected()

	// cascade: drop deleted IDs from remaining relation lists
	_, err = tx.ExecContext(ctx, `
		UPDATE principal
		SET relations = (
			SELECT coalesce(array_agg(rel), '{}') FROM unnest(relations) rel WHERE rel <> ALL($1)
		)
		WHERE relations && $1`, idArr)
	if err != nil {
		return 0, errors.Wrap(err, "pruning relations")
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "committing delete")
	}
	return int(cnt), nil
}

// reconciliation support

func (repo *principalRepository) FindOrphanPrincipals(ctx context.Context) ([]principal.Principal, error) {
	var rows []principalRow
	query := `SELECT * FROM principal WHERE institute_id IS NULL AND role <> $1 ORDER BY created_at`
	if err := repo.db.SelectContext(ctx, &rows, query, principal.RoleSuperAdmin); err != nil {
		return nil, errors.Wrap(err, "querying orphan principals")
	}
	ps := make([]principal.Principal, 0, len(rows))
	for _, row := range rows {
		ps = append(ps, row.toPrincipal())
	}
	return ps, nil
}

func (repo *principalRepository) FindEmailConflicts(ctx context.Context) ([]principal.EmailConflict, error) {
	var rows []principalRow
	query := `
		SELECT * FROM principal
		WHERE lower(email) IN (
			SELECT lower(email) FROM principal GROUP BY lower(email) HAVING count(*) > 1
		)
		ORDER BY lower(email), created_at`
	if err := repo.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, errors.Wrap(err, "querying email conflicts")
	}

	var conflicts []principal.EmailConflict
	for _, row := range rows {
		p := row.toPrincipal()
		email := strings.ToLower(p.Email)
		if len(conflicts) == 0 || conflicts[len(conflicts)-1].Email != email {
			conflicts = append(conflicts, principal.EmailConflict{Email: email})
		}
		last := &conflicts[len(conflicts)-1]
		last.Principals = append(last.Principals, p)
	}
	return conflicts, nil
}

func (repo *principalRepository) GetPrincipalsByEmail(ctx context.Context, email string) ([]principal.Principal, error) {
	var rows []principalRow
	query := `SELECT * FROM principal WHERE lower(email) = lower($1) ORDER BY created_at`
	if err := repo.db.SelectContext(ctx, &rows, query, email); err != nil {
		return nil, errors.Wrap(err, "querying principals by email")
	}
	ps := make([]principal.Principal, 0, len(rows))
	for _, row := range rows {
		ps = append(ps, row.toPrincipal())
	}
	return ps, nil
}

// RelinkPrincipalInstitute is a single conditional UPDATE: the link only moves
// if it still equals the value the reconciler observed.
func (repo *principalRepository) RelinkPrincipalInstitute(ctx context.Context, id, instituteID, prevInstituteID string) (bool, error) {
	query := `
		UPDATE principal
		SET institute_id = NULLIF($2, ''), updated_at = now()
		WHERE id = $1 AND institute_id IS NOT DISTINCT FROM NULLIF($3, '')`
	res, err := repo.db.ExecContext(ctx, query, id, instituteID, prevInstituteID)
	if err != nil {
		return false, errors.Wrap(err, "relinking principal institute")
	}
	cnt, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "relinking principal institute")
	}
	return cnt > 0, nil
}

func pqPlaceholder(n int) string {
	return "$" + strconv.Itoa(n)
}
