package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/darasahq/darasa/core/institute"
	"github.com/darasahq/darasa/core/principal"
)

type instituteRow struct {
	ID        string      `db:"id"`
	Name      null.String `db:"name"`
	Subdomain null.String `db:"subdomain"`
	OwnerID   null.String `db:"owner_id"`
	Settings  null.JSON   `db:"settings"`
	IsActive  null.Bool   `db:"is_active"`
	CreatedAt null.Time   `db:"created_at"`
	UpdatedAt null.Time   `db:"updated_at"`
}

func rowFromInstitute(inst institute.Institute) (instituteRow, error) {
	row := instituteRow{
		ID:        inst.ID,
		Name:      null.NewString(inst.Name, inst.Name != ""),
		Subdomain: null.NewString(inst.Subdomain, inst.Subdomain != ""),
		OwnerID:   null.NewString(inst.OwnerID, inst.OwnerID != ""),
		IsActive:  null.BoolFromPtr(inst.IsActive),
		CreatedAt: null.NewTime(inst.CreatedAt.UTC(), !inst.CreatedAt.IsZero()),
		UpdatedAt: null.NewTime(inst.UpdatedAt.UTC(), !inst.UpdatedAt.IsZero()),
	}
	if inst.Settings != nil {
		if err := row.Settings.Marshal(inst.Settings); err != nil {
			return instituteRow{}, errors.Wrap(err, "marshalling institute settings")
		}
	}
	return row, nil
}

func (row instituteRow) toInstitute() (institute.Institute, error) {
	inst := institute.Institute{
		ID:        row.ID,
		Name:      row.Name.String,
		Subdomain: row.Subdomain.String,
		OwnerID:   row.OwnerID.String,
		IsActive:  row.IsActive.Ptr(),
		CreatedAt: row.CreatedAt.Time,
		UpdatedAt: row.UpdatedAt.Time,
	}
	if row.Settings.Valid {
		if err := row.Settings.Unmarshal(&inst.Settings); err != nil {
			return institute.Institute{}, errors.Wrap(err, "unmarshalling institute settings")
		}
	}
	return inst, nil
}

type instituteRepository struct {
	db *sqlx.DB
}

var _ institute.Repository = (*instituteRepository)(nil) // interface compliance check

func NewInstituteRepository(db *sql.DB) *instituteRepository {
	return &instituteRepository{db: sqlx.NewDb(db, "postgres")}
}

func (repo *instituteRepository) CheckSubdomainUniqueness(ctx context.Context, subdomain string, excluded ...institute.Institute) error {
	if subdomain == "" {
		return nil
	}
	query := `SELECT EXISTS (SELECT 1 FROM institute WHERE lower(subdomain) = lower($1) AND id <> ALL($2))`
	ids := make([]string, 0, len(excluded))
	for _, inst := range excluded {
		ids = append(ids, inst.ID)
	}

	var exists bool
	if err := repo.db.GetContext(ctx, &exists, query, subdomain, pq.StringArray(ids)); err != nil {
		return errors.Wrap(err, "checking subdomain uniqueness")
	}
	if exists {
		return institute.ErrSubdomainExists
	}
	return nil
}

// CreateInstituteWithOwner inserts the institute and its owner principal in one
// transaction. The circular FKs (institute.owner_id, principal.institute_id)
// are deferred, so both rows land or neither does.
func (repo *instituteRepository) CreateInstituteWithOwner(ctx context.Context, inst institute.Institute, owner principal.Principal) (institute.Institute, principal.Principal, error) {
	inst.ID = uuid.New().String()
	owner.ID = uuid.New().String()
	inst.OwnerID = owner.ID
	owner.InstituteID = inst.ID

	instRow, err := rowFromInstitute(inst)
	if err != nil {
		return institute.Institute{}, principal.Principal{}, err
	}
	ownerRow := rowFromPrincipal(owner)

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return institute.Institute{}, principal.Principal{}, errors.Wrap(err, "starting registration transaction")
	}
	defer func() { _ = tx.Rollback() }()

	instQuery := `
		INSERT INTO institute (id, name, subdomain, owner_id, settings, is_active, created_at, updated_at)
		VALUES (:id, :name, :subdomain, :owner_id, :settings, :is_active, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, instQuery, instRow); err != nil {
		return institute.Institute{}, principal.Principal{}, errors.Wrap(trapUniqueViolation(err), "inserting institute")
	}

	ownerQuery := `
		INSERT INTO principal (id, name, email, role, institute_id, relations, is_active, password_hash, created_at, updated_at)
		VALUES (:id, :name, :email, :role, :institute_id, :relations, :is_active, :password_hash, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, ownerQuery, ownerRow); err != nil {
		return institute.Institute{}, principal.Principal{}, errors.Wrap(trapUniqueViolation(err), "inserting institute owner")
	}

	if err := tx.Commit(); err != nil {
		return institute.Institute{}, principal.Principal{}, errors.Wrap(trapUniqueViolation(err), "committing registration")
	}
	return inst, owner, nil
}

func (repo *instituteRepository) GetInstitute(ctx context.Context, filter institute.GetFilter) (institute.Institute, error) {
	var row instituteRow
	var err error

	switch {
	case filter.ID != "":
		if _, uerr := uuid.Parse(filter.ID); uerr != nil {
			return institute.Institute{}, institute.ErrNotFound
		}
		err = repo.db.GetContext(ctx, &row, `SELECT * FROM institute WHERE id = $1`, filter.ID)
	case filter.Subdomain != "":
		err = repo.db.GetContext(ctx, &row, `SELECT * FROM institute WHERE lower(subdomain) = lower($1)`, filter.Subdomain)
	case filter.OwnerID != "":
		err = repo.db.GetContext(ctx, &row, `SELECT * FROM institute WHERE owner_id = $1 ORDER BY created_at LIMIT 1`, filter.OwnerID)
	default:
		return institute.Institute{}, institute.ErrNotFound
	}

	if err != nil {
		if err == sql.ErrNoRows {
			return institute.Institute{}, institute.ErrNotFound
		}
		return institute.Institute{}, errors.Wrap(err, "finding institute")
	}
	return row.toInstitute()
}

func (repo *instituteRepository) QueryInstitutes(ctx context.Context) ([]institute.Institute, error) {
	var rows []instituteRow
	if err := repo.db.SelectContext(ctx, &rows, `SELECT * FROM institute ORDER BY created_at`); err != nil {
		return nil, errors.Wrap(err, "querying institutes")
	}
	return institutesFromRows(rows)
}

func (repo *instituteRepository) QueryInstitutesByOwner(ctx context.Context, ownerID string) ([]institute.Institute, error) {
	var rows []instituteRow
	query := `SELECT * FROM institute WHERE owner_id = $1 ORDER BY created_at`
	if err := repo.db.SelectContext(ctx, &rows, query, ownerID); err != nil {
		return nil, errors.Wrap(err, "querying institutes by owner")
	}
	return institutesFromRows(rows)
}

func (repo *instituteRepository) UpdateInstitute(ctx context.Context, inst institute.Institute, isActive *bool) (institute.Institute, error) {
	var (
		sets []string
		args []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return pqPlaceholder(len(args))
	}

	if inst.Name != "" {
		sets = append(sets, "name = "+arg(inst.Name))
	}
	if inst.Subdomain != "" {
		sets = append(sets, "subdomain = "+arg(inst.Subdomain))
	}
	if inst.OwnerID != "" {
		sets = append(sets, "owner_id = "+arg(inst.OwnerID))
	}
	if inst.Settings != nil {
		var settings null.JSON
		if err := settings.Marshal(inst.Settings); err != nil {
			return institute.Institute{}, errors.Wrap(err, "marshalling institute settings")
		}
		sets = append(sets, "settings = "+arg(settings))
	}
	if !inst.UpdatedAt.IsZero() {
		sets = append(sets, "updated_at = "+arg(inst.UpdatedAt.UTC()))
	}
	if isActive != nil {
		sets = append(sets, "is_active = "+arg(*isActive))
	}
	if len(sets) == 0 {
		return repo.GetInstitute(ctx, institute.GetFilter{ID: inst.ID})
	}

	query := `UPDATE institute SET ` + strings.Join(sets, ", ") + ` WHERE id = ` + arg(inst.ID)
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return institute.Institute{}, errors.Wrap(trapUniqueViolation(err), "updating institute")
	}
	if cnt, err := res.RowsAffected(); err == nil && cnt == 0 {
		return institute.Institute{}, institute.ErrNotFound
	}
	return repo.GetInstitute(ctx, institute.GetFilter{ID: inst.ID})
}

func institutesFromRows(rows []instituteRow) ([]institute.Institute, error) {
	insts := make([]institute.Institute, 0, len(rows))
	for _, row := range rows {
		inst, err := row.toInstitute()
		if err != nil {
			return nil, err
		}
		insts = append(insts, inst)
	}
	return insts, nil
}
