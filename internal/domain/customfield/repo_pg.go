package customfield

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/practice/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

const uniqueViolation = "23505"

func translateErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateName
	}
	return err
}

// -- Calculated fields --

type fieldRepoPG struct{ pool *pgxpool.Pool }

func NewCalculatedFieldRepoPG(pool *pgxpool.Pool) CalculatedFieldRepository {
	return &fieldRepoPG{pool: pool}
}

func (r *fieldRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const cfCols = `id, name, label, formula, dependencies, decimal_places, unit,
	active, created_at, updated_at`

func (r *fieldRepoPG) scanRow(row pgx.Row) (*CalculatedField, error) {
	var f CalculatedField
	err := row.Scan(&f.ID, &f.Name, &f.Label, &f.Formula, &f.Dependencies, &f.DecimalPlaces, &f.Unit,
		&f.Active, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, translateErr(err)
	}
	return &f, nil
}

func (r *fieldRepoPG) Create(ctx context.Context, f *CalculatedField) error {
	f.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO calculated_field (id, name, label, formula, dependencies, decimal_places, unit, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		f.ID, f.Name, f.Label, f.Formula, f.Dependencies, f.DecimalPlaces, f.Unit, f.Active,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	return translateErr(err)
}

func (r *fieldRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*CalculatedField, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+cfCols+` FROM calculated_field WHERE id = $1`, id))
}

func (r *fieldRepoPG) GetByName(ctx context.Context, name string) (*CalculatedField, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+cfCols+` FROM calculated_field WHERE name = $1`, name))
}

func (r *fieldRepoPG) Update(ctx context.Context, f *CalculatedField) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE calculated_field SET name=$2, label=$3, formula=$4, dependencies=$5,
			decimal_places=$6, unit=$7, active=$8, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		f.ID, f.Name, f.Label, f.Formula, f.Dependencies, f.DecimalPlaces, f.Unit, f.Active,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	return translateErr(err)
}

func (r *fieldRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM calculated_field WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fieldRepoPG) List(ctx context.Context, limit, offset int) ([]*CalculatedField, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM calculated_field`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+cfCols+` FROM calculated_field ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *fieldRepoPG) ListAll(ctx context.Context) ([]*CalculatedField, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+cfCols+` FROM calculated_field ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *fieldRepoPG) collect(rows pgx.Rows) ([]*CalculatedField, error) {
	defer rows.Close()
	var items []*CalculatedField
	for rows.Next() {
		f, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

// -- Field values --

type valueRepoPG struct{ pool *pgxpool.Pool }

func NewFieldValueRepoPG(pool *pgxpool.Pool) FieldValueRepository {
	return &valueRepoPG{pool: pool}
}

func (r *valueRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

func (r *valueRepoPG) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*FieldValue, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT entity_id, field_name, value, text_value, updated_at
		FROM field_value WHERE entity_id = $1 ORDER BY field_name`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*FieldValue
	for rows.Next() {
		var v FieldValue
		if err := rows.Scan(&v.EntityID, &v.FieldName, &v.Value, &v.Text, &v.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, &v)
	}
	return items, rows.Err()
}

func (r *valueRepoPG) Upsert(ctx context.Context, v *FieldValue) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO field_value (entity_id, field_name, value, text_value)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (entity_id, field_name)
		DO UPDATE SET value = EXCLUDED.value, text_value = EXCLUDED.text_value, updated_at = NOW()
		RETURNING updated_at`,
		v.EntityID, v.FieldName, v.Value, v.Text,
	).Scan(&v.UpdatedAt)
}

// -- Measurements --

type measurementRepoPG struct{ pool *pgxpool.Pool }

func NewMeasurementRepoPG(pool *pgxpool.Pool) MeasurementRepository {
	return &measurementRepoPG{pool: pool}
}

func (r *measurementRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

func (r *measurementRepoPG) Create(ctx context.Context, m *Measurement) error {
	m.ID = uuid.New()
	if m.RecordedAt.IsZero() {
		return r.conn(ctx).QueryRow(ctx, `
			INSERT INTO measurement (id, entity_id, name, value)
			VALUES ($1,$2,$3,$4)
			RETURNING recorded_at`,
			m.ID, m.EntityID, m.Name, m.Value,
		).Scan(&m.RecordedAt)
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO measurement (id, entity_id, name, value, recorded_at)
		VALUES ($1,$2,$3,$4,$5)`,
		m.ID, m.EntityID, m.Name, m.Value, m.RecordedAt)
	return err
}

func (r *measurementRepoPG) ListByEntity(ctx context.Context, entityID uuid.UUID, name string, limit int) ([]*Measurement, error) {
	sql := `SELECT id, entity_id, name, value, recorded_at FROM measurement
		WHERE entity_id = $1 AND name = $2 ORDER BY recorded_at DESC`
	args := []interface{}{entityID, name}
	if limit > 0 {
		sql += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Measurement
	for rows.Next() {
		var m Measurement
		if err := rows.Scan(&m.ID, &m.EntityID, &m.Name, &m.Value, &m.RecordedAt); err != nil {
			return nil, err
		}
		items = append(items, &m)
	}
	return items, rows.Err()
}
