package customfield

import (
	"context"

	"github.com/google/uuid"
)

type CalculatedFieldRepository interface {
	Create(ctx context.Context, f *CalculatedField) error
	GetByID(ctx context.Context, id uuid.UUID) (*CalculatedField, error)
	GetByName(ctx context.Context, name string) (*CalculatedField, error)
	Update(ctx context.Context, f *CalculatedField) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*CalculatedField, int, error)
	ListAll(ctx context.Context) ([]*CalculatedField, error)
}

type FieldValueRepository interface {
	ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*FieldValue, error)
	Upsert(ctx context.Context, v *FieldValue) error
}

// MeasurementRepository returns readings newest first. A limit of zero or
// less returns every reading.
type MeasurementRepository interface {
	Create(ctx context.Context, m *Measurement) error
	ListByEntity(ctx context.Context, entityID uuid.UUID, name string, limit int) ([]*Measurement, error)
}
