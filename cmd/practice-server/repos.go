package main

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/practice/internal/domain/customfield"
)

type poolRepos struct {
	fields       customfield.CalculatedFieldRepository
	values       customfield.FieldValueRepository
	measurements customfield.MeasurementRepository
}

func newPoolRepos(pool *pgxpool.Pool) *poolRepos {
	return &poolRepos{
		fields:       customfield.NewCalculatedFieldRepoPG(pool),
		values:       customfield.NewFieldValueRepoPG(pool),
		measurements: customfield.NewMeasurementRepoPG(pool),
	}
}
