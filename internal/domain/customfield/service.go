package customfield

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/ehr/practice/internal/formula"
)

var (
	ErrNotFound           = errors.New("calculated field not found")
	ErrDuplicateName      = errors.New("a calculated field with this name already exists")
	ErrInvalidFormula     = errors.New("invalid formula")
	ErrCircularDependency = errors.New("circular dependency")
	ErrFieldInUse         = errors.New("calculated field is referenced by other fields")
	ErrCalculatedValue    = errors.New("calculated fields cannot be set directly")
)

// CycleError carries the loop found when saving a calculated field.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCircularDependency, strings.Join(e.Cycle, " -> "))
}

func (e *CycleError) Is(target error) bool { return target == ErrCircularDependency }

// FormulaError carries the engine's message for a rejected formula.
type FormulaError struct {
	Message string
}

func (e *FormulaError) Error() string { return e.Message }

func (e *FormulaError) Is(target error) bool { return target == ErrInvalidFormula }

// Limits bounds what administrators can store and how far a cascade reaches.
type Limits struct {
	DecimalPlaces    int
	MaxFormulaLength int
	MaxCascadeDepth  int
}

var DefaultLimits = Limits{
	DecimalPlaces:    formula.DefaultDecimalPlaces,
	MaxFormulaLength: 1000,
	MaxCascadeDepth:  50,
}

const maxDecimalPlaces = 10

var errDecimalPlaces = fmt.Errorf("decimal_places must be between 0 and %d", maxDecimalPlaces)

func checkDecimalPlaces(dp int) error {
	if dp < 0 || dp > maxDecimalPlaces {
		return errDecimalPlaces
	}
	return nil
}

// Transactor begins a transaction and returns a context carrying it.
type Transactor func(ctx context.Context) (context.Context, pgx.Tx, error)

type Service struct {
	fields       CalculatedFieldRepository
	values       FieldValueRepository
	measurements MeasurementRepository
	engine       *formula.Engine
	limits       Limits
	logger       zerolog.Logger
	tx           Transactor
}

func NewService(fields CalculatedFieldRepository, values FieldValueRepository, measurements MeasurementRepository, logger zerolog.Logger) *Service {
	return &Service{
		fields:       fields,
		values:       values,
		measurements: measurements,
		engine:       formula.NewEngine(),
		limits:       DefaultLimits,
		logger:       logger.With().Str("component", "customfield").Logger(),
	}
}

func (s *Service) SetLimits(l Limits)          { s.limits = l }
func (s *Service) SetEngine(e *formula.Engine) { s.engine = e }
func (s *Service) SetTransactor(tx Transactor) { s.tx = tx }
func (s *Service) Limits() Limits              { return s.limits }
func (s *Service) Operators() formula.Catalog  { return formula.AvailableOperators() }

// -- Calculated field definitions --

func (s *Service) CreateCalculatedField(ctx context.Context, f *CalculatedField) error {
	if err := s.prepare(ctx, f); err != nil {
		return err
	}
	if err := s.fields.Create(ctx, f); err != nil {
		return err
	}
	s.logger.Info().Str("field", f.Name).Strs("dependencies", f.Dependencies).Msg("calculated field created")
	return nil
}

func (s *Service) GetCalculatedField(ctx context.Context, id uuid.UUID) (*CalculatedField, error) {
	return s.fields.GetByID(ctx, id)
}

func (s *Service) ListCalculatedFields(ctx context.Context, limit, offset int) ([]*CalculatedField, int, error) {
	return s.fields.List(ctx, limit, offset)
}

func (s *Service) UpdateCalculatedField(ctx context.Context, f *CalculatedField) error {
	if _, err := s.fields.GetByID(ctx, f.ID); err != nil {
		return err
	}
	if err := s.prepare(ctx, f); err != nil {
		return err
	}
	if err := s.fields.Update(ctx, f); err != nil {
		return err
	}
	s.logger.Info().Str("field", f.Name).Strs("dependencies", f.Dependencies).Msg("calculated field updated")
	return nil
}

// DeleteCalculatedField refuses to remove a field other active fields read.
func (s *Service) DeleteCalculatedField(ctx context.Context, id uuid.UUID) error {
	f, err := s.fields.GetByID(ctx, id)
	if err != nil {
		return err
	}
	all, err := s.fields.ListAll(ctx)
	if err != nil {
		return err
	}
	var users []string
	for _, other := range all {
		if other.ID == f.ID || !other.Active {
			continue
		}
		for _, src := range other.sources() {
			if src == f.Name {
				users = append(users, other.Name)
				break
			}
		}
	}
	if len(users) > 0 {
		return fmt.Errorf("%w: %s", ErrFieldInUse, strings.Join(users, ", "))
	}
	return s.fields.Delete(ctx, id)
}

// prepare validates f, checks it against every other stored field for loops
// and fills in Dependencies, Label and DecimalPlaces.
func (s *Service) prepare(ctx context.Context, f *CalculatedField) error {
	f.Name = strings.TrimSpace(f.Name)
	if f.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !formula.IsFieldName(f.Name) {
		return fmt.Errorf("name must start with a letter or underscore and contain only letters, digits and underscores")
	}
	if strings.TrimSpace(f.Formula) == "" {
		return fmt.Errorf("formula is required")
	}
	if s.limits.MaxFormulaLength > 0 && len(f.Formula) > s.limits.MaxFormulaLength {
		return fmt.Errorf("formula exceeds %d characters", s.limits.MaxFormulaLength)
	}
	if f.DecimalPlaces != nil {
		if err := checkDecimalPlaces(*f.DecimalPlaces); err != nil {
			return err
		}
	}

	deps, err := s.engine.Validate(f.Formula)
	if err != nil {
		return &FormulaError{Message: formula.Message(err)}
	}

	all, err := s.fields.ListAll(ctx)
	if err != nil {
		return err
	}
	if cycle := formula.DetectCycle(f.Name, deps, s.graph(all, f)); cycle != nil {
		return &CycleError{Cycle: cycle}
	}

	f.Dependencies = deps
	if f.Label == "" {
		f.Label = defaultLabel(f.Name)
	}
	if f.DecimalPlaces == nil {
		dp := s.limits.DecimalPlaces
		f.DecimalPlaces = &dp
	}
	return nil
}

// graph snapshots stored dependencies, leaving out the record being edited.
func (s *Service) graph(all []*CalculatedField, exclude *CalculatedField) map[string][]string {
	g := make(map[string][]string, len(all))
	for _, other := range all {
		if other.ID == exclude.ID && exclude.ID != uuid.Nil {
			continue
		}
		if other.Name == exclude.Name {
			continue
		}
		g[other.Name] = other.deps()
	}
	return g
}

// -- Formula tools --

// EvaluateFormula evaluates text against values. A nil decimalPlaces uses the
// configured default.
func (s *Service) EvaluateFormula(text string, values map[string]any, decimalPlaces *int) formula.Result {
	dp := s.limits.DecimalPlaces
	if decimalPlaces != nil {
		dp = *decimalPlaces
	}
	if msg, ok := s.tooLong(text); ok {
		return formula.Result{Error: &msg}
	}
	if err := checkDecimalPlaces(dp); err != nil {
		msg := err.Error()
		return formula.Result{Error: &msg}
	}
	return s.engine.EvaluateFormula(text, values, dp)
}

func (s *Service) ValidateFormula(text string) formula.Validation {
	if msg, ok := s.tooLong(text); ok {
		return formula.Validation{Error: &msg, Dependencies: []string{}}
	}
	return s.engine.ValidateFormula(text)
}

func (s *Service) Dependencies(text string) []formula.Dependency {
	names := formula.ExtractDependencies(text)
	out := make([]formula.Dependency, 0, len(names))
	for _, name := range names {
		out = append(out, formula.ClassifyDependency(name))
	}
	return out
}

// CheckCycle reports whether giving field the proposed deps would close a
// loop with the stored calculated fields.
func (s *Service) CheckCycle(ctx context.Context, field string, deps []string) (formula.CycleResult, error) {
	all, err := s.fields.ListAll(ctx)
	if err != nil {
		return formula.CycleResult{}, err
	}
	snapshot := make(map[string]formula.FieldDependencies, len(all))
	for _, f := range all {
		if f.Name == field {
			continue
		}
		snapshot[f.Name] = formula.FieldDependencies{Dependencies: f.deps()}
	}
	return formula.DetectCircularDependencies(field, deps, snapshot), nil
}

func (s *Service) tooLong(text string) (string, bool) {
	if s.limits.MaxFormulaLength > 0 && len(text) > s.limits.MaxFormulaLength {
		return fmt.Sprintf("Formula exceeds %d characters", s.limits.MaxFormulaLength), true
	}
	return "", false
}

// -- Entity values and the recalculation cascade --

func (s *Service) ListValues(ctx context.Context, entityID uuid.UUID) ([]*FieldValue, error) {
	return s.values.ListByEntity(ctx, entityID)
}

// SetFieldValue stores an entered value and recalculates its dependents.
func (s *Service) SetFieldValue(ctx context.Context, v *FieldValue) (*CascadeReport, error) {
	if !formula.IsFieldName(v.FieldName) {
		return nil, fmt.Errorf("invalid field name: %s", v.FieldName)
	}
	if (v.Value == nil) == (v.Text == nil) {
		return nil, fmt.Errorf("exactly one of value or text is required")
	}
	if _, err := s.fields.GetByName(ctx, v.FieldName); err == nil {
		return nil, ErrCalculatedValue
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var report *CascadeReport
	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.values.Upsert(ctx, v); err != nil {
			return err
		}
		var err error
		report, err = s.recalculate(ctx, v.EntityID, []string{v.FieldName})
		return err
	})
	return report, err
}

// RecordMeasurement stores a reading and recalculates fields that read it.
func (s *Service) RecordMeasurement(ctx context.Context, m *Measurement) (*CascadeReport, error) {
	if !formula.IsFieldName(m.Name) {
		return nil, fmt.Errorf("invalid measurement name: %s", m.Name)
	}
	var report *CascadeReport
	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.measurements.Create(ctx, m); err != nil {
			return err
		}
		var err error
		report, err = s.recalculate(ctx, m.EntityID, []string{m.Name})
		return err
	})
	return report, err
}

// Recalculate re-evaluates every active calculated field reachable from
// changed for one entity, in dependency order, and stores the results. An
// empty changed list recalculates everything.
func (s *Service) Recalculate(ctx context.Context, entityID uuid.UUID, changed []string) (*CascadeReport, error) {
	var report *CascadeReport
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		report, err = s.recalculate(ctx, entityID, changed)
		return err
	})
	return report, err
}

func (s *Service) recalculate(ctx context.Context, entityID uuid.UUID, changed []string) (*CascadeReport, error) {
	fields, err := s.fields.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load calculated fields: %w", err)
	}
	plan := planCascade(fields, changed, s.limits.MaxCascadeDepth)
	if len(plan.order) == 0 && len(plan.cyclic) == 0 && len(plan.tooDeep) == 0 {
		return newCascadeReport(), nil
	}

	stored, err := s.values.ListByEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("load field values: %w", err)
	}
	values := make(map[string]any, len(stored))
	for _, v := range stored {
		if in, ok := v.input(); ok {
			values[v.FieldName] = in
		}
	}

	inputs := plan.inputs()
	history := make(map[string][]*Measurement)
	for name, limit := range historyRequest(inputs) {
		ms, err := s.measurements.ListByEntity(ctx, entityID, name, limit)
		if err != nil {
			return nil, fmt.Errorf("load measurements %s: %w", name, err)
		}
		history[name] = ms
	}
	applySeries(values, inputs, history)

	logger := s.logger.With().Str("entity_id", entityID.String()).Logger()
	report := runCascade(s.engine, plan, values, s.limits.DecimalPlaces, logger)

	for _, r := range report.Updated {
		value := r.Value
		if err := s.values.Upsert(ctx, &FieldValue{EntityID: entityID, FieldName: r.Field, Value: &value}); err != nil {
			return nil, fmt.Errorf("store %s: %w", r.Field, err)
		}
	}
	logger.Info().
		Int("updated", len(report.Updated)).
		Int("skipped", len(report.Skipped)).
		Int("failed", len(report.Failed)).
		Msg("recalculated calculated fields")
	return report, nil
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	txCtx, tx, err := s.tx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(txCtx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
