package report

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/reportcast/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Rows is a tabular result set.
type Rows struct {
	Columns []string
	Records [][]any
}

func (r Rows) Len() int { return len(r.Records) }

// DataProvider returns the current rows of a report.
type DataProvider interface {
	Fetch(ctx context.Context, spec models.FilterSpec) (Rows, error)
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// GormProvider evaluates filter specs against tables of the analytics
// database.
type GormProvider struct {
	db *gorm.DB
}

func NewGormProvider(db *gorm.DB) *GormProvider {
	return &GormProvider{db: db}
}

func (p *GormProvider) Fetch(ctx context.Context, spec models.FilterSpec) (Rows, error) {
	query, err := buildQuery(p.db.WithContext(ctx), spec)
	if err != nil {
		return Rows{}, err
	}

	rows, err := query.Rows()
	if err != nil {
		return Rows{}, fmt.Errorf("failed to query %s: %w", spec.Source, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return Rows{}, fmt.Errorf("failed to read columns: %w", err)
	}

	result := Rows{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Rows{}, fmt.Errorf("failed to scan row: %w", err)
		}
		result.Records = append(result.Records, values)
	}
	if err := rows.Err(); err != nil {
		return Rows{}, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return result, nil
}

func buildQuery(db *gorm.DB, spec models.FilterSpec) (*gorm.DB, error) {
	if !identifier.MatchString(spec.Source) {
		return nil, fmt.Errorf("invalid source %q", spec.Source)
	}
	query := db.Table(spec.Source)

	if len(spec.Columns) > 0 {
		for _, c := range spec.Columns {
			if !identifier.MatchString(c) {
				return nil, fmt.Errorf("invalid column %q", c)
			}
		}
		query = query.Select(spec.Columns)
	}

	for _, cond := range spec.Conditions {
		if !identifier.MatchString(cond.Field) {
			return nil, fmt.Errorf("invalid condition field %q", cond.Field)
		}
		switch cond.Op {
		case models.OpEQ, models.OpNE, models.OpGT, models.OpGTE, models.OpLT, models.OpLTE:
			query = query.Where(fmt.Sprintf("%s %s ?", cond.Field, cond.Op), cond.Value)
		case models.OpLike:
			query = query.Where(fmt.Sprintf("%s LIKE ?", cond.Field), cond.Value)
		case models.OpIn:
			query = query.Where(fmt.Sprintf("%s IN ?", cond.Field), cond.Value)
		default:
			return nil, fmt.Errorf("unsupported operator %q", strings.TrimSpace(string(cond.Op)))
		}
	}

	if spec.OrderBy != "" {
		if !identifier.MatchString(spec.OrderBy) {
			return nil, fmt.Errorf("invalid order column %q", spec.OrderBy)
		}
		query = query.Order(clause.OrderByColumn{Column: clause.Column{Name: spec.OrderBy}, Desc: spec.Desc})
	}
	if spec.Limit > 0 {
		query = query.Limit(spec.Limit)
	}
	return query, nil
}
