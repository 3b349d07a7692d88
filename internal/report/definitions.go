package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/reportcast/internal/models"
	"gorm.io/gorm"
)

// Definitions is the read side of saved reports used by the executor, plus
// the small write surface the operator API needs.
type Definitions struct {
	db *gorm.DB
}

func NewDefinitions(db *gorm.DB) *Definitions {
	return &Definitions{db: db}
}

func (d *Definitions) Get(ctx context.Context, id uint) (*models.ReportDefinition, error) {
	var def models.ReportDefinition
	if err := d.db.WithContext(ctx).First(&def, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load report %d: %w", id, err)
	}
	return &def, nil
}

func (d *Definitions) List(ctx context.Context) ([]models.ReportDefinition, error) {
	var defs []models.ReportDefinition
	if err := d.db.WithContext(ctx).Order("id ASC").Find(&defs).Error; err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return defs, nil
}

func (d *Definitions) Create(ctx context.Context, def *models.ReportDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("report name is required")
	}
	if !identifier.MatchString(def.Filter.Source) {
		return fmt.Errorf("invalid filter source %q", def.Filter.Source)
	}
	if _, err := buildQuery(d.db, def.Filter); err != nil {
		return err
	}
	return d.db.WithContext(ctx).Create(def).Error
}
