package models

import (
	"gorm.io/gorm"
)

// ReportDefinition is a saved analytics report. Schedules regenerate it;
// the scheduler never modifies it.
type ReportDefinition struct {
	gorm.Model
	Name        string     `json:"name" gorm:"uniqueIndex;not null"`
	Description string     `json:"description"`
	Filter      FilterSpec `json:"filter" gorm:"serializer:json"`
	View        string     `json:"view"` // presentation hint, e.g. "table" or "summary"
}

type FilterOp string

const (
	OpEQ   FilterOp = "="
	OpNE   FilterOp = "!="
	OpGT   FilterOp = ">"
	OpGTE  FilterOp = ">="
	OpLT   FilterOp = "<"
	OpLTE  FilterOp = "<="
	OpLike FilterOp = "like"
	OpIn   FilterOp = "in"
)

type Condition struct {
	Field string   `json:"field"`
	Op    FilterOp `json:"op"`
	Value any      `json:"value"`
}

// FilterSpec selects the rows of a report from the analytics store.
type FilterSpec struct {
	Source     string      `json:"source"` // table name
	Columns    []string    `json:"columns,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
	OrderBy    string      `json:"order_by,omitempty"`
	Desc       bool        `json:"desc,omitempty"`
	Limit      int         `json:"limit,omitempty"`
}
