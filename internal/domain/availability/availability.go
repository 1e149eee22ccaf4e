// Package availability reads bookable slots. Slots are written by the
// scheduling editor, never by this service.
package availability

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"marketplace/internal/domain/catalog"
	"marketplace/internal/domain/pricing"
	"marketplace/internal/pkg/apperr"
)

type DayStatus string

const (
	DayAvailable DayStatus = "available"
	DayException DayStatus = "exception"
	DayReserved  DayStatus = "reserved"
)

type Slot struct {
	ID int64 `gorm:"primaryKey" json:"id"`
	catalog.RefColumns
	Date            string    `gorm:"column:date;size:10" json:"date,omitempty"` // YYYY-MM-DD
	StartTime       string    `gorm:"column:start_time;size:16" json:"start_time"`
	EndTime         string    `gorm:"column:end_time;size:16" json:"end_time"`
	DayOfWeek       *int      `gorm:"column:day_of_week" json:"day_of_week,omitempty"`
	IntervalMinutes *int      `gorm:"column:interval_minutes" json:"interval_minutes,omitempty"`
	StatusDay       DayStatus `gorm:"column:statusday;size:16;default:available" json:"statusday"`
}

func (Slot) TableName() string { return "availability" }

// Bookable reports whether a request may target this slot.
func (s *Slot) Bookable() bool {
	return s.StatusDay == "" || s.StatusDay == DayAvailable
}

// Window returns the start and end clock values, using the sentinel for
// empty values.
func (s *Slot) Window() (string, string) {
	start, end := s.StartTime, s.EndTime
	if start == "" {
		start = pricing.Unspecified
	}
	if end == "" {
		end = pricing.Unspecified
	}
	return start, end
}

type Repository interface {
	GetByID(ctx context.Context, id int64) (*Slot, error)
	GetByIDs(ctx context.Context, ids []int64) (map[int64]*Slot, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetByID(ctx context.Context, id int64) (*Slot, error) {
	var s Slot
	if err := r.db.WithContext(ctx).First(&s, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("availability slot", id)
		}
		return nil, apperr.Transient(err)
	}
	return &s, nil
}

func (r *repository) GetByIDs(ctx context.Context, ids []int64) (map[int64]*Slot, error) {
	out := make(map[int64]*Slot, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []Slot
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, apperr.Transient(err)
	}
	for i := range rows {
		out[rows[i].ID] = &rows[i]
	}
	return out, nil
}
