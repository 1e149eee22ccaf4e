package catalog

import (
	"encoding/json"
	"fmt"

	"marketplace/internal/pkg/apperr"
)

// Kind names the listing table a ServiceRef points into.
type Kind string

const (
	KindPersonal Kind = "personal"
	KindLocal    Kind = "local"
	KindMaterial Kind = "material"
	KindEvent    Kind = "event"
)

// ServiceRef points at exactly one listing. The zero value points at
// nothing; use the constructors.
type ServiceRef struct {
	kind Kind
	id   int64
}

func Personal(id int64) ServiceRef { return ServiceRef{kind: KindPersonal, id: id} }
func Local(id int64) ServiceRef    { return ServiceRef{kind: KindLocal, id: id} }
func Material(id int64) ServiceRef { return ServiceRef{kind: KindMaterial, id: id} }
func Event(id int64) ServiceRef    { return ServiceRef{kind: KindEvent, id: id} }

func (r ServiceRef) Kind() Kind   { return r.kind }
func (r ServiceRef) ID() int64    { return r.id }
func (r ServiceRef) IsZero() bool { return r.kind == "" }

func (r ServiceRef) String() string {
	if r.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%s:%d", r.kind, r.id)
}

// RefColumns is the storage shape of a ServiceRef: one nullable column per
// listing table. Embedded by request and order rows.
type RefColumns struct {
	PersonalID *int64 `gorm:"column:personal_id;index" json:"personal_id,omitempty"`
	LocalID    *int64 `gorm:"column:local_id;index" json:"local_id,omitempty"`
	MaterialID *int64 `gorm:"column:material_id;index" json:"material_id,omitempty"`
	EventID    *int64 `gorm:"column:event_id;index" json:"event_id,omitempty"`
}

// Ref decodes the columns. Zero or several non-null columns is a
// validation error.
func (c RefColumns) Ref() (ServiceRef, error) {
	var (
		ref ServiceRef
		set int
	)
	pick := func(p *int64, ctor func(int64) ServiceRef) {
		if p != nil {
			set++
			ref = ctor(*p)
		}
	}
	pick(c.PersonalID, Personal)
	pick(c.LocalID, Local)
	pick(c.MaterialID, Material)
	pick(c.EventID, Event)

	switch {
	case set == 0:
		return ServiceRef{}, apperr.Validation("a service reference is required")
	case set > 1:
		return ServiceRef{}, apperr.Validation("exactly one service reference is allowed, got %d", set)
	case ref.id <= 0:
		return ServiceRef{}, apperr.Validation("service id must be positive")
	}
	return ref, nil
}

func ColumnsOf(r ServiceRef) RefColumns {
	id := r.id
	var c RefColumns
	switch r.kind {
	case KindPersonal:
		c.PersonalID = &id
	case KindLocal:
		c.LocalID = &id
	case KindMaterial:
		c.MaterialID = &id
	case KindEvent:
		c.EventID = &id
	}
	return c
}

// Column returns the storage column for a kind.
func Column(k Kind) string {
	return string(k) + "_id"
}

func (r ServiceRef) MarshalJSON() ([]byte, error) {
	if r.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(struct {
		Kind Kind  `json:"kind"`
		ID   int64 `json:"id"`
	}{r.kind, r.id})
}
