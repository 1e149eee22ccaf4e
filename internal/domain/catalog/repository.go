package catalog

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"marketplace/internal/domain/pricing"
	"marketplace/internal/pkg/apperr"
)

// Repository resolves service references into listings and users into
// public profiles.
type Repository interface {
	Resolve(ctx context.Context, ref ServiceRef) (*Listing, error)
	ResolveMany(ctx context.Context, refs []ServiceRef) (map[ServiceRef]*Listing, error)
	Users(ctx context.Context, ids []int64) (map[int64]UserSummary, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Resolve(ctx context.Context, ref ServiceRef) (*Listing, error) {
	if ref.IsZero() {
		return nil, apperr.Validation("a service reference is required")
	}
	found, err := r.ResolveMany(ctx, []ServiceRef{ref})
	if err != nil {
		return nil, err
	}
	l, ok := found[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s service %d", apperr.ErrNotFound, ref.Kind(), ref.ID())
	}
	return l, nil
}

func (r *repository) ResolveMany(ctx context.Context, refs []ServiceRef) (map[ServiceRef]*Listing, error) {
	byKind := make(map[Kind][]int64)
	seen := make(map[ServiceRef]bool, len(refs))
	for _, ref := range refs {
		if ref.IsZero() || seen[ref] {
			continue
		}
		seen[ref] = true
		byKind[ref.Kind()] = append(byKind[ref.Kind()], ref.ID())
	}

	out := make(map[ServiceRef]*Listing, len(seen))
	for kind, ids := range byKind {
		listings, err := r.loadKind(ctx, kind, ids)
		if err != nil {
			return nil, apperr.Transient(err)
		}
		for _, l := range listings {
			out[l.Ref] = l
		}
	}
	if err := r.attachLabels(ctx, out); err != nil {
		return nil, apperr.Transient(err)
	}
	return out, nil
}

func (r *repository) loadKind(ctx context.Context, kind Kind, ids []int64) ([]*Listing, error) {
	q := r.db.WithContext(ctx).Where("id IN ?", ids)
	switch kind {
	case KindPersonal:
		var rows []PersonalService
		if err := q.Find(&rows).Error; err != nil {
			return nil, err
		}
		out := make([]*Listing, 0, len(rows))
		for _, m := range rows {
			out = append(out, &Listing{
				Ref: Personal(m.ID), OwnerID: m.OwnerID, Title: m.Title, subcategoryID: m.SubcategoryID,
				Pricing: pricing.Listing{Model: pricing.RateHourly, PricePerHour: m.PricePerHour, DepositPercentage: m.DepositPercentage},
			})
		}
		return out, nil
	case KindLocal:
		var rows []LocalService
		if err := q.Find(&rows).Error; err != nil {
			return nil, err
		}
		out := make([]*Listing, 0, len(rows))
		for _, m := range rows {
			out = append(out, &Listing{
				Ref: Local(m.ID), OwnerID: m.OwnerID, Title: m.Title, subcategoryID: m.SubcategoryID,
				Pricing: pricing.Listing{Model: pricing.RateHourly, PricePerHour: m.PricePerHour, DepositPercentage: m.DepositPercentage},
			})
		}
		return out, nil
	case KindMaterial:
		var rows []MaterialService
		if err := q.Find(&rows).Error; err != nil {
			return nil, err
		}
		out := make([]*Listing, 0, len(rows))
		for _, m := range rows {
			p := pricing.Listing{Model: pricing.RateRental, RentalRatePerHour: m.RentalRatePerHour, DepositPercentage: m.DepositPercentage}
			if m.ListingType == MaterialSale {
				p = pricing.Listing{Model: pricing.RateSale, SalePrice: m.SalePrice, DepositPercentage: m.DepositPercentage}
			}
			out = append(out, &Listing{Ref: Material(m.ID), OwnerID: m.OwnerID, Title: m.Title, subcategoryID: m.SubcategoryID, Pricing: p})
		}
		return out, nil
	case KindEvent:
		var rows []EventListing
		if err := q.Find(&rows).Error; err != nil {
			return nil, err
		}
		out := make([]*Listing, 0, len(rows))
		for _, m := range rows {
			out = append(out, &Listing{
				Ref: Event(m.ID), OwnerID: m.OwnerID, Title: m.Title, subcategoryID: m.SubcategoryID,
				GroupID: m.GroupID, Private: m.IsPrivate,
				Pricing: pricing.Listing{Model: pricing.RateTicket, TicketPrice: m.TicketPrice, DepositPercentage: m.DepositPercentage},
			})
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown listing kind %q", kind)
}

func (r *repository) attachLabels(ctx context.Context, listings map[ServiceRef]*Listing) error {
	ids := make([]int64, 0, len(listings))
	for _, l := range listings {
		if l.subcategoryID != nil {
			ids = append(ids, *l.subcategoryID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	var rows []struct {
		ID           int64  `gorm:"column:id"`
		Name         string `gorm:"column:name"`
		CategoryName string `gorm:"column:category_name"`
	}
	err := r.db.WithContext(ctx).
		Table("subcategories AS s").
		Select("s.id, s.name, c.name AS category_name").
		Joins("LEFT JOIN categories c ON c.id = s.category_id").
		Where("s.id IN ?", ids).
		Scan(&rows).Error
	if err != nil {
		return err
	}

	byID := make(map[int64]int, len(rows))
	for i, row := range rows {
		byID[row.ID] = i
	}
	for _, l := range listings {
		if l.subcategoryID == nil {
			continue
		}
		if i, ok := byID[*l.subcategoryID]; ok {
			l.Subcategory = rows[i].Name
			l.Category = rows[i].CategoryName
		}
	}
	return nil
}

func (r *repository) Users(ctx context.Context, ids []int64) (map[int64]UserSummary, error) {
	out := make(map[int64]UserSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, apperr.Transient(err)
	}
	for _, u := range rows {
		out[u.ID] = UserSummary{ID: u.ID, Username: u.Username, AvatarURL: u.AvatarURL}
	}
	return out, nil
}
