package catalog

import (
	"time"

	"marketplace/internal/domain/pricing"
)

// Listing tables are owned by the catalog editor; this service only reads
// them.

type User struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"size:64" json:"username"`
	AvatarURL string    `gorm:"column:avatar_url" json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (User) TableName() string { return "users" }

type Category struct {
	ID   int64  `gorm:"primaryKey" json:"id"`
	Name string `gorm:"size:100" json:"name"`
}

func (Category) TableName() string { return "categories" }

type Subcategory struct {
	ID         int64  `gorm:"primaryKey" json:"id"`
	CategoryID int64  `gorm:"index" json:"category_id"`
	Name       string `gorm:"size:100" json:"name"`
}

func (Subcategory) TableName() string { return "subcategories" }

type PersonalService struct {
	ID                int64   `gorm:"primaryKey"`
	OwnerID           int64   `gorm:"column:owner_id;index;not null"`
	SubcategoryID     *int64  `gorm:"column:subcategory_id"`
	Title             string  `gorm:"size:200"`
	PricePerHour      float64 `gorm:"column:price_per_hour"`
	DepositPercentage float64 `gorm:"column:deposit_percentage"`
}

func (PersonalService) TableName() string { return "personal_services" }

type LocalService struct {
	ID                int64   `gorm:"primaryKey"`
	OwnerID           int64   `gorm:"column:owner_id;index;not null"`
	SubcategoryID     *int64  `gorm:"column:subcategory_id"`
	Title             string  `gorm:"size:200"`
	PricePerHour      float64 `gorm:"column:price_per_hour"`
	DepositPercentage float64 `gorm:"column:deposit_percentage"`
}

func (LocalService) TableName() string { return "local_services" }

type MaterialListingType string

const (
	MaterialSale MaterialListingType = "sale"
	MaterialRent MaterialListingType = "rent"
)

type MaterialService struct {
	ID                int64               `gorm:"primaryKey"`
	OwnerID           int64               `gorm:"column:owner_id;index;not null"`
	SubcategoryID     *int64              `gorm:"column:subcategory_id"`
	Title             string              `gorm:"size:200"`
	ListingType       MaterialListingType `gorm:"column:listing_type;size:16"`
	SalePrice         float64             `gorm:"column:sale_price"`
	RentalRatePerHour float64             `gorm:"column:rental_rate_per_hour"`
	DepositPercentage float64             `gorm:"column:deposit_percentage"`
}

func (MaterialService) TableName() string { return "material_services" }

type EventListing struct {
	ID                int64   `gorm:"primaryKey"`
	OwnerID           int64   `gorm:"column:owner_id;index;not null"` // organizer
	SubcategoryID     *int64  `gorm:"column:subcategory_id"`
	Title             string  `gorm:"size:200"`
	GroupID           *int64  `gorm:"column:group_id"`
	IsPrivate         bool    `gorm:"column:is_private"`
	TicketPrice       float64 `gorm:"column:ticket_price"`
	DepositPercentage float64 `gorm:"column:deposit_percentage"`
}

func (EventListing) TableName() string { return "events" }

// Models lists the catalog tables for migrations.
func Models() []any {
	return []any{&User{}, &Category{}, &Subcategory{}, &PersonalService{}, &LocalService{}, &MaterialService{}, &EventListing{}}
}

// Listing is the resolved view of any ServiceRef.
type Listing struct {
	Ref         ServiceRef      `json:"ref"`
	OwnerID     int64           `json:"owner_id"`
	Title       string          `json:"title"`
	Subcategory string          `json:"subcategory,omitempty"`
	Category    string          `json:"category,omitempty"`
	GroupID     *int64          `json:"group_id,omitempty"`
	Private     bool            `json:"private,omitempty"`
	Pricing     pricing.Listing `json:"-"`

	subcategoryID *int64
}

// UserSummary is the public part of a profile shown next to a request.
type UserSummary struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// TableFor returns the listing table for a kind.
func TableFor(k Kind) string {
	switch k {
	case KindPersonal:
		return PersonalService{}.TableName()
	case KindLocal:
		return LocalService{}.TableName()
	case KindMaterial:
		return MaterialService{}.TableName()
	case KindEvent:
		return EventListing{}.TableName()
	}
	return ""
}

// Kinds lists every listing kind.
func Kinds() []Kind {
	return []Kind{KindPersonal, KindLocal, KindMaterial, KindEvent}
}
