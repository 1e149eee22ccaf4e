package app

import (
	"gorm.io/gorm"

	"marketplace/internal/domain/audience"
	"marketplace/internal/domain/availability"
	"marketplace/internal/domain/catalog"
	"marketplace/internal/domain/chat"
	"marketplace/internal/domain/notification"
	"marketplace/internal/domain/payment"
	"marketplace/internal/domain/request"
)

// Models lists every table the service owns or reads.
func Models() []any {
	var models []any
	models = append(models, catalog.Models()...)
	models = append(models, &availability.Slot{})
	models = append(models, request.Models()...)
	models = append(models, payment.Models()...)
	models = append(models, notification.Models()...)
	models = append(models, chat.Models()...)
	models = append(models, audience.Models()...)
	return models
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
