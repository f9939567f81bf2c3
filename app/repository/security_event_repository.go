package repository

import (
	"time"

	"github.com/kenn289/oryn-alert-hub-sub003/app/models"
	"gorm.io/gorm"
)

// securityEventRepository implements the SecurityEventRepository interface
type securityEventRepository struct {
	db *gorm.DB
}

// NewSecurityEventRepository creates a new security event repository instance
func NewSecurityEventRepository(db *gorm.DB) SecurityEventRepository {
	return &securityEventRepository{db: db}
}

func (r *securityEventRepository) Create(event *models.SecurityEvent) error {
	return r.db.Create(event).Error
}

func (r *securityEventRepository) CountRecentByIP(ip string, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&models.SecurityEvent{}).
		Where("ip_address = ? AND created_at > ?", ip, since).
		Count(&count).Error
	return count, err
}
