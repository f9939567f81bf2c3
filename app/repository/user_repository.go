package repository

import (
	"strings"

	"github.com/kenn289/oryn-alert-hub-sub003/app/models"
	"gorm.io/gorm"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create creates a new user in the database
func (r *userRepository) Create(user *models.User) error {
	return r.db.Create(user).Error
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(id uint) (*models.User, error) {
	var user models.User
	err := r.db.First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmail retrieves a user by their email address
func (r *userRepository) GetByEmail(email string) (*models.User, error) {
	var user models.User
	err := r.db.Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByAPIKeyHash resolves an active API key hash to its user and user settings.
func (r *userRepository) GetByAPIKeyHash(hash string) (*models.User, *models.UserSettings, error) {
	trimmed := strings.TrimSpace(hash)
	if trimmed == "" {
		return nil, nil, gorm.ErrRecordNotFound
	}
	var settings models.UserSettings
	query := r.db.Where("api_key_hash = ? AND api_key_hash <> '' AND api_key_revoked_at IS NULL", trimmed)
	if err := query.First(&settings).Error; err != nil {
		return nil, nil, err
	}
	var user models.User
	if err := r.db.First(&user, settings.UserID).Error; err != nil {
		return nil, nil, err
	}
	return &user, &settings, nil
}

// GetOrCreateSettings returns existing settings or creates defaults
func (r *userRepository) GetOrCreateSettings(userID uint) (*models.UserSettings, error) {
	return models.GetOrCreateUserSettings(r.db, userID)
}

// SaveSettings persists user settings changes
func (r *userRepository) SaveSettings(us *models.UserSettings) error {
	return r.db.Save(us).Error
}
