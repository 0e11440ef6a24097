package repository

import (
	"context"

	"gorm.io/gorm"

	"messhub/backend/internal/model"
)

// UserRepository read access to the student directory
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	// ListActiveStudents an empty messID lists every mess.
	ListActiveStudents(ctx context.Context, messID string) ([]model.User, error)
}

// userRepo UserRepository over GORM
type userRepo struct {
	db *gorm.DB
}

// NewUserRepo creates a UserRepository.
func NewUserRepo(db *gorm.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).
		Where("user_id = ?", id).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) ListActiveStudents(ctx context.Context, messID string) ([]model.User, error) {
	var users []model.User

	db := r.db.WithContext(ctx).
		Where("role = ? AND is_active = ?", model.RoleStudent, true)
	if messID != "" {
		db = db.Where("mess_id = ?", messID)
	}

	if err := db.Order("registration_number ASC, user_id ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
