package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/userforge/userhub/internal/domain"
)

// userModel is the GORM mapping for the users table. The repository
// converts between it and domain.User at its boundary.
type userModel struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	Username     string `gorm:"size:50;uniqueIndex;not null"`
	Email        string `gorm:"size:255;uniqueIndex;not null"`
	PasswordHash string `gorm:"size:255;not null"`
	FullName     string `gorm:"size:100"`
	IsActive     bool   `gorm:"not null;default:true"`
	IsSuperuser  bool   `gorm:"not null;default:false"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (userModel) TableName() string { return "users" }

func toDomain(m *userModel) *domain.User {
	return &domain.User{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		FullName:     m.FullName,
		IsActive:     m.IsActive,
		IsSuperuser:  m.IsSuperuser,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// UserRepository persists users through GORM.
type UserRepository struct {
	base
}

// NewUserRepository returns a UserRepository bound to db.
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{base: newBase(db)}
}

// Migrate creates or updates the users table.
func (r *UserRepository) Migrate() error {
	return r.db.AutoMigrate(&userModel{})
}

// GetByID loads a user by primary key.
func (r *UserRepository) GetByID(ctx context.Context, id uint) (*domain.User, error) {
	var m userModel
	if err := r.get(ctx, &m, id); err != nil {
		return nil, err
	}
	return toDomain(&m), nil
}

// GetByUsername loads a user by username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getWhere(ctx, "username = ?", username)
}

// GetByEmail loads a user by email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getWhere(ctx, "email = ?", email)
}

func (r *UserRepository) getWhere(ctx context.Context, query string, args ...any) (*domain.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var m userModel
	err := r.db.WithContext(ctx).Where(query, args...).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDomain(&m), nil
}

// BatchGetByIDs loads the users whose IDs are in ids. Missing IDs are
// silently skipped.
func (r *UserRepository) BatchGetByIDs(ctx context.Context, ids []uint) ([]*domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var ms []userModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.User, 0, len(ms))
	for i := range ms {
		out = append(out, toDomain(&ms[i]))
	}
	return out, nil
}

// ListFiltered returns a page of users matching the filter.
func (r *UserRepository) ListFiltered(ctx context.Context, f domain.ListFilter) ([]*domain.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	q := r.db.WithContext(ctx).Model(&userModel{})
	if f.IsActive != nil {
		q = q.Where("is_active = ?", *f.IsActive)
	}
	if f.IsSuperuser != nil {
		q = q.Where("is_superuser = ?", *f.IsSuperuser)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	var ms []userModel
	if err := q.Order("id").Offset(f.Skip).Limit(limit).Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.User, 0, len(ms))
	for i := range ms {
		out = append(out, toDomain(&ms[i]))
	}
	return out, nil
}

// Create inserts a new user and returns the persisted entity.
func (r *UserRepository) Create(ctx context.Context, in domain.CreateUser) (*domain.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	m := userModel{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		FullName:     in.FullName,
		IsActive:     in.IsActive,
		IsSuperuser:  in.IsSuperuser,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, err
	}
	return toDomain(&m), nil
}

// Update applies a partial update and returns the updated entity.
func (r *UserRepository) Update(ctx context.Context, id uint, in domain.UpdateUser) (*domain.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	updates := map[string]any{}
	if in.Username != nil {
		updates["username"] = *in.Username
	}
	if in.Email != nil {
		updates["email"] = *in.Email
	}
	if in.PasswordHash != nil {
		updates["password_hash"] = *in.PasswordHash
	}
	if in.FullName != nil {
		updates["full_name"] = *in.FullName
	}
	if in.IsActive != nil {
		updates["is_active"] = *in.IsActive
	}
	if in.IsSuperuser != nil {
		updates["is_superuser"] = *in.IsSuperuser
	}

	if len(updates) > 0 {
		res := r.db.WithContext(ctx).Model(&userModel{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, ErrNotFound
		}
	}
	return r.GetByID(ctx, id)
}

// SetActive flips the active flag and returns the updated entity.
func (r *UserRepository) SetActive(ctx context.Context, id uint, active bool) (*domain.User, error) {
	return r.Update(ctx, id, domain.UpdateUser{IsActive: &active})
}

// Delete removes a user and reports whether a row was deleted.
func (r *UserRepository) Delete(ctx context.Context, id uint) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	res := r.db.WithContext(ctx).Delete(&userModel{}, id)
	return res.RowsAffected > 0, res.Error
}

// ExistsByID reports whether a user with this ID exists.
func (r *UserRepository) ExistsByID(ctx context.Context, id uint) (bool, error) {
	return r.exists(ctx, &userModel{}, "id = ?", id)
}

// ExistsByUsername reports whether a user with this username exists.
func (r *UserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, &userModel{}, "username = ?", username)
}

// ExistsByEmail reports whether a user with this email exists.
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, &userModel{}, "email = ?", email)
}
