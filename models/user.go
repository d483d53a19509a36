package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/backoffice_backend/config"
	"bitbucket.org/mmdatafocus/backoffice_backend/utils"
)

type User struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Username   string    `gorm:"size:100;uniqueIndex;not null" json:"username" binding:"required"`
	Email      string    `gorm:"size:255" json:"email"`
	Password   string    `gorm:"size:255;not null" json:"-"`
	Role       UserRole  `gorm:"type:enum('A','O','C');default:'C'" json:"role"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Name     string   `json:"name" binding:"required"`
	Username string   `json:"username" binding:"required"`
	Email    string   `json:"email"`
	Password string   `json:"password" binding:"required"`
	Role     UserRole `json:"role"`
}

func (obj User) GetId() int {
	return obj.ID
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	role := input.Role
	if role == "" {
		role = UserRoleClerk
	}

	user := User{
		BusinessId: businessId,
		Name:       input.Name,
		Username:   input.Username,
		Email:      input.Email,
		Password:   string(hashed),
		Role:       role,
		IsActive:   utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Login checks credentials and returns the user plus a signed token.
func Login(ctx context.Context, username string, password string) (*User, string, error) {
	db := config.GetDB()

	var user User
	if err := db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, "", errors.New("invalid username or password")
	}
	if user.IsActive != nil && !*user.IsActive {
		return nil, "", errors.New("user is inactive")
	}
	if err := utils.ComparePassword(user.Password, password); err != nil {
		return nil, "", errors.New("invalid username or password")
	}

	role := "User"
	if user.Role == UserRoleAdmin {
		role = "Admin"
	}
	token, err := utils.JwtGenerate(user.ID, role)
	if err != nil {
		return nil, "", err
	}
	return &user, token, nil
}

func GetUser(ctx context.Context, id int) (*User, error) {
	return utils.FetchSingleModel[User](ctx, id)
}
