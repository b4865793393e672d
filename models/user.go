package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
)

const (
	UserRoleAdmin   = "Admin"
	UserRoleOwner   = "Owner"
	UserRoleCashier = "Cashier"
)

type User struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index" json:"business_id"`
	Username   string    `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Name       string    `gorm:"size:100" json:"name"`
	Email      string    `gorm:"size:100" json:"email"`
	Phone      string    `gorm:"size:20" json:"phone"`
	Role       string    `gorm:"size:20;default:Cashier" json:"role"`
	IsActive   *bool     `gorm:"not null" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (user User) GetBusinessId() string {
	return user.BusinessId
}

/*
caches:
	User:$username
*/

func (user User) StoreRedis() error {
	return config.SetRedisObject("User:"+user.Username, user, 0)
}

func (user User) RemoveInstanceRedis() error {
	return config.RemoveRedisKey("User:" + user.Username)
}

// GetUserByUsername resolves the session user, redis cached.
// (may return RecordNotFound)
func GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user *User
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		return nil, err
	}
	if !exists {
		db := config.GetDB()
		if err := db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
			return nil, utils.ErrorRecordNotFound
		}
		if err := user.StoreRedis(); err != nil {
			return nil, err
		}
	}
	return user, nil
}

func GetUser(ctx context.Context, id int) (*User, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[User](ctx, businessId, id)
}
