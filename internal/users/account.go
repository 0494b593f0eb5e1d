package users

import (
	"strings"
	"time"
)

// Role values stored on an account.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account records the role granted to a user id. Users without a row are plain users.
type Account struct {
	UserID    string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Email     string    `gorm:"column:user_email;size:320"`
	Role      string    `gorm:"column:role;size:32;not null;default:'user'"`
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName exposes the table backing user accounts.
func (Account) TableName() string {
	return "user_accounts"
}

// Roles lists the session roles the account carries.
func (a Account) Roles() []string {
	if a.Role == RoleAdmin {
		return []string{RoleUser, RoleAdmin}
	}
	return []string{RoleUser}
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
