package models

import (
	"time"
)

// User represents an account that can browse, purchase and, depending on
// role, manage the catalog.
type User struct {
	BaseModel
	Email        string     `gorm:"uniqueIndex" json:"email"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	PasswordHash string     `json:"-"`
	Role         UserRole   `gorm:"default:customer" json:"role"`
	IsActive     bool       `gorm:"default:true" json:"is_active"`
	LastLogin    *time.Time `json:"last_login"`
	Orders       []Order    `gorm:"foreignKey:CustomerID" json:"orders,omitempty"`
}

// FullName joins first and last name for display and billing snapshots.
func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
