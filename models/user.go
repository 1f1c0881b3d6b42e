package models

import (
	"database/sql/driver"
	"time"

	"gorm.io/gorm"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleSales   Role = "sales"
	RoleViewer  Role = "viewer"
)

var roleRank = map[Role]int{
	RoleViewer:  1,
	RoleSales:   2,
	RoleManager: 3,
	RoleAdmin:   4,
}

func ParseRole(s string) (Role, error) {
	return parseEnum("role", s, RoleAdmin, RoleManager, RoleSales, RoleViewer)
}

func (r *Role) Scan(src any) error          { return scanEnum(r, src, ParseRole) }
func (r Role) Value() (driver.Value, error) { return enumValue(r, ParseRole) }

// AtLeast reports whether r carries the privileges of min.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min]
}

// User represents a member of a company
type User struct {
	gorm.Model
	CompanyID    uint       `gorm:"not null;uniqueIndex:idx_users_company_email" json:"company_id"`
	Email        string     `gorm:"not null;uniqueIndex:idx_users_company_email" json:"email"`
	FullName     string     `json:"full_name"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Role         Role       `gorm:"type:varchar(20);not null" json:"role"`
	IsActive     bool       `json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	TokenVersion int        `gorm:"not null;default:0" json:"-"`
	GoogleID     *string    `gorm:"index" json:"-"`

	Company *Company `gorm:"foreignKey:CompanyID" json:"company,omitempty"`
}

// Identity is the authenticated caller, resolved from a token per request.
type Identity struct {
	UserID    uint `json:"user_id"`
	CompanyID uint `json:"company_id"`
	Role      Role `json:"role"`
}
