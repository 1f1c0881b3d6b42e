package models

import (
	"database/sql/driver"

	"gorm.io/gorm"
)

type PlanType string

const (
	PlanStarter    PlanType = "starter"
	PlanGrowth     PlanType = "growth"
	PlanScale      PlanType = "scale"
	PlanEnterprise PlanType = "enterprise"
)

func ParsePlanType(s string) (PlanType, error) {
	return parseEnum("plan", s, PlanStarter, PlanGrowth, PlanScale, PlanEnterprise)
}

func (p *PlanType) Scan(src any) error          { return scanEnum(p, src, ParsePlanType) }
func (p PlanType) Value() (driver.Value, error) { return enumValue(p, ParsePlanType) }

// Plan holds the limits applied to a company when it subscribes.
type Plan struct {
	gorm.Model
	Name           PlanType `gorm:"type:varchar(20);uniqueIndex;not null" json:"name"`
	Description    string   `json:"description"`
	LeadsLimit     int      `gorm:"not null" json:"leads_limit"`
	UsersLimit     int      `gorm:"not null" json:"users_limit"`
	EmailsPerMonth int      `gorm:"not null" json:"emails_per_month"`
	CanScrape      bool     `json:"can_scrape"`
	DisplayPrice   string   `json:"display_price"`
}

var defaultPlans = []Plan{
	{
		Name:           PlanStarter,
		Description:    "Starter plan for a single seat, imports only",
		LeadsLimit:     500,
		UsersLimit:     1,
		EmailsPerMonth: 1000,
		CanScrape:      false,
		DisplayPrice:   "$0",
	},
	{
		Name:           PlanGrowth,
		Description:    "Growth plan with scraping and small teams",
		LeadsLimit:     5000,
		UsersLimit:     5,
		EmailsPerMonth: 10000,
		CanScrape:      true,
		DisplayPrice:   "$49",
	},
	{
		Name:           PlanScale,
		Description:    "Scale plan for established sales teams",
		LeadsLimit:     25000,
		UsersLimit:     20,
		EmailsPerMonth: 50000,
		CanScrape:      true,
		DisplayPrice:   "$149",
	},
	{
		Name:           PlanEnterprise,
		Description:    "Custom plan for high-volume senders",
		LeadsLimit:     100000,
		UsersLimit:     100,
		EmailsPerMonth: 250000,
		CanScrape:      true,
		DisplayPrice:   "Custom",
	},
}

// DefaultPlan returns the built-in limits for p.
func DefaultPlan(p PlanType) Plan {
	for _, plan := range defaultPlans {
		if plan.Name == p {
			return plan
		}
	}
	return defaultPlans[0]
}

// CreateDefaultPlans seeds the plans table; existing rows are left untouched.
func CreateDefaultPlans(db *gorm.DB) error {
	for _, plan := range defaultPlans {
		plan := plan
		if err := db.FirstOrCreate(&plan, "name = ?", plan.Name).Error; err != nil {
			return err
		}
	}
	return nil
}
