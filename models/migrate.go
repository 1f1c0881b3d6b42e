package models

import "gorm.io/gorm"

// Migrate creates or updates every table and seeds the plan catalogue.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Plan{},
		&Company{},
		&CompanySettings{},
		&User{},
		&Lead{},
		&ScrapingJob{},
		&EmailVerification{},
		&Campaign{},
		&EmailSequence{},
		&CampaignLead{},
		&CampaignActivity{},
		&Unsubscribe{},
		&Bounce{},
		&InboxMessage{},
		&DailyStats{},
	); err != nil {
		return err
	}
	return CreateDefaultPlans(db)
}
