package models

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SchemaMigration marks a data migration as applied.
type SchemaMigration struct {
	Version   int       `gorm:"primaryKey"`
	Name      string    `gorm:"not null"`
	AppliedAt time.Time `gorm:"not null"`
}

type migration struct {
	version int
	name    string
	run     func(tx *gorm.DB) error
}

var migrations = []migration{
	{1, "schema", migrateSchema},
	{2, "user team list", migrateUserTeams},
	{3, "pre-bias question list", migratePreBiasQuestions},
}

// Migrate brings the schema up to date and applies pending data migrations
// exactly once, in order.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&SchemaMigration{}); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	for _, m := range migrations {
		var applied SchemaMigration
		err := db.Where("version = ?", m.version).First(&applied).Error
		if err == nil {
			// Schema is always refreshed so new columns land without a version bump
			if m.version == 1 {
				if err := migrateSchema(db); err != nil {
					return err
				}
			}
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("reading migration %d: %w", m.version, err)
		}

		err = db.Transaction(func(tx *gorm.DB) error {
			if err := m.run(tx); err != nil {
				return err
			}
			return tx.Create(&SchemaMigration{Version: m.version, Name: m.name, AppliedAt: time.Now()}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func migrateSchema(tx *gorm.DB) error {
	return tx.AutoMigrate(
		&User{},
		&Team{},
		&Folder{},
		&FeedbackRequest{},
		&Response{},
		&Synthesis{},
		&SeenCount{},
		&IntegrationSettings{},
		&EmailInvitation{},
	)
}

func migrateUserTeams(tx *gorm.DB) error {
	var users []User
	if err := tx.Where("team_id IS NOT NULL AND team_id <> ''").Find(&users).Error; err != nil {
		return err
	}
	for i := range users {
		if users[i].FoldLegacyTeam() {
			users[i].ApplyDefaults()
			if err := tx.Save(&users[i]).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func migratePreBiasQuestions(tx *gorm.DB) error {
	var requests []FeedbackRequest
	if err := tx.Where("pre_bias_question IS NOT NULL AND pre_bias_question <> ''").Find(&requests).Error; err != nil {
		return err
	}
	for i := range requests {
		if !requests[i].FoldLegacyPreBias() {
			continue
		}
		requests[i].ApplyDefaults()
		if err := tx.Save(&requests[i]).Error; err != nil {
			return err
		}
	}
	return nil
}
