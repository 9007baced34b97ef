package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/halcyonlabs/outreach-engine/internal/domain"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_contacts",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.Contact{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_contacts_org_id ON contacts (org_id)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.Contact{})
			},
		},
		{
			ID: "000002_create_campaigns",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.Campaign{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_campaigns_org_id ON campaigns (org_id)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.Campaign{})
			},
		},
		{
			ID: "000003_create_campaign_steps",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.CampaignStep{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_campaign_steps_order ON campaign_steps (campaign_id, order_index)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.CampaignStep{})
			},
		},
		{
			ID: "000004_create_enrollments",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.Enrollment{}); err != nil {
					return err
				}
				indexes := []string{
					// One live sequence per contact per org.
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_enrollments_active_contact ON enrollments (org_id, contact_id) WHERE status = 'ACTIVE'`,
					// Planner scan path.
					`CREATE INDEX IF NOT EXISTS idx_enrollments_next_run ON enrollments (next_run_at) WHERE status = 'ACTIVE' AND next_run_at IS NOT NULL`,
					`CREATE INDEX IF NOT EXISTS idx_enrollments_campaign_id ON enrollments (campaign_id)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.Enrollment{})
			},
		},
		{
			ID: "000005_create_activities",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.Activity{}); err != nil {
					return err
				}
				indexes := []string{
					// Correctness layer for callback idempotency.
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_activities_provider_call_id ON activities (provider_call_id) WHERE provider_call_id IS NOT NULL`,
					`CREATE INDEX IF NOT EXISTS idx_activities_enrollment_step ON activities (enrollment_id, step_id, channel)`,
					// Frequency and rate cap counters.
					`CREATE INDEX IF NOT EXISTS idx_activities_enrollment_sent ON activities (enrollment_id, sent_at) WHERE sent_at IS NOT NULL`,
					`CREATE INDEX IF NOT EXISTS idx_activities_campaign_channel_sent ON activities (campaign_id, channel, sent_at) WHERE sent_at IS NOT NULL`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.Activity{})
			},
		},
		{
			ID: "000006_create_retry_policies",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.RetryPolicy{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_retry_policies_campaign_match ON retry_policies (campaign_id, match_status, match_end_reason)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.RetryPolicy{})
			},
		},
		{
			ID: "000007_create_callback_records",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.CallbackRecord{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_callback_records_provider_call_id ON callback_records (provider_call_id)`,
					// Ingest scan path.
					`CREATE INDEX IF NOT EXISTS idx_callback_records_unprocessed ON callback_records (created_at) WHERE NOT processed`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.CallbackRecord{})
			},
		},
	})

	return m.Migrate()
}
