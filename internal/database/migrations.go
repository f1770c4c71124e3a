package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/sustainhub/internal/storage/gormstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeVoteLedger = "2025-06-01_normalize_vote_ledger"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB, *zap.Logger) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeVoteLedger, apply: normalizeVoteLedger},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db, logger); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// normalizeVoteLedger drops null "removed vote" rows so absence is the only encoding of no vote.
func normalizeVoteLedger(db *gorm.DB, logger *zap.Logger) error {
	removed, repaired, err := gormstore.NormalizeVoteLedger(db)
	if err != nil {
		return err
	}
	logger.Info("vote ledger normalized",
		zap.Int64("removed_entries", removed),
		zap.Int64("repaired_scores", repaired))
	return nil
}
