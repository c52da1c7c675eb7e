package apikey

import (
	"fmt"

	"github.com/Egham-7/tokentra/internal/models"
	"gorm.io/gorm"
)

// Migrate creates the api_keys table and makes sure its lookup indexes
// exist on every dialect.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.APIKey{}); err != nil {
		return fmt.Errorf("failed to migrate api_keys table: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

func createIndexes(db *gorm.DB) error {
	// field names as declared on models.APIKey
	indexes := []string{"KeyHash", "KeyPrefix", "OrganizationID", "ExpiresAt"}

	m := db.Migrator()
	for _, field := range indexes {
		if m.HasIndex(&models.APIKey{}, field) {
			continue
		}
		if err := m.CreateIndex(&models.APIKey{}, field); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", field, err)
		}
	}
	return nil
}
