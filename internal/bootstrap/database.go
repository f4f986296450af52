package bootstrap

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/Opensyte/opensyte-sub008/internal/models"
)

// Migrate ensures the tables this service reads and writes exist.
// `workflows` and `workflow_executions` belong to the execution engine;
// migrating them here keeps single-binary development setups working and is
// a no-op when the engine has already created them.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Schedule{},
		&models.Workflow{},
		&models.WorkflowExecution{},
	); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	return nil
}
