package migrate

import (
	"github.com/spf13/cobra"

	"github.com/mpapenbr/racestart-manager-go/log"
	"github.com/mpapenbr/racestart-manager-go/pkg/cmd/common"
	"github.com/mpapenbr/racestart-manager-go/pkg/config"
	dbmigrate "github.com/mpapenbr/racestart-manager-go/pkg/db/migrate"
)

func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "performs database migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			config.SetupLogger()
			return startMigration(cmd)
		},
	}
	return cmd
}

func startMigration(cmd *cobra.Command) error {
	if err := common.WaitForRequiredServices(cmd.Context()); err != nil {
		log.Error("database not ready", log.ErrorField(err))
		return err
	}
	version, err := dbmigrate.MigrateDB(config.DB)
	if err != nil {
		log.Error("migration failed", log.ErrorField(err))
		return err
	}
	log.Info("Database migrated", log.Uint64("version", uint64(version)))
	return nil
}
