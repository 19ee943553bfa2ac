package importcard

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mpapenbr/racestart-manager-go/log"
	"github.com/mpapenbr/racestart-manager-go/pkg/cmd/common"
	"github.com/mpapenbr/racestart-manager-go/pkg/config"
	"github.com/mpapenbr/racestart-manager-go/pkg/repository/file"
	pgrepos "github.com/mpapenbr/racestart-manager-go/pkg/repository/postgres"
)

func NewImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [race card]",
		Short: "stores the races of a race card in the database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config.SetupLogger()
			path := config.RacesFile
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no race card given")
			}
			return importRaceCard(cmd, path)
		},
	}
	return cmd
}

func importRaceCard(cmd *cobra.Command, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	races, entries, err := file.ParseRaceCard(data)
	if err != nil {
		return err
	}
	// the race card only names the source, the races go into the database
	config.RacesFile = ""
	pool, err := common.OpenPool(cmd.Context(), false)
	if err != nil {
		log.Error("could not connect to database", log.ErrorField(err))
		return err
	}
	defer pool.Close()

	stored, storedEntries, err := pgrepos.Import(cmd.Context(), pool, races, entries)
	if err != nil {
		log.Error("import failed", log.ErrorField(err))
		return err
	}
	log.Info("Race card imported",
		log.String("file", path),
		log.Int("races", len(stored)),
		log.Int("entries", len(storedEntries)))
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d races\n", len(stored))
	return nil
}
