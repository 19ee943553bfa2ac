package importcard

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpapenbr/racestart-manager-go/log"
	"github.com/mpapenbr/racestart-manager-go/pkg/cmd/common"
	"github.com/mpapenbr/racestart-manager-go/pkg/config"
	"github.com/mpapenbr/racestart-manager-go/pkg/model"
	"github.com/mpapenbr/racestart-manager-go/pkg/repository"
	"github.com/mpapenbr/racestart-manager-go/pkg/repository/file"
)

func NewExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [race card]",
		Short: "writes the races of the session day as race card",
		Long: "writes the races of the configured day and window as YAML race card. " +
			"Without a file argument the race card is written to stdout.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config.SetupLogger()
			repo, err := common.OpenRepository(cmd.Context(), false)
			if err != nil {
				log.Error("could not open repository", log.ErrorField(err))
				return err
			}
			defer repo.Close()
			from, window, err := common.SessionWindow(time.Now())
			if err != nil {
				return err
			}
			data, err := exportRaceCard(cmd.Context(), repo, from, window)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(args[0], data, 0o600); err != nil {
				return err
			}
			log.Info("Race card exported", log.String("file", args[0]))
			return nil
		},
	}
	return cmd
}

//nolint:whitespace // can't make both editor and linter happy
func exportRaceCard(
	ctx context.Context,
	repo repository.RaceRepository,
	from time.Time,
	window time.Duration,
) ([]byte, error) {
	races, err := repo.RacesBetween(ctx, from, from.Add(window))
	if err != nil {
		return nil, err
	}
	entries := make([]*model.Entry, 0)
	for _, r := range races {
		items, err := repo.EntriesByRace(ctx, r.ID)
		if err != nil {
			return nil, fmt.Errorf("race %d: %w", r.ID, err)
		}
		entries = append(entries, items...)
	}
	return file.NewRaceCard(races, entries).Marshal()
}
