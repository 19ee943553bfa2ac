package signals

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpapenbr/racestart-manager-go/pkg/clock"
	"github.com/mpapenbr/racestart-manager-go/pkg/cmd/common"
	"github.com/mpapenbr/racestart-manager-go/pkg/config"
	"github.com/mpapenbr/racestart-manager-go/pkg/model"
	"github.com/mpapenbr/racestart-manager-go/pkg/service"
)

var atArg string

func NewSignalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signals",
		Short: "prints the consolidated signals and flags of the day",
		RunE: func(cmd *cobra.Command, args []string) error {
			config.SetupLogger()
			return printSignals(cmd)
		},
	}
	cmd.Flags().StringVar(&atArg,
		"at",
		"",
		"reference instant (RFC3339) for countdowns and flag states, default now")
	return cmd
}

func printSignals(cmd *cobra.Command) error {
	at := time.Now()
	if atArg != "" {
		var err error
		if at, err = time.Parse(time.RFC3339, atArg); err != nil {
			return fmt.Errorf("invalid at: %w", err)
		}
	}
	from, window, err := common.SessionWindow(at)
	if err != nil {
		return err
	}
	repo, err := common.OpenRepository(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer repo.Close()

	e, err := service.NewStartSequenceService(repo).NewEngine(cmd.Context(), from, window)
	if err != nil {
		return err
	}
	defer e.Shutdown()

	out := cmd.OutOrStdout()
	writeSignals(out, e.Signals(), at)
	fmt.Fprintln(out)
	writeFlags(out, e.FlagStatesAt(at))
	return nil
}

func writeSignals(out io.Writer, sigs []model.Signal, at time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tCOUNTDOWN\tRACE\tMEANING\tSOUND\tFLAGS")
	for i := range sigs {
		s := &sigs[i]
		sound := "-"
		if s.Sound != nil {
			sound = s.Sound.Description
		}
		flags := "-"
		if s.Visual != nil {
			names := make([]string, 0, len(s.Visual.Flags))
			for _, f := range s.Visual.Flags {
				names = append(names, f.Name)
			}
			flags = fmt.Sprintf("%s %s", strings.Join(names, ", "), s.Visual.State)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			s.Time.Format(time.TimeOnly),
			clock.FormatDuration(s.Time.Sub(at)),
			s.RaceID, s.Meaning, sound, flags)
	}
	w.Flush()
}

func writeFlags(out io.Writer, flags []model.FlagStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FLAG\tSTATE\tCHANGE")
	for _, f := range flags {
		change := "-"
		if f.HasChange {
			change = clock.FormatDurationShort(f.TimeToChange)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Flag.Name, f.State, change)
	}
	w.Flush()
}
