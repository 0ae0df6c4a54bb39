package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dokzlo13/ledsync/internal/app"
	"github.com/dokzlo13/ledsync/internal/db"
	"github.com/dokzlo13/ledsync/internal/pattern"
	"github.com/dokzlo13/ledsync/internal/printer"
	"github.com/dokzlo13/ledsync/internal/state"
	"github.com/dokzlo13/ledsync/internal/storage"
)

var exportName string

var validateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Check a pattern file without sending it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := readPattern(args[0])
		if err != nil {
			return err
		}
		leds, _, _ := pattern.ToState(p)
		printer.Success("%s is a valid pattern %q with %d LEDs on%s\n", args[0], p.Name, leds.Len(), savedAt(p))
		return nil
	},
}

var pushCmd = &cobra.Command{
	Use:   "push FILE",
	Short: "Send a pattern file to the matrix",
	Long: `Validate a pattern file and send it as a clear followed by one toggle
per lit LED. Nothing is sent when the file is invalid.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return printer.Error("failed to read pattern", err.Error(), nil)
		}
		if _, err := pattern.Validate(raw); err != nil {
			return invalidPattern(args[0], err)
		}

		return withDevice(func(ctx context.Context, store *state.Store) error {
			p, err := store.ImportPattern(raw)
			if err != nil {
				return err
			}
			leds := store.Snapshot().Draft.Leds.Len()
			printer.Step("Pushing %q (%d LEDs%s)\n", p.Name, leds, savedAt(p))
			if err := store.PushDraft(ctx); err != nil {
				return err
			}
			printer.Success("Sent %d commands\n", leds+1)
			return nil
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Write the last known matrix state as a pattern file",
	Long: `Read the last confirmed state persisted by "ledsync run" and write it
as a pattern file. The broker is not contacted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			return printer.Error("failed to open database", err.Error(), nil)
		}
		defer database.Close()

		states := app.NewStateStorage(storage.NewStore(database.DB))
		saved, found, err := states.Get(app.StateID)
		if err != nil {
			return printer.Error("failed to read matrix state", err.Error(), nil)
		}
		if !found {
			return printer.ErrorWithContext(
				"no matrix state saved",
				"The daemon has not persisted any confirmed state yet",
				map[string]string{"Database": cfg.Database.Path},
				[]string{`Run "ledsync run" until the device reports its state`},
			)
		}

		at, _ := states.UpdatedAt(app.StateID)
		if at.IsZero() {
			at = time.Now()
		}
		name := exportName
		if name == "" {
			name = "Pattern " + at.Local().Format("2006-01-02 15:04")
		}

		if err := pattern.FromState(name, at, saved.ActiveLeds, nil).Save(args[0]); err != nil {
			return printer.Error("failed to write pattern", err.Error(), nil)
		}
		printer.Success("Wrote %s (%d LEDs on)\n", args[0], saved.ActiveLeds.Len())
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportName, "name", "n", "", "Pattern name (defaults to the save time)")
	rootCmd.AddCommand(validateCmd, pushCmd, exportCmd)
}

// savedAt describes the pattern timestamp, or nothing when it is not a
// valid RFC3339 time.
func savedAt(p *pattern.Pattern) string {
	at, err := p.CreatedAt()
	if err != nil {
		return ""
	}
	return ", saved " + at.Local().Format("2006-01-02 15:04")
}

func readPattern(path string) (*pattern.Pattern, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, printer.Error("failed to read pattern", err.Error(), nil)
	}
	p, err := pattern.Validate(raw)
	if err != nil {
		return nil, invalidPattern(path, err)
	}
	return p, nil
}

func invalidPattern(path string, err error) error {
	var verr *pattern.ValidationError
	if errors.As(err, &verr) {
		return printer.ErrorWithContext(
			"invalid pattern",
			verr.Reason,
			map[string]string{"File": path, "At": verr.Path},
			nil,
		)
	}
	return printer.Error("invalid pattern", fmt.Sprintf("%s: %v", path, err), nil)
}
