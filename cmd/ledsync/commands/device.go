package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dokzlo13/ledsync/internal/app"
	"github.com/dokzlo13/ledsync/internal/db"
	"github.com/dokzlo13/ledsync/internal/ledger"
	"github.com/dokzlo13/ledsync/internal/matrix"
	"github.com/dokzlo13/ledsync/internal/printer"
	"github.com/dokzlo13/ledsync/internal/state"
)

var toggleIndex int

var toggleCmd = &cobra.Command{
	Use:   "toggle [ROW COL]",
	Short: "Flip one LED",
	Long: `Flip one LED, addressed by logical row and column or by wire index.

Examples:
  ledsync toggle 0 0
  ledsync toggle --index 19`,
	Args: cobra.RangeArgs(0, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		i, err := target(cmd, args, toggleIndex)
		if err != nil {
			return err
		}
		return withDevice(func(ctx context.Context, store *state.Store) error {
			if err := store.Toggle(ctx, i); err != nil {
				return err
			}
			c, _ := matrix.ToCoord(i)
			printer.Success("Sent toggle for LED %d (%s)\n", i, c)
			return nil
		})
	},
}

var brightnessCmd = &cobra.Command{
	Use:   "brightness VALUE",
	Short: "Set global brightness (0-255)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return printer.Error("invalid brightness", fmt.Sprintf("%q is not a number", args[0]), nil)
		}
		return withDevice(func(ctx context.Context, store *state.Store) error {
			if err := store.SetBrightness(ctx, v); err != nil {
				return err
			}
			printer.Success("Sent brightness %d\n", v)
			return nil
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Turn every LED off",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(func(ctx context.Context, store *state.Store) error {
			if err := store.ClearAll(ctx); err != nil {
				return err
			}
			printer.Success("Sent clear\n")
			return nil
		})
	},
}

func init() {
	toggleCmd.Flags().IntVarP(&toggleIndex, "index", "i", -1, "Wire index 0-159 instead of ROW COL")
	rootCmd.AddCommand(toggleCmd, brightnessCmd, clearCmd)
}

// target resolves ROW COL arguments or the --index flag.
func target(cmd *cobra.Command, args []string, index int) (matrix.Index, error) {
	if cmd.Flags().Changed("index") {
		if len(args) != 0 {
			return 0, printer.Error("conflicting arguments", "Use either ROW COL or --index, not both", nil)
		}
		i := matrix.Index(index)
		if !i.Valid() {
			return 0, printer.Error("invalid index", fmt.Sprintf("%d is outside 0-%d", index, matrix.Size-1), nil)
		}
		return i, nil
	}

	if len(args) != 2 {
		return 0, printer.Error("missing LED address", "Pass ROW COL or --index N", []string{
			fmt.Sprintf("ROW is 0-%d and COL is 0-%d", matrix.Rows-1, matrix.Cols-1),
		})
	}
	row, errRow := strconv.Atoi(args[0])
	col, errCol := strconv.Atoi(args[1])
	if errRow != nil || errCol != nil {
		return 0, printer.Error("invalid coordinate", "ROW and COL must be integers", nil)
	}
	i, err := matrix.ToIndex(row, col)
	if err != nil {
		return 0, printer.Error("invalid coordinate", err.Error(), nil)
	}
	return i, nil
}

// withDevice connects, runs fn against a store wired to the broker, and
// disconnects. Commands are journaled when the ledger is enabled.
func withDevice(fn func(ctx context.Context, store *state.Store) error) error {
	ctx, cancel := context.WithTimeout(app.SignalContext(), timeout)
	defer cancel()

	client, err := app.NewClient(ctx, cfg)
	if err != nil {
		return printer.Error("invalid broker configuration", err.Error(), nil)
	}
	defer client.Close(context.Background())

	var commander state.Commander = client
	if cfg.Ledger.IsEnabled() {
		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			return printer.Error("failed to open database", err.Error(), nil)
		}
		defer database.Close()
		commander = app.NewJournalingCommander(client, ledger.New(database.DB, client.ClientID()), "cli")
	}

	store := state.New(commander)
	store.Attach(client)

	if err := app.WaitConnected(ctx, client); err != nil {
		return printer.ErrorWithContext(
			"broker unreachable",
			err.Error(),
			map[string]string{"URL": cfg.Broker.URL},
			[]string{"Check broker.url in the config", "Raise --timeout"},
		)
	}

	if err := fn(ctx, store); err != nil {
		return printer.Error("command failed", err.Error(), nil)
	}
	return nil
}
