package commands

import (
	"github.com/spf13/cobra"

	"github.com/dokzlo13/ledsync/internal/matrix"
	"github.com/dokzlo13/ledsync/internal/printer"
)

var addrIndex int

var addrCmd = &cobra.Command{
	Use:   "addr [ROW COL]",
	Short: "Translate between row/column and wire index",
	Long: `Print the wire index of a logical coordinate, or the coordinate of a
wire index. Even rows run right to left, odd rows left to right.

Examples:
  ledsync addr 0 0          # index 19
  ledsync addr --index 20   # row 1, col 0`,
	Args: cobra.RangeArgs(0, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		i, err := target(cmd, args, addrIndex)
		if err != nil {
			return err
		}
		c, err := matrix.ToCoord(i)
		if err != nil {
			return printer.Error("invalid index", err.Error(), nil)
		}
		printer.Info("index %d = row %d, col %d\n", i, c.Row, c.Col)
		return nil
	},
}

func init() {
	addrCmd.Flags().IntVarP(&addrIndex, "index", "i", -1, "Wire index 0-159")
	rootCmd.AddCommand(addrCmd)
}
