package commands

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dokzlo13/ledsync/internal/db"
	"github.com/dokzlo13/ledsync/internal/ledger"
	"github.com/dokzlo13/ledsync/internal/printer"
)

var (
	journalType   string
	journalSince  string
	journalLimit  int
	journalOutput string
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recent commands and connection changes",
	Long: `Read the command journal written by "ledsync run" and the one-shot
commands. Newest entries come first. The broker is not contacted.

Examples:
  ledsync journal --type command_rejected
  ledsync journal --since 2h --limit 50
  ledsync journal --since 2026-03-01T08:00:00Z -o json`,
	Args: cobra.NoArgs,
	RunE: runJournal,
}

func init() {
	journalCmd.Flags().StringVarP(&journalType, "type", "t", "", "Only entries of this event type")
	journalCmd.Flags().StringVarP(&journalSince, "since", "s", "", "Only entries newer than an RFC3339 time or a duration such as 2h")
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 20, "Maximum number of entries")
	journalCmd.Flags().StringVarP(&journalOutput, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(journalCmd)
}

func runJournal(cmd *cobra.Command, args []string) error {
	if journalOutput != "default" && journalOutput != "json" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", journalOutput),
			[]string{"Valid formats: default, json"},
		)
	}

	f := ledger.Filter{Limit: journalLimit}
	if journalType != "" {
		t, err := ledger.ParseEventType(journalType)
		if err != nil {
			return printer.Error("invalid event type", err.Error(), []string{
				"Valid types: command_sent, command_rejected, connected, disconnected, transport_error",
			})
		}
		f.Type = t
	}
	if journalSince != "" {
		since, err := ledger.ParseSince(journalSince, time.Now())
		if err != nil {
			return printer.Error("invalid --since", err.Error(), nil)
		}
		f.Since = since
	}
	if journalLimit <= 0 {
		return printer.Error("invalid --limit", "The limit must be positive", nil)
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return printer.Error("failed to open database", err.Error(), nil)
	}
	defer database.Close()

	entries, err := ledger.New(database.DB, "").Find(f)
	if err != nil {
		return printer.Error("failed to read journal", err.Error(), nil)
	}

	for _, e := range entries {
		printEntry(e, journalOutput == "json")
	}
	if len(entries) == 0 && journalOutput == "default" {
		printer.Faint("No journal entries\n")
	}
	return nil
}

func printEntry(e *ledger.Entry, asJSON bool) {
	if asJSON {
		data, _ := json.Marshal(e)
		printer.Info("%s\n", data)
		return
	}

	keys := make([]string, 0, len(e.Payload))
	for k := range e.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	details := make([]string, 0, len(keys))
	for _, k := range keys {
		details = append(details, fmt.Sprintf("%s=%v", k, e.Payload[k]))
	}

	printer.Faint("%s ", e.Timestamp.Local().Format("2006-01-02 15:04:05.000"))
	line := fmt.Sprintf("%-16s %-9s %s\n", e.EventType, e.Source, strings.Join(details, " "))
	switch e.EventType {
	case ledger.EventCommandRejected, ledger.EventTransportError:
		printer.Warning("%s", line)
	default:
		printer.Info("%s", line)
	}
}
