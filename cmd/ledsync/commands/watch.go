package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/dokzlo13/ledsync/internal/app"
	"github.com/dokzlo13/ledsync/internal/printer"
	"github.com/dokzlo13/ledsync/internal/protocol"
)

var watchOutputFormat string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream status events from the device",
	Long: `Print every status event as it arrives, in arrival order, until
interrupted.

Output Formats:
  default - Human-readable lines
  json    - Line-delimited JSON for programmatic processing`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchOutputFormat != "default" && watchOutputFormat != "json" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	ctx := app.SignalContext()
	client, err := app.NewClient(ctx, cfg)
	if err != nil {
		return printer.Error("invalid broker configuration", err.Error(), nil)
	}
	defer client.Close(context.Background())

	done := make(chan struct{})
	var once sync.Once
	client.Subscribe(func(e protocol.Event) {
		printEvent(e, watchOutputFormat == "json")
		if ev, ok := e.(protocol.Error); ok && ev.Terminal {
			once.Do(func() { close(done) })
		}
	})

	select {
	case <-ctx.Done():
		return nil
	case <-done:
		return printer.Error("broker unreachable", "The client stopped retrying", nil)
	}
}

type eventLine struct {
	Time    time.Time `json:"time"`
	Event   string    `json:"event"`
	Payload any       `json:"payload,omitempty"`
	Error   string    `json:"error,omitempty"`
}

func printEvent(e protocol.Event, asJSON bool) {
	line := eventLine{Time: time.Now(), Event: protocol.Name(e)}
	var text string

	switch ev := e.(type) {
	case protocol.Connected:
		text = fmt.Sprintf("connected (%s)", ev.Source)
		line.Payload = ev.Source
	case protocol.Disconnected:
		text = fmt.Sprintf("disconnected (%s)", ev.Source)
		line.Payload = ev.Source
		if ev.Err != nil {
			line.Error = ev.Err.Error()
		}
	case protocol.Error:
		text = "error: " + ev.Message
		line.Payload = map[string]any{"message": ev.Message, "terminal": ev.Terminal}
		if ev.Err != nil {
			line.Error = ev.Err.Error()
		}
	case protocol.LedChanged:
		text = fmt.Sprintf("led %d -> %t", ev.Index, ev.On)
		line.Payload = map[string]any{"index": int(ev.Index), "on": ev.On}
	case protocol.BulkState:
		active := ev.Active()
		text = fmt.Sprintf("snapshot: %d on", active.Len())
		line.Payload = active
	case protocol.BrightnessChanged:
		text = fmt.Sprintf("brightness %d", ev.Value)
		line.Payload = ev.Value
	}

	if asJSON {
		data, _ := json.Marshal(line)
		printer.Info("%s\n", data)
		return
	}

	stamp := line.Time.Format("15:04:05.000")
	switch e.(type) {
	case protocol.Error:
		printer.Faint("%s ", stamp)
		printer.Warning("%s\n", text)
	case protocol.Connected:
		printer.Faint("%s ", stamp)
		printer.Success("%s\n", text)
	default:
		printer.Faint("%s ", stamp)
		printer.Info("%s\n", text)
	}
}
