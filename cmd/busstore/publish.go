package main

import (
	"fmt"
	"time"

	"github.com/casualjim/busstore"
	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:   "publish <event> [arg]...",
	Short: "Publish one event to every other node",
	Long: `Publish an event with the given arguments. Each argument is parsed as
JSON when possible and sent as a plain string otherwise, so 42 is a number,
'{"a":1}' an object and hello a string.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetDuration("wait")
		sent := make(chan error, 1)
		hook := busstore.HookFuncs{
			Sent: func(_ string, err error) {
				select {
				case sent <- err:
				default:
				}
			},
		}

		app, err := start(cmd, busstore.Hooks(hook))
		if err != nil {
			return err
		}
		defer app.stop()

		event, values := args[0], parseArgs(args[1:])
		app.store.Publish(event, values...)

		select {
		case err := <-sent:
			if err != nil {
				return fmt.Errorf("event %q was not sent: %w", event, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s published %s to %s\n",
				color.GreenString("✓"),
				color.MagentaString(event),
				color.CyanString("%s/%d", app.store.Topic(), app.store.Partition()),
			)
			return nil
		case <-time.After(wait):
			return fmt.Errorf("bus did not accept event %q within %s", event, wait)
		}
	},
}

func init() {
	publishCmd.Flags().Duration("wait", 30*time.Second, "How long to wait for the bus to accept the event")
}

// parseArgs decodes each argument as JSON, falling back to the raw string.
func parseArgs(raw []string) []any {
	values := make([]any, len(raw))
	for i, r := range raw {
		var v any
		if err := json.Unmarshal([]byte(r), &v); err != nil {
			values[i] = r
			continue
		}
		values[i] = v
	}
	return values
}
