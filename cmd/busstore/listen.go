package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"
)

var listenCmd = &cobra.Command{
	Use:   "listen <event>...",
	Short: "Print events published by other nodes",
	Long: `Subscribe to one or more event names and print every delivery until
interrupted. Events published by this node itself are never shown.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, events []string) error {
		app, err := start(cmd)
		if err != nil {
			return err
		}
		defer app.stop()

		printer := newPrinter(cmd.OutOrStdout())
		for _, event := range events {
			app.store.Subscribe(event, func(args ...any) {
				printer.print(event, args)
			})
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "%s listening on %s as %s for %s\n",
			color.GreenString("✓"),
			color.CyanString("%s/%d", app.store.Topic(), app.store.Partition()),
			color.CyanString(app.store.NodeID()),
			strings.Join(events, ", "),
		)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		fmt.Fprintln(cmd.ErrOrStderr(), "\nShutting down...")
		return nil
	},
}

type printer struct {
	out io.Writer
	pp  *pp.PrettyPrinter
}

func newPrinter(out io.Writer) *printer {
	p := pp.New()
	p.SetOutput(out)
	p.SetColoringEnabled(!color.NoColor)
	return &printer{out: out, pp: p}
}

func (p *printer) print(event string, args []any) {
	fmt.Fprintf(p.out, "%s %s ", color.HiBlackString(time.Now().Format(time.Stamp)), color.MagentaString(event))
	if len(args) == 0 {
		fmt.Fprintln(p.out, color.HiBlackString("(no args)"))
		return
	}
	p.pp.Println(args...)
}
