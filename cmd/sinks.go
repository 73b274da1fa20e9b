package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"

	"github.com/mutecap/mutecap/internal/sink"

	"github.com/spf13/cobra"
)

var sinksCmd = &cobra.Command{
	Use:   "sinks",
	Short: "List live sink inputs",
	Long: `List the sink inputs currently known to the audio server, with the label
mutecap would match against. Useful for picking the sink match_label.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		router := sink.NewRouter(cfg.Sink)
		inputs, err := router.ListInputs(context.Background())
		if err != nil {
			return err
		}
		if len(inputs) == 0 {
			fmt.Println("No sink inputs found. Is anything playing audio?")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		if isatty.IsTerminal(os.Stdout.Fd()) {
			t.SetStyle(table.StyleRounded)
		} else {
			t.SetStyle(table.StyleDefault)
		}
		t.AppendHeader(table.Row{"Index", "Label", "Matches"})
		for _, in := range inputs {
			matches := ""
			if strings.Contains(strings.ToLower(in.Label), strings.ToLower(cfg.Sink.MatchLabel)) {
				matches = "yes"
			}
			t.AppendRow(table.Row{in.Index, in.Label, matches})
		}
		t.Render()
		return nil
	},
}
