package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"

	"github.com/mutecap/mutecap/internal/player"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the system can run mutecap",
	Long: `Verify the external tools and services mutecap depends on: the capture
and routing binaries, the transcoder, the player binary, and the session bus.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		type result struct {
			name   string
			ok     bool
			detail string
		}

		binaries := []string{"pw-record", "pactl", "ffmpeg"}
		if len(cfg.Player.LaunchCommand) > 0 {
			binaries = append(binaries, cfg.Player.LaunchCommand[0])
		}

		var results []result
		for _, bin := range binaries {
			path, err := exec.LookPath(bin)
			if err != nil {
				results = append(results, result{bin, false, "not found in PATH"})
				continue
			}
			results = append(results, result{bin, true, path})
		}

		if _, err := player.ConnectSession(cfg.Player.BusName); err != nil {
			results = append(results, result{"session bus", false, err.Error()})
		} else {
			results = append(results, result{"session bus", true, "connected"})
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		if isatty.IsTerminal(os.Stdout.Fd()) {
			t.SetStyle(table.StyleRounded)
		} else {
			t.SetStyle(table.StyleDefault)
		}
		t.AppendHeader(table.Row{"Requirement", "Status", "Detail"})

		failures := 0
		for _, r := range results {
			status := "ok"
			if !r.ok {
				status = "MISSING"
				failures++
			}
			t.AppendRow(table.Row{r.name, status, r.detail})
		}
		t.Render()

		if failures > 0 {
			return fmt.Errorf("%d requirement(s) missing", failures)
		}
		return nil
	},
}
