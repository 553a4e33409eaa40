package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"saladict/pkg/bus"
	"saladict/pkg/ui/console"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Open the interactive messaging console",
	Long:  "Starts a simulated browser with a background page and opens a console to create contexts, send messages, edit storage and watch the live trace.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, log, err := setup("cmd.console")
		if err != nil {
			fmt.Printf("failed to start console: %v\n", err)
			return
		}

		trace := bus.New()
		defer trace.Close()

		host, err := openHost(cfg, log, trace)
		if err != nil {
			log.Error("Failed to open browser host", "error", err)
			return
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		session := console.NewSession(host, cfg.Build.Mode, log)
		log.Debug("Console started", "build_mode", cfg.Build.Mode, "state_dir", cfg.Host.StateDir)
		if err := console.Run(runCtx, session, trace, cfg.Console.TraceBuffer); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, tea.ErrProgramKilled) {
				return
			}
			log.Error("Console failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}
