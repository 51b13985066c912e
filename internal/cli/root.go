// Package cli implements the kairos command-line interface.
package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/app"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/config"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := newRootCmd().Execute(); err != nil {
		// An *exitError carries a deliberate non-zero code without an
		// extra error line; cobra already printed real errors.
		if ee, ok := err.(*exitError); ok {
			return ee.code
		}
		return 1
	}
	return 0
}

type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit code %d", e.code) }

// rootFlags are the persistent flags shared by every subcommand.
type rootFlags struct {
	configPath string
	workspace  string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "kairos",
		Short:         "Autonomous self-improvement agent",
		Long:          "kairos watches a workspace and runs autonomous improvement cycles:\ndetect, plan, implement, test and verify, learning from every outcome.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "config.json", "path to the configuration file")
	root.PersistentFlags().StringVarP(&flags.workspace, "workspace", "w", "", "workspace directory (overrides the configured one)")

	root.AddCommand(newRunCmd(flags))
	root.AddCommand(newOnceCmd(flags))
	root.AddCommand(newStatusCmd(flags))
	root.AddCommand(newResumeCmd(flags))
	return root
}

func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if flags.workspace != "" {
		cfg.Workspace = flags.workspace
	}
	return cfg, nil
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent continuously on the configured interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			a.Run(ctx.Done())
			a.Logger.Infof("shutting down")
			return nil
		},
	}
}

func newOnceCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run exactly one improvement cycle and exit",
		Long:  "Runs one cycle and exits 0 on success, 1 on failure, printing a short report.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			result, err := a.Orchestrator.RunCycle(ctx)
			if err != nil {
				return err
			}

			printCycleReport(result)
			if !result.Success {
				return &exitError{code: 1}
			}
			return nil
		},
	}
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted agent status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return printStatus(cfg)
		},
	}
}

func newResumeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Clear a failure pause so cycles run again",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return resumeSystem(cfg)
		},
	}
}
