// ABOUTME: Entry point for ytwatch-agent, the process running on a monitored device
// ABOUTME: Cobra commands run, register, status and flush over the agent package

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/ytwatch/internal/agent"
	"github.com/2389/ytwatch/internal/logging"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newAgent loads config and opens local state. The caller must close the state.
func newAgent() (*agent.Agent, *agent.LocalState, *slog.Logger, error) {
	cfg, err := agent.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	state, err := agent.OpenLocalState(cfg.StatePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening local state: %w", err)
	}
	a, err := agent.New(cfg, state, logger)
	if err != nil {
		_ = state.Close()
		return nil, nil, nil, fmt.Errorf("initializing agent: %w", err)
	}
	return a, state, logger, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

var rootCmd = &cobra.Command{
	Use:          "ytwatch-agent",
	Short:        "Report YouTube viewing to a ytwatch server and enforce its blocks",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Register if needed, then heartbeat, sync history and serve the navigation bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, state, logger, err := newAgent()
		if err != nil {
			return err
		}
		defer state.Close()

		ctx, cancel := signalContext(cmd)
		defer cancel()

		logger.Info("starting ytwatch-agent", "config", configPath, "server", a.API().BaseURL())
		return a.Run(ctx)
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this device with the server, reusing the stored key when it is still valid",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, state, _, err := newAgent()
		if err != nil {
			return err
		}
		defer state.Close()

		ctx, cancel := signalContext(cmd)
		defer cancel()

		force, _ := cmd.Flags().GetBool("force")
		var id agent.Identity
		if force {
			id, err = a.Session.Register(ctx)
		} else {
			id, err = a.Session.Ensure(ctx)
		}
		if err != nil {
			return fmt.Errorf("registering: %w", err)
		}

		color.New(color.FgGreen).Printf("✓ Registered %s", id.DeviceID)
		fmt.Printf(" (%s)\n", id.DeviceName)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored identity and the number of buffered history entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, state, _, err := newAgent()
		if err != nil {
			return err
		}
		defer state.Close()

		st, err := a.Status(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Server:     %s\n", st.ServerURL)
		fmt.Printf("Device:     %s\n", st.Identity.DeviceID)
		fmt.Printf("Name:       %s\n", st.Identity.DeviceName)
		fmt.Print("Registered: ")
		if st.Identity.Registered() {
			color.New(color.FgGreen).Print("yes")
			if st.Identity.RegisteredAt != nil {
				fmt.Printf(" (%s)", st.Identity.RegisteredAt.Local().Format("Jan 02, 2006 15:04"))
			}
			fmt.Println()
		} else {
			color.New(color.FgYellow).Println("no")
		}
		fmt.Printf("Pending:    %d\n", st.Pending)
		return nil
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Upload every buffered history entry now",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, state, _, err := newAgent()
		if err != nil {
			return err
		}
		defer state.Close()

		ctx, cancel := signalContext(cmd)
		defer cancel()

		sent, err := a.Sync.Flush(ctx)
		if err != nil {
			return fmt.Errorf("flushing history: %w", err)
		}
		fmt.Printf("Uploaded %d entries\n", sent)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", agent.DefaultConfigPath(), "agent config file (TOML)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(registerCmd)
	registerCmd.Flags().Bool("force", false, "Run the handshake even when a key is stored")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(flushCmd)
}
