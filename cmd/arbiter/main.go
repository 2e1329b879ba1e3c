// Package main is the arbiter terminal client: it logs a device in against
// sessiond and keeps its session arbitrated while it runs.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"arbiter/cmd/internal/device"
	"arbiter/cmd/internal/logging"
)

// Global flags
var (
	serverURL string
	dataDir   string
	verbose   bool
	jsonOut   bool
)

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	})
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	})
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	})
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	})
	boldStyle = lipgloss.NewStyle().Bold(true)
)

// dev is opened by the root command before any subcommand runs.
var dev *device.App

var rootCmd = &cobra.Command{
	Use:   "arbiter",
	Short: "Keep one authoritative session per account across devices",
	Long: `arbiter is the terminal client of sessiond.

It stores this device's credential, watches for another device taking the
session over and offers to reclaim or reactivate it.

Examples:
  arbiter login --account alice          # Sign in on this device
  arbiter login --account alice --takeover close
  arbiter run                            # Watch the session (c continue, x close, q quit)
  arbiter status                         # Show the stored state
  arbiter logout                         # Revoke and forget the session`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: openDevice,
	PersistentPostRun: func(*cobra.Command, []string) {
		if dev != nil {
			_ = dev.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "sessiond base URL (default $ARBITER_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory for the device state (default $ARBITER_DATA_DIR)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logoutCmd)
}

func openDevice(cmd *cobra.Command, _ []string) error {
	cfg, err := device.LoadConfig()
	if err != nil {
		return err
	}
	if serverURL != "" {
		cfg.Reconcile.ServerURL = serverURL
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if loginDevice != "" && cmd == loginCmd {
		cfg.DeviceID = loginDevice
	}
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	log := logging.New(level, cfg.LogFormat, os.Stderr)

	dev, err = device.Open(cfg, log, cmd.OutOrStdout())
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, failStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}
