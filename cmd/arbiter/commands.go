package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"arbiter/cmd/internal/device"
	sessionv1 "arbiter/contracts/session/v1"
)

var (
	loginAccount  string
	loginPassword string
	loginDevice   string
	loginTakeover string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in on this device",
	Long: `Sign in and store the credential for this device.

When the account is active on another device, --takeover decides what happens
to it: "suspend" (default) lets it restore itself for a few minutes, "close"
ends it and leaves it only the option to reclaim.

The password is read from stdin when --password is not given.`,
	RunE: runLogin,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the session and handle takeovers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("watching session; keys: c continue, x close, q quit"))
		err := dev.Run(ctx, os.Stdin)
		if errors.Is(err, device.ErrNotLoggedIn) {
			return errors.New("not logged in; run `arbiter login` first")
		}
		return err
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored session state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := dev.Status(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOut {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"device_id":       st.DeviceID,
				"state":           st.State,
				"logged_in":       st.LoggedIn,
				"closed_by_other": st.ClosedByOther,
				"suspended":       st.Suspended,
				"credential_fp":   st.CredentialFP,
			})
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s %s\n", boldStyle.Render("device:"), st.DeviceID)
		fmt.Fprintf(w, "%s %s\n", boldStyle.Render("state: "), stateStyle(st.State).Render(st.State))
		if !st.LoggedIn {
			fmt.Fprintln(w, mutedStyle.Render("not logged in"))
			return nil
		}
		fmt.Fprintf(w, "%s %s\n", boldStyle.Render("credential:"), mutedStyle.Render(st.CredentialFP))
		fmt.Fprintf(w, "%s closed_by_other=%t suspended=%t\n", boldStyle.Render("flags:"), st.ClosedByOther, st.Suspended)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke the session and forget it on this device",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := dev.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), passStyle.Render("logged out"))
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginAccount, "account", "a", "", "Account name (required)")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password (read from stdin when empty)")
	loginCmd.Flags().StringVar(&loginDevice, "device", "", "Device id (default: generated and remembered)")
	loginCmd.Flags().StringVar(&loginTakeover, "takeover", sessionv1.TakeoverSuspend, "What to do with another active device: suspend or close")
	_ = loginCmd.MarkFlagRequired("account")
}

func runLogin(cmd *cobra.Command, _ []string) error {
	switch loginTakeover {
	case sessionv1.TakeoverSuspend, sessionv1.TakeoverClose:
	default:
		return fmt.Errorf("--takeover must be %q or %q", sessionv1.TakeoverSuspend, sessionv1.TakeoverClose)
	}

	password := loginPassword
	if password == "" {
		fmt.Fprint(cmd.ErrOrStderr(), "password: ")
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	resp, err := dev.Login(cmd.Context(), loginAccount, password, loginTakeover)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s session %s on device %s (expires %s)\n",
		passStyle.Render("logged in:"), resp.SessionID, dev.DeviceID(), resp.ExpiresAt.Local().Format("2006-01-02 15:04"))
	return nil
}

func stateStyle(state string) lipgloss.Style {
	switch state {
	case "idle":
		return passStyle
	case "closed_by_other", "suspended":
		return warnStyle
	default:
		return failStyle
	}
}
