package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/marcus/objsync/internal/output"
	"github.com/marcus/objsync/pkg/remote"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:     "login [username]",
	Short:   "Log in and remember the session",
	GroupID: "auth",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var username, password string
		if len(args) == 1 {
			username = args[0]
		}
		if fromStdin, _ := cmd.Flags().GetBool("password-stdin"); fromStdin {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}
		if username == "" || password == "" {
			if !output.IsTerminal(os.Stdin) {
				return errors.New("username and password required (use --password-stdin when not on a terminal)")
			}
			if err := promptCredentials(&username, &password); err != nil {
				return err
			}
		}

		c, release, err := openClient(cmd)
		if err != nil {
			return err
		}
		defer release()

		user, err := c.LogIn(cmd.Context(), username, password)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return output.JSON(cmd.OutOrStdout(), user)
		}
		output.Success(cmd.OutOrStdout(), "logged in as %s (%s)", user.Username(), user.ID())
		return nil
	},
}

func promptCredentials(username, password *string) error {
	required := func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New("required")
		}
		return nil
	}
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Username").
			Value(username).
			Validate(required),
		huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(password).
			Validate(required),
	))
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return errors.New("login cancelled")
		}
		return err
	}
	return nil
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	Short:   "End the current session",
	GroupID: "auth",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, release, err := openClient(cmd)
		if err != nil {
			return err
		}
		defer release()

		if c.CurrentUser() == nil {
			if !jsonOutput(cmd) {
				output.Info(cmd.OutOrStdout(), "not logged in")
			}
			return nil
		}
		// The local session is cleared even when the server call fails.
		if err := c.LogOut(cmd.Context()); err != nil {
			output.Warning(cmd.ErrOrStderr(), "server logout failed: %v", err)
		}
		if !jsonOutput(cmd) {
			output.Success(cmd.OutOrStdout(), "logged out")
		}
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:     "whoami",
	Short:   "Show the logged-in user",
	GroupID: "auth",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, release, err := openClient(cmd)
		if err != nil {
			return err
		}
		defer release()

		user := c.CurrentUser()
		if user == nil {
			return remote.ErrNotLoggedIn
		}
		if refresh, _ := cmd.Flags().GetBool("refresh"); refresh {
			if user, err = c.Become(cmd.Context(), user.SessionToken()); err != nil {
				return err
			}
		}
		if jsonOutput(cmd) {
			return output.JSON(cmd.OutOrStdout(), user)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s (%s)\n", user.Username(), user.ID())
		if email := user.Email(); email != "" {
			fmt.Fprintf(w, "Email:   %s\n", email)
		}
		if showSession, _ := cmd.Flags().GetBool("session"); showSession {
			sess, err := c.CurrentSession(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "Session: %s revocable=%v\n", sess.ID(), sess.IsRevocable())
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().Bool("password-stdin", false, "Read the password from stdin")
	whoamiCmd.Flags().Bool("refresh", false, "Reload the user from the server")
	whoamiCmd.Flags().Bool("session", false, "Also show the current session")

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
}
