package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"git.sr.ht/~jakintosh/renew/internal/config"
	"git.sr.ht/~jakintosh/renew/pkg/apiclient"
)

func rootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Keep an API session signed in",
		Long: `Renew logs in against the auth API, stores the access and refresh
tokens and renews the access token before it runs out.

Configuration is read from --config, $RENEW_CONFIG or ./renew.yaml, and
RENEW_* environment variables override the file.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		loginCmd(opts),
		registerCmd(opts),
		statusCmd(opts),
		tokenCmd(opts),
		refreshCmd(opts),
		logoutCmd(opts),
		getCmd(opts),
		watchCmd(opts),
		configCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)

	return cmd
}

// withApp loads the configuration and runs fn with a ready app.
func withApp(
	opts *options,
	fn func(cmd *cobra.Command, args []string, a *app) error,
) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := opts.loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, args, a)
	}
}

type credentials struct {
	username      string
	password      string
	passwordStdin bool
}

func (c *credentials) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&c.username, "username", "u", "", "Account username")
	cmd.Flags().StringVarP(&c.password, "password", "p", "", "Account password")
	cmd.Flags().BoolVar(&c.passwordStdin, "password-stdin", false, "Read the password from stdin")
	_ = cmd.MarkFlagRequired("username")
	cmd.MarkFlagsMutuallyExclusive("password", "password-stdin")
}

func (c *credentials) resolve(cmd *cobra.Command) error {
	if c.passwordStdin {
		password, err := stdinPassword(cmd.InOrStdin())
		if err != nil {
			return err
		}
		c.password = password
	}
	if c.password == "" {
		return errors.New("a password is required, use --password or --password-stdin")
	}
	return nil
}

func loginCmd(opts *options) *cobra.Command {
	var creds credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, _ []string, a *app) error {
			if err := creds.resolve(cmd); err != nil {
				return err
			}
			user, err := a.client.Login(cmd.Context(), apiclient.LoginRequest{
				Username: creds.username,
				Password: creds.password,
			})
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			a.printf("signed in as %s\n", displayName(user, creds.username))
			return nil
		}),
	}
	creds.bind(cmd)
	return cmd
}

func registerCmd(opts *options) *cobra.Command {
	var (
		creds    credentials
		email    string
		nickname string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and store its session",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, _ []string, a *app) error {
			if err := creds.resolve(cmd); err != nil {
				return err
			}
			user, err := a.client.Register(cmd.Context(), apiclient.RegisterRequest{
				Username: creds.username,
				Password: creds.password,
				Email:    email,
				Nickname: nickname,
			})
			if err != nil {
				return fmt.Errorf("register failed: %w", err)
			}
			a.printf("registered and signed in as %s\n", displayName(user, creds.username))
			return nil
		}),
	}
	creds.bind(cmd)
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&nickname, "nickname", "", "Display name")
	return cmd
}

func displayName(user *apiclient.UserInfo, fallback string) string {
	if user == nil {
		return fallback
	}
	if user.Nickname != "" {
		return user.Nickname
	}
	return user.Username
}

type statusReport struct {
	LoggedIn         bool       `json:"logged_in"`
	Authenticated    bool       `json:"authenticated"`
	RemainingSeconds int64      `json:"remaining_seconds"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
}

func (a *app) status() statusReport {
	report := statusReport{
		Authenticated:    a.manager.IsAuthenticated(),
		RemainingSeconds: a.manager.RemainingSeconds(),
	}
	if state, ok := a.manager.State(); ok {
		report.LoggedIn = true
		expiresAt := state.ExpiresAt
		report.ExpiresAt = &expiresAt
	}
	return report
}

func statusCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the stored session is usable",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, _ []string, a *app) error {
			report := a.status()
			if asJSON {
				return json.NewEncoder(a.out).Encode(report)
			}
			switch {
			case !report.LoggedIn:
				a.printf("not signed in\n")
			case report.Authenticated:
				a.printf("signed in, access token valid for %ds\n", report.RemainingSeconds)
			default:
				a.printf("signed in, access token needs renewal\n")
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the status as JSON")
	return cmd
}

func tokenCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a valid access token, renewing it first if needed",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, _ []string, a *app) error {
			token, err := a.manager.EnsureValidAccessToken(cmd.Context())
			if err != nil {
				return sessionError(err)
			}
			a.printf("%s\n", token)
			return nil
		}),
	}
}

func refreshCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Renew the access token now",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, _ []string, a *app) error {
			if _, err := a.manager.RefreshAccessToken(cmd.Context()); err != nil {
				return sessionError(err)
			}
			a.printf("access token renewed, valid for %ds\n", a.manager.RemainingSeconds())
			return nil
		}),
	}
}

func logoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and forget the tokens",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, _ []string, a *app) error {
			if err := a.client.Logout(cmd.Context()); err != nil {
				return err
			}
			a.printf("signed out\n")
			return nil
		}),
	}
}

func getCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get PATH",
		Short: "Send an authenticated GET and print the response data",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, a *app) error {
			var data json.RawMessage
			if err := a.client.Get(cmd.Context(), args[0], &data); err != nil {
				return sessionError(err)
			}
			if len(data) == 0 {
				return nil
			}
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, data, "", "  "); err != nil {
				return err
			}
			a.printf("%s\n", pretty.String())
			return nil
		}),
	}
}

func sessionError(err error) error {
	if apiclient.SessionExpired(err) {
		return fmt.Errorf("%w, run '%s login'", err, appName)
	}
	return err
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [PATH]",
		Short: "Write a configuration file with every default filled in",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.LocalFile
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
			if err := config.Default().SaveToFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}
