package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teemow/meetnotes/internal/calendar"
	"github.com/teemow/meetnotes/internal/credentials"
	"github.com/teemow/meetnotes/internal/google"
)

func newAuthCmd() *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize a Google account for calendar access",
		Long: `Walk through the Google OAuth flow for the given account and store the
resulting token for calendar polling.

Requires GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET in the environment.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuth(account)
		},
	}

	cmd.Flags().StringVar(&account, "account", "default", "Account name the token is stored under")
	cmd.AddCommand(newAuthSSOCmd())

	return cmd
}

func runAuth(account string) error {
	if calendar.HasTokenForAccount(account) {
		fmt.Printf("Account %q already has a token. Continuing will replace it.\n", account)
	}

	fmt.Println("Open the following URL in a browser and authorize access:")
	fmt.Println()
	fmt.Println("  " + google.GetAuthURLForAccount(account))
	fmt.Println()
	fmt.Print("Paste the authorization code: ")

	reader := bufio.NewReader(os.Stdin)
	code, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading authorization code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("no authorization code provided")
	}

	if err := google.SaveTokenForAccount(context.Background(), account, code); err != nil {
		return err
	}
	fmt.Printf("Token stored for account %q.\n", account)
	return nil
}

// newAuthSSOCmd stores the SSO username/password pair the bot types
// into the Google login page when Meet bounces it there.
func newAuthSSOCmd() *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "sso",
		Short: "Store SSO login credentials in the system keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthSSO(account)
		},
	}

	cmd.Flags().StringVar(&account, "account", "default", "Account name the credentials are stored under")

	return cmd
}

func runAuthSSO(account string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Print("SSO username (email): ")
	username, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading username: %w", err)
	}
	fmt.Print("SSO password: ")
	password, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}

	cred := credentials.Credential{
		Username: strings.TrimSpace(username),
		Password: strings.TrimSpace(password),
	}
	if cred.Username == "" || cred.Password == "" {
		return fmt.Errorf("username and password are both required")
	}

	if err := credentials.NewKeyringSource().Store(account, cred); err != nil {
		return err
	}
	fmt.Printf("SSO credentials stored for account %q.\n", account)
	return nil
}
