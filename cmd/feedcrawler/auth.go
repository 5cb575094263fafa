package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"feedcrawler/pkg/auth"
	"feedcrawler/pkg/ui"
)

var (
	cookieHeader string
	userAgent    string
	removeAll    bool
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage session cookies",
	Long: `Manage the X session cookies the crawler logs in with.

Cookies are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables FEEDCRAWLER_AUTH_TOKEN and FEEDCRAWLER_CT0

Never share your cookies or config files!`,
}

var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Store the session cookies of a logged-in browser",
	Long: `Store the auth_token and ct0 cookies of a browser that is logged into x.com.

You will be prompted for:
  - The account name (if not provided)
  - auth_token and ct0 cookie values (hidden as you type)
  - User Agent (optional, press Enter to keep the browser default)

Alternatively pass the whole Cookie request header with --cookie.`,
	Example: `  # Interactive login
  feedcrawler auth login

  # Paste the Cookie header copied from the network tab
  feedcrawler auth login alice --cookie "guest_id=...; auth_token=...; ct0=..."`,
	Args: cobra.MaximumNArgs(1),
	Run:  runLogin,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored accounts",
	Args:  cobra.NoArgs,
	Run:   runList,
}

var removeCmd = &cobra.Command{
	Use:     "remove [username]",
	Aliases: []string{"logout"},
	Short:   "Remove stored cookies",
	Long: `Remove a stored account. Without a username you are shown the stored
accounts to choose from.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runRemove,
}

var defaultCmd = &cobra.Command{
	Use:   "default [username]",
	Short: "Show or set the account crawls use",
	Args:  cobra.MaximumNArgs(1),
	Run:   runDefault,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(listCmd)
	authCmd.AddCommand(removeCmd)
	authCmd.AddCommand(defaultCmd)

	loginCmd.Flags().StringVar(&cookieHeader, "cookie", "", "raw Cookie header containing auth_token and ct0")
	loginCmd.Flags().StringVar(&userAgent, "user-agent", "", "user agent of the browser the cookies came from")
	removeCmd.Flags().BoolVar(&removeAll, "all", false, "remove every stored account")
}

func credentialManager() *auth.Manager {
	manager, err := auth.NewManager()
	exitOnError("Failed to initialize credential manager", err)
	return manager
}

func runLogin(cmd *cobra.Command, args []string) {
	manager := credentialManager()
	reader := bufio.NewReader(os.Stdin)

	var username string
	if len(args) > 0 {
		username = strings.TrimSpace(args[0])
	}

	interactive := cookieHeader == ""
	if interactive {
		auth.WriteCookieGuide(ui.Out)
		fmt.Fprint(ui.Out, "Ready to enter your cookies? (Y/n): ")
		ready, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(ready)) == "n" {
			fmt.Fprintln(ui.Out, "\nRun 'feedcrawler auth login' when you're ready.")
			return
		}
		fmt.Fprintln(ui.Out)
	}

	if username == "" {
		fmt.Fprint(ui.Out, "Account name (your @handle): ")
		input, err := reader.ReadString('\n')
		exitOnError("Failed to read account name", err)
		username = strings.TrimPrefix(strings.TrimSpace(input), "@")
	}
	if username == "" {
		exitOnError("Account name is required", errors.New("empty account name"))
	}

	if existing, _ := manager.Retrieve(username); existing != nil && interactive {
		fmt.Fprintf(ui.Out, "\nAccount '%s' already exists. Update its cookies? (y/N): ", username)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return
		}
	}

	var token, csrf string
	if interactive {
		fmt.Fprintln(ui.Out, "\nEnter your cookie values (they will be hidden as you type):")
		token = promptSecret(reader, "auth_token", validAuthToken,
			"It should be 40 hexadecimal characters, for example 3f9a0c...")
		csrf = promptSecret(reader, "ct0", validCSRFToken,
			"It should be 32 or 160 hexadecimal characters.")

		fmt.Fprint(ui.Out, "\nUser Agent (press Enter to keep the browser default): ")
		input, _ := reader.ReadString('\n')
		userAgent = strings.TrimSpace(input)
	} else {
		token, csrf = auth.ParseCookieHeader(cookieHeader)
		if err := validAuthToken(token); err != nil {
			exitOnError("The --cookie header has no usable auth_token", err)
		}
		if err := validCSRFToken(csrf); err != nil {
			exitOnError("The --cookie header has no usable ct0", err)
		}
	}

	account := &auth.Account{
		Username:     username,
		AuthToken:    token,
		CSRFToken:    csrf,
		UserAgent:    userAgent,
		LastModified: time.Now(),
	}
	exitOnError("Invalid account", account.Validate())

	exitOnError("Failed to store cookies", manager.Store(account))

	accounts, _ := manager.List()
	if len(accounts) == 1 || manager.DefaultUsername() == "" {
		if err := manager.SetDefault(username); err == nil {
			fmt.Fprintf(ui.Out, "Set '%s' as default account\n", username)
		}
	}

	sanitized := auth.SanitizeAccount(account)
	ui.RenderKeyValues(ui.Out, "Stored", []ui.KeyValue{
		{Key: "Account", Value: sanitized.Username},
		{Key: "auth_token", Value: sanitized.AuthToken},
		{Key: "ct0", Value: sanitized.CSRFToken},
	})
	ui.PrintSuccess("Account saved: " + username)

	fmt.Fprintln(ui.Out, "\nCrawl a ticker:")
	fmt.Fprintln(ui.Out, "  $ feedcrawler crawl TSLA --since 2024-01-01")
	fmt.Fprintln(ui.Out, "\nUse this account explicitly:")
	fmt.Fprintf(ui.Out, "  $ feedcrawler crawl TSLA --account %s\n", username)
	fmt.Fprintln(ui.Out, "\nNever share your cookies or config files!")
}

// promptSecret reads a hidden value until valid accepts it or the user gives up
func promptSecret(reader *bufio.Reader, name string, valid func(string) error, hint string) string {
	for {
		fmt.Fprintf(ui.Out, "%s cookie value: ", name)
		value, err := readPassword(reader)
		exitOnError("Failed to read "+name, err)

		if err := valid(value); err == nil {
			return value
		}
		fmt.Fprintf(ui.Out, "\nThat doesn't look like a valid %s.\n", name)
		fmt.Fprintf(ui.Out, "   %s\n", hint)
		fmt.Fprint(ui.Out, "\nTry again? (Y/n): ")
		retry, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(retry)) == "n" {
			os.Exit(1)
		}
	}
}

func isHex(s string) bool {
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return s != ""
}

func validAuthToken(v string) error {
	if len(v) != 40 || !isHex(v) {
		return errors.New("auth_token must be 40 hex characters")
	}
	return nil
}

func validCSRFToken(v string) error {
	if (len(v) != 32 && len(v) != 160) || !isHex(v) {
		return errors.New("ct0 must be 32 or 160 hex characters")
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) {
	manager := credentialManager()
	accounts, err := manager.List()
	exitOnError("Failed to list accounts", err)

	if len(accounts) == 0 {
		ui.PrintInfo("No stored accounts", "use 'feedcrawler auth login' to add one")
		return
	}

	def := manager.DefaultUsername()
	t := ui.NewTable(ui.Out)
	t.SetTitle("Stored accounts")
	t.AppendHeader([]interface{}{"", "Account", "auth_token", "ct0", "User Agent", "Modified"})
	for _, account := range accounts {
		s := auth.SanitizeAccount(account)
		marker := ""
		if s.Username == def {
			marker = "*"
		}
		t.AppendRow([]interface{}{marker, s.Username, s.AuthToken, s.CSRFToken, ui.Preview(s.UserAgent, 30), s.LastModified.Format(time.DateTime)})
	}
	t.Render()
}

func runRemove(cmd *cobra.Command, args []string) {
	manager := credentialManager()
	reader := bufio.NewReader(os.Stdin)

	if removeAll {
		fmt.Fprint(ui.Out, "Remove ALL accounts? This cannot be undone! (yes/N): ")
		confirm, _ := reader.ReadString('\n')
		if strings.TrimSpace(confirm) != "yes" {
			return
		}
		exitOnError("Failed to remove all accounts", manager.DeleteAll())
		ui.PrintSuccess("All accounts removed")
		return
	}

	if len(args) == 1 {
		exitOnError("Failed to remove account", manager.Delete(args[0]))
		ui.PrintSuccess("Account removed: " + args[0])
		return
	}

	accounts, err := manager.List()
	if err != nil || len(accounts) == 0 {
		ui.PrintWarning("No stored accounts found")
		return
	}

	fmt.Fprintln(ui.Out, "Select account to remove:")
	for i, account := range accounts {
		fmt.Fprintf(ui.Out, "  %d. %s\n", i+1, account.Username)
	}
	fmt.Fprint(ui.Out, "  0. Cancel\n\nChoice: ")
	input, _ := reader.ReadString('\n')

	var choice int
	fmt.Sscanf(strings.TrimSpace(input), "%d", &choice)
	if choice == 0 {
		return
	}
	if choice < 0 || choice > len(accounts) {
		exitOnError("Invalid choice", fmt.Errorf("%d is not in the list", choice))
	}

	name := accounts[choice-1].Username
	exitOnError("Failed to remove account", manager.Delete(name))
	ui.PrintSuccess("Account removed: " + name)
}

func runDefault(cmd *cobra.Command, args []string) {
	manager := credentialManager()

	if len(args) == 0 {
		if name := manager.DefaultUsername(); name != "" {
			ui.PrintInfo("Default account", name)
			return
		}
		account, err := manager.RetrieveDefault()
		if err != nil {
			ui.PrintWarning("No stored accounts found")
			return
		}
		ui.PrintInfo("Default account", account.Username+" (most recent)")
		return
	}

	exitOnError("Failed to set default account", manager.SetDefault(args[0]))
	ui.PrintSuccess("Default account: " + args[0])
}

// readPassword reads a line from stdin without echoing when stdin is a terminal
func readPassword(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		password, err := term.ReadPassword(fd)
		fmt.Fprintln(ui.Out)
		if err == nil {
			return strings.TrimSpace(string(password)), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
