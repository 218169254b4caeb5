package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/sqlchat-go/internal/client"
	"github.com/raphaelgruber/sqlchat-go/internal/tokenstore"
)

var (
	authEmail         string
	authFullName      string
	authPasswordStdin bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store an access token",
	Long: `Log in with email and password. The access token is stored in the
token file (SQLCHAT_TOKEN_FILE) and used by every other command.

Examples:
  sqlchat login --email ana@example.com
  echo "$PASSWORD" | sqlchat login --email ana@example.com --password-stdin`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	Long: `Create an account. The password is asked for twice.

Examples:
  sqlchat register --email ana@example.com --name "Ana Lima"`,
	Args: cobra.NoArgs,
	RunE: runRegister,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and remove the stored token",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged in account",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

func init() {
	for _, cmd := range []*cobra.Command{loginCmd, registerCmd} {
		cmd.Flags().StringVar(&authEmail, "email", "", "account email")
		cmd.Flags().BoolVar(&authPasswordStdin, "password-stdin", false, "read the password from stdin")
	}
	registerCmd.Flags().StringVar(&authFullName, "name", "", "full name")
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	in := bufio.NewReader(os.Stdin)

	email, err := promptValue(in, "Email", authEmail)
	if err != nil {
		return err
	}
	password, err := readPassword(in, "Password")
	if err != nil {
		return err
	}

	resp, err := apiClient.Login(ctx, email, password)
	if err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			return errors.New("invalid email or password")
		}
		return fmt.Errorf("login: %w", err)
	}

	tok := tokenstore.Token{AccessToken: resp.AccessToken, TokenType: resp.TokenType}
	if resp.ExpiresIn > 0 {
		tok.ExpiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	if err := tokens.Set(tok); err != nil {
		return fmt.Errorf("store token: %w", err)
	}

	fmt.Printf("Logged in as %s\n", email)
	if !tok.ExpiresAt.IsZero() {
		fmt.Printf("  Token expires: %s\n", tok.ExpiresAt.Local().Format(time.DateTime))
	}
	return nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	in := bufio.NewReader(os.Stdin)

	email, err := promptValue(in, "Email", authEmail)
	if err != nil {
		return err
	}
	password, err := readPassword(in, "Password")
	if err != nil {
		return err
	}
	confirm := password
	if !authPasswordStdin {
		if confirm, err = readPassword(in, "Confirm password"); err != nil {
			return err
		}
	}

	user, err := apiClient.Register(ctx, client.RegisterInput{
		Email:           email,
		FullName:        authFullName,
		Password:        password,
		ConfirmPassword: confirm,
	})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}

	fmt.Printf("Created account %s (id %d)\n", user.Email, user.ID)
	fmt.Println("Run 'sqlchat login' to start a session.")
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	if tokens.Token() == "" {
		fmt.Println("Not logged in.")
		return nil
	}
	// The server call is best effort; the local token goes either way.
	if err := apiClient.Logout(cmd.Context()); err != nil {
		logger.Warn("server logout failed", "error", err)
	}
	if err := tokens.Clear(); err != nil {
		return err
	}
	fmt.Println("Logged out.")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	if err := requireLogin(); err != nil {
		return err
	}
	user, err := apiClient.Me(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Email:   %s\n", user.Email)
	if user.FullName != "" {
		fmt.Printf("Name:    %s\n", user.FullName)
	}
	fmt.Printf("ID:      %d\n", user.ID)
	if t, ok := tokens.Get(); ok && !t.ExpiresAt.IsZero() {
		fmt.Printf("Expires: %s\n", t.ExpiresAt.Local().Format(time.DateTime))
	}
	return nil
}

// promptValue returns preset, or asks for the value on stdin.
func promptValue(in *bufio.Reader, label, preset string) (string, error) {
	if preset != "" {
		return preset, nil
	}
	if authPasswordStdin {
		return "", fmt.Errorf("--%s is required with --password-stdin", strings.ToLower(label))
	}
	fmt.Printf("%s: ", label)
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readPassword reads a password without echo from a terminal, or a single
// line from stdin with --password-stdin.
func readPassword(in *bufio.Reader, label string) (string, error) {
	if authPasswordStdin {
		line, err := in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal, use --password-stdin")
	}
	fmt.Printf("%s: ", label)
	pw, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}
