package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/wagate-io/wagate/internal/apiclient"
)

// Login flags.
var (
	flagLoginEmail    string
	flagLoginPassword string
	flagPasswordStdin bool
)

// envPassword lets scripts log in without a flag that shows up in ps output.
const envPassword = "WAGATE_PASSWORD"

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE:  runLogin,
	}

	cmd.Flags().StringVar(&flagLoginEmail, "email", "", "account email")
	cmd.Flags().StringVar(&flagLoginPassword, "password", "", "account password (prefer --password-stdin or "+envPassword+")")
	cmd.Flags().BoolVar(&flagPasswordStdin, "password-stdin", false, "read the password from stdin")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and remove saved tokens",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the signed-in account and token state",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new access token",
		Args:  cobra.NoArgs,
		RunE:  runRefresh,
	}
}

// loginOutput is the JSON schema for `login --json`.
type loginOutput struct {
	Email     string  `json:"email"`
	ExpiresIn float64 `json:"expires_in"`
	Resume    string  `json:"resume,omitempty"`
}

func runLogin(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	creds, err := readCredentials(os.Stdin, os.Stderr)
	if err != nil {
		return err
	}

	s, err := openSession(cmd, args, logger)
	if err != nil {
		return err
	}

	res, err := s.Client.Login(ctx, creds)
	if err != nil {
		return finishCommand(s, fmt.Errorf("login failed: %w", err))
	}

	s.SetMeta(loginMeta(creds.Email, res.User))

	resume, _, takeErr := s.Store.Take(ctx, apiclient.RedirectAfterLoginKey)
	if takeErr != nil {
		logger.Warn("reading resume location", slog.String("error", takeErr.Error()))
	}

	statusf("Logged in as %s.\n", creds.Email)

	if resume != "" && resume != apiclient.LoginPath {
		statusf("Resume where you left off: wagate %s\n", resume)
	}

	if flagJSON {
		if err := printJSON(os.Stdout, loginOutput{Email: creds.Email, ExpiresIn: res.ExpiresIn, Resume: resume}); err != nil {
			return finishCommand(s, err)
		}
	}

	return finishCommand(s, nil)
}

// readCredentials collects the email and password from flags, the
// environment, or stdin, prompting on prompt when needed.
func readCredentials(stdin io.Reader, prompt io.Writer) (apiclient.Credentials, error) {
	in := bufio.NewReader(stdin)

	email := strings.TrimSpace(flagLoginEmail)
	if email == "" {
		fmt.Fprint(prompt, "Email: ")

		line, err := readLine(in)
		if err != nil {
			return apiclient.Credentials{}, fmt.Errorf("reading email: %w", err)
		}

		email = line
	}

	password := flagLoginPassword
	if password == "" {
		password = os.Getenv(envPassword)
	}

	if password == "" || flagPasswordStdin {
		if !flagPasswordStdin {
			fmt.Fprint(prompt, "Password: ")
		}

		line, err := readLine(in)
		if err != nil {
			return apiclient.Credentials{}, fmt.Errorf("reading password: %w", err)
		}

		password = line
	}

	if email == "" || password == "" {
		return apiclient.Credentials{}, errors.New("email and password are required")
	}

	return apiclient.Credentials{Email: email, Password: password}, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}

	return strings.TrimRight(line, "\r\n"), nil
}

// loginMeta picks displayable account fields from the login response.
func loginMeta(email string, user map[string]any) map[string]string {
	meta := map[string]string{"email": email}

	for _, key := range []string{"id", "name", "role"} {
		if v, ok := user[key]; ok && v != nil {
			meta["user_"+key] = fmt.Sprint(v)
		}
	}

	return meta
}

func runLogout(cmd *cobra.Command, args []string) error {
	logger := buildLogger()

	s, err := openSession(cmd, args, logger)
	if err != nil {
		return err
	}

	err = s.Client.Logout(cmd.Context())
	if err != nil {
		// Local tokens are gone either way.
		logger.Warn("server logout failed", slog.String("error", err.Error()))
	}

	statusf("Logged out.\n")

	return finishCommand(s, nil)
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	LoggedIn        bool              `json:"logged_in"`
	Account         map[string]string `json:"account,omitempty"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	Expired         bool              `json:"expired"`
	HasRefreshToken bool              `json:"has_refresh_token"`
	Claims          jwt.MapClaims     `json:"claims,omitempty"`
}

func runWhoami(cmd *cobra.Command, args []string) error {
	logger := buildLogger()

	s, err := openSession(cmd, args, logger)
	if err != nil {
		return err
	}

	out := describeTokens(s.Client.Tokens(), s.Meta(), logger)

	if flagJSON {
		return finishCommand(s, printJSON(os.Stdout, out))
	}

	printWhoamiText(os.Stdout, &out, time.Now())

	return finishCommand(s, nil)
}

// describeTokens summarizes the store. Claims are decoded without signature
// verification; the CLI only displays them.
func describeTokens(tokens *apiclient.TokenStore, meta map[string]string, logger *slog.Logger) whoamiOutput {
	state := tokens.Snapshot()

	out := whoamiOutput{
		LoggedIn:        state.AccessToken != "",
		Account:         meta,
		Expired:         tokens.IsExpired(),
		HasRefreshToken: state.RefreshToken != "",
	}

	if !state.ExpiresAt.IsZero() {
		exp := state.ExpiresAt
		out.ExpiresAt = &exp
	}

	if state.AccessToken != "" {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(state.AccessToken, claims); err != nil {
			logger.Debug("access token is not a JWT", slog.String("error", err.Error()))
		} else {
			out.Claims = claims
		}
	}

	return out
}

func printWhoamiText(w io.Writer, out *whoamiOutput, now time.Time) {
	if !out.LoggedIn {
		fmt.Fprintln(w, "Not logged in. Run 'wagate login'.")
		return
	}

	if email := out.Account["email"]; email != "" {
		fmt.Fprintf(w, "Account:  %s\n", email)
	}

	if name := out.Account["user_name"]; name != "" {
		fmt.Fprintf(w, "Name:     %s\n", name)
	}

	expires := "no expiry"
	if out.ExpiresAt != nil {
		expires = fmt.Sprintf("%s (%s)", formatTime(*out.ExpiresAt), formatRemaining(*out.ExpiresAt, now))
	}

	fmt.Fprintf(w, "Token:    %s\n", expires)
	fmt.Fprintf(w, "Refresh:  %t\n", out.HasRefreshToken)

	if sub, err := out.Claims.GetSubject(); err == nil && sub != "" {
		fmt.Fprintf(w, "Subject:  %s\n", sub)
	}
}

func runRefresh(cmd *cobra.Command, args []string) error {
	logger := buildLogger()

	s, err := openSession(cmd, args, logger)
	if err != nil {
		return err
	}

	if err := s.Client.Refresh(cmd.Context()); err != nil {
		return finishCommand(s, fmt.Errorf("refresh failed: %w", err))
	}

	state := s.Client.Tokens().Snapshot()
	statusf("Token refreshed, %s.\n", formatRemaining(state.ExpiresAt, time.Now()))

	return finishCommand(s, nil)
}
