package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	keapoauth "github.com/custodia-labs/keapsync/internal/adapters/driven/oauth"
	"github.com/custodia-labs/keapsync/internal/adapters/driving/oauth"
	"github.com/custodia-labs/keapsync/internal/core/domain"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Connect keapsync to a Keap account",
	Long: `Manage Keap credentials.

A service account key (KEAP_API_KEY) needs no login. For OAuth, register an
app in the Keap developer portal, set KEAP_CLIENT_ID and KEAP_CLIENT_SECRET,
add the redirect URI (default http://localhost:5000/keap/oauth/callback) and
run 'keapsync auth login'.`,
}

var authURLCmd = &cobra.Command{
	Use:   "url",
	Short: "Print the authorization URL",
	Args:  cobra.NoArgs,
	RunE:  runAuthURL,
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize keapsync and store OAuth tokens",
	Long: `Opens the Keap authorization page, receives the redirect on the
configured redirect URI and stores the tokens in the token file.

Pass --code to exchange a code copied from the redirect by hand instead.`,
	Args: cobra.NoArgs,
	RunE: runAuthLogin,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which credentials will be used",
	Args:  cobra.NoArgs,
	RunE:  runAuthStatus,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete stored OAuth tokens",
	Args:  cobra.NoArgs,
	RunE:  runAuthLogout,
}

// Flags for auth login.
var (
	authLoginCode      string
	authLoginNoBrowser bool
	authLoginTimeout   time.Duration
)

// Replaced in tests.
var (
	tokenURL    = keapoauth.TokenURL
	openBrowser = oauth.OpenBrowser
)

func init() {
	authLoginCmd.Flags().StringVar(&authLoginCode, "code", "", "Authorization code to exchange without the callback server")
	authLoginCmd.Flags().BoolVar(&authLoginNoBrowser, "no-browser", false, "Print the URL instead of opening a browser")
	authLoginCmd.Flags().DurationVar(&authLoginTimeout, "timeout", 5*time.Minute, "How long to wait for the redirect")

	authCmd.AddCommand(authURLCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authLogoutCmd)
	rootCmd.AddCommand(authCmd)
}

func oauthClient() keapoauth.Client {
	return keapoauth.Client{
		ClientID:     appConfig.Keap.ClientID,
		ClientSecret: appConfig.Keap.ClientSecret,
		RedirectURI:  appConfig.Keap.RedirectURI,
		TokenURL:     tokenURL,
	}
}

func runAuthURL(cmd *cobra.Command, _ []string) error {
	if appConfig.Keap.ClientID == "" {
		return fmt.Errorf("%w: set KEAP_CLIENT_ID first", domain.ErrAuthRequired)
	}
	state, err := oauth.NewState()
	if err != nil {
		return err
	}
	cmd.Println(oauthClient().AuthCodeURL(state))
	return nil
}

func runAuthLogin(cmd *cobra.Command, _ []string) error {
	if appConfig.Keap.ClientID == "" {
		return fmt.Errorf("%w: set KEAP_CLIENT_ID first", domain.ErrAuthRequired)
	}
	if appConfig.Keap.ClientSecret == "" {
		cmd.Print("Keap client secret: ")
		appConfig.Keap.ClientSecret = readPassword()
		cmd.Println()
	}
	client := oauthClient()
	ctx := cmd.Context()

	code := authLoginCode
	if code == "" {
		var err error
		if code, err = receiveCode(ctx, cmd, client); err != nil {
			return err
		}
	}

	tok, err := client.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	store := keapoauth.NewTokenFile(appConfig.Keap.TokenFile)
	if err := store.Save(tok); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	cmd.Println(successStyle.Render("Logged in."))
	cmd.Printf("Tokens saved to %s (access token expires %s)\n",
		store.Path(), tok.Expiry.Local().Format(time.RFC3339))
	return nil
}

// receiveCode runs the callback server until the redirect arrives.
func receiveCode(ctx context.Context, cmd *cobra.Command, client keapoauth.Client) (string, error) {
	state, err := oauth.NewState()
	if err != nil {
		return "", err
	}
	server, err := oauth.NewCallbackServer(client.RedirectURI, state)
	if err != nil {
		return "", err
	}
	if err := server.Start(); err != nil {
		return "", err
	}
	defer func() { _ = server.Stop() }()

	url := client.AuthCodeURL(state)
	if authLoginNoBrowser || openBrowser(url) != nil {
		cmd.Println("Open this URL to authorize keapsync:")
	} else {
		cmd.Println("Opened the browser. If nothing happened, open this URL:")
	}
	cmd.Println(url)
	cmd.Println(mutedStyle.Render("Waiting for the redirect on " + server.Addr() + server.Path()))

	waitCtx, cancel := context.WithTimeout(ctx, authLoginTimeout)
	defer cancel()
	return server.WaitForCode(waitCtx)
}

func runAuthStatus(cmd *cobra.Command, _ []string) error {
	k := appConfig.Keap
	if k.APIKey != "" {
		cmd.Printf("Method: API key (%s)\n", maskAPIKey(k.APIKey))
		return nil
	}

	tok, err := keapoauth.NewTokenFile(k.TokenFile).Load()
	switch {
	case errors.Is(err, domain.ErrNotFound):
		cmd.Println("Method: none")
		cmd.Println(warningStyle.Render("Not logged in.") + " Set KEAP_API_KEY or run 'keapsync auth login'.")
		return nil
	case err != nil:
		return fmt.Errorf("reading tokens: %w", err)
	}

	cmd.Printf("Method:  OAuth (%s)\n", k.TokenFile)
	if !k.HasOAuthClient() {
		cmd.Println(warningStyle.Render("KEAP_CLIENT_ID or KEAP_CLIENT_SECRET missing, tokens cannot be refreshed."))
	}
	switch {
	case tok.Expiry.IsZero():
		cmd.Println("Expires: unknown")
	case tok.IsExpired():
		cmd.Printf("Expires: %s %s\n", tok.Expiry.Local().Format(time.RFC3339), errorStyle.Render("(expired, will refresh)"))
	default:
		cmd.Printf("Expires: %s (in %s)\n", tok.Expiry.Local().Format(time.RFC3339), time.Until(tok.Expiry).Round(time.Second))
	}
	if tok.RefreshToken == "" {
		cmd.Println(warningStyle.Render("No refresh token stored."))
	}
	return nil
}

func runAuthLogout(cmd *cobra.Command, _ []string) error {
	if err := keapoauth.NewTokenFile(appConfig.Keap.TokenFile).Delete(); err != nil {
		return err
	}
	cmd.Println("Stored tokens removed.")
	return nil
}
