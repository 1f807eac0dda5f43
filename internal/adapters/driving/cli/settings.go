package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/keapsync/internal/config"
	"github.com/custodia-labs/keapsync/internal/core/domain"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "View and change stored settings",
	Long: `Reads and writes ~/.keapsync/config.toml.

Environment variables (KEAP_API_KEY, DATABASE_URL, SYNC_PAGE_SIZE, ...) and a
.env file in the working directory take precedence over stored values.`,
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every setting and its stored value",
	Args:  cobra.NoArgs,
	RunE:  runSettingsList,
}

var settingsGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print a stored setting",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsGet,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Store a setting",
	Long: `Stores a setting. Secrets such as keap.client_secret are prompted for
without echo when the value is omitted.

Examples:
  keapsync settings set sync.page_size 500
  keapsync settings set scheduler.interval 30m
  keapsync settings set keap.client_secret`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSettingsSet,
}

var settingsUnsetCmd = &cobra.Command{
	Use:   "unset [key]",
	Short: "Remove a stored setting",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsUnset,
}

func init() {
	settingsCmd.AddCommand(settingsListCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsUnsetCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsList(cmd *cobra.Command, _ []string) error {
	if configStore == nil {
		return errors.New("settings store not configured")
	}

	cmd.Println(titleStyle.Render("Settings") + " " + mutedStyle.Render(configStore.Path()))
	for _, key := range config.Keys() {
		value, ok := configStore.Get(key)
		if !ok {
			cmd.Printf("  %-28s %s\n", key, mutedStyle.Render("(default)"))
			continue
		}
		cmd.Printf("  %-28s %s\n", key, displayValue(key, value))
	}
	return nil
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	if configStore == nil {
		return errors.New("settings store not configured")
	}
	key := args[0]
	if err := checkKey(key); err != nil {
		return err
	}

	value, ok := configStore.Get(key)
	if !ok {
		return fmt.Errorf("%s is not set: %w", key, domain.ErrNotFound)
	}
	cmd.Println(displayValue(key, value))
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	if configStore == nil {
		return errors.New("settings store not configured")
	}
	key := args[0]
	if err := checkKey(key); err != nil {
		return err
	}

	var raw string
	if len(args) == 2 {
		raw = args[1]
	} else {
		if !config.IsSecret(key) {
			return fmt.Errorf("%w: a value is required for %s", domain.ErrInvalidInput, key)
		}
		cmd.Printf("%s: ", key)
		raw = readPassword()
		cmd.Println()
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: empty value for %s", domain.ErrInvalidInput, key)
	}

	value := parseValue(raw)
	if err := configStore.Set(key, value); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	cmd.Printf("Set %s = %s\n", key, displayValue(key, value))
	return nil
}

func runSettingsUnset(cmd *cobra.Command, args []string) error {
	if configStore == nil {
		return errors.New("settings store not configured")
	}
	key := args[0]
	if err := checkKey(key); err != nil {
		return err
	}
	if err := configStore.Unset(key); err != nil {
		return fmt.Errorf("failed to unset %s: %w", key, err)
	}
	cmd.Printf("Unset %s\n", key)
	return nil
}

func checkKey(key string) error {
	if !config.IsKnownKey(key) {
		return fmt.Errorf("%w: unknown setting %q, see 'keapsync settings list'", domain.ErrInvalidInput, key)
	}
	return nil
}

// parseValue stores numbers as TOML numbers and everything else as text.
func parseValue(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func displayValue(key string, value any) string {
	s := fmt.Sprint(value)
	if config.IsSecret(key) {
		return maskAPIKey(s)
	}
	return s
}

//nolint:errcheck // CLI helper, error ignored for UX
func readPassword() string {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err == nil {
			return string(password)
		}
	}
	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
