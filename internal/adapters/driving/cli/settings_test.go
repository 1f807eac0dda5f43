package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/keapsync/internal/adapters/driven/config/file"
	"github.com/custodia-labs/keapsync/internal/core/domain"
)

func setupSettings(t *testing.T) *file.ConfigStore {
	t.Helper()
	setupServices(t)
	store, err := file.NewConfigStore(t.TempDir())
	require.NoError(t, err)
	configStore = store
	return store
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Short key",
			input:    "abc123",
			expected: "****",
		},
		{
			name:     "Exactly 8 chars",
			input:    "12345678",
			expected: "****",
		},
		{
			name:     "Long key",
			input:    "sk-1234567890abcdef",
			expected: "sk-1...cdef",
		},
		{
			name:     "Very long key",
			input:    "sk-proj-1234567890abcdefghijklmnop",
			expected: "sk-p...mnop",
		},
		{
			name:     "Empty key",
			input:    "",
			expected: "****",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := maskAPIKey(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestSettingsSet_TypesValues(t *testing.T) {
	store := setupSettings(t)

	out, err := execute(t, "settings", "set", "sync.page_size", "500")
	require.NoError(t, err)
	assert.Contains(t, out, "Set sync.page_size = 500")
	assert.Equal(t, 500, store.GetInt("sync.page_size"))

	_, err = execute(t, "settings", "set", "keap.requests_per_second", "2.5")
	require.NoError(t, err)
	v, ok := store.Get("keap.requests_per_second")
	require.True(t, ok)
	assert.Equal(t, 2.5, v)

	_, err = execute(t, "settings", "set", "scheduler.interval", "30m")
	require.NoError(t, err)
	assert.Equal(t, "30m", store.GetString("scheduler.interval"))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "[sync]")
	assert.Contains(t, string(data), "page_size = 500")
}

func TestSettingsSet_SecretIsMasked(t *testing.T) {
	store := setupSettings(t)

	out, err := execute(t, "settings", "set", "keap.api_key", "ka-1234567890abcdef")
	require.NoError(t, err)
	assert.Contains(t, out, "ka-1...cdef")
	assert.NotContains(t, out, "1234567890")
	assert.Equal(t, "ka-1234567890abcdef", store.GetString("keap.api_key"))

	out, err = execute(t, "settings", "get", "keap.api_key")
	require.NoError(t, err)
	assert.Equal(t, "ka-1...cdef\n", out)
}

func TestSettingsSet_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown key", []string{"settings", "set", "keap.colour", "blue"}},
		{"missing value", []string{"settings", "set", "sync.page_size"}},
		{"blank value", []string{"settings", "set", "log.level", "  "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupSettings(t)

			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestSettingsGet(t *testing.T) {
	store := setupSettings(t)
	require.NoError(t, store.Set("db.driver", "postgres"))

	out, err := execute(t, "settings", "get", "db.driver")
	require.NoError(t, err)
	assert.Equal(t, "postgres\n", out)

	_, err = execute(t, "settings", "get", "db.path")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSettingsList(t *testing.T) {
	store := setupSettings(t)
	require.NoError(t, store.Set("log.format", "text"))
	require.NoError(t, store.Set("keap.client_secret", "secret-secret-secret"))

	out, err := execute(t, "settings", "list")
	require.NoError(t, err)

	assert.Contains(t, out, filepath.Base(store.Path()))
	assert.Contains(t, out, "log.format")
	assert.Contains(t, out, "text")
	assert.Contains(t, out, "secr...cret")
	assert.NotContains(t, out, "secret-secret-secret")
	assert.Contains(t, out, "(default)")
}

func TestSettingsUnset(t *testing.T) {
	store := setupSettings(t)
	require.NoError(t, store.Set("log.level", "debug"))

	out, err := execute(t, "settings", "unset", "log.level")
	require.NoError(t, err)
	assert.Contains(t, out, "Unset log.level")

	_, ok := store.Get("log.level")
	assert.False(t, ok)

	reloaded, err := file.NewConfigStore(filepath.Dir(store.Path()))
	require.NoError(t, err)
	_, ok = reloaded.Get("log.level")
	assert.False(t, ok)
}

func TestSettingsCmd_NotConfigured(t *testing.T) {
	setupServices(t)

	_, err := execute(t, "settings", "list")
	assert.ErrorContains(t, err, "settings store not configured")
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, int64(42), parseValue("42"))
	assert.Equal(t, 0.5, parseValue("0.5"))
	assert.Equal(t, "on", parseValue("on"))
	assert.Equal(t, "1h", parseValue("1h"))
}
