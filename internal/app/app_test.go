package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/keapsync/internal/config"
	"github.com/custodia-labs/keapsync/internal/connectors/keap"
	"github.com/custodia-labs/keapsync/internal/core/domain"
)

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Keap: config.KeapConfig{
			BaseURL: baseURL,
			APIKey:  "test-key",
			Timeout: 5 * time.Second,
		},
		Database:  config.DatabaseConfig{Driver: config.DriverSQLite, Path: filepath.Join(dir, "data", "keapsync.db")},
		Telemetry: config.TelemetryConfig{Enabled: true},
		Sync: config.SyncConfig{
			PageSize:   2,
			BatchSize:  10,
			MaxRetries: 1,
			BaseDelay:  time.Millisecond,
			MaxDelay:   time.Millisecond,
		},
		Scheduler: config.SchedulerConfig{Interval: 2 * time.Hour, RetentionDays: 7},
	}
}

func TestNew_SQLiteEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get(keap.HeaderAPIKey))
		if r.URL.Query().Get("offset") == "0" {
			_, _ = w.Write([]byte(`{"tags":[{"id":1,"name":"vip"},{"id":2,"name":"lead"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"tags":[]}`))
	}))
	defer srv.Close()

	a, err := New(context.Background(), testConfig(t, srv.URL))
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, domain.AuthMethodAPIKey, a.Tokens.AuthMethod())
	assert.True(t, a.Tracker.Enabled())
	assert.Len(t, a.Sync.Entities(), len(keap.SyncOrder))

	report, err := a.Sync.Run(context.Background(), domain.SyncOptions{Entities: []string{keap.EntityTags}})
	require.NoError(t, err)
	assert.Zero(t, report.ExitCode())
	assert.Equal(t, 2, report.TotalItems())

	n, err := a.Sink.CountRecords(context.Background(), keap.EntityTags)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	runs, err := a.Telemetry.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunSuccess, runs[0].Status)
}

func TestNew_InvalidDriver(t *testing.T) {
	cfg := testConfig(t, "http://unused")
	cfg.Database.Driver = "mysql"

	_, err := New(context.Background(), cfg)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNew_PostgresNeedsURL(t *testing.T) {
	cfg := testConfig(t, "http://unused")
	cfg.Database = config.DatabaseConfig{Driver: config.DriverPostgres}

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestNew_NoCredentials(t *testing.T) {
	cfg := testConfig(t, "http://unused")
	cfg.Keap.APIKey = ""

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, domain.AuthMethodNone, a.Tokens.AuthMethod())
}

func TestSchedulerConfig(t *testing.T) {
	sc := SchedulerConfig(config.SchedulerConfig{Interval: 15 * time.Minute})
	assert.True(t, sc.GetTaskConfig(domain.TaskIDEntitySync).Enabled)
	assert.Equal(t, 15*time.Minute, sc.GetTaskConfig(domain.TaskIDEntitySync).Interval)
	assert.Equal(t, 24*time.Hour, sc.GetTaskConfig(domain.TaskIDTelemetryPrune).Interval)

	def := SchedulerConfig(config.SchedulerConfig{})
	assert.Equal(t, time.Hour, def.GetTaskConfig(domain.TaskIDEntitySync).Interval)
}
