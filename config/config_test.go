package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stripekit/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stripekit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// TestLoadConfig_Defaults 测试最小配置下的默认值
func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
api:
  secret_key: sk_test_123456789
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultBaseURL, cfg.API.BaseURL)
	assert.Equal(t, config.DefaultAPIVersion, cfg.API.APIVersion)
	assert.Equal(t, "retry", cfg.Retry.Strategy)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 8*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)
	assert.Equal(t, 80*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.False(t, cfg.RequestLog.Enabled)
	assert.Equal(t, "data/requests.db", cfg.RequestLog.DatabasePath)
	assert.Equal(t, "/v1/balance", cfg.Probe.Path)
	assert.Equal(t, "UTC", cfg.Timezone)
}

func TestLoadConfig_ExpandsEnvironment(t *testing.T) {
	t.Setenv("STRIPEKIT_TEST_KEY", "sk_test_from_env_0001")
	path := writeConfig(t, `
api:
  secret_key: ${STRIPEKIT_TEST_KEY}
  base_url: http://localhost:12111/
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sk_test_from_env_0001", cfg.API.SecretKey)
	assert.Equal(t, "http://localhost:12111/", cfg.API.BaseURL)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		expectErr bool
		errMsg    string
	}{
		{
			name: "valid retry config",
			yaml: `
retry:
  strategy: retry
  max_attempts: 5
`,
		},
		{
			name: "once strategy",
			yaml: `
retry:
  strategy: once
`,
		},
		{
			name: "unknown strategy",
			yaml: `
retry:
  strategy: forever
`,
			expectErr: true,
			errMsg:    "retry strategy must be",
		},
		{
			name: "negative attempts",
			yaml: `
retry:
  max_attempts: -1
`,
			expectErr: true,
			errMsg:    "max_attempts must be at least 1",
		},
		{
			name: "multiplier below one",
			yaml: `
retry:
  multiplier: 0.5
`,
			expectErr: true,
			errMsg:    "multiplier must be >= 1",
		},
		{
			name: "max delay below base delay",
			yaml: `
retry:
  base_delay: 10s
  max_delay: 1s
`,
			expectErr: true,
			errMsg:    "max_delay must be >= base_delay",
		},
		{
			name: "publishable key rejected",
			yaml: `
api:
  secret_key: pk_test_123
`,
			expectErr: true,
			errMsg:    "secret_key",
		},
		{
			name: "bad base url scheme",
			yaml: `
api:
  base_url: ftp://api.stripe.com
`,
			expectErr: true,
			errMsg:    "http or https",
		},
		{
			name: "proxy without type",
			yaml: `
transport:
  proxy:
    enabled: true
    url: http://127.0.0.1:8888
`,
			expectErr: true,
			errMsg:    "proxy type is required",
		},
		{
			name: "socks5 proxy",
			yaml: `
transport:
  proxy:
    enabled: true
    type: socks5
    host: 127.0.0.1
    port: 1080
`,
		},
		{
			name: "mysql request log without host",
			yaml: `
request_log:
  enabled: true
  database:
    type: mysql
    database: stripekit
`,
			expectErr: true,
			errMsg:    "mysql requires host",
		},
		{
			name: "bad logging level",
			yaml: `
logging:
  level: verbose
`,
			expectErr: true,
			errMsg:    "logging level",
		},
		{
			name: "bad timezone",
			yaml: `
timezone: Mars/Olympus
`,
			expectErr: true,
			errMsg:    "timezone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.yaml))
			if tt.expectErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestParse_DatabaseTypeInferred(t *testing.T) {
	cfg, err := config.Parse([]byte(`
request_log:
  enabled: true
  database:
    host: db.internal
    database: stripekit
    username: stripe
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.RequestLog.Database)
	assert.Equal(t, "mysql", cfg.RequestLog.Database.Type)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.API.SecretKey = "sk_test_roundtrip_0001"
	cfg.Retry.MaxAttempts = 7

	path := filepath.Join(t.TempDir(), "nested", "stripekit.yaml")
	require.NoError(t, config.SaveConfig(cfg, path))

	loaded, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Empty(t, config.ChangedSections(cfg, loaded))
}

func TestChangedSections(t *testing.T) {
	oldConfig := config.Default()
	newConfig := config.Default()
	newConfig.Retry.MaxAttempts = 10
	newConfig.API.SecretKey = "sk_test_changed_0001"

	assert.Equal(t, []string{"api", "retry"}, config.ChangedSections(oldConfig, newConfig))
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "", config.MaskKey(""))
	assert.Equal(t, "*****", config.MaskKey("sk_te"))
	assert.Equal(t, "sk_test_********1234", config.MaskKey("sk_test_abcdefgh1234"))
}

// TestConfigWatcher_Reload 测试配置文件热重载
func TestConfigWatcher_Reload(t *testing.T) {
	path := writeConfig(t, `
retry:
  max_attempts: 2
`)

	watcher, err := config.NewConfigWatcher(path, nil)
	require.NoError(t, err)
	defer watcher.Close()

	assert.Equal(t, 2, watcher.GetConfig().Retry.MaxAttempts)

	reloaded := make(chan *config.Config, 1)
	watcher.AddReloadCallback(func(cfg *config.Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	// 保证修改时间前进
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`
retry:
  max_attempts: 6
`), 0644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 6, cfg.Retry.MaxAttempts)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
	assert.Equal(t, 6, watcher.GetConfig().Retry.MaxAttempts)
}
