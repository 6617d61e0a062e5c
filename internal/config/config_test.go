package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/specloom/pkg/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	assert.Equal(t, domain.RouterNone, cfg.Router.Provider)
	require.Len(t, cfg.Notify.Providers, 1)
	assert.Equal(t, domain.NotifyNone, cfg.Notify.Providers[0].Provider)
	assert.Equal(t, uint(3), cfg.MaxRetries)
	assert.Equal(t, uint(10), cfg.MaxDepth)
	assert.Equal(t, "develop", cfg.DefaultRoutine)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.MaxRetries = 5
	cfg.DefaultRoutine = "custom"

	require.NoError(t, Save(cfg, root))

	loaded, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, uint(5), loaded.MaxRetries)
	assert.Equal(t, "custom", loaded.DefaultRoutine)
}

func TestLoadMissingFileErrors(t *testing.T) {
	root := t.TempDir()
	_, err := Load(root)
	assert.Error(t, err)
}

func TestLoadAppliesFieldDefaultsForUnsetYAML(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, ".decree", "config.yml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("max_retries: 9\n"), 0o644))

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, uint(9), cfg.MaxRetries)
	assert.Equal(t, uint(10), cfg.MaxDepth)
	assert.Equal(t, "develop", cfg.DefaultRoutine)
}

func TestSaveAndLoadPreservesMultipleNotifyProviders(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.Notify.Providers = []NotifierConfig{
		{Provider: domain.NotifySlack, SlackToken: "xoxb-1", SlackChannel: "#ops"},
		{Provider: domain.NotifyDiscord, DiscordWebhookURL: "https://discord.com/api/webhooks/1/tok"},
	}

	require.NoError(t, Save(cfg, root))

	loaded, err := Load(root)
	require.NoError(t, err)
	require.Len(t, loaded.Notify.Providers, 2)
	assert.Equal(t, domain.NotifySlack, loaded.Notify.Providers[0].Provider)
	assert.Equal(t, "#ops", loaded.Notify.Providers[0].SlackChannel)
	assert.Equal(t, domain.NotifyDiscord, loaded.Notify.Providers[1].Provider)
}

func TestLoadEnvironmentOverlayWinsOverFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Save(Default(), root))

	t.Setenv("DECREE_MAX_RETRIES", "42")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, uint(42), cfg.MaxRetries)
}
