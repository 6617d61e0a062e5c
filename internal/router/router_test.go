package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/specloom/internal/config"
	"github.com/sipeed/specloom/pkg/domain"
)

func TestNewNoneProviderReturnsErrNoRouter(t *testing.T) {
	fn := New(config.RouterConfig{Provider: domain.RouterNone})
	_, err := fn(context.Background(), "pick a routine")
	assert.ErrorIs(t, err, ErrNoRouter)
}

func TestShellRouterRunsCommandAndTrimsOutput(t *testing.T) {
	fn := New(config.RouterConfig{Provider: domain.RouterShell, Model: "echo '  develop  '"})
	out, err := fn(context.Background(), "ignored")
	require.NoError(t, err)
	assert.Equal(t, "develop", out)
}

func TestShellRouterSubstitutesPromptPlaceholder(t *testing.T) {
	fn := New(config.RouterConfig{Provider: domain.RouterShell, Model: "echo {prompt}"})
	out, err := fn(context.Background(), "review")
	require.NoError(t, err)
	assert.Equal(t, "review", out)
}

func TestShellRouterEmptyCommandErrors(t *testing.T) {
	fn := New(config.RouterConfig{Provider: domain.RouterShell, Model: ""})
	_, err := fn(context.Background(), "ignored")
	assert.Error(t, err)
}

func TestShellRouterFailingCommandErrors(t *testing.T) {
	fn := New(config.RouterConfig{Provider: domain.RouterShell, Model: "exit 1"})
	_, err := fn(context.Background(), "ignored")
	assert.Error(t, err)
}

func TestResolveOpenAIAPIKeyPassthroughForPlainKey(t *testing.T) {
	assert.Equal(t, "sk-plain", resolveOpenAIAPIKey(config.RouterConfig{APIKey: "sk-plain"}))
}

func TestResolveOpenAIAPIKeyMalformedOAuth2FallsBackToRaw(t *testing.T) {
	cfg := config.RouterConfig{APIKey: "oauth2:only-one-part"}
	assert.Equal(t, cfg.APIKey, resolveOpenAIAPIKey(cfg))
}
