// Package router implements the routine-selection callback (domain §4.I):
// a RouterFn backed by a hosted LLM API, a local shell command, or nothing
// at all, selected by configuration and injected into the message
// normalizer without that package ever importing a provider SDK directly.
package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go/v3"
	openaioption "github.com/openai/openai-go/v3/option"
	"github.com/sipeed/specloom/internal/config"
	"github.com/sipeed/specloom/pkg/domain"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Fn selects a routine given a rendered prompt. It is message.RouterFn plus
// a context argument, and lives in this package so internal/message never
// needs to know which provider backs it.
type Fn func(ctx context.Context, prompt string) (string, error)

// ErrNoRouter is returned by the none-provider router; callers treat it as
// "use the fallback chain instead".
var ErrNoRouter = errors.New("router: no router configured")

// New builds the RouterFn selected by cfg.Provider.
func New(cfg config.RouterConfig) Fn {
	switch cfg.Provider {
	case domain.RouterAnthropic:
		return anthropicRouter(cfg)
	case domain.RouterOpenAI:
		return openaiRouter(cfg)
	case domain.RouterShell:
		return shellRouter(cfg)
	default:
		return noneRouter
	}
}

func noneRouter(ctx context.Context, prompt string) (string, error) {
	return "", ErrNoRouter
}

func anthropicRouter(cfg config.RouterConfig) Fn {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	model := anthropic.Model(cfg.Model)
	if cfg.Model == "" {
		model = anthropic.ModelClaude3_5HaikuLatest
	}

	return func(ctx context.Context, prompt string) (string, error) {
		msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     model,
			MaxTokens: 256,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return "", fmt.Errorf("router: anthropic completion: %w", err)
		}
		var text strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		return strings.TrimSpace(text.String()), nil
	}
}

func openaiRouter(cfg config.RouterConfig) Fn {
	opts := []openaioption.RequestOption{openaioption.WithAPIKey(resolveOpenAIAPIKey(cfg))}
	if cfg.BaseURL != "" {
		opts = append(opts, openaioption.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}

	return func(ctx context.Context, prompt string) (string, error) {
		resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: model,
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
		})
		if err != nil {
			return "", fmt.Errorf("router: openai completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("router: openai completion: empty response")
		}
		return strings.TrimSpace(resp.Choices[0].Message.Content), nil
	}
}

// resolveOpenAIAPIKey returns cfg.APIKey directly unless it is in the
// "oauth2:client_id:client_secret:token_url" form, in which case it mints a
// fresh access token via the client-credentials flow. Hosted-deployment
// OpenAI-compatible gateways that front the API with their own OAuth2
// authorization server are the reason this path exists; a raw API key is
// the common case and needs no token exchange at all.
func resolveOpenAIAPIKey(cfg config.RouterConfig) string {
	const prefix = "oauth2:"
	if !strings.HasPrefix(cfg.APIKey, prefix) {
		return cfg.APIKey
	}
	parts := strings.SplitN(strings.TrimPrefix(cfg.APIKey, prefix), ":", 3)
	if len(parts) != 3 {
		return cfg.APIKey
	}
	ccCfg := clientcredentials.Config{
		ClientID:     parts[0],
		ClientSecret: parts[1],
		TokenURL:     parts[2],
	}
	token, err := ccCfg.Token(context.Background())
	if err != nil || token == nil {
		return ""
	}
	return tokenString(token)
}

func tokenString(t *oauth2.Token) string {
	return t.AccessToken
}

func shellRouter(cfg config.RouterConfig) Fn {
	return func(ctx context.Context, prompt string) (string, error) {
		command := strings.ReplaceAll(cfg.Model, "{prompt}", prompt)
		if command == "" {
			return "", fmt.Errorf("router: shell provider has no command template")
		}
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		var stdout bytes.Buffer
		cmd.Stdout = &stdout
		if err := cmd.Run(); err != nil {
			return "", fmt.Errorf("router: shell command failed: %w", err)
		}
		return strings.TrimSpace(stdout.String()), nil
	}
}
