// Package notify delivers best-effort notifications on dead-letter and
// chain-completion events (domain §4.J). Delivery failures are logged, never
// propagated — a broken webhook must not stall the pipeline.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/sipeed/specloom/internal/config"
	"github.com/sipeed/specloom/pkg/domain"
)

// EventKind distinguishes the two notification triggers the pipeline fires.
type EventKind int

const (
	EventDeadLetter EventKind = iota
	EventChainComplete
)

// Event carries the context a notifier renders into a message.
type Event struct {
	Kind      EventKind
	Chain     string
	MessageID string
	Reason    string
}

// Notifier delivers one Event. Implementations must honor ctx's deadline
// and must not block past it.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// perNotifyTimeout bounds any single notifier's delivery attempt so a slow
// or unreachable channel cannot stall the pipeline that called Notify.
const perNotifyTimeout = 10 * time.Second

// New builds the Notifier for cfg.Providers: none configured (or only
// "none" entries) returns a no-op, a single configured backend returns it
// directly, and more than one is wrapped in a Fanout that delivers to all
// of them concurrently.
func New(cfg config.NotifyConfig, logger zerolog.Logger) Notifier {
	var notifiers []Notifier
	for _, nc := range cfg.Providers {
		if n := newNotifier(nc, logger); n != nil {
			notifiers = append(notifiers, n)
		}
	}
	switch len(notifiers) {
	case 0:
		return noneNotifier{}
	case 1:
		return notifiers[0]
	default:
		return Fanout{Notifiers: notifiers, Log: logger}
	}
}

// newNotifier builds the backend selected by nc.Provider, or nil for
// "none"/unrecognized providers.
func newNotifier(nc config.NotifierConfig, logger zerolog.Logger) Notifier {
	switch nc.Provider {
	case domain.NotifySlack:
		return &slackNotifier{client: slack.New(nc.SlackToken), channel: nc.SlackChannel, log: logger}
	case domain.NotifyDiscord:
		return &discordNotifier{webhookURL: nc.DiscordWebhookURL, log: logger}
	default:
		return nil
	}
}

type noneNotifier struct{}

func (noneNotifier) Notify(ctx context.Context, ev Event) error { return nil }

// Fanout delivers an event to every registered notifier concurrently,
// bounding each with perNotifyTimeout and logging (never returning) each
// notifier's error.
type Fanout struct {
	Notifiers []Notifier
	Log       zerolog.Logger
}

func (f Fanout) Notify(ctx context.Context, ev Event) error {
	done := make(chan struct{}, len(f.Notifiers))
	for _, n := range f.Notifiers {
		n := n
		go func() {
			defer func() { done <- struct{}{} }()
			nctx, cancel := context.WithTimeout(ctx, perNotifyTimeout)
			defer cancel()
			if err := n.Notify(nctx, ev); err != nil {
				f.Log.Warn().Err(err).Str("chain", ev.Chain).Msg("notify: delivery failed")
			}
		}()
	}
	for range f.Notifiers {
		<-done
	}
	return nil
}

func renderText(ev Event) string {
	switch ev.Kind {
	case EventDeadLetter:
		return fmt.Sprintf("specloom: message %s in chain %s moved to dead-letter: %s", ev.MessageID, ev.Chain, ev.Reason)
	case EventChainComplete:
		return fmt.Sprintf("specloom: chain %s completed", ev.Chain)
	default:
		return fmt.Sprintf("specloom: chain %s", ev.Chain)
	}
}

type slackNotifier struct {
	client  *slack.Client
	channel string
	log     zerolog.Logger
}

func (s *slackNotifier) Notify(ctx context.Context, ev Event) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(renderText(ev), false))
	if err != nil {
		return fmt.Errorf("notify: slack post: %w", err)
	}
	return nil
}

type discordNotifier struct {
	webhookURL string
	log        zerolog.Logger
}

func (d *discordNotifier) Notify(ctx context.Context, ev Event) error {
	session, err := discordgo.New("")
	if err != nil {
		return fmt.Errorf("notify: discord session: %w", err)
	}
	webhookID, webhookToken, err := parseWebhookURL(d.webhookURL)
	if err != nil {
		return fmt.Errorf("notify: discord webhook url: %w", err)
	}
	_, err = session.WebhookExecute(webhookID, webhookToken, false, &discordgo.WebhookParams{
		Content: renderText(ev),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("notify: discord webhook execute: %w", err)
	}
	return nil
}

// parseWebhookURL splits a Discord webhook URL of the form
// "https://discord.com/api/webhooks/<id>/<token>" into its id and token.
func parseWebhookURL(url string) (id, token string, err error) {
	const marker = "/webhooks/"
	idx := strings.Index(url, marker)
	if idx < 0 {
		return "", "", fmt.Errorf("missing %q segment", marker)
	}
	rest := url[idx+len(marker):]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return "", "", fmt.Errorf("missing webhook token")
	}
	return rest[:slash], rest[slash+1:], nil
}
