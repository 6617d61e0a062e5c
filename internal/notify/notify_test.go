package notify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/specloom/internal/config"
	"github.com/sipeed/specloom/pkg/domain"
)

type fakeNotifier struct {
	err   error
	calls int32
}

func (f *fakeNotifier) Notify(ctx context.Context, ev Event) error {
	atomic.AddInt32(&f.calls, 1)
	return f.err
}

func TestNewNoneProviderReturnsNoOp(t *testing.T) {
	n := New(config.NotifyConfig{Providers: []config.NotifierConfig{{Provider: domain.NotifyNone}}}, zerolog.Nop())
	assert.NoError(t, n.Notify(context.Background(), Event{Kind: EventDeadLetter}))
}

func TestNewWithNoProvidersReturnsNoOp(t *testing.T) {
	n := New(config.NotifyConfig{}, zerolog.Nop())
	assert.NoError(t, n.Notify(context.Background(), Event{Kind: EventDeadLetter}))
}

func TestNewWithSingleProviderReturnsItDirectly(t *testing.T) {
	n := New(config.NotifyConfig{Providers: []config.NotifierConfig{
		{Provider: domain.NotifyDiscord, DiscordWebhookURL: "https://discord.com/api/webhooks/1/tok"},
	}}, zerolog.Nop())
	_, ok := n.(*discordNotifier)
	assert.True(t, ok)
}

func TestNewWithMultipleProvidersReturnsFanout(t *testing.T) {
	n := New(config.NotifyConfig{Providers: []config.NotifierConfig{
		{Provider: domain.NotifySlack, SlackToken: "xoxb-1", SlackChannel: "#ops"},
		{Provider: domain.NotifyDiscord, DiscordWebhookURL: "https://discord.com/api/webhooks/1/tok"},
	}}, zerolog.Nop())
	fanout, ok := n.(Fanout)
	require.True(t, ok)
	assert.Len(t, fanout.Notifiers, 2)
}

func TestFanoutDeliversToAllNotifiers(t *testing.T) {
	a := &fakeNotifier{}
	b := &fakeNotifier{}
	f := Fanout{Notifiers: []Notifier{a, b}, Log: zerolog.Nop()}

	err := f.Notify(context.Background(), Event{Kind: EventChainComplete, Chain: "c"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, a.calls)
	assert.EqualValues(t, 1, b.calls)
}

func TestFanoutNeverPropagatesNotifierErrors(t *testing.T) {
	failing := &fakeNotifier{err: errors.New("boom")}
	f := Fanout{Notifiers: []Notifier{failing}, Log: zerolog.Nop()}

	err := f.Notify(context.Background(), Event{Kind: EventDeadLetter, Chain: "c", MessageID: "c-0"})
	assert.NoError(t, err)
	assert.EqualValues(t, 1, failing.calls)
}

func TestFanoutWithNoNotifiersIsNoOp(t *testing.T) {
	f := Fanout{Log: zerolog.Nop()}
	assert.NoError(t, f.Notify(context.Background(), Event{Kind: EventDeadLetter}))
}

func TestParseWebhookURL(t *testing.T) {
	id, token, err := parseWebhookURL("https://discord.com/api/webhooks/123456/abcToken")
	require.NoError(t, err)
	assert.Equal(t, "123456", id)
	assert.Equal(t, "abcToken", token)

	_, _, err = parseWebhookURL("https://discord.com/not-a-webhook")
	assert.Error(t, err)

	_, _, err = parseWebhookURL("https://discord.com/api/webhooks/123456")
	assert.Error(t, err)
}
