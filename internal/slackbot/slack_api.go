package slackbot

import (
	"context"

	"github.com/slack-go/slack"

	"github.com/patchline/patchline/internal/confirm"
	"github.com/patchline/patchline/internal/engine"
)

// SlackAPI abstracts the subset of slack.Client methods used by the bot.
// This allows tests to substitute a mock implementation without a live
// Slack connection.
type SlackAPI interface {
	AuthTest() (response *slack.AuthTestResponse, err error)
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
	JoinConversation(channelID string) (*slack.Channel, string, []string, error)
}

// Handler abstracts the write-intent engine for testability.
type Handler interface {
	HandleMessage(ctx context.Context, msg engine.Message) string
	Gate() *confirm.Gate
}
