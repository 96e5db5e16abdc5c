package slackbot

import (
	"sync/atomic"
)

// botConnected tracks whether the bot is connected to Slack. Updated by the
// Bot's event handler; read by the serve loop's health endpoint.
var botConnected int32

// SetConnected updates the bot's connection state.
func SetConnected(connected bool) {
	if connected {
		atomic.StoreInt32(&botConnected, 1)
	} else {
		atomic.StoreInt32(&botConnected, 0)
	}
}

// IsConnected returns whether the bot is currently connected to Slack.
func (b *Bot) IsConnected() bool {
	return atomic.LoadInt32(&botConnected) == 1
}
