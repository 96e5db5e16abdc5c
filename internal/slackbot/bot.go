// Package slackbot implements the Slack front-end for write requests.
// It uses the slack-go/slack library with Socket Mode for WebSocket-based
// communication: app mentions carrying a request are classified and run by
// the engine, and thread replies are forwarded only while that thread has a
// pending confirmation.
package slackbot

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/patchline/patchline/internal/engine"
)

// RepoRef maps a Slack channel to the repository the bot writes to on behalf
// of that channel.
type RepoRef struct {
	Owner          string
	Repo           string
	InstallationID int64
}

// BotConfig holds configuration for the Slack bot.
type BotConfig struct {
	BotToken string             // xoxb-... Slack bot token
	AppToken string             // xapp-... Slack app-level token (for Socket Mode)
	Channels map[string]RepoRef // channel ID → target repository
	Debug    bool
}

// Bot is the Slack front-end. One Bot serves every configured channel.
type Bot struct {
	client     SlackAPI
	socketMode *socketmode.Client
	handler    Handler
	channels   map[string]RepoRef
	debug      bool

	// Bot identity for filtering out own messages in thread replies.
	botUserID string
}

// NewBot creates a new Slack bot.
func NewBot(cfg BotConfig, handler Handler) (*Bot, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("app token is required for Socket Mode")
	}
	if !strings.HasPrefix(cfg.AppToken, "xapp-") {
		return nil, fmt.Errorf("app token must start with xapp-")
	}
	if len(cfg.Channels) == 0 {
		return nil, fmt.Errorf("at least one channel → repository mapping is required")
	}

	client := slack.New(
		cfg.BotToken,
		slack.OptionDebug(cfg.Debug),
		slack.OptionAppLevelToken(cfg.AppToken),
	)

	socketClient := socketmode.New(
		client,
		socketmode.OptionDebug(cfg.Debug),
	)

	return &Bot{
		client:     client,
		socketMode: socketClient,
		handler:    handler,
		channels:   cfg.Channels,
		debug:      cfg.Debug,
	}, nil
}

// newBotForTest creates a Bot with injectable mock dependencies for testing.
// No Slack connection or token validation is performed.
func newBotForTest(api SlackAPI, handler Handler, channels map[string]RepoRef) *Bot {
	return &Bot{
		client:    api,
		handler:   handler,
		channels:  channels,
		botUserID: "UBOT",
	}
}

// Run starts the bot event loop. Blocks until context is canceled.
func (b *Bot) Run(ctx context.Context) error {
	authResp, err := b.client.AuthTest()
	if err != nil {
		log.Printf("slackbot: warning: failed to get bot user ID: %v", err)
	} else {
		b.botUserID = authResp.UserID
		log.Printf("slackbot: bot user ID: %s", b.botUserID)
	}

	go func() {
		for evt := range b.socketMode.Events {
			b.handleEvent(ctx, evt)
		}
	}()

	// Join configured channels so the bot sees thread replies, not just
	// mentions.
	for channelID := range b.channels {
		if _, _, _, err := b.client.JoinConversation(channelID); err != nil {
			log.Printf("slackbot: warning: failed to join channel %s: %v", channelID, err)
		}
	}

	return b.socketMode.RunContext(ctx)
}

// ---------- Event dispatch ----------

func (b *Bot) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		log.Println("slackbot: connecting to Socket Mode...")

	case socketmode.EventTypeConnected:
		log.Println("slackbot: connected to Socket Mode")
		SetConnected(true)

	case socketmode.EventTypeConnectionError:
		log.Printf("slackbot: connection error: %v", evt.Data)
		SetConnected(false)

	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		deliveryID := ""
		if evt.Request != nil {
			deliveryID = evt.Request.EnvelopeID
		}
		b.socketMode.Ack(*evt.Request)
		b.handleEventsAPI(ctx, eventsAPIEvent, deliveryID)
	}
}

func (b *Bot) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent, deliveryID string) {
	if event.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		b.handleMention(ctx, ev, deliveryID)
	case *slackevents.MessageEvent:
		if ev.SubType != "" || ev.ThreadTimeStamp == "" {
			return
		}
		b.handleThreadReply(ctx, ev, deliveryID)
	}
}

// handleMention runs a mention through the engine and posts the reply in
// the mention's thread.
func (b *Bot) handleMention(ctx context.Context, ev *slackevents.AppMentionEvent, deliveryID string) {
	if ev.User == b.botUserID || ev.BotID != "" {
		return
	}

	ref, ok := b.channels[ev.Channel]
	if !ok {
		log.Printf("slackbot: mention in unmapped channel %s, ignoring", ev.Channel)
		return
	}

	threadTS := ev.ThreadTimeStamp
	if threadTS == "" {
		// A top-level mention starts its own thread.
		threadTS = ev.TimeStamp
	}

	reply := b.handler.HandleMessage(ctx, b.message(ref, ev.Channel, threadTS, ev.TimeStamp, ev.User, ev.Text, deliveryID))
	b.postInThread(ev.Channel, threadTS, reply)
}

// handleThreadReply forwards a thread reply to the engine only while that
// thread has a pending confirmation. Ordinary thread chatter never reaches
// the classifier.
func (b *Bot) handleThreadReply(ctx context.Context, ev *slackevents.MessageEvent, deliveryID string) {
	if ev.User == b.botUserID || ev.BotID != "" {
		return
	}

	ref, ok := b.channels[ev.Channel]
	if !ok {
		return
	}
	if b.handler.Gate().GetPending(ev.Channel, ev.ThreadTimeStamp) == nil {
		return
	}

	reply := b.handler.HandleMessage(ctx, b.message(ref, ev.Channel, ev.ThreadTimeStamp, ev.TimeStamp, ev.User, ev.Text, deliveryID))
	b.postInThread(ev.Channel, ev.ThreadTimeStamp, reply)
}

// message builds the engine message for one Slack event.
func (b *Bot) message(ref RepoRef, channel, threadTS, messageTS, user, text, deliveryID string) engine.Message {
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}
	return engine.Message{
		Surface:        engine.SurfaceSlackMessage,
		InstallationID: ref.InstallationID,
		Owner:          ref.Owner,
		Repo:           ref.Repo,
		Channel:        channel,
		ThreadTS:       threadTS,
		MessageTS:      messageTS,
		DeliveryID:     deliveryID,
		Sender:         user,
		Text:           text,
	}
}

// postInThread posts a reply in the thread. Empty replies are the engine's
// "silently skip" signal.
func (b *Bot) postInThread(channel, threadTS, reply string) {
	if reply == "" {
		return
	}
	_, _, err := b.client.PostMessage(channel,
		slack.MsgOptionText(reply, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		log.Printf("slackbot: failed to post reply in %s/%s: %v", channel, threadTS, err)
	}
}
