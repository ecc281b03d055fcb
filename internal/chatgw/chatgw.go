// Package chatgw implements the Chat Gateway: the only component that
// speaks Telegram's wire format to send messages. It renders events
// and scheduler notifications into text and pushes them through a
// rate limiter, grounded on the original bot's TelegramActor.
package chatgw

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/asonix/eventbot/internal/domain"
	"github.com/asonix/eventbot/internal/eventerr"
	"github.com/asonix/eventbot/internal/scheduler"
)

// Store is the subset of the Store Gateway the Chat Gateway needs to
// resolve an event back to the channel it should be announced on.
type Store interface {
	ChatSystemByEventID(ctx context.Context, eventID int32) (*domain.ChatSystem, error)
	ChatSystemByID(ctx context.Context, systemID int32) (*domain.ChatSystem, error)
	EventsBySystemID(ctx context.Context, systemID int32) ([]domain.Event, error)
}

// Sender is the narrow slice of tgbotapi.BotAPI the gateway exercises,
// kept as an interface so tests can swap in a recorder.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Gateway is the Chat Gateway. Telegram allows roughly one message per
// second per chat, so every send passes through limiter first.
type Gateway struct {
	bot     Sender
	store   Store
	log     *slog.Logger
	limiter *rate.Limiter
}

// New constructs a Gateway. Telegram's documented per-chat rate limit
// is about 1 message/second with bursts tolerated; ratePerSecond lets
// callers and tests tune this without touching the send path.
func New(bot Sender, store Store, log *slog.Logger, ratePerSecond float64) *Gateway {
	return &Gateway{
		bot:     bot,
		store:   store,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 5),
	}
}

// Notify implements scheduler.Notifier: the Scheduler calls this from
// its own actor goroutine whenever an event crosses a bucket boundary.
func (g *Gateway) Notify(ctx context.Context, kind scheduler.NotificationKind, event domain.Event) {
	var text string
	switch kind {
	case scheduler.EventSoon:
		text = eventSoonMessage(event)
	case scheduler.EventStarted:
		text = eventStartedMessage(event)
	case scheduler.EventOver:
		text = eventOverMessage(event)
	default:
		return
	}

	if err := g.sendToEventChannel(ctx, event.ID, text); err != nil {
		g.log.Error("chatgw: failed to send scheduler notification", "event_id", event.ID, "kind", kind, "error", err)
	}

	if kind == scheduler.EventOver {
		g.announceRemainingEvents(ctx, event)
	}
}

// AnnounceNewEvent sends the "New Event!" message after an event is
// created via the web form, formatted in the event's own timezone.
func (g *Gateway) AnnounceNewEvent(ctx context.Context, event domain.Event) error {
	return g.sendToEventChannel(ctx, event.ID, newEventMessage(event))
}

// AnnounceUpdatedEvent sends the "Event Updated!" message after an
// edit is redeemed through the web form.
func (g *Gateway) AnnounceUpdatedEvent(ctx context.Context, event domain.Event) error {
	return g.sendToEventChannel(ctx, event.ID, updateEventMessage(event))
}

// announceRemainingEvents posts the /events-style listing of an ended
// event's system, excluding the event that just ended, mirroring the
// original actor's query_events follow-up to event_over.
func (g *Gateway) announceRemainingEvents(ctx context.Context, ended domain.Event) {
	cs, err := g.store.ChatSystemByID(ctx, ended.SystemID)
	if err != nil {
		g.log.Error("chatgw: could not look up system for remaining-events listing", "system_id", ended.SystemID, "error", err)
		return
	}

	events, err := g.store.EventsBySystemID(ctx, ended.SystemID)
	if err != nil {
		g.log.Error("chatgw: could not list remaining events", "system_id", ended.SystemID, "error", err)
		return
	}

	remaining := make([]domain.Event, 0, len(events))
	for _, e := range events {
		if e.ID != ended.ID {
			remaining = append(remaining, e)
		}
	}

	if err := g.send(ctx, cs.EventsChannel, formatUpcomingEvents(remaining)); err != nil {
		g.log.Error("chatgw: failed to send remaining-events listing", "system_id", ended.SystemID, "error", err)
	}
}

// SendText pushes a plain Markdown message to chatID, for command
// replies that don't fit the Notify/Announce* shapes (help text,
// errors, the bare chat id, link URLs).
func (g *Gateway) SendText(ctx context.Context, chatID int64, text string) error {
	return g.send(ctx, chatID, text)
}

// Choice is one inline-keyboard button: Label is shown to the user,
// Payload is returned verbatim in the callback query that follows.
type Choice struct {
	Label   string
	Payload string
}

// SendChoice sends prompt with an inline keyboard of choices laid out
// in a single row, for the /new, /edit, and /delete pickers.
func (g *Gateway) SendChoice(ctx context.Context, chatID int64, prompt string, choices []Choice) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return eventerr.Wrap(eventerr.Canceled, err)
	}

	buttons := make([]tgbotapi.InlineKeyboardButton, len(choices))
	for i, c := range choices {
		buttons[i] = tgbotapi.NewInlineKeyboardButtonData(c.Label, c.Payload)
	}

	msg := tgbotapi.NewMessage(chatID, prompt)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(buttons...))

	if _, err := g.bot.Send(msg); err != nil {
		return eventerr.Wrap(eventerr.Telegram, fmt.Errorf("send choice to chat %d: %w", chatID, err))
	}
	return nil
}

func (g *Gateway) sendToEventChannel(ctx context.Context, eventID int32, text string) error {
	cs, err := g.store.ChatSystemByEventID(ctx, eventID)
	if err != nil {
		return err
	}
	return g.send(ctx, cs.EventsChannel, text)
}

// send waits for the rate limiter, then pushes a Markdown message to
// chatID via the Telegram API.
func (g *Gateway) send(ctx context.Context, chatID int64, text string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return eventerr.Wrap(eventerr.Canceled, err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := g.bot.Send(msg); err != nil {
		return eventerr.Wrap(eventerr.Telegram, fmt.Errorf("send to chat %d: %w", chatID, err))
	}
	return nil
}

var _ scheduler.Notifier = (*Gateway)(nil)
