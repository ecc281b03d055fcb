// Package ingress implements Chat Ingress: the long-poll loop that
// reads Telegram updates and dispatches them to commands, membership
// changes, and callback-query button presses. Grounded on the
// original bot's TelegramMessageActor.
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/asonix/eventbot/internal/chatgw"
	"github.com/asonix/eventbot/internal/domain"
)

const helpText = `/init - Initialize an event channel
/link - link a group chat with an event channel (usage: /link [chat_id])
/id - get the id of a group chat
/events - get a list of events for the current chat
/new - Create a new event (in a private chat with the bot)
/edit - Edit an event you're hosting (in a private chat with the bot)
/delete - Delete an event you're hosting (in a private chat with the bot)
/help - Print this help message`

// Store is the subset of the Store Gateway Chat Ingress needs.
type Store interface {
	CreateChatSystem(ctx context.Context, eventsChannel int64) (*domain.ChatSystem, error)
	ChatSystemByChannel(ctx context.Context, eventsChannel int64) (*domain.ChatSystem, error)
	ChatSystemByID(ctx context.Context, id int32) (*domain.ChatSystem, error)

	CreateChat(ctx context.Context, systemID int32, chatID int64) (*domain.Chat, error)
	ChatByChatID(ctx context.Context, chatID int64) (*domain.Chat, error)
	UserByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error)

	EventsByChatID(ctx context.Context, chatID int64) ([]domain.Event, error)
	EventsByUserID(ctx context.Context, userID int32) ([]domain.Event, error)
	EventByID(ctx context.Context, id int32) (*domain.Event, error)
	DeleteEvent(ctx context.Context, id int32) error
}

// UserIndex is the subset of the User Index Chat Ingress needs.
type UserIndex interface {
	Touch(ctx context.Context, telegramID int64, username string, chatID int32, eventsChannel int64) error
	Remove(ctx context.Context, userID int32, chatID int32, eventsChannel int64) error
	LookupChats(ctx context.Context, userID int32) []int32
}

// LinkBroker is the subset of the Link Broker Chat Ingress needs.
type LinkBroker interface {
	IssueNewEventLink(ctx context.Context, userID, systemID int32) (string, error)
	IssueEditEventLink(ctx context.Context, userID, systemID, eventID int32) (string, error)
}

// Choice aliases chatgw.Choice so Ingress can describe inline-keyboard
// picker buttons without constructing chatgw values directly.
type Choice = chatgw.Choice

// Chat is the subset of the Chat Gateway Chat Ingress needs to reply
// directly, as opposed to the scheduler-driven announcements chatgw
// sends on its own.
type Chat interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendChoice(ctx context.Context, chatID int64, prompt string, choices []Choice) error
}

// Scheduler is the subset of the Scheduler Chat Ingress needs — just
// enough to drop an event immediately deleted via /delete.
type Scheduler interface {
	Remove(ctx context.Context, eventID int32)
}

// Updates is satisfied by tgbotapi.BotAPI and by test fakes.
type Updates interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	GetChatAdministrators(config tgbotapi.ChatAdministratorsConfig) ([]tgbotapi.ChatMember, error)
}

// Ingress is Chat Ingress.
type Ingress struct {
	bot       Updates
	store     Store
	userIndex UserIndex
	broker    LinkBroker
	chat      Chat
	scheduler Scheduler
	log       *slog.Logger
}

func New(bot Updates, store Store, userIndex UserIndex, broker LinkBroker, chat Chat, scheduler Scheduler, log *slog.Logger) *Ingress {
	return &Ingress{bot: bot, store: store, userIndex: userIndex, broker: broker, chat: chat, scheduler: scheduler, log: log}
}

// Run long-polls for updates and dispatches them until ctx is
// canceled.
func (in *Ingress) Run(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30

	updates := in.bot.GetUpdatesChan(cfg)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			in.handleUpdate(ctx, update)
		}
	}
}

func (in *Ingress) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		in.handleMessage(ctx, update.Message)
	case update.ChannelPost != nil:
		in.handleChannelPost(ctx, update.ChannelPost)
	case update.CallbackQuery != nil:
		in.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

func (in *Ingress) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	isGroup := msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()

	if msg.LeftChatMember != nil && isGroup {
		in.handleLeftChatMember(ctx, *msg.LeftChatMember, msg.Chat.ID)
		return
	}
	if len(msg.NewChatMembers) > 0 && isGroup {
		for _, member := range msg.NewChatMembers {
			in.handleNewChatMember(ctx, member, msg.Chat.ID)
		}
		return
	}
	if msg.From == nil || msg.Text == "" {
		return
	}

	switch {
	case strings.HasPrefix(msg.Text, "/new"):
		if msg.Chat.IsPrivate() {
			in.cmdNew(ctx, *msg.From, msg.Chat.ID)
		}
	case strings.HasPrefix(msg.Text, "/edit"):
		if msg.Chat.IsPrivate() {
			in.cmdEdit(ctx, *msg.From, msg.Chat.ID)
		}
	case strings.HasPrefix(msg.Text, "/delete"):
		if msg.Chat.IsPrivate() {
			in.cmdDelete(ctx, *msg.From, msg.Chat.ID)
		}
	case strings.HasPrefix(msg.Text, "/id"):
		if isGroup {
			in.reply(ctx, msg.Chat.ID, strconv.FormatInt(msg.Chat.ID, 10))
		}
	case strings.HasPrefix(msg.Text, "/events"):
		if isGroup {
			in.cmdEvents(ctx, msg.Chat.ID)
		}
	case (strings.HasPrefix(msg.Text, "/help") || strings.HasPrefix(msg.Text, "/start")) && msg.Chat.IsPrivate():
		in.reply(ctx, msg.Chat.ID, helpText)
	default:
		if isGroup {
			in.touchMember(ctx, *msg.From, msg.Chat.ID)
		}
	}
}

// handleNewChatMember records the arriving member's presence, matching
// the original bot's TouchUser-then-NewRelation-or-NewUser branch:
// the User Index itself absorbs that branch as an upsert.
func (in *Ingress) handleNewChatMember(ctx context.Context, member tgbotapi.User, chatID int64) {
	in.touchMember(ctx, member, chatID)
}

func (in *Ingress) handleLeftChatMember(ctx context.Context, member tgbotapi.User, chatID int64) {
	chat, err := in.store.ChatByChatID(ctx, chatID)
	if err != nil {
		in.log.Warn("ingress: could not resolve chat for departing member", "chat_id", chatID, "error", err)
		return
	}
	cs, err := in.store.ChatSystemByID(ctx, chat.SystemID)
	if err != nil {
		in.log.Warn("ingress: could not resolve chat system for departing member", "chat_id", chatID, "error", err)
		return
	}
	user, err := in.store.UserByTelegramID(ctx, member.ID)
	if err != nil {
		in.log.Warn("ingress: could not resolve departing member", "telegram_id", member.ID, "error", err)
		return
	}

	if err := in.userIndex.Remove(ctx, user.ID, chat.ID, cs.EventsChannel); err != nil {
		in.log.Error("ingress: failed to remove departing member", "telegram_id", member.ID, "chat_id", chatID, "error", err)
	}
}

func (in *Ingress) touchMember(ctx context.Context, user tgbotapi.User, chatID int64) {
	chat, err := in.store.ChatByChatID(ctx, chatID)
	if err != nil {
		in.log.Warn("ingress: could not resolve chat for membership update", "chat_id", chatID, "error", err)
		return
	}
	cs, err := in.store.ChatSystemByID(ctx, chat.SystemID)
	if err != nil {
		in.log.Warn("ingress: could not resolve chat system for membership update", "chat_id", chatID, "error", err)
		return
	}

	username := user.UserName
	if username == "" {
		username = user.FirstName
	}

	if err := in.userIndex.Touch(ctx, user.ID, username, chat.ID, cs.EventsChannel); err != nil {
		in.log.Error("ingress: failed to touch user", "telegram_id", user.ID, "chat_id", chatID, "error", err)
	}
}

// resolveUserID maps a Telegram user id to the internal users.id that
// Store, the Link Broker, and the User Index all key on.
func (in *Ingress) resolveUserID(ctx context.Context, telegramID int64) (int32, error) {
	user, err := in.store.UserByTelegramID(ctx, telegramID)
	if err != nil {
		return 0, err
	}
	return user.ID, nil
}

func (in *Ingress) reply(ctx context.Context, chatID int64, text string) {
	if err := in.chat.SendText(ctx, chatID, text); err != nil {
		in.log.Error("ingress: failed to send reply", "chat_id", chatID, "error", err)
	}
}

// cmdNew offers the asking user a channel picker, scoped to the
// channels they're currently a member of.
func (in *Ingress) cmdNew(ctx context.Context, user tgbotapi.User, replyChatID int64) {
	userID, err := in.resolveUserID(ctx, user.ID)
	if err != nil {
		in.reply(ctx, replyChatID, "Failed to get event channels for user")
		return
	}
	chatIDs := in.userIndex.LookupChats(ctx, userID)
	if len(chatIDs) == 0 {
		in.reply(ctx, replyChatID, "You aren't a member of any linked chats yet")
		return
	}

	seen := make(map[int64]struct{})
	choices := make([]Choice, 0, len(chatIDs))
	for _, chatID := range chatIDs {
		chat, err := in.store.ChatByChatID(ctx, int64(chatID))
		if err != nil {
			continue
		}
		cs, err := in.store.ChatSystemByID(ctx, chat.SystemID)
		if err != nil {
			continue
		}
		if _, dup := seen[cs.EventsChannel]; dup {
			continue
		}
		seen[cs.EventsChannel] = struct{}{}

		choices = append(choices, Choice{
			Label:   fmt.Sprintf("Channel %d", cs.EventsChannel),
			Payload: encodePayload(CallbackPayload{Kind: kindNewEvent, ChannelID: cs.EventsChannel}),
		})
	}

	if len(choices) == 0 {
		in.reply(ctx, replyChatID, "Failed to get event channels for user")
		return
	}
	if err := in.chat.SendChoice(ctx, replyChatID, "Which channel would you like to create an event for?", choices); err != nil {
		in.log.Error("ingress: failed to send channel picker", "error", err)
	}
}

func (in *Ingress) cmdEdit(ctx context.Context, user tgbotapi.User, replyChatID int64) {
	userID, err := in.resolveUserID(ctx, user.ID)
	if err != nil {
		in.reply(ctx, replyChatID, "Failed to get events for user")
		return
	}
	events, err := in.store.EventsByUserID(ctx, userID)
	if err != nil {
		in.reply(ctx, replyChatID, "Failed to get events for user")
		return
	}
	if len(events) == 0 {
		in.reply(ctx, replyChatID, "You aren't hosting any events")
		return
	}

	choices := make([]Choice, len(events))
	for i, e := range events {
		choices[i] = Choice{Label: e.Title, Payload: encodePayload(CallbackPayload{Kind: kindEditEvent, EventID: e.ID})}
	}
	if err := in.chat.SendChoice(ctx, replyChatID, "Which event would you like to edit?", choices); err != nil {
		in.log.Error("ingress: failed to send edit picker", "error", err)
	}
}

func (in *Ingress) cmdDelete(ctx context.Context, user tgbotapi.User, replyChatID int64) {
	userID, err := in.resolveUserID(ctx, user.ID)
	if err != nil {
		in.reply(ctx, replyChatID, "Failed to get events for user")
		return
	}
	events, err := in.store.EventsByUserID(ctx, userID)
	if err != nil {
		in.reply(ctx, replyChatID, "Failed to get events for user")
		return
	}
	if len(events) == 0 {
		in.reply(ctx, replyChatID, "You aren't hosting any events")
		return
	}

	choices := make([]Choice, len(events))
	for i, e := range events {
		choices[i] = Choice{
			Label: e.Title,
			Payload: encodePayload(CallbackPayload{
				Kind: kindDeleteEvent, EventID: e.ID, SystemID: e.SystemID, Title: e.Title,
			}),
		}
	}
	if err := in.chat.SendChoice(ctx, replyChatID, "Which event would you like to delete?", choices); err != nil {
		in.log.Error("ingress: failed to send delete picker", "error", err)
	}
}

func (in *Ingress) cmdEvents(ctx context.Context, chatID int64) {
	events, err := in.store.EventsByChatID(ctx, chatID)
	if err != nil {
		in.reply(ctx, chatID, "Failed to fetch events")
		return
	}
	in.reply(ctx, chatID, formatUpcomingEventsList(events))
}

func (in *Ingress) handleChannelPost(ctx context.Context, post *tgbotapi.Message) {
	if post.Text == "" || post.Chat.Type != "channel" {
		return
	}

	switch {
	case strings.HasPrefix(post.Text, "/link"):
		in.cmdLink(ctx, post)
	case strings.HasPrefix(post.Text, "/init"):
		in.cmdInit(ctx, post.Chat.ID)
	}
}

func (in *Ingress) cmdInit(ctx context.Context, channelID int64) {
	if _, err := in.store.CreateChatSystem(ctx, channelID); err != nil {
		in.log.Error("ingress: failed to initialize channel", "channel_id", channelID, "error", err)
		return
	}
	in.reply(ctx, channelID, "Initialized")
}

// cmdLink admits each candidate chat whose admin set overlaps the
// announcing channel's admin set — the only gate against an
// unrelated group linking itself to someone else's events channel.
func (in *Ingress) cmdLink(ctx context.Context, post *tgbotapi.Message) {
	channelID := post.Chat.ID
	fields := strings.Fields(strings.TrimPrefix(post.Text, "/link"))

	var candidates []int64
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			continue
		}
		candidates = append(candidates, id)
	}
	if len(candidates) == 0 {
		return
	}

	cs, err := in.store.ChatSystemByChannel(ctx, channelID)
	if err != nil {
		in.reply(ctx, channelID, "This channel hasn't been initialized; use /init first")
		return
	}

	admitted, err := in.adminOverlap(channelID, candidates)
	if err != nil {
		in.log.Error("ingress: failed to check chat admins", "channel_id", channelID, "error", err)
		return
	}

	var linked []string
	for _, chatID := range admitted {
		if _, err := in.store.CreateChat(ctx, cs.ID, chatID); err != nil {
			in.log.Error("ingress: failed to link chat", "chat_id", chatID, "error", err)
			continue
		}
		linked = append(linked, strconv.FormatInt(chatID, 10))
	}

	if len(linked) == 0 {
		in.reply(ctx, channelID, "No chats were linked — none share an admin with this channel")
		return
	}
	in.reply(ctx, channelID, fmt.Sprintf("Linked channel '%d' to chats (%s)", channelID, strings.Join(linked, ", ")))
}

// adminOverlap returns the subset of candidates whose administrators
// intersect channelID's administrators.
func (in *Ingress) adminOverlap(channelID int64, candidates []int64) ([]int64, error) {
	channelAdmins, err := in.bot.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: channelID},
	})
	if err != nil {
		return nil, err
	}
	channelAdminIDs := make(map[int64]struct{}, len(channelAdmins))
	for _, m := range channelAdmins {
		channelAdminIDs[m.User.ID] = struct{}{}
	}

	var admitted []int64
	for _, chatID := range candidates {
		admins, err := in.bot.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
			ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
		})
		if err != nil {
			continue
		}
		for _, m := range admins {
			if _, ok := channelAdminIDs[m.User.ID]; ok {
				admitted = append(admitted, chatID)
				break
			}
		}
	}
	return admitted, nil
}

func (in *Ingress) handleCallbackQuery(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.Data == "" {
		return
	}
	chatID := cb.Message.Chat.ID

	var payload CallbackPayload
	if err := json.Unmarshal([]byte(cb.Data), &payload); err != nil {
		in.log.Warn("ingress: could not parse callback payload", "error", err)
		return
	}

	userID, err := in.resolveUserID(ctx, cb.From.ID)
	if err != nil {
		in.reply(ctx, chatID, "Failed to identify user")
		return
	}

	switch payload.Kind {
	case kindNewEvent:
		in.callbackNewEvent(ctx, userID, payload.ChannelID, chatID)
	case kindEditEvent:
		in.callbackEditEvent(ctx, userID, payload.EventID, chatID)
	case kindDeleteEvent:
		in.callbackDeleteEvent(ctx, payload.EventID, payload.SystemID, payload.Title, chatID)
	}
}

func (in *Ingress) callbackNewEvent(ctx context.Context, userID int32, channelID int64, replyChatID int64) {
	cs, err := in.store.ChatSystemByChannel(ctx, channelID)
	if err != nil {
		in.reply(ctx, replyChatID, "Failed to generate new event link")
		return
	}

	url, err := in.broker.IssueNewEventLink(ctx, userID, cs.ID)
	if err != nil {
		in.reply(ctx, replyChatID, "Failed to generate new event link")
		return
	}
	in.reply(ctx, replyChatID, fmt.Sprintf("Use this link to create your event: %s", url))
}

func (in *Ingress) callbackEditEvent(ctx context.Context, userID int32, eventID int32, replyChatID int64) {
	event, err := in.store.EventByID(ctx, eventID)
	if err != nil {
		in.reply(ctx, replyChatID, "Unable to generate edit link")
		return
	}
	if !isHost(event.Hosts, userID) {
		in.reply(ctx, replyChatID, "Unable to generate edit link")
		return
	}

	url, err := in.broker.IssueEditEventLink(ctx, userID, event.SystemID, event.ID)
	if err != nil {
		in.reply(ctx, replyChatID, "Unable to generate edit link")
		return
	}
	in.reply(ctx, replyChatID, fmt.Sprintf("Use this link to update your event: %s", url))
}

func (in *Ingress) callbackDeleteEvent(ctx context.Context, eventID, systemID int32, title string, replyChatID int64) {
	if err := in.store.DeleteEvent(ctx, eventID); err != nil {
		in.reply(ctx, replyChatID, "Failed to delete event")
		return
	}
	in.scheduler.Remove(ctx, eventID)

	in.reply(ctx, replyChatID, "Deleted event!")

	cs, err := in.store.ChatSystemByID(ctx, systemID)
	if err != nil {
		in.log.Error("ingress: could not announce deleted event", "system_id", systemID, "error", err)
		return
	}
	in.reply(ctx, cs.EventsChannel, fmt.Sprintf("Event deleted: %s", title))
}

// CallbackPayload is the tagged union carried as inline-keyboard
// callback data, matching the original bot's CallbackQueryMessage.
type CallbackPayload struct {
	Kind      string `json:"kind"`
	ChannelID int64  `json:"channel_id,omitempty"`
	EventID   int32  `json:"event_id,omitempty"`
	SystemID  int32  `json:"system_id,omitempty"`
	Title     string `json:"title,omitempty"`
}

const (
	kindNewEvent    = "new_event"
	kindEditEvent   = "edit_event"
	kindDeleteEvent = "delete_event"
)

func encodePayload(p CallbackPayload) string {
	b, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(b)
}

func isHost(hosts []domain.Host, userID int32) bool {
	for _, h := range hosts {
		if h.UserID == userID {
			return true
		}
	}
	return false
}
