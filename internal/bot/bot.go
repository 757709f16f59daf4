package bot

import (
	"bytes"
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/raine/sherlockcombs/internal/overlay"
	"github.com/raine/sherlockcombs/internal/page"
)

// BotAPI defines the interface for Telegram bot API operations.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// PageFetcher downloads the HTML of a page.
type PageFetcher interface {
	FetchPage(ctx context.Context, pageURL string) ([]byte, error)
}

// RunnerFactory creates the pipeline of a new chat session. Each session
// should get its own result cache.
type RunnerFactory func() overlay.Runner

// Bot is the Telegram surface of the overlay: each chat gets a controller
// whose panel is a message with inline buttons.
type Bot struct {
	tg          BotAPI
	state       *BotState
	newRunner   RunnerFactory
	pages       PageFetcher
	overlayOpts overlay.Options
	adminID     int64
}

// NewBot creates a new Bot instance. Only adminID may use it.
func NewBot(tg BotAPI, newRunner RunnerFactory, adminID int64) *Bot {
	b := &Bot{
		tg:        tg,
		newRunner: newRunner,
		adminID:   adminID,
	}
	b.state = newBotState(b)
	return b
}

// SetPageFetcher enables the /page command.
func (b *Bot) SetPageFetcher(pages PageFetcher) {
	b.pages = pages
}

// SetOverlayOptions sets the timing of sessions created afterwards.
func (b *Bot) SetOverlayOptions(opts overlay.Options) {
	b.overlayOpts = opts
}

// Shutdown stops all chat sessions.
func (b *Bot) Shutdown() {
	b.state.Shutdown()
}

// HandleUpdate is the main message router. Show requests block until their
// run ends, so callers run each update on its own goroutine.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	var userID, chatID int64

	switch {
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		userID = update.CallbackQuery.From.ID
		chatID = userID
		if m := update.CallbackQuery.Message; m != nil && m.Chat != nil {
			chatID = m.Chat.ID
		}
	case update.Message != nil && update.Message.From != nil:
		userID = update.Message.From.ID
		chatID = userID
		if update.Message.Chat != nil {
			chatID = update.Message.Chat.ID
		}
	default:
		return
	}

	// MUST be before getChat to prevent memory exhaustion from random user IDs
	if userID != b.adminID {
		log.Debug().Int64("userId", userID).Msg("ignoring update from unknown user")
		return
	}

	chat := b.state.getChat(chatID)
	if update.CallbackQuery != nil {
		b.handleCallbackQuery(chat, update.CallbackQuery)
		return
	}
	b.handleMessage(ctx, chat, update.Message)
}

func (b *Bot) handleMessage(ctx context.Context, chat *chatSession, message *tgbotapi.Message) {
	log.Info().
		Int64("chatId", chat.id).
		Str("text", message.Text).
		Str("caption", message.Caption).
		Int("photos", len(message.Photo)).
		Msg("got message")

	if strings.HasPrefix(message.Text, "/") {
		b.handleCommand(ctx, chat, message.Text)
		return
	}

	if len(message.Photo) > 0 {
		// Last size is the largest
		photo := message.Photo[len(message.Photo)-1]
		b.show(ctx, chat, fileURL(photo.FileID))
		return
	}

	text := message.Text
	if text == "" {
		text = message.Caption
	}
	if imageURL, ok := firstURL(text); ok {
		b.show(ctx, chat, imageURL)
		return
	}
	chat.reply(MsgSendImage)
}

func (b *Bot) handleCommand(ctx context.Context, chat *chatSession, text string) {
	command, args := parseCommand(text)
	switch command {
	case "/start", "/help":
		chat.reply(MsgHelp)
	case "/page":
		if len(args) == 0 || !isHTTPURL(args[0]) {
			chat.reply(MsgPageUsage)
			return
		}
		b.loadPage(ctx, chat, args[0])
	case "/reset":
		b.state.resetChat(chat.id)
		chat.reply(MsgReset)
	default:
		chat.reply(MsgUnknownCommand)
	}
}

// loadPage replaces the chat's session with one matching against pageURL.
func (b *Bot) loadPage(ctx context.Context, chat *chatSession, pageURL string) {
	if b.pages == nil {
		chat.reply(MsgPagesUnavailable)
		return
	}

	chat.sendTypingAction()
	body, err := b.pages.FetchPage(ctx, pageURL)
	if err != nil {
		log.Warn().Err(err).Str("url", pageURL).Msg("failed to fetch page")
		chat.reply(MsgPageFetchFailed)
		return
	}

	doc, err := page.ParseHTML(bytes.NewReader(body), pageURL)
	if err != nil {
		log.Warn().Err(err).Str("url", pageURL).Msg("failed to parse page")
		chat.reply(MsgPageParseFailed)
		return
	}

	chat = b.state.replaceChat(chat.id, doc)
	chat.reply(MsgPageLoaded, len(doc.Images))
}

func (b *Bot) show(ctx context.Context, chat *chatSession, imageURL string) {
	chat.sendTypingAction()
	ack := chat.ctrl.Show(ctx, imageURL)
	log.Info().
		Int64("chatId", chat.id).
		Str("outcome", string(ack.Outcome)).
		Bool("cached", ack.Cached).
		Str("error", ack.Error).
		Msg("show finished")

	// Stopped sessions were reset or replaced by the user
	if !ack.OK && ack.Error != overlay.ErrStopped.Error() {
		chat.reply(MsgUnexpectedErr, ack.Error)
	}
}

// handleCallbackQuery handles inline keyboard button presses.
func (b *Bot) handleCallbackQuery(chat *chatSession, query *tgbotapi.CallbackQuery) {
	var answer string

	switch {
	case query.Data == callbackPin || query.Data == callbackClose:
		if query.Message != nil && !chat.view.isCurrentPanel(query.Message.MessageID) {
			answer = MsgCallbackPanelGone
			break
		}
		answer = b.handlePanelButton(chat, query.Data)
	case strings.HasPrefix(query.Data, callbackBadge):
		img := chat.ctrl.Document().Image(strings.TrimPrefix(query.Data, callbackBadge))
		if img == nil || chat.ctrl.ClickBadge(img.Container) != nil {
			answer = MsgCallbackNoBadge
		}
	default:
		log.Warn().Str("data", query.Data).Msg("unknown callback data")
	}

	// Answer the callback to remove the loading state
	if _, err := b.tg.Request(tgbotapi.NewCallback(query.ID, answer)); err != nil {
		log.Debug().Err(err).Msg("failed to answer callback query")
	}
}

func (b *Bot) handlePanelButton(chat *chatSession, data string) string {
	if data == callbackClose {
		if err := chat.ctrl.Close(); errors.Is(err, overlay.ErrNoPanel) {
			return MsgCallbackPanelGone
		}
		return ""
	}

	pinned, err := chat.ctrl.TogglePin()
	switch {
	case errors.Is(err, overlay.ErrNoPanel):
		return MsgCallbackPanelGone
	case err != nil:
		log.Error().Err(err).Int64("chatId", chat.id).Msg("failed to toggle pin")
		return ""
	case pinned:
		return MsgCallbackPinned
	}
	return MsgCallbackUnpinned
}
