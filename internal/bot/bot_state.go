package bot

import (
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/raine/sherlockcombs/internal/overlay"
	"github.com/raine/sherlockcombs/internal/page"
)

// chatSession is the overlay of one chat. A chat without a loaded page
// matches against an empty document, so results get the fixed anchor and
// no badge.
type chatSession struct {
	id   int64
	tg   BotAPI
	ctrl *overlay.Controller
	view *chatRenderer
}

func (s *chatSession) reply(text string, a ...any) tgbotapi.Message {
	msg := tgbotapi.NewMessage(s.id, formatReplyText(text, a...))
	msg.DisableWebPagePreview = true
	sent, err := s.tg.Send(msg)
	if err != nil {
		log.Error().Err(err).Int64("chatId", s.id).Msg("failed to send reply message")
	}
	return sent
}

// sendTypingAction shows the chat that the bot is working. The indicator
// expires after ~5 seconds.
func (s *chatSession) sendTypingAction() {
	action := tgbotapi.NewChatAction(s.id, tgbotapi.ChatTyping)
	// Request instead of Send: sendChatAction returns a boolean, not a Message
	if _, err := s.tg.Request(action); err != nil {
		log.Debug().Err(err).Int64("chatId", s.id).Msg("failed to send typing action")
	}
}

type BotState struct {
	bot   *Bot
	mu    sync.Mutex
	chats map[int64]*chatSession
}

func newBotState(b *Bot) *BotState {
	return &BotState{
		bot:   b,
		chats: make(map[int64]*chatSession),
	}
}

func (bs *BotState) newChat(chatID int64, doc *page.Document) *chatSession {
	view := newChatRenderer(bs.bot.tg, chatID)
	chat := &chatSession{
		id:   chatID,
		tg:   bs.bot.tg,
		ctrl: overlay.NewController(strconv.FormatInt(chatID, 10), doc, bs.bot.newRunner(), view, bs.bot.overlayOpts),
		view: view,
	}
	log.Info().Int64("chatId", chatID).Int("images", len(doc.Images)).Msg("chat session created")
	return chat
}

func (bs *BotState) getChat(chatID int64) *chatSession {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if chat, ok := bs.chats[chatID]; ok {
		return chat
	}
	chat := bs.newChat(chatID, page.Empty(""))
	bs.chats[chatID] = chat
	return chat
}

// replaceChat starts a fresh session for the chat matching against doc.
// The previous session, its run and its cached results are dropped.
func (bs *BotState) replaceChat(chatID int64, doc *page.Document) *chatSession {
	bs.mu.Lock()
	old := bs.chats[chatID]
	chat := bs.newChat(chatID, doc)
	bs.chats[chatID] = chat
	bs.mu.Unlock()

	if old != nil {
		old.close()
	}
	return chat
}

// resetChat drops the chat's session. Returns false if there was none.
func (bs *BotState) resetChat(chatID int64) bool {
	bs.mu.Lock()
	old, ok := bs.chats[chatID]
	delete(bs.chats, chatID)
	bs.mu.Unlock()

	if ok {
		old.close()
	}
	return ok
}

// close stops the session and clears what it left in the chat.
func (s *chatSession) close() {
	s.ctrl.Stop()
	s.view.clear()
}

// Shutdown stops all chat sessions gracefully.
func (bs *BotState) Shutdown() {
	bs.mu.Lock()
	chats := make([]*chatSession, 0, len(bs.chats))
	for _, chat := range bs.chats {
		chats = append(chats, chat)
	}
	bs.chats = make(map[int64]*chatSession)
	bs.mu.Unlock()

	// Stop outside the lock to avoid blocking
	for _, chat := range chats {
		chat.ctrl.Stop()
	}
	log.Info().Int("count", len(chats)).Msg("stopped all chat sessions")
}
