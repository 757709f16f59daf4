package bot

import (
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/raine/sherlockcombs/internal/overlay"
)

const (
	callbackPin   = "pin"
	callbackClose = "close"
	callbackBadge = "badge:"

	maxButtonTitle = 40
)

type panelMessage struct {
	messageID int
	view      overlay.PanelView
}

// chatRenderer draws a chat's overlay as Telegram messages. The panel is
// one message with an inline keyboard that is edited in place and deleted
// when the panel goes away. Badges are separate messages.
type chatRenderer struct {
	tg     BotAPI
	chatID int64

	mu     sync.Mutex
	panels map[string]*panelMessage // By panel id
	badges map[string]int           // Container to message id
}

func newChatRenderer(tg BotAPI, chatID int64) *chatRenderer {
	return &chatRenderer{
		tg:     tg,
		chatID: chatID,
		panels: make(map[string]*panelMessage),
		badges: make(map[string]int),
	}
}

func (r *chatRenderer) RenderLoading(p overlay.PanelView) { r.sendPanel(p) }
func (r *chatRenderer) RenderResults(p overlay.PanelView) { r.sendPanel(p) }
func (r *chatRenderer) RenderFailure(p overlay.PanelView) { r.sendPanel(p) }

func (r *chatRenderer) UpdateLoadingText(panelID, text string) {
	r.mu.Lock()
	pm, ok := r.panels[panelID]
	if ok {
		pm.view.Text = text
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	edit := tgbotapi.NewEditMessageTextAndMarkup(r.chatID, pm.messageID, panelText(pm.view), panelKeyboard(pm.view))
	edit.ParseMode = tgbotapi.ModeMarkdown
	r.request(edit)
}

func (r *chatRenderer) MarkPinned(panelID string, pinned bool) {
	r.mu.Lock()
	pm, ok := r.panels[panelID]
	if ok {
		pm.view.Pinned = pinned
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	r.request(tgbotapi.NewEditMessageReplyMarkup(r.chatID, pm.messageID, panelKeyboard(pm.view)))
}

func (r *chatRenderer) RemoveOverlay(panelID string) {
	r.mu.Lock()
	pm, ok := r.panels[panelID]
	delete(r.panels, panelID)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.request(tgbotapi.NewDeleteMessage(r.chatID, pm.messageID))
}

func (r *chatRenderer) RenderBadge(b overlay.Badge) {
	msg := tgbotapi.NewMessage(r.chatID, fmt.Sprintf(MsgBadge, b.Price, b.URL))
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(BtnShowOffers, callbackBadge+b.ImageID)),
	)
	sent, err := r.tg.Send(msg)
	if err != nil {
		log.Error().Err(err).Int64("chatId", r.chatID).Msg("failed to send badge message")
		return
	}

	r.mu.Lock()
	r.badges[b.Container] = sent.MessageID
	r.mu.Unlock()
}

func (r *chatRenderer) RemoveBadge(container string) {
	r.mu.Lock()
	messageID, ok := r.badges[container]
	delete(r.badges, container)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.request(tgbotapi.NewDeleteMessage(r.chatID, messageID))
}

// clear deletes every panel and badge message still shown. Only call once
// the controller has stopped.
func (r *chatRenderer) clear() {
	r.mu.Lock()
	var ids []int
	for _, pm := range r.panels {
		ids = append(ids, pm.messageID)
	}
	for _, id := range r.badges {
		ids = append(ids, id)
	}
	r.panels = make(map[string]*panelMessage)
	r.badges = make(map[string]int)
	r.mu.Unlock()

	for _, id := range ids {
		r.request(tgbotapi.NewDeleteMessage(r.chatID, id))
	}
}

// isCurrentPanel reports whether messageID shows a live panel.
func (r *chatRenderer) isCurrentPanel(messageID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pm := range r.panels {
		if pm.messageID == messageID {
			return true
		}
	}
	return false
}

func (r *chatRenderer) sendPanel(p overlay.PanelView) {
	msg := tgbotapi.NewMessage(r.chatID, panelText(p))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = panelKeyboard(p)

	sent, err := r.tg.Send(msg)
	if err != nil {
		log.Error().Err(err).Int64("chatId", r.chatID).Str("panel", p.ID).Msg("failed to send overlay panel")
		return
	}

	r.mu.Lock()
	r.panels[p.ID] = &panelMessage{messageID: sent.MessageID, view: p}
	r.mu.Unlock()
}

func (r *chatRenderer) request(c tgbotapi.Chattable) {
	if _, err := r.tg.Request(c); err != nil {
		log.Warn().Err(err).Int64("chatId", r.chatID).Msg("telegram request failed")
	}
}

func panelText(p overlay.PanelView) string {
	switch p.Kind {
	case overlay.PanelLoading:
		return MsgPanelTitle + "\n🔍 " + escapeMarkdown(p.Text)
	case overlay.PanelFailed:
		return MsgPanelTitle + "\n⚠️ " + escapeMarkdown(p.Text)
	}

	var sb strings.Builder
	sb.WriteString(MsgPanelTitle)
	sb.WriteString("\n")
	if p.Style != "" {
		sb.WriteString(fmt.Sprintf(MsgPanelStyle, escapeMarkdown(p.Style)))
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf(MsgPanelBestPrice, escapeMarkdown(p.BestPrice)))
	sb.WriteString("\n")

	for i, o := range p.Offers {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf(MsgPanelOffer, i+1, escapeMarkdown(o.Title), escapeMarkdown(o.Price), escapeMarkdown(o.Source)))
		if o.Rating != "" {
			sb.WriteString(" · ★" + escapeMarkdown(o.Rating))
		}
		if o.Best {
			sb.WriteString(MsgPanelBest)
		}
	}
	return sb.String()
}

func panelKeyboard(p overlay.PanelView) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, o := range p.Offers {
		// Telegram rejects URL buttons without a real link
		if !isHTTPURL(o.ProductLink) {
			continue
		}
		label := fmt.Sprintf("%s · %s", truncate(o.Title, maxButtonTitle), o.Price)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(label, o.ProductLink)))
	}

	pin := BtnPin
	if p.Pinned {
		pin = BtnUnpin
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(pin, callbackPin),
		tgbotapi.NewInlineKeyboardButtonData(BtnClose, callbackClose),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
