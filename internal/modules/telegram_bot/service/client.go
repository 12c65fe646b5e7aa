package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"prop_bot/internal/models"
	"prop_bot/internal/modules/config"
	mt5 "prop_bot/internal/modules/mt5_client/service"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ответ на /riskreset ждём дольше обычного: оператор может быть не у телефона
const confirmTimeout = 45 * time.Second

// Risk — срез guard'а: снимок для /status и ручной сброс общего блока.
type Risk interface {
	Snapshot() models.DrawdownSnapshot
	ResetOverall(by string) bool
}

// Book — открытые позиции трекера для /positions.
type Book interface {
	Positions() []models.Position
}

// Reporter — сводка по журналу для /stats.
type Reporter interface {
	Report(ctx context.Context, acc models.AccountInfo) (string, error)
}

// Conn — состояние связи и ретраи для запросов к мосту из команд.
type Conn interface {
	State() models.ConnState
	Do(ctx context.Context, op string, fn func(ctx context.Context) error) error
}

type pending struct {
	ch     chan bool
	msgID  int
	prompt string
}

// Telegram — один чат оператора: уведомления о событиях и команды.
// Пустой токен — валидный режим: уведомления уходят в лог, команд нет.
type Telegram struct {
	bot      *tgbot.BotAPI // nil в режиме лога
	chatID   int64
	risk     Risk
	book     Book
	reporter Reporter
	conn     Conn
	gw       mt5.Gateway

	mu       sync.Mutex
	pendings map[string]*pending
}

func NewTelegram(cfg *config.Config, risk Risk, book Book, reporter Reporter, conn Conn, gw mt5.Gateway) (*Telegram, error) {
	t := &Telegram{
		chatID:   cfg.Telegram.ChatID,
		risk:     risk,
		book:     book,
		reporter: reporter,
		conn:     conn,
		gw:       gw,
		pendings: make(map[string]*pending),
	}
	if cfg.Telegram.Token == "" {
		log.Printf("[TG] 🔕 токен не задан, уведомления пойдут в лог")
		return t, nil
	}

	b, err := tgbot.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("NewTelegram: %w", err)
	}
	t.bot = b
	return t, nil
}

// Notify — точка входа для событий раннера.
func (t *Telegram) Notify(e models.Event) {
	text := formatEvent(e)
	if text == "" {
		return
	}
	t.Send(text)
}

// Send — markdown-сообщение в чат оператора. Без бота пишем в лог:
// на dry-run стенде события видны там же, где остальные логи.
func (t *Telegram) Send(text string) {
	if t.bot == nil {
		log.Printf("[TG] 🔕 %s", text)
		return
	}
	msg := tgbot.NewMessage(t.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := t.bot.Send(msg); err != nil {
		log.Printf("[TG] ⚠️ отправка не удалась: %v", err)
	}
}

// Confirm — вопрос с inline-кнопками, блокирует до ответа, таймаута или
// отмены контекста. Зовётся только из горутин команд, не из цикла обновлений:
// callback приходит тем же циклом.
func (t *Telegram) Confirm(ctx context.Context, prompt string, timeout time.Duration) bool {
	if t.bot == nil {
		return false
	}

	token := fmt.Sprintf("%d", time.Now().UnixNano())
	p := &pending{ch: make(chan bool, 1), prompt: prompt}

	t.mu.Lock()
	t.pendings[token] = p
	t.mu.Unlock()

	btnYes := tgbot.NewInlineKeyboardButtonData("✅ Да", "CONF::"+token)
	btnNo := tgbot.NewInlineKeyboardButtonData("❌ Нет", "REJ::"+token)
	kb := tgbot.NewInlineKeyboardMarkup(tgbot.NewInlineKeyboardRow(btnYes, btnNo))

	msg := tgbot.NewMessage(t.chatID, prompt)
	msg.ReplyMarkup = kb

	sent, _ := t.bot.Send(msg)
	t.mu.Lock()
	p.msgID = sent.MessageID
	t.mu.Unlock()

	tmr := time.NewTimer(timeout)
	defer tmr.Stop()

	select {
	case ok := <-p.ch:
		return ok
	case <-tmr.C:
		t.expire(token, p, "⏳ Таймаут")
		return false
	case <-ctx.Done():
		t.expire(token, p, "⛔️ Отменено")
		return false
	}
}

func (t *Telegram) expire(token string, p *pending, note string) {
	t.mu.Lock()
	delete(t.pendings, token)
	t.mu.Unlock()
	_ = t.editReplyMarkupRemove(p.msgID)
	_ = t.editText(p.msgID, p.prompt+"\n\n"+note)
}

func (t *Telegram) editReplyMarkupRemove(msgID int) error {
	if t.bot == nil {
		return nil
	}
	rm := tgbot.InlineKeyboardMarkup{InlineKeyboard: [][]tgbot.InlineKeyboardButton{}}
	_, err := t.bot.Request(tgbot.NewEditMessageReplyMarkup(t.chatID, msgID, rm))
	return err
}

func (t *Telegram) editText(msgID int, text string) error {
	if t.bot == nil {
		return nil
	}
	_, err := t.bot.Request(tgbot.NewEditMessageText(t.chatID, msgID, text))
	return err
}

// Start — цикл обновлений. Без токена выходим сразу: команд в режиме лога нет.
func (t *Telegram) Start(ctx context.Context) {
	if t.bot == nil {
		return
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)
	log.Printf("[TG] 🤖 бот слушает команды")

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			t.handleUpdate(ctx, update)
		}
	}
}
