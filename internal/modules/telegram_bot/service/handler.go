package service

import (
	"context"
	"fmt"
	"strings"

	"prop_bot/internal/models"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func (t *Telegram) handleUpdate(ctx context.Context, update tgbot.Update) {
	// 1) Команды. Бот личный: чужие чаты молча игнорируем.
	if msg := update.Message; msg != nil {
		if msg.Chat == nil || msg.Chat.ID != t.chatID {
			return
		}
		if !msg.IsCommand() {
			return
		}
		switch msg.Command() {
		case "start", "help":
			t.handleStart()
		case "status":
			t.handleStatus()
		case "positions":
			t.handlePositions()
		case "stats":
			// поход к мосту, цикл обновлений не держим
			go t.handleStats(ctx)
		case "riskreset":
			// ждёт callback из этого же цикла, поэтому только горутиной
			go t.handleRiskReset(ctx)
		default:
			t.Send("🤷 Не знаю такой команды, смотри /help")
		}
		return
	}

	// 2) Inline-кнопки (CONF::token / REJ::token)
	if cb := update.CallbackQuery; cb != nil {
		if cb.Message == nil || cb.Message.Chat == nil || cb.Message.Chat.ID != t.chatID {
			return
		}
		// отвечаем ТГ, чтобы убрать "часики" на кнопке
		_, _ = t.bot.Request(tgbot.NewCallback(cb.ID, ""))
		if strings.Contains(cb.Data, "::") {
			t.handleConfirmCallback(cb.Data)
		}
		return
	}
}

func (t *Telegram) handleStart() {
	t.Send("🤖 *PropBot*\n\n" +
		"/status — связь, счёт, просадка\n" +
		"/positions — открытые позиции\n" +
		"/stats — отчёт по журналу\n" +
		"/riskreset — снять общий блок торговли\n")
}

func (t *Telegram) handleStatus() {
	t.Send(formatStatus(t.conn.State(), t.risk.Snapshot(), len(t.book.Positions())))
}

func (t *Telegram) handlePositions() {
	t.Send(formatPositions(t.book.Positions()))
}

func (t *Telegram) handleStats(ctx context.Context) {
	var acct models.AccountInfo
	err := t.conn.Do(ctx, "account info", func(ctx context.Context) error {
		var err error
		acct, err = t.gw.GetAccount(ctx)
		return err
	})
	if err != nil {
		t.Send(fmt.Sprintf("⚠️ Счёт недоступен: %v", err))
		return
	}

	text, err := t.reporter.Report(ctx, acct)
	if err != nil {
		t.Send(fmt.Sprintf("⚠️ Отчёт не собрался: %v", err))
		return
	}
	t.Send(text)
}

// handleRiskReset — снятие общего блока. Дневной снимается сам с новым
// торговым днём, его не трогаем. Общий — только с живым подтверждением:
// это перезапись high-water mark.
func (t *Telegram) handleRiskReset(ctx context.Context) {
	snap := t.risk.Snapshot()
	if !snap.Blocked {
		t.Send("✅ Блокировок нет, торгуем")
		return
	}
	if snap.BlockKind == models.BlockDaily {
		t.Send("🕛 Дневной блок снимется сам с новым торговым днём")
		return
	}

	prompt := fmt.Sprintf(
		"🚨 Снять общий блок?\n\n%s\n\nHigh-water перепишется на текущий эквити %s.",
		snap.Reason, f2(snap.Equity))
	if !t.Confirm(ctx, prompt, confirmTimeout) {
		return
	}

	if t.risk.ResetOverall("telegram") {
		t.Send("🔓 Общий блок снят, high-water переустановлен")
	} else {
		t.Send("🤔 Блока уже нет, снимать нечего")
	}
}

// handleConfirmCallback обрабатывает callback-и вида CONF::token / REJ::token.
func (t *Telegram) handleConfirmCallback(data string) {
	verb, token := parseConfirmData(data)
	if verb == "" || token == "" {
		return
	}

	t.mu.Lock()
	p, ok := t.pendings[token]
	var msgID int
	if ok {
		delete(t.pendings, token)
		msgID = p.msgID // под мьютексом: Confirm дописывает msgID после отправки
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	accepted := verb == "CONF"
	p.ch <- accepted
	close(p.ch)

	status := "Отклонено"
	emoji := "❌"
	if accepted {
		status = "Подтверждено"
		emoji = "✅"
	}

	_ = t.editReplyMarkupRemove(msgID)
	_ = t.editText(msgID, fmt.Sprintf("%s\n\n%s %s", p.prompt, emoji, status))
}

func parseConfirmData(data string) (verb, token string) {
	for i := 0; i+1 < len(data); i++ {
		if data[i] == ':' && data[i+1] == ':' {
			return data[:i], data[i+2:]
		}
	}
	return "", ""
}
