package service

import (
	"fmt"
	"strings"

	"prop_bot/internal/models"
)

// formatEvent — текст уведомления по типу события. Пустая строка = не шлём.
func formatEvent(e models.Event) string {
	switch e.Type {
	case models.EventSignal:
		return fmt.Sprintf(
			"🎯 *Сигнал* %s %s\n\n"+
				"Сетап: `%s` (%s)\n"+
				"Вход: `%s`\n"+
				"SL: `%s` | TP: `%s`\n",
			e.Symbol, e.Side,
			e.Reason, e.Text,
			fp(e.Price), fp(e.SL), tpText(e.TP))

	case models.EventOrderPlaced:
		head := "🚀 *Сделка открыта*"
		if e.Text == string(models.EntryLimit) {
			head = "⏳ *Лимитка выставлена*"
		}
		return fmt.Sprintf(
			"%s #%d\n\n"+
				"%s %s `%s` лота @ `%s`\n"+
				"SL: `%s` | TP: `%s`\n",
			head, e.Ticket,
			e.Symbol, e.Side, f2(e.Lots), fp(e.Price),
			fp(e.SL), tpText(e.TP))

	case models.EventEntryFilled:
		return fmt.Sprintf(
			"🎯 *Лимитка исполнена* #%d\n\n"+
				"%s %s `%s` лота @ `%s`\n"+
				"SL: `%s` | TP: `%s`\n",
			e.Ticket,
			e.Symbol, e.Side, f2(e.Lots), fp(e.Price),
			fp(e.SL), tpText(e.TP))

	case models.EventEntryExpired:
		return fmt.Sprintf(
			"🗑 *Лимитка снята* #%d\n\n"+
				"%s %s @ `%s`\n"+
				"Причина: `%s`\n",
			e.Ticket, e.Symbol, e.Side, fp(e.Price), e.Reason)

	case models.EventBreakeven:
		return fmt.Sprintf(
			"🛡 *Безубыток* #%d %s\n"+
				"SL → `%s`\n",
			e.Ticket, e.Symbol, fp(e.SL))

	case models.EventTrailing:
		return fmt.Sprintf(
			"🧲 *Трейлинг* #%d %s\n"+
				"SL → `%s`\n",
			e.Ticket, e.Symbol, fp(e.SL))

	case models.EventClosed:
		head := "✅"
		if e.Profit < 0 {
			head = "🔻"
		}
		return fmt.Sprintf(
			"%s *Позиция закрыта* #%d\n\n"+
				"%s %s `%s` лота @ `%s`\n"+
				"Результат: `%+.2f`\n"+
				"Причина: `%s`\n",
			head, e.Ticket,
			e.Symbol, e.Side, f2(e.Lots), fp(e.Price),
			e.Profit, e.Reason)

	case models.EventRejected:
		out := fmt.Sprintf(
			"⛔️ *Сигнал отклонён* %s %s\n"+
				"Причина: `%s`\n",
			e.Symbol, e.Side, e.Reason)
		if e.Text != "" {
			out += e.Text + "\n"
		}
		return out

	case models.EventDrawdownBlock:
		return fmt.Sprintf(
			"🚨 *Лимит просадки*\n\n"+
				"%s\n\n"+
				"Новые входы заблокированы.\n",
			e.Reason)

	case models.EventDrawdownReset:
		return fmt.Sprintf("🔓 *Блок снят*\n%s\n", e.Reason)

	case models.EventConnState:
		return fmt.Sprintf(
			"%s *Связь*: `%s`\n%s\n",
			connEmojiStr(e.State), e.State, e.Reason)

	case models.EventProtectiveAlert:
		return fmt.Sprintf(
			"🆘 *Защитный ордер не прошёл* #%d\n\n"+
				"`%s`\n\n"+
				"Проверь терминал руками.\n",
			e.Ticket, e.Reason)

	case models.EventReport:
		return e.Text
	}
	return ""
}

func formatStatus(st models.ConnState, snap models.DrawdownSnapshot, open int) string {
	out := fmt.Sprintf(
		"*%s Статус*\n\n"+
			"Связь: `%s`\n"+
			"Эквити: `%s`\n"+
			"Просадка дня: `%s%%` (база `%s`)\n"+
			"Просадка общая: `%s%%` (hwm `%s`)\n"+
			"Открытых позиций: `%d`\n",
		connEmoji(st), st,
		f2(snap.Equity),
		f2(snap.DailyPct), f2(snap.DayStart),
		f2(snap.OverallPct), f2(snap.HighWater),
		open)
	if snap.Blocked {
		out += fmt.Sprintf("\n🚨 Блок (%s): %s\n", snap.BlockKind, snap.Reason)
	}
	return out
}

func formatPositions(list []models.Position) string {
	if len(list) == 0 {
		return "📭 Открытых позиций нет"
	}

	var b strings.Builder
	b.WriteString("*📊 Позиции*\n\n")
	for _, p := range list {
		fmt.Fprintf(&b, "`#%d` %s %s `%s` лота @ `%s`\n",
			p.Ticket, p.Symbol, p.Side, f2(p.Lots), fp(p.EntryPrice))
		fmt.Fprintf(&b, "    SL `%s` | TP `%s` | %s\n",
			fp(p.StopLoss), tpText(p.TakeProfit), p.State)
	}
	return b.String()
}
