package service

import (
	"context"
	"fmt"

	"prop_bot/internal/models"
)

// Report — текст часового отчёта: сегодня + за всё время.
func (s *Store) Report(ctx context.Context, acc models.AccountInfo) (text string, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Store.Report: %w", err)
		}
	}()

	daily, err := s.Stats(ctx, 1)
	if err != nil {
		return "", err
	}
	total, err := s.Stats(ctx, 0)
	if err != nil {
		return "", err
	}
	return FormatReport(daily, total, acc), nil
}

// FormatReport собирает часовой отчёт для телеграма и /stats.
func FormatReport(daily, total models.TradeStats, acc models.AccountInfo) string {
	return fmt.Sprintf(
		"*📊 Отчёт по торговле*\n\n"+
			"💰 Баланс: `%.2f` | Эквити: `%.2f`\n\n"+
			"*📅 Сегодня*\n"+
			"Сделок: `%d` (W `%d` / L `%d`)\n"+
			"Win rate: `%.1f%%`\n"+
			"PnL: `%+.2f`\n\n"+
			"*📈 Всего*\n"+
			"Сделок: `%d`\n"+
			"Win rate: `%.1f%%`\n"+
			"PnL: `%+.2f`\n"+
			"Лучшая: `%+.2f` | Худшая: `%+.2f`\n",
		acc.Balance, acc.Equity,
		daily.Trades, daily.Wins, daily.Losses,
		daily.WinRate(),
		daily.NetProfit,
		total.Trades,
		total.WinRate(),
		total.NetProfit,
		total.Best, total.Worst,
	)
}
