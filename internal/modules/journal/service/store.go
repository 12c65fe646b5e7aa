package service

import (
	"context"
	"fmt"
	"time"

	"prop_bot/internal/helper"
	"prop_bot/internal/models"
	"prop_bot/internal/modules/config"
	"prop_bot/pkg/db"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
)

// tradeDetails — jsonb-хвост строки сделки: всё, что не нужно в WHERE,
// но жалко потерять для разбора руками.
type tradeDetails struct {
	StopLoss   float64 `json:"sl"`
	TakeProfit float64 `json:"tp"`
	State      string  `json:"state"`
	Comment    string  `json:"comment,omitempty"`
}

// Store пишет журнал в Postgres: закрытые сделки и риск-события.
// Схема — migrations/001_init.sql.
type Store struct {
	man   db.TxManager
	loc   *time.Location
	magic int64
	now   func() time.Time
}

func NewStore(cfg *config.Config, man *db.PgTxManager) *Store {
	return &Store{
		man:   man,
		loc:   cfg.Location(),
		magic: cfg.Magic,
		now:   time.Now,
	}
}

// Archive кладёт закрытую (или снятую) позицию в журнал. Tracker повторяет
// вызов после ошибки, поэтому вставка идемпотентна по тикету.
func (s *Store) Archive(ctx context.Context, pos models.Position) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Store.Archive: %w", err)
		}
	}()

	var data []byte
	data, err = sonic.Marshal(tradeDetails{
		StopLoss:   pos.StopLoss,
		TakeProfit: pos.TakeProfit,
		State:      string(pos.State),
		Comment:    pos.Comment,
	})
	if err != nil {
		return err
	}

	// снятая до исполнения лимитка сделкой не была: opened_at NULL,
	// статистика такие строки не считает
	duration := 0.0
	session := ""
	if !pos.OpenedAt.IsZero() {
		session = helper.SessionLabel(pos.OpenedAt, s.loc)
		if !pos.ClosedAt.IsZero() {
			duration = pos.ClosedAt.Sub(pos.OpenedAt).Minutes()
		}
	}

	return s.man.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, `
			INSERT INTO trades (
				ticket, magic, symbol, side, lots,
				entry_price, exit_price, opened_at, closed_at, duration_min,
				profit, reason, session, details
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			ON CONFLICT (ticket) DO NOTHING`,
			pos.Ticket, pos.Magic, pos.Symbol, string(pos.Side), pos.Lots,
			pos.EntryPrice, pos.ExitPrice, nullableTime(pos.OpenedAt), nullableTime(pos.ClosedAt), duration,
			pos.Profit, string(pos.Reason), session, data,
		)
		return err
	})
}

// LogRiskEvent фиксирует блокировку/сброс просадки и прочие события риска.
func (s *Store) LogRiskEvent(ctx context.Context, e models.Event) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Store.LogRiskEvent: %w", err)
		}
	}()

	var data []byte
	data, err = sonic.Marshal(e)
	if err != nil {
		return err
	}

	at := e.At
	if at.IsZero() {
		at = s.now()
	}

	return s.man.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, `
			INSERT INTO risk_events (at, magic, kind, reason, details)
			VALUES ($1,$2,$3,$4,$5)`,
			at, s.magic, string(e.Type), e.Reason, data,
		)
		return err
	})
}

// Stats — агрегат по закрытым сделкам за последние days дней (0 — за всё время).
// Нулевой профит идёт в losses, как и в винрейте проп-фирм.
func (s *Store) Stats(ctx context.Context, days int) (st models.TradeStats, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Store.Stats: %w", err)
		}
	}()

	var cutoff time.Time
	if days > 0 {
		cutoff = s.now().AddDate(0, 0, -days)
	}
	st.Days = days

	err = s.man.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctxTx, `
			SELECT count(*),
			       count(*) FILTER (WHERE profit > 0),
			       coalesce(sum(profit), 0),
			       coalesce(max(profit), 0),
			       coalesce(min(profit), 0)
			FROM trades
			WHERE magic = $1 AND opened_at IS NOT NULL AND closed_at >= $2`,
			s.magic, cutoff,
		)
		return row.Scan(&st.Trades, &st.Wins, &st.NetProfit, &st.Best, &st.Worst)
	})
	if err != nil {
		return models.TradeStats{}, err
	}
	st.Losses = st.Trades - st.Wins
	return st, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
