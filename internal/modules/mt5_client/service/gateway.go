package service

import (
	"context"

	"prop_bot/internal/models"
)

// Gateway — полный контракт шлюза: данные + торговля. Живой Client реализует
// его напрямую, в dry_run маркет-данные остаются живыми, а ордера уходят в Sim.
type Gateway interface {
	Ping(ctx context.Context) error
	GetBars(ctx context.Context, symbol string, tf models.Timeframe, count int) ([]models.Bar, error)
	GetTick(ctx context.Context, symbol string) (models.Tick, error)
	GetAccount(ctx context.Context) (models.AccountInfo, error)
	OpenPositions(ctx context.Context) ([]models.BrokerPosition, error)
	PlaceMarket(ctx context.Context, r OrderRequest) (Fill, error)
	PlaceLimit(ctx context.Context, r OrderRequest) (int64, error)
	ModifyPosition(ctx context.Context, ticket int64, sl, tp float64) error
	ClosePosition(ctx context.Context, ticket int64) (float64, error)
	CancelOrder(ctx context.Context, ticket int64) error
}

// TickSink — кому скармливать живые тики (бумажному исполнителю для филлов).
type TickSink interface {
	Push(t models.Tick)
}

// PaperGateway: котировки и бары из живого моста, исполнение в Sim.
type PaperGateway struct {
	*Sim
	data *Client
}

func NewPaperGateway(data *Client, sim *Sim) *PaperGateway {
	return &PaperGateway{Sim: sim, data: data}
}

func (p *PaperGateway) Ping(ctx context.Context) error { return p.data.Ping(ctx) }

func (p *PaperGateway) GetBars(ctx context.Context, symbol string, tf models.Timeframe, count int) ([]models.Bar, error) {
	return p.data.GetBars(ctx, symbol, tf, count)
}

// GetTick отдаёт живую цену и тут же прокармливает её симулятору,
// чтобы лимитки и стопы срабатывали по реальному рынку.
func (p *PaperGateway) GetTick(ctx context.Context, symbol string) (models.Tick, error) {
	t, err := p.data.GetTick(ctx, symbol)
	if err == nil {
		p.Sim.Push(t)
	}
	return t, err
}
