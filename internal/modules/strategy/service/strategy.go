package service

import (
	"prop_bot/internal/models"
	"prop_bot/internal/modules/config"
)

type Engine interface {
	// ok==true когда по последнему закрытому бару entry-ТФ есть вход
	Evaluate(inst models.Instrument, pair config.TFPair, entry, trend []models.Bar) (sig models.Signal, ok bool)

	// Warmup — минимум закрытых баров entry-ТФ для оценки
	Warmup() int
	Dump(symbol string) string
	Name() string
}
