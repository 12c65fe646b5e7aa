package service

import (
	"prop_bot/internal/modules/config"
)

func NewEngine(cfg *config.Config) Engine {
	return NewWickEngine(cfg)
}
