package config

import (
	"fmt"
	"os"

	"prop_bot/internal/models"
	"prop_bot/internal/traderr"

	"gopkg.in/yaml.v2"
)

const instrumentsFileENV = "INSTRUMENTS_FILE"

// Catalog — справочник инструментов, ключ = символ в верхнем регистре.
type Catalog struct {
	bySymbol map[string]models.Instrument
}

func NewCatalog(cfg *Config) (*Catalog, error) {
	fileName := os.Getenv(instrumentsFileENV)
	if fileName == "" {
		fileName = "instruments.yaml"
	}
	file, err := os.Open("configs/" + fileName)
	if err != nil {
		return nil, fmt.Errorf("open instruments catalog: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	var raw struct {
		Instruments []models.Instrument `yaml:"instruments"`
	}
	if err := yaml.NewDecoder(file).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode instruments catalog: %w", err)
	}

	c, err := NewCatalogFromList(raw.Instruments)
	if err != nil {
		return nil, err
	}

	// каждый торгуемый символ обязан быть в справочнике
	for _, s := range cfg.Symbols {
		if _, ok := c.bySymbol[s]; !ok {
			return nil, &traderr.ConfigError{Field: "symbols", Msg: fmt.Sprintf("%s missing from instruments catalog", s)}
		}
	}

	return c, nil
}

// NewCatalogFromList собирает справочник из готового списка (бектест, тесты).
func NewCatalogFromList(list []models.Instrument) (*Catalog, error) {
	c := &Catalog{bySymbol: make(map[string]models.Instrument, len(list))}
	for _, inst := range list {
		if inst.Symbol == "" {
			return nil, &traderr.ConfigError{Field: "instruments", Msg: "entry without symbol"}
		}
		if inst.Point <= 0 || inst.TickSize <= 0 || inst.TickValue <= 0 {
			return nil, &traderr.ConfigError{Field: "instruments." + inst.Symbol, Msg: "point/tick_size/tick_value must be positive"}
		}
		if inst.PipSize <= 0 {
			// для 5-значных котировок pip = 10 points, справочник может не заполнять
			inst.PipSize = inst.Point * 10
		}
		if inst.LotStep <= 0 {
			inst.LotStep = 0.01
		}
		if inst.LotMin <= 0 {
			inst.LotMin = inst.LotStep
		}
		c.bySymbol[inst.Symbol] = inst
	}
	return c, nil
}

func (c *Catalog) Get(symbol string) (models.Instrument, bool) {
	inst, ok := c.bySymbol[symbol]
	return inst, ok
}

func (c *Catalog) MustGet(symbol string) models.Instrument {
	inst, ok := c.bySymbol[symbol]
	if !ok {
		panic(fmt.Sprintf("instrument %s not in catalog", symbol))
	}
	return inst
}

func (c *Catalog) Symbols() []string {
	out := make([]string, 0, len(c.bySymbol))
	for s := range c.bySymbol {
		out = append(out, s)
	}
	return out
}
