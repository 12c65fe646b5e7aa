package models

// Instrument — справочник контракта из configs/instruments.yaml.
// PipSize отличается от Point: для 5-значных форекс-котировок pip = 10 points.
type Instrument struct {
	Symbol        string  `yaml:"symbol"`
	Description   string  `yaml:"description"`
	Digits        int     `yaml:"digits"`
	Point         float64 `yaml:"point"`
	PipSize       float64 `yaml:"pip_size"`
	TickSize      float64 `yaml:"tick_size"`
	TickValue     float64 `yaml:"tick_value"`
	ContractSize  float64 `yaml:"contract_size"`
	LotMin        float64 `yaml:"lot_min"`
	LotStep       float64 `yaml:"lot_step"`
	LotMax        float64 `yaml:"lot_max"`
	MarginRate    float64 `yaml:"margin_rate"`
	BaseCurrency  string  `yaml:"base_currency"`
	QuoteCurrency string  `yaml:"quote_currency"`
}

// AccountInfo — снимок торгового счёта из шлюза.
type AccountInfo struct {
	Balance    float64
	Equity     float64
	Margin     float64
	FreeMargin float64
	Currency   string
	Leverage   int
}
