package models

// TradeStats — агрегат закрытых сделок за период. Days=0 — за всё время.
type TradeStats struct {
	Days      int
	Trades    int
	Wins      int
	Losses    int // ноль считаем минусом: проп-фирма брейк-ивен в винрейт не засчитывает
	NetProfit float64
	Best      float64
	Worst     float64
}

func (s TradeStats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades) * 100
}
