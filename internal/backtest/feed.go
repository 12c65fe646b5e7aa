package backtest

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"prop_bot/internal/helper"
	"prop_bot/internal/models"
	"prop_bot/internal/modules/config"
)

// Feed отдаёт историю так, как её видел бы мост: только бары, закрытые
// к курсору реплея. Бар закрыт, когда время открытия плюс период ТФ не
// позже курсора — заглядывание в недоигранный бар исключено.
type Feed struct {
	mu     sync.Mutex
	series map[string][]models.Bar // ключ символ|ТФ
	cursor time.Time
}

func NewFeed() *Feed {
	return &Feed{series: make(map[string][]models.Bar)}
}

func seriesKey(symbol string, tf models.Timeframe) string {
	return symbol + "|" + string(tf)
}

// Add кладёт серию в хранилище, сортируя по времени открытия.
func (f *Feed) Add(symbol string, tf models.Timeframe, bars []models.Bar) {
	sorted := make([]models.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	f.mu.Lock()
	f.series[seriesKey(symbol, tf)] = sorted
	f.mu.Unlock()
}

// LoadDir грузит <SYMBOL>_<TF>.csv для каждого символа и каждого ТФ пар
// режима (entry и trend).
func (f *Feed) LoadDir(dir string, cfg *config.Config) error {
	tfs := make(map[models.Timeframe]struct{})
	for _, p := range cfg.Pairs() {
		tfs[p.Entry] = struct{}{}
		tfs[p.Trend] = struct{}{}
	}
	loc := cfg.Location()
	for _, sym := range cfg.Symbols {
		for tf := range tfs {
			path := filepath.Join(dir, fmt.Sprintf("%s_%s.csv", sym, tf))
			bars, err := LoadCSV(path, sym, tf, loc)
			if err != nil {
				return err
			}
			f.Add(sym, tf, bars)
		}
	}
	return nil
}

// Advance двигает курсор реплея вперёд.
func (f *Feed) Advance(to time.Time) {
	f.mu.Lock()
	f.cursor = to
	f.mu.Unlock()
}

// Series — вся серия, без оглядки на курсор. Для цикла реплея, не для хаба.
func (f *Feed) Series(symbol string, tf models.Timeframe) []models.Bar {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.series[seriesKey(symbol, tf)]
}

// GetBars — последние count закрытых к курсору баров. Реализует источник
// баров хаба поверх истории.
func (f *Feed) GetBars(ctx context.Context, symbol string, tf models.Timeframe, count int) ([]models.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	series, ok := f.series[seriesKey(symbol, tf)]
	if !ok {
		return nil, errors.Errorf("бектест: нет истории %s %s", symbol, tf)
	}
	dur := helper.TFDuration(tf)
	cursor := f.cursor
	n := sort.Search(len(series), func(i int) bool {
		return series[i].Timestamp.Add(dur).After(cursor)
	})
	lo := 0
	if count > 0 && n > count {
		lo = n - count
	}
	out := make([]models.Bar, n-lo)
	copy(out, series[lo:n])
	return out, nil
}

// LoadCSV читает историю формата time,open,high,low,close[,volume].
// Строка заголовка опциональна. Время — RFC3339 либо "2006-01-02 15:04[:05]"
// (точки вместо дефисов тоже годятся) в зоне торгового сервера.
func LoadCSV(path, symbol string, tf models.Timeframe, loc *time.Location) ([]models.Bar, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "бектест: открытие истории")
	}
	defer fh.Close()

	r := csv.NewReader(fh)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "бектест: чтение %s", path)
	}

	bars := make([]models.Bar, 0, len(rows))
	for i, row := range rows {
		if len(row) < 5 {
			return nil, errors.Errorf("бектест: %s строка %d: колонок %d, нужно минимум 5", path, i+1, len(row))
		}
		ts, err := parseBarTime(strings.TrimSpace(row[0]), loc)
		if err != nil {
			if i == 0 {
				continue // заголовок
			}
			return nil, errors.Wrapf(err, "бектест: %s строка %d", path, i+1)
		}
		var v [4]float64
		for j := range v {
			v[j], err = strconv.ParseFloat(strings.TrimSpace(row[j+1]), 64)
			if err != nil {
				return nil, errors.Wrapf(err, "бектест: %s строка %d", path, i+1)
			}
		}
		b := models.Bar{
			Symbol:    symbol,
			Timeframe: tf,
			Timestamp: ts,
			Open:      v[0],
			High:      v[1],
			Low:       v[2],
			Close:     v[3],
		}
		if len(row) > 5 {
			b.Volume, _ = strconv.ParseFloat(strings.TrimSpace(row[5]), 64)
		}
		bars = append(bars, b)
	}
	if len(bars) == 0 {
		return nil, errors.Errorf("бектест: %s: пустая история", path)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

var barTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006.01.02 15:04:05",
	"2006.01.02 15:04",
	"2006-01-02",
	"2006.01.02",
}

func parseBarTime(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range barTimeLayouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, errors.Errorf("нераспознанное время %q", s)
}
