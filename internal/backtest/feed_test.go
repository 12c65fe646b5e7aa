package backtest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"prop_bot/internal/models"
	"prop_bot/internal/modules/config"
)

func writeCSV(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadCSVParsesAndSorts(t *testing.T) {
	// заголовок, перепутанный порядок строк и два формата времени
	body := "time,open,high,low,close,volume\n" +
		"2026-03-02 08:00,1.1004,1.1008,1.1002,1.1006,120\n" +
		"2026.03.02 04:00:00,1.1000,1.1005,1.0999,1.1004,95\n" +
		"2026-03-02T12:00:00Z,1.1006,1.1010,1.1005,1.1009,80\n"
	path := writeCSV(t, t.TempDir(), "EURUSD_H4.csv", body)

	bars, err := LoadCSV(path, "EURUSD", models.TFH4, time.UTC)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("bars = %d, want 3", len(bars))
	}
	if !bars[0].Timestamp.Equal(time.Date(2026, 3, 2, 4, 0, 0, 0, time.UTC)) {
		t.Fatalf("first bar at %v, want 04:00 (сортировка по времени)", bars[0].Timestamp)
	}
	b := bars[0]
	if b.Symbol != "EURUSD" || b.Timeframe != models.TFH4 {
		t.Fatalf("meta = %s %s, want EURUSD H4", b.Symbol, b.Timeframe)
	}
	if b.Open != 1.1000 || b.High != 1.1005 || b.Low != 1.0999 || b.Close != 1.1004 || b.Volume != 95 {
		t.Fatalf("ohlcv = %+v", b)
	}
}

func TestLoadCSVRejectsGarbage(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadCSV(filepath.Join(dir, "nope.csv"), "EURUSD", models.TFH4, time.UTC); err == nil {
		t.Fatalf("missing file must fail")
	}

	short := writeCSV(t, dir, "short.csv", "2026-03-02 04:00,1.1000,1.1005\n")
	if _, err := LoadCSV(short, "EURUSD", models.TFH4, time.UTC); err == nil {
		t.Fatalf("row with 3 columns must fail")
	}

	badPx := writeCSV(t, dir, "badpx.csv", "2026-03-02 04:00,1.1000,oops,1.0999,1.1004\n")
	if _, err := LoadCSV(badPx, "EURUSD", models.TFH4, time.UTC); err == nil {
		t.Fatalf("unparsable price must fail")
	}

	headerOnly := writeCSV(t, dir, "header.csv", "time,open,high,low,close\n")
	if _, err := LoadCSV(headerOnly, "EURUSD", models.TFH4, time.UTC); err == nil {
		t.Fatalf("history without rows must fail")
	}
}

// Закрытость бара: открытие плюс период ТФ не позже курсора. Бар, который
// ещё идёт, хабу не отдаём.
func TestGetBarsClosedOnly(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	f := NewFeed()
	f.Add("EURUSD", models.TFH4, rampBars(5, 1.1000, 0.0002, t0, models.TFH4))

	get := func(count int) []models.Bar {
		t.Helper()
		bars, err := f.GetBars(context.Background(), "EURUSD", models.TFH4, count)
		if err != nil {
			t.Fatalf("get bars: %v", err)
		}
		return bars
	}

	f.Advance(t0)
	if got := get(50); len(got) != 0 {
		t.Fatalf("до первого закрытия отдано %d баров", len(got))
	}

	f.Advance(t0.Add(4 * time.Hour)) // первый бар закрылся ровно сейчас
	if got := get(50); len(got) != 1 {
		t.Fatalf("bars = %d, want 1", len(got))
	}

	f.Advance(t0.Add(6 * time.Hour)) // второй ещё идёт
	if got := get(50); len(got) != 1 {
		t.Fatalf("недоигранный бар попал в выдачу: %d", len(got))
	}

	f.Advance(t0.Add(16 * time.Hour))
	got := get(2)
	if len(got) != 2 {
		t.Fatalf("cap: bars = %d, want 2", len(got))
	}
	if !got[1].Timestamp.Equal(t0.Add(12 * time.Hour)) {
		t.Fatalf("cap отдал не хвост серии: %v", got[1].Timestamp)
	}
}

func TestGetBarsUnknownSeries(t *testing.T) {
	f := NewFeed()
	if _, err := f.GetBars(context.Background(), "XAUUSD", models.TFH4, 10); err == nil {
		t.Fatalf("unknown series must fail")
	}
}

func TestLoadDirBySymbolAndTF(t *testing.T) {
	dir := t.TempDir()
	row := "2026-03-02 00:00,1.1000,1.1005,1.0999,1.1004\n"
	writeCSV(t, dir, "EURUSD_H4.csv", row)
	writeCSV(t, dir, "EURUSD_D1.csv", row)

	cfg := &config.Config{Symbols: []string{"EURUSD"}, Mode: "SWING"}

	f := NewFeed()
	if err := f.LoadDir(dir, cfg); err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if got := f.Series("EURUSD", models.TFH4); len(got) != 1 {
		t.Fatalf("H4 series = %d, want 1", len(got))
	}
	if got := f.Series("EURUSD", models.TFD1); len(got) != 1 {
		t.Fatalf("D1 series = %d, want 1", len(got))
	}

	// без файла одного из ТФ загрузка падает целиком
	if err := NewFeed().LoadDir(t.TempDir(), cfg); err == nil {
		t.Fatalf("missing files must fail")
	}
}
