package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"prop_bot/internal/modules/config"
)

// Service держит экономический календарь недели и отвечает на один вопрос:
// заблокирован ли вход в момент t. Событие блокирует окно ±Window вокруг себя.
// При недоступном фиде работаем по последним удачным данным (fail-open).
type Service struct {
	cfg  config.NewsConfig
	http *http.Client

	mu        sync.RWMutex
	events    []calEvent
	fetchedAt time.Time
}

type calEvent struct {
	Title   string
	Country string
	Impact  string
	At      time.Time
}

func New(cfg *config.Config) *Service {
	return &Service{
		cfg:  cfg.News,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// Refresh перечитывает календарь. Старые данные заменяются только целиком.
func (s *Service) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch calendar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("calendar http %d: %s", resp.StatusCode, string(b))
	}

	var rows []struct {
		Title   string `json:"title"`
		Country string `json:"country"`
		Date    string `json:"date"`
		Impact  string `json:"impact"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return fmt.Errorf("decode calendar: %w", err)
	}

	events := make([]calEvent, 0, len(rows))
	for _, row := range rows {
		if !s.relevant(row.Country, row.Impact) {
			continue
		}
		at, err := time.Parse(time.RFC3339, row.Date)
		if err != nil {
			// одна битая дата не повод ронять весь календарь
			log.Printf("[NEWS] пропускаю событие с кривой датой %q: %v", row.Date, err)
			continue
		}
		events = append(events, calEvent{
			Title:   row.Title,
			Country: strings.ToUpper(row.Country),
			Impact:  row.Impact,
			At:      at,
		})
	}

	s.mu.Lock()
	s.events = events
	s.fetchedAt = time.Now()
	s.mu.Unlock()

	log.Printf("[NEWS] календарь обновлён: %d релевантных событий", len(events))
	return nil
}

func (s *Service) relevant(country, impact string) bool {
	if !strings.EqualFold(impact, s.cfg.Impact) {
		return false
	}
	for _, c := range s.cfg.Currencies {
		if strings.EqualFold(country, c) {
			return true
		}
	}
	return false
}

// Blocked — попадает ли момент t в окно ±Window вокруг новости.
// Выключенный фильтр всегда отвечает "нет".
func (s *Service) Blocked(t time.Time) (bool, string) {
	if !s.cfg.Enabled {
		return false, ""
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.events) == 0 {
		return false, ""
	}

	for _, e := range s.events {
		d := t.Sub(e.At)
		if d < 0 {
			d = -d
		}
		if d <= s.cfg.Window {
			return true, fmt.Sprintf("%s %s @ %s", e.Country, e.Title, e.At.Format("15:04"))
		}
	}
	return false, ""
}

// Run — фоновое обновление: раз в Refresh при успехе, через Retry после неудачи.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Printf("[NEWS] фильтр новостей выключен")
		return
	}

	for {
		delay := s.cfg.Refresh
		if err := s.Refresh(ctx); err != nil {
			log.Printf("[NEWS] обновление не удалось: %v, повтор через %s", err, s.cfg.Retry)
			delay = s.cfg.Retry

			s.mu.RLock()
			stale := !s.fetchedAt.IsZero() && time.Since(s.fetchedAt) > 2*s.cfg.Refresh
			s.mu.RUnlock()
			if stale {
				// данные протухли: торгуем дальше, но об этом стоит знать
				log.Printf("[NEWS] календарь устарел, фильтр работает по старым данным")
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}
