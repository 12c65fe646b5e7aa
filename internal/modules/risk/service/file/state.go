package file

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"prop_bot/internal/models"
	"prop_bot/internal/modules/config"
)

// State хранит RiskState в risk_state_<magic>.json рядом с ботом.
// Файл человекочитаемый: при разборе инцидента его смотрят глазами.
type State struct {
	dir string
	mu  sync.Mutex
}

func NewState(cfg *config.Config) *State {
	dir := cfg.Risk.StateDir
	if dir == "" {
		dir = "."
	}
	return &State{dir: dir}
}

func (s *State) path(magic int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("risk_state_%d.json", magic))
}

func (s *State) Load(magic int64) (models.RiskState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path(magic))
	if err != nil {
		if os.IsNotExist(err) {
			return models.RiskState{}, false, nil
		}
		return models.RiskState{}, false, fmt.Errorf("read %s: %w", s.path(magic), err)
	}

	var st models.RiskState
	if err := json.Unmarshal(b, &st); err != nil {
		return models.RiskState{}, false, fmt.Errorf("decode %s: %w", s.path(magic), err)
	}
	return st, true, nil
}

func (s *State) Save(magic int64, st models.RiskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(&st, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path(magic) + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(magic)) // атомарно
}
