// Package configstore persists the runtime trading configuration as a
// JSON file so dashboard changes survive restarts. Writes are atomic
// (tmp file + rename).
package configstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"aurafx/internal/blackout"
)

// Data is the persisted trading configuration.
type Data struct {
	PipSize            float64               `json:"pip_size"`
	LotSize            float64               `json:"lot_size"`
	StopLossPips       float64               `json:"stop_loss_pips"`
	TakeProfitPips     float64               `json:"take_profit_pips"`
	FeeRate            float64               `json:"fee_rate"`
	TradingActive      bool                  `json:"trading_active"`
	TrendSMAPeriod     int                   `json:"trend_sma_period"`
	TrendThresholdPips float64               `json:"trend_threshold_pips"`
	ATRThresholdPips   float64               `json:"atr_threshold_pips"`
	BlackoutWindows    []blackout.WindowSpec `json:"blackout_windows"`
}

// Store reads and writes the config file.
type Store struct {
	path string
}

// New creates a store for path.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the persisted config. A missing file returns (nil, nil);
// a malformed file returns an error so the caller can log and fall back
// to defaults.
func (s *Store) Load() (*Data, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read trading config: %w", err)
	}
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse trading config: %w", err)
	}
	return &data, nil
}

// Save writes the config atomically.
func (s *Store) Save(data *Data) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trading config: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".trading-config-*.json")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace trading config: %w", err)
	}
	return nil
}
