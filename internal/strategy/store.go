package strategy

import (
	"encoding/json"
	"os"
	"path/filepath"

	"ichimoku_bot/internal/models"
)

// Store persists every position, open and closed, as a single JSON document.
// Writes go to a temp file first and land with an atomic rename so a crash
// never leaves a partial state file behind.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

type stateFile struct {
	Positions []*models.Position `json:"positions"`
}

// Load returns all persisted positions. A missing file is an empty state,
// not an error.
func (s *Store) Load() ([]*models.Position, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return state.Positions, nil
}

func (s *Store) Save(positions []*models.Position) error {
	data, err := json.MarshalIndent(stateFile{Positions: positions}, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".positions-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
