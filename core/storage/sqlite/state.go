package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/koscakluka/reality-quest/core/game"
	"github.com/koscakluka/reality-quest/core/memory"
	"github.com/koscakluka/reality-quest/core/quests"
	"github.com/m-mizutani/goerr/v2"
)

// Load returns the saved snapshot, or a fresh state when there is none.
// Snapshots that cannot be decoded or fail validation are deleted.
func (s *Store) Load(now time.Time) game.State {
	var payload string
	err := s.db.QueryRow(`SELECT payload_json FROM game_state WHERE key = ?`, s.stateKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return game.InitialState(now)
	}
	if err != nil {
		logger.Warn("failed to read saved state", "key", s.stateKey, "error", err)
		return game.InitialState(now)
	}

	state, err := decodeState(payload)
	if err != nil {
		logger.Warn("discarding saved state", "key", s.stateKey, "error", err)
		if _, err := s.db.Exec(`DELETE FROM game_state WHERE key = ?`, s.stateKey); err != nil {
			logger.Warn("failed to delete saved state", "key", s.stateKey, "error", err)
		}
		return game.InitialState(now)
	}
	return state
}

// Save stores state without its location.
func (s *Store) Save(state game.State) error {
	state.Location = nil
	payload, err := json.Marshal(state)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal state")
	}

	if _, err := s.db.Exec(
		`INSERT INTO game_state (key, payload_json, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload_json = excluded.payload_json, updated_at = excluded.updated_at`,
		s.stateKey, string(payload), s.now().UnixMilli(),
	); err != nil {
		return goerr.Wrap(err, "failed to save state", goerr.V("key", s.stateKey))
	}
	return nil
}

func decodeState(payload string) (game.State, error) {
	var state game.State
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return game.State{}, goerr.Wrap(err, "failed to decode state")
	}
	if err := validateState(state); err != nil {
		return game.State{}, err
	}

	state.Location = nil
	if state.RequestHistory == nil {
		state.RequestHistory = []game.HistoryItem{}
	}
	if state.Memories == nil {
		state.Memories = []game.MemoryItem{}
	}
	if state.CollectedGemies == nil {
		state.CollectedGemies = []game.CollectedAvatar{}
	}
	return state, nil
}

func validateState(state game.State) error {
	if !state.Phase.IsValid() {
		return goerr.New("unknown phase", goerr.V("phase", state.Phase))
	}
	if state.UpdatedAt.IsZero() {
		return goerr.New("updatedAt missing")
	}
	if state.CurrentRequest != nil {
		if err := quests.Validate(*state.CurrentRequest); err != nil {
			return goerr.Wrap(err, "invalid current request")
		}
	}
	if state.LastJudge != nil && state.LastJudge.Reason == "" {
		return goerr.New("last judge has no reason")
	}
	for _, item := range state.RequestHistory {
		if item.RequestID == "" {
			return goerr.New("history item without request id")
		}
	}
	for _, item := range state.Memories {
		if err := memory.ValidateItem(item); err != nil {
			return goerr.Wrap(err, "invalid memory")
		}
	}
	for _, avatar := range state.CollectedGemies {
		if avatar.ID == "" || avatar.ImageURL == "" {
			return goerr.New("invalid collected avatar", goerr.V("id", avatar.ID))
		}
	}
	return nil
}
