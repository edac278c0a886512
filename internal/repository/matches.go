package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ludoforge/ludo-server-go/internal/room"
)

// MatchRepository persists completed match results. It satisfies
// room.MatchStore.
type MatchRepository struct {
	db *DB
}

// NewMatchRepository creates a repository over db.
func NewMatchRepository(db *DB) *MatchRepository {
	return &MatchRepository{db: db}
}

// SaveResult inserts the result once. A retry with the same room code and
// state version is swallowed by the conflict clause, never duplicated.
func (r *MatchRepository) SaveResult(ctx context.Context, result room.MatchResult) error {
	rankings, err := json.Marshal(result.Rankings)
	if err != nil {
		return fmt.Errorf("marshal rankings: %w", err)
	}

	tag, err := r.db.pool.Exec(ctx, `
		INSERT INTO match_results
			(room_code, state_version, game_type_id, variant, reason, rankings, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (room_code, state_version) DO NOTHING`,
		result.RoomCode,
		result.StateVersion,
		result.GameTypeID,
		string(result.Variant),
		string(result.Reason),
		rankings,
		result.StartedAt,
		result.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert match result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.db.logger.Debug("match result already recorded",
			zap.String("room_code", result.RoomCode),
			zap.Uint64("state_version", result.StateVersion),
		)
	}
	return nil
}

// GetResult loads a stored result by room code and state version.
func (r *MatchRepository) GetResult(ctx context.Context, roomCode string, stateVersion uint64) (room.MatchResult, error) {
	var (
		result   room.MatchResult
		variant  string
		reason   string
		rankings []byte
	)
	err := r.db.pool.QueryRow(ctx, `
		SELECT room_code, state_version, game_type_id, variant, reason, rankings, started_at, completed_at
		FROM match_results
		WHERE room_code = $1 AND state_version = $2`,
		roomCode, stateVersion,
	).Scan(
		&result.RoomCode,
		&result.StateVersion,
		&result.GameTypeID,
		&variant,
		&reason,
		&rankings,
		&result.StartedAt,
		&result.CompletedAt,
	)
	if err != nil {
		return room.MatchResult{}, fmt.Errorf("load match result: %w", err)
	}
	result.Variant = room.Variant(variant)
	result.Reason = room.CompletionReason(reason)
	if err := json.Unmarshal(rankings, &result.Rankings); err != nil {
		return room.MatchResult{}, fmt.Errorf("unmarshal rankings: %w", err)
	}
	return result, nil
}

// RecentResults lists results completed since the cutoff, newest first.
func (r *MatchRepository) RecentResults(ctx context.Context, since time.Time, limit int) ([]room.MatchResult, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT room_code, state_version, game_type_id, variant, reason, rankings, started_at, completed_at
		FROM match_results
		WHERE completed_at >= $1
		ORDER BY completed_at DESC
		LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list match results: %w", err)
	}
	defer rows.Close()

	var results []room.MatchResult
	for rows.Next() {
		var (
			result   room.MatchResult
			variant  string
			reason   string
			rankings []byte
		)
		if err := rows.Scan(
			&result.RoomCode,
			&result.StateVersion,
			&result.GameTypeID,
			&variant,
			&reason,
			&rankings,
			&result.StartedAt,
			&result.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan match result: %w", err)
		}
		result.Variant = room.Variant(variant)
		result.Reason = room.CompletionReason(reason)
		if err := json.Unmarshal(rankings, &result.Rankings); err != nil {
			return nil, fmt.Errorf("unmarshal rankings: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}
