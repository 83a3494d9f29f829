package database

import (
	"context"
	"fmt"
	"time"
)

const memosSchema = `
CREATE TABLE IF NOT EXISTS memos (
    id               BIGSERIAL PRIMARY KEY,
    request_id       TEXT NOT NULL,
    user_id          TEXT NOT NULL,
    audio_location   TEXT NOT NULL,
    duration_seconds DOUBLE PRECISION NOT NULL,
    price_usd        DOUBLE PRECISION NOT NULL,
    transcript       TEXT NOT NULL,
    summary          TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS memos_user_created_idx ON memos (user_id, created_at DESC);
`

// InitSchema creates the memos table on a fresh database. Idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, memosSchema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	db.log.Debug().Msg("schema ready")
	return nil
}

// MemoRow is the input for recording a processed memo.
type MemoRow struct {
	RequestID       string
	UserID          string
	AudioLocation   string
	DurationSeconds float64
	PriceUSD        float64
	Transcript      string
	Summary         string
}

// MemoAPI is the memo representation for API responses.
type MemoAPI struct {
	ID              int64     `json:"id"`
	RequestID       string    `json:"request_id"`
	UserID          string    `json:"user_id"`
	AudioLocation   string    `json:"audio_location"`
	DurationSeconds float64   `json:"duration_seconds"`
	PriceUSD        float64   `json:"price_usd"`
	Transcript      string    `json:"transcript"`
	Summary         string    `json:"summary,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// InsertMemo records a completed pipeline run and returns the new row id.
func (db *DB) InsertMemo(ctx context.Context, row *MemoRow) (int64, error) {
	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO memos (request_id, user_id, audio_location, duration_seconds, price_usd, transcript, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		row.RequestID, row.UserID, row.AudioLocation, row.DurationSeconds,
		row.PriceUSD, row.Transcript, row.Summary,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert memo: %w", err)
	}
	return id, nil
}

// ListMemos returns a user's memos, newest first. userID may be empty to
// list across all users.
func (db *DB) ListMemos(ctx context.Context, userID string, limit, offset int) ([]MemoAPI, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT id, request_id, user_id, audio_location, duration_seconds, price_usd, transcript, summary, created_at
		FROM memos
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list memos: %w", err)
	}
	defer rows.Close()

	var memos []MemoAPI
	for rows.Next() {
		var m MemoAPI
		if err := rows.Scan(&m.ID, &m.RequestID, &m.UserID, &m.AudioLocation,
			&m.DurationSeconds, &m.PriceUSD, &m.Transcript, &m.Summary, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memo: %w", err)
		}
		memos = append(memos, m)
	}
	return memos, rows.Err()
}
