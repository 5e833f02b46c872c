package pg

import (
	"database/sql"
	"time"

	"github.com/fieldnote-ai/warden/internal/store"
)

// PGUsageStore implements store.UsageStore backed by Postgres.
type PGUsageStore struct {
	db *sql.DB
}

func NewPGUsageStore(db *sql.DB) *PGUsageStore {
	return &PGUsageStore{db: db}
}

func (s *PGUsageStore) Record(e *store.UsageEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO usage_log (id, ts, provider, model, task_type, prompt_tokens, completion_tokens, cost_usd, session_key, fallback_from, finish_reason, latency_ms, suspected_truncated)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		store.GenNewID(), e.Timestamp, e.Provider, e.Model, nilStr(e.TaskType), e.PromptTokens, e.CompletionTokens, e.CostUSD,
		nilStr(e.SessionKey), nilStr(e.FallbackFrom), nilStr(e.FinishReason), e.LatencyMs, e.SuspectedTruncated,
	)
	return err
}

func (s *PGUsageStore) TotalCostSince(since time.Time) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRow(`SELECT SUM(cost_usd) FROM usage_log WHERE ts >= $1`, since).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Float64, nil
}

func (s *PGUsageStore) ListRecent(limit int) ([]*store.UsageEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT ts, provider, model, task_type, prompt_tokens, completion_tokens, cost_usd, session_key, fallback_from, finish_reason, latency_ms, suspected_truncated
		 FROM usage_log ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.UsageEntry
	for rows.Next() {
		var e store.UsageEntry
		var taskType, sessionKey, fallbackFrom, finishReason *string
		if err := rows.Scan(&e.Timestamp, &e.Provider, &e.Model, &taskType, &e.PromptTokens, &e.CompletionTokens, &e.CostUSD,
			&sessionKey, &fallbackFrom, &finishReason, &e.LatencyMs, &e.SuspectedTruncated); err != nil {
			continue
		}
		e.TaskType = derefStr(taskType)
		e.SessionKey = derefStr(sessionKey)
		e.FallbackFrom = derefStr(fallbackFrom)
		e.FinishReason = derefStr(finishReason)
		out = append(out, &e)
	}
	return out, nil
}
