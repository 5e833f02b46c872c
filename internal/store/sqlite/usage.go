package sqlite

import (
	"database/sql"
	"time"

	"github.com/fieldnote-ai/warden/internal/store"
)

type UsageStore struct{ db *sql.DB }

func NewUsageStore(db *sql.DB) *UsageStore { return &UsageStore{db: db} }

func (s *UsageStore) Record(e *store.UsageEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO usage_log (id, ts, provider, model, task_type, prompt_tokens, completion_tokens, cost_usd, session_key, fallback_from, finish_reason, latency_ms, suspected_truncated)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		store.GenNewID().String(), e.Timestamp.Format(timeLayout), e.Provider, e.Model, e.TaskType,
		e.PromptTokens, e.CompletionTokens, e.CostUSD, e.SessionKey, e.FallbackFrom,
		e.FinishReason, e.LatencyMs, e.SuspectedTruncated,
	)
	return err
}

func (s *UsageStore) TotalCostSince(since time.Time) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRow(`SELECT SUM(cost_usd) FROM usage_log WHERE ts >= ?`, since.Format(timeLayout)).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Float64, nil
}

func (s *UsageStore) ListRecent(limit int) ([]*store.UsageEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT ts, provider, model, task_type, prompt_tokens, completion_tokens, cost_usd, session_key, fallback_from, finish_reason, latency_ms, suspected_truncated
		 FROM usage_log ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.UsageEntry
	for rows.Next() {
		var e store.UsageEntry
		var ts string
		if rows.Scan(&ts, &e.Provider, &e.Model, &e.TaskType, &e.PromptTokens, &e.CompletionTokens, &e.CostUSD,
			&e.SessionKey, &e.FallbackFrom, &e.FinishReason, &e.LatencyMs, &e.SuspectedTruncated) != nil {
			continue
		}
		e.Timestamp, _ = time.Parse(timeLayout, ts)
		out = append(out, &e)
	}
	return out, nil
}
