package sqlite

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/fieldnote-ai/warden/internal/providers"
	"github.com/fieldnote-ai/warden/internal/store"
)

const timeLayout = time.RFC3339Nano

// SessionStore implements store.SessionStore backed by the embedded database.
// Mirrors the Postgres store's cache-then-lazy-load pattern so the agent
// loop's hot path never blocks on disk I/O after the first touch.
type SessionStore struct {
	db    *sql.DB
	mu    sync.RWMutex
	cache map[string]*store.SessionData
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db, cache: make(map[string]*store.SessionData)}
}

func (s *SessionStore) GetOrCreate(key string) *store.SessionData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrInit(key)
}

func (s *SessionStore) AddMessage(key string, msg providers.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.getOrInit(key)
	data.Messages = append(data.Messages, msg)
	data.Updated = time.Now()
}

func (s *SessionStore) GetHistory(key string) []providers.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.getOrInit(key)
	out := make([]providers.Message, len(data.Messages))
	copy(out, data.Messages)
	return out
}

func (s *SessionStore) GetSummary(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.cache[key]; ok {
		return d.Summary
	}
	return ""
}

func (s *SessionStore) SetSummary(key, summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrInit(key).Summary = summary
}

func (s *SessionStore) SetLabel(key, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrInit(key).Label = label
}

func (s *SessionStore) SetUserInfo(key, userID, channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.getOrInit(key)
	if userID != "" {
		d.UserID = userID
	}
	if channel != "" {
		d.Channel = channel
	}
}

func (s *SessionStore) SetPermissionModeOverride(key, mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrInit(key).PermissionModeOverride = mode
}

func (s *SessionStore) UpdateMetadata(key, model, provider, channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.getOrInit(key)
	if model != "" {
		d.Model = model
	}
	if provider != "" {
		d.Provider = provider
	}
	if channel != "" {
		d.Channel = channel
	}
}

func (s *SessionStore) AccumulateTokens(key string, input, output int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.getOrInit(key)
	d.InputTokens += input
	d.OutputTokens += output
}

func (s *SessionStore) IncrementCompaction(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrInit(key).CompactionCount++
}

func (s *SessionStore) GetCompactionCount(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.cache[key]; ok {
		return d.CompactionCount
	}
	return 0
}

func (s *SessionStore) GetMemoryFlushCompactionCount(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.cache[key]; ok {
		return d.MemoryFlushCompactionCount
	}
	return -1
}

func (s *SessionStore) SetMemoryFlushDone(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.getOrInit(key)
	d.MemoryFlushCompactionCount = d.CompactionCount
	d.MemoryFlushAt = time.Now().UnixMilli()
}

func (s *SessionStore) SetContextWindow(key string, cw int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrInit(key).ContextWindow = cw
}

func (s *SessionStore) GetContextWindow(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.cache[key]; ok {
		return d.ContextWindow
	}
	return 0
}

func (s *SessionStore) SetLastPromptTokens(key string, tokens, msgCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.getOrInit(key)
	d.LastPromptTokens = tokens
	d.LastMessageCount = msgCount
}

func (s *SessionStore) GetLastPromptTokens(key string) (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.cache[key]; ok {
		return d.LastPromptTokens, d.LastMessageCount
	}
	return 0, 0
}

func (s *SessionStore) TruncateHistory(key string, keepLast int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.getOrInit(key)
	if keepLast <= 0 {
		d.Messages = []providers.Message{}
	} else if len(d.Messages) > keepLast {
		d.Messages = d.Messages[len(d.Messages)-keepLast:]
	}
}

func (s *SessionStore) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.getOrInit(key)
	d.Messages = []providers.Message{}
	d.Summary = ""
}

func (s *SessionStore) Delete(key string) error {
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM sessions WHERE session_key = ?`, key)
	return err
}

func (s *SessionStore) List() []store.SessionInfo {
	rows, err := s.db.Query(`SELECT session_key, messages, created_at, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []store.SessionInfo
	for rows.Next() {
		var key, msgsJSON, createdAt, updatedAt string
		if rows.Scan(&key, &msgsJSON, &createdAt, &updatedAt) != nil {
			continue
		}
		var msgs []providers.Message
		json.Unmarshal([]byte(msgsJSON), &msgs)
		c, _ := time.Parse(timeLayout, createdAt)
		u, _ := time.Parse(timeLayout, updatedAt)
		out = append(out, store.SessionInfo{Key: key, MessageCount: len(msgs), Created: c, Updated: u})
	}
	return out
}

func (s *SessionStore) ListPaged(opts store.SessionListOpts) store.SessionListResult {
	all := s.List()
	total := len(all)
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return store.SessionListResult{Sessions: all[offset:end], Total: total}
}

func (s *SessionStore) Save(key string) error {
	s.mu.RLock()
	d, ok := s.cache[key]
	if !ok {
		s.mu.RUnlock()
		return nil
	}
	snapshot := *d
	msgs := make([]providers.Message, len(d.Messages))
	copy(msgs, d.Messages)
	snapshot.Messages = msgs
	s.mu.RUnlock()

	msgsJSON, _ := json.Marshal(snapshot.Messages)
	_, err := s.db.Exec(
		`INSERT INTO sessions (session_key, messages, summary, model, provider, channel,
			input_tokens, output_tokens, compaction_count, memory_flush_compaction_count, memory_flush_at,
			label, permission_mode_override, user_id, context_window, last_prompt_tokens, last_message_count,
			created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(session_key) DO UPDATE SET
			messages=excluded.messages, summary=excluded.summary, model=excluded.model, provider=excluded.provider,
			channel=excluded.channel, input_tokens=excluded.input_tokens, output_tokens=excluded.output_tokens,
			compaction_count=excluded.compaction_count, memory_flush_compaction_count=excluded.memory_flush_compaction_count,
			memory_flush_at=excluded.memory_flush_at, label=excluded.label,
			permission_mode_override=excluded.permission_mode_override, user_id=excluded.user_id,
			context_window=excluded.context_window, last_prompt_tokens=excluded.last_prompt_tokens,
			last_message_count=excluded.last_message_count, updated_at=excluded.updated_at`,
		key, msgsJSON, snapshot.Summary, snapshot.Model, snapshot.Provider, snapshot.Channel,
		snapshot.InputTokens, snapshot.OutputTokens, snapshot.CompactionCount, snapshot.MemoryFlushCompactionCount,
		snapshot.MemoryFlushAt, snapshot.Label, snapshot.PermissionModeOverride, snapshot.UserID,
		snapshot.ContextWindow, snapshot.LastPromptTokens, snapshot.LastMessageCount,
		snapshot.Created.Format(timeLayout), snapshot.Updated.Format(timeLayout),
	)
	return err
}

func (s *SessionStore) LastUsedChannel() (string, string) {
	var sessionKey string
	err := s.db.QueryRow(`SELECT session_key FROM sessions ORDER BY updated_at DESC LIMIT 1`).Scan(&sessionKey)
	if err != nil {
		return "", ""
	}
	// key layout: agent:{agentId}:{channel}:{peerKind}:{chatId}
	parts := splitN(sessionKey, ":", 5)
	if len(parts) == 5 && parts[0] == "agent" && (parts[3] == "direct" || parts[3] == "group") {
		return parts[2], parts[4]
	}
	return "", ""
}

func splitN(s, sep string, n int) []string {
	var out []string
	for i := 0; i < n-1; i++ {
		idx := -1
		for j := 0; j+len(sep) <= len(s); j++ {
			if s[j:j+len(sep)] == sep {
				idx = j
				break
			}
		}
		if idx < 0 {
			break
		}
		out = append(out, s[:idx])
		s = s[idx+len(sep):]
	}
	return append(out, s)
}

func (s *SessionStore) getOrInit(key string) *store.SessionData {
	if d, ok := s.cache[key]; ok {
		return d
	}
	if d := s.loadFromDB(key); d != nil {
		s.cache[key] = d
		return d
	}
	now := time.Now()
	d := &store.SessionData{Key: key, Messages: []providers.Message{}, Created: now, Updated: now}
	s.cache[key] = d
	return d
}

func (s *SessionStore) loadFromDB(key string) *store.SessionData {
	var msgsJSON, summary, model, provider, channel, label, permOverride, userID, createdAt, updatedAt string
	var inputTokens, outputTokens int64
	var compactionCount, memoryFlushCompactionCount, contextWindow, lastPromptTokens, lastMessageCount int
	var memoryFlushAt int64

	err := s.db.QueryRow(
		`SELECT messages, summary, model, provider, channel, input_tokens, output_tokens,
			compaction_count, memory_flush_compaction_count, memory_flush_at, label,
			permission_mode_override, user_id, context_window, last_prompt_tokens, last_message_count,
			created_at, updated_at
		 FROM sessions WHERE session_key = ?`, key,
	).Scan(&msgsJSON, &summary, &model, &provider, &channel, &inputTokens, &outputTokens,
		&compactionCount, &memoryFlushCompactionCount, &memoryFlushAt, &label,
		&permOverride, &userID, &contextWindow, &lastPromptTokens, &lastMessageCount,
		&createdAt, &updatedAt)
	if err != nil {
		return nil
	}

	var msgs []providers.Message
	json.Unmarshal([]byte(msgsJSON), &msgs)
	created, _ := time.Parse(timeLayout, createdAt)
	updated, _ := time.Parse(timeLayout, updatedAt)

	return &store.SessionData{
		Key: key, Messages: msgs, Summary: summary, Created: created, Updated: updated,
		UserID: userID, Channel: channel, Model: model, Provider: provider,
		InputTokens: inputTokens, OutputTokens: outputTokens, CompactionCount: compactionCount,
		MemoryFlushCompactionCount: memoryFlushCompactionCount, MemoryFlushAt: memoryFlushAt,
		Label: label, PermissionModeOverride: permOverride,
		ContextWindow: contextWindow, LastPromptTokens: lastPromptTokens, LastMessageCount: lastMessageCount,
	}
}
