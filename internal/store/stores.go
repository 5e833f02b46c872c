package store

// Stores is the top-level container for all storage backends. A Warden
// deployment runs exactly one backend implementation (sqlite by default,
// postgres for the managed-infra case) — there is no per-store mixing.
type Stores struct {
	Sessions SessionStore
	Goals    GoalStore
	Schedule ScheduleStore
	Mind     MindStore
	Usage    UsageStore
	EmailLog EmailLogStore
}

// StoreConfig configures backend construction.
type StoreConfig struct {
	// SQLitePath is the database file for the embedded default backend.
	SQLitePath string
	// PostgresDSN is the connection string pg.NewPGStores opens. It does not
	// pick the backend: the caller decides which constructor to call.
	PostgresDSN string
}
