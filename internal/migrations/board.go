package migrations

import "database/sql"

// InitMessageMigrations registers the message log schema.
func InitMessageMigrations(runner *Runner) {
	runner.AddMigration(
		1,
		"Create messages table",
		`CREATE TABLE messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			number INTEGER NOT NULL,
			posted_at TEXT NOT NULL,
			username TEXT NOT NULL,
			body TEXT NOT NULL,
			edited INTEGER NOT NULL DEFAULT 0
		)`,
	)

	// number is not unique: renumbering shifts rows one at a time.
	runner.AddMigration(
		2,
		"Create index on message number",
		`CREATE INDEX idx_messages_number ON messages(number)`,
	)
}

// InitSessionMigrations registers the session log schema.
func InitSessionMigrations(runner *Runner) {
	runner.AddMigration(
		1,
		"Create sessions table",
		`CREATE TABLE sessions (
			id TEXT PRIMARY KEY,
			number INTEGER NOT NULL,
			logged_in_at TEXT NOT NULL,
			username TEXT NOT NULL,
			host TEXT NOT NULL,
			udp_port INTEGER NOT NULL
		)`,
	)

	runner.AddMigration(
		2,
		"Create index on session number",
		`CREATE INDEX idx_sessions_number ON sessions(number)`,
	)
}

// BootstrapMessages brings the message log schema up to date.
func BootstrapMessages(db *sql.DB) error {
	runner := NewRunner(db)
	InitMessageMigrations(runner)
	return runner.Run()
}

// BootstrapSessions brings the session log schema up to date.
func BootstrapSessions(db *sql.DB) error {
	runner := NewRunner(db)
	InitSessionMigrations(runner)
	return runner.Run()
}
