package store

// runMigrations creates the schema. Statements must be idempotent.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Operator settings as key/value pairs; values are JSON or plain text
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
