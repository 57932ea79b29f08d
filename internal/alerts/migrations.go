package alerts

import (
	"database/sql"

	"hostwatch/internal/store"
)

// Migrations returns the schema migrations for the alert ledger.
func Migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create alerts table",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS alerts (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						timestamp DATETIME NOT NULL,
						host TEXT NOT NULL,
						metric_type TEXT NOT NULL,
						severity TEXT NOT NULL,
						message TEXT NOT NULL,
						status TEXT NOT NULL DEFAULT 'pending'
					)`,
					`CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status, host, metric_type)`,
					`CREATE INDEX IF NOT EXISTS idx_alerts_host_time ON alerts(host, timestamp)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
