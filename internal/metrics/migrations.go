package metrics

import (
	"database/sql"

	"hostwatch/internal/store"
)

// Migrations returns the schema migrations for the metrics tables.
func Migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create metrics table",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS metrics (
						timestamp DATETIME NOT NULL,
						host TEXT NOT NULL,
						cpu_percent REAL,
						cpu_min REAL,
						cpu_max REAL,
						memory_percent REAL,
						memory_min REAL,
						memory_max REAL,
						disk_percent REAL,
						disk_min REAL,
						disk_max REAL,
						network_in INTEGER,
						network_out INTEGER,
						PRIMARY KEY (timestamp, host)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_metrics_host_time ON metrics(host, timestamp)`,
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
