package database

import "lotwsync/internal/config"

func schema(driver string) []string {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == config.DriverPostgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS accounts (
            id ` + serial + `,
            username TEXT UNIQUE NOT NULL,
            callsign TEXT NOT NULL,
            last_sync_marker TIMESTAMP NULL,
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS qsos (
            id TEXT PRIMARY KEY,
            account_id BIGINT NOT NULL REFERENCES accounts(id),
            callsign TEXT NOT NULL,
            my_callsign TEXT NOT NULL,
            band TEXT NOT NULL,
            mode TEXT NOT NULL,
            frequency REAL NULL,
            qso_date TEXT NOT NULL,
            time_on TEXT NOT NULL,
            prop_mode TEXT NOT NULL DEFAULT '',
            sat_name TEXT NOT NULL DEFAULT '',
            gridsquare TEXT NOT NULL DEFAULT '',
            my_gridsquare TEXT NOT NULL DEFAULT '',
            rst_sent TEXT NOT NULL DEFAULT '',
            rst_rcvd TEXT NOT NULL DEFAULT '',
            country TEXT NOT NULL DEFAULT '',
            ru_region TEXT NOT NULL DEFAULT '',
            dxcc TEXT NOT NULL DEFAULT '',
            continent TEXT NOT NULL DEFAULT '',
            state TEXT NOT NULL DEFAULT '',
            cq_zone INTEGER NULL,
            itu_zone INTEGER NULL,
            qsl_status TEXT NOT NULL DEFAULT 'N',
            confirmed_at TIMESTAMP NULL,
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL,
            UNIQUE (account_id, callsign, my_callsign, qso_date, band, mode, time_on)
        )`,
		`CREATE TABLE IF NOT EXISTS sync_log (
            id ` + serial + `,
            task_id TEXT NOT NULL,
            account_id BIGINT NOT NULL DEFAULT 0,
            callsign TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL,
            retry_count INTEGER NOT NULL DEFAULT 0,
            fetched INTEGER NOT NULL DEFAULT 0,
            inserted INTEGER NOT NULL DEFAULT 0,
            updated INTEGER NOT NULL DEFAULT 0,
            unchanged INTEGER NOT NULL DEFAULT 0,
            skipped INTEGER NOT NULL DEFAULT 0,
            digest TEXT NOT NULL DEFAULT '',
            last_error TEXT NULL,
            created_at TIMESTAMP NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_qsos_match ON qsos(account_id, callsign, qso_date, band, mode)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_log_account ON sync_log(account_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_log_task ON sync_log(task_id)`,
	}
}
