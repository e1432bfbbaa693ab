// Package sqlite persists the last good feed load and the history of fetch
// runs so a restart can serve the dashboard before the first refresh.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"vadash/internal/domain"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS va_records (
		position       INTEGER PRIMARY KEY,
		va_id          TEXT DEFAULT '',
		cause          TEXT DEFAULT '',
		death_date     TEXT DEFAULT '',
		province       TEXT DEFAULT '',
		district       TEXT DEFAULT '',
		age_group      TEXT DEFAULT '',
		sex            TEXT DEFAULT '',
		place_of_death TEXT DEFAULT '',
		facility       TEXT DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_va_records_cause ON va_records(cause);

	CREATE TABLE IF NOT EXISTS feed_meta (
		id             INTEGER PRIMARY KEY CHECK (id = 1),
		uncoded        INTEGER NOT NULL DEFAULT 0,
		last_update    TEXT DEFAULT '',
		last_interview TEXT DEFAULT '',
		all_causes     TEXT DEFAULT '',
		source         TEXT DEFAULT '',
		loaded_at      DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS fetch_runs (
		id          TEXT PRIMARY KEY,
		source      TEXT NOT NULL,
		status      TEXT NOT NULL,
		records     INTEGER NOT NULL DEFAULT 0,
		uncoded     INTEGER NOT NULL DEFAULT 0,
		error       TEXT DEFAULT '',
		started_at  DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fetch_runs_started_at ON fetch_runs(started_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrateFacility(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// migrateFacility adds the facility column to databases created before it
// was part of va_records.
func migrateFacility(db *sql.DB) error {
	var colCount int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('va_records') WHERE name = 'facility'`).Scan(&colCount)
	if err != nil {
		return fmt.Errorf("inspect va_records: %w", err)
	}
	if colCount > 0 {
		return nil
	}
	if _, err := db.Exec(`ALTER TABLE va_records ADD COLUMN facility TEXT DEFAULT ''`); err != nil {
		return fmt.Errorf("add facility column: %w", err)
	}
	return nil
}

// ReplaceDataset swaps the stored dataset for ds in one transaction. On any
// error the previous dataset is left intact.
func ReplaceDataset(db *sql.DB, ds domain.Dataset, source string, loadedAt time.Time) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM va_records`); err != nil {
		return err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO va_records (position, va_id, cause, death_date, province, district, age_group, sex, place_of_death, facility)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range ds.Valid {
		_, err := stmt.Exec(i, r.ID, r.Cause, r.Date, r.Province, r.District,
			string(r.AgeGroup), r.Sex, r.PlaceOfDeath, r.Facility)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(
		`INSERT INTO feed_meta (id, uncoded, last_update, last_interview, all_causes, source, loaded_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   uncoded = excluded.uncoded,
		   last_update = excluded.last_update,
		   last_interview = excluded.last_interview,
		   all_causes = excluded.all_causes,
		   source = excluded.source,
		   loaded_at = excluded.loaded_at`,
		ds.Uncoded, ds.UpdateStats.LastUpdate, ds.UpdateStats.LastInterview,
		strings.Join(ds.AllCauses, "\n"), source, loadedAt,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// LoadDataset returns the stored dataset. ok is false when nothing has been
// stored yet.
func LoadDataset(db *sql.DB) (ds domain.Dataset, ok bool, err error) {
	var allCauses string
	err = db.QueryRow(
		`SELECT uncoded, last_update, last_interview, all_causes FROM feed_meta WHERE id = 1`,
	).Scan(&ds.Uncoded, &ds.UpdateStats.LastUpdate, &ds.UpdateStats.LastInterview, &allCauses)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Dataset{}, false, nil
	}
	if err != nil {
		return domain.Dataset{}, false, err
	}
	if allCauses != "" {
		ds.AllCauses = strings.Split(allCauses, "\n")
	}

	rows, err := db.Query(
		`SELECT va_id, cause, death_date, province, district, age_group, sex, place_of_death, facility
		 FROM va_records ORDER BY position`,
	)
	if err != nil {
		return domain.Dataset{}, false, err
	}
	defer rows.Close()

	for rows.Next() {
		var r domain.Record
		var age string
		if err := rows.Scan(&r.ID, &r.Cause, &r.Date, &r.Province, &r.District,
			&age, &r.Sex, &r.PlaceOfDeath, &r.Facility); err != nil {
			return domain.Dataset{}, false, err
		}
		r.AgeGroup = domain.AgeGroup(age)
		ds.Valid = append(ds.Valid, r)
	}
	if err := rows.Err(); err != nil {
		return domain.Dataset{}, false, err
	}
	return ds, true, nil
}

const (
	RunOK    = "ok"
	RunError = "error"
	RunStale = "stale"
)

type FetchRun struct {
	ID         string
	Source     string
	Status     string
	Records    int
	Uncoded    int
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

func RecordFetchRun(db *sql.DB, run FetchRun) error {
	_, err := db.Exec(
		`INSERT INTO fetch_runs (id, source, status, records, uncoded, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.Status, run.Records, run.Uncoded, run.Error, run.StartedAt, run.FinishedAt,
	)
	return err
}

// LastFetchRun returns the most recently finished run, or sql.ErrNoRows.
func LastFetchRun(db *sql.DB) (FetchRun, error) {
	runs, err := RecentFetchRuns(db, 1)
	if err != nil {
		return FetchRun{}, err
	}
	if len(runs) == 0 {
		return FetchRun{}, sql.ErrNoRows
	}
	return runs[0], nil
}

func RecentFetchRuns(db *sql.DB, limit int) ([]FetchRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(
		`SELECT id, source, status, records, uncoded, error, started_at, finished_at
		 FROM fetch_runs ORDER BY finished_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []FetchRun
	for rows.Next() {
		var run FetchRun
		if err := rows.Scan(&run.ID, &run.Source, &run.Status, &run.Records, &run.Uncoded,
			&run.Error, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
