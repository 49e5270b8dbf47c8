// Package db records skin cell samples, events, neighbor lists and console
// commands in a SQLite database.
package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/estutasa/JackTheGripper/internal/monitoring"
	"github.com/estutasa/JackTheGripper/internal/neighbors"
	"github.com/estutasa/JackTheGripper/internal/packet"
	"github.com/estutasa/JackTheGripper/internal/sensor"
)

type DB struct {
	*sql.DB
	path string
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
	"PRAGMA synchronous=NORMAL",
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema. ":memory:" is accepted for tests.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		sqlDB.SetMaxOpenConns(1)
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func nanos(t time.Time) int64 { return t.UnixNano() }

// TimedSample is a sample with its receive time.
type TimedSample struct {
	sensor.Sample
	At time.Time `json:"at"`
}

// RecordSamples stores a batch of samples in one transaction.
func (db *DB) RecordSamples(batch []TimedSample) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO samples (sc_id, prox, force1, force2, force3, acc_x, acc_y, acc_z, temp, recorded_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range batch {
		if _, err := stmt.Exec(
			int(s.NodeID), s.Prox,
			s.Force[0], s.Force[1], s.Force[2],
			s.Acc[0], s.Acc[1], s.Acc[2],
			s.Temp, nanos(s.At),
		); err != nil {
			return fmt.Errorf("insert sample of node %d: %w", s.NodeID, err)
		}
	}
	return tx.Commit()
}

// RecordSample stores one sample.
func (db *DB) RecordSample(s sensor.Sample, at time.Time) error {
	return db.RecordSamples([]TimedSample{{Sample: s, At: at}})
}

// RecordEvents stores the events of one event frame.
func (db *DB) RecordEvents(events []sensor.Event, at time.Time) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, e := range events {
		if _, err := tx.Exec(
			`INSERT INTO events (sc_id, event_id, value, recorded_at_ns) VALUES (?, ?, ?, ?)`,
			int(e.NodeID), int(e.ID), e.Value, nanos(at),
		); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return tx.Commit()
}

// RecordNeighbors stores one complete neighbor list and returns its id.
func (db *DB) RecordNeighbors(list []neighbors.Record, at time.Time) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO neighbor_lists (node_count, recorded_at_ns) VALUES (?, ?)`, len(list), nanos(at))
	if err != nil {
		return 0, fmt.Errorf("insert neighbor list: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, r := range list {
		n := r.Neighbors
		if _, err := tx.Exec(`
			INSERT INTO neighbors (list_id, sc_id, neighbor_1, neighbor_2, neighbor_3, neighbor_4)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, int(r.NodeID), int(n[0]), int(n[1]), int(n[2]), int(n[3]),
		); err != nil {
			return 0, fmt.Errorf("insert neighbors of node %d: %w", r.NodeID, err)
		}
	}
	return id, tx.Commit()
}

// RecordCommand logs one executed console or API command. cmdErr may be nil.
func (db *DB) RecordCommand(line, source string, cmdErr error, at time.Time) error {
	var errText sql.NullString
	if cmdErr != nil {
		errText = sql.NullString{String: cmdErr.Error(), Valid: true}
	}
	_, err := db.Exec(
		`INSERT INTO commands (line, source, error, recorded_at_ns) VALUES (?, ?, ?, ?)`,
		line, source, errText, nanos(at),
	)
	return err
}

// Samples returns up to limit samples of node id, newest first.
func (db *DB) Samples(id packet.NodeID, limit int) ([]TimedSample, error) {
	rows, err := db.Query(`
		SELECT sc_id, prox, force1, force2, force3, acc_x, acc_y, acc_z, temp, recorded_at_ns
		FROM samples WHERE sc_id = ?
		ORDER BY recorded_at_ns DESC, sample_id DESC LIMIT ?`, int(id), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TimedSample
	for rows.Next() {
		var s TimedSample
		var scID int
		var at int64
		if err := rows.Scan(&scID, &s.Prox,
			&s.Force[0], &s.Force[1], &s.Force[2],
			&s.Acc[0], &s.Acc[1], &s.Acc[2],
			&s.Temp, &at); err != nil {
			return nil, err
		}
		s.NodeID = packet.NodeID(scID)
		s.At = time.Unix(0, at)
		out = append(out, s)
	}
	return out, rows.Err()
}

// StoredEvent is an event with its receive time.
type StoredEvent struct {
	sensor.Event
	At time.Time `json:"at"`
}

// Events returns up to limit events, newest first.
func (db *DB) Events(limit int) ([]StoredEvent, error) {
	rows, err := db.Query(`
		SELECT sc_id, event_id, value, recorded_at_ns FROM events
		ORDER BY recorded_at_ns DESC, event_row_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var e StoredEvent
		var scID, eventID int
		var at int64
		if err := rows.Scan(&scID, &eventID, &e.Value, &at); err != nil {
			return nil, err
		}
		e.NodeID = packet.NodeID(scID)
		e.ID = sensor.EventID(eventID)
		e.At = time.Unix(0, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestNeighbors returns the most recent neighbor list, sorted by node id.
// ok is false when no list has been recorded.
func (db *DB) LatestNeighbors() (list []neighbors.Record, at time.Time, ok bool, err error) {
	var id, atNs int64
	err = db.QueryRow(`SELECT list_id, recorded_at_ns FROM neighbor_lists ORDER BY list_id DESC LIMIT 1`).Scan(&id, &atNs)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}

	rows, err := db.Query(`
		SELECT sc_id, neighbor_1, neighbor_2, neighbor_3, neighbor_4
		FROM neighbors WHERE list_id = ? ORDER BY sc_id`, id)
	if err != nil {
		return nil, time.Time{}, false, err
	}
	defer rows.Close()

	list = []neighbors.Record{}
	for rows.Next() {
		var scID int
		var n [neighbors.MaxNeighbors]int
		if err := rows.Scan(&scID, &n[0], &n[1], &n[2], &n[3]); err != nil {
			return nil, time.Time{}, false, err
		}
		r := neighbors.Record{NodeID: packet.NodeID(scID)}
		for i, v := range n {
			r.Neighbors[i] = packet.NodeID(v)
		}
		list = append(list, r)
	}
	return list, time.Unix(0, atNs), true, rows.Err()
}

// TableCounts is the number of rows per recorded table.
type TableCounts struct {
	Samples       int64 `json:"samples"`
	Events        int64 `json:"events"`
	NeighborLists int64 `json:"neighbor_lists"`
	Commands      int64 `json:"commands"`
}

// Counts returns the row count of every recorded table.
func (db *DB) Counts() (TableCounts, error) {
	var c TableCounts
	err := db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM samples),
			(SELECT COUNT(*) FROM events),
			(SELECT COUNT(*) FROM neighbor_lists),
			(SELECT COUNT(*) FROM commands)`).Scan(&c.Samples, &c.Events, &c.NeighborLists, &c.Commands)
	return c, err
}

// AttachAdminRoutes mounts the SQL console and a backup download on the
// debug handler of mux.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "e-skin DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.serveBackup))
	return nil
}

func (db *DB) serveBackup(w http.ResponseWriter, r *http.Request) {
	backupPath := fmt.Sprintf("%s/eskin-backup-%d.db", os.TempDir(), time.Now().UnixNano())
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			monitoring.Logf("Failed to remove backup file: %v", err)
		}
	}()

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=eskin-backup-%d.db", time.Now().Unix()))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Encoding", "gzip")

	gzipWriter := gzip.NewWriter(w)
	defer gzipWriter.Close()
	if _, err := io.Copy(gzipWriter, backupFile); err != nil {
		monitoring.Logf("Failed to write backup: %v", err)
	}
}
