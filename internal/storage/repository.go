package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"bookinglens/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository stores datasets in a local sqlite file so the web process
// and the export worker see the same sessions. Records are stored as the raw
// text they were uploaded with and parsed again on load.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

// WithClock replaces the clock used for expiry checks.
func (r *SQLiteRepository) WithClock(now func() time.Time) *SQLiteRepository {
	r.now = now
	return r
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Save implements sheets.DatasetWriter. An existing dataset with the same id
// is replaced.
func (r *SQLiteRepository) Save(ctx context.Context, ds core.Dataset) error {
	if ds.ID == "" {
		return errors.New("dataset id is required")
	}
	info := ds.Info()
	years, err := json.Marshal(info.Years)
	if err != nil {
		return fmt.Errorf("encode years: %w", err)
	}
	regions, err := json.Marshal(info.Regions)
	if err != nil {
		return fmt.Errorf("encode regions: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := deleteDataset(ctx, tx, ds.ID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO datasets
		(id, name, source, uploaded_at, expires_at, skipped_rows, record_count, years, regions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ds.ID, ds.Name, ds.Source, unix(ds.UploadedAt), unix(ds.ExpiresAt),
		ds.SkippedRows, len(ds.Records), string(years), string(regions))
	if err != nil {
		return fmt.Errorf("insert dataset: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO booking_records
		(dataset_id, position, booking_date, arrival_date, departure_date,
		 service_name, service_city, region, total_price, commission, cancelled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare record insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range ds.Records {
		_, err := stmt.ExecContext(ctx, ds.ID, i,
			rec.BookingDate.Raw, rec.ArrivalDate.Raw, rec.DepartureDate.Raw,
			rec.ServiceName, rec.ServiceCity, rec.Region,
			string(rec.TotalPrice), string(rec.Commission), rec.Cancelled)
		if err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit dataset: %w", err)
	}

	slog.InfoContext(ctx, "Dataset saved to SQLite",
		"id", ds.ID,
		"name", ds.Name,
		"records", len(ds.Records))
	return nil
}

// Get implements sheets.DatasetReader.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (core.Dataset, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, source, uploaded_at, expires_at, skipped_rows
		FROM datasets WHERE id = ?`, id)

	var (
		ds                  core.Dataset
		uploaded, expiresAt int64
	)
	if err := row.Scan(&ds.ID, &ds.Name, &ds.Source, &uploaded, &expiresAt, &ds.SkippedRows); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Dataset{}, core.ErrDatasetNotFound
		}
		return core.Dataset{}, fmt.Errorf("get dataset %s: %w", id, err)
	}
	ds.UploadedAt = fromUnix(uploaded)
	ds.ExpiresAt = fromUnix(expiresAt)
	if ds.Expired(r.now()) {
		return core.Dataset{}, core.ErrDatasetNotFound
	}

	rows, err := r.db.QueryContext(ctx, `SELECT booking_date, arrival_date, departure_date,
		service_name, service_city, region, total_price, commission, cancelled
		FROM booking_records WHERE dataset_id = ? ORDER BY position`, id)
	if err != nil {
		return core.Dataset{}, fmt.Errorf("list records for %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			booking, arrival, departure string
			price, commission           string
			rec                         core.BookingRecord
		)
		if err := rows.Scan(&booking, &arrival, &departure,
			&rec.ServiceName, &rec.ServiceCity, &rec.Region,
			&price, &commission, &rec.Cancelled); err != nil {
			return core.Dataset{}, fmt.Errorf("scan record: %w", err)
		}
		rec.BookingDate = core.ParseTimestamp(booking)
		rec.ArrivalDate = core.ParseTimestamp(arrival)
		rec.DepartureDate = core.ParseTimestamp(departure)
		rec.TotalPrice = core.Amount(price)
		rec.Commission = core.Amount(commission)
		ds.Records = append(ds.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return core.Dataset{}, fmt.Errorf("iterate records: %w", err)
	}
	return ds, nil
}

// List implements sheets.DatasetLister.
func (r *SQLiteRepository) List(ctx context.Context) ([]core.DatasetInfo, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, source, uploaded_at, expires_at,
		skipped_rows, record_count, years, regions
		FROM datasets
		WHERE expires_at = 0 OR expires_at >= ?
		ORDER BY uploaded_at DESC, id`, r.now().Unix())
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	var out []core.DatasetInfo
	for rows.Next() {
		var (
			info                core.DatasetInfo
			uploaded, expiresAt int64
			years, regions      string
		)
		if err := rows.Scan(&info.ID, &info.Name, &info.Source, &uploaded, &expiresAt,
			&info.SkippedRows, &info.Records, &years, &regions); err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		info.UploadedAt = fromUnix(uploaded)
		info.ExpiresAt = fromUnix(expiresAt)
		if err := json.Unmarshal([]byte(years), &info.Years); err != nil {
			return nil, fmt.Errorf("decode years of %s: %w", info.ID, err)
		}
		if err := json.Unmarshal([]byte(regions), &info.Regions); err != nil {
			return nil, fmt.Errorf("decode regions of %s: %w", info.ID, err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete implements sheets.DatasetDeleter.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM datasets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete dataset %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrDatasetNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM booking_records WHERE dataset_id = ?`, id); err != nil {
		return fmt.Errorf("delete records of %s: %w", id, err)
	}
	return tx.Commit()
}

// PurgeExpired implements sheets.DatasetDeleter.
func (r *SQLiteRepository) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	cutoff := now.Unix()
	if _, err := tx.ExecContext(ctx, `DELETE FROM booking_records WHERE dataset_id IN
		(SELECT id FROM datasets WHERE expires_at > 0 AND expires_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("purge records: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM datasets WHERE expires_at > 0 AND expires_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge datasets: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit purge: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Purged expired datasets", "count", n)
	}
	return int(n), nil
}

// PurgeAll removes every dataset. The web process calls it on startup so no
// session outlives a restart.
func (r *SQLiteRepository) PurgeAll(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM booking_records`); err != nil {
		return fmt.Errorf("purge records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM datasets`); err != nil {
		return fmt.Errorf("purge datasets: %w", err)
	}
	return tx.Commit()
}

func deleteDataset(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM booking_records WHERE dataset_id = ?`, id); err != nil {
		return fmt.Errorf("clear records of %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM datasets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("clear dataset %s: %w", id, err)
	}
	return nil
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}
