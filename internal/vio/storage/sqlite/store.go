// Package sqlite records estimator output trajectories in a SQLite
// database so runs can be inspected and plotted after the fact.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Pose sources stored in the poses table.
const (
	SourceOdometry = "odometry"
	SourceFastPose = "fast_pose"
)

// ErrUnknownRun is returned when a run id has no row in runs.
var ErrUnknownRun = errors.New("unknown run")

// TrajectoryStore is a SQLite-backed trajectory recorder.
type TrajectoryStore struct {
	db   *sql.DB
	path string
}

// Run describes one recorded session.
type Run struct {
	ID          string
	Label       string
	CameraCount int
	StartedAt   string
	Poses       int
}

// PoseRow is one stored pose.
type PoseRow struct {
	Stamp    float64
	Seq      uint64
	Position [3]float64
	// Orientation is w, x, y, z.
	Orientation [4]float64
	Velocity    *[3]float64
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*TrajectoryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	s := &TrajectoryStore{db: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *TrajectoryStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for admin tooling.
func (s *TrajectoryStore) DB() *sql.DB { return s.db }

// MigrateUp applies all pending migrations.
func (s *TrajectoryStore) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: closing it would close s.db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the schema version, 0 when nothing is applied.
func (s *TrajectoryStore) MigrateVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *TrajectoryStore) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// StartRun inserts a new run and returns its id.
func (s *TrajectoryStore) StartRun(ctx context.Context, label string, cameraCount int) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, label, camera_count) VALUES (?, ?, ?)`,
		id, label, cameraCount)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// InsertPose stores one pose for runID.
func (s *TrajectoryStore) InsertPose(ctx context.Context, runID, source string, p PoseRow) error {
	var vx, vy, vz sql.NullFloat64
	if p.Velocity != nil {
		vx = sql.NullFloat64{Float64: p.Velocity[0], Valid: true}
		vy = sql.NullFloat64{Float64: p.Velocity[1], Valid: true}
		vz = sql.NullFloat64{Float64: p.Velocity[2], Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO poses (run_id, source, stamp, seq, px, py, pz, qw, qx, qy, qz, vx, vy, vz)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, source, p.Stamp, int64(p.Seq),
		p.Position[0], p.Position[1], p.Position[2],
		p.Orientation[0], p.Orientation[1], p.Orientation[2], p.Orientation[3],
		vx, vy, vz)
	if err != nil {
		return fmt.Errorf("insert %s pose: %w", source, err)
	}
	return nil
}

// InsertCloud stores the size of a published cloud.
func (s *TrajectoryStore) InsertCloud(ctx context.Context, runID, kind string, stamp float64, seq uint64, size int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO clouds (run_id, kind, stamp, seq, size) VALUES (?, ?, ?, ?, ?)`,
		runID, kind, stamp, int64(seq), size)
	if err != nil {
		return fmt.Errorf("insert %s cloud: %w", kind, err)
	}
	return nil
}

// Runs lists recorded runs, newest first.
func (s *TrajectoryStore) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.label, r.camera_count, r.started_at,
		       (SELECT COUNT(*) FROM poses p WHERE p.run_id = r.run_id)
		FROM runs r
		ORDER BY r.started_at DESC, r.rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Label, &r.CameraCount, &r.StartedAt, &r.Poses); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recently started run.
func (s *TrajectoryStore) LatestRun(ctx context.Context) (Run, error) {
	runs, err := s.Runs(ctx)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, ErrUnknownRun
	}
	return runs[0], nil
}

// LoadTrajectory returns the poses of runID from source in stamp order.
func (s *TrajectoryStore) LoadTrajectory(ctx context.Context, runID, source string) ([]PoseRow, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE run_id = ?`, runID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT stamp, seq, px, py, pz, qw, qx, qy, qz, vx, vy, vz
		FROM poses
		WHERE run_id = ? AND source = ?
		ORDER BY stamp, seq`, runID, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PoseRow
	for rows.Next() {
		var (
			p          PoseRow
			seq        int64
			vx, vy, vz sql.NullFloat64
		)
		if err := rows.Scan(&p.Stamp, &seq,
			&p.Position[0], &p.Position[1], &p.Position[2],
			&p.Orientation[0], &p.Orientation[1], &p.Orientation[2], &p.Orientation[3],
			&vx, &vy, &vz); err != nil {
			return nil, err
		}
		p.Seq = uint64(seq)
		if vx.Valid {
			p.Velocity = &[3]float64{vx.Float64, vy.Float64, vz.Float64}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
