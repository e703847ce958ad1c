package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/maneesh/mediastream/internal/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const mysqlDuplicateEntry = 1062

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// OpenTiDB opens the connection pool shared by the catalog and media store
func OpenTiDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// RunMigrations applies the embedded schema. It uses its own connection
// because the migrate driver closes the handle it is given.
func RunMigrations(dsn string, log *logrus.Entry) error {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("sql.Open mysql: %w", err)
	}
	return migrateUp(db, embeddedMigrations, log)
}

// migrateUp applies fsys/migrations to db and always closes db
func migrateUp(db *sql.DB, fsys fs.FS, log *logrus.Entry) error {
	driver, err := migratemysql.WithInstance(db, &migratemysql.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("mysql migrate driver: %w", err)
	}

	src, err := iofs.New(fsys, "migrations")
	if err != nil {
		driver.Close()
		return fmt.Errorf("iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "mysql", driver)
	if err != nil {
		src.Close()
		driver.Close()
		return fmt.Errorf("migrate.New: %w", err)
	}
	defer m.Close()

	log.Info("applying migrations")
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("no new migrations to apply")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	log.Info("migrations applied")
	return nil
}

func isDuplicateEntry(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

// TiDBCatalog stores FileRecords in the files table
type TiDBCatalog struct {
	db *sql.DB
}

// NewTiDBCatalog wraps an open pool
func NewTiDBCatalog(db *sql.DB) *TiDBCatalog {
	return &TiDBCatalog{db: db}
}

// Create inserts a placeholder record that readers cannot see yet
func (tc *TiDBCatalog) Create(ctx context.Context, fileID, contentType string, chunkSize int64) (*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "tidb.create_file",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
			attribute.String("content_type", contentType),
		),
	)
	defer span.End()

	rec := &models.FileRecord{
		ID:          fileID,
		ContentType: contentType,
		ChunkSize:   chunkSize,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}

	query := `INSERT INTO files (id, content_type, chunk_size, length, finalized, created_at)
			  VALUES (?, ?, ?, NULL, 0, ?)`

	_, err := tc.db.ExecContext(ctx, query, rec.ID, rec.ContentType, rec.ChunkSize, rec.CreatedAt)
	if isDuplicateEntry(err) {
		return nil, fmt.Errorf("file %s: %w", fileID, models.ErrAlreadyExists)
	} else if err != nil {
		span.RecordError(err)
		return nil, storageErr("failed to insert file", err)
	}

	return rec, nil
}

// Finalize sets the length and makes the file readable. Only a pending record can be finalized.
func (tc *TiDBCatalog) Finalize(ctx context.Context, fileID string, length int64) error {
	ctx, span := tracer.Start(ctx, "tidb.finalize_file",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
			attribute.Int64("file_size", length),
		),
	)
	defer span.End()

	query := `UPDATE files SET length = ?, finalized = 1 WHERE id = ? AND finalized = 0`

	res, err := tc.db.ExecContext(ctx, query, length, fileID)
	if err != nil {
		span.RecordError(err)
		return storageErr("failed to finalize file", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		span.RecordError(err)
		return storageErr("failed to read affected rows", err)
	}
	if n == 0 {
		return fmt.Errorf("no pending upload %s: %w", fileID, models.ErrNotFound)
	}

	return nil
}

// Get retrieves file metadata by ID
func (tc *TiDBCatalog) Get(ctx context.Context, fileID string) (*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "tidb.get_file",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	query := `SELECT id, content_type, chunk_size, length, finalized, created_at FROM files WHERE id = ?`

	var rec models.FileRecord
	var length sql.NullInt64
	err := tc.db.QueryRowContext(ctx, query, fileID).Scan(
		&rec.ID,
		&rec.ContentType,
		&rec.ChunkSize,
		&length,
		&rec.Finalized,
		&rec.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, fmt.Errorf("file %s: %w", fileID, models.ErrNotFound)
	} else if err != nil {
		span.RecordError(err)
		return nil, storageErr("failed to query file", err)
	}

	rec.Length = length.Int64
	span.SetAttributes(attribute.Bool("found", true))
	return &rec, nil
}

func (tc *TiDBCatalog) Delete(ctx context.Context, fileID string) error {
	ctx, span := tracer.Start(ctx, "tidb.delete_file",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	res, err := tc.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID)
	if err != nil {
		span.RecordError(err)
		return storageErr("failed to delete file", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		span.RecordError(err)
		return storageErr("failed to read affected rows", err)
	}
	if n == 0 {
		return fmt.Errorf("file %s: %w", fileID, models.ErrNotFound)
	}
	return nil
}

func (tc *TiDBCatalog) Ping(ctx context.Context) error {
	return tc.db.PingContext(ctx)
}
