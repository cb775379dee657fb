// Package db provides the warehouse component of the syncer.
//
// The warehouse is sqlite, but it is not treated as a simple storage layer. Each
// statement is held in an sql file in the `sql` directory which can be run on the
// sqlite command line as-is. (For the write statements it is advisable to run them in
// a transaction so that the results can be rolled back.)
//
// The same files are used as Go prepared statements through the parameterization
// scheme set out in parameterize.go.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/lendz/syncer/internal/logging"

	"github.com/jmoiron/sqlx" // helper library
	_ "modernc.org/sqlite"    // pure go sqlite driver
)

// SQLEmbeddedFS holds the schema and statement files.
//
//go:embed sql
var SQLEmbeddedFS embed.FS

// SchemaFile is the name of the idempotent schema file in the sql filesystem.
const SchemaFile = "schema.sql"

// timeFormat is the storage format of all timestamps. It is fixed width so that text
// comparison orders timestamps.
const timeFormat = "2006-01-02T15:04:05.000Z"

// parameterizedStmt describes an sql file parsed into an sqlx NamedStmt expecting the
// provided args.
type parameterizedStmt struct {
	sqlFile string
	args    []string
	*sqlx.NamedStmt
}

// verifyArgs determines if the arguments provided to a parameterizedStmt are the ones
// the sql file declares.
func (p *parameterizedStmt) verifyArgs(args map[string]any) error {
	if got, want := len(args), len(p.args); got != want {
		return fmt.Errorf(
			"argument length to named statement from %q incorrect: got %d want %d",
			p.sqlFile,
			got,
			want,
		)
	}
	for _, a := range p.args {
		if _, ok := args[a]; !ok {
			return fmt.Errorf("named statement from %q missing argument %q", p.sqlFile, a)
		}
	}
	return nil
}

// in binds the statement to a transaction.
func (p *parameterizedStmt) in(ctx context.Context, tx *sqlx.Tx) *sqlx.NamedStmt {
	return tx.NamedStmtContext(ctx, p.NamedStmt)
}

// DB provides a wrapper around the sqlx connection for warehouse operations.
type DB struct {
	*sqlx.DB
	sqlFS fs.FS
	log   *slog.Logger
	now   func() time.Time

	// Calls.
	callUpsertStmt             *parameterizedStmt
	callsMissingTranscriptStmt *parameterizedStmt
	callTranscriptUpdateStmt   *parameterizedStmt

	// LoanPASS.
	offeringUpsertStmt      *parameterizedStmt
	productFieldsDeleteStmt *parameterizedStmt
	productFieldInsertStmt  *parameterizedStmt
	scenariosDeleteStmt     *parameterizedStmt
	scenarioInsertStmt      *parameterizedStmt
	scenarioFieldInsertStmt *parameterizedStmt
	scenarioErrorStmt       *parameterizedStmt
	scenarioRejectionStmt   *parameterizedStmt
	scenarioReviewStmt      *parameterizedStmt
	scenarioAdjustmentStmt  *parameterizedStmt
	scenarioStipulationStmt *parameterizedStmt
}

// dataSource builds the driver data source name for dbPath. File databases get
// foreign keys and WAL; in-memory databases must use a shared cache so that every
// pooled connection sees the same data.
func dataSource(dbPath string) (string, error) {
	if dbPath == "" {
		return "", errors.New("no database path provided")
	}
	if strings.Contains(dbPath, ":memory:") || strings.Contains(dbPath, "mode=memory") {
		if !strings.Contains(dbPath, "cache=shared") {
			return "", fmt.Errorf("in-memory connection %q should contain 'cache=shared'", dbPath)
		}
		if !strings.Contains(dbPath, "foreign_keys") {
			dbPath += "&_pragma=foreign_keys(1)"
		}
		return dbPath, nil
	}
	return fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath), nil
}

// NewConnection opens the sqlite database at dbPath, creates the schema if needed and
// prepares the named statements from sqlFS.
func NewConnection(ctx context.Context, dbPath string, sqlFS fs.FS, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	dsn, err := dataSource(dbPath)
	if err != nil {
		return nil, err
	}
	dbDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite permits a single writer.
	dbDB.SetMaxOpenConns(1)

	if err := dbDB.PingContext(ctx); err != nil {
		_ = dbDB.Close()
		return nil, err
	}

	db := &DB{
		DB:    sqlx.NewDb(dbDB, "sqlite"),
		sqlFS: sqlFS,
		log:   logger,
		now:   time.Now,
	}

	if err := db.InitSchema(ctx, sqlFS, SchemaFile); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.prepareNamedStatements(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not prepare named statements: %w", err)
	}
	return db, nil
}

// prepareNamedStatements prepares all the named statements for this database connection.
func (db *DB) prepareNamedStatements() error {
	stmts := []struct {
		stmt **parameterizedStmt
		file string
	}{
		{&db.callUpsertStmt, "call_record_upsert.sql"},
		{&db.callsMissingTranscriptStmt, "calls_missing_transcript.sql"},
		{&db.callTranscriptUpdateStmt, "call_transcript_update.sql"},
		{&db.offeringUpsertStmt, "product_offering_upsert.sql"},
		{&db.productFieldsDeleteStmt, "product_fields_delete.sql"},
		{&db.productFieldInsertStmt, "product_field_insert.sql"},
		{&db.scenariosDeleteStmt, "price_scenarios_delete.sql"},
		{&db.scenarioInsertStmt, "price_scenario_insert.sql"},
		{&db.scenarioFieldInsertStmt, "scenario_field_insert.sql"},
		{&db.scenarioErrorStmt, "scenario_error_insert.sql"},
		{&db.scenarioRejectionStmt, "scenario_rejection_insert.sql"},
		{&db.scenarioReviewStmt, "scenario_review_insert.sql"},
		{&db.scenarioAdjustmentStmt, "scenario_adjustment_insert.sql"},
		{&db.scenarioStipulationStmt, "scenario_stipulation_insert.sql"},
	}
	for _, s := range stmts {
		ps, err := db.prepNamedStatement(db.sqlFS, s.file)
		if err != nil {
			return err
		}
		*s.stmt = ps
	}
	return nil
}

// prepNamedStatement parameterizes and prepares one sql file.
func (db *DB) prepNamedStatement(fileFS fs.FS, filePath string) (*parameterizedStmt, error) {
	query, err := ParameterizeFile(fileFS, filePath)
	if err != nil {
		return nil, fmt.Errorf("could not parameterize %q: %w", filePath, err)
	}

	pQuery, err := db.PrepareNamed(string(query.Body))
	if err != nil {
		return nil, fmt.Errorf("could not prepare statement %q: %w", filePath, err)
	}
	return &parameterizedStmt{
		filePath,
		query.Parameters,
		pQuery,
	}, nil
}

// InitSchema creates the necessary tables if they don't already exist. The schema file
// can be run idempotently.
func (db *DB) InitSchema(ctx context.Context, fileFS fs.FS, filePath string) error {
	schema, err := fs.ReadFile(fileFS, filePath)
	if err != nil {
		return fmt.Errorf("could not read schema file at %q: %w", filePath, err)
	}

	_, err = db.ExecContext(ctx, string(schema))
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// exec runs a verified named statement inside tx.
func (db *DB) exec(ctx context.Context, tx *sqlx.Tx, stmt *parameterizedStmt, args map[string]any) error {
	if err := stmt.verifyArgs(args); err != nil {
		return err
	}
	_, err := stmt.in(ctx, tx).ExecContext(ctx, args)
	if err != nil {
		db.logQuery(stmt, args, err)
	}
	return err
}

// insertReturningID runs a verified named statement with a RETURNING id clause
// inside tx.
func (db *DB) insertReturningID(ctx context.Context, tx *sqlx.Tx, stmt *parameterizedStmt, args map[string]any) (int64, error) {
	if err := stmt.verifyArgs(args); err != nil {
		return 0, err
	}
	var id int64
	err := stmt.in(ctx, tx).QueryRowxContext(ctx, args).Scan(&id)
	if err != nil {
		db.logQuery(stmt, args, err)
		return 0, err
	}
	return id, nil
}

// logQuery is for helping debug SQL issues.
func (db *DB) logQuery(stmt *parameterizedStmt, args map[string]any, err error) {
	db.log.Debug(
		fmt.Sprintf("sql: %s", stmt.sqlFile),
		"query", stmt.QueryString,
		"args", fmt.Sprintf("%#v", args),
		"error", err,
	)
}

// nullString stores empty strings as NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullTime stores a nil time as NULL and others as UTC text.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeFormat)
}
