package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const (
	dialectPostgres   = "postgres"
	pgUniqueViolation = "23505"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS authors (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS genres (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		isbn TEXT NOT NULL UNIQUE,
		pub_date DATE NOT NULL,
		author_id BIGINT NOT NULL REFERENCES authors(id),
		genre_id BIGINT NOT NULL REFERENCES genres(id),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
}

// bookRow is the flattened result of the books, authors and genres join.
type bookRow struct {
	ID        string `db:"id"`
	Title     string `db:"title"`
	Author    string `db:"author"`
	ISBN      string `db:"isbn"`
	PubDate   string `db:"pub_date"`
	Genre     string `db:"genre"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (r bookRow) toBook() Book {
	return Book{
		ID:        r.ID,
		Title:     r.Title,
		Author:    r.Author,
		ISBN:      r.ISBN,
		PubDate:   r.PubDate,
		Genre:     r.Genre,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// postgresBookStorage stores books in normalised tables. Authors and
// genres are referenced by id and resolved inside each write transaction.
type postgresBookStorage struct {
	logger           *zap.Logger
	db               *sqlx.DB
	dialect          goqu.DialectWrapper
	autoCreateGenres bool
}

// GetPostgresClient opens and checks a connection pool to postgres.
func GetPostgresClient(config *SQLConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("test connection failed: %w", err)
	}
	return db, nil
}

// NewPostgresBookStorage creates the schema if needed, seeds the
// known genres and provides a postgres-based book storage.
func NewPostgresBookStorage(ctx context.Context, logger *zap.Logger, db *sqlx.DB, autoCreateGenres bool) (BookStorage, error) {
	ps := &postgresBookStorage{
		logger:           logger,
		db:               db,
		dialect:          goqu.Dialect(dialectPostgres),
		autoCreateGenres: autoCreateGenres,
	}
	if err := ps.migrate(ctx); err != nil {
		return nil, err
	}
	return ps, nil
}

func (ps *postgresBookStorage) migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := ps.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	rows := make([]interface{}, 0, len(Genres))
	for _, g := range Genres {
		rows = append(rows, goqu.Record{"name": g})
	}
	query, args, err := ps.dialect.Insert("genres").Prepared(true).
		Rows(rows...).
		OnConflict(goqu.DoNothing()).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build genres seed query: %w", err)
	}
	if _, err = ps.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to seed genres: %w", err)
	}
	return nil
}

func (ps *postgresBookStorage) selectBooks() *goqu.SelectDataset {
	return ps.dialect.From(goqu.T("books").As("b")).Prepared(true).
		Join(goqu.T("authors").As("a"), goqu.On(goqu.I("a.id").Eq(goqu.I("b.author_id")))).
		Join(goqu.T("genres").As("g"), goqu.On(goqu.I("g.id").Eq(goqu.I("b.genre_id")))).
		Select(
			goqu.I("b.id"),
			goqu.I("b.title"),
			goqu.I("a.name").As("author"),
			goqu.I("b.isbn"),
			goqu.L("to_char(b.pub_date, 'YYYY-MM-DD')").As("pub_date"),
			goqu.I("g.name").As("genre"),
			goqu.I("b.created_at"),
			goqu.I("b.updated_at"),
		)
}

// inTx runs fn in a transaction which is rolled back on any error.
func (ps *postgresBookStorage) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := ps.db.BeginTxx(ctx, nil)
	if err != nil {
		return StorageError("failed to begin transaction", err)
	}
	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			ps.logger.Error("postgres: failed to rollback transaction", zap.Error(rbErr))
		}
		return ps.translate(err)
	}
	if err = tx.Commit(); err != nil {
		return ps.translate(err)
	}
	return nil
}

func (ps *postgresBookStorage) translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ConflictError("a book with the same isbn already exists")
	}
	return StorageError("postgres operation failed", err)
}

// authorID returns the id of the author row, creating it on first use.
func (ps *postgresBookStorage) authorID(ctx context.Context, tx *sqlx.Tx, name string) (int64, error) {
	query, args, err := ps.dialect.Insert("authors").Prepared(true).
		Rows(goqu.Record{"name": name}).
		OnConflict(goqu.DoUpdate("name", goqu.Record{"name": goqu.L("EXCLUDED.name")})).
		Returning("id").
		ToSQL()
	if err != nil {
		return 0, err
	}
	var id int64
	err = tx.GetContext(ctx, &id, query, args...)
	return id, err
}

// genreID resolves the genre row. Unknown genres are a conflict
// unless the storage is allowed to create them.
func (ps *postgresBookStorage) genreID(ctx context.Context, tx *sqlx.Tx, name string) (int64, error) {
	query, args, err := ps.dialect.From("genres").Prepared(true).
		Select("id").
		Where(goqu.Ex{"name": name}).
		ToSQL()
	if err != nil {
		return 0, err
	}
	var id int64
	err = tx.GetContext(ctx, &id, query, args...)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if !ps.autoCreateGenres {
		return 0, ConflictError("genre " + name + " does not exist")
	}
	query, args, err = ps.dialect.Insert("genres").Prepared(true).
		Rows(goqu.Record{"name": name}).
		Returning("id").
		ToSQL()
	if err != nil {
		return 0, err
	}
	err = tx.GetContext(ctx, &id, query, args...)
	return id, err
}

func (ps *postgresBookStorage) bookRecord(ctx context.Context, tx *sqlx.Tx, book Book) (goqu.Record, error) {
	authorID, err := ps.authorID(ctx, tx, book.Author)
	if err != nil {
		return nil, err
	}
	genreID, err := ps.genreID(ctx, tx, book.Genre)
	if err != nil {
		return nil, err
	}
	return goqu.Record{
		"title":      book.Title,
		"isbn":       book.ISBN,
		"pub_date":   goqu.L("?::date", book.PubDate),
		"author_id":  authorID,
		"genre_id":   genreID,
		"created_at": book.CreatedAt,
		"updated_at": book.UpdatedAt,
	}, nil
}

// Add inserts a new book record.
func (ps *postgresBookStorage) Add(ctx context.Context, id string, book Book) error {
	return ps.inTx(ctx, func(tx *sqlx.Tx) error {
		record, err := ps.bookRecord(ctx, tx, book)
		if err != nil {
			return err
		}
		record["id"] = id
		query, args, err := ps.dialect.Insert("books").Prepared(true).Rows(record).ToSQL()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, query, args...)
		return err
	})
}

// GetOne retrieves a book record based on its ID.
func (ps *postgresBookStorage) GetOne(ctx context.Context, id string) (Book, error) {
	query, args, err := ps.selectBooks().Where(goqu.I("b.id").Eq(id)).ToSQL()
	if err != nil {
		return Book{}, StorageError("failed to build select query", err)
	}
	var row bookRow
	err = ps.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return Book{}, NotFoundError(id)
	}
	if err != nil {
		return Book{}, StorageError("failed to get book", err)
	}
	return row.toBook(), nil
}

// Delete removes a book record. Its author and genre rows are kept.
func (ps *postgresBookStorage) Delete(ctx context.Context, id string) error {
	query, args, err := ps.dialect.Delete("books").Prepared(true).Where(goqu.Ex{"id": id}).ToSQL()
	if err != nil {
		return StorageError("failed to build delete query", err)
	}
	result, err := ps.db.ExecContext(ctx, query, args...)
	if err != nil {
		return StorageError("failed to delete book", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return StorageError("failed to get rows affected count", err)
	} else if n == 0 {
		return NotFoundError(id)
	}
	return nil
}

// Update replaces an existing book record in a single transaction.
func (ps *postgresBookStorage) Update(ctx context.Context, id string, book Book) (Book, error) {
	err := ps.inTx(ctx, func(tx *sqlx.Tx) error {
		record, err := ps.bookRecord(ctx, tx, book)
		if err != nil {
			return err
		}
		delete(record, "created_at")
		query, args, err := ps.dialect.Update("books").Prepared(true).
			Set(record).
			Where(goqu.Ex{"id": id}).
			ToSQL()
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return NotFoundError(id)
		}
		return nil
	})
	if err != nil {
		return Book{}, err
	}
	book.ID = id
	return book, nil
}

// GetAll retrieves all books ordered by creation time.
func (ps *postgresBookStorage) GetAll(ctx context.Context) ([]Book, error) {
	query, args, err := ps.selectBooks().Order(goqu.I("b.created_at").Asc()).ToSQL()
	if err != nil {
		return nil, StorageError("failed to build select query", err)
	}
	var rows []bookRow
	if err = ps.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, StorageError("failed to list books", err)
	}
	books := make([]Book, 0, len(rows))
	for _, r := range rows {
		books = append(books, r.toBook())
	}
	return books, nil
}
