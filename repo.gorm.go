package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// AuthorModel is the authors table. Names are unique.
type AuthorModel struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;size:191;not null"`
}

func (AuthorModel) TableName() string {
	return "authors"
}

// GenreModel is the genres table, seeded with the closed set of genres.
type GenreModel struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;size:64;not null"`
}

func (GenreModel) TableName() string {
	return "genres"
}

// BookModel is the books table. Timestamps are kept as the
// RFC3339 strings produced by the service.
type BookModel struct {
	ID         string      `gorm:"primaryKey;size:64"`
	Title      string      `gorm:"size:255;not null"`
	ISBN       string      `gorm:"uniqueIndex;size:64;not null"`
	PubDate    string      `gorm:"size:10;not null"`
	AuthorID   uint        `gorm:"index;not null"`
	Author     AuthorModel `gorm:"foreignKey:AuthorID"`
	GenreID    uint        `gorm:"index;not null"`
	Genre      GenreModel  `gorm:"foreignKey:GenreID"`
	AddedAt    string      `gorm:"column:created_at;size:40;index"`
	ModifiedAt string      `gorm:"column:updated_at;size:40"`
}

func (BookModel) TableName() string {
	return "books"
}

func (m *BookModel) toBook() Book {
	return Book{
		ID:        m.ID,
		Title:     m.Title,
		Author:    m.Author.Name,
		ISBN:      m.ISBN,
		PubDate:   m.PubDate,
		Genre:     m.Genre.Name,
		CreatedAt: m.AddedAt,
		UpdatedAt: m.ModifiedAt,
	}
}

type gormBookStorage struct {
	logger           *zap.Logger
	db               *gorm.DB
	autoCreateGenres bool
}

// GetMySQLClient opens a gorm connection to mysql, migrates the
// tables and seeds the genres.
func GetMySQLClient(config *SQLConfig) (*gorm.DB, error) {
	logLevel := logger.Silent
	if config.Debug {
		logLevel = logger.Info
	}
	db, err := gorm.Open(mysql.Open(config.DSN), &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql db: %w", err)
	}
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if err = sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("test connection failed: %w", err)
	}
	if err = db.AutoMigrate(&AuthorModel{}, &GenreModel{}, &BookModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate tables: %w", err)
	}
	genres := make([]GenreModel, 0, len(Genres))
	for _, g := range Genres {
		genres = append(genres, GenreModel{Name: g})
	}
	if err = db.Clauses(clause.OnConflict{DoNothing: true}).Create(&genres).Error; err != nil {
		return nil, fmt.Errorf("failed to seed genres: %w", err)
	}
	return db, nil
}

// NewGormBookStorage provides a mysql-based book storage.
func NewGormBookStorage(logger *zap.Logger, db *gorm.DB, autoCreateGenres bool) BookStorage {
	return &gormBookStorage{logger: logger, db: db, autoCreateGenres: autoCreateGenres}
}

func isDuplicateError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "Duplicate entry")
}

func (gs *gormBookStorage) translate(err error) error {
	if isDuplicateError(err) {
		return ConflictError("a book with the same isbn already exists")
	}
	return StorageError("mysql operation failed", err)
}

// resolve returns the author and genre ids of the book, creating
// the author and, when allowed, the genre.
func (gs *gormBookStorage) resolve(tx *gorm.DB, book Book) (uint, uint, error) {
	author := AuthorModel{}
	if err := tx.Where(AuthorModel{Name: book.Author}).FirstOrCreate(&author).Error; err != nil {
		return 0, 0, err
	}
	genre := GenreModel{}
	err := tx.Where("name = ?", book.Genre).First(&genre).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if !gs.autoCreateGenres {
			return 0, 0, ConflictError("genre " + book.Genre + " does not exist")
		}
		genre = GenreModel{Name: book.Genre}
		err = tx.Create(&genre).Error
	}
	if err != nil {
		return 0, 0, err
	}
	return author.ID, genre.ID, nil
}

// Add inserts a new book record.
func (gs *gormBookStorage) Add(ctx context.Context, id string, book Book) error {
	err := gs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		authorID, genreID, err := gs.resolve(tx, book)
		if err != nil {
			return err
		}
		model := &BookModel{
			ID:         id,
			Title:      book.Title,
			ISBN:       book.ISBN,
			PubDate:    book.PubDate,
			AuthorID:   authorID,
			GenreID:    genreID,
			AddedAt:    book.CreatedAt,
			ModifiedAt: book.UpdatedAt,
		}
		return tx.Omit(clause.Associations).Create(model).Error
	})
	if err != nil {
		return gs.translate(err)
	}
	return nil
}

// GetOne retrieves a book record with its author and genre.
func (gs *gormBookStorage) GetOne(ctx context.Context, id string) (Book, error) {
	var model BookModel
	err := gs.db.WithContext(ctx).Preload("Author").Preload("Genre").First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Book{}, NotFoundError(id)
	}
	if err != nil {
		return Book{}, StorageError("failed to get book", err)
	}
	return model.toBook(), nil
}

// Delete permanently removes a book record.
func (gs *gormBookStorage) Delete(ctx context.Context, id string) error {
	result := gs.db.WithContext(ctx).Delete(&BookModel{}, "id = ?", id)
	if result.Error != nil {
		return StorageError("failed to delete book", result.Error)
	}
	if result.RowsAffected == 0 {
		return NotFoundError(id)
	}
	return nil
}

// Update replaces an existing book record in a single transaction.
func (gs *gormBookStorage) Update(ctx context.Context, id string, book Book) (Book, error) {
	err := gs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing BookModel
		err := tx.Select("id").First(&existing, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NotFoundError(id)
		}
		if err != nil {
			return err
		}
		authorID, genreID, err := gs.resolve(tx, book)
		if err != nil {
			return err
		}
		return tx.Model(&BookModel{}).Where("id = ?", id).Updates(map[string]interface{}{
			"title":      book.Title,
			"isbn":       book.ISBN,
			"pub_date":   book.PubDate,
			"author_id":  authorID,
			"genre_id":   genreID,
			"updated_at": book.UpdatedAt,
		}).Error
	})
	if err != nil {
		return Book{}, gs.translate(err)
	}
	book.ID = id
	return book, nil
}

// GetAll retrieves all books ordered by creation time.
func (gs *gormBookStorage) GetAll(ctx context.Context) ([]Book, error) {
	var models []BookModel
	err := gs.db.WithContext(ctx).Preload("Author").Preload("Genre").Order("created_at").Find(&models).Error
	if err != nil {
		return nil, StorageError("failed to list books", err)
	}
	books := make([]Book, 0, len(models))
	for i := range models {
		books = append(books, models[i].toBook())
	}
	return books, nil
}
