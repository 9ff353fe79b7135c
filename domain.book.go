package main

import (
	"context"
	"strings"
	"time"
)

// PubDateLayout is the calendar date format of the publication date.
const PubDateLayout = "2006-01-02"

// Book represents a book entity as stored by any BookStorage.
type Book struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	ISBN      string `json:"isbn"`
	PubDate   string `json:"pubDate"`
	Genre     string `json:"genre"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// Age is the time elapsed since a book publication date.
type Age struct {
	Years  int `json:"years"`
	Months int `json:"months"`
	Days   int `json:"days"`
}

// BookDetails is the wire representation of a book. Age and
// Category are derived on each read and never persisted.
type BookDetails struct {
	Book
	Age      Age    `json:"age"`
	Category string `json:"category"`
}

// BookInput is the payload expected to create a book.
type BookInput struct {
	Title   string `json:"title" validate:"required"`
	Author  string `json:"author" validate:"required"`
	ISBN    string `json:"isbn" validate:"required"`
	PubDate string `json:"pubDate" validate:"required,datetime=2006-01-02"`
	Genre   string `json:"genre" validate:"required,genre"`
}

// BookPatch is the payload expected to partially update a book.
// A nil field is left untouched.
type BookPatch struct {
	Title   *string `json:"title"`
	Author  *string `json:"author"`
	ISBN    *string `json:"isbn"`
	PubDate *string `json:"pubDate"`
	Genre   *string `json:"genre"`
}

// IsEmpty reports whether the patch carries no field at all.
func (p BookPatch) IsEmpty() bool {
	return p.Title == nil && p.Author == nil && p.ISBN == nil && p.PubDate == nil && p.Genre == nil
}

// SearchQuery holds the filters of a catalog search. Empty fields are ignored.
type SearchQuery struct {
	Text  string
	Genre string
	Sort  string
}

// Supported sort keys.
const (
	SortByTitle   = "title"
	SortByPubDate = "pubDate"
)

// BookStorage defines possible operations on book entity.
// Implementations must reject a duplicate isbn without
// mutating the catalog.
type BookStorage interface {
	Add(ctx context.Context, id string, book Book) error
	GetOne(ctx context.Context, id string) (Book, error)
	Delete(ctx context.Context, id string) error
	Update(ctx context.Context, id string, book Book) (Book, error)
	GetAll(ctx context.Context) ([]Book, error)
}

// Genres is the closed set of accepted genres.
var Genres = []string{"fiction", "science", "history", "biography", "technology", "romance", "general"}

const DefaultCategory = "General"

var categories = map[string]string{
	"fiction":    "Entertainment",
	"science":    "Educational",
	"history":    "Informational",
	"biography":  "Inspirational",
	"technology": "Technical",
	"romance":    "Emotional",
}

// Categorize maps a genre to its display label.
func Categorize(genre string) string {
	if c, ok := categories[strings.ToLower(strings.TrimSpace(genre))]; ok {
		return c
	}
	return DefaultCategory
}

// IsKnownGenre reports whether genre belongs to the closed set.
func IsKnownGenre(genre string) bool {
	g := strings.ToLower(strings.TrimSpace(genre))
	for _, known := range Genres {
		if g == known {
			return true
		}
	}
	return false
}

// ComputeAge returns the years, months and days elapsed between pub and now.
// A month is borrowed when the day of now is before the day of pub, and the
// remaining days are counted from pub advanced by the whole months elapsed,
// with its day clamped to the end of the target month. A future pub gives
// a zero age.
func ComputeAge(pub, now time.Time) Age {
	py, pm, pd := pub.Date()
	ny, nm, nd := now.Date()
	from := time.Date(py, pm, pd, 0, 0, 0, 0, time.UTC)
	to := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	if to.Before(from) {
		return Age{}
	}

	months := (ny-py)*12 + int(nm) - int(pm)
	if nd < pd {
		months--
	}

	anchor := addMonthsClamped(from, months)
	return Age{
		Years:  months / 12,
		Months: months % 12,
		Days:   int(to.Sub(anchor).Hours() / 24),
	}
}

// addMonthsClamped moves t by n months and keeps the day
// within the length of the resulting month.
func addMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

// Details enriches the book with its derived fields at the given time.
func (b Book) Details(now time.Time) BookDetails {
	var age Age
	if pub, err := time.Parse(PubDateLayout, b.PubDate); err == nil {
		age = ComputeAge(pub, now)
	}
	return BookDetails{Book: b, Age: age, Category: Categorize(b.Genre)}
}
