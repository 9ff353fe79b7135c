package main

import (
	"sort"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// BookSorter orders books for listing. Titles are compared with
// the collation rules of the configured locale.
type BookSorter struct {
	mu       sync.Mutex
	collator *collate.Collator
}

// NewBookSorter returns a sorter for the given BCP 47 locale.
// An unparsable locale falls back to English.
func NewBookSorter(locale string) *BookSorter {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return &BookSorter{collator: collate.New(tag, collate.IgnoreCase, collate.Loose)}
}

// Sort orders books in place by title ascending or, for SortByPubDate,
// by publication date descending. Ties keep a stable id order.
func (s *BookSorter) Sort(books []BookDetails, by string) {
	// collate.Collator is not safe for concurrent use.
	s.mu.Lock()
	defer s.mu.Unlock()
	switch by {
	case SortByPubDate:
		sort.SliceStable(books, func(i, j int) bool {
			if books[i].PubDate != books[j].PubDate {
				return books[i].PubDate > books[j].PubDate
			}
			return books[i].ID < books[j].ID
		})
	default:
		sort.SliceStable(books, func(i, j int) bool {
			if c := s.collator.CompareString(books[i].Title, books[j].Title); c != 0 {
				return c < 0
			}
			return books[i].ID < books[j].ID
		})
	}
}
