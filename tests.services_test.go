package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type serviceFixture struct {
	svc     BookServiceProvider
	storage BookStorage
	queue   *MockQueuer
	fetcher *MockFetcher
	clock   *MockClocker
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	clock := &MockClocker{time.Date(2025, 10, 3, 12, 0, 0, 0, time.UTC)}
	storage := NewMemoryBookStorage(zap.NewNop())
	queue := NewMockQueuer(64)
	fetcher := &MockFetcher{}
	config := &Config{Catalog: CatalogConfig{SortLocale: "en", ImportCount: 3}}
	svc := NewBookService(zap.NewNop(), config, clock, &SeqUIDHandler{}, storage, queue, fetcher, NewMetrics())
	return &serviceFixture{svc: svc, storage: storage, queue: queue, fetcher: fetcher, clock: clock}
}

func (f *serviceFixture) seed(t *testing.T) []BookDetails {
	t.Helper()
	inputs := []BookInput{
		{Title: "The Great Gatsby", Author: "F. Scott Fitzgerald", ISBN: "111", PubDate: "1925-04-10", Genre: "fiction"},
		{Title: "A Brief History of Time", Author: "Stephen Hawking", ISBN: "222", PubDate: "1988-04-01", Genre: "science"},
		{Title: "Cosmos", Author: "Carl Sagan", ISBN: "333", PubDate: "1980-10-01", Genre: "science"},
	}
	added := make([]BookDetails, 0, len(inputs))
	for _, in := range inputs {
		b, err := f.svc.Add(context.Background(), in)
		require.NoError(t, err)
		added = append(added, b)
	}
	return added
}

func titles(books []BookDetails) []string {
	out := make([]string, 0, len(books))
	for _, b := range books {
		out = append(out, b.Title)
	}
	return out
}

func TestBookServiceAdd(t *testing.T) {
	ctx := context.Background()

	t.Run("add then list contains exactly the new book", func(t *testing.T) {
		f := newServiceFixture(t)
		in := validInput()
		book, err := f.svc.Add(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, "b:1", book.ID)
		assert.Equal(t, in, book.Input())
		assert.Equal(t, "2025-10-03T12:00:00Z", book.CreatedAt)
		assert.Equal(t, book.CreatedAt, book.UpdatedAt)
		assert.Equal(t, "Entertainment", book.Category)

		all, err := f.svc.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, book, all[0])
	})

	t.Run("input is normalized", func(t *testing.T) {
		f := newServiceFixture(t)
		in := validInput()
		in.Title = "  Spaced  "
		in.Genre = "FICTION"
		book, err := f.svc.Add(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, "Spaced", book.Title)
		assert.Equal(t, "fiction", book.Genre)
	})

	t.Run("duplicate isbn is a conflict and keeps the count", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.svc.Add(ctx, validInput())
		require.NoError(t, err)

		dup := validInput()
		dup.Title = "Another title"
		_, err = f.svc.Add(ctx, dup)
		assert.ErrorIs(t, err, ErrConflict)

		all, err := f.svc.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("invalid input never reaches the storage", func(t *testing.T) {
		called := false
		storage := &MockBookStorage{AddFunc: func(ctx context.Context, id string, book Book) error {
			called = true
			return nil
		}}
		svc := NewBookService(zap.NewNop(), nil, NewMockClocker(), &SeqUIDHandler{}, storage, nil, nil, nil)
		in := validInput()
		in.Genre = "poetry"
		_, err := svc.Add(ctx, in)
		assert.ErrorIs(t, err, ErrValidation)
		assert.False(t, called)
	})

	t.Run("storage failure is reported", func(t *testing.T) {
		storage := &MockBookStorage{AddFunc: func(ctx context.Context, id string, book Book) error {
			return StorageError("failed to save book", errors.New("disk full"))
		}}
		queue := NewMockQueuer(1)
		svc := NewBookService(zap.NewNop(), nil, NewMockClocker(), &SeqUIDHandler{}, storage, queue, nil, nil)
		_, err := svc.Add(ctx, validInput())
		assert.ErrorIs(t, err, ErrStorage)
		assert.Empty(t, queue.Items())
	})

	t.Run("committed creation is queued", func(t *testing.T) {
		f := newServiceFixture(t)
		book, err := f.svc.Add(ctx, validInput())
		require.NoError(t, err)
		items := f.queue.Items()
		require.Len(t, items, 1)
		assert.Equal(t, CreateQueue, items[0].QID)
		assert.Equal(t, book.Book, items[0].Book)
	})

	t.Run("queue failure does not fail the creation", func(t *testing.T) {
		f := newServiceFixture(t)
		f.queue.Err = errors.New("redis down")
		_, err := f.svc.Add(ctx, validInput())
		assert.NoError(t, err)
	})
}

func TestBookServiceGetOne(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	added := f.seed(t)

	book, err := f.svc.GetOne(ctx, added[1].ID)
	require.NoError(t, err)
	assert.Equal(t, added[1], book)

	_, err = f.svc.GetOne(ctx, "b:unknown")
	assert.ErrorIs(t, err, ErrBookNotFound)
}

func TestBookServiceUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("partial update keeps other fields", func(t *testing.T) {
		f := newServiceFixture(t)
		added := f.seed(t)
		f.clock.MockNow = f.clock.MockNow.Add(time.Hour)

		updated, err := f.svc.Update(ctx, added[0].ID, BookPatch{Title: strPtr("X")})
		require.NoError(t, err)
		assert.Equal(t, "X", updated.Title)
		assert.Equal(t, added[0].Author, updated.Author)
		assert.Equal(t, added[0].ISBN, updated.ISBN)
		assert.Equal(t, added[0].PubDate, updated.PubDate)
		assert.Equal(t, added[0].Genre, updated.Genre)
		assert.Equal(t, added[0].CreatedAt, updated.CreatedAt)
		assert.Equal(t, "2025-10-03T13:00:00Z", updated.UpdatedAt)

		stored, err := f.svc.GetOne(ctx, added[0].ID)
		require.NoError(t, err)
		assert.Equal(t, updated, stored)
	})

	t.Run("genre change updates the category", func(t *testing.T) {
		f := newServiceFixture(t)
		added := f.seed(t)
		updated, err := f.svc.Update(ctx, added[0].ID, BookPatch{Genre: strPtr("History")})
		require.NoError(t, err)
		assert.Equal(t, "history", updated.Genre)
		assert.Equal(t, "Informational", updated.Category)
	})

	t.Run("unknown id is not found and changes nothing", func(t *testing.T) {
		f := newServiceFixture(t)
		f.seed(t)
		before, _ := f.svc.List(ctx)
		_, err := f.svc.Update(ctx, "b:unknown", BookPatch{Title: strPtr("X")})
		assert.ErrorIs(t, err, ErrBookNotFound)
		after, _ := f.svc.List(ctx)
		assert.Equal(t, before, after)
	})

	t.Run("empty patch is rejected", func(t *testing.T) {
		f := newServiceFixture(t)
		added := f.seed(t)
		_, err := f.svc.Update(ctx, added[0].ID, BookPatch{})
		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, "no fields to update", ErrorMessage(err))
	})

	t.Run("invalid touched field rejects the whole patch", func(t *testing.T) {
		f := newServiceFixture(t)
		added := f.seed(t)
		_, err := f.svc.Update(ctx, added[0].ID, BookPatch{Title: strPtr("New"), PubDate: strPtr("yesterday")})
		assert.ErrorIs(t, err, ErrValidation)
		book, err := f.svc.GetOne(ctx, added[0].ID)
		require.NoError(t, err)
		assert.Equal(t, added[0].Title, book.Title)
	})

	t.Run("isbn taken by another book is a conflict", func(t *testing.T) {
		f := newServiceFixture(t)
		added := f.seed(t)
		_, err := f.svc.Update(ctx, added[0].ID, BookPatch{Title: strPtr("New"), ISBN: strPtr(added[1].ISBN)})
		assert.ErrorIs(t, err, ErrConflict)
		book, err := f.svc.GetOne(ctx, added[0].ID)
		require.NoError(t, err)
		assert.Equal(t, added[0], book)
	})

	t.Run("keeping its own isbn is allowed", func(t *testing.T) {
		f := newServiceFixture(t)
		added := f.seed(t)
		_, err := f.svc.Update(ctx, added[0].ID, BookPatch{ISBN: strPtr(added[0].ISBN)})
		assert.NoError(t, err)
	})
}

func TestBookServiceRemove(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	added := f.seed(t)

	require.NoError(t, f.svc.Remove(ctx, added[0].ID))
	_, err := f.svc.GetOne(ctx, added[0].ID)
	assert.ErrorIs(t, err, ErrBookNotFound)

	// a second delete of the same id fails.
	assert.ErrorIs(t, f.svc.Remove(ctx, added[0].ID), ErrBookNotFound)
	assert.ErrorIs(t, f.svc.Remove(ctx, "b:unknown"), ErrBookNotFound)

	all, err := f.svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	items := f.queue.Items()
	last := items[len(items)-1]
	assert.Equal(t, DeleteQueue, last.QID)
	assert.Equal(t, added[0].ID, last.Book.ID)
}

func TestBookServiceListAndSearch(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.seed(t)

	all, err := f.svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A Brief History of Time", "Cosmos", "The Great Gatsby"}, titles(all))

	testCases := []struct {
		name     string
		query    SearchQuery
		expected []string
	}{
		{"text on title", SearchQuery{Text: "gatsby"}, []string{"The Great Gatsby"}},
		{"text on author", SearchQuery{Text: "SAGAN"}, []string{"Cosmos"}},
		{"genre", SearchQuery{Genre: "science"}, []string{"A Brief History of Time", "Cosmos"}},
		{"genre any case", SearchQuery{Genre: "Science"}, []string{"A Brief History of Time", "Cosmos"}},
		{"text and genre", SearchQuery{Text: "time", Genre: "science"}, []string{"A Brief History of Time"}},
		{"text and genre mismatch", SearchQuery{Text: "gatsby", Genre: "science"}, []string{}},
		{"no match", SearchQuery{Text: "dune"}, []string{}},
		{"no filter", SearchQuery{}, []string{"A Brief History of Time", "Cosmos", "The Great Gatsby"}},
		{"by pubDate", SearchQuery{Sort: SortByPubDate}, []string{"A Brief History of Time", "Cosmos", "The Great Gatsby"}},
		{"science by pubDate", SearchQuery{Genre: "science", Sort: SortByPubDate}, []string{"A Brief History of Time", "Cosmos"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			books, err := f.svc.Search(ctx, tc.query)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, titles(books))
		})
	}
}

func TestBookServiceListStorageFailure(t *testing.T) {
	storage := &MockBookStorage{GetAllFunc: func(ctx context.Context) ([]Book, error) {
		return nil, StorageError("failed to read books", errors.New("timeout"))
	}}
	svc := NewBookService(zap.NewNop(), nil, NewMockClocker(), &SeqUIDHandler{}, storage, nil, nil, nil)
	_, err := svc.List(context.Background())
	assert.ErrorIs(t, err, ErrStorage)
	_, err = svc.Search(context.Background(), SearchQuery{Text: "x"})
	assert.ErrorIs(t, err, ErrStorage)
}

func TestBookServiceImportExternal(t *testing.T) {
	ctx := context.Background()
	posts := []ExternalPost{
		{UserID: 1, ID: 11, Title: "qui est esse"},
		{UserID: 1, ID: 12, Title: "ea molestias quasi"},
		{UserID: 2, ID: 13, Title: "eum et est occaecati"},
	}

	t.Run("adds mapped records", func(t *testing.T) {
		f := newServiceFixture(t)
		f.fetcher.Posts = posts
		added, err := f.svc.ImportExternal(ctx, 0)
		require.NoError(t, err)
		require.Len(t, added, 3)
		assert.Equal(t, "Qui Est Esse", added[0].Title)
		assert.Equal(t, "User 1", added[0].Author)
		assert.Equal(t, "1000-11", added[0].ISBN)
		assert.Equal(t, ImportedPubDate, added[0].PubDate)
		assert.Equal(t, "general", added[0].Genre)
		assert.Equal(t, DefaultCategory, added[0].Category)
	})

	t.Run("never duplicates titles", func(t *testing.T) {
		f := newServiceFixture(t)
		f.fetcher.Posts = posts
		_, err := f.svc.ImportExternal(ctx, 3)
		require.NoError(t, err)

		added, err := f.svc.ImportExternal(ctx, 3)
		require.NoError(t, err)
		assert.Empty(t, added)

		all, err := f.svc.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("skips taken isbn", func(t *testing.T) {
		f := newServiceFixture(t)
		in := validInput()
		in.ISBN = "1000-12"
		_, err := f.svc.Add(ctx, in)
		require.NoError(t, err)

		f.fetcher.Posts = posts
		added, err := f.svc.ImportExternal(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"Qui Est Esse", "Eum Et Est Occaecati"}, titles(added))
	})

	t.Run("fetch failure is a storage error", func(t *testing.T) {
		f := newServiceFixture(t)
		f.fetcher.Err = errors.New("connection refused")
		_, err := f.svc.ImportExternal(ctx, 3)
		assert.ErrorIs(t, err, ErrStorage)
		all, _ := f.svc.List(ctx)
		assert.Empty(t, all)
	})

	t.Run("default count comes from config", func(t *testing.T) {
		f := newServiceFixture(t)
		f.fetcher.Posts = append(posts, ExternalPost{UserID: 3, ID: 14, Title: "dolorem eum magni"})
		added, err := f.svc.ImportExternal(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, added, 3)
		assert.Equal(t, 1, f.fetcher.Calls)
	})
}
