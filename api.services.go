package main

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Operation names used for logs and metrics.
const (
	OpList   = "list"
	OpGet    = "get"
	OpAdd    = "add"
	OpUpdate = "update"
	OpRemove = "remove"
	OpSearch = "search"
	OpImport = "import"
)

type BookServiceProvider interface {
	List(ctx context.Context) ([]BookDetails, error)
	GetOne(ctx context.Context, id string) (BookDetails, error)
	Add(ctx context.Context, in BookInput) (BookDetails, error)
	Update(ctx context.Context, id string, patch BookPatch) (BookDetails, error)
	Remove(ctx context.Context, id string) error
	Search(ctx context.Context, q SearchQuery) ([]BookDetails, error)
	ImportExternal(ctx context.Context, n int) ([]BookDetails, error)
}

// BookService is the catalog. It owns the injected storage and is the
// only place where ids, timestamps and validation rules are applied.
type BookService struct {
	logger     *zap.Logger
	config     *Config
	clock      Clocker
	idsHandler UIDHandler
	storage    BookStorage
	queue      Queuer
	fetcher    ExternalFetcher
	validator  *BookValidator
	sorter     *BookSorter
	metrics    *Metrics
}

func NewBookService(
	logger *zap.Logger,
	config *Config,
	clock Clocker,
	idsHandler UIDHandler,
	storage BookStorage,
	queue Queuer,
	fetcher ExternalFetcher,
	metrics *Metrics,
) BookServiceProvider {
	if config == nil {
		config = &Config{}
	}
	if queue == nil {
		queue = noopQueue{}
	}
	return &BookService{
		logger:     logger,
		config:     config,
		clock:      clock,
		idsHandler: idsHandler,
		storage:    storage,
		queue:      queue,
		fetcher:    fetcher,
		validator:  NewBookValidator(),
		sorter:     NewBookSorter(config.Catalog.SortLocale),
		metrics:    metrics,
	}
}

func (bs *BookService) now() time.Time {
	return bs.clock.Now().UTC()
}

func (bs *BookService) details(books []Book) []BookDetails {
	now := bs.now()
	all := make([]BookDetails, 0, len(books))
	for _, b := range books {
		all = append(all, b.Details(now))
	}
	return all
}

// publish pushes a committed change for replication. A failure
// there never fails the catalog operation.
func (bs *BookService) publish(ctx context.Context, qid string, book Book) {
	if err := bs.queue.Push(ctx, qid, book); err != nil {
		bs.logger.Error("service: failed to push book to queue", zap.String("qid", qid), zap.String("book.id", book.ID), zap.Error(err))
	}
}

// List returns all books sorted by title.
func (bs *BookService) List(ctx context.Context) ([]BookDetails, error) {
	books, err := bs.storage.GetAll(ctx)
	bs.metrics.ObserveOperation(OpList, err)
	if err != nil {
		return nil, err
	}
	bs.metrics.SetBooksCount(len(books))
	all := bs.details(books)
	bs.sorter.Sort(all, SortByTitle)
	return all, nil
}

func (bs *BookService) GetOne(ctx context.Context, id string) (BookDetails, error) {
	book, err := bs.storage.GetOne(ctx, id)
	bs.metrics.ObserveOperation(OpGet, err)
	if err != nil {
		return BookDetails{}, err
	}
	return book.Details(bs.now()), nil
}

// Add validates the input then stores it as a new book.
func (bs *BookService) Add(ctx context.Context, in BookInput) (BookDetails, error) {
	book, err := bs.add(ctx, in)
	bs.metrics.ObserveOperation(OpAdd, err)
	if err != nil {
		return BookDetails{}, err
	}
	return book.Details(bs.now()), nil
}

func (bs *BookService) add(ctx context.Context, in BookInput) (Book, error) {
	in.Normalize()
	if err := bs.validator.Validate(&in); err != nil {
		return Book{}, err
	}
	stamp := bs.now().Format(time.RFC3339)
	book := Book{
		ID:        bs.idsHandler.Generate(BookIDPrefix),
		Title:     in.Title,
		Author:    in.Author,
		ISBN:      in.ISBN,
		PubDate:   in.PubDate,
		Genre:     in.Genre,
		CreatedAt: stamp,
		UpdatedAt: stamp,
	}
	if err := bs.storage.Add(ctx, book.ID, book); err != nil {
		return Book{}, err
	}
	bs.publish(ctx, CreateQueue, book)
	return book, nil
}

// Update applies the fields present in the patch. The whole
// patch is rejected when any touched field is invalid.
func (bs *BookService) Update(ctx context.Context, id string, patch BookPatch) (BookDetails, error) {
	book, err := bs.update(ctx, id, patch)
	bs.metrics.ObserveOperation(OpUpdate, err)
	if err != nil {
		return BookDetails{}, err
	}
	return book.Details(bs.now()), nil
}

func (bs *BookService) update(ctx context.Context, id string, patch BookPatch) (Book, error) {
	existing, err := bs.storage.GetOne(ctx, id)
	if err != nil {
		return Book{}, err
	}
	if patch.IsEmpty() {
		return Book{}, ValidationError("", "no fields to update")
	}
	in := patch.Apply(existing.Input())
	in.Normalize()
	if err = bs.validator.Validate(&in); err != nil {
		return Book{}, err
	}
	book := existing
	book.Title = in.Title
	book.Author = in.Author
	book.ISBN = in.ISBN
	book.PubDate = in.PubDate
	book.Genre = in.Genre
	book.UpdatedAt = bs.now().Format(time.RFC3339)

	updated, err := bs.storage.Update(ctx, id, book)
	if err != nil {
		return Book{}, err
	}
	bs.publish(ctx, UpdateQueue, updated)
	return updated, nil
}

// Remove permanently deletes a book.
func (bs *BookService) Remove(ctx context.Context, id string) error {
	err := bs.storage.Delete(ctx, id)
	bs.metrics.ObserveOperation(OpRemove, err)
	if err != nil {
		return err
	}
	bs.publish(ctx, DeleteQueue, Book{ID: id})
	return nil
}

// Search filters books by text on title or author and by genre.
// Both filters must match when both are set.
func (bs *BookService) Search(ctx context.Context, q SearchQuery) ([]BookDetails, error) {
	books, err := bs.storage.GetAll(ctx)
	bs.metrics.ObserveOperation(OpSearch, err)
	if err != nil {
		return nil, err
	}
	text := strings.ToLower(strings.TrimSpace(q.Text))
	genre := strings.ToLower(strings.TrimSpace(q.Genre))
	matched := make([]Book, 0, len(books))
	for _, b := range books {
		if text != "" &&
			!strings.Contains(strings.ToLower(b.Title), text) &&
			!strings.Contains(strings.ToLower(b.Author), text) {
			continue
		}
		if genre != "" && strings.ToLower(b.Genre) != genre {
			continue
		}
		matched = append(matched, b)
	}
	all := bs.details(matched)
	bs.sorter.Sort(all, q.Sort)
	return all, nil
}

// ImportExternal adds n placeholder records, skipping those whose title
// is already in the catalog or whose isbn is taken. It returns only the
// books it added.
func (bs *BookService) ImportExternal(ctx context.Context, n int) ([]BookDetails, error) {
	added, err := bs.importExternal(ctx, n)
	bs.metrics.ObserveOperation(OpImport, err)
	return bs.details(added), err
}

func (bs *BookService) importExternal(ctx context.Context, n int) ([]Book, error) {
	if n <= 0 {
		n = bs.config.Catalog.ImportCount
	}
	if n <= 0 {
		n = 3
	}
	if bs.fetcher == nil {
		return nil, StorageError("external api is not configured", nil)
	}
	posts, err := bs.fetcher.FetchPosts(ctx, n)
	if err != nil {
		return nil, StorageError("failed to fetch from external api", err)
	}

	existing, err := bs.storage.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	titles := make(map[string]struct{}, len(existing))
	for _, b := range existing {
		titles[b.Title] = struct{}{}
	}

	added := []Book{}
	for _, p := range posts {
		in := PostToBookInput(p)
		if _, ok := titles[in.Title]; ok {
			continue
		}
		book, err := bs.add(ctx, in)
		if KindOf(err) == KindConflict {
			bs.logger.Info("service: imported book skipped", zap.String("book.isbn", in.ISBN), zap.Error(err))
			continue
		}
		if err != nil {
			return added, err
		}
		titles[book.Title] = struct{}{}
		added = append(added, book)
	}
	return added, nil
}
