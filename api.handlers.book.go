package main

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// Index provides same details like `Status` handler by redirecting the request.
func (api *APIHandler) Index(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	http.Redirect(w, r, "/status", http.StatusSeeOther)
}

// Status provides basics details about the application to the public users.
func (api *APIHandler) Status(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), ContextRequestID)
	resp := StatusResponse{
		RequestID: requestID,
		Status:    fmt.Sprintf("up & running since %.0f mins", api.clock.Now().Sub(api.stats.started).Minutes()),
		Message:   "Hello. Book catalog api is available. Enjoy :)",
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		api.GetLoggerFromContext(r.Context()).Error("failed to send status response", zap.Error(err))
	}
}

// fail logs err once and sends the error response matching its kind.
func (api *APIHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error, fields ...zap.Field) {
	logger := api.GetLoggerFromContext(r.Context())
	fields = append(fields, zap.Error(err))
	if KindOf(err) == KindStorage || KindOf(err) == KindUnknown {
		logger.Error(msg, fields...)
	} else {
		logger.Warn(msg, fields...)
	}
	errResp := NewAPIErrorFrom(GetValueFromContext(r.Context(), ContextRequestID), err)
	if err = WriteErrorResponse(r.Context(), w, errResp); err != nil {
		logger.Error("failed to send error response", zap.Error(err))
	}
}

// succeed sends a success response.
func (api *APIHandler) succeed(w http.ResponseWriter, r *http.Request, status int, msg string, total *int, data interface{}) {
	resp := GenericResponse(GetValueFromContext(r.Context(), ContextRequestID), status, msg, total, data)
	if err := WriteResponse(r.Context(), w, resp); err != nil {
		api.GetLoggerFromContext(r.Context()).Error("failed to send response", zap.Error(err))
	}
}

// bookID extracts the id parameter. An id with a wrong
// format can not exist so it is reported as not found.
func (api *APIHandler) bookID(ps httprouter.Params) (string, error) {
	id := ps.ByName("id")
	if !api.idsHandler.IsValid(id, BookIDPrefix) {
		return id, NotFoundError(id)
	}
	return id, nil
}

// CreateBook godoc
// @Summary      Add a book
// @Tags         books
// @Accept       json
// @Produce      json
// @Param        book  body      BookInput  true  "book to add"
// @Success      201   {object}  APIResponse{data=BookDetails}
// @Failure      400   {object}  APIError
// @Failure      409   {object}  APIError
// @Router       /api/books [post]
func (api *APIHandler) CreateBook(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var in BookInput
	if err := DecodeRequestBody(r, &in); err != nil {
		api.fail(w, r, "failed to create book", err)
		return
	}

	book, err := api.bookService.Add(r.Context(), in)
	if err != nil {
		api.fail(w, r, "failed to create book", err, zap.String("book.isbn", in.ISBN))
		return
	}
	api.GetLoggerFromContext(r.Context()).Info("success to create book", zap.String("book.id", book.ID))
	api.succeed(w, r, http.StatusCreated, "Book created successfully.", nil, book)
}

// GetAllBooks godoc
// @Summary      List or search books
// @Tags         books
// @Produce      json
// @Param        q      query     string  false  "text matched on title or author"
// @Param        genre  query     string  false  "exact genre"
// @Param        sort   query     string  false  "title (default) or pubDate"
// @Success      200    {object}  APIResponse{data=[]BookDetails}
// @Failure      500    {object}  APIError
// @Router       /api/books [get]
//
//nolint:bodyclose
func (api *APIHandler) GetAllBooks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	logger := api.GetLoggerFromContext(r.Context())
	if timeout := api.config.Server.LongRequestWriteTimeout; timeout > 0 {
		rc := http.NewResponseController(w)
		if err := rc.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			logger.Debug("http: failed to update the write deadline", zap.Error(err))
		}
	}

	q := r.URL.Query()
	query := SearchQuery{Text: q.Get("q"), Genre: q.Get("genre"), Sort: q.Get("sort")}

	var books []BookDetails
	var err error
	if query == (SearchQuery{}) {
		books, err = api.bookService.List(r.Context())
	} else {
		books, err = api.bookService.Search(r.Context(), query)
	}
	if err != nil {
		api.fail(w, r, "failed to get books", err)
		return
	}
	logger.Info("success to get books", zap.Int("count", len(books)))
	total := len(books)
	api.succeed(w, r, http.StatusOK, "Books fetched successfully.", &total, books)
}

// GetOneBook godoc
// @Summary      Get a book
// @Tags         books
// @Produce      json
// @Param        id   path      string  true  "book id"
// @Success      200  {object}  APIResponse{data=BookDetails}
// @Failure      404  {object}  APIError
// @Router       /api/books/{id} [get]
func (api *APIHandler) GetOneBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := api.bookID(ps)
	if err != nil {
		api.fail(w, r, "book id provided is not valid", err, zap.String("book.id", id))
		return
	}
	book, err := api.bookService.GetOne(r.Context(), id)
	if err != nil {
		api.fail(w, r, "failed to get book", err, zap.String("book.id", id))
		return
	}
	api.GetLoggerFromContext(r.Context()).Info("success to get book", zap.String("book.id", id))
	api.succeed(w, r, http.StatusOK, "Book fetched successfully.", nil, book)
}

// UpdateBook godoc
// @Summary      Update some fields of a book
// @Tags         books
// @Accept       json
// @Produce      json
// @Param        id     path      string     true  "book id"
// @Param        patch  body      BookPatch  true  "fields to change"
// @Success      200    {object}  APIResponse{data=BookDetails}
// @Failure      400    {object}  APIError
// @Failure      404    {object}  APIError
// @Failure      409    {object}  APIError
// @Router       /api/books/{id} [put]
func (api *APIHandler) UpdateBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := api.bookID(ps)
	if err != nil {
		api.fail(w, r, "book id provided is not valid", err, zap.String("book.id", id))
		return
	}
	var patch BookPatch
	if err = DecodeRequestBody(r, &patch); err != nil {
		api.fail(w, r, "failed to update book", err, zap.String("book.id", id))
		return
	}

	book, err := api.bookService.Update(r.Context(), id, patch)
	if err != nil {
		api.fail(w, r, "failed to update book", err, zap.String("book.id", id))
		return
	}
	api.GetLoggerFromContext(r.Context()).Info("success to update book", zap.String("book.id", id))
	api.succeed(w, r, http.StatusOK, "Book updated successfully.", nil, book)
}

// DeleteOneBook godoc
// @Summary      Delete a book
// @Tags         books
// @Param        id   path  string  true  "book id"
// @Success      204
// @Failure      404  {object}  APIError
// @Router       /api/books/{id} [delete]
func (api *APIHandler) DeleteOneBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	logger := api.GetLoggerFromContext(r.Context())
	id, err := api.bookID(ps)
	if err != nil {
		api.fail(w, r, "book id provided is not valid", err, zap.String("book.id", id))
		return
	}
	if err = api.bookService.Remove(r.Context(), id); err != nil {
		api.fail(w, r, "failed to delete book", err, zap.String("book.id", id))
		return
	}
	logger.Info("success to delete book", zap.String("book.id", id))
	if err = WriteNoContent(r.Context(), w); err != nil {
		logger.Error("failed to send response", zap.Error(err))
	}
}

// FetchExternalBooks godoc
// @Summary      Import a few placeholder books
// @Tags         books
// @Produce      json
// @Param        count  query     int  false  "number of records to fetch"
// @Success      201    {object}  APIResponse{data=ImportResult}
// @Failure      500    {object}  APIError
// @Router       /api/books/fetch-external [post]
func (api *APIHandler) FetchExternalBooks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	n := 0
	if v := r.URL.Query().Get("count"); v != "" {
		count, err := strconv.Atoi(v)
		if err != nil || count <= 0 || count > placeholderPostsCount {
			api.fail(w, r, "failed to import books", ValidationError("count", fmt.Sprintf("count must be between 1 and %d", placeholderPostsCount)))
			return
		}
		n = count
	}

	added, err := api.bookService.ImportExternal(r.Context(), n)
	if err != nil {
		api.fail(w, r, "failed to import books", err, zap.Int("added", len(added)))
		return
	}
	all, err := api.bookService.List(r.Context())
	if err != nil {
		api.fail(w, r, "failed to get books after import", err)
		return
	}
	api.GetLoggerFromContext(r.Context()).Info("success to import books", zap.Int("added", len(added)))
	api.succeed(w, r, http.StatusCreated, fmt.Sprintf("Added %d new books.", len(added)), nil, ImportResult{Added: len(added), AllBooks: all})
}

// GenreInfo describes one accepted genre.
type GenreInfo struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// GetGenres godoc
// @Summary      List accepted genres
// @Tags         books
// @Produce      json
// @Success      200  {object}  APIResponse{data=[]GenreInfo}
// @Router       /api/genres [get]
func (api *APIHandler) GetGenres(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	genres := make([]GenreInfo, 0, len(Genres))
	for _, g := range Genres {
		genres = append(genres, GenreInfo{Name: g, Category: Categorize(g)})
	}
	total := len(genres)
	api.succeed(w, r, http.StatusOK, "Genres fetched successfully.", &total, genres)
}

// NotFound answers requests on routes which do not exist.
func (api *APIHandler) NotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := GetValueFromContext(r.Context(), ContextRequestID)
		if requestID == "" {
			requestID = api.idsHandler.Generate(RequestIDPrefix)
		}
		err := writeJSON(w, http.StatusNotFound, map[string]string{
			"requestid": requestID,
			"message":   "route does not exist",
			"path":      r.Method + " " + r.URL.Path,
		})
		if err != nil {
			api.logger.Error("failed to send not found response", zap.String("request.id", requestID), zap.Error(err))
		}
	})
}
