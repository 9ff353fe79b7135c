package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// envelope mirrors APIResponse and APIError with a raw data field.
type envelope struct {
	RequestID string          `json:"requestid"`
	Status    int             `json:"status"`
	Message   string          `json:"message"`
	Total     *int            `json:"total"`
	Data      json.RawMessage `json:"data"`
}

type testServer struct {
	api     *APIHandler
	router  *httprouter.Router
	fetcher *MockFetcher
}

func newTestServer(t *testing.T, bs BookServiceProvider) *testServer {
	t.Helper()
	clock := NewMockClocker()
	config := &Config{OpsEndpointsEnable: true, Storage: StorageConfig{Driver: DriverMemory}}
	config.Catalog.SortLocale = "en"
	config.Catalog.ImportCount = 3
	metrics := NewMetrics()
	fetcher := &MockFetcher{}
	if bs == nil {
		bs = NewBookService(zap.NewNop(), config, clock, NewIDsHandler(), NewMemoryBookStorage(zap.NewNop()), nil, fetcher, metrics)
	}
	api := NewAPIHandler(zap.NewNop(), config, &Statistics{started: clock.Now()}, clock, NewIDsHandler(), metrics, bs)
	public, ops := api.MiddlewaresStacks()
	router := api.SetupRoutes(httprouter.New(), &MiddlewareMap{public: public.Chain, ops: ops.Chain})
	return &testServer{api: api, router: router, fetcher: fetcher}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w.Result()
}

func decodeEnvelope(t *testing.T, res *http.Response) envelope {
	t.Helper()
	defer res.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&env))
	return env
}

func (ts *testServer) create(t *testing.T, body string) BookDetails {
	t.Helper()
	res := ts.do(t, http.MethodPost, "/api/books", body)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var book BookDetails
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, res).Data, &book))
	return book
}

const gatsbyJSON = `{"title":"The Great Gatsby","author":"F. Scott Fitzgerald","isbn":"9780743273565","pubDate":"1925-04-10","genre":"fiction"}`

// TestStatusHandler ensures api handler can provides its status.
func TestStatusHandler(t *testing.T) {
	ts := newTestServer(t, nil)
	res := ts.do(t, http.MethodGet, "/status", "")
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/json; charset=UTF-8", res.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(res.Header.Get("X-Request-ID"), RequestIDPrefix+":"))

	m := make(map[string]interface{})
	require.NoError(t, json.NewDecoder(res.Body).Decode(&m))
	assert.Equal(t, res.Header.Get("X-Request-ID"), m["requestid"])
	assert.Equal(t, "up & running since 0 mins", m["status"])
	assert.Equal(t, "Hello. Book catalog api is available. Enjoy :)", m["message"])
}

func TestIndexHandler(t *testing.T) {
	ts := newTestServer(t, nil)
	res := ts.do(t, http.MethodGet, "/", "")
	defer res.Body.Close()
	assert.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/status", res.Header.Get("Location"))
}

// TestCreateBookHandler ensures api handler can create a book.
func TestCreateBookHandler(t *testing.T) {
	ts := newTestServer(t, nil)

	t.Run("should pass: valid payload", func(t *testing.T) {
		res := ts.do(t, http.MethodPost, "/api/books", gatsbyJSON)
		assert.Equal(t, http.StatusCreated, res.StatusCode)
		assert.Equal(t, "application/json; charset=UTF-8", res.Header.Get("Content-Type"))
		env := decodeEnvelope(t, res)
		assert.Equal(t, http.StatusCreated, env.Status)
		assert.Equal(t, "Book created successfully.", env.Message)
		assert.Nil(t, env.Total)
		assert.NotEmpty(t, env.RequestID)

		var book BookDetails
		require.NoError(t, json.Unmarshal(env.Data, &book))
		assert.True(t, NewIDsHandler().IsValid(book.ID, BookIDPrefix))
		assert.Equal(t, "The Great Gatsby", book.Title)
		assert.Equal(t, "Entertainment", book.Category)
		assert.Equal(t, Age{Years: 98, Months: 2, Days: 22}, book.Age)
		assert.Equal(t, "2023-07-02T00:00:00Z", book.CreatedAt)
	})

	t.Run("should fail: duplicate isbn", func(t *testing.T) {
		res := ts.do(t, http.MethodPost, "/api/books", gatsbyJSON)
		assert.Equal(t, http.StatusConflict, res.StatusCode)
		env := decodeEnvelope(t, res)
		assert.Equal(t, http.StatusConflict, env.Status)
		assert.Contains(t, env.Message, "9780743273565")
	})

	testCases := []struct {
		name    string
		body    string
		field   string
		message string
	}{
		{"unknown genre", `{"title":"t","author":"a","isbn":"1","pubDate":"2001-01-01","genre":"poetry"}`, "genre", ""},
		{"missing title", `{"author":"a","isbn":"1","pubDate":"2001-01-01","genre":"fiction"}`, "title", "title is required"},
		{"bad date", `{"title":"t","author":"a","isbn":"1","pubDate":"01/01/2001","genre":"fiction"}`, "pubDate", ""},
		{"malformed json", `{"title":`, "", ""},
		{"unknown field", `{"title":"t","price":"10$"}`, "", ""},
		{"empty body", ``, "", "request body is empty"},
	}
	for _, tc := range testCases {
		t.Run("should fail: "+tc.name, func(t *testing.T) {
			res := ts.do(t, http.MethodPost, "/api/books", tc.body)
			assert.Equal(t, http.StatusBadRequest, res.StatusCode)
			env := decodeEnvelope(t, res)
			assert.Equal(t, http.StatusBadRequest, env.Status)
			if tc.message != "" {
				assert.Equal(t, tc.message, env.Message)
			}
			if tc.field != "" {
				assert.JSONEq(t, `{"field":"`+tc.field+`"}`, string(env.Data))
			} else {
				assert.JSONEq(t, `{}`, string(env.Data))
			}
		})
	}

	t.Run("rejected payloads left the catalog unchanged", func(t *testing.T) {
		env := decodeEnvelope(t, ts.do(t, http.MethodGet, "/api/books", ""))
		require.NotNil(t, env.Total)
		assert.Equal(t, 1, *env.Total)
	})
}

func TestGetOneBookHandler(t *testing.T) {
	ts := newTestServer(t, nil)
	book := ts.create(t, gatsbyJSON)

	t.Run("should pass: existing book", func(t *testing.T) {
		res := ts.do(t, http.MethodGet, "/api/books/"+book.ID, "")
		assert.Equal(t, http.StatusOK, res.StatusCode)
		env := decodeEnvelope(t, res)
		assert.Equal(t, "Book fetched successfully.", env.Message)
		var got BookDetails
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, book, got)
	})

	t.Run("should fail: unknown id", func(t *testing.T) {
		res := ts.do(t, http.MethodGet, "/api/books/"+NewIDsHandler().Generate(BookIDPrefix), "")
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
		assert.Equal(t, http.StatusNotFound, decodeEnvelope(t, res).Status)
	})

	t.Run("should fail: malformed id", func(t *testing.T) {
		res := ts.do(t, http.MethodGet, "/api/books/not-an-id", "")
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
		assert.Equal(t, "book not-an-id not found", decodeEnvelope(t, res).Message)
	})
}

func TestUpdateBookHandler(t *testing.T) {
	ts := newTestServer(t, nil)
	book := ts.create(t, gatsbyJSON)
	other := ts.create(t, `{"title":"Dune","author":"Frank Herbert","isbn":"9780441013593","pubDate":"1965-08-01","genre":"science"}`)

	t.Run("should pass: partial update", func(t *testing.T) {
		res := ts.do(t, http.MethodPut, "/api/books/"+book.ID, `{"title":"X"}`)
		assert.Equal(t, http.StatusOK, res.StatusCode)
		env := decodeEnvelope(t, res)
		assert.Equal(t, "Book updated successfully.", env.Message)
		var got BookDetails
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, "X", got.Title)
		assert.Equal(t, book.Author, got.Author)
		assert.Equal(t, book.ISBN, got.ISBN)
		assert.Equal(t, book.Genre, got.Genre)
	})

	testCases := []struct {
		name   string
		id     string
		body   string
		status int
	}{
		{"empty patch", book.ID, `{}`, http.StatusBadRequest},
		{"invalid genre", book.ID, `{"genre":"poetry"}`, http.StatusBadRequest},
		{"unknown field", book.ID, `{"price":"20$"}`, http.StatusBadRequest},
		{"taken isbn", book.ID, `{"isbn":"` + other.ISBN + `"}`, http.StatusConflict},
		{"unknown id", NewIDsHandler().Generate(BookIDPrefix), `{"title":"Y"}`, http.StatusNotFound},
		{"malformed id", "b:123", `{"title":"Y"}`, http.StatusNotFound},
	}
	for _, tc := range testCases {
		t.Run("should fail: "+tc.name, func(t *testing.T) {
			res := ts.do(t, http.MethodPut, "/api/books/"+tc.id, tc.body)
			assert.Equal(t, tc.status, res.StatusCode)
			assert.Equal(t, tc.status, decodeEnvelope(t, res).Status)
		})
	}

	t.Run("failed updates left the book unchanged", func(t *testing.T) {
		var got BookDetails
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, ts.do(t, http.MethodGet, "/api/books/"+book.ID, "")).Data, &got))
		assert.Equal(t, "X", got.Title)
		assert.Equal(t, book.ISBN, got.ISBN)
		assert.Equal(t, "fiction", got.Genre)
	})
}

func TestDeleteOneBookHandler(t *testing.T) {
	ts := newTestServer(t, nil)
	book := ts.create(t, gatsbyJSON)

	res := ts.do(t, http.MethodDelete, "/api/books/"+book.ID, "")
	res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res = ts.do(t, http.MethodGet, "/api/books/"+book.ID, "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()

	// a second delete of the same book fails.
	res = ts.do(t, http.MethodDelete, "/api/books/"+book.ID, "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, http.StatusNotFound, decodeEnvelope(t, res).Status)
}

func TestGetAllBooksHandler(t *testing.T) {
	ts := newTestServer(t, nil)

	t.Run("empty catalog", func(t *testing.T) {
		res := ts.do(t, http.MethodGet, "/api/books", "")
		assert.Equal(t, http.StatusOK, res.StatusCode)
		env := decodeEnvelope(t, res)
		assert.Equal(t, "Books fetched successfully.", env.Message)
		require.NotNil(t, env.Total)
		assert.Equal(t, 0, *env.Total)
		assert.JSONEq(t, `[]`, string(env.Data))
	})

	ts.create(t, gatsbyJSON)
	ts.create(t, `{"title":"A Brief History of Time","author":"Stephen Hawking","isbn":"222","pubDate":"1988-04-01","genre":"science"}`)
	ts.create(t, `{"title":"Cosmos","author":"Carl Sagan","isbn":"333","pubDate":"1980-10-01","genre":"science"}`)

	testCases := []struct {
		name     string
		query    string
		expected []string
	}{
		{"all by title", "", []string{"A Brief History of Time", "Cosmos", "The Great Gatsby"}},
		{"text search", "?q=gatsby", []string{"The Great Gatsby"}},
		{"genre filter", "?genre=science", []string{"A Brief History of Time", "Cosmos"}},
		{"combined", "?q=sagan&genre=science", []string{"Cosmos"}},
		{"no match", "?q=dune", []string{}},
		{"by pubDate", "?sort=pubDate", []string{"A Brief History of Time", "Cosmos", "The Great Gatsby"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := ts.do(t, http.MethodGet, "/api/books"+tc.query, "")
			assert.Equal(t, http.StatusOK, res.StatusCode)
			env := decodeEnvelope(t, res)
			var books []BookDetails
			require.NoError(t, json.Unmarshal(env.Data, &books))
			require.NotNil(t, env.Total)
			assert.Equal(t, len(tc.expected), *env.Total)
			assert.Equal(t, tc.expected, titles(books))
		})
	}
}

func TestGetGenresHandler(t *testing.T) {
	ts := newTestServer(t, nil)
	res := ts.do(t, http.MethodGet, "/api/genres", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	env := decodeEnvelope(t, res)
	require.NotNil(t, env.Total)
	assert.Equal(t, len(Genres), *env.Total)

	var genres []GenreInfo
	require.NoError(t, json.Unmarshal(env.Data, &genres))
	assert.Equal(t, GenreInfo{Name: "fiction", Category: "Entertainment"}, genres[0])
	assert.Equal(t, GenreInfo{Name: "general", Category: DefaultCategory}, genres[len(genres)-1])
}

func TestFetchExternalBooksHandler(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.fetcher.Posts = []ExternalPost{
		{UserID: 1, ID: 1, Title: "sunt aut facere"},
		{UserID: 1, ID: 2, Title: "qui est esse"},
	}

	t.Run("should pass: adds the records", func(t *testing.T) {
		res := ts.do(t, http.MethodPost, "/api/books/fetch-external?count=2", "")
		assert.Equal(t, http.StatusCreated, res.StatusCode)
		env := decodeEnvelope(t, res)
		assert.Equal(t, "Added 2 new books.", env.Message)
		var result ImportResult
		require.NoError(t, json.Unmarshal(env.Data, &result))
		assert.Equal(t, 2, result.Added)
		assert.Equal(t, []string{"Qui Est Esse", "Sunt Aut Facere"}, titles(result.AllBooks))
	})

	t.Run("should pass: repeated import adds nothing", func(t *testing.T) {
		res := ts.do(t, http.MethodPost, "/api/books/fetch-external", "")
		assert.Equal(t, http.StatusCreated, res.StatusCode)
		env := decodeEnvelope(t, res)
		assert.Equal(t, "Added 0 new books.", env.Message)
		var result ImportResult
		require.NoError(t, json.Unmarshal(env.Data, &result))
		assert.Equal(t, 0, result.Added)
		assert.Len(t, result.AllBooks, 2)
	})

	for _, count := range []string{"0", "-1", "abc", "101"} {
		t.Run("should fail: count "+count, func(t *testing.T) {
			res := ts.do(t, http.MethodPost, "/api/books/fetch-external?count="+count, "")
			assert.Equal(t, http.StatusBadRequest, res.StatusCode)
			assert.JSONEq(t, `{"field":"count"}`, string(decodeEnvelope(t, res).Data))
		})
	}

	t.Run("should fail: external api down", func(t *testing.T) {
		ts.fetcher.Err = errors.New("connection refused")
		res := ts.do(t, http.MethodPost, "/api/books/fetch-external", "")
		assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
		assert.Equal(t, "failed to fetch from external api", decodeEnvelope(t, res).Message)
	})
}

// TestErrorKindsMapping ensures each error kind of the service is sent with its status.
func TestErrorKindsMapping(t *testing.T) {
	testCases := []struct {
		err     error
		status  int
		message string
	}{
		{ValidationError("isbn", "isbn is required"), http.StatusBadRequest, "isbn is required"},
		{ConflictError("a book with isbn 1 already exists"), http.StatusConflict, "a book with isbn 1 already exists"},
		{NotFoundError("b:1"), http.StatusNotFound, "book b:1 not found"},
		{StorageError("failed to list books", errors.New("timeout")), http.StatusInternalServerError, "failed to list books"},
		{errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}
	for _, tc := range testCases {
		t.Run(tc.message, func(t *testing.T) {
			bs := &MockBookService{
				ListFunc: func(ctx context.Context) ([]BookDetails, error) { return nil, tc.err },
			}
			ts := newTestServer(t, bs)
			res := ts.do(t, http.MethodGet, "/api/books", "")
			assert.Equal(t, tc.status, res.StatusCode)
			env := decodeEnvelope(t, res)
			assert.Equal(t, tc.status, env.Status)
			assert.Equal(t, tc.message, env.Message)
			assert.Nil(t, env.Total)
		})
	}
}

func TestNotFoundHandler(t *testing.T) {
	ts := newTestServer(t, nil)
	res := ts.do(t, http.MethodGet, "/api/authors", "")
	defer res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	m := make(map[string]string)
	require.NoError(t, json.NewDecoder(res.Body).Decode(&m))
	assert.Equal(t, "route does not exist", m["message"])
	assert.Equal(t, "GET /api/authors", m["path"])
	assert.True(t, strings.HasPrefix(m["requestid"], RequestIDPrefix+":"))
}

func TestWriteResponseOnAbortedRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := httptest.NewRecorder()
	err := WriteResponse(ctx, w, GenericResponse("r:1", http.StatusOK, "ok", nil, EmptyData))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 499, w.Code)

	dctx, dcancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer dcancel()
	w = httptest.NewRecorder()
	err = WriteErrorResponse(dctx, w, NewAPIError("r:1", http.StatusNotFound, "nope", EmptyData))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestDecodeRequestBody(t *testing.T) {
	var in BookInput
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(gatsbyJSON))
	require.NoError(t, DecodeRequestBody(req, &in))
	assert.Equal(t, "9780743273565", in.ISBN)

	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(strings.Repeat(" ", maxRequestBodySize+1)+"{}"))
	assert.ErrorIs(t, DecodeRequestBody(req, &in), ErrValidation)
}
