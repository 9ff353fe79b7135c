package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// The placeholder api serves 100 posts.
const placeholderPostsCount = 100

// ExternalPost is a post served by the placeholder api.
type ExternalPost struct {
	UserID int    `json:"userId"`
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// ExternalFetcher provides dummy records to seed the catalog.
type ExternalFetcher interface {
	FetchPosts(ctx context.Context, limit int) ([]ExternalPost, error)
}

type placeholderFetcher struct {
	logger  *zap.Logger
	client  *http.Client
	baseURL string
	start   func(limit int) int
}

// NewPlaceholderFetcher returns a fetcher which reads a random window
// of posts. The call is bounded by the configured timeout and never retried.
func NewPlaceholderFetcher(logger *zap.Logger, config *ExternalConfig) ExternalFetcher {
	return &placeholderFetcher{
		logger:  logger,
		client:  &http.Client{Timeout: config.Timeout},
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		start: func(limit int) int {
			if limit >= placeholderPostsCount {
				return 0
			}
			return rand.Intn(placeholderPostsCount - limit)
		},
	}
}

// FetchPosts gets `limit` posts from a random offset.
func (pf *placeholderFetcher) FetchPosts(ctx context.Context, limit int) ([]ExternalPost, error) {
	q := url.Values{}
	q.Set("_start", strconv.Itoa(pf.start(limit)))
	q.Set("_limit", strconv.Itoa(limit))
	endpoint := pf.baseURL + "/posts?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store")

	resp, err := pf.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("external api responded with status %d", resp.StatusCode)
	}

	var posts []ExternalPost
	if err = json.NewDecoder(resp.Body).Decode(&posts); err != nil {
		return nil, fmt.Errorf("failed to decode external api response: %w", err)
	}
	pf.logger.Debug("external posts fetched", zap.String("url", endpoint), zap.Int("count", len(posts)))
	return posts, nil
}

// ImportedPubDate is the publication date assigned to imported records.
const ImportedPubDate = "2023-05-10"

// PostToBookInput maps a placeholder post onto a catalog entry.
func PostToBookInput(p ExternalPost) BookInput {
	// a Caser is stateful and can't be shared between goroutines.
	caser := cases.Title(language.English, cases.NoLower)
	return BookInput{
		Title:   caser.String(p.Title),
		Author:  "User " + strconv.Itoa(p.UserID),
		ISBN:    "1000-" + strconv.Itoa(p.ID),
		PubDate: ImportedPubDate,
		Genre:   "general",
	}
}
