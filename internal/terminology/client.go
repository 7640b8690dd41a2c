package terminology

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/medassist/backend/internal/cache/redis"
	"github.com/medassist/backend/internal/metrics"
	"github.com/medassist/backend/internal/upstream"
	"github.com/medassist/backend/pkg/logger"
	"github.com/medassist/backend/pkg/utils"
)

// Match is one candidate concept returned by the terminology search service.
type Match struct {
	ConceptID string `json:"conceptId"`
	Term      string `json:"term"`
	Active    bool   `json:"active"`
}

// Client queries the SNOMED CT search service. Search responses are cached
// briefly in redis when a cache is configured; the cache is optional.
type Client struct {
	baseURL  string
	http     *upstream.Client
	cache    *redis.Client
	cacheTTL time.Duration
}

func NewClient(baseURL string, httpClient *upstream.Client, cache *redis.Client, cacheTTL time.Duration) *Client {
	return &Client{
		baseURL:  baseURL,
		http:     httpClient,
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

// Search returns active synonym matches for a free-text term.
func (c *Client) Search(ctx context.Context, term string, onAttempt upstream.AttemptFunc) ([]Match, error) {
	termHash := utils.HashString(term)

	if c.cache != nil {
		if data, ok, err := c.cache.GetTermSearch(ctx, termHash); err != nil {
			logger.Warn("Term search cache read failed", zap.Error(err))
		} else if ok {
			var matches []Match
			if err := json.Unmarshal(data, &matches); err == nil {
				metrics.CacheHits.WithLabelValues("term_search").Inc()
				return matches, nil
			}
		} else {
			metrics.CacheMisses.WithLabelValues("term_search").Inc()
		}
	}

	searchURL := fmt.Sprintf(
		"%s/csnoserv/api/search/search?term=%s&state=active&acceptability=synonyms&fullconcept=false&returnlimit=-1",
		c.baseURL, url.QueryEscape(term),
	)

	body, _, err := c.http.Get(ctx, searchURL, onAttempt)
	if err != nil {
		return nil, err
	}

	var matches []Match
	if err := json.Unmarshal(body, &matches); err != nil {
		return nil, fmt.Errorf("failed to parse terminology response: %w", err)
	}

	logger.Info("Terminology search completed",
		zap.String("term", term),
		zap.Int("matches", len(matches)),
	)

	if c.cache != nil {
		payload, err := json.Marshal(matches)
		if err == nil {
			if err := c.cache.SetTermSearch(ctx, termHash, payload, c.cacheTTL); err != nil {
				logger.Warn("Term search cache write failed", zap.Error(err))
			}
		}
	}

	return matches, nil
}
