// Package roster resolves collaborator ids to display names through an
// external directory service. Resolution is strictly cosmetic: any
// failure falls back to the raw id so the annotation surfaces keep
// rendering.
package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultCacheTTL bounds how long a resolved name is reused.
	DefaultCacheTTL = 5 * time.Minute
	// DefaultTimeout caps a single directory lookup.
	DefaultTimeout = 5 * time.Second
)

var errMissingBaseURL = errors.New("roster: base url is required")

// ResolverConfig wires a Resolver.
type ResolverConfig struct {
	BaseURL     string
	BearerToken string
	CacheTTL    time.Duration
	HTTPClient  *http.Client
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Resolver is a caching directory client.
type Resolver struct {
	baseURL     string
	bearerToken string
	cacheTTL    time.Duration
	httpClient  *http.Client
	clock       func() time.Time
	logger      *zap.Logger

	mu    sync.Mutex
	cache map[string]cachedName
}

type cachedName struct {
	displayName string
	resolvedAt  time.Time
}

type userPayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// NewResolver validates configuration and constructs a Resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.BaseURL == "" {
		return nil, errMissingBaseURL
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		baseURL:     cfg.BaseURL,
		bearerToken: cfg.BearerToken,
		cacheTTL:    cacheTTL,
		httpClient:  httpClient,
		clock:       clock,
		logger:      logger,
		cache:       make(map[string]cachedName),
	}, nil
}

// DisplayName resolves a user id to a display name. Lookups that fail
// for any reason return the raw id; the error is logged, never
// surfaced.
func (r *Resolver) DisplayName(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	if name, ok := r.cached(userID); ok {
		return name
	}

	name, err := r.fetch(ctx, userID)
	if err != nil {
		r.logger.Warn("display name lookup failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return userID
	}

	r.mu.Lock()
	r.cache[userID] = cachedName{displayName: name, resolvedAt: r.clock()}
	r.mu.Unlock()
	return name
}

func (r *Resolver) cached(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[userID]
	if !ok {
		return "", false
	}
	if r.clock().Sub(entry.resolvedAt) > r.cacheTTL {
		delete(r.cache, userID)
		return "", false
	}
	return entry.displayName, true
}

func (r *Resolver) fetch(ctx context.Context, userID string) (string, error) {
	endpoint := fmt.Sprintf("%s/users/%s", r.baseURL, url.PathEscape(userID))
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("roster: build request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if r.bearerToken != "" {
		request.Header.Set("Authorization", "Bearer "+r.bearerToken)
	}

	response, err := r.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("roster: lookup: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("roster: directory returned status %d", response.StatusCode)
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return "", fmt.Errorf("roster: read response: %w", err)
	}
	var payload userPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("roster: parse response: %w", err)
	}
	if payload.DisplayName == "" {
		return "", errors.New("roster: empty display name")
	}
	return payload.DisplayName, nil
}
