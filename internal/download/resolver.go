// Package download resolves satellite products to their storage identities,
// streams them to disk with progress tracking and cooperative cancellation,
// and hands completed files off to the external preprocessing watcher.
package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rainsar/rainsar/internal/provider/resilience"
)

// Predefined download errors.
var (
	// ErrNotFound indicates no product matched the requested name.
	ErrNotFound = errors.New("product not found")

	// ErrCancelled indicates the download was cancelled by request, as
	// opposed to failing.
	ErrCancelled = errors.New("download cancelled")

	// ErrAlreadyRunning indicates a download for the product is in flight.
	ErrAlreadyRunning = errors.New("download already running")
)

// Resolver maps a human-readable product name to the opaque storage id the
// download endpoint requires. It talks to a separate product service and
// needs no bearer token.
type Resolver struct {
	baseURL    string
	httpClient *resilience.Client
	logger     zerolog.Logger
}

// ResolverConfig holds configuration for the resolver.
type ResolverConfig struct {
	// BaseURL is the OData service root.
	BaseURL string

	// HTTPClient is optional; defaults to a 3-attempt resilient client.
	HTTPClient *resilience.Client

	Logger zerolog.Logger
}

// NewResolver creates a product resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.Config{
			Name:        "product-resolver",
			MaxAttempts: 3,
		})
	}
	return &Resolver{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// ProductStem normalizes a display name by stripping the known derivative
// suffixes before matching.
func ProductStem(name string) string {
	name = strings.TrimSuffix(name, ".SAFE")
	name = strings.TrimSuffix(name, "_COG")
	return name
}

type odataProduct struct {
	ID   string `json:"Id"`
	Name string `json:"Name"`
}

type odataResponse struct {
	Value []odataProduct `json:"value"`
}

// ResolveStorageID returns the storage id for a product name. The exact-name
// lookup runs first; only when it misses does the fuzzy substring lookup run,
// ordered by most recent acquisition, since exact matches avoid resolving to
// a reprocessed near-namesake.
func (r *Resolver) ResolveStorageID(ctx context.Context, productName string) (string, error) {
	stem := ProductStem(productName)

	id, err := r.query(ctx, fmt.Sprintf("Name eq '%s.SAFE'", stem))
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	r.logger.Debug().Str("stem", stem).Msg("exact product match missed, trying fuzzy")
	id, err = r.query(ctx, fmt.Sprintf("contains(Name,'%s')", stem))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Resolver) query(ctx context.Context, filter string) (string, error) {
	params := url.Values{}
	params.Set("$filter", filter)
	params.Set("$orderby", "ContentDate/Start desc")
	params.Set("$top", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		r.baseURL+"/Products?"+params.Encode(), http.NoBody)
	if err != nil {
		return "", fmt.Errorf("creating resolve request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolving product: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("product service returned %d", resp.StatusCode)
	}

	var out odataResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding product response: %w", err)
	}
	if len(out.Value) == 0 {
		return "", ErrNotFound
	}
	return out.Value[0].ID, nil
}
