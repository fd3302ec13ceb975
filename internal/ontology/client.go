package ontology

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ethos-works/ethosgraph/internal/domain"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 3
)

// ClientConfig holds configuration for the ontology store client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries uint64
}

// Client talks to the external persistent ontology store and its
// hierarchical query surface. Idempotent reads retry with exponential
// backoff; mutations are attempted exactly once and surface a retryable
// error to the caller, so a timed-out create is never silently duplicated.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries uint64
}

// NewClient creates an ontology store client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}
}

type entityPayload struct {
	URI        string `json:"uri"`
	Label      string `json:"label"`
	ParentURI  string `json:"parent_uri,omitempty"`
	Kind       string `json:"kind"`
	Category   string `json:"category"`
	Definition string `json:"definition,omitempty"`
}

type hierarchyPage struct {
	Entities   []entityPayload `json:"entities"`
	NextCursor string          `json:"next_cursor"`
}

// EntitiesUnder fetches one page of the transitive closure under the
// category's root. The store resolves the root from the category name.
func (c *Client) EntitiesUnder(ctx context.Context, category domain.ConceptCategory, cursor string, limit int) ([]domain.OntologyEntity, string, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	path := fmt.Sprintf("/hierarchy/%s?%s", url.PathEscape(string(category)), q.Encode())

	var page hierarchyPage
	if err := c.getWithRetry(ctx, path, &page); err != nil {
		return nil, "", err
	}

	entities := make([]domain.OntologyEntity, 0, len(page.Entities))
	for _, p := range page.Entities {
		entities = append(entities, payloadToEntity(p))
	}
	return entities, page.NextCursor, nil
}

// KnownLabels returns the labels of entities under the category root. The
// extractor injects these into prompts as disambiguating context.
func (c *Client) KnownLabels(ctx context.Context, category domain.ConceptCategory) ([]string, error) {
	entities, _, err := c.EntitiesUnder(ctx, category, "", 100)
	if err != nil {
		return nil, err
	}
	labels := make([]string, 0, len(entities))
	for _, e := range entities {
		labels = append(labels, e.Label)
	}
	return labels, nil
}

// GetEntity fetches a single entity by URI.
func (c *Client) GetEntity(ctx context.Context, uri string) (*domain.OntologyEntity, error) {
	path := "/entities?" + url.Values{"uri": {uri}}.Encode()

	var p entityPayload
	if err := c.getWithRetry(ctx, path, &p); err != nil {
		return nil, err
	}
	entity := payloadToEntity(p)
	return &entity, nil
}

// CreateEntity persists a new entity in the store. Not retried: a timeout
// here is surfaced as a transient error for the caller to resolve, because
// a blind retry could create the entity twice.
func (c *Client) CreateEntity(ctx context.Context, e *domain.OntologyEntity) error {
	return c.mutate(ctx, http.MethodPost, "/entities", e)
}

// UpdateEntity replaces the synchronized fields of an existing entity.
func (c *Client) UpdateEntity(ctx context.Context, e *domain.OntologyEntity) error {
	return c.mutate(ctx, http.MethodPut, "/entities", e)
}

func (c *Client) mutate(ctx context.Context, method, path string, e *domain.OntologyEntity) error {
	if err := domain.ValidateEntity(e); err != nil {
		return err
	}
	body, err := json.Marshal(entityToPayload(e))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewTransientError("ontology store unreachable", err)
	}
	defer resp.Body.Close()

	return c.checkStatus(resp)
}

func (c *Client) getWithRetry(ctx context.Context, path string, out interface{}) error {
	operation := func() error {
		err := c.get(ctx, path, out)
		if err != nil && !domain.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	return backoff.Retry(operation, policy)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewTransientError("ontology store unreachable", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return err
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrEntityNotFound
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.NewTransientError(
			fmt.Sprintf("ontology store returned %d: %s", resp.StatusCode, string(body)), nil)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.NewDomainError(domain.ErrCodeInternalError,
			fmt.Sprintf("ontology store returned %d: %s", resp.StatusCode, string(body)))
	}
}

func payloadToEntity(p entityPayload) domain.OntologyEntity {
	return domain.OntologyEntity{
		URI:        p.URI,
		Label:      p.Label,
		ParentURI:  p.ParentURI,
		Kind:       domain.EntityKind(p.Kind),
		Category:   domain.ConceptCategory(p.Category),
		Definition: p.Definition,
	}
}

func entityToPayload(e *domain.OntologyEntity) entityPayload {
	return entityPayload{
		URI:        e.URI,
		Label:      e.Label,
		ParentURI:  e.ParentURI,
		Kind:       string(e.Kind),
		Category:   string(e.Category),
		Definition: e.Definition,
	}
}
