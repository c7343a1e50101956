package brapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"experiment_import_backend/internal/experiment/domain"
	"experiment_import_backend/platform/apperr"
	"experiment_import_backend/platform/config"
	"experiment_import_backend/platform/logger"

	"golang.org/x/time/rate"
)

const (
	searchPageSize     = 1000
	searchPollInterval = 250 * time.Millisecond
	searchMaxPolls     = 40
)

// Client is the HTTP client for a BrAPI v2 server.
type Client struct {
	httpClient      *http.Client
	baseURL         string
	accessToken     string
	referenceSource string
	limiter         *rate.Limiter
	log             *logger.Logger
}

// NewClient creates a BrAPI client from configuration.
func NewClient(cfg config.BrAPIConfig, log *logger.Logger) *Client {
	rps := cfg.GetBrAPIRequestsPerSecond()
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Client{
		httpClient:      &http.Client{Timeout: cfg.GetBrAPITimeout()},
		baseURL:         strings.TrimSuffix(cfg.GetBrAPIBaseURL(), "/"),
		accessToken:     cfg.GetBrAPIAccessToken(),
		referenceSource: cfg.GetBrAPIReferenceSource(),
		limiter:         rate.NewLimiter(limit, max(1, int(rps))),
		log:             log,
	}
}

// Store exposes the client through the DAO interfaces.
func (c *Client) Store() Store {
	return Store{
		Programs:     httpPrograms{c},
		Ontology:     httpOntology{c},
		Trials:       newResource(c, trialDescriptor),
		Locations:    newResource(c, locationDescriptor),
		Studies:      newResource(c, studyDescriptor),
		Germplasm:    newResource(c, germplasmDescriptor),
		Units:        httpUnits{newResource(c, unitDescriptor)},
		Datasets:     newResource(c, datasetDescriptor),
		Observations: httpObservations{newResource(c, observationDescriptor)},
	}
}

type envelope struct {
	Metadata struct {
		Pagination struct {
			CurrentPage int `json:"currentPage"`
			TotalPages  int `json:"totalPages"`
		} `json:"pagination"`
	} `json:"metadata"`
	Result json.RawMessage `json:"result"`
}

type dataResult struct {
	Data json.RawMessage `json:"data"`
}

type searchAccepted struct {
	SearchResultsDbID string `json:"searchResultsDbId"`
}

// do sends one request and decodes the envelope. A nil body sends no payload.
func (c *Client) do(ctx context.Context, method, path string, body any) (int, *envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("brapi request failed", "error", err, "method", method, "path", path)
		return 0, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return resp.StatusCode, &envelope{}, nil
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, nil, apperr.NotFound(fmt.Sprintf("brapi %s %s not found", method, path))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.log.Error("brapi unauthorized", "status", resp.StatusCode, "path", path)
		return resp.StatusCode, nil, fmt.Errorf("brapi unauthorized: status %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.log.Error("brapi upstream error", "status", resp.StatusCode, "method", method, "path", path)
		return resp.StatusCode, nil, fmt.Errorf("brapi %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		return resp.StatusCode, nil, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, &env, nil
}

// search runs POST /search/{path}, following a 202 with polling, and reads
// every result page.
func search[T any](ctx context.Context, c *Client, path string, body map[string]any) ([]T, error) {
	var out []T
	for page := 0; ; page++ {
		body["page"] = page
		body["pageSize"] = searchPageSize

		status, env, err := c.do(ctx, http.MethodPost, "/search/"+path, body)
		if err != nil {
			return nil, err
		}
		if status == http.StatusAccepted {
			env, err = c.pollSearch(ctx, path, env)
			if err != nil {
				return nil, err
			}
		}

		items, err := decodeData[T](env)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)

		if env.Metadata.Pagination.TotalPages <= page+1 {
			return out, nil
		}
	}
}

func (c *Client) pollSearch(ctx context.Context, path string, accepted *envelope) (*envelope, error) {
	var ref searchAccepted
	if err := json.Unmarshal(accepted.Result, &ref); err != nil || ref.SearchResultsDbID == "" {
		return nil, fmt.Errorf("brapi search %s: missing searchResultsDbId", path)
	}

	ticker := time.NewTicker(searchPollInterval)
	defer ticker.Stop()
	for i := 0; i < searchMaxPolls; i++ {
		status, env, err := c.do(ctx, http.MethodGet, "/search/"+path+"/"+url.PathEscape(ref.SearchResultsDbID), nil)
		if err != nil {
			return nil, err
		}
		if status != http.StatusAccepted {
			return env, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
	return nil, fmt.Errorf("brapi search %s: results not ready after %d polls", path, searchMaxPolls)
}

func decodeData[T any](env *envelope) ([]T, error) {
	if env == nil || len(env.Result) == 0 {
		return nil, nil
	}
	var result dataResult
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, nil
	}
	var items []T
	if err := json.Unmarshal(result.Data, &items); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return items, nil
}

type resource[T any] struct {
	client *Client
	desc   descriptor[T]
}

func newResource[T any](c *Client, desc descriptor[T]) *resource[T] {
	return &resource[T]{client: c, desc: desc}
}

func (r *resource[T]) searchBody(programDbID string) map[string]any {
	body := map[string]any{}
	if programDbID != "" && r.desc.program != nil {
		body["programDbIds"] = []string{programDbID}
	}
	return body
}

func (r *resource[T]) FetchByExternalReference(ctx context.Context, programDbID string, referenceIDs []string) ([]T, error) {
	if len(referenceIDs) == 0 {
		return nil, nil
	}
	body := r.searchBody(programDbID)
	body["externalReferenceIds"] = referenceIDs
	body["externalReferenceSources"] = []string{ReferenceSource(r.client.referenceSource, r.desc.entityLabel)}
	return search[T](ctx, r.client, r.desc.path, body)
}

func (r *resource[T]) FetchByDbID(ctx context.Context, programDbID string, dbIDs []string) ([]T, error) {
	if len(dbIDs) == 0 {
		return nil, nil
	}
	body := r.searchBody(programDbID)
	body[r.desc.idField] = dbIDs
	return search[T](ctx, r.client, r.desc.path, body)
}

func (r *resource[T]) FetchByName(ctx context.Context, programDbID string, names []string) ([]T, error) {
	if len(names) == 0 || r.desc.nameField == "" {
		return nil, nil
	}
	body := r.searchBody(programDbID)
	body[r.desc.nameField] = names
	return search[T](ctx, r.client, r.desc.path, body)
}

func (r *resource[T]) BatchCreate(ctx context.Context, items []T) ([]T, error) {
	if len(items) == 0 {
		return nil, nil
	}
	_, env, err := r.client.do(ctx, http.MethodPost, "/"+r.desc.path, items)
	if err != nil {
		return nil, err
	}
	created, err := decodeData[T](env)
	if err != nil {
		return nil, err
	}
	if len(created) != len(items) {
		return created, fmt.Errorf("brapi create %s: sent %d, got %d back", r.desc.path, len(items), len(created))
	}
	return created, nil
}

func (r *resource[T]) BatchUpdate(ctx context.Context, items []T) ([]T, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if r.desc.bulkUpdate {
		byID := make(map[string]T, len(items))
		for i := range items {
			byID[*r.desc.id(&items[i])] = items[i]
		}
		_, env, err := r.client.do(ctx, http.MethodPut, "/"+r.desc.path, byID)
		if err != nil {
			return nil, err
		}
		return decodeData[T](env)
	}

	out := make([]T, 0, len(items))
	for i := range items {
		id := *r.desc.id(&items[i])
		_, env, err := r.client.do(ctx, http.MethodPut, "/"+r.desc.path+"/"+url.PathEscape(id), items[i])
		if err != nil {
			return nil, err
		}
		var updated T
		if env != nil && len(env.Result) > 0 {
			if err := json.Unmarshal(env.Result, &updated); err != nil {
				return nil, fmt.Errorf("decode result: %w", err)
			}
		} else {
			updated = items[i]
		}
		out = append(out, updated)
	}
	return out, nil
}

// BatchDelete issues one DELETE per item and reports every failure.
func (r *resource[T]) BatchDelete(ctx context.Context, items []T) error {
	var errs []error
	for i := range items {
		id := *r.desc.id(&items[i])
		if id == "" {
			continue
		}
		if _, _, err := r.client.do(ctx, http.MethodDelete, "/"+r.desc.path+"/"+url.PathEscape(id), nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type httpUnits struct {
	*resource[domain.ObservationUnit]
}

func (u httpUnits) FetchByStudy(ctx context.Context, programDbID string, studyDbIDs []string) ([]domain.ObservationUnit, error) {
	if len(studyDbIDs) == 0 {
		return nil, nil
	}
	body := u.searchBody(programDbID)
	body["studyDbIds"] = studyDbIDs
	return search[domain.ObservationUnit](ctx, u.client, u.desc.path, body)
}

type httpObservations struct{ *resource[domain.Observation] }

func (o httpObservations) FetchByUnitsAndVariables(ctx context.Context, _ string, unitDbIDs, variableDbIDs []string) ([]domain.Observation, error) {
	if len(unitDbIDs) == 0 || len(variableDbIDs) == 0 {
		return nil, nil
	}
	body := map[string]any{
		"observationUnitDbIds":     unitDbIDs,
		"observationVariableDbIds": variableDbIDs,
	}
	return search[domain.Observation](ctx, o.client, o.desc.path, body)
}

type httpPrograms struct{ c *Client }

func (p httpPrograms) GetProgram(ctx context.Context, programDbID string) (domain.Program, error) {
	_, env, err := p.c.do(ctx, http.MethodGet, "/programs/"+url.PathEscape(programDbID), nil)
	if err != nil {
		return domain.Program{}, err
	}
	var program domain.Program
	if err := json.Unmarshal(env.Result, &program); err != nil {
		return domain.Program{}, fmt.Errorf("decode program: %w", err)
	}
	return program, nil
}

type httpOntology struct{ c *Client }

func (o httpOntology) FetchTraitsByName(ctx context.Context, programDbID string, names []string) ([]domain.Trait, error) {
	if len(names) == 0 {
		return nil, nil
	}
	body := map[string]any{
		"programDbIds":             []string{programDbID},
		"observationVariableNames": names,
	}
	return search[domain.Trait](ctx, o.c, "variables", body)
}
