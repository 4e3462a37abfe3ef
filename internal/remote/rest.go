package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kimhsiao/timeaudit/internal/errors"
	"github.com/kimhsiao/timeaudit/internal/models"
)

var restActivitiesPath = "/rest/v1/" + models.RemoteActivity{}.TableName()

// HTTPError is a non-2xx response from the REST endpoint.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// RESTStore talks to a PostgREST-style endpoint in front of the activities table.
type RESTStore struct {
	baseURL     string
	apiKey      string
	accessToken string
	httpClient  *http.Client
}

// NewRESTStore creates a client for baseURL. A zero timeout uses 10s.
func NewRESTStore(baseURL, apiKey, accessToken string, timeout time.Duration) (*RESTStore, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New(errors.ErrConfigInvalid, "remote url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, errors.Wrap(errors.ErrConfigInvalid, "invalid remote url", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTStore{
		baseURL:     baseURL,
		apiKey:      apiKey,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

func (s *RESTStore) Insert(ctx context.Context, activity models.NewActivity) (*models.RemoteActivity, error) {
	headers := map[string]string{"Prefer": "return=representation"}
	var rows []models.RemoteActivity
	if err := s.doJSON(ctx, http.MethodPost, restActivitiesPath, headers, activity, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New(errors.ErrRemoteUnavailable, "insert returned no representation")
	}
	return &rows[0], nil
}

func (s *RESTStore) Query(ctx context.Context, ownerID string, r models.DateRange) ([]models.RemoteActivity, error) {
	q := url.Values{}
	q.Set("select", "id,user_id,activity_text,logged_at,created_at")
	q.Set("user_id", "eq."+ownerID)
	q.Add("logged_at", "gte."+r.Start.UTC().Format(time.RFC3339Nano))
	q.Add("logged_at", "lt."+r.End.UTC().Format(time.RFC3339Nano))
	q.Set("order", "logged_at.desc")

	var rows []models.RemoteActivity
	if err := s.doJSON(ctx, http.MethodGet, restActivitiesPath+"?"+q.Encode(), nil, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Latest returns the owner's newest activity, or nil when there is none.
func (s *RESTStore) Latest(ctx context.Context, ownerID string) (*models.RemoteActivity, error) {
	q := url.Values{}
	q.Set("select", "id,user_id,activity_text,logged_at,created_at")
	q.Set("user_id", "eq."+ownerID)
	q.Set("order", "logged_at.desc")
	q.Set("limit", "1")

	var rows []models.RemoteActivity
	if err := s.doJSON(ctx, http.MethodGet, restActivitiesPath+"?"+q.Encode(), nil, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *RESTStore) doJSON(ctx context.Context, method, requestPath string, headers map[string]string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(errors.ErrInternal, "failed to encode request", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+requestPath, bodyReader)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to build request", err)
	}
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
	}
	if s.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.accessToken)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrRemoteUnavailable, "request failed", err)
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return errors.Wrap(errors.ErrRemoteUnavailable, "failed to read response", readErr)
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil || len(payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return errors.Wrap(errors.ErrRemoteUnavailable, "failed to decode response", err)
		}
		return nil
	}

	var errPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(payload, &errPayload)
	if errPayload.Message == "" {
		errPayload.Message = strings.TrimSpace(string(payload))
	}
	httpErr := &HTTPError{StatusCode: resp.StatusCode, Code: errPayload.Code, Message: errPayload.Message}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.Wrap(errors.ErrNotAuthenticated, "remote refused credentials", httpErr)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return errors.Wrap(errors.ErrRemoteUnavailable, "remote unavailable", httpErr)
	default:
		return errors.Wrap(errors.ErrRemoteRejected, "remote rejected request", httpErr)
	}
}
