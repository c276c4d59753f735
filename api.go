package codesphere

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
)

// SessionInfo is what the relay's session API reports. The session id is
// opaque to this package beyond being non-empty.
type SessionInfo struct {
	SessionID    string
	Code         string
	Language     Language
	CreatedAt    string
	Participants []Participant
}

// APIClient talks to the relay's REST endpoints for creating and looking up
// sessions before the websocket leg is dialed.
type APIClient struct {
	baseURL string
}

func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{baseURL: baseURL}
}

// CreateSession asks the relay for a fresh session.
func (a *APIClient) CreateSession(ctx context.Context, language Language) (*SessionInfo, error) {
	if language == "" {
		language = DefaultLanguage
	}
	body, err := sonic.Marshal(map[string]any{"language": string(language)})
	if err != nil {
		return nil, fmt.Errorf("marshaling create request: %w", err)
	}
	return a.request(ctx, fasthttp.MethodPost, a.baseURL+"/api/sessions", body)
}

// GetSession looks a session up by key; the relay creates missing sessions
// on lookup, so this never 404s on a well-formed key.
func (a *APIClient) GetSession(ctx context.Context, sessionKey string) (*SessionInfo, error) {
	return a.request(ctx, fasthttp.MethodGet, a.baseURL+"/api/sessions/"+sessionKey, nil)
}

func (a *APIClient) request(ctx context.Context, method, uri string, body []byte) (*SessionInfo, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	errC := make(chan error)
	go func() {
		defer close(errC)
		errC <- fasthttp.Do(req, resp)
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errC:
		if err != nil {
			return nil, fmt.Errorf("performing HTTP request: %w", err)
		}
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), string(resp.Body()))
	}

	var raw map[string]any
	if err := sonic.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, fmt.Errorf("decoding session response: %w", err)
	}
	info := new(SessionInfo)
	if v, ok := raw["session_id"].(string); ok {
		info.SessionID = v
	} else {
		return nil, fmt.Errorf("session response missing session_id")
	}
	if v, ok := raw["code"].(string); ok {
		info.Code = v
	}
	if v, ok := raw["language"].(string); ok {
		info.Language = Language(v)
	}
	if v, ok := raw["created_at"].(string); ok {
		info.CreatedAt = v
	}
	if v, ok := raw["participants"]; ok {
		ps, err := participantsFromAny(v)
		if err != nil {
			return nil, fmt.Errorf("decoding session participants: %w", err)
		}
		info.Participants = ps
	}
	return info, nil
}
