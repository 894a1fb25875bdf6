package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/chatterstack/chatterhub/internal/types"
)

const defaultRequestTimeout = 10 * time.Second

// RESTStore talks to the persistence service over its HTTP API. Acting
// user identity travels in the X-Acting-User header so the service can
// enforce authorship on edit and delete.
type RESTStore struct {
	baseURL    string
	httpClient *http.Client
}

func NewRESTStore(baseURL string) *RESTStore {
	return &RESTStore{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (s *RESTStore) SetHTTPClient(client *http.Client) {
	if client != nil {
		s.httpClient = client
	}
}

type createMessageRequest struct {
	Content string `json:"content"`
}

type updateMessageRequest struct {
	Content string `json:"content"`
}

type roomMember struct {
	UserId string `json:"user_id"`
	Role   string `json:"role,omitempty"`
}

func (s *RESTStore) CreateMessage(ctx context.Context, roomId, userId, content string) (types.Message, error) {
	var msg types.Message
	path := fmt.Sprintf("/rooms/%s/messages", url.PathEscape(roomId))
	if err := s.do(ctx, http.MethodPost, path, userId, createMessageRequest{Content: content}, &msg); err != nil {
		return types.Message{}, fmt.Errorf("create message: %w", err)
	}

	return msg, nil
}

func (s *RESTStore) UpdateMessage(ctx context.Context, roomId, messageId, userId, content string) (types.Message, error) {
	var msg types.Message
	path := fmt.Sprintf("/rooms/%s/messages/%s", url.PathEscape(roomId), url.PathEscape(messageId))
	if err := s.do(ctx, http.MethodPatch, path, userId, updateMessageRequest{Content: content}, &msg); err != nil {
		return types.Message{}, fmt.Errorf("update message: %w", err)
	}

	return msg, nil
}

func (s *RESTStore) DeleteMessage(ctx context.Context, roomId, messageId, userId string) error {
	path := fmt.Sprintf("/rooms/%s/messages/%s", url.PathEscape(roomId), url.PathEscape(messageId))
	if err := s.do(ctx, http.MethodDelete, path, userId, nil, nil); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	return nil
}

func (s *RESTStore) GetRoomMembers(ctx context.Context, roomId string) ([]string, error) {
	var members []roomMember
	path := fmt.Sprintf("/rooms/%s/members", url.PathEscape(roomId))
	if err := s.do(ctx, http.MethodGet, path, "", nil, &members); err != nil {
		return nil, fmt.Errorf("get room members: %w", err)
	}

	userIds := make([]string, len(members))
	for i, m := range members {
		userIds[i] = m.UserId
	}

	return userIds, nil
}

func (s *RESTStore) do(ctx context.Context, method, path, actingUser string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actingUser != "" {
		req.Header.Set("X-Acting-User", actingUser)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
