package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fathima-sithara/realtime-service/pkg/protocol"
)

// HTTPRoomAPI talks to the room directory / message store over REST.
// Transient failures (network errors, 5xx) are retried with exponential
// backoff; 4xx responses are final.
type HTTPRoomAPI struct {
	base     string
	token    string
	http     *http.Client
	retryMax time.Duration
}

// NewHTTPRoomAPI builds a client for the REST API rooted at base (e.g.
// "http://localhost:3001"). token is sent as a bearer credential.
func NewHTTPRoomAPI(base, token string, timeout, retryMax time.Duration) *HTTPRoomAPI {
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    16,
		IdleConnTimeout: 90 * time.Second,
	}
	return &HTTPRoomAPI{
		base:     strings.TrimRight(base, "/"),
		token:    token,
		http:     &http.Client{Transport: tr, Timeout: timeout},
		retryMax: retryMax,
	}
}

func (a *HTTPRoomAPI) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}

	operation := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, a.base+path, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if a.token != "" {
			req.Header.Set("Authorization", "Bearer "+a.token)
		}

		resp, err := a.http.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()

		switch {
		case resp.StatusCode == http.StatusConflict:
			return backoff.Permanent(ErrAlreadyMember)
		case resp.StatusCode >= 500:
			return fmt.Errorf("client: %s %s: status %d", method, path, resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("client: %s %s: status %d", method, path, resp.StatusCode))
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("client: decode %s %s: %w", method, path, err))
			}
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = a.retryMax
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

func (a *HTTPRoomAPI) JoinRoom(ctx context.Context, roomID string) error {
	return a.do(ctx, http.MethodPost, "/rooms/"+roomID+"/join", nil, nil)
}

func (a *HTTPRoomAPI) LeaveRoom(ctx context.Context, roomID string) error {
	return a.do(ctx, http.MethodPost, "/rooms/"+roomID+"/leave", nil, nil)
}

func (a *HTTPRoomAPI) RoomMessages(ctx context.Context, roomID string, limit int) ([]protocol.Message, error) {
	var msgs []protocol.Message
	path := fmt.Sprintf("/rooms/%s/messages?limit=%d", roomID, limit)
	if err := a.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (a *HTTPRoomAPI) RoomMembers(ctx context.Context, roomID string) ([]protocol.User, error) {
	var members []protocol.User
	if err := a.do(ctx, http.MethodGet, "/rooms/"+roomID+"/members", nil, &members); err != nil {
		return nil, err
	}
	return members, nil
}

func (a *HTTPRoomAPI) SendMessage(ctx context.Context, roomID, content string) (*protocol.Message, error) {
	var msg protocol.Message
	body := map[string]string{"content": content}
	if err := a.do(ctx, http.MethodPost, "/rooms/"+roomID+"/messages", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
