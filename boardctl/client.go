package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"

	"board-sync/board"
	"board-sync/domain"
	"board-sync/notify"
)

// client talks to the board-sync HTTP API.
type client struct {
	base  string
	token string
	http  *http.Client
}

// apiError is a non-2xx response.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, strings.TrimSpace(e.Body))
}

type boardView struct {
	Workspace domain.Workspace `json:"workspace"`
	Columns   []board.Column   `json:"columns"`
}

type moveFailure struct {
	Error      string           `json:"error"`
	Phase      domain.MovePhase `json:"phase"`
	RestoredTo domain.Stage     `json:"restoredTo"`
}

// moveFailedError is returned by move when the server rolled the task back.
type moveFailedError struct{ moveFailure }

func (e *moveFailedError) Error() string {
	return fmt.Sprintf("move failed during %s, task restored to %s", e.Phase, e.RestoredTo.Label())
}

type notifications struct {
	Items  []notify.HistoryItem `json:"items"`
	Unread int                  `json:"unread"`
}

func newClient(base, token string) *client {
	return &client{base: strings.TrimRight(base, "/"), token: token, http: http.DefaultClient}
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode == http.StatusConflict {
		var f moveFailure
		if err := sonic.Unmarshal(data, &f); err == nil && f.Phase != "" {
			return &moveFailedError{f}
		}
	}
	if res.StatusCode >= 300 {
		return &apiError{Status: res.StatusCode, Body: string(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return sonic.Unmarshal(data, out)
}

func (c *client) board(ctx context.Context, workspaceID string) (boardView, error) {
	var v boardView
	err := c.do(ctx, http.MethodGet, "/api/workspaces/"+url.PathEscape(workspaceID)+"/board", nil, &v)
	return v, err
}

func (c *client) move(ctx context.Context, workspaceID, taskID string, from, to domain.Stage) error {
	path := "/api/workspaces/" + url.PathEscape(workspaceID) + "/tasks/" + url.PathEscape(taskID) + "/move"
	return c.do(ctx, http.MethodPost, path, map[string]string{"from": string(from), "to": string(to)}, nil)
}

func (c *client) movements(ctx context.Context, workspaceID, taskID string) ([]domain.MovementRecord, error) {
	var recs []domain.MovementRecord
	path := "/api/workspaces/" + url.PathEscape(workspaceID) + "/tasks/" + url.PathEscape(taskID) + "/movements"
	err := c.do(ctx, http.MethodGet, path, nil, &recs)
	return recs, err
}

func (c *client) notifications(ctx context.Context) (notifications, error) {
	var n notifications
	err := c.do(ctx, http.MethodGet, "/api/notifications", nil, &n)
	return n, err
}

func (c *client) markRead(ctx context.Context, ids ...string) (int, error) {
	var out struct {
		Marked int `json:"marked"`
	}
	err := c.do(ctx, http.MethodPost, "/api/notifications/read", map[string][]string{"ids": ids}, &out)
	return out.Marked, err
}

// stream reads toast changes from /stream until ctx ends or the server
// closes the connection.
func (c *client) stream(ctx context.Context, fn func(notify.ToastChange)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/stream?token="+url.QueryEscape(c.token), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(res.Body)
		return &apiError{Status: res.StatusCode, Body: string(data)}
	}

	sc := bufio.NewScanner(res.Body)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var change notify.ToastChange
		if err := sonic.UnmarshalString(data, &change); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		fn(change)
	}
	if err := sc.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
