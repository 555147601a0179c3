package main

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

	"github.com/devghori1264/aerophoenix/vkd/internal/models"
)

// client talks to the vkd HTTP API.
type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is a non-2xx answer from the daemon.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("vkd answered %d", e.Status)
	}
	return fmt.Sprintf("vkd answered %d: %s", e.Status, e.Body)
}

func (c *client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &apiError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}

func (c *client) List(ctx context.Context) (map[string]models.View, error) {
	raw, err := c.do(ctx, http.MethodGet, "/instances", nil)
	if err != nil {
		return nil, err
	}
	var out map[string]models.View
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode instance list: %w", err)
	}
	return out, nil
}

func (c *client) Get(ctx context.Context, id string) (models.View, error) {
	raw, err := c.do(ctx, http.MethodGet, "/instances/"+url.PathEscape(id), nil)
	if err != nil {
		return models.View{}, err
	}
	var v models.View
	if err := json.Unmarshal(raw, &v); err != nil {
		return models.View{}, fmt.Errorf("decode instance: %w", err)
	}
	return v, nil
}

// Create returns the new instance id.
func (c *client) Create(ctx context.Context, req models.Request) (string, error) {
	raw, err := c.do(ctx, http.MethodPost, "/instances", req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func (c *client) Start(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/instances/"+url.PathEscape(id)+"/start", nil)
	return err
}

func (c *client) Stop(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/instances/"+url.PathEscape(id)+"/stop", nil)
	return err
}

func (c *client) Delete(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/instances/"+url.PathEscape(id), nil)
	return err
}
