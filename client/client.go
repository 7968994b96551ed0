// Package client talks to a geotig server over HTTP.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"geotig/internal/errors"
	"geotig/shared/types"
	"geotig/shared/utils"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: time.Second * 30,
		},
	}
}

// DiffQuery selects what Diff compares. From defaults to HEAD on the server.
type DiffQuery struct {
	From   string
	To     string
	Path   []string
	Target string
	Patch  bool
}

func (c *Client) Health() error {
	var out map[string]string
	return c.get("/health", nil, &out)
}

func (c *Client) Status() (*shared.StatusResponse, error) {
	var out shared.StatusResponse
	if err := c.get("/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stage promotes unstaged changes under prefix and returns how many moved.
func (c *Client) Stage(prefix ...string) (int, error) {
	var out shared.StageResponse
	if err := c.post("/api/stage", shared.StageRequest{Prefix: prefix}, http.StatusOK, &out); err != nil {
		return 0, err
	}
	return out.Staged, nil
}

func (c *Client) WriteTree(target string) (*shared.WriteTreeResponse, error) {
	var out shared.WriteTreeResponse
	if err := c.post("/api/write-tree", shared.WriteTreeRequest{Target: target}, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Commit(author, message string) (*shared.CommitResponse, error) {
	var out shared.CommitResponse
	req := shared.CommitRequest{Author: author, Message: message}
	if err := c.post("/api/commit", req, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Log(ref string, limit int) ([]shared.LogEntry, error) {
	q := url.Values{}
	if ref != "" {
		q.Set("ref", ref)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []shared.LogEntry
	if err := c.get("/api/log", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Diff(dq DiffQuery) (*shared.DiffResponse, error) {
	q := url.Values{}
	q.Set("to", dq.To)
	if dq.From != "" {
		q.Set("from", dq.From)
	}
	if len(dq.Path) > 0 {
		q.Set("path", utils.JoinPath(dq.Path))
	}
	if dq.Target != "" {
		q.Set("target", dq.Target)
	}
	if dq.Patch {
		q.Set("patch", "true")
	}
	var out shared.DiffResponse
	if err := c.get("/api/diff", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Tree(ref string, path []string, recursive bool) (*shared.TreeResponse, error) {
	q := url.Values{}
	if ref != "" {
		q.Set("ref", ref)
	}
	if len(path) > 0 {
		q.Set("path", utils.JoinPath(path))
	}
	if recursive {
		q.Set("recursive", "true")
	}
	var out shared.TreeResponse
	if err := c.get("/api/tree", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	resp, err := c.httpClient.Get(u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, http.StatusOK, out)
}

func (c *Client) post(path string, body any, want int, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, want, out)
}

// decodeResponse turns an error body back into an *errors.Error so callers
// can match on its type.
func decodeResponse(resp *http.Response, want int, out any) error {
	if resp.StatusCode != want {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		var e errors.Error
		if err := json.Unmarshal(body, &e); err == nil && e.Type != "" {
			return &e
		}
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
