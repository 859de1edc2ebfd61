package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrRequestFailed indicates the admin API returned a non-2xx response.
var ErrRequestFailed = errors.New("admin api request failed")

// sessionView mirrors session.Snapshot's JSON shape without importing the
// daemon's internal packages.
type sessionView struct {
	Key              string `json:"Key"`
	State            string `json:"State"`
	NextOutSeqNum    int64  `json:"NextOutSeqNum"`
	ExpectedInSeqNum int64  `json:"ExpectedInSeqNum"`
}

// clusterStatusView mirrors server.clusterStatus's JSON shape.
type clusterStatusView struct {
	Role            string `json:"role"`
	Term            int64  `json:"term"`
	LeaderSessionID int64  `json:"leader_session_id,omitempty"`
	Position        int64  `json:"position"`
	CommitPosition  int64  `json:"commit_position"`
}

// stepDownView mirrors server.stepDownResult's JSON shape.
type stepDownView struct {
	SteppedDown bool `json:"stepped_down"`
}

// errorView mirrors server.errorBody's JSON shape.
type errorView struct {
	Error string `json:"error"`
}

// adminClient is a thin JSON/HTTP client for the fixrelay admin API. The
// admin surface is served as plain JSON rather than a generated ConnectRPC
// service, so fixrelayctl talks to it over the same endpoints a browser or
// curl would.
type adminClient struct {
	baseURL string
	http    *http.Client
}

func (c *adminClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *adminClient) post(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *adminClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	if resp.StatusCode >= 300 {
		var e errorView
		if decErr := dec.Decode(&e); decErr == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s: %w", req.Method, req.URL.Path, e.Error, ErrRequestFailed)
		}
		return fmt.Errorf("%s %s: status %d: %w", req.Method, req.URL.Path, resp.StatusCode, ErrRequestFailed)
	}

	if out == nil {
		return nil
	}
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", req.URL.Path, err)
	}
	return nil
}

// ListSessions fetches every session the daemon currently manages.
func (c *adminClient) ListSessions(ctx context.Context) ([]sessionView, error) {
	var out []sessionView
	if err := c.get(ctx, "/v1/sessions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession fetches a single session by its composite key.
func (c *adminClient) GetSession(ctx context.Context, key string) (sessionView, error) {
	var out sessionView
	if err := c.get(ctx, "/v1/sessions/"+key, &out); err != nil {
		return sessionView{}, err
	}
	return out, nil
}

// ClusterStatus fetches the local node's replication role and term state.
func (c *adminClient) ClusterStatus(ctx context.Context) (clusterStatusView, error) {
	var out clusterStatusView
	if err := c.get(ctx, "/v1/cluster/status", &out); err != nil {
		return clusterStatusView{}, err
	}
	return out, nil
}

// StepDown asks the local node to relinquish leadership, if it holds it.
func (c *adminClient) StepDown(ctx context.Context) (stepDownView, error) {
	var out stepDownView
	if err := c.post(ctx, "/v1/cluster/step-down", &out); err != nil {
		return stepDownView{}, err
	}
	return out, nil
}
