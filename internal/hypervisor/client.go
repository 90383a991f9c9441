// Package hypervisor speaks the hypervisor's HTTP/1.1-over-Unix-domain-
// socket control API and launches the hypervisor process itself, jailed
// or direct.
package hypervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/opensandbox/sandchest/internal/sandchesterr"
)

// ApiError is returned for any hypervisor API response with status >=
// 300; it carries the status and response body for diagnostics.
type ApiError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("hypervisor API %s %s returned %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Client is a minimal HTTP client for one sandbox's hypervisor API
// socket.
type Client struct {
	socketPath string
	httpClient *http.Client
}

func NewClient(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			d := net.Dialer{}
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{Transport: transport, Timeout: 30 * time.Second},
	}
}

// WaitForReady polls the socket path's existence at 100ms intervals
// until it appears or the timeout elapses.
func (c *Client) WaitForReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(c.socketPath); err == nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return sandchesterr.Unavailablef("hypervisor: api socket %s not ready after %v", c.socketPath, timeout)
}

// Pause issues PATCH /vm {"state":"Paused"}.
func (c *Client) Pause() error {
	return c.patch("/vm", map[string]string{"state": "Paused"})
}

// Resume issues PATCH /vm {"state":"Resumed"}.
func (c *Client) Resume() error {
	return c.patch("/vm", map[string]string{"state": "Resumed"})
}

// TakeSnapshot issues PUT /snapshot/create with snapshot_type=Full.
// The VM must already be paused.
func (c *Client) TakeSnapshot(snapshotPath, memPath string) error {
	return c.put("/snapshot/create", map[string]string{
		"snapshot_type": "Full",
		"snapshot_path": snapshotPath,
		"mem_file_path": memPath,
	})
}

// RestoreSnapshot issues PUT /snapshot/load with
// enable_diff_snapshots=false and resume_vm=false.
func (c *Client) RestoreSnapshot(snapshotPath, memPath string) error {
	return c.put("/snapshot/load", map[string]interface{}{
		"snapshot_path":         snapshotPath,
		"mem_file_path":         memPath,
		"enable_diff_snapshots": false,
		"resume_vm":             false,
	})
}

func (c *Client) put(path string, body interface{}) error {
	return c.doRequest(http.MethodPut, path, body)
}

func (c *Client) patch(path string, body interface{}) error {
	return c.doRequest(http.MethodPatch, path, body)
}

func (c *Client) doRequest(method, path string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return sandchesterr.WrapInternal(err, "hypervisor: marshal request body")
	}

	req, err := http.NewRequest(method, "http://localhost"+path, bytes.NewReader(jsonBody))
	if err != nil {
		return sandchesterr.WrapInternal(err, "hypervisor: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return sandchesterr.WrapUnavailable(err, "hypervisor: %s %s", method, path)
	}
	defer resp.Body.Close()

	// Content-Length is parsed case-insensitively by net/http itself;
	// io.ReadAll below reads until EOF either way, matching the no-
	// keep-alive assumption of the contract.
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return &ApiError{Method: method, Path: path, Status: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}
