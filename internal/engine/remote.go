package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agent-broker/backend/internal/workspace"
)

// Remote drives a conversation on a backing agent service over HTTP. The
// event stream from a run arrives as newline-delimited JSON and is decoded
// into Events for the callback. The same service exposes the sandbox's
// command surface, so Remote also satisfies workspace.Runner.
type Remote struct {
	endpoint string
	apiKey   string
	httpc    *http.Client
	cb       Callback
	convID   string
}

type RemoteConfig struct {
	Endpoint      string
	Model         string
	APIKey        string
	MaxIterations int
}

// Probe reports whether a backing agent service answers its health check
// within the timeout. Checked once at startup to pick the engine strategy.
func Probe(endpoint string, timeout time.Duration) bool {
	if endpoint == "" {
		return false
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(endpoint + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// NewRemote opens a conversation on the backing service. A 401 maps to
// ErrAuth so callers can distinguish bad credentials from init failures.
func NewRemote(ctx context.Context, cfg RemoteConfig, cb Callback) (*Remote, error) {
	r := &Remote{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		httpc:    &http.Client{},
		cb:       cb,
	}

	body := map[string]any{
		"model":         cfg.Model,
		"maxIterations": cfg.MaxIterations,
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := r.doJSON(ctx, http.MethodPost, "/conversations", body, &created); err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, fmt.Errorf("agent service returned no conversation id")
	}
	r.convID = created.ID
	return r, nil
}

func (r *Remote) SendMessage(text string) error {
	body := map[string]string{"content": text}
	return r.doJSON(context.Background(), http.MethodPost, "/conversations/"+r.convID+"/messages", body, nil)
}

// Run starts a turn and decodes the resulting NDJSON event stream until
// the service ends it (turn complete or iteration cap). Cancelling the
// context aborts the request and unblocks the read.
func (r *Remote) Run(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/conversations/"+r.convID+"/run", nil)
	if err != nil {
		return err
	}
	r.setAuth(req)

	resp, err := r.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("run failed: %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			// A malformed frame is dropped rather than killing the run.
			continue
		}
		r.cb(ev)
	}
	return scanner.Err()
}

func (r *Remote) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.doJSON(ctx, http.MethodDelete, "/conversations/"+r.convID, nil, nil)
}

// ExecuteCommand runs a shell command in the sandbox backing this
// conversation. Implements workspace.Runner.
func (r *Remote) ExecuteCommand(ctx context.Context, cmd string) (workspace.CommandResult, error) {
	body := map[string]string{"command": cmd}
	var out struct {
		Stdout   string `json:"stdout"`
		ExitCode int    `json:"exitCode"`
	}
	if err := r.doJSON(ctx, http.MethodPost, "/execute", body, &out); err != nil {
		return workspace.CommandResult{}, err
	}
	return workspace.CommandResult{Stdout: out.Stdout, ExitCode: out.ExitCode}, nil
}

func (r *Remote) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.endpoint+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	r.setAuth(req)

	resp, err := r.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrAuth
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("agent service %s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(msg))
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (r *Remote) setAuth(req *http.Request) {
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
}
