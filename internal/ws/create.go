package ws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/agent-broker/backend/internal/engine"
	"github.com/agent-broker/backend/internal/protocol"
	"github.com/agent-broker/backend/internal/session"
	"github.com/agent-broker/backend/internal/workspace"
)

// initRequest is the POST body of /api/session/init. It carries the same
// fields as the socket handshake minus the token.
type initRequest struct {
	Task          string `json:"task"`
	RepoURL       string `json:"repoUrl,omitempty"`
	Branch        string `json:"branch,omitempty"`
	ProjectID     string `json:"projectId,omitempty"`
	ModelProvider string `json:"modelProvider,omitempty"`
	APIKey        string `json:"apiKey,omitempty"`
}

func (r initRequest) Handshake() protocol.Handshake {
	return protocol.Handshake{
		Task:          r.Task,
		RepoURL:       r.RepoURL,
		Branch:        r.Branch,
		ProjectID:     r.ProjectID,
		ModelProvider: r.ModelProvider,
		APIKey:        r.APIKey,
	}
}

func isAuthErr(err error) bool {
	return errors.Is(err, engine.ErrAuth)
}

// createSession provisions a fully wired session: the session entity with
// its event channel, an engine whose callback classifies events into the
// channel, and the workspace the engine operates on. The caller admits
// the result into the registry; on admission rejection the controller
// releases everything created here.
func (s *Server) createSession(ctx context.Context, ownerKey string, hs protocol.Handshake) (*session.Session, error) {
	sess := session.New(ownerKey, hs.Task, s.cfg.Session.ChannelCapacity)

	push := func(ev engine.Event) {
		msg, refresh := engine.Classify(ev)
		if !sess.Events.Push(session.Item{Msg: msg, RefreshTree: refresh}) {
			log.Printf("session %s: event channel full, dropping %s", sess.ID, ev.Kind)
		}
	}

	if !s.engineUp {
		dir := filepath.Join(s.cfg.Session.WorkspaceRoot, sess.ID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace dir: %w", err)
		}
		sess.Workspace = workspace.NewLocal(dir)
		sess.OwnsWorkspaceDir = true
		sess.Engine = engine.NewMock(push)
		return sess, nil
	}

	provider, apiKey, err := s.cfg.ResolveProvider(hs.ModelProvider, hs.APIKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errValidation, err)
	}

	eng, err := engine.NewRemote(ctx, engine.RemoteConfig{
		Endpoint:      s.cfg.Engine.Endpoint,
		Model:         provider.Model,
		APIKey:        apiKey,
		MaxIterations: s.cfg.Engine.MaxIterations,
	}, push)
	if err != nil {
		return nil, err
	}

	sess.Engine = eng
	sess.Workspace = workspace.NewRemote(eng, s.cfg.Engine.WorkspaceMount)

	if hs.RepoURL != "" {
		if err := cloneRepo(ctx, sess.Workspace, hs.RepoURL, hs.Branch); err != nil {
			// A failed clone leaves an empty workspace; the engine can
			// still work there, so the session proceeds.
			log.Printf("session %s: clone %s: %v", sess.ID, hs.RepoURL, err)
		}
	}

	return sess, nil
}

// cloneRepo clones a git repository into the workspace root. A GITHUB_TOKEN
// or GITLAB_TOKEN in the environment is injected into https URLs for the
// matching host so private repos clone without client-side credentials.
func cloneRepo(ctx context.Context, w *workspace.Workspace, repoURL, branch string) error {
	authed := injectToken(repoURL)

	cmd := fmt.Sprintf(`git clone "%s" "%s"`, strings.ReplaceAll(authed, `"`, ``), w.Root())
	if branch != "" {
		cmd = fmt.Sprintf(`git clone -b "%s" "%s" "%s"`,
			strings.ReplaceAll(branch, `"`, ``), strings.ReplaceAll(authed, `"`, ``), w.Root())
	}

	res, err := w.Execute(ctx, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("git clone exited %d", res.ExitCode)
	}
	return nil
}

func injectToken(repoURL string) string {
	parsed, err := url.Parse(repoURL)
	if err != nil || parsed.Scheme != "https" || parsed.User != nil {
		return repoURL
	}

	var token string
	switch {
	case strings.HasSuffix(parsed.Host, "github.com"):
		token = os.Getenv("GITHUB_TOKEN")
		if token != "" {
			parsed.User = url.UserPassword("x-access-token", token)
		}
	case strings.HasSuffix(parsed.Host, "gitlab.com"):
		token = os.Getenv("GITLAB_TOKEN")
		if token != "" {
			parsed.User = url.UserPassword("oauth2", token)
		}
	}
	if token == "" {
		return repoURL
	}
	return parsed.String()
}
