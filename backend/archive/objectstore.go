package archive

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/kestrelhq/memmesh/config"
	"github.com/kestrelhq/memmesh/types"
)

// errObjectNotFound marks a path absent from the object store.
var errObjectNotFound = errors.New("object not found")

// objectStore is the narrow surface the archive needs from its
// version-controlled store: addressable objects with commit messages.
type objectStore interface {
	// get returns an object's content and its current revision handle.
	get(ctx context.Context, path string) (content []byte, sha string, err error)

	// put commits an object. sha must be the current revision handle
	// when replacing an existing object, empty when creating one.
	put(ctx context.Context, path string, content []byte, sha, message string) (newSHA string, err error)
}

// gitStore talks to a git-hosting contents API: one file per object,
// one commit per write, base64 payloads.
type gitStore struct {
	base   string
	repo   string
	token  string
	branch string
	client *http.Client
}

func newGitStore(cfg config.ArchiveConfig) *gitStore {
	branch := cfg.Branch
	if branch == "" {
		branch = "main"
	}
	return &gitStore{
		base:   strings.TrimRight(cfg.URL, "/"),
		repo:   cfg.Repo,
		token:  cfg.Token,
		branch: branch,
		client: &http.Client{},
	}
}

type contentsResponse struct {
	Content string `json:"content"`
	SHA     string `json:"sha"`
}

type contentsPutRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

type contentsPutResponse struct {
	Content *contentsResponse `json:"content"`
}

func (g *gitStore) contentsURL(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/repos/%s/contents/%s", g.base, g.repo, strings.Join(segments, "/"))
}

func (g *gitStore) get(ctx context.Context, path string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.contentsURL(path)+"?ref="+url.QueryEscape(g.branch), nil)
	if err != nil {
		return nil, "", err
	}
	g.auth(req)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, "", mapTransportErr("archive get", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", errObjectNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, "", statusErr("archive get", resp)
	}

	var out contentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, "", types.NewError(types.ErrCodeProtocol, "contents response malformed").WithCause(err)
	}
	// Hosts wrap base64 bodies at 76 columns.
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(out.Content, "\n", ""))
	if err != nil {
		return nil, "", types.NewError(types.ErrCodeProtocol, "contents payload not base64").WithCause(err)
	}
	return raw, out.SHA, nil
}

func (g *gitStore) put(ctx context.Context, path string, content []byte, sha, message string) (string, error) {
	body, err := json.Marshal(contentsPutRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		Branch:  g.branch,
		SHA:     sha,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, g.contentsURL(path), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	g.auth(req)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", mapTransportErr("archive put", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", statusErr("archive put", resp)
	}

	var out contentsPutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Content == nil {
		// Some hosts answer with an empty body; the next get re-reads
		// the revision handle.
		return "", nil
	}
	return out.Content.SHA, nil
}

func (g *gitStore) auth(req *http.Request) {
	if g.token != "" {
		req.Header.Set("Authorization", "token "+g.token)
	}
}

func mapTransportErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrCodeTimeout, op+" timed out").WithCause(err).WithRetryable(true)
	}
	return types.NewError(types.ErrCodeProtocol, op+" transport failure").WithCause(err).WithRetryable(true)
}

func statusErr(op string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return types.NewError(types.ErrCodeProtocol,
		fmt.Sprintf("%s returned status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(msg))))
}
