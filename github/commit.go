package github

import (
	"context"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"prism-board/domain"
)

// FileUpsert replaces or creates the file at Path.
type FileUpsert struct {
	Path    string
	Content string
}

const blobMode = "100644"

type upsertEntry struct {
	Path    string `json:"path"`
	Mode    string `json:"mode"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// deleteEntry removes Path from the base tree. GitHub expects an explicit
// null sha for deletions.
type deleteEntry struct {
	Path string  `json:"path"`
	Mode string  `json:"mode"`
	Type string  `json:"type"`
	SHA  *string `json:"sha"`
}

type createTreeRequest struct {
	BaseTree string `json:"base_tree"`
	Tree     []any  `json:"tree"`
}

type createCommitRequest struct {
	Message string   `json:"message"`
	Tree    string   `json:"tree"`
	Parents []string `json:"parents"`
}

type updateRefRequest struct {
	SHA   string `json:"sha"`
	Force bool   `json:"force"`
}

type shaResponse struct {
	SHA string `json:"sha"`
}

type commitResponse struct {
	SHA  string `json:"sha"`
	Tree struct {
		SHA string `json:"sha"`
	} `json:"tree"`
}

// overlay builds the sparse tree entries layered on the base tree. Paths not
// listed keep their content from the base.
func overlay(upserts []FileUpsert, deletions []string) []any {
	entries := make([]any, 0, len(upserts)+len(deletions))
	for _, u := range upserts {
		entries = append(entries, upsertEntry{Path: u.Path, Mode: blobMode, Type: "blob", Content: u.Content})
	}
	for _, p := range deletions {
		entries = append(entries, deleteEntry{Path: p, Mode: blobMode, Type: "blob"})
	}
	return entries
}

// CommitAtomic writes upserts and deletions as a single commit on top of
// expectedParent and moves the branch to it. The branch is either advanced
// to the returned commit or left untouched. domain.ErrConcurrencyConflict is
// returned when the branch no longer points at expectedParent.
func (c *Client) CommitAtomic(ctx context.Context, upserts []FileUpsert, deletions []string, message, expectedParent string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "github.commit_atomic", trace.WithAttributes(
		attribute.String("git.parent", expectedParent),
		attribute.Int("git.upserts", len(upserts)),
		attribute.Int("git.deletions", len(deletions)),
	))
	defer span.End()

	baseTree, err := c.commitTree(ctx, expectedParent)
	if err != nil {
		return "", err
	}

	const treeOp = "create_tree"
	_, body, err := c.call(ctx, treeOp, http.MethodPost, c.repoURL+"/git/trees",
		createTreeRequest{BaseTree: baseTree, Tree: overlay(upserts, deletions)}, http.StatusCreated)
	if err != nil {
		return "", err
	}
	var tree shaResponse
	if err := decode(treeOp, body, &tree); err != nil {
		return "", err
	}
	if tree.SHA == "" {
		return "", malformed(treeOp, "tree without sha")
	}

	const commitOp = "create_commit"
	_, body, err = c.call(ctx, commitOp, http.MethodPost, c.repoURL+"/git/commits",
		createCommitRequest{Message: message, Tree: tree.SHA, Parents: []string{expectedParent}}, http.StatusCreated)
	if err != nil {
		return "", err
	}
	var commit shaResponse
	if err := decode(commitOp, body, &commit); err != nil {
		return "", err
	}
	if commit.SHA == "" {
		return "", malformed(commitOp, "commit without sha")
	}

	if err := c.compareAndSwap(ctx, expectedParent, commit.SHA); err != nil {
		span.SetAttributes(attribute.Bool("git.conflict", errors.Is(err, domain.ErrConcurrencyConflict)))
		return "", err
	}
	span.SetAttributes(attribute.String("git.commit", commit.SHA))
	return commit.SHA, nil
}

func (c *Client) commitTree(ctx context.Context, sha string) (string, error) {
	const op = "read_commit"
	_, body, err := c.call(ctx, op, http.MethodGet, c.repoURL+"/git/commits/"+escapePath(sha), nil, http.StatusOK)
	if err != nil {
		return "", err
	}
	var commit commitResponse
	if err := decode(op, body, &commit); err != nil {
		return "", err
	}
	if commit.Tree.SHA == "" {
		return "", malformed(op, "commit %s has no tree", sha)
	}
	return commit.Tree.SHA, nil
}

// compareAndSwap moves the branch from expected to next. A moved branch or a
// non fast-forward rejection both report a conflict.
func (c *Client) compareAndSwap(ctx context.Context, expected, next string) error {
	head, err := c.ReadHead(ctx)
	if err != nil {
		return err
	}
	if head != expected {
		return domain.ErrConcurrencyConflict
	}
	status, _, err := c.call(ctx, "update_ref", http.MethodPatch, c.repoURL+"/git/refs/heads/"+escapePath(c.branch),
		updateRefRequest{SHA: next, Force: false}, http.StatusOK, http.StatusUnprocessableEntity)
	if err != nil {
		return err
	}
	if status == http.StatusUnprocessableEntity {
		return domain.ErrConcurrencyConflict
	}
	return nil
}

type dispatchRequest struct {
	EventType     string         `json:"event_type"`
	ClientPayload map[string]any `json:"client_payload,omitempty"`
}

// Dispatch fires a repository_dispatch event.
func (c *Client) Dispatch(ctx context.Context, eventType string, payload map[string]any) error {
	_, _, err := c.call(ctx, "dispatch", http.MethodPost, c.repoURL+"/dispatches",
		dispatchRequest{EventType: eventType, ClientPayload: payload}, http.StatusNoContent)
	return err
}
