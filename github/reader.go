package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
)

// File is the decoded content of a repository file.
type File struct {
	Path    string
	Content string
	// SHA is the blob id of the file.
	SHA string
}

// EntryKind distinguishes directory listing entries.
type EntryKind string

const (
	KindFile      EntryKind = "file"
	KindDir       EntryKind = "dir"
	KindSymlink   EntryKind = "symlink"
	KindSubmodule EntryKind = "submodule"
)

// Entry is one immediate child of a directory.
type Entry struct {
	Name string
	Path string
	Kind EntryKind
	SHA  string
}

type refResponse struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA  string `json:"sha"`
		Type string `json:"type"`
	} `json:"object"`
}

type contentResponse struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// ReadHead returns the commit the branch currently points at.
func (c *Client) ReadHead(ctx context.Context) (string, error) {
	const op = "read_head"
	_, body, err := c.call(ctx, op, http.MethodGet, c.repoURL+"/git/ref/heads/"+escapePath(c.branch), nil, http.StatusOK)
	if err != nil {
		return "", err
	}
	var ref refResponse
	if err := decode(op, body, &ref); err != nil {
		return "", err
	}
	if ref.Object.SHA == "" {
		return "", malformed(op, "ref %q has no object sha", ref.Ref)
	}
	return ref.Object.SHA, nil
}

// ReadFile reads a file at the branch head. A missing file yields nil
// without an error.
func (c *Client) ReadFile(ctx context.Context, path string) (*File, error) {
	return c.ReadFileAt(ctx, path, c.branch)
}

// ReadFileAt reads a file at ref, which may be a branch or a commit sha.
func (c *Client) ReadFileAt(ctx context.Context, path, ref string) (*File, error) {
	const op = "read_file"
	status, body, err := c.call(ctx, op, http.MethodGet, c.contentsURL(path, ref), nil, http.StatusOK, http.StatusNotFound)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if isArray(body) {
		return nil, malformed(op, "%s is a directory", path)
	}
	var res contentResponse
	if err := decode(op, body, &res); err != nil {
		return nil, err
	}
	if res.Type != string(KindFile) {
		return nil, malformed(op, "%s has type %q", path, res.Type)
	}
	if res.Encoding != "base64" {
		return nil, malformed(op, "%s has unsupported encoding %q", path, res.Encoding)
	}
	// GitHub wraps base64 content at 60 columns.
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(res.Content, "\n", ""))
	if err != nil {
		return nil, malformed(op, "%s: %v", path, err)
	}
	return &File{Path: res.Path, Content: string(raw), SHA: res.SHA}, nil
}

// ReadDirectory lists the immediate children of a directory at the branch
// head. A missing directory yields an empty listing.
func (c *Client) ReadDirectory(ctx context.Context, path string) ([]Entry, error) {
	return c.ReadDirectoryAt(ctx, path, c.branch)
}

// ReadDirectoryAt lists a directory at ref.
func (c *Client) ReadDirectoryAt(ctx context.Context, path, ref string) ([]Entry, error) {
	const op = "read_directory"
	status, body, err := c.call(ctx, op, http.MethodGet, c.contentsURL(path, ref), nil, http.StatusOK, http.StatusNotFound)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return []Entry{}, nil
	}
	if !isArray(body) {
		return nil, malformed(op, "%s is not a directory", path)
	}
	var res []contentResponse
	if err := decode(op, body, &res); err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(res))
	for _, r := range res {
		if r.Name == "" || r.Path == "" {
			return nil, malformed(op, "entry without name in %s", path)
		}
		entries = append(entries, Entry{Name: r.Name, Path: r.Path, Kind: EntryKind(r.Type), SHA: r.SHA})
	}
	return entries, nil
}

func (c *Client) contentsURL(path, ref string) string {
	return c.repoURL + "/contents/" + escapePath(path) + "?ref=" + url.QueryEscape(ref)
}

func isArray(body []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(body), []byte("["))
}
