// Package githubtest provides an in-memory GitHub repository served over
// httptest for exercising the github client end to end.
package githubtest

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/bytedance/sonic"

	"prism-board/github"
)

const (
	Owner  = "acme"
	Repo   = "boards"
	Branch = "main"
	Token  = "test-token"
)

// Operation names accepted by FailNext, OnRequest and Calls.
const (
	OpGetRef       = "get_ref"
	OpGetCommit    = "get_commit"
	OpCreateTree   = "create_tree"
	OpCreateCommit = "create_commit"
	OpUpdateRef    = "update_ref"
	OpContents     = "contents"
	OpDispatch     = "dispatch"
)

type commit struct {
	tree    string
	parents []string
	message string
}

// Dispatch records one repository_dispatch call.
type Dispatch struct {
	EventType string
	Payload   map[string]any
}

// Server is a single-branch repository.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	seq        int
	blobs      map[string]string
	trees      map[string]map[string]string
	commits    map[string]commit
	head       string
	calls      map[string]int
	failures   map[string][]int
	hooks      map[string][]func()
	dispatches []Dispatch
	headers    http.Header
}

// New starts a server whose branch points at an empty root commit.
func New(t testing.TB) *Server {
	s := &Server{
		blobs:    make(map[string]string),
		trees:    make(map[string]map[string]string),
		commits:  make(map[string]commit),
		calls:    make(map[string]int),
		failures: make(map[string][]int),
		hooks:    make(map[string][]func()),
	}
	s.head = s.commitLocked(s.treeLocked(map[string]string{}), nil, "root")

	mux := http.NewServeMux()
	prefix := "/repos/" + Owner + "/" + Repo
	mux.HandleFunc("GET "+prefix+"/git/ref/heads/{branch...}", s.wrap(OpGetRef, s.getRef))
	mux.HandleFunc("GET "+prefix+"/git/commits/{sha}", s.wrap(OpGetCommit, s.getCommit))
	mux.HandleFunc("POST "+prefix+"/git/trees", s.wrap(OpCreateTree, s.createTree))
	mux.HandleFunc("POST "+prefix+"/git/commits", s.wrap(OpCreateCommit, s.createCommit))
	mux.HandleFunc("PATCH "+prefix+"/git/refs/heads/{branch...}", s.wrap(OpUpdateRef, s.updateRef))
	mux.HandleFunc("GET "+prefix+"/contents/{path...}", s.wrap(OpContents, s.contents))
	mux.HandleFunc("POST "+prefix+"/dispatches", s.wrap(OpDispatch, s.dispatch))
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Config returns a client configuration pointed at the server with retries
// disabled.
func (s *Server) Config() github.Config {
	return github.Config{
		BaseURL:   s.URL,
		Owner:     Owner,
		Repo:      Repo,
		Branch:    Branch,
		Token:     Token,
		Retry:     &policy.RetryOptions{MaxRetries: -1},
		Transport: s.Client(),
	}
}

// NewClient builds a github client for the server.
func (s *Server) NewClient(t testing.TB) *github.Client {
	t.Helper()
	c, err := github.New(s.Config())
	if err != nil {
		t.Fatalf("github client: %v", err)
	}
	return c
}

// FailNext makes the next call of op answer with status.
func (s *Server) FailNext(op string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], status)
}

// OnRequest runs fn once, before the next call of op is handled.
func (s *Server) OnRequest(op string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[op] = append(s.hooks[op], fn)
}

// Calls returns how many times op was requested.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Head returns the commit the branch points at.
func (s *Server) Head() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}

// Dispatches returns the recorded repository_dispatch calls.
func (s *Server) Dispatches() []Dispatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Dispatch(nil), s.dispatches...)
}

// LastHeaders returns the headers of the most recent request.
func (s *Server) LastHeaders() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers.Clone()
}

// File returns the content of path at the branch head.
func (s *Server) File(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileLocked(s.head, path)
}

// Paths lists every file at the branch head.
func (s *Server) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree := s.trees[s.commits[s.head].tree]
	paths := make([]string, 0, len(tree))
	for p := range tree {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Commit writes files directly onto the branch, as another writer would,
// and returns the new head. An empty content deletes the path.
func (s *Server) Commit(files map[string]string, message string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree := make(map[string]string)
	for p, b := range s.trees[s.commits[s.head].tree] {
		tree[p] = b
	}
	for p, content := range files {
		if content == "" {
			delete(tree, p)
			continue
		}
		tree[p] = s.blobLocked(content)
	}
	s.head = s.commitLocked(s.treeLocked(tree), []string{s.head}, message)
	return s.head
}

// Message returns the message of a commit.
func (s *Server) Message(sha string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits[sha].message
}

func hash(kind, data string) string {
	sum := sha1.Sum([]byte(kind + "\x00" + data))
	return hex.EncodeToString(sum[:])
}

func (s *Server) blobLocked(content string) string {
	sha := hash("blob", content)
	s.blobs[sha] = content
	return sha
}

func (s *Server) treeLocked(entries map[string]string) string {
	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "%s %s\n", entries[p], p)
	}
	sha := hash("tree", b.String())
	s.trees[sha] = entries
	return sha
}

func (s *Server) commitLocked(tree string, parents []string, message string) string {
	s.seq++
	sha := hash("commit", fmt.Sprintf("%s|%s|%s|%d", tree, strings.Join(parents, ","), message, s.seq))
	s.commits[sha] = commit{tree: tree, parents: parents, message: message}
	return sha
}

func (s *Server) resolveLocked(ref string) (commit, bool) {
	if ref == Branch || ref == "" {
		ref = s.head
	}
	c, ok := s.commits[ref]
	return c, ok
}

func (s *Server) fileLocked(ref, path string) (string, bool) {
	c, ok := s.resolveLocked(ref)
	if !ok {
		return "", false
	}
	sha, ok := s.trees[c.tree][path]
	if !ok {
		return "", false
	}
	return s.blobs[sha], true
}

func (s *Server) wrap(op string, h func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[op]++
		s.headers = r.Header.Clone()
		hooks := s.hooks[op]
		delete(s.hooks, op)
		var status int
		if q := s.failures[op]; len(q) > 0 {
			status, s.failures[op] = q[0], q[1:]
		}
		s.mu.Unlock()

		for _, fn := range hooks {
			fn()
		}
		if r.Header.Get("Authorization") != "Bearer "+Token {
			writeError(w, http.StatusUnauthorized, "Bad credentials")
			return
		}
		if status != 0 {
			writeError(w, status, "injected failure")
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func (s *Server) getRef(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("branch") != Branch {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	s.mu.Lock()
	head := s.head
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"ref":    "refs/heads/" + Branch,
		"object": map[string]string{"sha": head, "type": "commit"},
	})
}

func (s *Server) getCommit(w http.ResponseWriter, r *http.Request) {
	sha := r.PathValue("sha")
	s.mu.Lock()
	c, ok := s.commits[sha]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sha":  sha,
		"tree": map[string]string{"sha": c.tree},
	})
}

func (s *Server) createTree(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BaseTree string           `json:"base_tree"`
		Tree     []map[string]any `json:"tree"`
	}
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	base, ok := s.trees[req.BaseTree]
	if !ok {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Invalid tree info"})
		return
	}
	tree := make(map[string]string, len(base))
	for p, b := range base {
		tree[p] = b
	}
	for _, e := range req.Tree {
		path, _ := e["path"].(string)
		if path == "" || e["type"] != "blob" || e["mode"] != "100644" {
			writeError(w, http.StatusUnprocessableEntity, "tree.path, tree.type and tree.mode are required")
			return
		}
		if strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") || strings.Contains(path, "//") {
			writeError(w, http.StatusUnprocessableEntity, "tree.path contains a malformed path component")
			return
		}
		content, hasContent := e["content"].(string)
		sha, hasSHA := e["sha"]
		switch {
		case hasContent && hasSHA:
			writeError(w, http.StatusUnprocessableEntity, "only one of content or sha may be set")
			return
		case hasContent:
			tree[path] = s.blobLocked(content)
		case hasSHA && sha == nil:
			if _, ok := base[path]; !ok {
				writeError(w, http.StatusUnprocessableEntity, "GitRPC::BadObjectState")
				return
			}
			delete(tree, path)
		default:
			writeError(w, http.StatusUnprocessableEntity, "content or sha is required")
			return
		}
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sha": s.treeLocked(tree)})
}

func (s *Server) createCommit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string   `json:"message"`
		Tree    string   `json:"tree"`
		Parents []string `json:"parents"`
	}
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trees[req.Tree]; !ok {
		writeError(w, http.StatusUnprocessableEntity, "Tree SHA does not exist")
		return
	}
	for _, p := range req.Parents {
		if _, ok := s.commits[p]; !ok {
			writeError(w, http.StatusUnprocessableEntity, "Parent SHA does not exist")
			return
		}
	}
	sha := s.commitLocked(req.Tree, req.Parents, req.Message)
	writeJSON(w, http.StatusCreated, map[string]any{"sha": sha, "tree": map[string]string{"sha": req.Tree}})
}

func (s *Server) updateRef(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SHA   string `json:"sha"`
		Force bool   `json:"force"`
	}
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	if r.PathValue("branch") != Branch {
		writeError(w, http.StatusNotFound, "Reference does not exist")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.commits[req.SHA]; !ok {
		writeError(w, http.StatusUnprocessableEntity, "Object does not exist")
		return
	}
	if !req.Force && !s.descendsLocked(req.SHA, s.head) {
		writeError(w, http.StatusUnprocessableEntity, "Update is not a fast forward")
		return
	}
	s.head = req.SHA
	writeJSON(w, http.StatusOK, map[string]any{
		"ref":    "refs/heads/" + Branch,
		"object": map[string]string{"sha": s.head, "type": "commit"},
	})
}

func (s *Server) descendsLocked(sha, ancestor string) bool {
	if sha == ancestor {
		return true
	}
	for _, p := range s.commits[sha].parents {
		if s.descendsLocked(p, ancestor) {
			return true
		}
	}
	return false
}

type contentEntry struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Encoding string `json:"encoding,omitempty"`
	Content  string `json:"content,omitempty"`
}

func (s *Server) contents(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.PathValue("path"), "/")
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.resolveLocked(r.URL.Query().Get("ref"))
	if !ok {
		writeError(w, http.StatusNotFound, "No commit found for the ref")
		return
	}
	tree := s.trees[c.tree]
	if sha, ok := tree[path]; ok {
		writeJSON(w, http.StatusOK, contentEntry{
			Type:     "file",
			Name:     path[strings.LastIndex(path, "/")+1:],
			Path:     path,
			SHA:      sha,
			Encoding: "base64",
			Content:  wrap60(base64.StdEncoding.EncodeToString([]byte(s.blobs[sha]))),
		})
		return
	}

	prefix := path + "/"
	if path == "" {
		prefix = ""
	}
	children := make(map[string]contentEntry)
	for p, sha := range tree {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok {
			continue
		}
		name, _, isDir := strings.Cut(rest, "/")
		if isDir {
			children[name] = contentEntry{Type: "dir", Name: name, Path: prefix + name, SHA: hash("dir", prefix+name)}
			continue
		}
		children[name] = contentEntry{Type: "file", Name: name, Path: p, SHA: sha}
	}
	if len(children) == 0 {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	list := make([]contentEntry, 0, len(children))
	for _, e := range children {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	writeJSON(w, http.StatusOK, list)
}

func wrap60(s string) string {
	var b strings.Builder
	for len(s) > 60 {
		b.WriteString(s[:60])
		b.WriteByte('\n')
		s = s[60:]
	}
	b.WriteString(s)
	b.WriteByte('\n')
	return b.String()
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventType     string         `json:"event_type"`
		ClientPayload map[string]any `json:"client_payload"`
	}
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil || req.EventType == "" {
		writeError(w, http.StatusUnprocessableEntity, "event_type is required")
		return
	}
	s.mu.Lock()
	s.dispatches = append(s.dispatches, Dispatch{EventType: req.EventType, Payload: req.ClientPayload})
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}
