// Package github reads and writes repository content through the GitHub
// REST API. Multi-file writes go through the Git data endpoints so a change
// set lands as one commit or not at all.
package github

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"prism-board/domain"
)

const (
	moduleName    = "prism-board/github"
	moduleVersion = "v0.1.0"

	// DefaultBaseURL is the public GitHub API endpoint.
	DefaultBaseURL = "https://api.github.com"
	// DefaultAPIVersion is sent in X-GitHub-Api-Version.
	DefaultAPIVersion = "2022-11-28"
)

// Config describes the repository and branch the client operates on.
type Config struct {
	BaseURL    string
	Owner      string
	Repo       string
	Branch     string
	Token      string
	APIVersion string

	// Retry overrides the default retry policy when non-nil.
	Retry *policy.RetryOptions
	// Transport replaces the default HTTP client, mainly for tests.
	Transport policy.Transporter
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Client talks to a single repository branch.
type Client struct {
	pl      runtime.Pipeline
	repoURL string
	branch  string
	tracer  trace.Tracer
}

// New builds a Client on an azcore pipeline with auth, API version and
// retry policies.
func New(cfg Config) (*Client, error) {
	if cfg.Owner == "" || cfg.Repo == "" || cfg.Branch == "" {
		return nil, errors.New("github: owner, repo and branch are required")
	}
	if cfg.Token == "" {
		return nil, errors.New("github: token is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("github: base url: %w", err)
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	retry := policy.RetryOptions{
		MaxRetries:    3,
		TryTimeout:    30 * time.Second,
		RetryDelay:    time.Second,
		MaxRetryDelay: 15 * time.Second,
		StatusCodes:   []int{408, 429, 500, 502, 503, 504},
	}
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	pl := runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{
		PerCall: []policy.Policy{headerPolicy{token: cfg.Token, apiVersion: apiVersion}},
	}, &policy.ClientOptions{
		Retry:     retry,
		Transport: cfg.Transport,
		Telemetry: policy.TelemetryOptions{Disabled: true},
	})
	return &Client{
		pl:      pl,
		repoURL: strings.TrimRight(base, "/") + "/repos/" + url.PathEscape(cfg.Owner) + "/" + url.PathEscape(cfg.Repo),
		branch:  cfg.Branch,
		tracer:  tp.Tracer(moduleName),
	}, nil
}

// Branch returns the branch whose head is used as the version token.
func (c *Client) Branch() string { return c.branch }

type headerPolicy struct {
	token      string
	apiVersion string
}

func (p headerPolicy) Do(req *policy.Request) (*http.Response, error) {
	h := req.Raw().Header
	h.Set("Authorization", "Bearer "+p.token)
	h.Set("Accept", "application/vnd.github+json")
	h.Set("X-GitHub-Api-Version", p.apiVersion)
	return req.Next()
}

// escapePath escapes each segment of a slash separated repository path.
func escapePath(p string) string {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// call sends one request and returns the status and body. Statuses outside
// expect become an UpstreamError carrying the status and GitHub's message.
func (c *Client) call(ctx context.Context, op, method, endpoint string, in any, expect ...int) (int, []byte, error) {
	ctx, span := c.tracer.Start(ctx, "github."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method))

	fail := func(status int, err error) (int, []byte, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return status, nil, err
	}

	req, err := runtime.NewRequest(ctx, method, endpoint)
	if err != nil {
		return fail(0, fmt.Errorf("github %s: %w", op, err))
	}
	if in != nil {
		data, err := sonic.Marshal(in)
		if err != nil {
			return fail(0, fmt.Errorf("github %s: encode: %w", op, err))
		}
		if err := req.SetBody(streaming.NopCloser(bytes.NewReader(data)), "application/json"); err != nil {
			return fail(0, fmt.Errorf("github %s: %w", op, err))
		}
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return fail(0, &domain.UpstreamError{Op: op, Err: err})
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := runtime.Payload(resp)
	if err != nil {
		return fail(resp.StatusCode, &domain.UpstreamError{Op: op, Status: resp.StatusCode, Err: err})
	}
	if !runtime.HasStatusCode(resp, expect...) {
		return fail(resp.StatusCode, &domain.UpstreamError{Op: op, Status: resp.StatusCode, Err: errorMessage(body)})
	}
	return resp.StatusCode, body, nil
}

func errorMessage(body []byte) error {
	var e struct {
		Message string `json:"message"`
	}
	if err := sonic.Unmarshal(body, &e); err != nil || e.Message == "" {
		return nil
	}
	return errors.New(e.Message)
}

func decode(op string, data []byte, v any) error {
	if err := sonic.Unmarshal(data, v); err != nil {
		return &domain.UpstreamError{Op: op, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}

func malformed(op, format string, args ...any) error {
	return &domain.UpstreamError{Op: op, Err: fmt.Errorf("malformed response: "+format, args...)}
}
