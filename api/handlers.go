package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

const kindUnauthorized domain.ErrorKind = "unauthorized"

// Register wires up all API routes on the provided Echo instance. idem may
// be nil, which disables Idempotency-Key handling.
func Register(e *echo.Echo, boards Boards, auth Authenticator, idem Idempotency, logger *log.Logger) {
	h := &handlers{boards: boards, auth: auth, idem: idem, log: logger}
	e.GET("/api/boards", h.listBoards)
	e.GET("/api/boards/:id", h.getBoard)
	e.POST("/api/boards", h.createBoard)
	e.PUT("/api/boards/:id", h.saveBoard)
	e.GET("/healthz", healthz)
}

type handlers struct {
	boards Boards
	auth   Authenticator
	idem   Idempotency
	log    *log.Logger
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// begin starts request metrics and authenticates the caller. On failure the
// 401 response has already been written and ok is false.
func (h *handlers) begin(c echo.Context) (m *boardRequestMetrics, userID string, ok bool, err error) {
	req := c.Request()
	m, spanCtx := newBoardRequestMetrics(req.Context(), h.log, req.Method, c.Path())
	c.SetRequest(req.WithContext(spanCtx))

	authStart := time.Now()
	userID, authErr := h.auth.UserIDFromAuthHeader(req.Header.Get(echo.HeaderAuthorization))
	m.ObserveAuth(time.Since(authStart))
	if authErr != nil {
		m.SetErrorStage("auth")
		m.SetKind(kindUnauthorized)
		return m, "", false, c.JSON(http.StatusUnauthorized, domain.Result{Kind: kindUnauthorized, Message: authErr.Error()})
	}
	return m, userID, true, nil
}

func (h *handlers) listBoards(c echo.Context) (err error) {
	m, _, ok, err := h.begin(c)
	defer func() { m.Log(c.Response().Status, err) }()
	if !ok {
		return err
	}

	start := time.Now()
	list, listErr := h.boards.ListBoards(c.Request().Context())
	m.ObserveStore(time.Since(start))
	if listErr != nil {
		return h.fail(c, m, "store", listErr)
	}
	m.SetItemsReturned(len(list.Boards))
	return h.respond(c, m, http.StatusOK, list)
}

func (h *handlers) getBoard(c echo.Context) (err error) {
	m, _, ok, err := h.begin(c)
	defer func() { m.Log(c.Response().Status, err) }()
	if !ok {
		return err
	}
	id := c.Param("id")
	m.SetBoardID(id)

	start := time.Now()
	snap, loadErr := h.boards.LoadBoard(c.Request().Context(), id)
	m.ObserveStore(time.Since(start))
	if loadErr != nil {
		return h.fail(c, m, "store", loadErr)
	}
	m.SetItemsReturned(snap.Board.CardCount())
	return h.respond(c, m, http.StatusOK, snap)
}

func (h *handlers) createBoard(c echo.Context) (err error) {
	m, userID, ok, err := h.begin(c)
	defer func() { m.Log(c.Response().Status, err) }()
	if !ok {
		return err
	}

	var req domain.CreateBoardRequest
	if decErr := decodeBody(c, &req); decErr != nil {
		return h.fail(c, m, "decode", decErr)
	}
	req.Author = userID
	m.SetBoardID(req.ID)

	res, runErr := h.idempotent(c, m, userID+":create", func(ctx context.Context) domain.Result {
		return h.boards.CreateBoard(ctx, req)
	})
	if runErr != nil {
		return h.fail(c, m, "idempotency", runErr)
	}
	return h.result(c, m, http.StatusCreated, res)
}

func (h *handlers) saveBoard(c echo.Context) (err error) {
	m, userID, ok, err := h.begin(c)
	defer func() { m.Log(c.Response().Status, err) }()
	if !ok {
		return err
	}
	id := c.Param("id")
	m.SetBoardID(id)

	var req domain.SaveBoardRequest
	if decErr := decodeBody(c, &req); decErr != nil {
		return h.fail(c, m, "decode", decErr)
	}
	if req.BoardID != "" && req.BoardID != id {
		return h.fail(c, m, "decode", &domain.ValidationError{Field: "boardId", Reason: "does not match the request path"})
	}
	req.BoardID = id
	req.Author = userID

	res, runErr := h.idempotent(c, m, userID+":save:"+id, func(ctx context.Context) domain.Result {
		return h.boards.SaveBoard(ctx, req)
	})
	if runErr != nil {
		return h.fail(c, m, "idempotency", runErr)
	}
	return h.result(c, m, http.StatusOK, res)
}

// idempotent runs op once per Idempotency-Key within scope. Without a key or
// a configured store it just runs op. Store errors other than an in-flight
// claim degrade to running op unguarded.
func (h *handlers) idempotent(c echo.Context, m *boardRequestMetrics, scope string, op func(context.Context) domain.Result) (domain.Result, error) {
	ctx := c.Request().Context()
	key := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))

	start := time.Now()
	defer func() { m.ObserveStore(time.Since(start)) }()

	if h.idem == nil || key == "" {
		return op(ctx), nil
	}
	prior, replay, err := h.idem.Begin(ctx, scope, key)
	switch {
	case errors.Is(err, ErrRequestInFlight):
		return domain.Result{}, err
	case err != nil:
		h.logger().WithError(err).Warn("idempotency.unavailable")
		return op(ctx), nil
	case replay:
		m.SetReplayed(true)
		return prior, nil
	}
	res := op(ctx)
	if err := h.idem.Finish(context.WithoutCancel(ctx), scope, key, res); err != nil {
		h.logger().WithError(err).Warn("idempotency.finish_failed")
	}
	return res, nil
}

func (h *handlers) logger() *log.Logger {
	if h.log == nil {
		return log.StandardLogger()
	}
	return h.log
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, MaxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Field: "body", Reason: "invalid JSON document"}
	}
	return nil
}

// result writes a board operation result, using okStatus when it committed.
func (h *handlers) result(c echo.Context, m *boardRequestMetrics, okStatus int, res domain.Result) error {
	if !res.OK {
		m.SetKind(res.Kind)
		m.SetErrorStage("store")
		return c.JSON(statusFor(res.Kind), res)
	}
	return h.respond(c, m, okStatus, res)
}

// fail writes err as a failed result. Server-side causes are kept for the
// request log; the response only carries the generic message.
func (h *handlers) fail(c echo.Context, m *boardRequestMetrics, stage string, err error) error {
	res := domain.Failure(err)
	if errors.Is(err, ErrRequestInFlight) {
		res = domain.Result{Kind: domain.KindConflict, Message: err.Error()}
	}
	m.SetKind(res.Kind)
	m.SetErrorStage(stage)
	status := statusFor(res.Kind)
	if status >= http.StatusInternalServerError {
		m.SetCause(err)
	}
	return c.JSON(status, res)
}

func (h *handlers) respond(c echo.Context, m *boardRequestMetrics, status int, v any) error {
	start := time.Now()
	err := c.JSON(status, v)
	m.ObserveEncode(time.Since(start))
	if err != nil {
		m.SetErrorStage("encode_response")
	}
	return err
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindBoardNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindAlreadyExists:
		return http.StatusConflict
	case domain.KindUpstream:
		return http.StatusBadGateway
	case kindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
