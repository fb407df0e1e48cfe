package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"prism-board/domain"
)

const (
	boardsSpanName    = "boards.request"
	boardsEventName   = "boards.request.metrics"
	boardsEventDomain = "prism.boards"
	observabilityName = "observability.event"
	tracerName        = "prism-board/api"
)

type boardRequestMetrics struct {
	logger         *log.Logger
	span           trace.Span
	route          string
	method         string
	start          time.Time
	authDuration   time.Duration
	storeDuration  time.Duration
	encodeDuration time.Duration
	boardID        string
	kind           domain.ErrorKind
	errorStage     string
	replayed       bool
	itemsReturned  int
	cause          error
}

func newBoardRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*boardRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, boardsSpanName, trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(
		attribute.String("http.route", route),
		attribute.String("http.method", method),
	)
	return &boardRequestMetrics{
		logger: logger,
		span:   span,
		route:  route,
		method: method,
		start:  time.Now(),
	}, spanCtx
}

func (m *boardRequestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *boardRequestMetrics) ObserveStore(d time.Duration) {
	if d > 0 {
		m.storeDuration = d
	}
}

func (m *boardRequestMetrics) ObserveEncode(d time.Duration) {
	if d > 0 {
		m.encodeDuration = d
	}
}

func (m *boardRequestMetrics) SetBoardID(id string) { m.boardID = id }

func (m *boardRequestMetrics) SetKind(kind domain.ErrorKind) { m.kind = kind }

// SetCause records a server-side failure that was answered with a response
// rather than returned to echo.
func (m *boardRequestMetrics) SetCause(err error) { m.cause = err }

func (m *boardRequestMetrics) SetReplayed(replayed bool) { m.replayed = replayed }

func (m *boardRequestMetrics) SetItemsReturned(n int) {
	if n < 0 {
		n = 0
	}
	m.itemsReturned = n
}

func (m *boardRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log ends the request span and emits one structured event carrying the
// same attributes.
func (m *boardRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	if err == nil {
		err = m.cause
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.String("http.method", m.method),
		attribute.Int("http.status_code", status),
		attribute.Float64("prism.boards.total_ms", durationToMillis(time.Since(m.start))),
		attribute.Int("prism.boards.items_returned", m.itemsReturned),
		attribute.Bool("prism.boards.replayed", m.replayed),
	}
	if m.boardID != "" {
		attrs = append(attrs, attribute.String("prism.boards.board_id", m.boardID))
	}
	if m.kind != "" {
		attrs = append(attrs, attribute.String("prism.boards.kind", string(m.kind)))
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("prism.boards.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.storeDuration > 0 {
		attrs = append(attrs, attribute.Float64("prism.boards.store_ms", durationToMillis(m.storeDuration)))
	}
	if m.encodeDuration > 0 {
		attrs = append(attrs, attribute.Float64("prism.boards.encode_ms", durationToMillis(m.encodeDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("prism.boards.error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	sevText, sevNumber := severityForStatus(status, err)
	m.span.SetAttributes(attrs...)
	m.span.AddEvent(observabilityName, trace.WithAttributes(append([]attribute.KeyValue{
		attribute.String("event.name", boardsEventName),
		attribute.String("event.domain", boardsEventDomain),
		attribute.String("severity_text", sevText),
		attribute.Int("severity_number", sevNumber),
	}, attrs...)...))
	switch {
	case err != nil:
		m.span.RecordError(err)
		m.span.SetStatus(codes.Error, err.Error())
	case status >= http.StatusInternalServerError:
		m.span.SetStatus(codes.Error, http.StatusText(status))
	default:
		m.span.SetStatus(codes.Ok, "")
	}
	sc := m.span.SpanContext()
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := make(log.Fields, len(attrs)+4)
	fields["event.name"] = boardsEventName
	fields["event.domain"] = boardsEventDomain
	fields["severity_text"] = sevText
	fields["severity_number"] = sevNumber
	if sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	attrMap := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		attrMap[string(kv.Key)] = kv.Value.AsInterface()
	}
	fields["attributes"] = attrMap

	entry := m.logger.WithFields(fields)
	switch sevText {
	case "ERROR":
		entry.Error(boardsEventName)
	case "WARN":
		entry.Warn(boardsEventName)
	default:
		entry.Info(boardsEventName)
	}
}

// severityForStatus maps a response to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
