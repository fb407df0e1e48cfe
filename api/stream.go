package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"prism-board/domain"
)

const (
	subscriberBuffer  = 16
	DefaultHeartbeat  = 25 * time.Second
	streamContentType = "text/event-stream"
)

// Broker fans change notices out to connected event-stream clients. It
// satisfies the notifier interface so it can sit in a notification fanout
// or be fed from a pub/sub subscription.
type Broker struct {
	mu     sync.Mutex
	subs   map[chan domain.ChangeNotice]struct{}
	closed bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[chan domain.ChangeNotice]struct{})}
}

func (b *Broker) subscribe() chan domain.ChangeNotice {
	ch := make(chan domain.ChangeNotice, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	return ch
}

func (b *Broker) unsubscribe(ch chan domain.ChangeNotice) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// Close ends every open stream. Later subscribers are closed immediately.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}

// Subscribers returns the number of connected clients.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Notify delivers n to every subscriber. A client whose buffer is full
// misses the notice; it resynchronises by reloading the board.
func (b *Broker) Notify(_ context.Context, n domain.ChangeNotice) error {
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- n:
		default:
		}
	}
	b.mu.Unlock()
	return nil
}

// RegisterStream exposes the change-notice event stream. EventSource
// clients cannot set headers, so the bearer token may also be passed as
// the token query parameter.
func RegisterStream(e *echo.Echo, broker *Broker, auth Authenticator, heartbeat time.Duration) {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	e.GET("/api/events", streamNotices(broker, auth, heartbeat))
}

func streamNotices(broker *Broker, auth Authenticator, heartbeat time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if token := c.QueryParam("token"); authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		if _, err := auth.UserIDFromAuthHeader(authHeader); err != nil {
			return c.JSON(http.StatusUnauthorized, domain.Result{Kind: kindUnauthorized, Message: err.Error()})
		}
		boardID := c.QueryParam("board")
		if boardID != "" && !domain.ValidID(boardID) {
			return c.JSON(http.StatusBadRequest, domain.Failure(&domain.ValidationError{Field: "board", Reason: "not a valid board id"}))
		}

		res := c.Response()
		flusher, ok := res.Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		res.Header().Set(echo.HeaderContentType, streamContentType)
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set(echo.HeaderConnection, "keep-alive")
		res.Header().Set("X-Accel-Buffering", "no")

		ch := broker.subscribe()
		defer broker.unsubscribe(ch)

		res.WriteHeader(http.StatusOK)
		if _, err := res.Write([]byte(": connected\n\n")); err != nil {
			return err
		}
		flusher.Flush()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := res.Write([]byte(": keep-alive\n\n")); err != nil {
					return nil
				}
			case n, ok := <-ch:
				if !ok {
					return nil
				}
				if boardID != "" && n.BoardID != boardID {
					continue
				}
				data, err := sonic.Marshal(n)
				if err != nil {
					c.Logger().Error(err)
					continue
				}
				if _, err := fmt.Fprintf(res, "id: %s\nevent: %s\ndata: %s\n\n", n.ID, n.Kind, data); err != nil {
					return nil
				}
			}
			flusher.Flush()
		}
	}
}
