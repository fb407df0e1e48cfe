package notify

import (
	"context"

	"prism-board/domain"
)

type dispatcher interface {
	Dispatch(ctx context.Context, eventType string, payload map[string]any) error
}

// Dispatch fires a repository_dispatch event so repository workflows can
// rebuild anything derived from board content.
type Dispatch struct {
	client    dispatcher
	eventType string
}

func NewDispatch(client dispatcher, eventType string) *Dispatch {
	return &Dispatch{client: client, eventType: eventType}
}

func (d *Dispatch) Notify(ctx context.Context, n domain.ChangeNotice) error {
	return d.client.Dispatch(ctx, d.eventType, map[string]any{
		"id":      n.ID,
		"kind":    string(n.Kind),
		"boardId": n.BoardID,
		"version": n.Version,
	})
}
