package storage

import (
	"context"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

func newNoticeID() string { return uuid.NewString() }

// notify hands a change notice to the notifier in the background. Failures
// are logged and never reach the caller; Close waits for delivery.
func (s *Store) notify(kind domain.NoticeKind, boardID, title, version string) {
	if s.notifier == nil {
		return
	}
	n := domain.ChangeNotice{
		ID:      s.newID(),
		Kind:    kind,
		BoardID: boardID,
		Title:   title,
		Version: version,
		At:      s.now().UTC(),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.log.WithFields(log.Fields{"board": boardID, "notice": n.ID, "kind": kind, "version": version}).
				WithError(err).Warn("notify.failed")
			return
		}
		s.log.WithFields(log.Fields{"board": boardID, "notice": n.ID, "kind": kind}).Debug("notify.sent")
	}()
}
