package notify

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

const resubscribeDelay = time.Second

// Subscribe relays notices published on channel to deliver until ctx is
// done. The subscription is re-established when its channel closes.
func Subscribe(ctx context.Context, rc *redis.Client, channel string, logger *log.Logger, deliver func(domain.ChangeNotice)) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	for {
		sub := rc.Subscribe(ctx, channel)
		relay(ctx, sub.Channel(), logger, deliver)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.WithField("channel", channel).Warn("notify.subscription.reconnect")
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

func relay(ctx context.Context, ch <-chan *redis.Message, logger *log.Logger, deliver func(domain.ChangeNotice)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var n domain.ChangeNotice
			if err := sonic.UnmarshalString(msg.Payload, &n); err != nil || n.BoardID == "" {
				logger.WithField("channel", msg.Channel).WithError(err).Warn("notify.subscription.bad_payload")
				continue
			}
			deliver(n)
		}
	}
}
