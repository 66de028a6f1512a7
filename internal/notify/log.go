package notify

import (
	"context"
	"strings"

	appLog "evalert/internal/log"
	"evalert/internal/model"
)

// Log writes notifications to the application log instead of a real channel.
type Log struct{}

func (Log) Notify(_ context.Context, n model.Notification) error {
	appLog.Info("sending notification",
		"owner", n.Owner,
		"kind", string(n.Kind),
		"event_ids", strings.Join(n.EventIDs, ","),
		"message", n.Message,
	)
	return nil
}
