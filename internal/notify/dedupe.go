package notify

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"evalert/internal/model"
)

const defaultDedupeSize = 4096

// Dedupe forwards a notification only the first time its owner, kind and
// event ids are seen. Memory is bounded by an LRU, so a very old reminder can
// be sent again once it has been evicted.
type Dedupe struct {
	next Notifier
	seen *lru.Cache[string, struct{}]
}

func NewDedupe(next Notifier, size int) (*Dedupe, error) {
	if size <= 0 {
		size = defaultDedupeSize
	}
	seen, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("notify dedupe init: %w", err)
	}
	return &Dedupe{next: next, seen: seen}, nil
}

func (d *Dedupe) Notify(ctx context.Context, n model.Notification) error {
	key := dedupeKey(n)
	if found, _ := d.seen.ContainsOrAdd(key, struct{}{}); found {
		return nil
	}
	if err := d.next.Notify(ctx, n); err != nil {
		// Let the next sweep try again.
		d.seen.Remove(key)
		return err
	}
	return nil
}

func dedupeKey(n model.Notification) string {
	return n.Owner + "|" + string(n.Kind) + "|" + strings.Join(n.EventIDs, ",")
}
