// Package feedwatch polls an RSS feed for new posts and emits at most one
// notification per new item. The dedup cursor survives restarts through the
// state package.
package feedwatch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"

	"github.com/onnwee/stagehand/state"
	"github.com/onnwee/stagehand/telemetry"
)

// Notifier delivers the new-post notification.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Watcher polls one feed URL on a fixed interval.
type Watcher struct {
	parser   *gofeed.Parser
	store    *state.Store
	notify   Notifier
	url      string
	roleID   string
	interval time.Duration

	cursor string
}

func New(url, roleID string, interval time.Duration, store *state.Store, notify Notifier) *Watcher {
	return &Watcher{
		parser:   gofeed.NewParser(),
		store:    store,
		notify:   notify,
		url:      url,
		roleID:   roleID,
		interval: interval,
	}
}

// Run loads the persisted cursor, checks once immediately, then polls until
// ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	w.cursor = w.store.Load().LastPostGUID
	slog.Info("feed watcher started", slog.String("url", w.url), slog.Duration("interval", w.interval))
	w.checkOnce(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checkOnce(ctx)
		}
	}
}

// checkOnce fetches the feed and notifies if the newest post differs from the
// cursor. A cold start (no cursor yet) records the newest post silently, so a
// lost state file skips at most one notification rather than duplicating it.
func (w *Watcher) checkOnce(ctx context.Context) {
	telemetry.Count(telemetry.FeedPollCycles)
	var feed *gofeed.Feed
	var err error
	telemetry.TimeFunc(telemetry.FeedPollDuration, func() {
		feed, err = w.parser.ParseURLWithContext(w.url, ctx)
	})
	if err != nil {
		telemetry.Count(telemetry.FeedPollErrors)
		slog.Error("failed to fetch feed", slog.String("url", w.url), slog.Any("err", err))
		return
	}

	posts := lo.Filter(feed.Items, func(it *gofeed.Item, _ int) bool { return isPost(it) })
	if len(posts) == 0 {
		return
	}
	latest := posts[0]
	guid := latest.GUID
	if guid == "" {
		guid = latest.Link
	}
	if guid == w.cursor {
		return
	}

	if w.cursor == "" {
		slog.Info("feed cursor initialized", slog.String("guid", guid))
	} else {
		slog.Info("new post found", slog.String("link", latest.Link))
		if err := w.notify.Send(ctx, "<@&"+w.roleID+"> A new post is up!\n"+latest.Link); err != nil {
			slog.Error("failed to send post notification", slog.Any("err", err))
		} else {
			telemetry.Count(telemetry.NotificationsSent)
		}
	}
	w.cursor = guid
	if err := w.store.Save(state.State{LastPostGUID: guid}); err != nil {
		slog.Error("failed to persist feed cursor", slog.Any("err", err))
	}
}

// isPost keeps original posts only: items must link to the post site and
// replies (title starting with "@") and reposts ("RT by ...") are dropped.
func isPost(it *gofeed.Item) bool {
	if it.Link == "" || it.Title == "" {
		return false
	}
	if !strings.Contains(it.Link, "x.com") && !strings.Contains(it.Link, "twitter.com") {
		return false
	}
	return !strings.HasPrefix(it.Title, "@") && !strings.HasPrefix(it.Title, "RT by")
}
