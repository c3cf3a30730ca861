// Package testutil provides shared test fakes, currently a mock RSS feed
// server for the feed watcher tests.
package testutil

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// FeedItem is one item the mock server publishes.
type FeedItem struct {
	Title string
	Link  string
	GUID  string
}

// MockFeedServer serves an RSS 2.0 document built from its current items.
// Items can be swapped between requests to simulate successive snapshots.
type MockFeedServer struct {
	*httptest.Server

	mu     sync.Mutex
	items  []FeedItem
	status int
}

// NewMockFeedServer starts a mock feed server; it is closed with the test.
func NewMockFeedServer(t *testing.T) *MockFeedServer {
	t.Helper()
	m := &MockFeedServer{status: http.StatusOK}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.status != http.StatusOK {
			w.WriteHeader(m.status)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, renderRSS(m.items))
	}))
	t.Cleanup(m.Close)
	return m
}

// SetItems replaces the published items, newest first.
func (m *MockFeedServer) SetItems(items ...FeedItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = items
}

// Fail makes the server answer every request with the given status code.
func (m *MockFeedServer) Fail(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
}

// Recover restores normal responses after Fail.
func (m *MockFeedServer) Recover() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = http.StatusOK
}

func renderRSS(items []FeedItem) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>mock feed</title><link>https://example.com</link><description>test</description>`)
	for _, it := range items {
		b.WriteString("<item><title>")
		_ = xml.EscapeText(&b, []byte(it.Title))
		b.WriteString("</title><link>")
		_ = xml.EscapeText(&b, []byte(it.Link))
		b.WriteString("</link><guid>")
		_ = xml.EscapeText(&b, []byte(it.GUID))
		b.WriteString("</guid></item>")
	}
	b.WriteString("</channel></rss>")
	return b.String()
}
