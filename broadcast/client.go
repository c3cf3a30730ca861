// Package broadcast wraps the obs-websocket connection behind the small
// command surface the orchestrator drives. Every call is request/response on
// one persistent connection; failures come back wrapped with the operation
// that failed, and callers decide how fatal they are.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/andreykaipov/goobs"
	"github.com/andreykaipov/goobs/api/events"
	"github.com/andreykaipov/goobs/api/requests/sceneitems"
	"github.com/andreykaipov/goobs/api/requests/scenes"
)

// Client is a connected obs-websocket client.
type Client struct {
	obs *goobs.Client
}

// Connect dials the obs-websocket server. The password may be empty when the
// server has authentication disabled.
func Connect(address, password string) (*Client, error) {
	var opts []goobs.Option
	if password != "" {
		opts = append(opts, goobs.WithPassword(password))
	}
	c, err := goobs.New(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect obs-websocket %s: %w", address, err)
	}
	return &Client{obs: c}, nil
}

// Close tears down the websocket connection.
func (c *Client) Close() error {
	return c.obs.Disconnect()
}

// SetSourceVisible resolves the scene item for source within scene and
// enables or disables it.
func (c *Client) SetSourceVisible(ctx context.Context, scene, source string, visible bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idResp, err := c.obs.SceneItems.GetSceneItemId(sceneitems.NewGetSceneItemIdParams().
		WithSceneName(scene).
		WithSourceName(source))
	if err != nil {
		return fmt.Errorf("resolve scene item %s/%s: %w", scene, source, err)
	}
	_, err = c.obs.SceneItems.SetSceneItemEnabled(sceneitems.NewSetSceneItemEnabledParams().
		WithSceneName(scene).
		WithSceneItemId(idResp.SceneItemId).
		WithSceneItemEnabled(visible))
	if err != nil {
		return fmt.Errorf("set scene item %s/%s visible=%t: %w", scene, source, visible, err)
	}
	return nil
}

// SwitchScene makes scene the current program scene.
func (c *Client) SwitchScene(ctx context.Context, scene string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.obs.Scenes.SetCurrentProgramScene(scenes.NewSetCurrentProgramSceneParams().
		WithSceneName(scene))
	if err != nil {
		return fmt.Errorf("switch program scene to %s: %w", scene, err)
	}
	return nil
}

// StartStream starts the stream output.
func (c *Client) StartStream(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.obs.Stream.StartStream(); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	return nil
}

// StopStream stops the stream output.
func (c *Client) StopStream(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.obs.Stream.StopStream(); err != nil {
		return fmt.Errorf("stop stream: %w", err)
	}
	return nil
}

// StreamActive queries whether the stream output is currently active.
func (c *Client) StreamActive(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	resp, err := c.obs.Stream.GetStreamStatus()
	if err != nil {
		return false, fmt.Errorf("query stream status: %w", err)
	}
	return resp.OutputActive, nil
}

// OnStreamStateChanged starts the event listener and invokes fn for every
// stream-state-changed event the controller emits. fn is called from the
// listener goroutine; callers hand it something queue-safe.
func (c *Client) OnStreamStateChanged(fn func(active bool)) {
	go c.obs.Listen(func(event any) {
		if e, ok := event.(*events.StreamStateChanged); ok {
			slog.Debug("controller stream state event", slog.Bool("active", e.OutputActive))
			fn(e.OutputActive)
		}
	})
}
