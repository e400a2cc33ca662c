// Package wled drives a WLED strip controller over its JSON HTTP API. The
// hub uses it for preset changes; the rest of the surface mirrors what the
// device accepts on /json/state.
package wled

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jgraeff/midihub/logging"
	"github.com/jgraeff/midihub/status"
)

// requestTimeout bounds every call; the controller answers on a LAN or not
// at all.
const requestTimeout = 2 * time.Second

// Client talks to one WLED device.
type Client struct {
	ip   string
	http *http.Client
	log  *slog.Logger
}

// NewClient points at a device by IP (or host:port for non-standard setups).
func NewClient(ip string) *Client {
	return &Client{
		ip:   ip,
		http: &http.Client{Timeout: requestTimeout},
		log:  logging.Get(logging.APP),
	}
}

// IP reports the configured device address.
func (c *Client) IP() string {
	return c.ip
}

// SetPreset activates a stored preset.
func (c *Client) SetPreset(ctx context.Context, id uint8) error {
	return c.send(ctx, map[string]any{"ps": id})
}

// SetBrightness sets the global brightness.
func (c *Client) SetBrightness(ctx context.Context, value uint8) error {
	return c.send(ctx, map[string]any{"bri": value})
}

// SetColor sets the primary segment color.
func (c *Client) SetColor(ctx context.Context, r, g, b uint8) error {
	return c.send(ctx, map[string]any{
		"seg": []any{map[string]any{"col": []int{int(r), int(g), int(b)}}},
	})
}

// SetEffect selects a segment effect. Negative speed or intensity leaves the
// device's current setting untouched.
func (c *Client) SetEffect(ctx context.Context, id int, speed, intensity int) error {
	seg := map[string]any{"fx": id}
	if speed >= 0 {
		seg["sx"] = speed
	}
	if intensity >= 0 {
		seg["ix"] = intensity
	}
	return c.send(ctx, map[string]any{"seg": []any{seg}})
}

// SetPalette selects a segment palette.
func (c *Client) SetPalette(ctx context.Context, id int) error {
	return c.send(ctx, map[string]any{
		"seg": []any{map[string]any{"pal": id}},
	})
}

// TogglePower flips the power state.
func (c *Client) TogglePower(ctx context.Context) error {
	return c.send(ctx, map[string]any{"on": "t"})
}

func (c *Client) send(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode wled command: %v", status.ErrSendFailed, err)
	}
	url := fmt.Sprintf("http://%s/json/state", c.ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build wled request: %v", status.ErrSendFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: wled at %s: %v", status.ErrSendFailed, c.ip, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: wled at %s answered %s", status.ErrSendFailed, c.ip, resp.Status)
	}
	c.log.Debug("wled command accepted", "ip", c.ip, "payload", string(body))
	return nil
}
