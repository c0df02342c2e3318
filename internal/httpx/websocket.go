package httpx

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arcsign/exitbook/internal/errs"
)

// WebsocketClient is the push-feed counterpart to Client: some providers
// expose a streaming ticker/mempool feed instead of (or alongside) a
// request/response API, and a provider that declares
// provider.CapStreamWebsocket is driven through here rather than through
// Request/Response. Grounded on the same failure-classification posture as
// Client: dial/read errors are wrapped into errs.Error so callers can apply
// the same retriable/non-retriable split.
type WebsocketClient struct {
	conn *websocket.Conn
}

// DialWebsocket opens a websocket connection to url, honoring ctx for the
// handshake only (per-message deadlines are the caller's responsibility via
// ReadJSON's context).
func DialWebsocket(ctx context.Context, url string, headers map[string]string) (*WebsocketClient, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	h := make(map[string][]string, len(headers))
	for k, v := range headers {
		h[k] = []string{v}
	}

	conn, resp, err := dialer.DialContext(ctx, url, h)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		class, retry := ClassifyStatus(status)
		return nil, errs.Wrap(errs.Network, string(class), &Error{Class: class, StatusCode: status, ShouldRetry: retry, Message: "websocket dial failed", Cause: err})
	}
	return &WebsocketClient{conn: conn}, nil
}

// ReadJSON blocks for the next message and decodes it into v, unblocking
// early if ctx is cancelled.
func (c *WebsocketClient) ReadJSON(ctx context.Context, v any) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}

	done := make(chan error, 1)
	go func() { done <- c.conn.ReadJSON(v) }()

	select {
	case <-ctx.Done():
		_ = c.conn.Close()
		return errs.Wrap(errs.Cancelled, "websocket read cancelled", ctx.Err())
	case err := <-done:
		if err != nil {
			return errs.Wrap(errs.Network, "websocket read failed", err)
		}
		return nil
	}
}

// WriteJSON encodes v as the next outbound message (e.g. a subscribe frame).
func (c *WebsocketClient) WriteJSON(v any) error {
	if err := c.conn.WriteJSON(v); err != nil {
		return errs.Wrap(errs.Network, "websocket write failed", err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *WebsocketClient) Close() error {
	return c.conn.Close()
}
