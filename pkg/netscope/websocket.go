// File: pkg/netscope/websocket.go
// Brief: Websocket client resource with a cause-aware close handshake.

package netscope

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

const closeWriteWait = 3 * time.Second

// WebSocket dials a websocket on enter and performs the close handshake on
// exit. The close frame carries CloseNormalClosure when the scope exits
// cleanly and CloseInternalServerErr with the failure text otherwise, so the
// peer learns how the session ended.
type WebSocket struct {
	URL    string
	Header http.Header
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// CloseTimeout bounds the close-frame write. Defaults to 3s.
	CloseTimeout time.Duration

	conn *websocket.Conn
}

func (w *WebSocket) Enter(ctx context.Context) (any, error) {
	dialer := w.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, w.URL, w.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial websocket %s: %w", w.URL, err)
	}
	w.conn = conn
	return conn, nil
}

func (w *WebSocket) Exit(_ context.Context, cause error) error {
	if w.conn == nil {
		return nil
	}
	code := websocket.CloseNormalClosure
	text := ""
	if cause != nil {
		code = websocket.CloseInternalServerErr
		text = truncateCloseText(cause.Error())
	}
	timeout := w.CloseTimeout
	if timeout <= 0 {
		timeout = closeWriteWait
	}
	msg := websocket.FormatCloseMessage(code, text)
	err := w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
	if errors.Is(err, websocket.ErrCloseSent) {
		err = nil
	}
	if cerr := w.conn.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("close websocket: %w", err)
	}
	return nil
}

// truncateCloseText keeps the close reason inside the 125-byte control frame
// payload, leaving room for the 2-byte status code. The cut lands on a rune
// boundary; close reasons must be valid UTF-8 on the wire.
func truncateCloseText(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
