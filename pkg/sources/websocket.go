package sources

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/larung/pkg/errorsx"
	"github.com/harunnryd/larung/pkg/logging"
	"github.com/harunnryd/larung/pkg/media"
)

// WSConfig tunes the websocket media source.
type WSConfig struct {
	// HandshakeTimeout bounds the dial. Defaults to 10s.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	// ReadLimit caps a single message. Defaults to 1 MiB.
	ReadLimit int64 `mapstructure:"read_limit"`
}

func (c WSConfig) withDefaults() WSConfig {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	return c
}

// WSSource opens channel streams over websocket. The source reference is the
// stream URL; resume is requested with a resume_after query parameter and the
// binary messages are exposed as one contiguous reader.
type WSSource struct {
	cfg    WSConfig
	logger *slog.Logger
}

func NewWSSource(cfg WSConfig, logger *slog.Logger) *WSSource {
	return &WSSource{
		cfg:    cfg.withDefaults(),
		logger: logging.NewComponentLogger(logger, "ws_source"),
	}
}

func (s *WSSource) Open(ctx context.Context, sourceID string, resumeMarker media.FragmentMarker) (io.ReadCloser, error) {
	target, err := url.Parse(sourceID)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSourceOpen)
	}
	if resumeMarker != media.MarkerZero {
		q := target.Query()
		q.Set("resume_after", string(resumeMarker))
		target.RawQuery = q.Encode()
	}

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		s.logger.Error("source dial failed",
			slog.String("source", sourceID),
			slog.String("error", err.Error()))
		return nil, errorsx.Wrap(err, errorsx.ReasonSourceOpen)
	}
	conn.SetReadLimit(s.cfg.ReadLimit)

	s.logger.Info("source opened",
		slog.String("source", sourceID),
		slog.String("resume_after", string(resumeMarker)))

	pr, pw := io.Pipe()
	go s.pump(conn, pw)
	return &wsReadCloser{PipeReader: pr, conn: conn}, nil
}

// pump copies binary messages into the pipe until the peer closes or the
// local side tears the connection down.
func (s *WSSource) pump(conn *websocket.Conn, pw *io.PipeWriter) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				pw.Close()
			} else {
				pw.CloseWithError(errorsx.Wrap(err, errorsx.ReasonSourceRead))
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if _, err := pw.Write(data); err != nil {
			return
		}
	}
}

type wsReadCloser struct {
	*io.PipeReader
	conn *websocket.Conn
}

func (r *wsReadCloser) Close() error {
	_ = r.PipeReader.Close()
	return r.conn.Close()
}

var _ MediaSource = (*WSSource)(nil)
