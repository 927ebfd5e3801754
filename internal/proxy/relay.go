package proxy

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/lounge-voice/internal/observability"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	// The browser client is served from another origin during development
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
}

const closeGrace = time.Second

// relay dials the upstream socket first so handshake failures can still be
// reported as HTTP errors, then upgrades the client and pumps frames both ways.
func (p *Proxy) relay(w http.ResponseWriter, r *http.Request, path string) {
	correlationID := observability.NewCorrelationID()
	logger := observability.WithCorrelationID(correlationID).With().
		Str("component", "proxy").
		Str("path", path).
		Logger()

	target, err := websocketURL(p.target(path, r.URL.RawQuery))
	if err != nil {
		writeProxyError(w, err)
		return
	}

	if !p.admit(w, "websocket") {
		return
	}

	start := time.Now()
	upstream, resp, err := p.dialer.DialContext(r.Context(), target.String(), nil)
	if err != nil {
		p.record(false)
		status := http.StatusInternalServerError
		if resp != nil {
			status = resp.StatusCode
		}
		observability.RecordProxyRequest("websocket", status, time.Since(start))
		observability.RecordError("upstream_dial", "proxy")
		logger.Error().Err(err).Int("upstream_status", status).Msg("Upstream websocket dial failed")
		writeProxyError(w, err)
		return
	}
	p.record(true)
	observability.RecordProxyRequest("websocket", http.StatusSwitchingProtocols, time.Since(start))

	client, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		logger.Warn().Err(err).Msg("Client websocket upgrade failed")
		upstream.Close()
		return
	}

	logger.Info().Msg("Websocket relay established")

	var once sync.Once
	done := make(chan struct{})
	shutdown := func() { once.Do(func() { close(done) }) }

	go pump(client, upstream, "client->upstream", logger, shutdown)
	go pump(upstream, client, "upstream->client", logger, shutdown)

	<-done
	// Give the opposite pump a moment to forward the close frame
	time.Sleep(50 * time.Millisecond)
	client.Close()
	upstream.Close()

	logger.Info().Dur("duration", time.Since(start)).Msg("Websocket relay closed")
}

// pump copies messages from src to dst until src fails, then forwards the close.
// Each conn has a single data writer; WriteControl may run concurrently with it.
func pump(src, dst *websocket.Conn, direction string, logger zerolog.Logger, shutdown func()) {
	defer shutdown()

	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			code, text := websocket.CloseNormalClosure, ""
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code, text = closeErr.Code, closeErr.Text
				// Reserved codes must not appear on the wire
				if code == websocket.CloseNoStatusReceived || code == websocket.CloseAbnormalClosure || code == websocket.CloseTLSHandshake {
					code = websocket.CloseNormalClosure
				}
			} else {
				logger.Debug().Err(err).Str("direction", direction).Msg("Relay read ended")
			}

			dst.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(closeGrace))
			return
		}

		if err := dst.WriteMessage(msgType, data); err != nil {
			logger.Debug().Err(err).Str("direction", direction).Msg("Relay write failed")
			return
		}
	}
}
