package server

import (
	"context"
	"encoding/json"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"net/http"
	"recording-ingest/constant"
	"recording-ingest/dto"
	"recording-ingest/service"
	"sync"
	"time"
)

const (
	writeTimeout        = 10 * time.Second
	defaultMessageLimit = 16 << 20
)

// SocketHandler serves the duplex channel. Each connection gets its own
// ingestion session; nothing is shared between connections except the
// staging area and the downstream clients.
type SocketHandler struct {
	ctx             context.Context
	ingestor        *service.Ingestor
	upgrader        websocket.Upgrader
	maxMessageBytes int64

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewSocketHandler(ctx context.Context, ingestor *service.Ingestor, allowedOrigin string, maxMessageBytes int64) *SocketHandler {
	if maxMessageBytes <= 0 {
		maxMessageBytes = defaultMessageLimit
	}
	return &SocketHandler{
		ctx:             ctx,
		ingestor:        ingestor,
		maxMessageBytes: maxMessageBytes,
		conns:           make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 4 << 10,
			CheckOrigin:     checkOrigin(allowedOrigin),
		},
	}
}

// checkOrigin lets non-browser clients without an Origin header through.
func checkOrigin(allowed string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if allowed == "" || allowed == "*" {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || origin == allowed
	}
}

func (h *SocketHandler) track(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *SocketHandler) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	h.wg.Done()
}

func (h *SocketHandler) Serve(c *gin.Context) {
	logger := zerolog.Ctx(h.ctx)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn().Err(err).Str("remote", c.ClientIP()).Msg("websocket upgrade failed")
		return
	}
	if !h.track(conn) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeTimeout))
		_ = conn.Close()
		return
	}
	defer h.untrack(conn)

	h.serveConn(conn, c.ClientIP())
}

func (h *SocketHandler) serveConn(conn *websocket.Conn, remote string) {
	session := h.ingestor.NewSession()
	logger := zerolog.Ctx(h.ctx).With().
		Str("session_id", session.ID().String()).
		Str("remote", remote).
		Logger()
	ctx := logger.WithContext(h.ctx)
	logger.Info().Msg("socket connected")

	var (
		writeMu  sync.Mutex
		inflight sync.WaitGroup
	)
	defer func() {
		inflight.Wait()
		session.Close(ctx)
		_ = conn.Close()
		logger.Info().Msg("socket disconnected")
	}()

	reply := func(ack *int64, result dto.PipelineResult) {
		data, err := json.Marshal(result)
		if err != nil {
			logger.Error().Err(err).Msg("failed to encode result")
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err = conn.WriteJSON(dto.Envelope{Event: constant.EventProcessVideo, Ack: ack, Data: data})
		if err != nil {
			logger.Debug().Err(err).Msg("dropped result for a closed socket")
		}
	}

	conn.SetReadLimit(h.maxMessageBytes)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("socket read failed")
			}
			return
		}

		var env dto.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			logger.Warn().Err(err).Msg("dropped undecodable frame")
			continue
		}

		switch env.Event {
		case constant.EventVideoChunks:
			var chunk dto.VideoChunk
			if err := json.Unmarshal(env.Data, &chunk); err != nil {
				logger.Warn().Err(err).Msg("dropped undecodable video chunk")
				continue
			}
			session.AppendChunk(ctx, chunk)

		case constant.EventProcessVideo:
			var req dto.ProcessVideo
			if err := json.Unmarshal(env.Data, &req); err != nil {
				logger.Warn().Err(err).Msg("undecodable process-video request")
				reply(env.Ack, dto.PipelineResult{Status: http.StatusInternalServerError, Message: constant.MessageProcessingFail})
				continue
			}
			// Finalize outlives the connection; its result is dropped if
			// the client is gone by then.
			inflight.Add(1)
			go func(ack *int64) {
				defer inflight.Done()
				reply(ack, session.Finalize(context.WithoutCancel(ctx), req))
			}(env.Ack)

		default:
			logger.Debug().Str("event", env.Event).Msg("ignored unknown event")
		}
	}
}

// Shutdown refuses new connections, asks connected clients to go away and
// waits for their sessions to finish.
func (h *SocketHandler) Shutdown(ctx context.Context) {
	h.mu.Lock()
	h.closed = true
	for conn := range h.conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeTimeout))
		_ = conn.Close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		zerolog.Ctx(ctx).Warn().Msg("sockets still open at shutdown")
	}
}
