package interfaces

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"nexus-reservation/internal/pkg/logger"
)

const wsWriteWait = 5 * time.Second

// handleWatchAvailability 把资源的可用量快照按固定间隔推送给 WebSocket 客户端，直到客户端断开。
func (h *ReservationHandler) handleWatchAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)
	resourceID := r.PathValue("resourceId")

	// 先确认资源存在，错误以普通 HTTP 响应返回
	first, err := h.availability.GetAvailability(ctx, resourceID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go readUntilClosed(conn, cancel)

	log := logger.Ctx(ctx).With().Str("resource_id", resourceID).Logger()
	log.Info().Msg("availability watcher connected")

	if err := writeFrame(conn, first); err != nil {
		return
	}
	ticker := time.NewTicker(h.pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("availability watcher disconnected")
			return
		case <-ticker.C:
			snap, err := h.availability.GetAvailability(ctx, resourceID)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				_ = writeFrame(conn, errorBody{Error: errorDetail{Kind: "INTERNAL", Message: "availability unavailable"}})
				log.Warn().Err(err).Msg("availability watcher stopped")
				return
			}
			if err := writeFrame(conn, snap); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}

// readUntilClosed 丢弃客户端发来的消息，连接关闭时取消推送循环。
func readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
