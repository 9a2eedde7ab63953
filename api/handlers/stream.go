package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/MerOne-1/cv-reformatter-sub001/api"
)

// =============================================================================
// 📡 运行状态推送 Handler
// =============================================================================

const (
	defaultStreamInterval = time.Second
	streamWriteTimeout    = 10 * time.Second
)

// StreamHandler 通过 WebSocket 推送运行状态，状态变化时发送一次，运行结束后关闭
type StreamHandler struct {
	reader   RunReader
	interval time.Duration
	origins  []string
	logger   *zap.Logger
}

// NewStreamHandler 创建状态推送处理器。origins 为允许的跨域来源模式
func NewStreamHandler(reader RunReader, interval time.Duration, origins []string, logger *zap.Logger) *StreamHandler {
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{
		reader:   reader,
		interval: interval,
		origins:  origins,
		logger:   logger.With(zap.String("component", "run_stream")),
	}
}

// Register 注册路由
func (h *StreamHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/runs/{id}/stream", h.HandleStream)
}

// HandleStream 升级为 WebSocket 并推送 api.RunStatusResponse
// @Summary 运行状态推送
// @Tags runs
// @Param id path string true "运行 ID"
// @Success 101
// @Failure 404 {object} Response
// @Router /api/v1/runs/{id}/stream [get]
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	// 未知运行在升级前以普通 HTTP 错误返回
	snap, err := h.reader.Snapshot(r.Context(), runID)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	// 解除服务器级写超时，长连接由推送循环自行控制
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// 客户端不发送数据，CloseRead 负责处理控制帧并在断开时取消 ctx
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last []byte
	for {
		payload := api.NewRunStatusResponse(snap)
		data, err := json.Marshal(payload)
		if err != nil {
			h.logger.Error("encode run status failed", zap.String("run_id", runID), zap.Error(err))
			_ = conn.Close(websocket.StatusInternalError, "encode failed")
			return
		}

		if !bytes.Equal(data, last) {
			if err := h.write(ctx, conn, data); err != nil {
				if !errors.Is(err, context.Canceled) {
					h.logger.Debug("run stream write failed", zap.String("run_id", runID), zap.Error(err))
				}
				return
			}
			last = data
		}

		if payload.Status.IsTerminal() {
			_ = conn.Close(websocket.StatusNormalClosure, "run finished")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap, err = h.reader.Snapshot(ctx, runID)
		if err != nil {
			if ctx.Err() == nil {
				h.logger.Warn("run stream snapshot failed", zap.String("run_id", runID), zap.Error(err))
				_ = conn.Close(websocket.StatusInternalError, "snapshot failed")
			}
			return
		}
	}
}

func (h *StreamHandler) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
