package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"nexus-reservation/internal/pkg/logger"
	"nexus-reservation/internal/service/reservation/application"
	"nexus-reservation/internal/service/reservation/domain"
)

const (
	headerUserID         = "X-User-ID"
	headerUserRole       = "X-User-Role"
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
)

// ReservationHandler 封装了预订服务的 HTTP 处理器
type ReservationHandler struct {
	service      *application.ReservationService
	availability *application.AvailabilityService
	catalog      *application.CatalogService
	pushInterval time.Duration
	upgrader     websocket.Upgrader
}

// NewReservationHandler 创建一个新的 HTTP 处理器实例
func NewReservationHandler(service *application.ReservationService, availability *application.AvailabilityService, catalog *application.CatalogService, pushInterval time.Duration) *ReservationHandler {
	if pushInterval <= 0 {
		pushInterval = 2 * time.Second
	}
	return &ReservationHandler{
		service:      service,
		availability: availability,
		catalog:      catalog,
		pushInterval: pushInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool { // 跨域由网关负责
				return true
			},
		},
	}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *ReservationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/resources/{resourceId}/reservations", h.handleCreateReservation)
	mux.HandleFunc("POST /v1/reservations/{reservationId}/cancel", h.handleCancelReservation)
	mux.HandleFunc("GET /v1/reservations/{reservationId}", h.handleGetReservation)
	mux.HandleFunc("GET /v1/reservations", h.handleListReservations)

	mux.HandleFunc("GET /v1/resources/{resourceId}/availability", h.handleGetAvailability)
	mux.HandleFunc("GET /v1/resources/{resourceId}/availability/ws", h.handleWatchAvailability)

	mux.HandleFunc("POST /v1/resources", h.handleCreateResource)
	mux.HandleFunc("PUT /v1/resources/{resourceId}/capacity", h.handleAdjustCapacity)
	mux.HandleFunc("PUT /v1/resources/{resourceId}/status", h.handleUpdateStatus)
	mux.HandleFunc("DELETE /v1/resources/{resourceId}", h.handleDeleteResource)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func requestContext(r *http.Request) context.Context {
	return otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

// callerFrom 读取网关认证后注入的身份头
func callerFrom(r *http.Request) domain.Caller {
	return domain.Caller{
		UserID: r.Header.Get(headerUserID),
		Role:   r.Header.Get(headerUserRole),
	}
}

type createReservationBody struct {
	Quantity int64 `json:"quantity"`
}

func (h *ReservationHandler) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)

	var body createReservationBody
	if err := decodeOptionalBody(r, &body); err != nil {
		writeError(ctx, w, err)
		return
	}

	res, err := h.service.CreateReservation(ctx, &application.CreateReservationRequest{
		ResourceID:     r.PathValue("resourceId"),
		Caller:         callerFrom(r),
		Quantity:       body.Quantity,
		IdempotencyKey: r.Header.Get(headerIdempotencyKey),
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	// 重放时原样返回首次请求记录下的字节
	w.Header().Set("Content-Type", "application/json")
	if res.Replayed {
		w.Header().Set(headerReplayed, "true")
	}
	w.WriteHeader(res.StatusCode)
	_, _ = w.Write(res.Body)
}

type cancelReservationBody struct {
	Reason string `json:"reason"`
}

func (h *ReservationHandler) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)

	var body cancelReservationBody
	if err := decodeOptionalBody(r, &body); err != nil {
		writeError(ctx, w, err)
		return
	}

	dto, err := h.service.CancelReservation(ctx, &application.CancelReservationRequest{
		ReservationID: r.PathValue("reservationId"),
		Caller:        callerFrom(r),
		Reason:        body.Reason,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *ReservationHandler) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)

	dto, err := h.service.GetReservation(ctx, callerFrom(r), r.PathValue("reservationId"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *ReservationHandler) handleListReservations(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)
	q := r.URL.Query()

	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	offset, err := queryInt(q.Get("offset"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	list, err := h.service.ListReservations(ctx, &application.ListReservationsRequest{
		Caller:     callerFrom(r),
		OwnerID:    q.Get("ownerId"),
		ResourceID: q.Get("resourceId"),
		Status:     q.Get("status"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": list})
}

func (h *ReservationHandler) handleGetAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)

	snap, err := h.availability.GetAvailability(ctx, r.PathValue("resourceId"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *ReservationHandler) handleCreateResource(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)

	var req application.CreateResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, errInvalidBody)
		return
	}
	dto, err := h.catalog.CreateResource(ctx, callerFrom(r), &req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

type adjustCapacityBody struct {
	TotalCapacity int64 `json:"totalCapacity"`
}

func (h *ReservationHandler) handleAdjustCapacity(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)

	var body adjustCapacityBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(ctx, w, errInvalidBody)
		return
	}
	dto, err := h.catalog.AdjustCapacity(ctx, callerFrom(r), r.PathValue("resourceId"), body.TotalCapacity)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

type updateStatusBody struct {
	Status string `json:"status"`
}

func (h *ReservationHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)

	var body updateStatusBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(ctx, w, errInvalidBody)
		return
	}
	dto, err := h.catalog.UpdateStatus(ctx, callerFrom(r), r.PathValue("resourceId"), body.Status)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *ReservationHandler) handleDeleteResource(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)

	if err := h.catalog.DeleteResource(ctx, callerFrom(r), r.PathValue("resourceId")); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var errInvalidBody = &domain.Error{Kind: domain.KindValidation, Message: "invalid request body"}

// decodeOptionalBody 解析 JSON 请求体，空请求体视为全部使用默认值。
func decodeOptionalBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errInvalidBody
	}
	return nil
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.ErrInvalidPagination
	}
	return n, nil
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// statusFor 把领域错误类别映射为 HTTP 状态码
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)

	detail := errorDetail{Kind: string(kind), Message: err.Error()}
	if status == http.StatusInternalServerError {
		// 基础设施错误不向调用方暴露细节
		logger.Ctx(ctx).Error().Err(err).Msg("request failed")
		detail = errorDetail{Kind: "INTERNAL", Message: "internal error"}
	} else {
		var de *domain.Error
		if errors.As(err, &de) {
			detail.Message = de.Message
		}
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
