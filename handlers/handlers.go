package handlers

import (
	"context"
	"net/http"

	"github.com/VoidObscura/clipdaemon/services/capture"
	"github.com/VoidObscura/clipdaemon/services/intercept"
	"github.com/gin-gonic/gin"
)

// Capturer is the orchestrator surface the HTTP layer drives.
type Capturer interface {
	Capture(ctx context.Context, req capture.Request) capture.Result
}

type CaptureHandler struct {
	Service Capturer
	Cache   *intercept.Cache
}

func SetupRoutes(router *gin.Engine, capturer Capturer, cache *intercept.Cache) {
	handler := &CaptureHandler{Service: capturer, Cache: cache}
	router.POST("/capture", handler.CaptureSegment)
	router.POST("/intercept/active", handler.ReportActiveTarget)
	router.GET("/segments/:targetId", handler.Segments)
	router.GET("/health", handler.Health)
}

func (h *CaptureHandler) CaptureSegment(ctx *gin.Context) {
	var reqData capture.Request
	if err := ctx.ShouldBindJSON(&reqData); err != nil {
		ResponseError(ctx, http.StatusBadRequest, string(capture.KindInvalidRequest), err.Error())
		return
	}
	result := h.Service.Capture(ctx.Request.Context(), reqData)
	ResponseSuccess(ctx, NewCaptureResponse(result))
}

type ActiveTargetReport struct {
	HostID   string `json:"hostId"`
	TargetID string `json:"targetId"`
}

// ReportActiveTarget lets a client bind a host to the target it is currently
// showing, feeding the intercept cache's side table.
func (h *CaptureHandler) ReportActiveTarget(ctx *gin.Context) {
	var report ActiveTargetReport
	if err := ctx.ShouldBindJSON(&report); err != nil {
		ResponseError(ctx, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	h.Cache.ReportActiveTarget(report.HostID, report.TargetID)
	ResponseSuccess(ctx, AckResponse{State: "ACK"})
}

func (h *CaptureHandler) Segments(ctx *gin.Context) {
	targetID := ctx.Param("targetId")
	seg, ok := h.Cache.Lookup(targetID)
	if !ok {
		ResponseError(ctx, http.StatusNotFound, "NotFound", "no intercepted segment for target")
		return
	}
	ResponseSuccess(ctx, SegmentResponse{
		TargetID:      seg.TargetID,
		VideoLocators: seg.VideoLocators,
		AudioLocators: seg.AudioLocators,
		ObservedAt:    seg.ObservedAt,
	})
}

func (h *CaptureHandler) Health(ctx *gin.Context) {
	ResponseSuccess(ctx, AckResponse{State: "OK"})
}
