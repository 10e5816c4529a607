package handlers

import (
	"net/http"
	"time"

	"github.com/VoidObscura/clipdaemon/services/capture"
	"github.com/gin-gonic/gin"
)

type AckResponse struct {
	State string `json:"state"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type SegmentResponse struct {
	TargetID      string    `json:"targetId"`
	VideoLocators []string  `json:"videoLocators"`
	AudioLocators []string  `json:"audioLocators"`
	ObservedAt    time.Time `json:"observedAt"`
}

type UploadResponse struct {
	Persisted bool   `json:"persisted"`
	Locator   string `json:"locator,omitempty"`
	SavedPath string `json:"savedPath,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// CaptureResponse is the inbound API's view of a capture result. The payload
// itself is never echoed back over HTTP; callers get the locator or the local
// path instead.
type CaptureResponse struct {
	Success        bool                 `json:"success"`
	Code           string               `json:"code,omitempty"`
	Message        string               `json:"message,omitempty"`
	MimeType       string               `json:"mimeType,omitempty"`
	SizeBytes      int64                `json:"sizeBytes,omitempty"`
	ActualStart    float64              `json:"actualStart,omitempty"`
	ActualEnd      float64              `json:"actualEnd,omitempty"`
	Diagnostics    *capture.Diagnostics `json:"diagnostics,omitempty"`
	Upload         *UploadResponse      `json:"upload,omitempty"`
	SourceLocators []string             `json:"sourceLocators,omitempty"`
}

func NewCaptureResponse(result capture.Result) CaptureResponse {
	resp := CaptureResponse{
		Success:        result.OK,
		Message:        result.Message,
		MimeType:       result.MimeType,
		SizeBytes:      result.SizeBytes,
		ActualStart:    result.ActualStart,
		ActualEnd:      result.ActualEnd,
		Diagnostics:    result.Diagnostics,
		SourceLocators: result.SourceLocators,
	}
	if !result.OK {
		resp.Code = string(result.Kind)
	}
	if result.Upload != nil {
		resp.Upload = &UploadResponse{
			Persisted: result.Upload.Persisted,
			Locator:   result.Upload.Locator,
			SavedPath: result.Upload.SavedPath,
			Reason:    result.Upload.Reason,
		}
	}
	return resp
}

func ResponseSuccess(ctx *gin.Context, data any) {
	ctx.JSON(http.StatusOK, data)
}

func ResponseError(ctx *gin.Context, status int, code, message string) {
	ctx.JSON(status, ErrorResponse{Code: code, Message: message})
}
