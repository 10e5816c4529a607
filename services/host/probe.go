package host

import (
	"context"
	"fmt"
)

// MediaDescription is the answer to the in-page describeMedia probe. The
// shape mirrors the content-script responder contract so either source of
// truth can satisfy the poll.
type MediaDescription struct {
	Success         bool    `json:"success"`
	Readiness       int     `json:"readiness"`
	DurationSeconds float64 `json:"durationSeconds"`
	CurrentPosition float64 `json:"currentPosition"`
	Paused          bool    `json:"paused"`
}

const describeMediaJS = `(() => {
	const v = document.querySelector('video');
	if (!v) {
		return { success: false, readiness: 0, durationSeconds: 0, currentPosition: 0, paused: true };
	}
	return {
		success: true,
		readiness: v.readyState,
		durationSeconds: isFinite(v.duration) && v.duration > 0 ? v.duration : 0,
		currentPosition: v.currentTime,
		paused: v.paused,
	};
})()`

// DescribeMedia asks the page about its media element.
func (s *Service) DescribeMedia(ctx context.Context, h *Handle) (MediaDescription, error) {
	var desc MediaDescription
	if err := s.Runner.Evaluate(ctx, h, describeMediaJS, &desc); err != nil {
		return MediaDescription{}, fmt.Errorf("media probe failed: %w", err)
	}
	if desc.Success {
		h.LastReadiness = desc.Readiness
	}
	return desc, nil
}
