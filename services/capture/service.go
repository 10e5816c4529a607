package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/VoidObscura/clipdaemon/config"
	"github.com/VoidObscura/clipdaemon/internal"
	"github.com/VoidObscura/clipdaemon/logger"
	"github.com/VoidObscura/clipdaemon/services/host"
	"github.com/VoidObscura/clipdaemon/services/intercept"
	"github.com/VoidObscura/clipdaemon/services/playback"
	"github.com/VoidObscura/clipdaemon/services/upload"
	"github.com/gcottom/retry"
	"github.com/google/uuid"
)

// HostService is the slice of host discovery the orchestrator depends on.
type HostService interface {
	AcquireHost(ctx context.Context, targetID, locatorHint string, allowCreate bool) (*host.Handle, error)
	DescribeMedia(ctx context.Context, h *host.Handle) (host.MediaDescription, error)
}

// Forcer drives the media element toward playing, best-effort.
type Forcer interface {
	EnsurePlaying(ctx context.Context, h *host.Handle) playback.State
}

// Persister is the upload pipeline.
type Persister interface {
	Persist(ctx context.Context, payload []byte, mimeType string, meta upload.Metadata) upload.Outcome
}

// ResultRelay awaits push-delivered capture results keyed by correlation id.
type ResultRelay interface {
	Install(ctx context.Context, h *host.Handle, correlationID string) error
	AwaitResult(ctx context.Context, correlationID string, timeout time.Duration) CaptureResult
	Deregister(correlationID string)
}

// Service is the capture orchestrator: one strictly sequential pipeline per
// request, each request with its own correlation id, handle and timers.
// Concurrent requests share only the intercept cache.
type Service struct {
	Hosts    HostService
	Runner   host.ScriptRunner
	Forcer   Forcer
	Relay    ResultRelay
	Uploader Persister
	Cache    *intercept.Cache
	Timing   config.CaptureConfig
	ClipDir  string
}

// Capture runs the full pipeline and always returns a terminal result within
// the outer timeout bound.
func (s *Service) Capture(ctx context.Context, req Request) Result {
	if req.TargetID == "" {
		return Result{CaptureResult: failure(KindInvalidRequest, "targetId is required", nil)}
	}
	ctx = logger.WithLogger(ctx, logger.FromContext(ctx).With(slog.String("targetId", req.TargetID)))

	var locators []string
	if s.Cache != nil {
		if seg, ok := s.Cache.Lookup(req.TargetID); ok {
			locators = append(seg.VideoLocators, seg.AudioLocators...)
			logger.InfoC(ctx, "intercepted segment available",
				slog.Int("videoLocators", len(seg.VideoLocators)),
				slog.Int("audioLocators", len(seg.AudioLocators)))
		}
	}

	h, err := s.Hosts.AcquireHost(ctx, req.TargetID, req.SourceLocator, req.AllowHostCreation)
	if err != nil {
		return Result{CaptureResult: acquireFailure(err), SourceLocators: locators}
	}
	// Close releases the attachment on every exit path and closes the tab
	// when discovery opened it solely for this request.
	defer h.Close()

	state := s.Forcer.EnsurePlaying(ctx, h)
	if !state.IsPlaying {
		logger.WarnC(ctx, "playback unconfirmed, capturing in degraded mode",
			slog.Int("readiness", state.Readiness))
	}

	duration := 0.0
	if desc, derr := s.Hosts.DescribeMedia(ctx, h); derr == nil {
		duration = desc.DurationSeconds
	}
	startS, endS := EffectiveBounds(req.SegmentStart, req.SegmentEnd, duration, s.Timing)

	correlationID := uuid.NewString()
	if err := s.Relay.Install(ctx, h, correlationID); err != nil {
		return Result{CaptureResult: failure(KindInjectionFailed,
			fmt.Sprintf("relay install failed: %v", err), nil), SourceLocators: locators}
	}
	defer s.Relay.Deregister(correlationID)

	watchdog := WatchdogBudget(endS-startS, s.Timing)
	script, err := ExecutorScript(scriptParams{
		Binding:         BindingName,
		CorrelationID:   correlationID,
		StartSeconds:    startS,
		EndSeconds:      endS,
		Speed:           s.Timing.SpeedMultiplier,
		WatchdogMs:      watchdog.Milliseconds(),
		ReadyBudgetMs:   s.Timing.ReadyBudget.Milliseconds(),
		ReadyPollMs:     500,
		SeekTimeoutMs:   s.Timing.SeekTimeout.Milliseconds(),
		TimesliceMs:     s.Timing.Timeslice.Milliseconds(),
		MinPayloadBytes: s.Timing.MinPayloadBytes,
	})
	if err != nil {
		return Result{CaptureResult: failure(KindInjectionFailed, err.Error(), nil), SourceLocators: locators}
	}

	// Script injection is the one setup step worth retrying: transient
	// evaluation failures happen while the page is still settling.
	if _, err := retry.Retry(retry.NewAlgSimpleDefault(), s.Timing.InjectAttempts,
		s.injectExecutor, ctx, h, script); err != nil {
		return Result{CaptureResult: failure(KindInjectionFailed,
			fmt.Sprintf("executor injection failed after retries: %v", err), nil), SourceLocators: locators}
	}
	logger.InfoC(ctx, "executor injected",
		slog.String("correlationId", correlationID),
		slog.Float64("start", startS), slog.Float64("end", endS),
		slog.Duration("watchdog", watchdog))

	// Outer bound covers injection and relay latency on top of the
	// executor's own watchdog.
	res := s.Relay.AwaitResult(ctx, correlationID, watchdog+s.Timing.ReadyBudget+s.Timing.SeekTimeout+s.Timing.OuterMargin)
	out := Result{CaptureResult: res, SourceLocators: locators}
	if !res.OK {
		logger.WarnC(ctx, "capture failed",
			slog.String("kind", string(res.Kind)), slog.String("message", res.Message))
		return out
	}

	outcome := s.Uploader.Persist(ctx, res.Payload, res.MimeType, upload.Metadata{
		TargetID:     req.TargetID,
		Type:         streamType(res.MimeType),
		StartSeconds: res.ActualStart,
		EndSeconds:   res.ActualEnd,
	})
	if !outcome.Persisted && s.ClipDir != "" {
		if path, serr := internal.SaveClip(s.ClipDir, req.TargetID, res.ActualStart, res.ActualEnd, res.MimeType, res.Payload); serr != nil {
			logger.ErrorC(ctx, "failed to save local clip", slog.Any("error", serr))
		} else {
			outcome.SavedPath = path
			logger.InfoC(ctx, "clip saved locally", slog.String("path", path))
		}
	}
	out.Upload = &outcome
	return out
}

func (s *Service) injectExecutor(ctx context.Context, h *host.Handle, script string) (bool, error) {
	if err := s.Runner.Evaluate(ctx, h, script, nil); err != nil {
		return false, fmt.Errorf("evaluate failed: %w", err)
	}
	return true, nil
}

func acquireFailure(err error) CaptureResult {
	switch {
	case errors.Is(err, host.ErrNoHostAvailable):
		return CaptureResult{Kind: KindNoHostAvailable, Message: err.Error()}
	case errors.Is(err, host.ErrHostUnreachable):
		return CaptureResult{Kind: KindHostUnreachable, Message: err.Error()}
	default:
		return CaptureResult{Kind: KindHostUnreachable, Message: err.Error()}
	}
}

func failure(kind FailureKind, message string, diag *Diagnostics) CaptureResult {
	return CaptureResult{Kind: kind, Message: message, Diagnostics: diag}
}

// EffectiveBounds resolves the requested segment against the reported media
// duration: missing start means zero, missing end means the default span,
// the end clamps to the duration, and the total span clamps to the
// configured maximum.
func EffectiveBounds(start, end *float64, durationSeconds float64, t config.CaptureConfig) (float64, float64) {
	s := 0.0
	if start != nil && *start > 0 {
		s = *start
	}
	e := s + t.DefaultSegment.Seconds()
	if end != nil && *end > 0 {
		e = *end
	}
	if durationSeconds > 0 {
		if s > durationSeconds {
			s = 0
		}
		if e > durationSeconds {
			e = durationSeconds
		}
	}
	if e <= s {
		e = s + t.DefaultSegment.Seconds()
		if durationSeconds > 0 && e > durationSeconds {
			e = durationSeconds
		}
	}
	if max := t.MaxSegment.Seconds(); max > 0 && e-s > max {
		e = s + max
	}
	return s, e
}

// WatchdogBudget converts a segment span into the wall-clock recording
// budget: span at elevated speed, padded by the safety factor and a fixed
// buffer.
func WatchdogBudget(spanSeconds float64, t config.CaptureConfig) time.Duration {
	if spanSeconds < 0 {
		spanSeconds = 0
	}
	real := spanSeconds / t.SpeedMultiplier
	return time.Duration(real*t.SafetyFactor*float64(time.Second)) + t.FixedBuffer
}

func streamType(mimeType string) string {
	if len(mimeType) >= 5 && mimeType[:5] == "audio" {
		return "audio"
	}
	return "video"
}
