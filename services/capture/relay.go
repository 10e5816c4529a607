package capture

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/VoidObscura/clipdaemon/logger"
	"github.com/VoidObscura/clipdaemon/services/host"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// BindingName is the function the executor script calls inside the page. The
// page main world cannot return a value to the daemon, so everything comes
// back through this binding.
const BindingName = "__clipdRelay"

// Relay listens for binding calls on a host, filters envelopes by correlation
// id and resolves a one-shot channel per waiter. At-most-once delivery to the
// orchestrator is enforced here: the waiter is deregistered on first Result,
// so duplicate or late envelopes are discarded before they reach anyone.
type Relay struct {
	mu      sync.Mutex
	waiters map[string]*waiter
}

// waiter is a one-shot slot for a single correlation id. The channel is
// buffered so a result pushed before anyone awaits is not lost, and the
// delivered flag is what makes second deliveries no-ops.
type waiter struct {
	ch        chan CaptureResult
	delivered bool
}

func NewRelay() *Relay {
	return &Relay{waiters: make(map[string]*waiter)}
}

// Install registers a waiter for correlationID and wires the binding listener
// on the host. Reinstalling for the same id is a no-op.
func (r *Relay) Install(ctx context.Context, h *host.Handle, correlationID string) error {
	if !r.register(correlationID) {
		return nil
	}
	chromedp.ListenTarget(h.Ctx, func(ev interface{}) {
		bc, ok := ev.(*runtime.EventBindingCalled)
		if !ok || bc.Name != BindingName {
			return
		}
		r.Dispatch(ctx, bc.Payload)
	})
	if err := chromedp.Run(h.Ctx, runtime.AddBinding(BindingName)); err != nil {
		r.Deregister(correlationID)
		return fmt.Errorf("failed to add relay binding: %w", err)
	}
	return nil
}

// register creates the one-shot waiter; false when one already exists.
func (r *Relay) register(correlationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.waiters[correlationID]; ok {
		return false
	}
	r.waiters[correlationID] = &waiter{ch: make(chan CaptureResult, 1)}
	return true
}

// Deregister drops the waiter; envelopes for the id are discarded afterwards.
func (r *Relay) Deregister(correlationID string) {
	r.mu.Lock()
	delete(r.waiters, correlationID)
	r.mu.Unlock()
}

// Dispatch routes one raw envelope. Started envelopes are liveness only.
// The first Result for a registered id resolves its waiter and deregisters
// it; anything else is dropped.
func (r *Relay) Dispatch(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		logger.WarnC(ctx, "relay discarding malformed envelope", slog.Any("error", err))
		return
	}
	switch env.Phase {
	case phaseStarted:
		r.mu.Lock()
		_, known := r.waiters[env.CorrelationID]
		r.mu.Unlock()
		if known {
			logger.InfoC(ctx, "capture executor started", slog.String("correlationId", env.CorrelationID))
		}
	case phaseResult:
		if env.Result == nil {
			return
		}
		r.mu.Lock()
		w, ok := r.waiters[env.CorrelationID]
		if ok && w.delivered {
			ok = false
		}
		if ok {
			w.delivered = true
		}
		r.mu.Unlock()
		if !ok {
			logger.WarnC(ctx, "relay discarding duplicate or stale result",
				slog.String("correlationId", env.CorrelationID))
			return
		}
		w.ch <- decodeResult(ctx, env.Result)
	}
}

// AwaitResult blocks until the waiter resolves, the timeout elapses, or ctx
// is cancelled. Timeout and cancellation both yield a synthetic
// WatchdogTimeout failure; the caller is never left blocked.
func (r *Relay) AwaitResult(ctx context.Context, correlationID string, timeout time.Duration) CaptureResult {
	r.mu.Lock()
	w, ok := r.waiters[correlationID]
	r.mu.Unlock()
	if !ok {
		return CaptureResult{Kind: KindWatchdogTimeout, Message: "no waiter registered for correlation id"}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-w.ch:
		r.Deregister(correlationID)
		return res
	case <-timer.C:
		r.Deregister(correlationID)
		return CaptureResult{Kind: KindWatchdogTimeout,
			Message: fmt.Sprintf("no result within %s", timeout)}
	case <-ctx.Done():
		r.Deregister(correlationID)
		return CaptureResult{Kind: KindWatchdogTimeout,
			Message: fmt.Sprintf("capture cancelled: %v", ctx.Err())}
	}
}

// decodeResult converts the wire form, decoding the payload and refusing to
// synthesize a success out of partial state: an OK envelope with no decodable
// bytes becomes a typed failure.
func decodeResult(ctx context.Context, w *wireResult) CaptureResult {
	if !w.OK {
		return CaptureResult{
			Kind:        FailureKind(w.Kind),
			Message:     w.Message,
			Diagnostics: w.Diagnostics,
		}
	}
	payload, err := base64.StdEncoding.DecodeString(w.DataBase64)
	if err != nil {
		logger.ErrorC(ctx, "relay failed to decode payload", slog.Any("error", err))
		return CaptureResult{Kind: KindRecorderError, Message: "payload decode failed"}
	}
	if len(payload) == 0 {
		return CaptureResult{Kind: KindPayloadTooSmall, Message: "success envelope carried no bytes"}
	}
	return CaptureResult{
		OK:          true,
		Payload:     payload,
		MimeType:    w.MimeType,
		ActualStart: w.ActualStart,
		ActualEnd:   w.ActualEnd,
		SizeBytes:   int64(len(payload)),
	}
}
