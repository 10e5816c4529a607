package host

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

type State int

const (
	StateLoading State = iota
	StateStable
	StateGone
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateStable:
		return "stable"
	case StateGone:
		return "gone"
	default:
		return "unknown"
	}
}

// Handle is the live attachment to one browser tab hosting the target media.
// Host discovery owns it; everything downstream only reads it.
type Handle struct {
	// Ctx is the chromedp target context all page operations run against.
	Ctx context.Context

	// TargetID is the CDP target, HostID its string form used as the key in
	// the intercept cache's active-target table.
	TargetID target.ID
	HostID   string

	// MediaTarget is the logical media id this handle was acquired for.
	MediaTarget string

	// AutoCreated marks tabs opened solely for this capture; they are closed
	// when the pipeline concludes.
	AutoCreated bool

	// TimedOut means the readiness poll budget expired before the tab proved
	// stable. Downstream stages re-validate readiness themselves.
	TimedOut bool

	State         State
	LastReadiness int

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Close releases the attachment, closing the underlying tab only when it was
// auto-created. Safe to call more than once.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		if h.AutoCreated && h.Ctx != nil {
			_ = chromedp.Run(h.Ctx, page.Close())
		}
		h.State = StateGone
		if h.cancel != nil {
			h.cancel()
		}
	})
}
