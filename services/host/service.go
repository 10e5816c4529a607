package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/VoidObscura/clipdaemon/config"
	"github.com/VoidObscura/clipdaemon/logger"
	"github.com/VoidObscura/clipdaemon/services/intercept"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

var (
	// ErrNoHostAvailable means no tab shows the target and policy forbids
	// opening one.
	ErrNoHostAvailable = errors.New("no host available for target")

	// ErrHostUnreachable means the tab disappeared mid-acquisition. Fatal for
	// the current request; the orchestrator may re-run discovery fresh.
	ErrHostUnreachable = errors.New("host became unreachable")
)

// Service finds or creates the browser tab hosting a media target and waits
// for it to become addressable. It owns the shared browser context and feeds
// every acquired tab's network traffic into the intercept cache.
type Service struct {
	BrowserCtx context.Context
	Runner     ScriptRunner
	Cache      *intercept.Cache

	AllowCreation  bool
	PollInterval   time.Duration
	AcquireTimeout time.Duration
}

// NewService starts a browser under the allocator and returns the discovery
// service bound to it.
func NewService(allocCtx context.Context, cache *intercept.Cache, cfg config.BrowserConfig) (*Service, context.CancelFunc, error) {
	browserCtx, cancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to start browser: %w", err)
	}
	return &Service{
		BrowserCtx:     browserCtx,
		Runner:         CDPRunner{},
		Cache:          cache,
		AllowCreation:  cfg.AllowTabCreation,
		PollInterval:   cfg.PollInterval,
		AcquireTimeout: cfg.AcquireTimeout,
	}, cancel, nil
}

// AcquireHost locates an existing tab displaying targetID, or opens one at
// locatorHint when creation is permitted, then polls it toward stability. A
// poll budget overrun returns the handle flagged TimedOut instead of failing;
// downstream stages re-check readiness anyway, and a false negative here
// would cost the whole capture.
func (s *Service) AcquireHost(ctx context.Context, targetID, locatorHint string, allowCreate bool) (*Handle, error) {
	h, err := s.attach(ctx, targetID, locatorHint, allowCreate)
	if err != nil {
		return nil, err
	}
	s.attachInterceptListener(h)
	if s.Cache != nil {
		s.Cache.ReportActiveTarget(h.HostID, targetID)
	}

	deadline := time.Now().Add(s.AcquireTimeout)
	for {
		stable, err := s.checkStable(ctx, h, targetID)
		if err != nil {
			h.Close()
			return nil, err
		}
		if stable {
			h.State = StateStable
			logger.InfoC(ctx, "host stable", slog.String("hostId", h.HostID), slog.String("targetId", targetID))
			return h, nil
		}
		if time.Now().After(deadline) {
			h.TimedOut = true
			logger.WarnC(ctx, "host readiness poll timed out, proceeding best-effort",
				slog.String("hostId", h.HostID), slog.String("targetId", targetID))
			return h, nil
		}
		select {
		case <-ctx.Done():
			h.Close()
			return nil, ctx.Err()
		case <-time.After(s.PollInterval):
		}
	}
}

func (s *Service) attach(ctx context.Context, targetID, locatorHint string, allowCreate bool) (*Handle, error) {
	infos, err := chromedp.Targets(s.BrowserCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate targets: %w", err)
	}
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		if !MatchesTarget(info.URL, targetID) {
			continue
		}
		tabCtx, cancel := chromedp.NewContext(s.BrowserCtx, chromedp.WithTargetID(info.TargetID))
		logger.InfoC(ctx, "attached to existing host", slog.String("url", info.URL))
		return &Handle{
			Ctx:         tabCtx,
			TargetID:    info.TargetID,
			HostID:      string(info.TargetID),
			MediaTarget: targetID,
			cancel:      cancel,
		}, nil
	}

	if !allowCreate || !s.AllowCreation || locatorHint == "" {
		return nil, ErrNoHostAvailable
	}

	tabCtx, cancel := chromedp.NewContext(s.BrowserCtx)
	if err := chromedp.Run(tabCtx, chromedp.Navigate(locatorHint)); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to open %s: %v", ErrHostUnreachable, locatorHint, err)
	}
	tgt := chromedp.FromContext(tabCtx).Target
	h := &Handle{
		Ctx:         tabCtx,
		MediaTarget: targetID,
		AutoCreated: true,
		cancel:      cancel,
	}
	if tgt != nil {
		h.TargetID = tgt.TargetID
		h.HostID = string(tgt.TargetID)
	}
	logger.InfoC(ctx, "created host for target", slog.String("locator", locatorHint), slog.String("hostId", h.HostID))
	return h, nil
}

// checkStable evaluates the three joint readiness conditions: navigation
// complete, addressed resource still matching, and a positive media probe
// with a non-zero duration.
func (s *Service) checkStable(ctx context.Context, h *Handle, targetID string) (bool, error) {
	var loc string
	if err := s.Runner.Evaluate(ctx, h, "window.location.href", &loc); err != nil {
		return false, s.gone(ctx, h, err)
	}
	var readyState string
	if err := s.Runner.Evaluate(ctx, h, "document.readyState", &readyState); err != nil {
		return false, s.gone(ctx, h, err)
	}
	if readyState != "complete" || !MatchesTarget(loc, targetID) {
		return false, nil
	}
	desc, err := s.DescribeMedia(ctx, h)
	if err != nil {
		return false, s.gone(ctx, h, err)
	}
	return desc.Success && desc.DurationSeconds > 0 && desc.Readiness >= 1, nil
}

func (s *Service) gone(ctx context.Context, h *Handle, cause error) error {
	h.State = StateGone
	if s.Cache != nil {
		s.Cache.ForgetHost(h.HostID)
	}
	logger.ErrorC(ctx, "host went away mid-poll", slog.String("hostId", h.HostID), slog.Any("error", cause))
	return fmt.Errorf("%w: %v", ErrHostUnreachable, cause)
}

// MatchesTarget reports whether a tab URL addresses the given media target,
// tolerating URL drift as long as the id is still present somewhere.
func MatchesTarget(rawURL, targetID string) bool {
	if rawURL == "" || targetID == "" {
		return false
	}
	if id := intercept.TargetIDFromURL(rawURL); id != "" {
		return id == targetID
	}
	return strings.Contains(rawURL, targetID)
}

// attachInterceptListener streams the tab's network events into the
// intercept cache. Failures here are swallowed: interception is a fast-path
// optimization, never a dependency of the capture itself.
func (s *Service) attachInterceptListener(h *Handle) {
	if s.Cache == nil {
		return
	}
	chromedp.ListenTarget(h.Ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			s.Cache.Observe(intercept.Observation{
				RequestURL:  e.Request.URL,
				DocumentURL: e.DocumentURL,
				PageURL:     e.DocumentURL,
				HostID:      h.HostID,
				ObservedAt:  time.Now(),
			})
		case *network.EventResponseReceived:
			s.Cache.Observe(intercept.Observation{
				RequestURL: e.Response.URL,
				MimeType:   e.Response.MimeType,
				HostID:     h.HostID,
				ObservedAt: time.Now(),
			})
		}
	})
	_ = chromedp.Run(h.Ctx, network.Enable())
}
