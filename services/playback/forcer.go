package playback

import (
	"context"
	"log/slog"
	"time"

	"github.com/VoidObscura/clipdaemon/logger"
	"github.com/VoidObscura/clipdaemon/services/host"
)

// State is the best-known playback state after forcing. EnsurePlaying never
// fails; the capture stage decides whether this state is good enough.
type State struct {
	IsPlaying       bool    `json:"isPlaying"`
	Readiness       int     `json:"readiness"`
	CurrentPosition float64 `json:"currentPosition"`
}

// PlayerCapabilities is the result of probing the page for a high-level
// player control surface, so the strategy ladder branches on data instead of
// scattering existence checks.
type PlayerCapabilities struct {
	HasPlayerAPI bool `json:"hasPlayerApi"`
	CanMute      bool `json:"canMute"`
	CanPlay      bool `json:"canPlay"`
}

const capabilityProbeJS = `(() => {
	const p = document.getElementById('movie_player') || document.querySelector('.html5-video-player');
	return {
		hasPlayerApi: !!p,
		canMute: !!(p && typeof p.mute === 'function'),
		canPlay: !!(p && typeof p.playVideo === 'function'),
	};
})()`

const playbackStateJS = `(() => {
	const v = document.querySelector('video');
	if (!v) { return { isPlaying: false, readiness: 0, currentPosition: 0 }; }
	return {
		isPlaying: !v.paused && !v.ended && v.readyState >= 2,
		readiness: v.readyState,
		currentPosition: v.currentTime,
	};
})()`

// Muting before playing is required ordering: muted autoplay is permitted in
// backgrounded tabs, unmuted autoplay is not.
const playerAPIPlayJS = `(() => {
	const p = document.getElementById('movie_player') || document.querySelector('.html5-video-player');
	if (!p) { return false; }
	try {
		if (typeof p.mute === 'function') { p.mute(); }
		if (typeof p.playVideo === 'function') { p.playVideo(); return true; }
	} catch (e) {}
	return false;
})()`

const nativePlayJS = `(() => {
	const v = document.querySelector('video');
	if (!v) { return false; }
	v.muted = true;
	const r = v.play();
	if (r && typeof r.catch === 'function') { r.catch(() => {}); }
	return true;
})()`

const syntheticGestureJS = `(() => {
	const v = document.querySelector('video');
	if (!v) { return false; }
	const ev = new MouseEvent('click', { bubbles: true, cancelable: true, view: window });
	(v.parentElement || v).dispatchEvent(ev);
	document.body.dispatchEvent(new KeyboardEvent('keydown', { key: 'k', bubbles: true }));
	v.muted = true;
	const r = v.play();
	if (r && typeof r.catch === 'function') { r.catch(() => {}); }
	return true;
})()`

// playButtonSelectors are tried in order for the synthetic UI click rung.
var playButtonSelectors = []string{
	".ytp-play-button",
	"button[aria-label*='Play']",
	".play-button",
}

// Forcer drives an embedded media element into a playing state through an
// escalating ladder of strategies.
type Forcer struct {
	Runner host.ScriptRunner

	// Pause between escalating rungs, long enough for the element to react.
	Pause time.Duration
}

func NewForcer(runner host.ScriptRunner) *Forcer {
	return &Forcer{Runner: runner, Pause: 750 * time.Millisecond}
}

type strategy struct {
	name  string
	apply func(ctx context.Context, h *host.Handle) error
}

// EnsurePlaying applies each strategy in order, short-circuiting as soon as a
// probe shows playback advancing. It always returns the best-known state,
// even when every rung fails.
func (f *Forcer) EnsurePlaying(ctx context.Context, h *host.Handle) State {
	caps := f.probeCapabilities(ctx, h)

	ladder := []strategy{}
	if caps.HasPlayerAPI && caps.CanPlay {
		ladder = append(ladder, strategy{"player-api", f.playViaPlayerAPI})
	}
	ladder = append(ladder,
		strategy{"ui-click", f.playViaUIClick},
		strategy{"native-play", f.playViaElement},
		strategy{"synthetic-gesture", f.playViaGesture},
	)

	state := f.probeState(ctx, h)
	if state.IsPlaying {
		return state
	}
	for _, s := range ladder {
		if err := s.apply(ctx, h); err != nil {
			logger.WarnC(ctx, "playback strategy errored", slog.String("strategy", s.name), slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return state
		case <-time.After(f.Pause):
		}
		state = f.probeState(ctx, h)
		if state.IsPlaying {
			logger.InfoC(ctx, "playback forced", slog.String("strategy", s.name))
			return state
		}
	}
	logger.WarnC(ctx, "playback could not be confirmed, continuing in degraded mode",
		slog.Int("readiness", state.Readiness))
	return state
}

func (f *Forcer) probeCapabilities(ctx context.Context, h *host.Handle) PlayerCapabilities {
	var caps PlayerCapabilities
	if err := f.Runner.Evaluate(ctx, h, capabilityProbeJS, &caps); err != nil {
		logger.WarnC(ctx, "capability probe failed", slog.Any("error", err))
	}
	return caps
}

func (f *Forcer) probeState(ctx context.Context, h *host.Handle) State {
	var st State
	if err := f.Runner.Evaluate(ctx, h, playbackStateJS, &st); err != nil {
		logger.WarnC(ctx, "playback state probe failed", slog.Any("error", err))
	}
	return st
}

func (f *Forcer) playViaPlayerAPI(ctx context.Context, h *host.Handle) error {
	var ok bool
	return f.Runner.Evaluate(ctx, h, playerAPIPlayJS, &ok)
}

func (f *Forcer) playViaUIClick(ctx context.Context, h *host.Handle) error {
	var lastErr error
	for _, sel := range playButtonSelectors {
		if err := f.Runner.Click(ctx, h, sel); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (f *Forcer) playViaElement(ctx context.Context, h *host.Handle) error {
	var ok bool
	return f.Runner.Evaluate(ctx, h, nativePlayJS, &ok)
}

func (f *Forcer) playViaGesture(ctx context.Context, h *host.Handle) error {
	var ok bool
	return f.Runner.Evaluate(ctx, h, syntheticGestureJS, &ok)
}
