package playback

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/VoidObscura/clipdaemon/services/host"
	"github.com/stretchr/testify/assert"
)

// pageRunner simulates a page whose video starts playing after a chosen
// strategy runs.
type pageRunner struct {
	caps        PlayerCapabilities
	playing     bool
	playsAfter  string // which script/selector flips playing on
	evaluations []string
	clicks      []string
	clickErr    error
}

func (p *pageRunner) Evaluate(ctx context.Context, h *host.Handle, expr string, out any) error {
	switch {
	case strings.Contains(expr, "hasPlayerApi"):
		if c, ok := out.(*PlayerCapabilities); ok {
			*c = p.caps
		}
	case strings.Contains(expr, "isPlaying"):
		if s, ok := out.(*State); ok {
			*s = State{IsPlaying: p.playing, Readiness: 4}
		}
	default:
		name := scriptName(expr)
		p.evaluations = append(p.evaluations, name)
		if name == p.playsAfter {
			p.playing = true
		}
	}
	return nil
}

func (p *pageRunner) Click(ctx context.Context, h *host.Handle, selector string) error {
	p.clicks = append(p.clicks, selector)
	if p.clickErr != nil {
		return p.clickErr
	}
	if p.playsAfter == "ui-click" {
		p.playing = true
	}
	return nil
}

func scriptName(expr string) string {
	switch {
	case strings.Contains(expr, "playVideo"):
		return "player-api"
	case strings.Contains(expr, "MouseEvent"):
		return "synthetic-gesture"
	case strings.Contains(expr, "v.play()"):
		return "native-play"
	default:
		return "unknown"
	}
}

func newTestForcer(runner *pageRunner) *Forcer {
	f := NewForcer(runner)
	f.Pause = time.Millisecond
	return f
}

func TestEnsurePlayingAlreadyPlaying(t *testing.T) {
	runner := &pageRunner{playing: true}
	state := newTestForcer(runner).EnsurePlaying(context.Background(), &host.Handle{})

	assert.True(t, state.IsPlaying)
	assert.Empty(t, runner.evaluations)
	assert.Empty(t, runner.clicks)
}

func TestEnsurePlayingShortCircuitsOnPlayerAPI(t *testing.T) {
	runner := &pageRunner{
		caps:       PlayerCapabilities{HasPlayerAPI: true, CanMute: true, CanPlay: true},
		playsAfter: "player-api",
	}
	state := newTestForcer(runner).EnsurePlaying(context.Background(), &host.Handle{})

	assert.True(t, state.IsPlaying)
	assert.Equal(t, []string{"player-api"}, runner.evaluations)
	assert.Empty(t, runner.clicks, "ladder must stop once playback advances")
}

func TestEnsurePlayingSkipsPlayerAPIWithoutCapability(t *testing.T) {
	runner := &pageRunner{playsAfter: "ui-click"}
	state := newTestForcer(runner).EnsurePlaying(context.Background(), &host.Handle{})

	assert.True(t, state.IsPlaying)
	assert.NotContains(t, runner.evaluations, "player-api")
	assert.NotEmpty(t, runner.clicks)
}

func TestEnsurePlayingEscalatesToGesture(t *testing.T) {
	runner := &pageRunner{playsAfter: "synthetic-gesture"}
	state := newTestForcer(runner).EnsurePlaying(context.Background(), &host.Handle{})

	assert.True(t, state.IsPlaying)
	assert.Equal(t, []string{"native-play", "synthetic-gesture"}, runner.evaluations)
}

func TestEnsurePlayingNeverFails(t *testing.T) {
	runner := &pageRunner{clickErr: errors.New("no clickable node")}
	state := newTestForcer(runner).EnsurePlaying(context.Background(), &host.Handle{})

	assert.False(t, state.IsPlaying)
	assert.Equal(t, 4, state.Readiness)
	// Every rung ran even though none succeeded.
	assert.Equal(t, []string{"native-play", "synthetic-gesture"}, runner.evaluations)
}

func TestMutedPlayOrdering(t *testing.T) {
	// Mute must precede play in every direct-control script or autoplay
	// gating rejects the play call.
	for _, js := range []string{nativePlayJS, syntheticGestureJS, playerAPIPlayJS} {
		muteAt := strings.Index(js, "mute")
		playAt := strings.LastIndex(js, "play")
		assert.Greater(t, playAt, muteAt)
		assert.GreaterOrEqual(t, muteAt, 0)
	}
}
