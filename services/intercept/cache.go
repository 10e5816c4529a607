package intercept

import (
	"context"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/VoidObscura/clipdaemon/logger"
)

const (
	// EntryTTL bounds how long an observed segment stays usable; media CDN
	// URLs carry expiry tokens so anything older is dead weight anyway.
	EntryTTL = 30 * time.Minute

	// SweepInterval is how often the background sweeper evicts expired
	// entries, independent of lookups.
	SweepInterval = 5 * time.Minute
)

type StreamRole int

const (
	RoleUnknown StreamRole = iota
	RoleVideo
	RoleAudio
)

// Observation is a single outbound network request seen in a host page.
type Observation struct {
	RequestURL  string
	DocumentURL string
	PageURL     string
	MimeType    string
	HostID      string
	ObservedAt  time.Time
}

// Segment is the cache entry for one target: candidate media locators in
// first-observed order, video and audio kept separately.
type Segment struct {
	TargetID      string
	VideoLocators []string
	AudioLocators []string
	ObservedAt    time.Time
}

// Cache is an in-memory index of media-segment URLs keyed by target id, plus
// a side table mapping a host (tab) to its currently active target. It is the
// only state shared between concurrent capture requests.
type Cache struct {
	mu            sync.RWMutex
	segments      map[string]*Segment
	activeTargets map[string]string
}

func NewCache() *Cache {
	return &Cache{
		segments:      make(map[string]*Segment),
		activeTargets: make(map[string]string),
	}
}

// ReportActiveTarget binds a host id to the target it is currently showing.
// Last writer wins; the mapping is only a resolution hint of last resort.
func (c *Cache) ReportActiveTarget(hostID, targetID string) {
	if hostID == "" || targetID == "" {
		return
	}
	c.mu.Lock()
	c.activeTargets[hostID] = targetID
	c.mu.Unlock()
}

// ForgetHost drops the active-target hint for a host that went away.
func (c *Cache) ForgetHost(hostID string) {
	c.mu.Lock()
	delete(c.activeTargets, hostID)
	c.mu.Unlock()
}

// Observe indexes a qualifying media-segment request. Non-media requests,
// malformed URLs and observations whose target cannot be resolved are dropped
// silently; this is best-effort instrumentation, never a correctness path.
func (c *Cache) Observe(obs Observation) {
	role := classifyRole(obs.RequestURL, obs.MimeType)
	if role == RoleUnknown {
		return
	}
	targetID := c.resolveTarget(obs)
	if targetID == "" {
		return
	}
	now := obs.ObservedAt
	if now.IsZero() {
		now = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	seg, ok := c.segments[targetID]
	if !ok {
		seg = &Segment{TargetID: targetID}
		c.segments[targetID] = seg
	}
	seg.ObservedAt = now
	switch role {
	case RoleVideo:
		seg.VideoLocators = appendLocator(seg.VideoLocators, obs.RequestURL)
	case RoleAudio:
		seg.AudioLocators = appendLocator(seg.AudioLocators, obs.RequestURL)
	}
}

// Lookup returns the cached segment for a target, or false when nothing
// usable was observed or the entry has expired.
func (c *Cache) Lookup(targetID string) (Segment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seg, ok := c.segments[targetID]
	if !ok || time.Since(seg.ObservedAt) > EntryTTL {
		return Segment{}, false
	}
	out := Segment{
		TargetID:      seg.TargetID,
		VideoLocators: append([]string(nil), seg.VideoLocators...),
		AudioLocators: append([]string(nil), seg.AudioLocators...),
		ObservedAt:    seg.ObservedAt,
	}
	return out, true
}

// StartSweeper evicts expired entries on a fixed interval until ctx is done.
func (c *Cache) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := c.sweep(time.Now())
			if evicted > 0 {
				logger.InfoC(ctx, "intercept cache sweep", slog.Int("evicted", evicted))
			}
		}
	}
}

func (c *Cache) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := 0
	for id, seg := range c.segments {
		if now.Sub(seg.ObservedAt) > EntryTTL {
			delete(c.segments, id)
			evicted++
		}
	}
	return evicted
}

// resolveTarget walks the priority chain: explicit id in the page URL, then
// in the referring document URL, then the active-target hint for the host.
func (c *Cache) resolveTarget(obs Observation) string {
	if id := TargetIDFromURL(obs.PageURL); id != "" {
		return id
	}
	if id := TargetIDFromURL(obs.DocumentURL); id != "" {
		return id
	}
	if obs.HostID != "" {
		c.mu.RLock()
		id := c.activeTargets[obs.HostID]
		c.mu.RUnlock()
		return id
	}
	return ""
}

// TargetIDFromURL extracts the media target id from a watch-page style URL
// (?v= query parameter, /embed/<id>, or /shorts/<id> path forms).
func TargetIDFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if id := u.Query().Get("v"); id != "" {
		return id
	}
	for _, prefix := range []string{"/embed/", "/shorts/", "/clip/"} {
		if rest, ok := strings.CutPrefix(u.Path, prefix); ok {
			if i := strings.IndexByte(rest, '/'); i >= 0 {
				rest = rest[:i]
			}
			return rest
		}
	}
	return ""
}

// formatIdentifiers is the fallback classifier for transports that do not
// declare a usable mime type on the request.
var formatIdentifiers = []string{"mp4", "webm", "m4s", "m4v", "m4a", "mp2t", "ump"}

func classifyRole(rawURL, mimeType string) StreamRole {
	mt := strings.ToLower(mimeType)
	if strings.HasPrefix(mt, "video/") {
		return RoleVideo
	}
	if strings.HasPrefix(mt, "audio/") {
		return RoleAudio
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return RoleUnknown
	}
	declared := strings.ToLower(u.Query().Get("mime"))
	if strings.HasPrefix(declared, "video/") {
		return RoleVideo
	}
	if strings.HasPrefix(declared, "audio/") {
		return RoleAudio
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
	for _, id := range formatIdentifiers {
		if ext == id {
			// A bare container extension cannot distinguish roles; treat
			// ambiguous containers as video, the common case.
			if ext == "m4a" {
				return RoleAudio
			}
			return RoleVideo
		}
	}
	return RoleUnknown
}

func appendLocator(locators []string, locator string) []string {
	for _, l := range locators {
		if l == locator {
			return locators
		}
	}
	return append(locators, locator)
}
