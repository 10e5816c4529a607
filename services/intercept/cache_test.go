package intercept

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const watchPage = "https://media.example.com/watch?v=abc123"

func videoObs(requestURL string) Observation {
	return Observation{
		RequestURL: requestURL,
		PageURL:    watchPage,
		MimeType:   "video/mp4",
	}
}

func TestObserveAndLookup(t *testing.T) {
	c := NewCache()
	c.Observe(videoObs("https://cdn.example.com/seg1"))

	seg, ok := c.Lookup("abc123")
	require.True(t, ok)
	assert.Equal(t, "abc123", seg.TargetID)
	assert.Equal(t, []string{"https://cdn.example.com/seg1"}, seg.VideoLocators)
	assert.Empty(t, seg.AudioLocators)
}

func TestObservePreservesInsertionOrder(t *testing.T) {
	c := NewCache()
	for i := 0; i < 5; i++ {
		c.Observe(videoObs(fmt.Sprintf("https://cdn.example.com/seg%d", i)))
	}
	seg, ok := c.Lookup("abc123")
	require.True(t, ok)
	require.Len(t, seg.VideoLocators, 5)
	for i, loc := range seg.VideoLocators {
		assert.Equal(t, fmt.Sprintf("https://cdn.example.com/seg%d", i), loc)
	}
}

func TestObserveDeduplicatesAndRefreshes(t *testing.T) {
	c := NewCache()
	obs := videoObs("https://cdn.example.com/seg1")
	obs.ObservedAt = time.Now().Add(-10 * time.Minute)
	c.Observe(obs)
	before, _ := c.Lookup("abc123")

	obs.ObservedAt = time.Now()
	c.Observe(obs)
	after, ok := c.Lookup("abc123")
	require.True(t, ok)
	assert.Len(t, after.VideoLocators, 1)
	assert.True(t, after.ObservedAt.After(before.ObservedAt))
}

func TestObserveSplitsRoles(t *testing.T) {
	c := NewCache()
	c.Observe(Observation{RequestURL: "https://cdn.example.com/v", PageURL: watchPage, MimeType: "video/webm"})
	c.Observe(Observation{RequestURL: "https://cdn.example.com/a", PageURL: watchPage, MimeType: "audio/webm"})

	seg, ok := c.Lookup("abc123")
	require.True(t, ok)
	assert.Equal(t, []string{"https://cdn.example.com/v"}, seg.VideoLocators)
	assert.Equal(t, []string{"https://cdn.example.com/a"}, seg.AudioLocators)
}

func TestObserveDropsNonMediaRequests(t *testing.T) {
	c := NewCache()
	c.Observe(Observation{RequestURL: "https://cdn.example.com/app.js", PageURL: watchPage, MimeType: "text/javascript"})
	c.Observe(Observation{RequestURL: "https://cdn.example.com/style.css", PageURL: watchPage})

	_, ok := c.Lookup("abc123")
	assert.False(t, ok)
}

func TestObserveDropsUnresolvableTarget(t *testing.T) {
	c := NewCache()
	c.Observe(Observation{RequestURL: "https://cdn.example.com/seg1", MimeType: "video/mp4"})
	c.Observe(Observation{RequestURL: "https://cdn.example.com/seg1", MimeType: "video/mp4", PageURL: "https://media.example.com/home"})

	_, ok := c.Lookup("")
	assert.False(t, ok)
	_, ok = c.Lookup("abc123")
	assert.False(t, ok)
}

func TestObserveMalformedURLSwallowed(t *testing.T) {
	c := NewCache()
	c.Observe(Observation{RequestURL: "://not-a-url", PageURL: watchPage, MimeType: ""})
	_, ok := c.Lookup("abc123")
	assert.False(t, ok)
}

func TestResolvePriorityChain(t *testing.T) {
	c := NewCache()
	c.ReportActiveTarget("host-1", "fromHint")

	// Page URL wins over everything.
	c.Observe(Observation{RequestURL: "https://cdn.example.com/s1", MimeType: "video/mp4",
		PageURL: "https://media.example.com/watch?v=fromPage",
		DocumentURL: "https://media.example.com/watch?v=fromDoc", HostID: "host-1"})
	_, ok := c.Lookup("fromPage")
	assert.True(t, ok)

	// Document URL next.
	c.Observe(Observation{RequestURL: "https://cdn.example.com/s2", MimeType: "video/mp4",
		DocumentURL: "https://media.example.com/watch?v=fromDoc", HostID: "host-1"})
	_, ok = c.Lookup("fromDoc")
	assert.True(t, ok)

	// Active-target hint last.
	c.Observe(Observation{RequestURL: "https://cdn.example.com/s3", MimeType: "video/mp4", HostID: "host-1"})
	_, ok = c.Lookup("fromHint")
	assert.True(t, ok)
}

func TestActiveTargetLastWriterWins(t *testing.T) {
	c := NewCache()
	c.ReportActiveTarget("host-1", "first")
	c.ReportActiveTarget("host-1", "second")
	c.Observe(Observation{RequestURL: "https://cdn.example.com/s1", MimeType: "video/mp4", HostID: "host-1"})

	_, ok := c.Lookup("first")
	assert.False(t, ok)
	_, ok = c.Lookup("second")
	assert.True(t, ok)
}

func TestForgetHost(t *testing.T) {
	c := NewCache()
	c.ReportActiveTarget("host-1", "abc123")
	c.ForgetHost("host-1")
	c.Observe(Observation{RequestURL: "https://cdn.example.com/s1", MimeType: "video/mp4", HostID: "host-1"})

	_, ok := c.Lookup("abc123")
	assert.False(t, ok)
}

func TestLookupExpiredEntry(t *testing.T) {
	c := NewCache()
	obs := videoObs("https://cdn.example.com/seg1")
	obs.ObservedAt = time.Now().Add(-EntryTTL - time.Minute)
	c.Observe(obs)

	_, ok := c.Lookup("abc123")
	assert.False(t, ok)
}

func TestSweepEvictsOnlyExpired(t *testing.T) {
	c := NewCache()
	old := videoObs("https://cdn.example.com/old")
	old.ObservedAt = time.Now().Add(-EntryTTL - time.Minute)
	c.Observe(old)

	fresh := Observation{RequestURL: "https://cdn.example.com/new", MimeType: "video/mp4",
		PageURL: "https://media.example.com/watch?v=fresh"}
	c.Observe(fresh)

	evicted := c.sweep(time.Now())
	assert.Equal(t, 1, evicted)
	_, ok := c.Lookup("fresh")
	assert.True(t, ok)
}

func TestConcurrentObserveAndLookup(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Observe(videoObs(fmt.Sprintf("https://cdn.example.com/w%d-%d", n, j)))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Lookup("abc123")
			}
		}()
	}
	wg.Wait()

	seg, ok := c.Lookup("abc123")
	require.True(t, ok)
	assert.Len(t, seg.VideoLocators, 800)
}

func TestTargetIDFromURL(t *testing.T) {
	cases := map[string]string{
		"https://media.example.com/watch?v=abc123":       "abc123",
		"https://media.example.com/watch?t=10&v=abc123":  "abc123",
		"https://media.example.com/embed/xyz789":         "xyz789",
		"https://media.example.com/shorts/sh0rt1/extra":  "sh0rt1",
		"https://media.example.com/clip/cl1p":            "cl1p",
		"https://media.example.com/home":                 "",
		"": "",
	}
	for raw, want := range cases {
		assert.Equal(t, want, TargetIDFromURL(raw), raw)
	}
}

func TestClassifyRole(t *testing.T) {
	assert.Equal(t, RoleVideo, classifyRole("https://cdn.example.com/x", "video/mp4"))
	assert.Equal(t, RoleAudio, classifyRole("https://cdn.example.com/x", "audio/webm"))
	assert.Equal(t, RoleVideo, classifyRole("https://cdn.example.com/x?mime=video%2Fmp4", ""))
	assert.Equal(t, RoleAudio, classifyRole("https://cdn.example.com/x?mime=audio%2Fwebm", ""))
	assert.Equal(t, RoleVideo, classifyRole("https://cdn.example.com/seg.m4s", ""))
	assert.Equal(t, RoleAudio, classifyRole("https://cdn.example.com/seg.m4a", ""))
	assert.Equal(t, RoleUnknown, classifyRole("https://cdn.example.com/app.js", ""))
}
