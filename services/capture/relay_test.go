package capture

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resultEnvelope(t *testing.T, correlationID string, w wireResult) string {
	t.Helper()
	b, err := json.Marshal(envelope{CorrelationID: correlationID, Phase: phaseResult, Result: &w})
	require.NoError(t, err)
	return string(b)
}

func successEnvelope(t *testing.T, correlationID string, payload []byte) string {
	t.Helper()
	return resultEnvelope(t, correlationID, wireResult{
		OK:         true,
		MimeType:   "video/webm",
		DataBase64: base64.StdEncoding.EncodeToString(payload),
		ActualEnd:  40,
		SizeBytes:  int64(len(payload)),
	})
}

func TestRelayDeliversResult(t *testing.T) {
	r := NewRelay()
	require.True(t, r.register("cid-1"))
	ctx := context.Background()

	r.Dispatch(ctx, successEnvelope(t, "cid-1", []byte("webmdata")))
	res := r.AwaitResult(ctx, "cid-1", time.Second)
	assert.True(t, res.OK)
	assert.Equal(t, []byte("webmdata"), res.Payload)
	assert.Equal(t, "video/webm", res.MimeType)
	assert.Equal(t, int64(8), res.SizeBytes)
}

func TestRelayRegisterIdempotent(t *testing.T) {
	r := NewRelay()
	assert.True(t, r.register("cid-1"))
	assert.False(t, r.register("cid-1"))
}

func TestRelayDuplicateDeliveryDiscarded(t *testing.T) {
	r := NewRelay()
	require.True(t, r.register("cid-1"))
	ctx := context.Background()

	r.Dispatch(ctx, successEnvelope(t, "cid-1", []byte("first")))
	// A buggy executor sending twice must not reach a second waiter.
	r.Dispatch(ctx, successEnvelope(t, "cid-1", []byte("second")))

	res := r.AwaitResult(ctx, "cid-1", time.Second)
	assert.Equal(t, []byte("first"), res.Payload)

	// The waiter is gone; a third await times out synthetically.
	late := r.AwaitResult(ctx, "cid-1", 10*time.Millisecond)
	assert.False(t, late.OK)
	assert.Equal(t, KindWatchdogTimeout, late.Kind)
}

func TestRelayFiltersByCorrelationID(t *testing.T) {
	r := NewRelay()
	require.True(t, r.register("cid-a"))
	require.True(t, r.register("cid-b"))
	ctx := context.Background()

	r.Dispatch(ctx, successEnvelope(t, "cid-a", []byte("payload-a")))
	r.Dispatch(ctx, successEnvelope(t, "cid-b", []byte("payload-b")))

	resA := r.AwaitResult(ctx, "cid-a", time.Second)
	resB := r.AwaitResult(ctx, "cid-b", time.Second)
	assert.Equal(t, []byte("payload-a"), resA.Payload)
	assert.Equal(t, []byte("payload-b"), resB.Payload)
}

func TestRelayStartedDoesNotResolve(t *testing.T) {
	r := NewRelay()
	require.True(t, r.register("cid-1"))
	ctx := context.Background()

	b, err := json.Marshal(envelope{CorrelationID: "cid-1", Phase: phaseStarted})
	require.NoError(t, err)
	r.Dispatch(ctx, string(b))

	res := r.AwaitResult(ctx, "cid-1", 20*time.Millisecond)
	assert.False(t, res.OK)
	assert.Equal(t, KindWatchdogTimeout, res.Kind)
}

func TestRelayAwaitTimeoutSynthetic(t *testing.T) {
	r := NewRelay()
	require.True(t, r.register("cid-1"))

	start := time.Now()
	res := r.AwaitResult(context.Background(), "cid-1", 50*time.Millisecond)
	assert.WithinDuration(t, start.Add(50*time.Millisecond), time.Now(), 300*time.Millisecond)
	assert.False(t, res.OK)
	assert.Equal(t, KindWatchdogTimeout, res.Kind)
}

func TestRelayAwaitCancelled(t *testing.T) {
	r := NewRelay()
	require.True(t, r.register("cid-1"))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	res := r.AwaitResult(ctx, "cid-1", 5*time.Second)
	assert.False(t, res.OK)
	assert.Equal(t, KindWatchdogTimeout, res.Kind)
}

func TestRelayFailureEnvelope(t *testing.T) {
	r := NewRelay()
	require.True(t, r.register("cid-1"))
	ctx := context.Background()

	r.Dispatch(ctx, resultEnvelope(t, "cid-1", wireResult{
		Kind:        string(KindMediaNeverReady),
		Message:     "media element never became ready",
		Diagnostics: &Diagnostics{Readiness: 1, NetworkState: 2},
	}))
	res := r.AwaitResult(ctx, "cid-1", time.Second)
	assert.False(t, res.OK)
	assert.Equal(t, KindMediaNeverReady, res.Kind)
	require.NotNil(t, res.Diagnostics)
	assert.Equal(t, 1, res.Diagnostics.Readiness)
	assert.Equal(t, 2, res.Diagnostics.NetworkState)
}

func TestRelaySuccessWithoutBytesBecomesFailure(t *testing.T) {
	r := NewRelay()
	require.True(t, r.register("cid-1"))
	ctx := context.Background()

	r.Dispatch(ctx, resultEnvelope(t, "cid-1", wireResult{OK: true, MimeType: "video/webm"}))
	res := r.AwaitResult(ctx, "cid-1", time.Second)
	assert.False(t, res.OK)
	assert.Equal(t, KindPayloadTooSmall, res.Kind)
	assert.Empty(t, res.Payload)
}

func TestRelayMalformedEnvelopeIgnored(t *testing.T) {
	r := NewRelay()
	require.True(t, r.register("cid-1"))
	ctx := context.Background()

	r.Dispatch(ctx, "{not json")
	res := r.AwaitResult(ctx, "cid-1", 20*time.Millisecond)
	assert.Equal(t, KindWatchdogTimeout, res.Kind)
}

func TestRelayUnknownCorrelationDiscarded(t *testing.T) {
	r := NewRelay()
	ctx := context.Background()
	// No waiter registered; must not panic or leak.
	r.Dispatch(ctx, successEnvelope(t, "ghost", []byte("data")))
	res := r.AwaitResult(ctx, "ghost", 20*time.Millisecond)
	assert.Equal(t, KindWatchdogTimeout, res.Kind)
}
