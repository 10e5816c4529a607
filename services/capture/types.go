package capture

import "github.com/VoidObscura/clipdaemon/services/upload"

// FailureKind is the machine-readable classification of a capture failure.
// Kinds produced inside the page travel through the relay unchanged; the
// orchestrator adds its own setup kinds to the same enumeration.
type FailureKind string

const (
	KindNoMediaElement     FailureKind = "NoMediaElement"
	KindMediaNeverReady    FailureKind = "MediaNeverReady"
	KindCaptureUnsupported FailureKind = "CaptureUnsupported"
	KindDrmProtected       FailureKind = "DrmProtected"
	KindRecorderError      FailureKind = "RecorderError"
	KindPayloadTooSmall    FailureKind = "PayloadTooSmall"
	KindWatchdogTimeout    FailureKind = "WatchdogTimeout"

	KindNoHostAvailable FailureKind = "NoHostAvailable"
	KindHostUnreachable FailureKind = "HostUnreachable"
	KindInjectionFailed FailureKind = "InjectionFailed"
	KindInvalidRequest  FailureKind = "InvalidRequest"
)

// Request is one capture attempt. SegmentStart and SegmentEnd are seconds
// into the media; nil means "from zero" and "default span" respectively.
type Request struct {
	TargetID          string   `json:"targetId"`
	SourceLocator     string   `json:"sourceLocator"`
	SegmentStart      *float64 `json:"segmentStart,omitempty"`
	SegmentEnd        *float64 `json:"segmentEnd,omitempty"`
	QualityHint       string   `json:"qualityHint,omitempty"`
	AllowHostCreation bool     `json:"allowHostCreation"`
}

// Diagnostics travel with MediaNeverReady failures so a caller can tell an
// ad break from a sign-in wall from a region block.
type Diagnostics struct {
	Readiness    int `json:"readiness"`
	VideoWidth   int `json:"videoWidth"`
	VideoHeight  int `json:"videoHeight"`
	NetworkState int `json:"networkState"`
}

// CaptureResult is the terminal outcome of one capture attempt, produced
// exactly once per correlation id. Either OK with a non-empty payload, or a
// typed failure; never both, never neither.
type CaptureResult struct {
	OK          bool
	Payload     []byte
	MimeType    string
	ActualStart float64
	ActualEnd   float64
	SizeBytes   int64
	Kind        FailureKind
	Message     string
	Diagnostics *Diagnostics
}

// Result is what the orchestrator hands back to the caller: the capture
// outcome plus, on success, what happened to the payload.
type Result struct {
	CaptureResult
	Upload         *upload.Outcome
	SourceLocators []string
}

const (
	phaseStarted = "Started"
	phaseResult  = "Result"
)

// envelope is the wire form pushed from the page through the CDP binding.
type envelope struct {
	CorrelationID string      `json:"correlationId"`
	Phase         string      `json:"phase"`
	Result        *wireResult `json:"result"`
}

type wireResult struct {
	OK          bool         `json:"ok"`
	Kind        string       `json:"kind"`
	Message     string       `json:"message"`
	MimeType    string       `json:"mimeType"`
	DataBase64  string       `json:"dataBase64"`
	ActualStart float64      `json:"actualStart"`
	ActualEnd   float64      `json:"actualEnd"`
	SizeBytes   int64        `json:"sizeBytes"`
	Diagnostics *Diagnostics `json:"diagnostics"`
}
