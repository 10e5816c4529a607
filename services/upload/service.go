package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/VoidObscura/clipdaemon/config"
	"github.com/VoidObscura/clipdaemon/internal"
	"github.com/VoidObscura/clipdaemon/logger"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Metadata accompanies the payload on the transport.
type Metadata struct {
	TargetID     string
	Type         string // "video" or "audio"
	StartSeconds float64
	EndSeconds   float64
}

// Outcome is either Persisted (the transport accepted the payload and
// returned a locator) or LocalOnly (the raw payload handed back with the
// reason the transport was skipped or failed). LocalOnly is not an error:
// the transport is an external service whose availability is not ours to
// guarantee, and the payload must never be lost to it.
type Outcome struct {
	Persisted bool
	Locator   string
	Payload   []byte
	Reason    string
	SavedPath string
}

// Service posts captured payloads to the configured transport.
type Service struct {
	Endpoint    string
	Client      *http.Client
	TokenConfig *clientcredentials.Config
}

func NewService(cfg config.UploadConfig) *Service {
	s := &Service{
		Endpoint: cfg.Endpoint,
		Client:   &http.Client{Timeout: cfg.Timeout},
	}
	if s.Client.Timeout == 0 {
		s.Client.Timeout = 60 * time.Second
	}
	if cfg.ClientID != "" && cfg.TokenURL != "" {
		s.TokenConfig = &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
	}
	return s
}

type transportResponse struct {
	URL string `json:"url"`
}

// Persist attempts one multipart POST to the transport. Any transport error
// or non-success status degrades to LocalOnly with the payload attached.
func (s *Service) Persist(ctx context.Context, payload []byte, mimeType string, meta Metadata) Outcome {
	localOnly := func(reason string) Outcome {
		logger.WarnC(ctx, "upload degraded to local-only",
			slog.String("targetId", meta.TargetID), slog.String("reason", reason))
		return Outcome{Payload: payload, Reason: reason}
	}
	if s.Endpoint == "" {
		return localOnly("no upload endpoint configured")
	}

	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file",
		fmt.Sprintf("%s.%s", meta.TargetID, internal.ExtensionForMime(mimeType)))
	if err != nil {
		return localOnly(fmt.Sprintf("failed to build form: %v", err))
	}
	if _, err = part.Write(payload); err != nil {
		return localOnly(fmt.Sprintf("failed to write payload: %v", err))
	}
	_ = writer.WriteField("targetId", meta.TargetID)
	_ = writer.WriteField("type", meta.Type)
	_ = writer.WriteField("segmentStart", fmt.Sprintf("%.3f", meta.StartSeconds))
	_ = writer.WriteField("segmentEnd", fmt.Sprintf("%.3f", meta.EndSeconds))
	if err = writer.Close(); err != nil {
		return localOnly(fmt.Sprintf("failed to finalize form: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, body)
	if err != nil {
		return localOnly(fmt.Sprintf("failed to build request: %v", err))
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token, err := s.transportToken(ctx); err != nil {
		return localOnly(fmt.Sprintf("failed to get transport token: %v", err))
	} else if token != nil {
		token.SetAuthHeader(req)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return localOnly(fmt.Sprintf("transport error: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return localOnly(fmt.Sprintf("failed to read transport response: %v", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return localOnly(fmt.Sprintf("transport returned status %d", resp.StatusCode))
	}
	var tr transportResponse
	if err = json.Unmarshal(respBody, &tr); err != nil || tr.URL == "" {
		return localOnly("transport response missing locator")
	}
	logger.InfoC(ctx, "payload persisted",
		slog.String("targetId", meta.TargetID), slog.String("locator", tr.URL))
	return Outcome{Persisted: true, Locator: tr.URL}
}

// transportToken fetches a client-credentials token when auth is configured;
// nil token means the transport is unauthenticated.
func (s *Service) transportToken(ctx context.Context) (*oauth2.Token, error) {
	if s.TokenConfig == nil {
		return nil, nil
	}
	token, err := s.TokenConfig.Token(ctx)
	if err != nil {
		logger.ErrorC(ctx, "failed to get transport token", slog.Any("error", err))
		return nil, err
	}
	return token, nil
}
