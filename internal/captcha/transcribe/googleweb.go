// File: internal/captcha/transcribe/googleweb.go
package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/enroll-cli/internal/config"
)

// googleWebDefaultConfidence is used when the service omits a confidence
// score, which it does for all but the first alternative.
const googleWebDefaultConfidence = 0.6

// GoogleWeb is a client for the free web speech recognition endpoint.
type GoogleWeb struct {
	cfg    config.GoogleWebConfig
	client *http.Client
}

// NewGoogleWeb builds the engine from configuration.
func NewGoogleWeb(cfg config.GoogleWebConfig) *GoogleWeb {
	return &GoogleWeb{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name implements Engine.
func (g *GoogleWeb) Name() string { return "google_web" }

// Transcribe implements Engine. The endpoint answers with one JSON document
// per line; the first non-empty result carries the alternatives.
func (g *GoogleWeb) Transcribe(ctx context.Context, audio []byte, mimeType string) (Result, error) {
	endpoint, err := url.Parse(g.cfg.Endpoint)
	if err != nil {
		return Result{}, fmt.Errorf("invalid google_web endpoint: %w", err)
	}
	q := endpoint.Query()
	q.Set("client", "chromium")
	q.Set("lang", g.cfg.Language)
	if g.cfg.APIKey != "" {
		q.Set("key", g.cfg.APIKey)
	}
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(audio))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", mimeType)

	resp, err := g.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("google_web request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("google_web returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("could not read google_web response: %w", err)
	}

	text, confidence, err := parseGoogleWebResponse(body)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: Clean(text), Confidence: confidence, Engine: g.Name()}, nil
}

type googleWebResponse struct {
	Result []struct {
		Alternative []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternative"`
	} `json:"result"`
}

// parseGoogleWebResponse handles the line-delimited JSON the service emits.
// The first line is typically an empty result stub.
func parseGoogleWebResponse(body []byte) (string, float64, error) {
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var parsed googleWebResponse
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			continue
		}
		for _, r := range parsed.Result {
			if len(r.Alternative) == 0 {
				continue
			}
			best := r.Alternative[0]
			confidence := best.Confidence
			if confidence == 0 {
				confidence = googleWebDefaultConfidence
			}
			if best.Transcript != "" {
				return best.Transcript, confidence, nil
			}
		}
	}
	return "", 0, fmt.Errorf("google_web: %w", ErrNoTranscript)
}
