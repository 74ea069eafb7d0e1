// Package recognition wraps the Yandex Vision text detection API.
package recognition

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/labelspy/server/internal/agent/model"
	errx "github.com/labelspy/server/internal/core/error"
	"github.com/labelspy/server/internal/metrics"
	logx "github.com/labelspy/server/pkg/logger"
)

const (
	gatewayName     = "recognition"
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 16 << 20
	featureText     = "TEXT_DETECTION"
)

// Client calls batchAnalyze and flattens the detected words into one string.
type Client struct {
	url        string
	apiKey     string
	folderID   string
	languages  []string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default client. Its Timeout is kept as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(cfg model.RecognitionConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		folderID:   cfg.FolderID,
		languages:  cfg.Languages,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type analyzeRequest struct {
	FolderID     string        `json:"folderId"`
	AnalyzeSpecs []analyzeSpec `json:"analyze_specs"`
}

type analyzeSpec struct {
	Content  string    `json:"content"`
	Features []feature `json:"features"`
}

type feature struct {
	Type                string              `json:"type"`
	TextDetectionConfig textDetectionConfig `json:"text_detection_config"`
}

type textDetectionConfig struct {
	LanguageCodes []string `json:"language_codes"`
}

// Recognize returns the text found on the image. It fails with
// errx.ErrRecognitionUnavailable on transport or status errors and with
// errx.ErrRecognitionEmpty when the provider found nothing.
func (c *Client) Recognize(ctx context.Context, image []byte) (text string, err error) {
	started := time.Now()
	defer func() {
		metrics.ObserveGateway(gatewayName, errx.Outcome(err), time.Since(started))
	}()

	if len(image) == 0 {
		return "", errx.New(errx.KindRecognitionEmpty, errors.New("image is empty"), "no text recognized")
	}

	body, err := json.Marshal(analyzeRequest{
		FolderID: c.folderID,
		AnalyzeSpecs: []analyzeSpec{{
			Content: base64.StdEncoding.EncodeToString(image),
			Features: []feature{{
				Type:                featureText,
				TextDetectionConfig: textDetectionConfig{LanguageCodes: c.languages},
			}},
		}},
	})
	if err != nil {
		return "", errx.New(errx.KindRecognitionUnavailable, err, "encode recognition request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", errx.New(errx.KindRecognitionUnavailable, err, "build recognition request")
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Api-Key "+c.apiKey)
	req.Header.Set("x-client-request-id", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logx.Error().Err(err).Str("request_id", requestID).Msg("recognition request failed")
		return "", errx.New(errx.KindRecognitionUnavailable, err, "recognition provider unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", errx.New(errx.KindRecognitionUnavailable, err, "read recognition response")
	}

	if resp.StatusCode != http.StatusOK {
		logx.Error().
			Int("status", resp.StatusCode).
			Str("request_id", requestID).
			Str("body", snippet(raw)).
			Msg("recognition provider returned error status")
		return "", errx.Newf(errx.KindRecognitionUnavailable, "recognition provider error", "status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(raw) {
		return "", errx.New(errx.KindRecognitionUnavailable, errors.New("response is not json"), "recognition provider error")
	}

	text = ExtractText(raw)
	if text == "" {
		return "", errx.New(errx.KindRecognitionEmpty, nil, "no text recognized")
	}

	logx.Debug().
		Str("request_id", requestID).
		Int("chars", len(text)).
		Dur("took", time.Since(started)).
		Msg("text recognized")
	return text, nil
}

// ExtractText concatenates every word text of a batchAnalyze response in
// reading order. Absent nested fields contribute nothing. Both the nested
// results[].results[].textDetection shape and the flat
// results[].textDetection shape are accepted.
func ExtractText(raw []byte) string {
	var sb strings.Builder
	gjson.GetBytes(raw, "results").ForEach(func(_, item gjson.Result) bool {
		appendDetection(&sb, item.Get("textDetection"))
		item.Get("results").ForEach(func(_, inner gjson.Result) bool {
			appendDetection(&sb, inner.Get("textDetection"))
			return true
		})
		return true
	})
	return sb.String()
}

func appendDetection(sb *strings.Builder, detection gjson.Result) {
	detection.Get("pages").ForEach(func(_, page gjson.Result) bool {
		page.Get("blocks").ForEach(func(_, block gjson.Result) bool {
			block.Get("lines").ForEach(func(_, line gjson.Result) bool {
				line.Get("words").ForEach(func(_, word gjson.Result) bool {
					sb.WriteString(word.Get("text").String())
					return true
				})
				return true
			})
			return true
		})
		return true
	})
}

func snippet(b []byte) string {
	const max = 200
	if len(b) > max {
		return fmt.Sprintf("%s...", b[:max])
	}
	return string(b)
}
