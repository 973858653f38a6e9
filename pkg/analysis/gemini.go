package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/teslashibe/go-overlay/internal/httpc"
	"github.com/teslashibe/go-overlay/pkg/annotation"
)

const providerGemini = "gemini"

// Gemini implements Analyzer against Google's Gemini generateContent API.
type Gemini struct {
	apiKey string
	config Config
	http   *http.Client
	logger *slog.Logger
}

// NewGemini creates a Gemini analyzer. Zero fields in cfg take their
// DefaultConfig values.
func NewGemini(cfg Config) (*Gemini, error) {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = def.JPEGQuality
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	if cfg.APIKey == "" {
		return nil, WrapError(providerGemini, ErrNoAPIKey)
	}

	return &Gemini{
		apiKey: cfg.APIKey,
		config: cfg,
		http:   httpc.NewClient(cfg.Timeout),
		logger: cfg.logger().With("component", "analysis.gemini"),
	}, nil
}

// Name returns the provider name.
func (g *Gemini) Name() string { return providerGemini }

// Analyze sends the frames with the annotation prompt and parses the reply.
func (g *Gemini) Analyze(ctx context.Context, req *Request) (*annotation.Result, error) {
	if req == nil || len(req.Frames) == 0 {
		return nil, WrapError(providerGemini, ErrNoFrames)
	}
	start := time.Now()

	parts := []map[string]interface{}{
		{"text": req.prompt()},
	}
	for _, f := range req.Frames {
		if f.Image == nil {
			return nil, WrapError(providerGemini, ErrNoFrames)
		}
		if req.Video() {
			parts = append(parts, map[string]interface{}{
				"text": "timestamp " + annotation.FormatTimestamp(f.Time),
			})
		}
		b64, err := EncodeImageBase64(f.Image, g.config.JPEGQuality)
		if err != nil {
			return nil, WrapError(providerGemini, fmt.Errorf("encode image: %w", err))
		}
		parts = append(parts, map[string]interface{}{
			"inline_data": map[string]string{
				"mime_type": "image/jpeg",
				"data":      b64,
			},
		})
	}

	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": parts},
		},
		"generationConfig": map[string]interface{}{
			"temperature":      g.config.Temperature,
			"maxOutputTokens":  g.config.MaxTokens,
			"responseMimeType": "application/json",
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(providerGemini, err)
	}

	text, err := g.generateWithRetry(ctx, body)
	if err != nil {
		return nil, err
	}

	res, err := annotation.ParseResult([]byte(text))
	if err != nil {
		return nil, WrapError(providerGemini, fmt.Errorf("parse reply: %w", err))
	}

	g.logger.Info("analysis complete",
		"entities", len(res.Entities),
		"frames", len(req.Frames),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// generateWithRetry performs the request, retrying rate limits and server
// errors with a linear backoff.
func (g *Gemini) generateWithRetry(ctx context.Context, body []byte) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= g.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(g.config.RetryDelay * time.Duration(attempt)):
			}
		}

		text, err := g.generate(ctx, body)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return "", err
		}
		g.logger.Warn("retrying request",
			"attempt", attempt+1,
			"max_retries", g.config.MaxRetries,
			"error", err,
		)
	}
	return "", lastErr
}

func (g *Gemini) generate(ctx context.Context, body []byte) (string, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.config.BaseURL, g.config.Model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", WrapError(providerGemini, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(httpReq)
	if err != nil {
		return "", WrapError(providerGemini, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", g.parseError(resp)
	}

	var result geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", WrapError(providerGemini, fmt.Errorf("decode response: %w", err))
	}

	if result.Error.Message != "" {
		return "", &APIError{
			StatusCode: resp.StatusCode,
			Message:    result.Error.Message,
			Provider:   providerGemini,
		}
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", WrapError(providerGemini, ErrEmptyResponse)
	}

	var text string
	for _, p := range result.Candidates[0].Content.Parts {
		text += p.Text
	}
	return text, nil
}

// Close releases resources.
func (g *Gemini) Close() error {
	g.http.CloseIdleConnections()
	return nil
}

// parseError reads and parses an error response.
func (g *Gemini) parseError(resp *http.Response) error {
	body, _ := httpc.ReadBody(resp, 64*1024)

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}

	message := string(body)
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Provider:   providerGemini,
	}
}

// geminiResponse is the Gemini API response format.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Verify Gemini implements Analyzer at compile time.
var _ Analyzer = (*Gemini)(nil)
