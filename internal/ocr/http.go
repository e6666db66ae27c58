package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/joseph-ayodele/docingest/internal/retry"
)

type HTTPConfig struct {
	BaseURL  string
	APIKey   string
	Language string
	Timeout  time.Duration // per batch attempt
	Retry    retry.Policy
}

// HTTPClient sends page ranges to a remote OCR service. Only the requested
// pages are uploaded: the range is cut out of the document first.
//
// Wire format: POST {base}/v1/ocr with the PDF as body (application/pdf);
// response {"pages":[{"page":1,"text":"...","error":""}]}, page numbers
// relative to the uploaded PDF.
type HTTPClient struct {
	cfg    HTTPConfig
	client *resty.Client
	logger *slog.Logger
}

var _ Recognizer = (*HTTPClient)(nil)

// StatusError is a non-2xx OCR service response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ocr service status %d: %s", e.Status, truncate(e.Body, 512))
}

func (e *StatusError) StatusCode() int { return e.Status }

type ocrResponse struct {
	Pages []PageText `json:"pages"`
}

func NewHTTPClient(cfg HTTPConfig, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.Default()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	return &HTTPClient{cfg: cfg, client: client, logger: logger}
}

func (c *HTTPClient) Recognize(ctx context.Context, pdf []byte, pages PageRange) ([]PageText, error) {
	total, err := PageCount(pdf)
	if err != nil {
		return nil, err
	}
	rng, ok := clamp(pages, total)
	if !ok {
		return []PageText{}, nil
	}
	part := pdf
	if rng.First != 1 || rng.Last != total {
		if part, err = cutPages(pdf, rng); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	var res ocrResponse
	policy := c.cfg.Retry.WithAttemptTimeout(c.cfg.Timeout)
	err = policy.Do(ctx, "ocr.batch", c.logger, func(ctx context.Context) error {
		res = ocrResponse{}
		req := c.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/pdf").
			SetBody(part).
			SetResult(&res)
		if c.cfg.Language != "" {
			req.SetQueryParam("lang", c.cfg.Language)
		}
		resp, err := req.Post("/v1/ocr")
		if err != nil {
			return err
		}
		if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
			return &StatusError{Status: resp.StatusCode(), Body: resp.String()}
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("ocr.http.batch_failed", "pages", rng.String(), "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	out := make([]PageText, 0, len(res.Pages))
	for _, p := range res.Pages {
		p.PageNumber = rng.First + p.PageNumber - 1
		out = append(out, p)
	}
	c.logger.Debug("ocr.http.batch_ok", "pages", rng.String(), "returned", len(out),
		"elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}
