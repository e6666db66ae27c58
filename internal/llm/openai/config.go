package openai

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/docingest/internal/retry"
)

// Config for the OpenAI client.
type Config struct {
	APIKey      string        // if empty, falls back to env OPENAI_API_KEY
	BaseURL     string        // default https://api.openai.com/v1
	Model       string        // e.g., "gpt-4o-mini"
	Temperature float32       // 0..2
	MaxTokens   int           // 0 lets the provider decide
	Timeout     time.Duration // per-attempt timeout
	// RequestsPerSec throttles outgoing calls; 0 disables throttling.
	RequestsPerSec float64
	Retry          retry.Policy
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1)
	}
	return &Client{
		cfg: cfg,
		// Attempt deadlines come from the retry policy; the transport only
		// guards against a server that never answers.
		http:    &http.Client{Timeout: cfg.Timeout + 5*time.Second},
		limiter: limiter,
		logger:  logger,
	}
}
