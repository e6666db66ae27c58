package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/llm"
)

// ErrEmptyCompletion is returned when the provider answers without any content.
var ErrEmptyCompletion = errors.New("no content in completion response")

var _ llm.Completer = (*Client)(nil)

// Complete sends one fully substituted prompt as a chat completion and returns
// the assistant message verbatim. Transient failures (429, 5xx, timeouts) are
// retried under the configured policy; 401/403 fail immediately.
func (c *Client) Complete(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	rid := common.RequestIDFromContext(ctx)
	if rid == "" {
		rid = uuid.New().String()
		ctx = common.WithRequestID(ctx, rid)
	}
	start := time.Now()

	model := c.cfg.Model
	if opts.Model != "" {
		model = opts.Model
	}
	temp := c.cfg.Temperature
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}
	maxTokens := c.cfg.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	c.logger.Info("llm.complete.start",
		"req_id", rid,
		"agent", opts.Agent,
		"model", model,
		"temp", temp,
		"prompt_len", len(prompt),
		"json_mode", opts.JSONMode,
	)

	body := map[string]any{
		"model":       model,
		"temperature": temp,
		"messages": []map[string]any{
			{"role": "user", "content": prompt},
		},
	}
	if maxTokens > 0 {
		body["max_tokens"] = maxTokens
	}
	if opts.JSONMode {
		body["response_format"] = map[string]any{"type": "json_object"}
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	var content string
	policy := c.cfg.Retry.WithAttemptTimeout(c.cfg.Timeout)
	err := policy.Do(ctx, "llm.complete", c.logger, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		raw, _, err := llm.SendJSON(ctx, c.http, endpoint, body, headers, c.logger)
		if err != nil {
			return err
		}
		res := gjson.GetBytes(raw, "choices.0.message.content")
		if !res.Exists() || strings.TrimSpace(res.String()) == "" {
			c.logger.Error("llm.complete.no_choices", "req_id", rid, "raw_bytes", len(raw))
			return ErrEmptyCompletion
		}
		content = res.String()
		return nil
	})
	if err != nil {
		c.logger.Error("llm.complete.error",
			"req_id", rid, "agent", opts.Agent, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", fmt.Errorf("openai completion: %w", err)
	}

	c.logger.Info("llm.complete.ok",
		"req_id", rid,
		"agent", opts.Agent,
		"content_len", len(content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return content, nil
}
