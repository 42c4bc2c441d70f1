package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/ihm-parser/internal/common"
	"github.com/joseph-ayodele/ihm-parser/internal/llm"
)

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete implements llm.Completer against chat/completions in JSON-object mode.
func (c *Client) Complete(ctx context.Context, req llm.Request) ([]byte, error) {
	rid := uuid.New().String()
	start := time.Now()
	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}

	c.logger.Info("llm.complete.start",
		"req_id", rid,
		"job_id", common.JobIDFromContext(ctx),
		"stage", req.Stage,
		"model", model,
		"prompt_len", len(req.Prompt),
	)

	body := map[string]any{
		"model":           model,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": req.System},
			{"role": "user", "content": req.Prompt},
		},
	}
	if c.cfg.Temperature > 0 {
		body["temperature"] = c.cfg.Temperature
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.send(ctx, endpoint, body)
	if err != nil {
		c.logger.Error("llm.complete.http_error",
			"req_id", rid, "stage", req.Stage, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		c.observe(req.Stage, "http_error", time.Since(start))
		return nil, err
	}

	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Error("llm.complete.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		c.observe(req.Stage, "decode_error", time.Since(start))
		return nil, fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		c.observe(req.Stage, "no_choices", time.Since(start))
		return nil, fmt.Errorf("no choices in openai response")
	}

	choice := cc.Choices[0]
	if choice.Message.Refusal != "" {
		c.observe(req.Stage, "refused", time.Since(start))
		return nil, fmt.Errorf("model refused: %s", choice.Message.Refusal)
	}
	if choice.FinishReason == "length" {
		c.logger.Warn("llm.complete.truncated", "req_id", rid, "stage", req.Stage, "completion_tokens", cc.Usage.CompletionTokens)
		c.observe(req.Stage, "truncated", time.Since(start))
		return nil, fmt.Errorf("model output truncated at %d completion tokens", cc.Usage.CompletionTokens)
	}
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		c.observe(req.Stage, "empty", time.Since(start))
		return nil, fmt.Errorf("empty content in openai response")
	}

	c.logger.Info("llm.complete.ok",
		"req_id", rid,
		"stage", req.Stage,
		"prompt_tokens", cc.Usage.PromptTokens,
		"completion_tokens", cc.Usage.CompletionTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	c.observe(req.Stage, "ok", time.Since(start))
	return []byte(content), nil
}

func (c *Client) send(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	if c.breaker == nil {
		return llm.SendJSON(ctx, c.http, url, body, headers, c.logger)
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return llm.SendJSON(ctx, c.http, url, body, headers, c.logger)
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

// isBreakerSuccess counts only provider-side trouble against the breaker. Client errors
// such as an oversized prompt say nothing about the provider's health.
func isBreakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var se *llm.StatusError
	if errors.As(err, &se) {
		return !se.Retryable()
	}
	return false
}
