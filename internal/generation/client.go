package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Defaults are the model parameters applied when a request leaves them unset.
type Defaults struct {
	Temperature float64
	MaxTokens   int
}

// Client is the resilient completion client: every attempt first reserves
// its estimated cost from the TokenBudget, then calls the transport; the
// Retrier repeats attempts that failed with a retryable error.
type Client struct {
	transport Completer
	budget    *TokenBudget
	retrier   *Retrier
	defaults  Defaults
	logger    *slog.Logger
}

var _ Completer = (*Client)(nil)

// NewClient composes a transport with rate limiting and retry.
func NewClient(
	transport Completer,
	budget *TokenBudget,
	retrier *Retrier,
	defaults Defaults,
	logger *slog.Logger,
) (*Client, error) {
	if transport == nil {
		return nil, errors.New("transport cannot be nil")
	}
	if budget == nil {
		return nil, errors.New("token budget cannot be nil")
	}
	if retrier == nil {
		return nil, errors.New("retrier cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if defaults.MaxTokens <= 0 {
		defaults.MaxTokens = 2000
	}
	return &Client{
		transport: transport,
		budget:    budget,
		retrier:   retrier,
		defaults:  defaults,
		logger:    logger.With("component", "completion_client"),
	}, nil
}

// Complete runs one logical completion call.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: at least one message is required", ErrConfig)
	}
	if req.Temperature == nil {
		t := c.defaults.Temperature
		req.Temperature = &t
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.defaults.MaxTokens
	}
	cost := EstimateCost(req)

	var resp *Response
	err := c.retrier.Do(ctx, func(ctx context.Context, attempt int) error {
		waited, err := c.budget.Acquire(ctx, cost)
		if err != nil {
			return err
		}
		if waited > 0 {
			c.logger.InfoContext(ctx, "token budget exhausted, waited for window reset",
				"estimated_cost", cost,
				"waited", waited)
		}

		c.logger.DebugContext(ctx, "calling completion provider",
			"attempt", attempt,
			"estimated_cost", cost,
			"json_mode", req.JSONMode)

		out, err := c.transport.Complete(ctx, req)
		if err != nil {
			return err
		}
		if err := validateResponse(out); err != nil {
			return err
		}
		resp = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "completion succeeded",
		"model", resp.Model,
		"total_tokens", resp.Usage.TotalTokens,
		"finish_reason", resp.FinishReason)
	return resp, nil
}

func validateResponse(resp *Response) error {
	if resp == nil {
		return fmt.Errorf("%w: nil response", ErrConfig)
	}
	if resp.Model == "" {
		return fmt.Errorf("%w: response has no model", ErrConfig)
	}
	return nil
}
