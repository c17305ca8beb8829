// Model Gateway - the single outbound call the scheduler makes per turn
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/utils"
)

// Failure reasons carried on GenerationError. The scheduler records them in
// the generation log; it never inspects them for policy.
const (
	FailureTimeout            = "timeout"
	FailureCanceled           = "canceled"
	FailureModelNotConfigured = "model_not_configured"
	FailureModelInit          = "model_init"
	FailureEmptyResponse      = "empty_response"
	FailureProvider           = "provider_error"
)

// GenerationError is a failed model call. It is non-fatal to the room; the
// scheduler skips the round and the next scheduled turn is the retry vector.
type GenerationError struct {
	Model  string
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("generation failed (%s) for model %q", e.Reason, e.Model)
	}
	return fmt.Sprintf("generation failed (%s) for model %q: %v", e.Reason, e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// TurnGenerator is the scheduler's view of the gateway. Tests inject
// scripted implementations.
type TurnGenerator interface {
	GenerateTurn(ctx context.Context, agent models.Agent, pc *promptContext) (string, error)
}

// ModelGateway resolves an agent's model config, builds the eino message
// pair and performs one bounded chat call. It applies the timeout and
// converts every failure into a GenerationError; retry and rate policy
// live in the scheduler, not here.
type ModelGateway struct {
	modelService *ModelService
	timeout      time.Duration
	logger       *slog.Logger
}

// NewModelGateway creates the gateway. The timeout bounds each call and is
// independent of the room's turn interval.
func NewModelGateway(modelService *ModelService, timeout time.Duration) *ModelGateway {
	return &ModelGateway{
		modelService: modelService,
		timeout:      timeout,
		logger:       utils.GetLogger(),
	}
}

// GenerateTurn performs one model call for the given agent.
func (g *ModelGateway) GenerateTurn(ctx context.Context, agent models.Agent, pc *promptContext) (string, error) {
	config, err := g.modelService.GetModelConfig(agent.Model)
	if err != nil {
		return "", &GenerationError{Model: agent.Model, Reason: FailureModelNotConfigured, Err: err}
	}
	if config == nil {
		return "", &GenerationError{Model: agent.Model, Reason: FailureModelNotConfigured,
			Err: fmt.Errorf("model %q is not in the roster", agent.Model)}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	chatModel, err := g.modelService.CreateChatModel(callCtx, config)
	if err != nil {
		return "", &GenerationError{Model: agent.Model, Reason: FailureModelInit, Err: err}
	}

	messages := []*schema.Message{
		{Role: schema.System, Content: pc.systemPrompt()},
		{Role: schema.User, Content: pc.renderHistory()},
	}

	started := time.Now()
	resp, err := chatModel.Generate(callCtx, messages)
	if err != nil {
		reason := FailureProvider
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			reason = FailureTimeout
		case errors.Is(err, context.Canceled), ctx.Err() != nil:
			reason = FailureCanceled
		}
		g.logger.Warn("model call failed",
			"model", agent.Model, "agent", agent.AgentID, "reason", reason, "error", err)
		return "", &GenerationError{Model: agent.Model, Reason: reason, Err: err}
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return "", &GenerationError{Model: agent.Model, Reason: FailureEmptyResponse,
			Err: errors.New("model returned empty response")}
	}

	g.logger.Debug("model call completed",
		"model", agent.Model, "agent", agent.AgentID, "elapsed", time.Since(started))
	return content, nil
}
