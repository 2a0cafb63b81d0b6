// Package dispatcher is the tool execution engine's orchestrating component.
// It validates inbound requests, resolves tools, runs the approval workflow,
// and routes every request to exactly one outcome: success, non-zero exit,
// approval-required, or error. No request path may terminate the engine.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/harun/toolbridge/internal/metrics"
	"github.com/harun/toolbridge/internal/observability"
	"github.com/harun/toolbridge/pkg/approval"
	"github.com/harun/toolbridge/pkg/catalog"
	"github.com/harun/toolbridge/pkg/executor"
	"github.com/harun/toolbridge/pkg/history"
	"github.com/harun/toolbridge/pkg/template"
)

// Recorder persists completed executions. Implemented by *history.Store.
type Recorder interface {
	Record(entry history.Entry)
}

// RemoteFactory builds a remote executor for a resolved server profile.
type RemoteFactory func(profile *catalog.ServerProfile) executor.Executor

// Dispatcher owns the request state machine and the pending-approval store.
type Dispatcher struct {
	registry  *catalog.Registry
	approvals *approval.Store
	local     executor.Executor
	remote    RemoteFactory
	metrics   *metrics.Metrics
	recorder  Recorder

	approvalOpts []approval.Option
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLocalExecutor overrides the local transport.
func WithLocalExecutor(exec executor.Executor) Option {
	return func(d *Dispatcher) { d.local = exec }
}

// WithRemoteFactory overrides how remote transports are constructed.
func WithRemoteFactory(factory RemoteFactory) Option {
	return func(d *Dispatcher) { d.remote = factory }
}

// WithMetrics attaches a metrics registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithRecorder attaches an execution history recorder.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithApprovalOptions forwards options to the pending-approval store.
func WithApprovalOptions(opts ...approval.Option) Option {
	return func(d *Dispatcher) { d.approvalOpts = append(d.approvalOpts, opts...) }
}

// New creates a dispatcher over a tool registry. The dispatcher owns its
// pending-approval store; Close releases it.
func New(registry *catalog.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		local:    executor.NewLocalExecutor(""),
		remote: func(profile *catalog.ServerProfile) executor.Executor {
			return executor.NewSSHExecutor(profile)
		},
	}
	for _, opt := range opts {
		opt(d)
	}

	approvalOpts := d.approvalOpts
	if d.metrics != nil {
		gauge := d.metrics.ApprovalsPending
		approvalOpts = append(approvalOpts, approval.WithOnChange(func(pending int) {
			gauge.Set(float64(pending))
		}))
	}
	d.approvals = approval.NewStore(approvalOpts...)

	return d
}

// Close stops the approval sweep and discards all pending approvals.
func (d *Dispatcher) Close() {
	d.approvals.Stop()
}

// Approvals exposes the pending-approval store.
func (d *Dispatcher) Approvals() *approval.Store {
	return d.approvals
}

// Dispatch processes one request through the state machine and returns the
// single routed outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Outcome {
	requestID := uuid.NewString()
	action := stringField(req.Payload, "action")

	var outcome Outcome
	if err := ValidateRequest(req); err != nil {
		outcome = d.errorOutcome(req.Envelope, map[string]interface{}{"error": err.Error()})
	} else {
		switch action {
		case ActionListTools:
			outcome = d.handleListTools(req)
		case ActionExecuteTool:
			outcome = d.handleExecuteTool(ctx, requestID, req)
		case ActionApproveTool:
			outcome = d.handleApproveTool(ctx, requestID, req)
		default:
			outcome = d.errorOutcome(req.Envelope, map[string]interface{}{
				"error": fmt.Sprintf("Unknown action: %s", action),
			})
		}
	}

	d.observe(requestID, action, outcome)
	return outcome
}

func (d *Dispatcher) handleListTools(req Request) Outcome {
	tools := d.registry.List()

	schema := make([]map[string]interface{}, 0, len(tools))
	for _, tool := range tools {
		schema = append(schema, map[string]interface{}{
			"name":        tool.Name,
			"description": tool.Description,
			"parameters":  tool.ParametersSchema(),
		})
	}

	log.Debug().Int("tools", len(schema)).Msg("Tool catalog listed")

	return Outcome{
		Kind: KindSuccess,
		Payload: map[string]interface{}{
			"action": ActionListTools,
			"tools":  schema,
		},
		Envelope: req.Envelope,
	}
}

func (d *Dispatcher) handleExecuteTool(ctx context.Context, requestID string, req Request) Outcome {
	toolName := stringField(req.Payload, "tool_name")
	parameters := mapField(req.Payload, "parameters")
	if parameters == nil {
		parameters = map[string]interface{}{}
	}

	tool := d.registry.Lookup(toolName)
	if tool == nil {
		log.Warn().Str("tool", toolName).Msg("Tool not found")
		return d.errorOutcome(req.Envelope, map[string]interface{}{
			"error": fmt.Sprintf("Tool '%s' not found", toolName),
		})
	}

	if err := ValidateParameters(parameters, tool.Parameters); err != nil {
		log.Warn().Str("tool", toolName).Err(err).Msg("Parameter validation failed")
		return d.errorOutcome(req.Envelope, map[string]interface{}{"error": err.Error()})
	}

	if tool.RequireApproval {
		tmplCtx := template.BuildContext(req.Envelope, parameters)
		approvalID := d.approvals.Create(tool, parameters, req.Envelope)

		log.Info().
			Str("request_id", requestID).
			Str("tool", toolName).
			Str("approval_id", approvalID).
			Msg("Awaiting approval")

		return Outcome{
			Kind: KindApprovalRequired,
			Payload: map[string]interface{}{
				"action":          ActionApprovalRequired,
				"approval_id":     approvalID,
				"tool_name":       toolName,
				"parameters":      parameters,
				"command_preview": template.Preview(tool.Command, tmplCtx),
			},
			Envelope: req.Envelope,
		}
	}

	return d.execute(ctx, requestID, tool, parameters, req.Envelope)
}

func (d *Dispatcher) handleApproveTool(ctx context.Context, requestID string, req Request) Outcome {
	approvalID := stringField(req.Payload, "approval_id")
	approved := req.Payload["approved"] == true

	if approvalID == "" {
		return d.errorOutcome(req.Envelope, map[string]interface{}{
			"error": "approval_id is required",
		})
	}

	pending, ok := d.approvals.Consume(approvalID)
	if !ok {
		log.Warn().Str("approval_id", approvalID).Msg("Approval not found or expired")
		return d.errorOutcome(req.Envelope, map[string]interface{}{
			"error": "Approval request not found or expired",
		})
	}

	if d.metrics != nil {
		decision := "approved"
		if !approved {
			decision = "rejected"
		}
		d.metrics.ApprovalsTotal.WithLabelValues(decision).Inc()
	}

	if !approved {
		log.Info().
			Str("request_id", requestID).
			Str("tool", pending.Tool.Name).
			Msg("Tool execution rejected")

		return Outcome{
			Kind: KindSuccess,
			Payload: map[string]interface{}{
				"action":    ActionExecuteTool,
				"tool_name": pending.Tool.Name,
				"status":    "rejected",
				"message":   "Tool execution rejected by user",
			},
			Envelope: pending.Envelope,
		}
	}

	// Execute with the stored tool, parameters, and envelope, never with
	// anything carried on the approve request itself.
	return d.execute(ctx, requestID, pending.Tool, pending.Parameters, pending.Envelope)
}

// execute renders the command, selects the transport, and runs the tool.
func (d *Dispatcher) execute(ctx context.Context, requestID string, tool *catalog.ToolDefinition, parameters, envelope map[string]interface{}) Outcome {
	tmplCtx := template.BuildContext(envelope, parameters)
	command, err := template.Render(tool.Command, tmplCtx)
	if err != nil {
		log.Error().Str("tool", tool.Name).Err(err).Msg("Command rendering failed")
		return d.executionError(envelope, tool.Name, err)
	}

	exec, mode, err := d.executorFor(tool)
	if err != nil {
		log.Error().Str("tool", tool.Name).Err(err).Msg("Transport selection failed")
		return d.executionError(envelope, tool.Name, err)
	}

	log.Info().
		Str("request_id", requestID).
		Str("tool", tool.Name).
		Str("mode", mode).
		Msg("Executing tool")

	start := time.Now()
	result, err := exec.Execute(ctx, command, tool.Timeout())
	duration := time.Since(start)

	if d.metrics != nil {
		d.metrics.ExecutionDuration.WithLabelValues(tool.Name).Observe(duration.Seconds())
	}

	if err != nil {
		log.Error().
			Str("request_id", requestID).
			Str("tool", tool.Name).
			Dur("duration", duration).
			Err(err).
			Msg("Tool execution failed")

		d.recordExecution(requestID, tool.Name, command, mode, 0, "error", err.Error(), duration)
		d.countExecution(tool.Name, "error")
		return d.executionError(envelope, tool.Name, err)
	}

	payload := map[string]interface{}{
		"action":     ActionExecuteTool,
		"tool_name":  tool.Name,
		"parameters": parameters,
		"result":     resultPayload(result),
	}

	kind := KindSuccess
	status := "success"
	if result.ExitCode != 0 {
		kind = KindExitNonZero
		status = "failure"
	}

	log.Info().
		Str("request_id", requestID).
		Str("tool", tool.Name).
		Int("exit_code", result.ExitCode).
		Dur("duration", duration).
		Msg("Tool execution complete")

	d.recordExecution(requestID, tool.Name, command, mode, result.ExitCode, status, "", duration)
	d.countExecution(tool.Name, status)

	return Outcome{Kind: kind, Payload: payload, Envelope: envelope}
}

// executorFor selects the transport: local unless the tool is remote, in
// which case a server profile must resolve before any connection attempt.
func (d *Dispatcher) executorFor(tool *catalog.ToolDefinition) (executor.Executor, string, error) {
	if !tool.IsRemote() {
		return d.local, catalog.ModeLocal, nil
	}
	if tool.Server == "" {
		return nil, catalog.ModeRemote, executor.ErrServerRequired
	}
	profile := d.registry.Server(tool.Server)
	if profile == nil {
		return nil, catalog.ModeRemote, executor.ErrServerNotFound
	}
	return d.remote(profile), catalog.ModeRemote, nil
}

func (d *Dispatcher) errorOutcome(envelope, payload map[string]interface{}) Outcome {
	return Outcome{Kind: KindError, Payload: payload, Envelope: envelope}
}

func (d *Dispatcher) executionError(envelope map[string]interface{}, toolName string, err error) Outcome {
	return Outcome{
		Kind: KindError,
		Payload: map[string]interface{}{
			"action":    ActionExecuteTool,
			"tool_name": toolName,
			"error":     err.Error(),
		},
		Envelope: envelope,
	}
}

func (d *Dispatcher) recordExecution(requestID, toolName, command, mode string, exitCode int, status, errText string, duration time.Duration) {
	if d.recorder == nil {
		return
	}
	d.recorder.Record(history.Entry{
		RequestID: requestID,
		ToolName:  toolName,
		Command:   command,
		Mode:      mode,
		ExitCode:  exitCode,
		Status:    status,
		Error:     errText,
		Duration:  duration.Milliseconds(),
	})
}

func (d *Dispatcher) countExecution(toolName, status string) {
	if d.metrics != nil {
		d.metrics.ExecutionsTotal.WithLabelValues(toolName, status).Inc()
	}
}

func (d *Dispatcher) observe(requestID, action string, outcome Outcome) {
	channel := string(outcome.Channel())

	if d.metrics != nil {
		d.metrics.RequestsTotal.WithLabelValues(action, channel).Inc()
	}

	status := map[Kind]string{
		KindSuccess:          "success",
		KindExitNonZero:      "exit_nonzero",
		KindApprovalRequired: "approval_required",
		KindError:            "error",
	}[outcome.Kind]

	observability.RecordRequestAudit(requestID, action, status, map[string]interface{}{
		"channel": channel,
	})
}

func resultPayload(result executor.Result) map[string]interface{} {
	payload := map[string]interface{}{
		"stdout":   result.Stdout,
		"stderr":   result.Stderr,
		"exitCode": result.ExitCode,
	}
	if result.Signal != "" {
		payload["signal"] = result.Signal
	}
	return payload
}
