package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolbridge/pkg/approval"
	"github.com/harun/toolbridge/pkg/catalog"
	"github.com/harun/toolbridge/pkg/executor"
	"github.com/harun/toolbridge/pkg/history"
)

// fakeExecutor returns a canned result or error and records the commands it ran.
type fakeExecutor struct {
	mu       sync.Mutex
	result   executor.Result
	err      error
	commands []string
}

func (f *fakeExecutor) Execute(_ context.Context, command string, _ time.Duration) (executor.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	return f.result, f.err
}

func (f *fakeExecutor) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

type captureRecorder struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (c *captureRecorder) Record(entry history.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func newTestRegistry(t *testing.T, tools []catalog.ToolDefinition, servers []catalog.ServerProfile) *catalog.Registry {
	t.Helper()
	reg, err := catalog.NewRegistry(tools, servers)
	require.NoError(t, err)
	return reg
}

func executeRequest(toolName string, params map[string]interface{}) Request {
	payload := map[string]interface{}{
		"action":    ActionExecuteTool,
		"tool_name": toolName,
	}
	if params != nil {
		payload["parameters"] = params
	}
	return Request{
		Envelope: map[string]interface{}{"topic": "test", "payload": payload},
		Payload:  payload,
	}
}

func TestDispatch_ListTools(t *testing.T) {
	reg := newTestRegistry(t, []catalog.ToolDefinition{
		{
			Name:        "disk_usage",
			Description: "Show disk usage",
			Command:     "df -h {{path}}",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
				"required":   []interface{}{"path"},
			},
		},
		{Name: "uptime", Description: "Show uptime", Command: "uptime"},
	}, nil)

	d := New(reg)
	defer d.Close()

	outcome := d.Dispatch(context.Background(), Request{
		Envelope: map[string]interface{}{"payload": map[string]interface{}{"action": ActionListTools}},
		Payload:  map[string]interface{}{"action": ActionListTools},
	})

	assert.Equal(t, KindSuccess, outcome.Kind)
	assert.Equal(t, ChannelSuccess, outcome.Channel())
	assert.Equal(t, ActionListTools, outcome.Payload["action"])

	tools, ok := outcome.Payload["tools"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, tools, 2)
	assert.Equal(t, "disk_usage", tools[0]["name"])
	assert.Equal(t, []interface{}{"path"}, tools[0]["parameters"].(map[string]interface{})["required"])

	// Tools without a declared schema advertise the empty object schema.
	uptimeSchema := tools[1]["parameters"].(map[string]interface{})
	assert.Equal(t, "object", uptimeSchema["type"])
}

func TestDispatch_ExecuteSuccess(t *testing.T) {
	reg := newTestRegistry(t, []catalog.ToolDefinition{
		{Name: "greet", Description: "d", Command: "echo hello {{name}}"},
	}, nil)

	rec := &captureRecorder{}
	d := New(reg, WithRecorder(rec))
	defer d.Close()

	outcome := d.Dispatch(context.Background(), executeRequest("greet", map[string]interface{}{"name": "world"}))

	assert.Equal(t, KindSuccess, outcome.Kind)
	assert.Equal(t, ChannelSuccess, outcome.Channel())

	result := outcome.Payload["result"].(map[string]interface{})
	assert.Equal(t, "hello world\n", result["stdout"])
	assert.Equal(t, 0, result["exitCode"])
	assert.Equal(t, "greet", outcome.Payload["tool_name"])
	assert.Equal(t, "test", outcome.Envelope["topic"], "caller envelope is echoed back")

	require.Len(t, rec.entries, 1)
	assert.Equal(t, "echo hello world", rec.entries[0].Command)
	assert.Equal(t, "success", rec.entries[0].Status)
	assert.Equal(t, catalog.ModeLocal, rec.entries[0].Mode)
}

func TestDispatch_NonZeroExitRoutesToFailure(t *testing.T) {
	reg := newTestRegistry(t, []catalog.ToolDefinition{
		{Name: "fail", Description: "d", Command: "sh -c 'echo oops >&2; exit 3'"},
	}, nil)

	d := New(reg)
	defer d.Close()

	outcome := d.Dispatch(context.Background(), executeRequest("fail", nil))

	assert.Equal(t, KindExitNonZero, outcome.Kind)
	assert.Equal(t, ChannelFailure, outcome.Channel())

	result := outcome.Payload["result"].(map[string]interface{})
	assert.Equal(t, 3, result["exitCode"])
	assert.Equal(t, "oops\n", result["stderr"])
}

func TestDispatch_UnknownTool(t *testing.T) {
	d := New(catalog.EmptyRegistry())
	defer d.Close()

	outcome := d.Dispatch(context.Background(), executeRequest("nope", nil))

	assert.Equal(t, KindError, outcome.Kind)
	assert.Equal(t, ChannelFailure, outcome.Channel())
	assert.Equal(t, "Tool 'nope' not found", outcome.Payload["error"])
}

func TestDispatch_MissingRequiredParameter(t *testing.T) {
	reg := newTestRegistry(t, []catalog.ToolDefinition{
		{
			Name:        "disk_usage",
			Description: "d",
			Command:     "df -h {{path}}",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
				"required":   []interface{}{"path"},
			},
		},
	}, nil)

	d := New(reg)
	defer d.Close()

	outcome := d.Dispatch(context.Background(), executeRequest("disk_usage", map[string]interface{}{}))

	assert.Equal(t, KindError, outcome.Kind)
	assert.Equal(t, "Required parameter 'path' is missing", outcome.Payload["error"])
}

func TestDispatch_EmptyStringSatisfiesRequired(t *testing.T) {
	reg := newTestRegistry(t, []catalog.ToolDefinition{
		{
			Name:        "greet",
			Description: "d",
			Command:     "echo hi{{name}}",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"name": map[string]interface{}{"type": "string"}},
				"required":   []interface{}{"name"},
			},
		},
	}, nil)

	d := New(reg)
	defer d.Close()

	outcome := d.Dispatch(context.Background(), executeRequest("greet", map[string]interface{}{"name": ""}))

	assert.Equal(t, KindSuccess, outcome.Kind)
}

func TestDispatch_ValidationErrors(t *testing.T) {
	d := New(catalog.EmptyRegistry())
	defer d.Close()

	tests := []struct {
		name    string
		req     Request
		message string
	}{
		{
			name:    "missing payload",
			req:     Request{Envelope: map[string]interface{}{}},
			message: "Message payload is required",
		},
		{
			name: "missing action",
			req: Request{
				Envelope: map[string]interface{}{},
				Payload:  map[string]interface{}{},
			},
			message: "payload.action is required",
		},
		{
			name: "execute without tool name",
			req: Request{
				Envelope: map[string]interface{}{},
				Payload:  map[string]interface{}{"action": ActionExecuteTool},
			},
			message: "payload.tool_name is required for execute_tool action",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := d.Dispatch(context.Background(), tt.req)
			assert.Equal(t, KindError, outcome.Kind)
			assert.Equal(t, ChannelFailure, outcome.Channel())
			assert.Equal(t, tt.message, outcome.Payload["error"])
		})
	}
}

func TestDispatch_UnknownAction(t *testing.T) {
	d := New(catalog.EmptyRegistry())
	defer d.Close()

	outcome := d.Dispatch(context.Background(), Request{
		Envelope: map[string]interface{}{},
		Payload:  map[string]interface{}{"action": "reboot_universe"},
	})

	assert.Equal(t, KindError, outcome.Kind)
	assert.Equal(t, "Unknown action: reboot_universe", outcome.Payload["error"])
}

func TestDispatch_ApprovalFlow(t *testing.T) {
	reg := newTestRegistry(t, []catalog.ToolDefinition{
		{
			Name:            "restart",
			Description:     "d",
			Command:         "systemctl restart {{service}}",
			RequireApproval: true,
		},
	}, nil)

	exec := &fakeExecutor{result: executor.Result{Stdout: "done\n"}}
	d := New(reg, WithLocalExecutor(exec))
	defer d.Close()

	outcome := d.Dispatch(context.Background(), executeRequest("restart", map[string]interface{}{"service": "nginx"}))

	assert.Equal(t, KindApprovalRequired, outcome.Kind)
	assert.Equal(t, ChannelApproval, outcome.Channel())
	assert.Equal(t, ActionApprovalRequired, outcome.Payload["action"])
	assert.Equal(t, "systemctl restart nginx", outcome.Payload["command_preview"])
	assert.Empty(t, exec.calls(), "nothing executes before approval")

	approvalID, ok := outcome.Payload["approval_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, approvalID)

	approve := Request{
		Envelope: map[string]interface{}{"payload": map[string]interface{}{}},
		Payload: map[string]interface{}{
			"action":      ActionApproveTool,
			"approval_id": approvalID,
			"approved":    true,
			// Parameters on the approve request must be ignored.
			"parameters": map[string]interface{}{"service": "sshd"},
		},
	}

	approved := d.Dispatch(context.Background(), approve)

	assert.Equal(t, KindSuccess, approved.Kind)
	require.Equal(t, []string{"systemctl restart nginx"}, exec.calls(), "stored parameters are used")
	assert.Equal(t, "test", approved.Envelope["topic"], "original envelope is echoed, not the approve request's")

	// An approval id is single use.
	again := d.Dispatch(context.Background(), approve)
	assert.Equal(t, KindError, again.Kind)
	assert.Equal(t, "Approval request not found or expired", again.Payload["error"])
	assert.Len(t, exec.calls(), 1)
}

func TestDispatch_ApprovalRejected(t *testing.T) {
	reg := newTestRegistry(t, []catalog.ToolDefinition{
		{Name: "wipe", Description: "d", Command: "rm -rf /tmp/data", RequireApproval: true},
	}, nil)

	exec := &fakeExecutor{}
	d := New(reg, WithLocalExecutor(exec))
	defer d.Close()

	pendingOutcome := d.Dispatch(context.Background(), executeRequest("wipe", nil))
	approvalID := pendingOutcome.Payload["approval_id"].(string)

	outcome := d.Dispatch(context.Background(), Request{
		Envelope: map[string]interface{}{},
		Payload: map[string]interface{}{
			"action":      ActionApproveTool,
			"approval_id": approvalID,
			"approved":    false,
		},
	})

	assert.Equal(t, KindSuccess, outcome.Kind)
	assert.Equal(t, ChannelSuccess, outcome.Channel())
	assert.Equal(t, "rejected", outcome.Payload["status"])
	assert.Equal(t, "Tool execution rejected by user", outcome.Payload["message"])
	assert.Equal(t, "wipe", outcome.Payload["tool_name"])
	assert.Empty(t, exec.calls())
}

func TestDispatch_ApproveMissingID(t *testing.T) {
	d := New(catalog.EmptyRegistry())
	defer d.Close()

	outcome := d.Dispatch(context.Background(), Request{
		Envelope: map[string]interface{}{},
		Payload:  map[string]interface{}{"action": ActionApproveTool, "approved": true},
	})

	assert.Equal(t, KindError, outcome.Kind)
	assert.Equal(t, "approval_id is required", outcome.Payload["error"])
}

func TestDispatch_ExpiredApprovalAfterSweep(t *testing.T) {
	reg := newTestRegistry(t, []catalog.ToolDefinition{
		{Name: "restart", Description: "d", Command: "true", RequireApproval: true},
	}, nil)

	d := New(reg, WithApprovalOptions(
		approval.WithTTL(10*time.Millisecond),
		approval.WithSweepInterval(5*time.Millisecond),
	))
	defer d.Close()

	pendingOutcome := d.Dispatch(context.Background(), executeRequest("restart", nil))
	approvalID := pendingOutcome.Payload["approval_id"].(string)

	// Wait until the sweep has had a chance to evict the stale entry.
	time.Sleep(150 * time.Millisecond)

	outcome := d.Dispatch(context.Background(), Request{
		Envelope: map[string]interface{}{},
		Payload: map[string]interface{}{
			"action":      ActionApproveTool,
			"approval_id": approvalID,
			"approved":    true,
		},
	})

	assert.Equal(t, KindError, outcome.Kind)
	assert.Equal(t, "Approval request not found or expired", outcome.Payload["error"])
}

func TestDispatch_RenderFailure(t *testing.T) {
	reg := newTestRegistry(t, []catalog.ToolDefinition{
		{Name: "broken", Description: "d", Command: "echo {{oops"},
	}, nil)

	d := New(reg)
	defer d.Close()

	outcome := d.Dispatch(context.Background(), executeRequest("broken", nil))

	assert.Equal(t, KindError, outcome.Kind)
	assert.Contains(t, outcome.Payload["error"], "unclosed placeholder")
}

func TestDispatch_RemoteWithoutProfile(t *testing.T) {
	reg := newTestRegistry(t, []catalog.ToolDefinition{
		{Name: "deploy", Description: "d", Command: "true", ExecutionMode: catalog.ModeRemote, Server: "missing"},
	}, nil)

	d := New(reg)
	defer d.Close()

	outcome := d.Dispatch(context.Background(), executeRequest("deploy", nil))

	assert.Equal(t, KindError, outcome.Kind)
	assert.Equal(t, executor.ErrServerNotFound.Error(), outcome.Payload["error"])
}

func TestDispatch_RemoteUsesFactory(t *testing.T) {
	reg := newTestRegistry(t, []catalog.ToolDefinition{
		{Name: "deploy", Description: "d", Command: "deploy.sh", ExecutionMode: catalog.ModeRemote, Server: "web"},
	}, []catalog.ServerProfile{
		{Name: "web", Hostname: "example.com", Username: "deploy"},
	})

	remote := &fakeExecutor{result: executor.Result{Stdout: "ok\n"}}
	var gotProfile *catalog.ServerProfile
	d := New(reg, WithRemoteFactory(func(profile *catalog.ServerProfile) executor.Executor {
		gotProfile = profile
		return remote
	}))
	defer d.Close()

	outcome := d.Dispatch(context.Background(), executeRequest("deploy", nil))

	assert.Equal(t, KindSuccess, outcome.Kind)
	require.NotNil(t, gotProfile)
	assert.Equal(t, "web", gotProfile.Name)
	assert.Equal(t, []string{"deploy.sh"}, remote.calls())
}

func TestDispatch_TransportErrorIsNotExitFailure(t *testing.T) {
	reg := newTestRegistry(t, []catalog.ToolDefinition{
		{Name: "flaky", Description: "d", Command: "true"},
	}, nil)

	rec := &captureRecorder{}
	exec := &fakeExecutor{err: errors.New("connection reset by peer")}
	d := New(reg, WithLocalExecutor(exec), WithRecorder(rec))
	defer d.Close()

	outcome := d.Dispatch(context.Background(), executeRequest("flaky", nil))

	assert.Equal(t, KindError, outcome.Kind)
	assert.Equal(t, ChannelFailure, outcome.Channel())
	assert.Equal(t, "connection reset by peer", outcome.Payload["error"])
	assert.NotContains(t, outcome.Payload, "result")

	require.Len(t, rec.entries, 1)
	assert.Equal(t, "error", rec.entries[0].Status)
}

func TestDispatch_EnvelopeContextAvailableToTemplates(t *testing.T) {
	reg := newTestRegistry(t, []catalog.ToolDefinition{
		{Name: "topic_echo", Description: "d", Command: "echo {{msg.topic}} {{params.word}}"},
	}, nil)

	exec := &fakeExecutor{}
	d := New(reg, WithLocalExecutor(exec))
	defer d.Close()

	d.Dispatch(context.Background(), executeRequest("topic_echo", map[string]interface{}{"word": "hi"}))

	require.Equal(t, []string{"echo test hi"}, exec.calls())
}
