package agentsdk

import "github.com/relaykit/agentbroker/adapter/agentsdk/transport"

// PermissionMode controls how the CLI authorizes tool calls.
type PermissionMode string

const (
	PermissionModeDefault           PermissionMode = "default"           // CLI prompts for dangerous tools
	PermissionModeAcceptEdits       PermissionMode = "acceptEdits"       // Auto-accept file edits
	PermissionModePlan              PermissionMode = "plan"              // Planning mode
	PermissionModeBypassPermissions PermissionMode = "bypassPermissions" // Allow all tools
)

// PermissionBehavior is the decision carried by a PermissionResult.
type PermissionBehavior string

const (
	PermissionAllow PermissionBehavior = "allow"
	PermissionDeny  PermissionBehavior = "deny"
	PermissionAsk   PermissionBehavior = "ask"
)

// PermissionRuleValue is one rule inside a PermissionUpdate.
type PermissionRuleValue struct {
	ToolName    string  `json:"toolName"`
	RuleContent *string `json:"ruleContent,omitempty"`
}

// PermissionUpdateType identifies the kind of permission change a
// can_use_tool suggestion is proposing.
type PermissionUpdateType string

const (
	UpdateTypeAddRules          PermissionUpdateType = "addRules"
	UpdateTypeReplaceRules      PermissionUpdateType = "replaceRules"
	UpdateTypeRemoveRules       PermissionUpdateType = "removeRules"
	UpdateTypeSetMode           PermissionUpdateType = "setMode"
	UpdateTypeAddDirectories    PermissionUpdateType = "addDirectories"
	UpdateTypeRemoveDirectories PermissionUpdateType = "removeDirectories"
)

// PermissionUpdate is one suggested permission change, as surfaced on a
// can_use_tool control request's "permission_suggestions".
type PermissionUpdate struct {
	Type  PermissionUpdateType  `json:"type"`
	Rules []PermissionRuleValue `json:"rules,omitempty"`
}

// ToolPermissionContext carries the suggestions attached to a pending
// tool-permission decision.
type ToolPermissionContext struct {
	Suggestions []PermissionUpdate
}

// PermissionResult is the outcome of a tool-permission decision, fed back
// into the CLI's control protocol as a control_response.
type PermissionResult interface {
	isPermissionResult()
}

// PermissionResultAllow permits the pending tool call, optionally
// rewriting its input before the CLI executes it.
type PermissionResultAllow struct {
	Behavior     PermissionBehavior
	UpdatedInput map[string]any
}

func (PermissionResultAllow) isPermissionResult() {}

// PermissionResultDeny refuses the pending tool call.
type PermissionResultDeny struct {
	Behavior  PermissionBehavior
	Message   string
	Interrupt bool
}

func (PermissionResultDeny) isPermissionResult() {}

// PermissionCallback resolves one pending tool-permission request. A nil
// result with a nil error signals "forward to the consumer and block" —
// see controlLoop.forwardAndWaitForPermission.
type PermissionCallback func(toolName string, input map[string]any, pctx ToolPermissionContext) (PermissionResult, error)

// Options configures one backendClient session: the subset of Claude
// Code CLI flags this broker actually drives, translated from
// adapter.ConnectOptions by an Adapter's BuildOptions hook.
type Options struct {
	Tools           []string
	AllowedTools    []string
	DisallowedTools []string

	SystemPrompt string

	PermissionMode           PermissionMode
	PermissionPromptToolName string
	CanUseTool               PermissionCallback

	ContinueConversation bool
	Resume               string
	ForkSession          bool

	MaxTurns      *int
	Model         string
	FallbackModel string

	Cwd     string
	CliPath string
	AddDirs []string

	Env       map[string]string
	ExtraArgs map[string]*string

	IncludePartialMessages bool

	MaxBufferSize     int
	MaxThinkingTokens *int

	// SkipInitialization bypasses the initialize control-request
	// handshake entirely; used by tests driving a fake transport that
	// never answers it.
	SkipInitialization bool

	Stderr func(string)
}

// toTransportOptions narrows Options down to what the subprocess
// transport needs to build a CLI command line.
func (o Options) toTransportOptions() transport.Options {
	return transport.Options{
		Tools:                    o.Tools,
		AllowedTools:             o.AllowedTools,
		DisallowedTools:          o.DisallowedTools,
		SystemPrompt:             o.SystemPrompt,
		PermissionMode:           string(o.PermissionMode),
		PermissionPromptToolName: o.PermissionPromptToolName,
		ContinueConversation:     o.ContinueConversation,
		Resume:                   o.Resume,
		MaxTurns:                 o.MaxTurns,
		Model:                    o.Model,
		FallbackModel:            o.FallbackModel,
		Cwd:                      o.Cwd,
		CliPath:                  o.CliPath,
		AddDirs:                  o.AddDirs,
		Env:                      o.Env,
		ExtraArgs:                o.ExtraArgs,
		IncludePartialMessages:   o.IncludePartialMessages,
		MaxBufferSize:            o.MaxBufferSize,
		MaxThinkingTokens:        o.MaxThinkingTokens,
		Stderr:                   o.Stderr,
	}
}

// ServerInfo is the CLI's response to the initialize control request.
type ServerInfo struct {
	Commands     []map[string]any
	OutputStyle  string
	OutputStyles []string
}
