// Package agentsdk drives the in-process async-generator backend family
// (spec.md §4.3(3)): a long-lived Claude Code CLI subprocess, spoken to
// over its stream-json control protocol instead of an out-of-process
// ACP/opencode server. The backendClient/controlLoop pair below own that
// protocol directly — request/response control messages, the can_use_tool
// permission handshake, stdin/stdout framing over a subprocess — so that
// TranslateInbound/TranslateOutbound can translate native CLI events to
// and from canon.UnifiedMessage without an intermediate SDK-shaped type.
package agentsdk
