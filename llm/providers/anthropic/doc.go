// Package anthropic adapts the Provider Gateway's Backend interface to
// Anthropic's Messages API (/v1/messages): authentication via the
// x-api-key header, a separate top-level system field instead of a system
// message, and the 529-overloaded status extension.
package anthropic
