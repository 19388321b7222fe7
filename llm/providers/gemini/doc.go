// Package gemini adapts the Provider Gateway's Backend interface to
// Google's Gemini generateContent REST API: x-goog-api-key header
// authentication and a native JSON mode via response_mime_type.
package gemini
