// Package providers holds the concrete Backend implementations used by the
// Provider Gateway (spec §4.1), plus the HTTP error-mapping helpers they
// share. Each backend family (anthropic, openai, gemini) talks to its
// native wire API directly over net/http rather than through a vendor SDK.
package providers
