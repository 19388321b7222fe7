// Package publish declares the Publisher capability the core pipeline
// exposes its finished artifacts to (spec §6). Publishing integrations
// themselves — blog hosts, document repositories, static-site generators —
// are explicitly out of scope (spec Non-goals): this package only fixes the
// boundary a collaborator implements against.
package publish

import (
	"context"

	"github.com/inkforge/pipeline/types"
)

// Target configures where and how one publish call delivers an artifact.
// Its shape is deliberately loose: each Publisher implementation defines
// what keys it reads.
type Target map[string]any

// Result is what a successful publish returns: the artifact's canonical
// location and the implementation's own identifier for it.
type Result struct {
	URL        string
	Identifier string
}

// Publisher is the outbound capability a collaborator implements to carry
// a finished Article or Book out of the pipeline (spec §6: "used by
// out-of-scope glue, not by the core pipeline; specified here only because
// the core exposes artifacts to it"). Exactly one of Article or Book is
// set on a given call.
type Publisher interface {
	Publish(ctx context.Context, article *types.Article, book *types.Book, target Target) (Result, error)
}
