package orchestrator

import (
	"context"
	"sync"

	"github.com/inkforge/pipeline/types"
)

// jobRun carries the per-job mutable state threaded through one graph
// execution: the deadline-bound context, token accounting, and research
// cache. It exists so article.go/book.go don't pass half a dozen
// parameters to every helper.
type jobRun struct {
	o              *Orchestrator
	ctx            context.Context
	jobID          string
	conversationID string

	mu       sync.Mutex
	tokens   types.TokenUsage
	research string // rendered research block, empty if unused or failed
}

func (r *jobRun) addTokens(u types.TokenUsage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens.Add(u)
}

func (r *jobRun) snapshotTokens() types.TokenUsage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens
}

func (r *jobRun) stageStarted(stage string, itemCount int) {
	r.o.appendEvent(r.conversationID, types.EventStageStarted, map[string]any{
		"stage": stage, "job_id": r.jobID, "item_count": itemCount,
	})
}

func (r *jobRun) stageProgress(stage string, completed, total int) {
	r.o.appendEvent(r.conversationID, types.EventStageProgress, map[string]any{
		"stage": stage, "job_id": r.jobID, "completed": completed, "total": total,
	})
}

func (r *jobRun) stageCompleted(stage string, succeeded, failed int) {
	r.o.appendEvent(r.conversationID, types.EventStageCompleted, map[string]any{
		"stage": stage, "job_id": r.jobID, "succeeded": succeeded, "failed": failed,
	})
}

func (r *jobRun) warning(stage, message string) {
	r.o.appendEvent(r.conversationID, types.EventWarning, map[string]any{
		"stage": stage, "job_id": r.jobID, "message": message,
	})
}
