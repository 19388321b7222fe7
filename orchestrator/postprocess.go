package orchestrator

import (
	"context"
	"sync"

	"github.com/inkforge/pipeline/promptcompose"
	"github.com/inkforge/pipeline/types"
)

// stagePostProcess labels the combined proofread/humanize pass (spec §4.3
// item 5) for progress events; it is an orchestrator-level grouping, not a
// promptcompose.Stage, since proofread and humanize are rendered as two
// separate prompt templates per item.
const stagePostProcess = "post-process"

// postProcessBodies runs proofread then humanize over each body pointer,
// in place, bounded by max_parallel_sections. Ordering within one body
// is fixed: proofread always precedes humanize (spec §4.3 item 5).
// Failures are non-fatal per item: a failing pass leaves the body as it
// was before that pass, and emits a warning.
func postProcessBodies(r *jobRun, bodies []*string, proofread, humanize bool) {
	if !proofread && !humanize {
		return
	}
	r.stageStarted(stagePostProcess, len(bodies))

	completed := 0
	var progressMu sync.Mutex

	boundedFanOut(r.ctx, r.o.cfg.MaxParallelSections, len(bodies), func(ctx context.Context, i int) {
		if ctx.Err() != nil {
			return
		}
		body := *bodies[i]
		if proofread {
			out, err := callFreeTextStage(r, promptcompose.StageProofread, map[string]any{"body": body})
			if err != nil {
				r.warning(string(promptcompose.StageProofread), "proofread degraded: "+err.Error())
			} else {
				body = out
			}
		}
		if humanize {
			out, err := callFreeTextStage(r, promptcompose.StageHumanize, map[string]any{"body": body})
			if err != nil {
				r.warning(string(promptcompose.StageHumanize), "humanize degraded: "+err.Error())
			} else {
				body = out
			}
		}
		*bodies[i] = body

		progressMu.Lock()
		completed++
		r.stageProgress(stagePostProcess, completed, len(bodies))
		progressMu.Unlock()
	})

	r.stageCompleted(stagePostProcess, len(bodies), 0)
}

func (r *jobRun) postProcessSections(sections []types.Section, proofread, humanize bool) {
	var bodies []*string
	for si := range sections {
		for ti := range sections[si].SubTopics {
			bodies = append(bodies, &sections[si].SubTopics[ti].Body)
		}
	}
	postProcessBodies(r, bodies, proofread, humanize)
}

func (r *jobRun) postProcessChapters(chapters []types.Chapter, proofread, humanize bool) {
	var bodies []*string
	for ci := range chapters {
		for ti := range chapters[ci].Topics {
			bodies = append(bodies, &chapters[ci].Topics[ti].Body)
		}
	}
	postProcessBodies(r, bodies, proofread, humanize)
}
