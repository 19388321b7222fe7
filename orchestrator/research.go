package orchestrator

import "strings"

const researchMaxResults = 5

// doResearch issues one Search call and caches the rendered result on r
// (spec §4.3 item 1: "cache its result in the job context"). Failure is
// non-fatal: it logs a warning and leaves r.research empty so downstream
// stages render without a research block.
func (r *jobRun) doResearch(query string) {
	if r.o.research == nil {
		r.warning("research", "no research source configured")
		return
	}
	results, err := r.o.research.Search(r.ctx, query, researchMaxResults)
	if err != nil {
		r.warning("research", "research source failed: "+err.Error())
		return
	}
	if len(results) == 0 {
		return
	}
	var b strings.Builder
	for _, res := range results {
		b.WriteString("- ")
		b.WriteString(res.Title)
		if res.URL != "" {
			b.WriteString(" (")
			b.WriteString(res.URL)
			b.WriteString(")")
		}
		if res.Snippet != "" {
			b.WriteString(": ")
			b.WriteString(res.Snippet)
		}
		b.WriteString("\n")
	}
	r.mu.Lock()
	r.research = strings.TrimSpace(b.String())
	r.mu.Unlock()
}

func (r *jobRun) researchBlock() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.research
}
