package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/inkforge/pipeline/promptcompose"
	"github.com/inkforge/pipeline/types"
)

const defaultTemperature = 0.7

// sectionItem is one flattened (section, subtopic) pair from an outline,
// carrying enough context to render its own section-body prompt
// independent of the others.
type sectionItem struct {
	sectionIdx    int
	topicIdx      int
	sectionTitle  string
	subtopicTitle string
	body          string
	succeeded     bool
}

// runArticle drives the article graph (spec §4.3): research, outline,
// bounded section fan-out, meta description, and post-processing. Intro,
// conclusion and FAQs are supplemented extras that never affect the
// section success floor.
func (r *jobRun) runArticle(spec *types.ArticleSpec) (*types.Article, error) {
	if spec.Research {
		r.doResearch(spec.Topic)
	}

	tone := string(spec.Tone)
	outlineVars := map[string]any{
		"topic":    spec.Topic,
		"keywords": spec.Keywords,
		"tone":     tone,
		"research": r.researchBlock(),
	}

	r.stageStarted(string(promptcompose.StageOutline), 1)
	outline, err := callJSONStage[promptcompose.OutlineResult](r, promptcompose.StageOutline, outlineVars, defaultTemperature)
	if err != nil {
		r.stageCompleted(string(promptcompose.StageOutline), 0, 1)
		return nil, types.NewError(types.ErrParseFailure, "outline generation failed: "+err.Error()).WithCause(err)
	}
	r.stageCompleted(string(promptcompose.StageOutline), 1, 0)

	items := flattenSections(outline.Sections)
	results := r.generateSectionBodies(spec.Topic, tone, items)

	sections := make([]types.Section, len(outline.Sections))
	for i, spec := range outline.Sections {
		sections[i] = types.Section{Title: spec.Title}
	}
	for _, item := range results {
		sections[item.sectionIdx].SubTopics = append(sections[item.sectionIdx].SubTopics, types.SubTopic{
			Title: item.subtopicTitle,
			Body:  item.body,
		})
	}

	succeeded := 0
	for _, item := range results {
		if item.succeeded {
			succeeded++
		}
	}
	if len(results) > 0 && float64(succeeded)/float64(len(results)) < SuccessFloor {
		return nil, types.NewError(types.ErrDegraded, "section generation fell below the success floor")
	}

	intro := r.generateIntro(spec.Topic, outline, tone)
	conclusion := r.generateConclusion(spec.Topic, outline, tone)
	faqs := r.generateFAQs(spec.Topic, outline)
	description := r.generateMetaDescription(outline)

	if spec.Proofread || spec.Humanize {
		r.postProcessSections(sections, spec.Proofread, spec.Humanize)
	}

	return &types.Article{
		ID:          r.jobID,
		Title:       outline.Title,
		Description: description,
		PublishedAt: time.Now(),
		Tags:        outline.Tags,
		Intro:       intro,
		Sections:    sections,
		Conclusion:  conclusion,
		FAQs:        faqs,
	}, nil
}

func flattenSections(sections []promptcompose.OutlineSectionSpec) []sectionItem {
	var items []sectionItem
	for si, s := range sections {
		for ti, subtopic := range s.SubTopics {
			items = append(items, sectionItem{
				sectionIdx:    si,
				topicIdx:      ti,
				sectionTitle:  s.Title,
				subtopicTitle: subtopic,
			})
		}
	}
	return items
}

// generateSectionBodies runs the bounded section-body fan-out (spec
// §4.3 item 3). A per-item failure never aborts the others; it degrades
// to DegradedBodyPlaceholder and emits a warning.
func (r *jobRun) generateSectionBodies(topic, tone string, items []sectionItem) []sectionItem {
	stage := string(promptcompose.StageSectionBody)
	r.stageStarted(stage, len(items))

	results := make([]sectionItem, len(items))
	copy(results, items)

	completed := 0
	var progressMu sync.Mutex

	boundedFanOut(r.ctx, r.o.cfg.MaxParallelSections, len(items), func(ctx context.Context, i int) {
		item := items[i]
		if ctx.Err() != nil {
			return
		}
		vars := map[string]any{
			"topic":          topic,
			"section_title":  item.sectionTitle,
			"subtopic_title": item.subtopicTitle,
			"tone":           tone,
			"research":       r.researchBlock(),
		}
		body, err := callFreeTextStage(r, promptcompose.StageSectionBody, vars)
		if err != nil {
			results[i].body = DegradedBodyPlaceholder
			results[i].succeeded = false
			r.warning(stage, "section body degraded: "+err.Error())
		} else {
			results[i].body = body
			results[i].succeeded = true
		}

		progressMu.Lock()
		completed++
		r.stageProgress(stage, completed, len(items))
		progressMu.Unlock()
	})

	succeeded, failed := 0, 0
	for _, item := range results {
		if item.succeeded {
			succeeded++
		} else {
			failed++
		}
	}
	r.stageCompleted(stage, succeeded, failed)
	return results
}

func (r *jobRun) generateIntro(topic string, outline promptcompose.OutlineResult, tone string) string {
	vars := map[string]any{
		"topic": topic, "title": outline.Title, "description": outline.Description, "tone": tone,
	}
	text, err := callFreeTextStage(r, promptcompose.StageIntro, vars)
	if err != nil {
		r.warning(string(promptcompose.StageIntro), "intro degraded: "+err.Error())
		return ""
	}
	return text
}

func (r *jobRun) generateConclusion(topic string, outline promptcompose.OutlineResult, tone string) string {
	titles := make([]string, len(outline.Sections))
	for i, s := range outline.Sections {
		titles[i] = s.Title
	}
	vars := map[string]any{
		"topic": topic, "title": outline.Title, "section_titles": titles, "tone": tone,
	}
	text, err := callFreeTextStage(r, promptcompose.StageConclusion, vars)
	if err != nil {
		r.warning(string(promptcompose.StageConclusion), "conclusion degraded: "+err.Error())
		return ""
	}
	return text
}

func (r *jobRun) generateFAQs(topic string, outline promptcompose.OutlineResult) []types.FAQ {
	vars := map[string]any{
		"topic": topic, "title": outline.Title, "keywords": outline.Tags,
	}
	result, err := callJSONStage[promptcompose.FAQsResult](r, promptcompose.StageFAQs, vars, defaultTemperature)
	if err != nil {
		r.warning(string(promptcompose.StageFAQs), "faqs degraded: "+err.Error())
		return nil
	}
	faqs := make([]types.FAQ, len(result.FAQs))
	for i, f := range result.FAQs {
		faqs[i] = types.FAQ{Question: f.Question, Answer: f.Answer}
	}
	return faqs
}

// generateMetaDescription degrades to an empty string with a warning on
// failure (spec §4.3 item 4).
func (r *jobRun) generateMetaDescription(outline promptcompose.OutlineResult) string {
	stage := string(promptcompose.StageMetaDescription)
	r.stageStarted(stage, 1)
	vars := map[string]any{"title": outline.Title, "description": outline.Description}
	text, err := callFreeTextStage(r, promptcompose.StageMetaDescription, vars)
	if err != nil {
		r.warning(stage, "meta description degraded: "+err.Error())
		r.stageCompleted(stage, 0, 1)
		return ""
	}
	r.stageCompleted(stage, 1, 0)
	return text
}
