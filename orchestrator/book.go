package orchestrator

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/inkforge/pipeline/promptcompose"
	"github.com/inkforge/pipeline/types"
)

type topicItem struct {
	title     string
	body      string
	succeeded bool
}

type chapterPlan struct {
	number int
	title  string
	topics []topicItem
}

// runBook drives the book graph (spec §4.3): research, book outline,
// bounded chapter-topics fan-out, nested topic-body fan-out, and
// post-processing.
func (r *jobRun) runBook(spec *types.BookSpec) (*types.Book, error) {
	if spec.Research {
		r.doResearch(spec.Title)
	}

	tone := string(spec.Tone)
	chapterCount := spec.ChapterCount
	if chapterCount <= 0 {
		chapterCount = 5
	}
	topicsPerChapter := spec.TopicsPerChapter
	if topicsPerChapter <= 0 {
		topicsPerChapter = 3
	}

	outlineVars := map[string]any{
		"title":         spec.Title,
		"keywords":      spec.Keywords,
		"tone":          tone,
		"chapter_count": strconv.Itoa(chapterCount),
		"research":      r.researchBlock(),
	}

	r.stageStarted(string(promptcompose.StageBookOutline), 1)
	outline, err := callJSONStage[promptcompose.BookOutlineResult](r, promptcompose.StageBookOutline, outlineVars, defaultTemperature)
	if err != nil {
		r.stageCompleted(string(promptcompose.StageBookOutline), 0, 1)
		return nil, types.NewError(types.ErrParseFailure, "book outline generation failed: "+err.Error()).WithCause(err)
	}
	r.stageCompleted(string(promptcompose.StageBookOutline), 1, 0)

	plans := r.generateChapterTopics(spec.Title, tone, outline.Chapters, topicsPerChapter)
	r.generateTopicBodies(spec.Title, tone, plans)

	total, succeeded := 0, 0
	for _, plan := range plans {
		for _, t := range plan.topics {
			total++
			if t.succeeded {
				succeeded++
			}
		}
	}
	if total > 0 && float64(succeeded)/float64(total) < SuccessFloor {
		return nil, types.NewError(types.ErrDegraded, "topic body generation fell below the success floor")
	}

	chapters := make([]types.Chapter, len(plans))
	for i, plan := range plans {
		topics := make([]types.Topic, len(plan.topics))
		for j, t := range plan.topics {
			topics[j] = types.Topic{Title: t.title, Body: t.body}
		}
		chapters[i] = types.Chapter{Number: plan.number, Title: plan.title, Topics: topics}
	}

	if spec.Proofread || spec.Humanize {
		r.postProcessChapters(chapters, spec.Proofread, spec.Humanize)
	}

	return &types.Book{ID: r.jobID, Title: outline.Title, Chapters: chapters, PublishedAt: time.Now()}, nil
}

// generateChapterTopics fans out across chapters, bounded by
// max_parallel_chapters (spec §4.3 book step 3). A chapter whose topic
// list fails to generate degrades to zero topics for that chapter, with
// a warning, rather than failing the whole book.
func (r *jobRun) generateChapterTopics(title, tone string, chapterTitles []string, topicsPerChapter int) []chapterPlan {
	stage := string(promptcompose.StageChapterTopics)
	r.stageStarted(stage, len(chapterTitles))

	plans := make([]chapterPlan, len(chapterTitles))
	for i, t := range chapterTitles {
		plans[i] = chapterPlan{number: i + 1, title: t}
	}

	completed := 0
	var progressMu sync.Mutex
	succeeded, failed := 0, 0
	var countMu sync.Mutex

	boundedFanOut(r.ctx, r.o.cfg.MaxParallelChapters, len(chapterTitles), func(ctx context.Context, i int) {
		if ctx.Err() != nil {
			return
		}
		vars := map[string]any{
			"title":              title,
			"chapter_title":      chapterTitles[i],
			"chapter_number":     strconv.Itoa(i + 1),
			"topics_per_chapter": strconv.Itoa(topicsPerChapter),
			"tone":               tone,
		}
		result, err := callJSONStage[promptcompose.ChapterTopicsResult](r, promptcompose.StageChapterTopics, vars, defaultTemperature)
		countMu.Lock()
		if err != nil {
			failed++
			countMu.Unlock()
			r.warning(stage, "chapter topics degraded for chapter "+strconv.Itoa(i+1)+": "+err.Error())
		} else {
			succeeded++
			countMu.Unlock()
			topics := make([]topicItem, len(result.Topics))
			for j, topicTitle := range result.Topics {
				topics[j] = topicItem{title: topicTitle}
			}
			plans[i].topics = topics
		}

		progressMu.Lock()
		completed++
		r.stageProgress(stage, completed, len(chapterTitles))
		progressMu.Unlock()
	})

	r.stageCompleted(stage, succeeded, failed)
	return plans
}

// generateTopicBodies is the nested fan-out: outer bound
// max_parallel_chapters over chapters, inner bound max_parallel_sections
// over topics within one chapter (spec §4.3 book step 4). Total
// concurrency is bounded by the product of the two.
func (r *jobRun) generateTopicBodies(title, tone string, plans []chapterPlan) {
	stage := string(promptcompose.StageTopicBody)
	totalTopics := 0
	for _, p := range plans {
		totalTopics += len(p.topics)
	}
	r.stageStarted(stage, totalTopics)

	completed := 0
	succeeded := 0
	failed := 0
	var mu sync.Mutex

	boundedFanOut(r.ctx, r.o.cfg.MaxParallelChapters, len(plans), func(ctx context.Context, ci int) {
		plan := plans[ci]
		boundedFanOut(ctx, r.o.cfg.MaxParallelSections, len(plan.topics), func(ctx context.Context, ti int) {
			if ctx.Err() != nil {
				return
			}
			vars := map[string]any{
				"title":         title,
				"chapter_title": plan.title,
				"topic_title":   plan.topics[ti].title,
				"tone":          tone,
				"research":      r.researchBlock(),
			}
			body, err := callFreeTextStage(r, promptcompose.StageTopicBody, vars)

			mu.Lock()
			if err != nil {
				plans[ci].topics[ti].body = DegradedBodyPlaceholder
				plans[ci].topics[ti].succeeded = false
				failed++
				mu.Unlock()
				r.warning(stage, "topic body degraded: "+err.Error())
			} else {
				plans[ci].topics[ti].body = body
				plans[ci].topics[ti].succeeded = true
				succeeded++
				mu.Unlock()
			}

			mu.Lock()
			completed++
			r.stageProgress(stage, completed, totalTopics)
			mu.Unlock()
		})
	})

	r.stageCompleted(stage, succeeded, failed)
}
