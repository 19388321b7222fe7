// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

package service

import (
	"fmt"

	"github.com/inkforge/pipeline/types"
)

// Field constraints from spec §6's article/book spec fields.
const (
	topicMinLen            = 1
	topicMaxLen            = 200
	keywordMaxCount        = 20
	keywordMinLen          = 1
	keywordMaxLen          = 50
	titleMinLen            = 1
	titleMaxLen            = 200
	chapterCountMin         = 1
	chapterCountMax         = 50
	chapterCountDefault     = 5
	topicsPerChapterMin     = 1
	topicsPerChapterMax     = 20
	topicsPerChapterDefault = 3
)

var validTones = map[types.Tone]bool{
	types.ToneProfessional:   true,
	types.ToneConversational: true,
	types.ToneInformative:    true,
	types.ToneFriendly:       true,
	types.ToneAuthoritative:  true,
	types.ToneTechnical:      true,
}

func badRequest(format string, args ...any) error {
	return types.NewError(types.ErrBadRequest, fmt.Sprintf(format, args...))
}

func validateKeywords(keywords []string) error {
	if len(keywords) > keywordMaxCount {
		return badRequest("keywords: at most %d entries, got %d", keywordMaxCount, len(keywords))
	}
	for i, kw := range keywords {
		if len(kw) < keywordMinLen || len(kw) > keywordMaxLen {
			return badRequest("keywords[%d]: length must be %d-%d chars", i, keywordMinLen, keywordMaxLen)
		}
	}
	return nil
}

func validateTone(tone types.Tone) error {
	if !validTones[tone] {
		return badRequest("tone: %q is not one of the supported tones", tone)
	}
	return nil
}

// validateArticleSpec checks spec against spec §6's article constraints and
// returns a copy (no defaults to apply beyond the constraints themselves).
func validateArticleSpec(spec types.ArticleSpec) (types.ArticleSpec, error) {
	if len(spec.Topic) < topicMinLen || len(spec.Topic) > topicMaxLen {
		return spec, badRequest("topic: length must be %d-%d chars, got %d", topicMinLen, topicMaxLen, len(spec.Topic))
	}
	if err := validateKeywords(spec.Keywords); err != nil {
		return spec, err
	}
	if err := validateTone(spec.Tone); err != nil {
		return spec, err
	}
	return spec, nil
}

// validateBookSpec checks spec against spec §6's book constraints (the
// article-spec fields minus topic, plus chapter-count/topics-per-chapter)
// and fills in the documented defaults where the caller left them zero.
func validateBookSpec(spec types.BookSpec) (types.BookSpec, error) {
	if len(spec.Title) < titleMinLen || len(spec.Title) > titleMaxLen {
		return spec, badRequest("title: length must be %d-%d chars, got %d", titleMinLen, titleMaxLen, len(spec.Title))
	}
	if err := validateKeywords(spec.Keywords); err != nil {
		return spec, err
	}
	if err := validateTone(spec.Tone); err != nil {
		return spec, err
	}

	if spec.ChapterCount == 0 {
		spec.ChapterCount = chapterCountDefault
	}
	if spec.ChapterCount < chapterCountMin || spec.ChapterCount > chapterCountMax {
		return spec, badRequest("chapter_count: must be %d-%d, got %d", chapterCountMin, chapterCountMax, spec.ChapterCount)
	}

	if spec.TopicsPerChapter == 0 {
		spec.TopicsPerChapter = topicsPerChapterDefault
	}
	if spec.TopicsPerChapter < topicsPerChapterMin || spec.TopicsPerChapter > topicsPerChapterMax {
		return spec, badRequest("topics_per_chapter: must be %d-%d, got %d", topicsPerChapterMin, topicsPerChapterMax, spec.TopicsPerChapter)
	}

	return spec, nil
}
