package promptcompose

import "github.com/inkforge/pipeline/types"

func init() {
	register(StageBookOutline, template{
		Fields: []string{"title", "keywords", "tone", "chapter_count", "research"},
		Shape:  ShapeJSON,
		Schema: bookOutlineSchema(),
		Render: renderBookOutline,
		Parse:  parseBookOutline,
	})
	register(StageChapterTopics, template{
		Fields: []string{"title", "chapter_title", "chapter_number", "topics_per_chapter", "tone"},
		Shape:  ShapeJSON,
		Schema: chapterTopicsSchema(),
		Render: renderChapterTopics,
		Parse:  parseChapterTopics,
	})
	register(StageTopicBody, template{
		Fields: []string{"title", "chapter_title", "topic_title", "tone", "research"},
		Shape:  ShapeMarkdown,
		Render: renderTopicBody,
		Parse:  func(_ Stage, raw string) (any, error) { return parseText(raw) },
	})
}

func bookOutlineSchema() *types.JSONSchema {
	return types.NewObjectSchema().
		AddProperty("title", types.NewStringSchema()).
		AddProperty("chapters", types.NewArraySchema(types.NewStringSchema())).
		AddRequired("title", "chapters")
}

func chapterTopicsSchema() *types.JSONSchema {
	return types.NewObjectSchema().
		AddProperty("topics", types.NewArraySchema(types.NewStringSchema())).
		AddRequired("topics")
}

func renderBookOutline(ctx map[string]any) []types.Message {
	system := "You are a book editor. Produce a chapter outline as strict JSON: " +
		`{"title","chapters":[...]}` + ", one short title per chapter, no prose outside JSON."
	research := ctxString(ctx, "research")
	var researchBlock string
	if research != "" {
		researchBlock = "\n\nResearch notes:\n" + research
	}
	user := "Working title: " + ctxString(ctx, "title") + "\n" +
		"Keywords: " + joinOrNone(ctxStrings(ctx, "keywords")) + "\n" +
		"Tone: " + ctxString(ctx, "tone") + "\n" +
		"Chapter count: " + ctxString(ctx, "chapter_count") + researchBlock
	return []types.Message{types.NewSystemMessage(system), types.NewUserMessage(user)}
}

func parseBookOutline(_ Stage, raw string) (any, error) {
	v, err := parseJSON[BookOutlineResult](raw)
	if err != nil {
		return nil, err
	}
	if len(v.Chapters) == 0 {
		return nil, errEmptyField("chapters")
	}
	return *v, nil
}

func renderChapterTopics(ctx map[string]any) []types.Message {
	system := "Produce the topic list for one book chapter as strict JSON: " +
		`{"topics":[...]}` + ", one short topic title per entry, no prose outside JSON."
	user := "Book title: " + ctxString(ctx, "title") + "\n" +
		"Chapter " + ctxString(ctx, "chapter_number") + ": " + ctxString(ctx, "chapter_title") + "\n" +
		"Topics requested: " + ctxString(ctx, "topics_per_chapter") + "\n" +
		"Tone: " + ctxString(ctx, "tone")
	return []types.Message{types.NewSystemMessage(system), types.NewUserMessage(user)}
}

func parseChapterTopics(_ Stage, raw string) (any, error) {
	v, err := parseJSON[ChapterTopicsResult](raw)
	if err != nil {
		return nil, err
	}
	if len(v.Topics) == 0 {
		return nil, errEmptyField("topics")
	}
	return *v, nil
}

func renderTopicBody(ctx map[string]any) []types.Message {
	system := "You write one prose topic section of a book chapter in Markdown. " +
		"Write only the body text for the named topic; do not repeat the heading."
	research := ctxString(ctx, "research")
	var researchBlock string
	if research != "" {
		researchBlock = "\n\nRelevant research:\n" + research
	}
	user := "Book: " + ctxString(ctx, "title") + "\n" +
		"Chapter: " + ctxString(ctx, "chapter_title") + "\n" +
		"Topic: " + ctxString(ctx, "topic_title") + "\n" +
		"Tone: " + ctxString(ctx, "tone") + researchBlock
	return []types.Message{types.NewSystemMessage(system), types.NewUserMessage(user)}
}
