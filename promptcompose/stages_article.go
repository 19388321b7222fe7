package promptcompose

import (
	"github.com/inkforge/pipeline/types"
)

func init() {
	register(StageOutline, template{
		Fields: []string{"topic", "keywords", "tone", "research"},
		Shape:  ShapeJSON,
		Schema: outlineSchema(),
		Render: renderOutline,
		Parse:  parseOutline,
	})
	register(StageIntro, template{
		Fields: []string{"topic", "title", "description", "tone"},
		Shape:  ShapeMarkdown,
		Render: renderIntro,
		Parse:  func(_ Stage, raw string) (any, error) { return parseText(raw) },
	})
	register(StageSectionBody, template{
		Fields: []string{"topic", "section_title", "subtopic_title", "tone", "research"},
		Shape:  ShapeMarkdown,
		Render: renderSectionBody,
		Parse:  func(_ Stage, raw string) (any, error) { return parseText(raw) },
	})
	register(StageConclusion, template{
		Fields: []string{"topic", "title", "section_titles", "tone"},
		Shape:  ShapeMarkdown,
		Render: renderConclusion,
		Parse:  func(_ Stage, raw string) (any, error) { return parseText(raw) },
	})
	register(StageFAQs, template{
		Fields: []string{"topic", "title", "keywords"},
		Shape:  ShapeJSON,
		Schema: faqsSchema(),
		Render: renderFAQs,
		Parse:  parseFAQs,
	})
	register(StageMetaDescription, template{
		Fields: []string{"title", "description"},
		Shape:  ShapeFreeText,
		Render: renderMetaDescription,
		Parse:  func(_ Stage, raw string) (any, error) { return parseText(raw) },
	})
}

func outlineSchema() *types.JSONSchema {
	sub := types.NewObjectSchema().
		AddProperty("title", types.NewStringSchema()).
		AddProperty("sub_topics", types.NewArraySchema(types.NewStringSchema())).
		AddRequired("title", "sub_topics")
	return types.NewObjectSchema().
		AddProperty("title", types.NewStringSchema()).
		AddProperty("description", types.NewStringSchema()).
		AddProperty("tags", types.NewArraySchema(types.NewStringSchema())).
		AddProperty("sections", types.NewArraySchema(sub)).
		AddRequired("title", "sections")
}

func faqsSchema() *types.JSONSchema {
	qa := types.NewObjectSchema().
		AddProperty("question", types.NewStringSchema()).
		AddProperty("answer", types.NewStringSchema()).
		AddRequired("question", "answer")
	return types.NewObjectSchema().
		AddProperty("faqs", types.NewArraySchema(qa)).
		AddRequired("faqs")
}

func renderOutline(ctx map[string]any) []types.Message {
	system := "You are an expert content strategist. Produce a structured " +
		"article outline as strict JSON matching the requested schema: " +
		`{"title","description","tags","sections":[{"title","sub_topics":[...]}]}. ` +
		"No prose outside the JSON object."
	research := ctxString(ctx, "research")
	var researchBlock string
	if research != "" {
		researchBlock = "\n\nResearch notes to draw on:\n" + research
	}
	user := "Topic: " + ctxString(ctx, "topic") + "\n" +
		"Keywords: " + joinOrNone(ctxStrings(ctx, "keywords")) + "\n" +
		"Tone: " + ctxString(ctx, "tone") + researchBlock
	return []types.Message{
		types.NewSystemMessage(system),
		types.NewUserMessage(user),
	}
}

func parseOutline(_ Stage, raw string) (any, error) {
	v, err := parseJSON[OutlineResult](raw)
	if err != nil {
		return nil, err
	}
	if v.Title == "" {
		return nil, errEmptyField("title")
	}
	if len(v.Sections) == 0 {
		return nil, errEmptyField("sections")
	}
	for _, s := range v.Sections {
		if len(s.SubTopics) == 0 {
			return nil, errEmptyField("sub_topics")
		}
	}
	return *v, nil
}

func renderIntro(ctx map[string]any) []types.Message {
	system := "You write engaging, factual article introductions in Markdown. " +
		"Two to three short paragraphs, no heading."
	user := "Topic: " + ctxString(ctx, "topic") + "\n" +
		"Title: " + ctxString(ctx, "title") + "\n" +
		"Description: " + ctxString(ctx, "description") + "\n" +
		"Tone: " + ctxString(ctx, "tone")
	return []types.Message{types.NewSystemMessage(system), types.NewUserMessage(user)}
}

func renderSectionBody(ctx map[string]any) []types.Message {
	system := "You write one prose section of a long-form article in Markdown. " +
		"Write only the body text for the named subtopic; do not repeat the " +
		"heading, do not write other subtopics."
	research := ctxString(ctx, "research")
	var researchBlock string
	if research != "" {
		researchBlock = "\n\nRelevant research:\n" + research
	}
	user := "Article topic: " + ctxString(ctx, "topic") + "\n" +
		"Section: " + ctxString(ctx, "section_title") + "\n" +
		"Subtopic: " + ctxString(ctx, "subtopic_title") + "\n" +
		"Tone: " + ctxString(ctx, "tone") + researchBlock
	return []types.Message{types.NewSystemMessage(system), types.NewUserMessage(user)}
}

func renderConclusion(ctx map[string]any) []types.Message {
	system := "You write a concise Markdown conclusion that ties the article's " +
		"sections together without introducing new claims."
	user := "Topic: " + ctxString(ctx, "topic") + "\n" +
		"Title: " + ctxString(ctx, "title") + "\n" +
		"Sections covered:\n" + bulletList(ctxStrings(ctx, "section_titles")) + "\n" +
		"Tone: " + ctxString(ctx, "tone")
	return []types.Message{types.NewSystemMessage(system), types.NewUserMessage(user)}
}

func renderFAQs(ctx map[string]any) []types.Message {
	system := "Produce 3 to 6 frequently-asked-questions for this article, as " +
		`strict JSON: {"faqs":[{"question","answer"}]}. No prose outside JSON.`
	user := "Topic: " + ctxString(ctx, "topic") + "\n" +
		"Title: " + ctxString(ctx, "title") + "\n" +
		"Keywords: " + joinOrNone(ctxStrings(ctx, "keywords"))
	return []types.Message{types.NewSystemMessage(system), types.NewUserMessage(user)}
}

func parseFAQs(_ Stage, raw string) (any, error) {
	v, err := parseJSON[FAQsResult](raw)
	if err != nil {
		return nil, err
	}
	if len(v.FAQs) == 0 {
		return nil, errEmptyField("faqs")
	}
	return *v, nil
}

func renderMetaDescription(ctx map[string]any) []types.Message {
	system := "Write a single SEO meta description, 120 to 158 characters, " +
		"plain text, no quotes, no trailing period required."
	user := "Title: " + ctxString(ctx, "title") + "\n" +
		"Description: " + ctxString(ctx, "description")
	return []types.Message{types.NewSystemMessage(system), types.NewUserMessage(user)}
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return bulletList(items)
}
