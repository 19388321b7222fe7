package types

import "time"

// ArtifactKind distinguishes the two generation shapes the pipeline drives.
type ArtifactKind string

const (
	KindArticle ArtifactKind = "article"
	KindBook    ArtifactKind = "book"
)

// Tone constrains the voice a stage's prompts should adopt.
type Tone string

const (
	ToneProfessional   Tone = "professional"
	ToneConversational Tone = "conversational"
	ToneInformative    Tone = "informative"
	ToneFriendly       Tone = "friendly"
	ToneAuthoritative  Tone = "authoritative"
	ToneTechnical      Tone = "technical"
)

// SubTopic is the leaf unit of generated prose in an Article.
type SubTopic struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Section groups SubTopics under one heading. Invariant: len(SubTopics) >= 1.
type Section struct {
	Title     string     `json:"title"`
	SubTopics []SubTopic `json:"sub_topics"`
}

// FAQ is one question/answer pair attached to an Article.
type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Article is the finished product of the article graph (spec §3). Intro,
// Conclusion and FAQs are supplemented beyond the outline/sections/
// meta-description graph spec.md describes verbatim; they are generated
// and attached when present but never count toward the section fan-out's
// success floor (spec §4.3 item 3 governs subtopic bodies only).
type Article struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	PublishedAt time.Time `json:"published_at"`
	ImageURI    string    `json:"image_uri,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Intro       string    `json:"intro,omitempty"`
	Sections    []Section `json:"sections"`
	Conclusion  string    `json:"conclusion,omitempty"`
	FAQs        []FAQ     `json:"faqs,omitempty"`
}

// Topic is the leaf unit of generated prose in a Book chapter.
type Topic struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Chapter is 1-indexed and contiguous across a Book (invariant, spec §3).
type Chapter struct {
	Number int     `json:"number"`
	Title  string  `json:"title"`
	Topics []Topic `json:"topics"`
}

// Book is the finished product of the book graph.
type Book struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Chapters      []Chapter `json:"chapters"`
	OutputFileRef string    `json:"output_file_ref,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	PublishedAt   time.Time `json:"published_at"`
}

// JobState is the lifecycle state of a Job (spec §3).
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCanceled  JobState = "canceled"
)

// IsTerminal reports whether the state ends the job's lifecycle.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCanceled:
		return true
	default:
		return false
	}
}

// ArticleSpec is the validated request body for SubmitArticleJob (spec §6).
type ArticleSpec struct {
	Topic      string   `json:"topic"`
	Keywords   []string `json:"keywords,omitempty"`
	Tone       Tone     `json:"tone"`
	Research   bool     `json:"research"`
	Proofread  bool     `json:"proofread"`
	Humanize   bool     `json:"humanize"`
	IdempotKey string   `json:"idempotency_key,omitempty"`
}

// BookSpec is the validated request body for SubmitBookJob (spec §6).
type BookSpec struct {
	Title           string   `json:"title"`
	Keywords        []string `json:"keywords,omitempty"`
	Tone            Tone     `json:"tone"`
	Research        bool     `json:"research"`
	Proofread       bool     `json:"proofread"`
	Humanize        bool     `json:"humanize"`
	ChapterCount    int      `json:"chapter_count"`
	TopicsPerChapter int     `json:"topics_per_chapter"`
	IdempotKey      string   `json:"idempotency_key,omitempty"`
}

// Job tracks one end-to-end article or book generation (spec §3, §4.6).
type Job struct {
	ID             string       `json:"id"`
	Subject        string       `json:"subject"`
	ConversationID string       `json:"conversation_id"`
	Kind           ArtifactKind `json:"kind"`
	ArticleSpec    *ArticleSpec `json:"article_spec,omitempty"`
	BookSpec       *BookSpec    `json:"book_spec,omitempty"`
	State          JobState     `json:"state"`
	IdempotencyKey string       `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	TerminalAt     time.Time    `json:"terminal_at,omitempty"`
	Err            *Error       `json:"error,omitempty"`
	TokensUsed     TokenUsage   `json:"tokens_used"`

	// Artifact is populated only on success; a canceled or failed job never
	// carries a materialized artifact (Open Question decision, SPEC_FULL.md).
	Article *Article `json:"article,omitempty"`
	Book    *Book    `json:"book,omitempty"`
}

// Snapshot is a read-only copy of a Job's state, safe to hand to callers
// without exposing the registry's internal cancellation token.
type Snapshot struct {
	Job
}

// ProviderCredential configures one backend family (spec §3). Owned
// exclusively by the Provider Gateway; no other component reads Secret.
type ProviderCredential struct {
	Backend       string            `json:"backend"`
	Secret        string            `json:"-"`
	DefaultModel  string            `json:"default_model"`
	ModelOverride map[string]string `json:"model_override,omitempty"`
}
