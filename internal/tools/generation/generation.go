// Package generation turns model-produced material into stored artifacts:
// quizzes, slide decks, documents, interactive pages. The model authors
// the content in the tool arguments; these handlers validate it, persist a
// version, and hand back the artifact envelope.
package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/classpilot/classpilot/internal/agent"
	"github.com/classpilot/classpilot/internal/artifacts"
	"github.com/classpilot/classpilot/internal/external"
	"github.com/classpilot/classpilot/pkg/models"
)

// Definitions returns the generation toolset.
func Definitions(store artifacts.Store, client external.DataAPI) []agent.Definition {
	t := &tools{store: store, client: client}
	return []agent.Definition{
		{
			Name:        "generate_quiz_questions",
			Description: "Persist a generated quiz. Provide the complete question list; a quiz artifact is created and returned.",
			Toolset:     agent.ToolsetGeneration,
			Args:        quizArgs{},
			Handler:     t.generateQuiz,
		},
		{
			Name:        "propose_pptx_outline",
			Description: "Propose a slide deck outline for teacher review before full generation. Does not create an artifact.",
			Toolset:     agent.ToolsetGeneration,
			Args:        outlineArgs{},
			Handler:     t.proposeOutline,
		},
		{
			Name:        "generate_pptx",
			Description: "Persist a generated slide deck. Provide all slides; a ppt artifact is created and returned.",
			Toolset:     agent.ToolsetGeneration,
			Args:        pptArgs{},
			Handler:     t.generatePPT,
		},
		{
			Name:        "generate_docx",
			Description: "Persist a generated document (lesson plan, handout) written in markdown.",
			Toolset:     agent.ToolsetGeneration,
			Args:        docArgs{},
			Handler:     t.generateDoc,
		},
		{
			Name:        "render_pdf",
			Description: "Render an existing document artifact to PDF and return the download link.",
			Toolset:     agent.ToolsetGeneration,
			Args:        renderArgs{},
			Handler:     t.renderPDF,
		},
		{
			Name:        "generate_interactive_html",
			Description: "Persist a generated self-contained interactive HTML exercise.",
			Toolset:     agent.ToolsetGeneration,
			Args:        interactiveArgs{},
			Handler:     t.generateInteractive,
		},
		{
			Name:        "request_interactive_content",
			Description: "Request complex interactive content from the content pipeline when inline HTML generation is not enough. Returns a tracking id.",
			Toolset:     agent.ToolsetGeneration,
			Args:        requestArgs{},
			Handler:     t.requestInteractive,
		},
	}
}

type tools struct {
	store  artifacts.Store
	client external.DataAPI
}

// QuizQuestion is one authored question.
type QuizQuestion struct {
	Stem        string   `json:"stem" jsonschema:"required,description=Question text"`
	Options     []string `json:"options,omitempty" jsonschema:"description=Choices for multiple-choice questions"`
	Answer      string   `json:"answer" jsonschema:"required,description=Correct answer"`
	Explanation string   `json:"explanation,omitempty" jsonschema:"description=Why the answer is correct"`
	KnowledgePointID string `json:"knowledge_point_id,omitempty" jsonschema:"description=Tagged knowledge point"`
}

type quizArgs struct {
	Title     string         `json:"title" jsonschema:"required,description=Quiz title"`
	Subject   string         `json:"subject,omitempty" jsonschema:"description=Subject the quiz covers"`
	Questions []QuizQuestion `json:"questions" jsonschema:"required,description=The complete question list"`
}

type outlineArgs struct {
	Topic    string   `json:"topic" jsonschema:"required,description=Deck topic"`
	Sections []string `json:"sections" jsonschema:"required,description=Proposed section titles in order"`
}

// Slide is one authored slide.
type Slide struct {
	Title   string   `json:"title" jsonschema:"required,description=Slide title"`
	Bullets []string `json:"bullets,omitempty" jsonschema:"description=Bullet points"`
	Notes   string   `json:"notes,omitempty" jsonschema:"description=Speaker notes"`
}

type pptArgs struct {
	Title  string  `json:"title" jsonschema:"required,description=Deck title"`
	Slides []Slide `json:"slides" jsonschema:"required,description=The complete slide list"`
}

type docArgs struct {
	Title    string `json:"title" jsonschema:"required,description=Document title"`
	Markdown string `json:"markdown" jsonschema:"required,description=Full document body in markdown"`
}

type renderArgs struct {
	ArtifactID string `json:"artifact_id" jsonschema:"required,description=Document artifact to render"`
}

type interactiveArgs struct {
	Title string `json:"title" jsonschema:"required,description=Exercise title"`
	HTML  string `json:"html" jsonschema:"required,description=Self-contained HTML document"`
}

type requestArgs struct {
	Description     string `json:"description" jsonschema:"required,description=What the interactive content should do"`
	InteractionType string `json:"interaction_type,omitempty" jsonschema:"description=Kind of interaction such as drag-drop or simulation"`
}

func (t *tools) generateQuiz(ctx context.Context, tc *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args quizArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if len(args.Questions) == 0 {
		return models.ErrorResult("a quiz needs at least one question"), nil
	}
	content, err := json.Marshal(map[string]any{
		"title":     args.Title,
		"subject":   args.Subject,
		"questions": args.Questions,
	})
	if err != nil {
		return nil, err
	}
	return t.saveArtifact(ctx, tc, models.ArtifactQuiz, models.FormatJSON, content, map[string]any{
		"question_count": len(args.Questions),
	})
}

func (t *tools) proposeOutline(_ context.Context, _ *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args outlineArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if len(args.Sections) == 0 {
		return models.ErrorResult("an outline needs at least one section"), nil
	}
	return &models.ToolResult{
		Status: models.StatusOK,
		Action: models.ActionComplete,
		Data: map[string]any{
			"topic":    args.Topic,
			"sections": args.Sections,
		},
	}, nil
}

func (t *tools) generatePPT(ctx context.Context, tc *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args pptArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if len(args.Slides) == 0 {
		return models.ErrorResult("a deck needs at least one slide"), nil
	}
	content, err := json.Marshal(map[string]any{
		"title":  args.Title,
		"slides": args.Slides,
	})
	if err != nil {
		return nil, err
	}
	return t.saveArtifact(ctx, tc, models.ArtifactPPT, models.FormatJSON, content, map[string]any{
		"slide_count": len(args.Slides),
	})
}

func (t *tools) generateDoc(ctx context.Context, tc *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args docArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Markdown) == "" {
		return models.ErrorResult("document body is empty"), nil
	}
	content, err := json.Marshal(args.Markdown)
	if err != nil {
		return nil, err
	}
	return t.saveArtifact(ctx, tc, models.ArtifactDoc, models.FormatMarkdown, content, map[string]any{
		"title": args.Title,
	})
}

func (t *tools) renderPDF(ctx context.Context, tc *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args renderArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	artifact, err := t.store.Latest(ctx, tc.TeacherID, args.ArtifactID)
	if err != nil {
		return models.ErrorResult("artifact not found: " + args.ArtifactID), nil
	}
	if artifact.ArtifactType != models.ArtifactDoc {
		return models.ErrorResult("only document artifacts can be rendered to PDF"), nil
	}
	// Rendering is delegated to the platform's export service; the link is
	// stable per artifact version.
	var out struct {
		URL string `json:"url"`
	}
	err = t.client.Post(ctx, tc.TeacherID, "/exports/pdf", map[string]any{
		"artifact_id": artifact.ArtifactID,
		"version":     artifact.Version,
	}, &out)
	if err != nil {
		return &models.ToolResult{Status: models.StatusDegraded,
			Data:   map[string]any{"artifact_id": artifact.ArtifactID},
			Reason: "export service unavailable, PDF not rendered"}, nil
	}
	return &models.ToolResult{Status: models.StatusOK, Data: map[string]any{
		"artifact_id": artifact.ArtifactID,
		"version":     artifact.Version,
		"pdf_url":     out.URL,
	}}, nil
}

func (t *tools) generateInteractive(ctx context.Context, tc *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args interactiveArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.HTML) == "" {
		return models.ErrorResult("interactive HTML is empty"), nil
	}
	content, err := json.Marshal(args.HTML)
	if err != nil {
		return nil, err
	}
	return t.saveArtifact(ctx, tc, models.ArtifactInteractive, models.FormatHTML, content, map[string]any{
		"title": args.Title,
	})
}

func (t *tools) requestInteractive(ctx context.Context, tc *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args requestArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	var out struct {
		RequestID string `json:"request_id"`
	}
	err := t.client.Post(ctx, tc.TeacherID, "/interactive-requests", map[string]any{
		"description":      args.Description,
		"interaction_type": args.InteractionType,
		"conversation_id":  tc.ConversationID,
	}, &out)
	if err != nil {
		return models.ErrorResult("content pipeline unavailable: " + err.Error()), nil
	}
	return &models.ToolResult{
		Status: models.StatusPartial,
		Action: models.ActionPartial,
		Data: map[string]any{
			"request_id": out.RequestID,
			"note":       "content is being produced asynchronously; the teacher will be notified",
		},
	}, nil
}

// saveArtifact persists a new artifact scoped to the turn's teacher and
// conversation and returns the uniform generation envelope.
func (t *tools) saveArtifact(ctx context.Context, tc *agent.TurnContext, typ models.ArtifactType, format models.ContentFormat, content json.RawMessage, extra map[string]any) (*models.ToolResult, error) {
	artifact := &models.Artifact{
		ArtifactID:     artifacts.NewArtifactID(),
		ArtifactType:   typ,
		ContentFormat:  format,
		Content:        content,
		ConversationID: tc.ConversationID,
		TeacherID:      tc.TeacherID,
	}
	if err := t.store.Put(ctx, artifact); err != nil {
		return nil, fmt.Errorf("store artifact: %w", err)
	}

	data := map[string]any{
		"artifact_id": artifact.ArtifactID,
		"version":     artifact.Version,
	}
	for k, v := range extra {
		data[k] = v
	}
	return &models.ToolResult{
		Status:        models.StatusOK,
		Action:        models.ActionComplete,
		ArtifactType:  typ,
		ContentFormat: format,
		Data:          data,
	}, nil
}
