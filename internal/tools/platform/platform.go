// Package platform covers the school platform write surface and
// conversation utilities: publishing assignments, share links, document
// search, clarification questions, report pages.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/classpilot/classpilot/internal/agent"
	"github.com/classpilot/classpilot/internal/artifacts"
	"github.com/classpilot/classpilot/internal/external"
	"github.com/classpilot/classpilot/pkg/models"
)

// Definitions returns the platform toolset.
func Definitions(client external.DataAPI, store artifacts.Store) []agent.Definition {
	t := &tools{client: client, store: store}
	return []agent.Definition{
		{
			Name:        "save_as_assignment",
			Description: "Publish a quiz artifact to a class as an assignment with a due date.",
			Toolset:     agent.ToolsetPlatform,
			Args:        saveAssignmentArgs{},
			Handler:     t.saveAsAssignment,
		},
		{
			Name:        "create_share_link",
			Description: "Create a shareable link for an artifact so the teacher can send it outside the platform.",
			Toolset:     agent.ToolsetPlatform,
			Args:        shareLinkArgs{},
			Handler:     t.createShareLink,
		},
		{
			Name:        "search_teacher_documents",
			Description: "Search the teacher's uploaded documents and past materials.",
			Toolset:     agent.ToolsetPlatform,
			Args:        searchArgs{},
			Handler:     t.searchDocuments,
		},
		{
			Name:        "ask_clarification",
			Description: "Ask the teacher a clarification question when a request is missing required information. Use instead of guessing.",
			Toolset:     agent.ToolsetPlatform,
			Args:        clarifyArgs{},
			Handler:     t.askClarification,
		},
		{
			Name:        "build_report_page",
			Description: "Build a shareable HTML report page from analysis findings. Creates an interactive artifact.",
			Toolset:     agent.ToolsetPlatform,
			Args:        reportArgs{},
			Handler:     t.buildReportPage,
		},
	}
}

type tools struct {
	client external.DataAPI
	store  artifacts.Store
}

type saveAssignmentArgs struct {
	ArtifactID string `json:"artifact_id" jsonschema:"required,description=Quiz artifact to publish"`
	ClassID    string `json:"class_id" jsonschema:"required,description=Class to assign it to"`
	DueDate    string `json:"due_date" jsonschema:"required,description=Due date in YYYY-MM-DD"`
	Title      string `json:"title,omitempty" jsonschema:"description=Assignment title; artifact title when omitted"`
}

type shareLinkArgs struct {
	ArtifactID   string `json:"artifact_id" jsonschema:"required,description=Artifact to share"`
	ExpiresHours int    `json:"expires_hours,omitempty" jsonschema:"description=Link lifetime in hours; platform default when omitted"`
}

type searchArgs struct {
	Query string `json:"query" jsonschema:"required,description=Search terms"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum results; default 10"`
}

type clarifyArgs struct {
	Question string   `json:"question" jsonschema:"required,description=The question to ask the teacher"`
	Options  []string `json:"options,omitempty" jsonschema:"description=Suggested answers when the choice is bounded"`
	Field    string   `json:"field,omitempty" jsonschema:"description=The missing parameter this resolves"`
}

// ReportSection is one block of a report page.
type ReportSection struct {
	Heading string `json:"heading" jsonschema:"required,description=Section heading"`
	Body    string `json:"body" jsonschema:"required,description=Section body text"`
}

type reportArgs struct {
	Title    string          `json:"title" jsonschema:"required,description=Report title"`
	Sections []ReportSection `json:"sections" jsonschema:"required,description=Report sections in order"`
}

func (t *tools) saveAsAssignment(ctx context.Context, tc *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args saveAssignmentArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}

	// Ownership check before publishing anything.
	artifact, err := t.store.Latest(ctx, tc.TeacherID, args.ArtifactID)
	if errors.Is(err, artifacts.ErrNotFound) {
		return models.ErrorResult("artifact not found: " + args.ArtifactID), nil
	}
	if err != nil {
		return nil, err
	}
	if artifact.ArtifactType != models.ArtifactQuiz {
		return models.ErrorResult("only quiz artifacts can be published as assignments"), nil
	}

	var out struct {
		AssignmentID string `json:"assignment_id"`
	}
	err = t.client.Post(ctx, tc.TeacherID, "/assignments", map[string]any{
		"artifact_id": artifact.ArtifactID,
		"version":     artifact.Version,
		"class_id":    args.ClassID,
		"due_date":    args.DueDate,
		"title":       args.Title,
	}, &out)
	if err != nil {
		return models.ErrorResult("publishing failed: " + err.Error()), nil
	}
	return &models.ToolResult{Status: models.StatusOK, Data: map[string]any{
		"assignment_id": out.AssignmentID,
		"class_id":      args.ClassID,
		"due_date":      args.DueDate,
	}}, nil
}

func (t *tools) createShareLink(ctx context.Context, tc *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args shareLinkArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}

	if _, err := t.store.Latest(ctx, tc.TeacherID, args.ArtifactID); err != nil {
		return models.ErrorResult("artifact not found: " + args.ArtifactID), nil
	}

	var out struct {
		URL       string `json:"url"`
		ExpiresAt string `json:"expires_at"`
	}
	err := t.client.Post(ctx, tc.TeacherID, "/share-links", map[string]any{
		"artifact_id":   args.ArtifactID,
		"expires_hours": args.ExpiresHours,
	}, &out)
	if err != nil {
		return models.ErrorResult("share link creation failed: " + err.Error()), nil
	}
	return &models.ToolResult{Status: models.StatusOK, Data: map[string]any{
		"url":        out.URL,
		"expires_at": out.ExpiresAt,
	}}, nil
}

func (t *tools) searchDocuments(ctx context.Context, tc *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args searchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	limit := args.Limit
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	query := url.Values{"query": {args.Query}, "limit": {fmt.Sprint(limit)}}
	var out struct {
		Documents []map[string]any `json:"documents"`
	}
	if err := t.client.Get(ctx, tc.TeacherID, "/documents/search", query, &out); err != nil {
		return models.ErrorResult("document search failed: " + err.Error()), nil
	}
	if len(out.Documents) == 0 {
		return &models.ToolResult{Status: models.StatusNoResult,
			Reason: fmt.Sprintf("no documents matched %q", args.Query)}, nil
	}
	return &models.ToolResult{Status: models.StatusOK, Data: map[string]any{"documents": out.Documents}}, nil
}

func (t *tools) askClarification(_ context.Context, _ *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args clarifyArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Question) == "" {
		return models.ErrorResult("clarification question is empty"), nil
	}
	return &models.ToolResult{
		Status: models.StatusOK,
		Action: models.ActionClarify,
		Data: models.ClarifyEvent{
			Question: args.Question,
			Options:  args.Options,
			Field:    args.Field,
		},
	}, nil
}

func (t *tools) buildReportPage(ctx context.Context, tc *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args reportArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if len(args.Sections) == 0 {
		return models.ErrorResult("a report needs at least one section"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<article id="report"><h1 id="report-title">%s</h1>`, html.EscapeString(args.Title))
	for i, s := range args.Sections {
		fmt.Fprintf(&b, `<section id="section-%d"><h2>%s</h2><p>%s</p></section>`,
			i, html.EscapeString(s.Heading), html.EscapeString(s.Body))
	}
	b.WriteString(`</article>`)

	content, err := json.Marshal(b.String())
	if err != nil {
		return nil, err
	}
	artifact := &models.Artifact{
		ArtifactID:     artifacts.NewArtifactID(),
		ArtifactType:   models.ArtifactInteractive,
		ContentFormat:  models.FormatHTML,
		Content:        content,
		ConversationID: tc.ConversationID,
		TeacherID:      tc.TeacherID,
	}
	if err := t.store.Put(ctx, artifact); err != nil {
		return nil, err
	}
	return &models.ToolResult{
		Status:        models.StatusOK,
		Action:        models.ActionComplete,
		ArtifactType:  models.ArtifactInteractive,
		ContentFormat: models.FormatHTML,
		Data: map[string]any{
			"artifact_id":   artifact.ArtifactID,
			"version":       artifact.Version,
			"section_count": len(args.Sections),
		},
	}, nil
}
