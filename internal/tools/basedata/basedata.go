// Package basedata exposes read-only school platform lookups as agent
// tools: classes, assignments, submissions, grades, entity resolution.
package basedata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/classpilot/classpilot/internal/agent"
	"github.com/classpilot/classpilot/internal/external"
	"github.com/classpilot/classpilot/pkg/models"
)

// Definitions returns the base_data toolset backed by the given platform
// client.
func Definitions(client external.DataAPI) []agent.Definition {
	t := &tools{client: client}
	return []agent.Definition{
		{
			Name:        "get_teacher_classes",
			Description: "List the classes the current teacher teaches, with subject and student count.",
			Toolset:     agent.ToolsetBaseData,
			Args:        classesArgs{},
			Handler:     t.getTeacherClasses,
		},
		{
			Name:        "get_class_detail",
			Description: "Get one class with its full student roster.",
			Toolset:     agent.ToolsetBaseData,
			Args:        classDetailArgs{},
			Handler:     t.getClassDetail,
		},
		{
			Name:        "get_assignment_submissions",
			Description: "List submissions for an assignment, including who has not submitted.",
			Toolset:     agent.ToolsetBaseData,
			Args:        submissionsArgs{},
			Handler:     t.getAssignmentSubmissions,
		},
		{
			Name:        "get_student_grades",
			Description: "Fetch grades for a class, optionally narrowed to one assignment or one student.",
			Toolset:     agent.ToolsetBaseData,
			Args:        gradesArgs{},
			Handler:     t.getStudentGrades,
		},
		{
			Name:        "resolve_entity",
			Description: "Resolve a human name or title to a class, student, or assignment id.",
			Toolset:     agent.ToolsetBaseData,
			Args:        resolveArgs{},
			Handler:     t.resolveEntity,
		},
	}
}

type tools struct {
	client external.DataAPI
}

type classesArgs struct {
	Subject string `json:"subject,omitempty" jsonschema:"description=Optional subject filter such as math or english"`
}

type classDetailArgs struct {
	ClassID string `json:"class_id" jsonschema:"required,description=Class identifier"`
}

type submissionsArgs struct {
	AssignmentID string `json:"assignment_id" jsonschema:"required,description=Assignment identifier"`
}

type gradesArgs struct {
	ClassID      string `json:"class_id" jsonschema:"required,description=Class identifier"`
	AssignmentID string `json:"assignment_id,omitempty" jsonschema:"description=Narrow to one assignment"`
	StudentID    string `json:"student_id,omitempty" jsonschema:"description=Narrow to one student"`
}

type resolveArgs struct {
	Query      string `json:"query" jsonschema:"required,description=The name or title to resolve"`
	EntityType string `json:"entity_type,omitempty" jsonschema:"description=Restrict to class, student, or assignment,enum=class,enum=student,enum=assignment"`
}

func (t *tools) getTeacherClasses(ctx context.Context, tc *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args classesArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	query := url.Values{}
	if args.Subject != "" {
		query.Set("subject", args.Subject)
	}
	var out struct {
		Classes []map[string]any `json:"classes"`
	}
	if err := t.client.Get(ctx, tc.TeacherID, "/classes", query, &out); err != nil {
		return platformError(err), nil
	}
	if len(out.Classes) == 0 {
		return &models.ToolResult{Status: models.StatusNoResult, Reason: "no classes found"}, nil
	}
	return &models.ToolResult{Status: models.StatusOK, Data: map[string]any{"classes": out.Classes}}, nil
}

func (t *tools) getClassDetail(ctx context.Context, tc *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args classDetailArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	var out map[string]any
	query := url.Values{"class_id": {args.ClassID}}
	if err := t.client.Get(ctx, tc.TeacherID, "/classes/detail", query, &out); err != nil {
		return platformError(err), nil
	}
	if len(out) == 0 {
		return &models.ToolResult{Status: models.StatusNoResult,
			Reason: fmt.Sprintf("class %s not found", args.ClassID)}, nil
	}
	return &models.ToolResult{Status: models.StatusOK, Data: out}, nil
}

func (t *tools) getAssignmentSubmissions(ctx context.Context, tc *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args submissionsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	var out struct {
		Submissions []map[string]any `json:"submissions"`
		Missing     []map[string]any `json:"missing"`
	}
	query := url.Values{"assignment_id": {args.AssignmentID}}
	if err := t.client.Get(ctx, tc.TeacherID, "/assignments/submissions", query, &out); err != nil {
		return platformError(err), nil
	}
	if len(out.Submissions) == 0 && len(out.Missing) == 0 {
		return &models.ToolResult{Status: models.StatusNoResult,
			Reason: fmt.Sprintf("no submission data for assignment %s", args.AssignmentID)}, nil
	}
	return &models.ToolResult{Status: models.StatusOK, Data: map[string]any{
		"submissions": out.Submissions,
		"missing":     out.Missing,
	}}, nil
}

func (t *tools) getStudentGrades(ctx context.Context, tc *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args gradesArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	grades, err := FetchGrades(ctx, t.client, tc.TeacherID, args.ClassID, args.AssignmentID, args.StudentID)
	if err != nil {
		return platformError(err), nil
	}
	if len(grades) == 0 {
		return &models.ToolResult{Status: models.StatusNoResult, Reason: "no grades recorded"}, nil
	}
	return &models.ToolResult{Status: models.StatusOK, Data: map[string]any{"grades": grades}}, nil
}

func (t *tools) resolveEntity(ctx context.Context, tc *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args resolveArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	query := url.Values{"query": {args.Query}}
	if args.EntityType != "" {
		query.Set("entity_type", args.EntityType)
	}
	var out struct {
		Matches []map[string]any `json:"matches"`
	}
	if err := t.client.Get(ctx, tc.TeacherID, "/entities/resolve", query, &out); err != nil {
		return platformError(err), nil
	}
	if len(out.Matches) == 0 {
		return &models.ToolResult{Status: models.StatusNoResult,
			Reason: fmt.Sprintf("nothing matched %q", args.Query)}, nil
	}
	return &models.ToolResult{Status: models.StatusOK, Data: map[string]any{"matches": out.Matches}}, nil
}

// Grade is one score record from the platform. Shared with the analysis
// toolset.
type Grade struct {
	StudentID        string  `json:"student_id"`
	AssignmentID     string  `json:"assignment_id"`
	Score            float64 `json:"score"`
	MaxScore         float64 `json:"max_score,omitempty"`
	KnowledgePointID string  `json:"knowledge_point_id,omitempty"`
}

// FetchGrades pulls grade records with optional assignment and student
// filters.
func FetchGrades(ctx context.Context, client external.DataAPI, teacherID, classID, assignmentID, studentID string) ([]Grade, error) {
	query := url.Values{"class_id": {classID}}
	if assignmentID != "" {
		query.Set("assignment_id", assignmentID)
	}
	if studentID != "" {
		query.Set("student_id", studentID)
	}
	var out struct {
		Grades []Grade `json:"grades"`
	}
	if err := client.Get(ctx, teacherID, "/grades", query, &out); err != nil {
		return nil, err
	}
	return out.Grades, nil
}

func platformError(err error) *models.ToolResult {
	return &models.ToolResult{Status: models.StatusError, Reason: "platform request failed: " + err.Error()}
}
