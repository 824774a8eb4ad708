// Package analysis computes academic statistics over platform data:
// score distributions, cross-assignment comparison, weakness and mastery
// breakdowns. Data comes from the platform; the math happens here so the
// model reasons over compact aggregates instead of raw score lists.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sort"

	"github.com/classpilot/classpilot/internal/agent"
	"github.com/classpilot/classpilot/internal/external"
	"github.com/classpilot/classpilot/internal/tools/basedata"
	"github.com/classpilot/classpilot/pkg/models"
)

// Definitions returns the analysis toolset.
func Definitions(client external.DataAPI) []agent.Definition {
	t := &tools{client: client}
	return []agent.Definition{
		{
			Name:        "calculate_stats",
			Description: "Compute score statistics (mean, median, stddev, distribution) for an assignment or a whole class.",
			Toolset:     agent.ToolsetAnalysis,
			Args:        statsArgs{},
			Handler:     t.calculateStats,
		},
		{
			Name:        "compare_performance",
			Description: "Compare class performance between two assignments: mean shift and per-student improvement counts.",
			Toolset:     agent.ToolsetAnalysis,
			Args:        compareArgs{},
			Handler:     t.comparePerformance,
		},
		{
			Name:        "analyze_student_weakness",
			Description: "Rank a student's weakest knowledge points from their grade history.",
			Toolset:     agent.ToolsetAnalysis,
			Args:        weaknessArgs{},
			Handler:     t.analyzeStudentWeakness,
		},
		{
			Name:        "get_student_error_patterns",
			Description: "Fetch a student's recurring error patterns recorded by the platform.",
			Toolset:     agent.ToolsetAnalysis,
			Args:        errorPatternsArgs{},
			Handler:     t.getStudentErrorPatterns,
		},
		{
			Name:        "calculate_class_mastery",
			Description: "Compute per-knowledge-point mastery ratios for a class.",
			Toolset:     agent.ToolsetAnalysis,
			Args:        masteryArgs{},
			Handler:     t.calculateClassMastery,
		},
	}
}

type tools struct {
	client external.DataAPI
}

type statsArgs struct {
	ClassID      string `json:"class_id" jsonschema:"required,description=Class identifier"`
	AssignmentID string `json:"assignment_id,omitempty" jsonschema:"description=Narrow to one assignment"`
}

type compareArgs struct {
	ClassID     string `json:"class_id" jsonschema:"required,description=Class identifier"`
	AssignmentA string `json:"assignment_a" jsonschema:"required,description=Earlier assignment id"`
	AssignmentB string `json:"assignment_b" jsonschema:"required,description=Later assignment id"`
}

type weaknessArgs struct {
	StudentID string `json:"student_id" jsonschema:"required,description=Student identifier"`
	ClassID   string `json:"class_id" jsonschema:"required,description=Class identifier"`
}

type errorPatternsArgs struct {
	StudentID string `json:"student_id" jsonschema:"required,description=Student identifier"`
	Subject   string `json:"subject,omitempty" jsonschema:"description=Optional subject filter"`
}

type masteryArgs struct {
	ClassID string `json:"class_id" jsonschema:"required,description=Class identifier"`
}

// Stats summarizes a score sample.
type Stats struct {
	Count        int            `json:"count"`
	Mean         float64        `json:"mean"`
	Median       float64        `json:"median"`
	StdDev       float64        `json:"std_dev"`
	Min          float64        `json:"min"`
	Max          float64        `json:"max"`
	Distribution map[string]int `json:"distribution"`
}

// Compute builds Stats from raw scores. Distribution buckets follow the
// usual grading bands.
func Compute(scores []float64) Stats {
	s := Stats{Count: len(scores), Distribution: map[string]int{}}
	if len(scores) == 0 {
		return s
	}

	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	s.Mean = sum / float64(len(sorted))

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		s.Median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		s.Median = sorted[mid]
	}

	var sqSum float64
	for _, v := range sorted {
		d := v - s.Mean
		sqSum += d * d
	}
	s.StdDev = math.Sqrt(sqSum / float64(len(sorted)))

	for _, v := range sorted {
		s.Distribution[band(v)]++
	}
	return s
}

func band(score float64) string {
	switch {
	case score >= 90:
		return "90-100"
	case score >= 80:
		return "80-89"
	case score >= 70:
		return "70-79"
	case score >= 60:
		return "60-69"
	default:
		return "<60"
	}
}

func (t *tools) calculateStats(ctx context.Context, tc *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args statsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	grades, err := basedata.FetchGrades(ctx, t.client, tc.TeacherID, args.ClassID, args.AssignmentID, "")
	if err != nil {
		return platformError(err), nil
	}
	if len(grades) == 0 {
		return &models.ToolResult{Status: models.StatusNoResult, Reason: "no grades to analyze"}, nil
	}
	scores := make([]float64, len(grades))
	for i, g := range grades {
		scores[i] = g.Score
	}
	return &models.ToolResult{Status: models.StatusOK, Data: map[string]any{
		"class_id":      args.ClassID,
		"assignment_id": args.AssignmentID,
		"stats":         Compute(scores),
	}}, nil
}

func (t *tools) comparePerformance(ctx context.Context, tc *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args compareArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	gradesA, err := basedata.FetchGrades(ctx, t.client, tc.TeacherID, args.ClassID, args.AssignmentA, "")
	if err != nil {
		return platformError(err), nil
	}
	gradesB, err := basedata.FetchGrades(ctx, t.client, tc.TeacherID, args.ClassID, args.AssignmentB, "")
	if err != nil {
		return platformError(err), nil
	}
	if len(gradesA) == 0 || len(gradesB) == 0 {
		return &models.ToolResult{Status: models.StatusNoResult,
			Reason: "one or both assignments have no grades"}, nil
	}

	byStudentA := make(map[string]float64, len(gradesA))
	for _, g := range gradesA {
		byStudentA[g.StudentID] = g.Score
	}
	improved, declined, unchanged := 0, 0, 0
	for _, g := range gradesB {
		prev, ok := byStudentA[g.StudentID]
		if !ok {
			continue
		}
		switch {
		case g.Score > prev:
			improved++
		case g.Score < prev:
			declined++
		default:
			unchanged++
		}
	}

	scoresOf := func(grades []basedata.Grade) []float64 {
		out := make([]float64, len(grades))
		for i, g := range grades {
			out[i] = g.Score
		}
		return out
	}
	statsA := Compute(scoresOf(gradesA))
	statsB := Compute(scoresOf(gradesB))

	return &models.ToolResult{Status: models.StatusOK, Data: map[string]any{
		"assignment_a": map[string]any{"id": args.AssignmentA, "stats": statsA},
		"assignment_b": map[string]any{"id": args.AssignmentB, "stats": statsB},
		"mean_shift":   statsB.Mean - statsA.Mean,
		"improved":     improved,
		"declined":     declined,
		"unchanged":    unchanged,
	}}, nil
}

func (t *tools) analyzeStudentWeakness(ctx context.Context, tc *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args weaknessArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	grades, err := basedata.FetchGrades(ctx, t.client, tc.TeacherID, args.ClassID, "", args.StudentID)
	if err != nil {
		return platformError(err), nil
	}
	if len(grades) == 0 {
		return &models.ToolResult{Status: models.StatusNoResult,
			Reason: fmt.Sprintf("no grade history for student %s", args.StudentID)}, nil
	}

	weaknesses := rankWeaknesses(grades)
	if len(weaknesses) == 0 {
		return &models.ToolResult{Status: models.StatusDegraded,
			Data:   map[string]any{"student_id": args.StudentID},
			Reason: "grades carry no knowledge point tags"}, nil
	}
	return &models.ToolResult{Status: models.StatusOK, Data: map[string]any{
		"student_id": args.StudentID,
		"weaknesses": weaknesses,
	}}, nil
}

// KnowledgePointScore is a per-knowledge-point average.
type KnowledgePointScore struct {
	KnowledgePointID string  `json:"knowledge_point_id"`
	AverageRatio     float64 `json:"average_ratio"`
	Samples          int     `json:"samples"`
}

// rankWeaknesses averages score ratios per knowledge point, weakest first.
func rankWeaknesses(grades []basedata.Grade) []KnowledgePointScore {
	type acc struct {
		sum float64
		n   int
	}
	byKP := map[string]*acc{}
	for _, g := range grades {
		if g.KnowledgePointID == "" {
			continue
		}
		max := g.MaxScore
		if max <= 0 {
			max = 100
		}
		a := byKP[g.KnowledgePointID]
		if a == nil {
			a = &acc{}
			byKP[g.KnowledgePointID] = a
		}
		a.sum += g.Score / max
		a.n++
	}

	out := make([]KnowledgePointScore, 0, len(byKP))
	for kp, a := range byKP {
		out = append(out, KnowledgePointScore{
			KnowledgePointID: kp,
			AverageRatio:     a.sum / float64(a.n),
			Samples:          a.n,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AverageRatio < out[j].AverageRatio })
	return out
}

func (t *tools) getStudentErrorPatterns(ctx context.Context, tc *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args errorPatternsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	query := url.Values{"student_id": {args.StudentID}}
	if args.Subject != "" {
		query.Set("subject", args.Subject)
	}
	var out struct {
		Patterns []map[string]any `json:"patterns"`
	}
	if err := t.client.Get(ctx, tc.TeacherID, "/error-patterns", query, &out); err != nil {
		return platformError(err), nil
	}
	if len(out.Patterns) == 0 {
		return &models.ToolResult{Status: models.StatusNoResult,
			Reason: "no error patterns recorded"}, nil
	}
	return &models.ToolResult{Status: models.StatusOK, Data: map[string]any{"patterns": out.Patterns}}, nil
}

func (t *tools) calculateClassMastery(ctx context.Context, tc *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args masteryArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	grades, err := basedata.FetchGrades(ctx, t.client, tc.TeacherID, args.ClassID, "", "")
	if err != nil {
		return platformError(err), nil
	}
	if len(grades) == 0 {
		return &models.ToolResult{Status: models.StatusNoResult, Reason: "no grades to analyze"}, nil
	}

	mastery := rankWeaknesses(grades)
	if len(mastery) == 0 {
		return &models.ToolResult{Status: models.StatusDegraded,
			Reason: "grades carry no knowledge point tags"}, nil
	}
	// Strongest first reads better for a class overview.
	sort.Slice(mastery, func(i, j int) bool { return mastery[i].AverageRatio > mastery[j].AverageRatio })
	return &models.ToolResult{Status: models.StatusOK, Data: map[string]any{
		"class_id": args.ClassID,
		"mastery":  mastery,
	}}, nil
}

func platformError(err error) *models.ToolResult {
	return &models.ToolResult{Status: models.StatusError, Reason: "platform request failed: " + err.Error()}
}
