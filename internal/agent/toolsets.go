package agent

import "strings"

// Toolset is a selection group of related tools. Per turn the selector
// picks which groups the model may see; base data and platform tools are
// always exposed.
type Toolset string

const (
	// ToolsetBaseData reads classes, students, grades and assignments.
	ToolsetBaseData Toolset = "base_data"

	// ToolsetAnalysis computes mastery, trends and error statistics.
	ToolsetAnalysis Toolset = "analysis"

	// ToolsetGeneration creates quizzes, slide decks, documents and
	// interactive content.
	ToolsetGeneration Toolset = "generation"

	// ToolsetArtifactOps edits previously generated artifacts.
	ToolsetArtifactOps Toolset = "artifact_ops"

	// ToolsetPlatform covers notifications, scheduling and account info.
	ToolsetPlatform Toolset = "platform"
)

// SelectionContext is the per-turn signal the selector works from besides
// the message text.
type SelectionContext struct {
	// HasArtifacts is true when the conversation already produced at
	// least one artifact.
	HasArtifacts bool

	// ClassID is set when the client pinned a class for the turn.
	ClassID string
}

// Keyword groups are matched case-insensitively against the message. The
// lists mix English and Chinese because the teacher-facing product runs
// in both.
var (
	generationKeywords = []string{
		"generate", "create", "make", "quiz", "worksheet", "ppt",
		"slide", "presentation", "lesson plan", "document", "handout",
		"exercise", "interactive",
		"出题", "生成", "制作", "试卷", "课件", "教案", "讲义", "练习",
	}
	artifactOpsKeywords = []string{
		"change", "replace", "modify", "revise", "edit", "update",
		"adjust", "swap", "reword", "regenerate",
		"修改", "替换", "调整", "改一下", "改成", "改为", "换", "重新生成",
	}
	analysisKeywords = []string{
		"score", "grade", "analyz", "analys", "mastery", "trend",
		"mistake", "wrong answer", "attendance", "performance",
		"weakness", "struggl",
		"成绩", "分析", "掌握", "错题", "薄弱", "表现", "出勤",
	}
)

// SelectToolsets decides which toolsets the model sees for one turn. The
// policy is permissive: false positives cost only prompt tokens, false
// negatives make the turn fail, so any hint includes the group. Base data
// and platform tools are always present.
func SelectToolsets(message string, sctx SelectionContext) []Toolset {
	lower := strings.ToLower(message)

	selected := []Toolset{ToolsetBaseData, ToolsetPlatform}

	if matchesAny(lower, analysisKeywords) || sctx.ClassID != "" {
		selected = append(selected, ToolsetAnalysis)
	}
	if matchesAny(lower, generationKeywords) {
		selected = append(selected, ToolsetGeneration)
	}
	if sctx.HasArtifacts || matchesAny(lower, artifactOpsKeywords) {
		selected = append(selected, ToolsetArtifactOps)
		// Edit requests sometimes turn into regeneration; keep that door
		// open when the model decides a patch cannot express the change.
		if !contains(selected, ToolsetGeneration) {
			selected = append(selected, ToolsetGeneration)
		}
	}
	return selected
}

func matchesAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func contains(sets []Toolset, ts Toolset) bool {
	for _, s := range sets {
		if s == ts {
			return true
		}
	}
	return false
}

// ToolsetNames renders the selection for logging and metrics.
func ToolsetNames(sets []Toolset) []string {
	names := make([]string, len(sets))
	for i, s := range sets {
		names[i] = string(s)
	}
	return names
}
