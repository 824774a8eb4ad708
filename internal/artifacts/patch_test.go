package artifacts

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/classpilot/classpilot/pkg/models"
)

func quizArtifact(content string) *models.Artifact {
	return &models.Artifact{
		ArtifactID:    "art-1",
		ArtifactType:  models.ArtifactQuiz,
		ContentFormat: models.FormatJSON,
		Content:       json.RawMessage(content),
		TeacherID:     "teacher-1",
	}
}

func TestApplyPatchJSONReplace(t *testing.T) {
	a := quizArtifact(`{"title":"Quiz","questions":[{"stem":"old"},{"stem":"keep"}]}`)
	patched, err := ApplyPatch(a, []models.PatchOp{{
		Op:     models.OpReplaceText,
		Target: "questions[0].stem",
		Value:  json.RawMessage(`"new stem"`),
	}})
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}

	var doc struct {
		Questions []struct {
			Stem string `json:"stem"`
		} `json:"questions"`
	}
	if err := json.Unmarshal(patched.Content, &doc); err != nil {
		t.Fatalf("patched content invalid: %v", err)
	}
	if doc.Questions[0].Stem != "new stem" || doc.Questions[1].Stem != "keep" {
		t.Errorf("questions = %+v", doc.Questions)
	}
	// Input untouched.
	if strings.Contains(string(a.Content), "new stem") {
		t.Error("ApplyPatch mutated its input")
	}
}

func TestApplyPatchJSONInsertDeleteMove(t *testing.T) {
	a := quizArtifact(`{"questions":[{"stem":"q0"},{"stem":"q1"},{"stem":"q2"}]}`)
	patched, err := ApplyPatch(a, []models.PatchOp{
		{Op: models.OpDeleteBlock, Target: "questions[1]"},
		{Op: models.OpInsertBlock, Target: "questions[0]", Value: json.RawMessage(`{"stem":"inserted"}`)},
		{Op: models.OpMoveBlock, Target: "questions[0]", Value: json.RawMessage(`{"to":2}`)},
	})
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}

	var doc struct {
		Questions []struct {
			Stem string `json:"stem"`
		} `json:"questions"`
	}
	if err := json.Unmarshal(patched.Content, &doc); err != nil {
		t.Fatal(err)
	}
	got := make([]string, len(doc.Questions))
	for i, q := range doc.Questions {
		got[i] = q.Stem
	}
	// delete q1 -> [q0 q2]; insert at 0 -> [inserted q0 q2]; move 0 to 2
	// -> [q0 q2 inserted]
	want := []string{"q0", "q2", "inserted"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("questions = %v, want %v", got, want)
		}
	}
}

func TestApplyPatchAtomicOnFailure(t *testing.T) {
	a := quizArtifact(`{"questions":[{"stem":"q0"}]}`)
	_, err := ApplyPatch(a, []models.PatchOp{
		{Op: models.OpReplaceText, Target: "questions[0].stem", Value: json.RawMessage(`"changed"`)},
		{Op: models.OpDeleteBlock, Target: "questions[9]"},
	})
	if err == nil {
		t.Fatal("out-of-range op should fail the whole patch")
	}
	if strings.Contains(string(a.Content), "changed") {
		t.Error("failed patch leaked partial changes into the input")
	}
}

func TestApplyPatchRespectsEditability(t *testing.T) {
	doc := &models.Artifact{
		ArtifactType:  models.ArtifactDoc,
		ContentFormat: models.FormatJSON,
		Content:       json.RawMessage(`{}`),
	}
	_, err := ApplyPatch(doc, []models.PatchOp{{Op: models.OpReplaceText, Target: "title"}})
	if !errors.Is(err, ErrNotEditable) {
		t.Errorf("doc/json should be regen-only, got %v", err)
	}

	ppt := &models.Artifact{
		ArtifactType:  models.ArtifactPPT,
		ContentFormat: models.FormatJSON,
		Content:       json.RawMessage(`{"slides":[{"title":"one"}]}`),
	}
	if _, err := ApplyPatch(ppt, []models.PatchOp{{
		Op: models.OpDeleteBlock, Target: "slides[0]",
	}}); err == nil {
		t.Error("ppt/json is partial-edit; delete_block must be rejected")
	}
	if _, err := ApplyPatch(ppt, []models.PatchOp{{
		Op: models.OpReplaceText, Target: "slides[0].title", Value: json.RawMessage(`"two"`),
	}}); err != nil {
		t.Errorf("ppt/json replace_text should work: %v", err)
	}
}

func TestApplyPatchMarkdown(t *testing.T) {
	a := &models.Artifact{
		ArtifactType:  models.ArtifactDoc,
		ContentFormat: models.FormatMarkdown,
		Content:       mustJSONString("# Title\n\nFirst paragraph.\n\nSecond paragraph."),
	}
	if _, err := ApplyPatch(a, []models.PatchOp{{
		Op: models.OpReplaceText, Target: "blocks[1]", Value: mustJSONString("Replaced."),
	}}); !errors.Is(err, ErrNotEditable) {
		t.Errorf("doc/markdown should be regen-only, got %v", err)
	}
}

func TestPatchMarkdownBlocks(t *testing.T) {
	content, err := patchMarkdown(
		mustJSONString("# Title\n\nFirst.\n\nSecond."),
		[]models.PatchOp{
			{Op: models.OpReplaceText, Target: "blocks[1]", Value: mustJSONString("Replaced.")},
			{Op: models.OpInsertBlock, Target: "blocks[2]", Value: mustJSONString("Inserted.")},
			{Op: models.OpDeleteBlock, Target: "blocks[3]"},
		})
	if err != nil {
		t.Fatalf("patchMarkdown: %v", err)
	}
	var text string
	if err := json.Unmarshal(content, &text); err != nil {
		t.Fatal(err)
	}
	if text != "# Title\n\nReplaced.\n\nInserted." {
		t.Errorf("text = %q", text)
	}
}

func TestApplyPatchHTML(t *testing.T) {
	a := &models.Artifact{
		ArtifactType:  models.ArtifactInteractive,
		ContentFormat: models.FormatHTML,
		Content: mustJSONString(
			`<div id="root"><p id="intro">Old intro</p><img id="pic" src="a.png"/></div>`),
	}
	patched, err := ApplyPatch(a, []models.PatchOp{
		{Op: models.OpReplaceText, Target: "intro", Value: mustJSONString("New intro")},
		{Op: models.OpSetStyle, Target: "intro", Value: mustJSONString("color:red")},
		{Op: models.OpReplaceMedia, Target: "pic", Value: mustJSONString("b.png")},
	})
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	var html string
	if err := json.Unmarshal(patched.Content, &html); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, ">New intro</p>") {
		t.Errorf("replace_text failed: %q", html)
	}
	if !strings.Contains(html, `style="color:red"`) {
		t.Errorf("set_style failed: %q", html)
	}
	if !strings.Contains(html, `src="b.png"`) {
		t.Errorf("replace_media failed: %q", html)
	}
}

func TestLocateElementNestedSameTag(t *testing.T) {
	html := `<div id="outer">before<div id="inner">x</div>after</div>`
	loc, err := locateElement(html, "outer")
	if err != nil {
		t.Fatalf("locateElement: %v", err)
	}
	inner := html[loc.innerStart:loc.innerEnd]
	if inner != `before<div id="inner">x</div>after` {
		t.Errorf("inner = %q", inner)
	}
}

func mustJSONString(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}
