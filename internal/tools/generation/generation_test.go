package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"

	"github.com/classpilot/classpilot/internal/agent"
	"github.com/classpilot/classpilot/internal/artifacts"
	"github.com/classpilot/classpilot/pkg/models"
)

type fakeClient struct {
	response json.RawMessage
	err      error
	posts    []string
}

func (f *fakeClient) Get(_ context.Context, _ string, path string, _ url.Values, out any) error {
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal(f.response, out)
}

func (f *fakeClient) Post(_ context.Context, _ string, path string, _ any, out any) error {
	f.posts = append(f.posts, path)
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal(f.response, out)
}

func handlerFor(t *testing.T, defs []agent.Definition, name string) agent.Handler {
	t.Helper()
	for _, d := range defs {
		if d.Name == name {
			return d.Handler
		}
	}
	t.Fatalf("tool %s not defined", name)
	return nil
}

func turnCtx() *agent.TurnContext {
	return &agent.TurnContext{TeacherID: "t-1", ConversationID: "conv-1", TurnID: "turn-1"}
}

func TestGenerateQuizCreatesArtifact(t *testing.T) {
	store := artifacts.NewMemoryStore()
	h := handlerFor(t, Definitions(store, &fakeClient{}), "generate_quiz_questions")

	res, err := h(context.Background(), turnCtx(), json.RawMessage(`{
		"title":"Fractions quiz",
		"questions":[{"stem":"1/2 + 1/4 = ?","answer":"3/4"}]}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.Status != models.StatusOK || res.Action != models.ActionComplete {
		t.Fatalf("status/action = %s/%s", res.Status, res.Action)
	}
	if res.ArtifactType != models.ArtifactQuiz || res.ContentFormat != models.FormatJSON {
		t.Errorf("type/format = %s/%s", res.ArtifactType, res.ContentFormat)
	}

	data := res.Data.(map[string]any)
	id := data["artifact_id"].(string)
	stored, err := store.Latest(context.Background(), "t-1", id)
	if err != nil {
		t.Fatalf("stored artifact missing: %v", err)
	}
	if stored.Version != 1 {
		t.Errorf("version = %d, want 1", stored.Version)
	}
	var payload struct {
		Questions []QuizQuestion `json:"questions"`
	}
	if err := json.Unmarshal(stored.Content, &payload); err != nil {
		t.Fatalf("stored content: %v", err)
	}
	if len(payload.Questions) != 1 || payload.Questions[0].Answer != "3/4" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestGenerateQuizRejectsEmpty(t *testing.T) {
	store := artifacts.NewMemoryStore()
	h := handlerFor(t, Definitions(store, &fakeClient{}), "generate_quiz_questions")

	res, err := h(context.Background(), turnCtx(), json.RawMessage(`{"title":"empty","questions":[]}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.Status != models.StatusError {
		t.Fatalf("status = %s, want error", res.Status)
	}
}

func TestProposeOutlineCreatesNoArtifact(t *testing.T) {
	store := artifacts.NewMemoryStore()
	h := handlerFor(t, Definitions(store, &fakeClient{}), "propose_pptx_outline")

	res, err := h(context.Background(), turnCtx(), json.RawMessage(
		`{"topic":"Fractions","sections":["Intro","Practice"]}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.Status != models.StatusOK || res.ArtifactType != "" {
		t.Fatalf("outline must not produce an artifact: %+v", res)
	}
}

func TestGenerateDocStoresMarkdown(t *testing.T) {
	store := artifacts.NewMemoryStore()
	h := handlerFor(t, Definitions(store, &fakeClient{}), "generate_docx")

	res, err := h(context.Background(), turnCtx(), json.RawMessage(
		`{"title":"Lesson plan","markdown":"# Fractions\n\nWarm-up."}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	data := res.Data.(map[string]any)
	stored, err := store.Latest(context.Background(), "t-1", data["artifact_id"].(string))
	if err != nil {
		t.Fatalf("stored artifact missing: %v", err)
	}
	if stored.ContentFormat != models.FormatMarkdown {
		t.Errorf("format = %s", stored.ContentFormat)
	}
	var body string
	if err := json.Unmarshal(stored.Content, &body); err != nil {
		t.Fatalf("markdown content must be a JSON string: %v", err)
	}
	if body != "# Fractions\n\nWarm-up." {
		t.Errorf("body = %q", body)
	}
}

func TestRenderPDFDegradedWhenExportUnavailable(t *testing.T) {
	store := artifacts.NewMemoryStore()
	doc := &models.Artifact{
		ArtifactID:    artifacts.NewArtifactID(),
		ArtifactType:  models.ArtifactDoc,
		ContentFormat: models.FormatMarkdown,
		Content:       json.RawMessage(`"# Notes"`),
		TeacherID:     "t-1",
	}
	if err := store.Put(context.Background(), doc); err != nil {
		t.Fatal(err)
	}

	client := &fakeClient{err: errors.New("export service down")}
	h := handlerFor(t, Definitions(store, client), "render_pdf")

	res, err := h(context.Background(), turnCtx(),
		json.RawMessage(`{"artifact_id":"`+doc.ArtifactID+`"}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.Status != models.StatusDegraded {
		t.Fatalf("status = %s, want degraded", res.Status)
	}
}

func TestRenderPDFRejectsNonDocuments(t *testing.T) {
	store := artifacts.NewMemoryStore()
	quiz := &models.Artifact{
		ArtifactID:    artifacts.NewArtifactID(),
		ArtifactType:  models.ArtifactQuiz,
		ContentFormat: models.FormatJSON,
		Content:       json.RawMessage(`{}`),
		TeacherID:     "t-1",
	}
	if err := store.Put(context.Background(), quiz); err != nil {
		t.Fatal(err)
	}
	h := handlerFor(t, Definitions(store, &fakeClient{}), "render_pdf")

	res, err := h(context.Background(), turnCtx(),
		json.RawMessage(`{"artifact_id":"`+quiz.ArtifactID+`"}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.Status != models.StatusError {
		t.Fatalf("status = %s, want error", res.Status)
	}
}

func TestRequestInteractiveReturnsPartial(t *testing.T) {
	store := artifacts.NewMemoryStore()
	client := &fakeClient{response: json.RawMessage(`{"request_id":"req-42"}`)}
	h := handlerFor(t, Definitions(store, client), "request_interactive_content")

	res, err := h(context.Background(), turnCtx(), json.RawMessage(
		`{"description":"drag fractions onto a number line"}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.Status != models.StatusPartial || res.Action != models.ActionPartial {
		t.Fatalf("status/action = %s/%s", res.Status, res.Action)
	}
	data := res.Data.(map[string]any)
	if data["request_id"] != "req-42" {
		t.Errorf("request_id = %v", data["request_id"])
	}
}
