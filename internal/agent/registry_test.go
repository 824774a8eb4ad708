package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/classpilot/classpilot/pkg/models"
)

type quizArgs struct {
	Topic         string `json:"topic" jsonschema:"required,description=Subject matter of the quiz"`
	QuestionCount int    `json:"question_count,omitempty" jsonschema:"description=How many questions to produce"`
}

func okHandler(_ context.Context, _ *TurnContext, _ json.RawMessage) (*models.ToolResult, error) {
	return &models.ToolResult{Status: models.StatusOK}, nil
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(Definition{
		Name:        "generate_quiz",
		Description: "Generate a quiz",
		Toolset:     ToolsetGeneration,
		Args:        quizArgs{},
		Handler:     okHandler,
	})

	def, ok := r.Lookup("generate_quiz")
	if !ok {
		t.Fatal("registered tool not found")
	}
	if def.Toolset != ToolsetGeneration {
		t.Errorf("Toolset = %s", def.Toolset)
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Error("lookup of unregistered tool succeeded")
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	def := Definition{Name: "t", Toolset: ToolsetBaseData, Handler: okHandler}
	r.Register(def)

	defer func() {
		if recover() == nil {
			t.Error("duplicate registration did not panic")
		}
	}()
	r.Register(def)
}

func TestRegistrySchemasForFiltersByToolset(t *testing.T) {
	r := NewRegistry()
	r.Register(Definition{Name: "get_classes", Toolset: ToolsetBaseData, Handler: okHandler})
	r.Register(Definition{Name: "generate_quiz", Toolset: ToolsetGeneration, Args: quizArgs{}, Handler: okHandler})
	r.Register(Definition{Name: "send_notification", Toolset: ToolsetPlatform, Handler: okHandler})

	schemas := r.SchemasFor([]Toolset{ToolsetBaseData, ToolsetPlatform})
	if len(schemas) != 2 {
		t.Fatalf("got %d schemas, want 2", len(schemas))
	}
	for _, s := range schemas {
		if s.Name == "generate_quiz" {
			t.Error("generation tool leaked into base_data/platform selection")
		}
	}
}

func TestRegistrySchemaReflection(t *testing.T) {
	r := NewRegistry()
	r.Register(Definition{Name: "generate_quiz", Toolset: ToolsetGeneration, Args: quizArgs{}, Handler: okHandler})

	schemas := r.SchemasFor([]Toolset{ToolsetGeneration})
	if len(schemas) != 1 {
		t.Fatalf("got %d schemas", len(schemas))
	}
	raw := string(schemas[0].InputSchema)
	if !strings.Contains(raw, `"topic"`) || !strings.Contains(raw, `"question_count"`) {
		t.Errorf("schema missing fields: %s", raw)
	}
	if strings.Contains(raw, "$schema") {
		t.Errorf("schema draft marker should be stripped: %s", raw)
	}
}

func TestValidateArgs(t *testing.T) {
	r := NewRegistry()
	r.Register(Definition{Name: "generate_quiz", Toolset: ToolsetGeneration, Args: quizArgs{}, Handler: okHandler})

	if err := r.ValidateArgs("generate_quiz", json.RawMessage(`{"topic":"fractions","question_count":5}`)); err != nil {
		t.Errorf("valid args rejected: %v", err)
	}
	if err := r.ValidateArgs("generate_quiz", json.RawMessage(`{"question_count":5}`)); err == nil {
		t.Error("missing required field accepted")
	}
	if err := r.ValidateArgs("generate_quiz", json.RawMessage(`{not json`)); err == nil {
		t.Error("malformed JSON accepted")
	}
	if err := r.ValidateArgs("missing", nil); err == nil {
		t.Error("unknown tool accepted")
	}
}
