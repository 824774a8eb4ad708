// Package artifactops edits previously generated artifacts: fetch,
// structured patch, full regeneration. Every edit appends a version.
package artifactops

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/classpilot/classpilot/internal/agent"
	"github.com/classpilot/classpilot/internal/artifacts"
	"github.com/classpilot/classpilot/pkg/models"
)

// Definitions returns the artifact_ops toolset.
func Definitions(store artifacts.Store, externalizeBytes int) []agent.Definition {
	t := &tools{store: store, externalizeBytes: externalizeBytes}
	return []agent.Definition{
		{
			Name:        "get_artifact",
			Description: "Fetch an artifact's current content, or a specific version, for review or editing.",
			Toolset:     agent.ToolsetArtifactOps,
			Args:        getArgs{},
			Handler:     t.getArtifact,
		},
		{
			Name:        "patch_artifact",
			Description: "Apply structured edit operations to an artifact. Fails atomically; on success a new version is created.",
			Toolset:     agent.ToolsetArtifactOps,
			Args:        patchArgs{},
			Handler:     t.patchArtifact,
		},
		{
			Name:        "regenerate_from_previous",
			Description: "Replace an artifact's content wholesale when structured patching cannot express the change. Creates a new version.",
			Toolset:     agent.ToolsetArtifactOps,
			Args:        regenerateArgs{},
			Handler:     t.regenerate,
		},
	}
}

type tools struct {
	store            artifacts.Store
	externalizeBytes int
}

type getArgs struct {
	ArtifactID string `json:"artifact_id" jsonschema:"required,description=Artifact identifier"`
	Version    int    `json:"version,omitempty" jsonschema:"description=Specific version; latest when omitted"`
}

// PatchOperation mirrors the patch grammar for schema generation.
type PatchOperation struct {
	Op     string          `json:"op" jsonschema:"required,description=Operation kind,enum=replace_text,enum=insert_block,enum=delete_block,enum=move_block,enum=set_style,enum=replace_media,enum=transform_structure"`
	Target string          `json:"target" jsonschema:"required,description=Locator such as questions[2].stem or an element id"`
	Value  json.RawMessage `json:"value,omitempty" jsonschema:"description=Operation payload"`
}

type patchArgs struct {
	ArtifactID string           `json:"artifact_id" jsonschema:"required,description=Artifact identifier"`
	Ops        []PatchOperation `json:"ops" jsonschema:"required,description=Edit operations applied in order"`
}

type regenerateArgs struct {
	ArtifactID string          `json:"artifact_id" jsonschema:"required,description=Artifact identifier"`
	Content    json.RawMessage `json:"content" jsonschema:"required,description=The complete replacement content in the artifact's format"`
}

func (t *tools) getArtifact(ctx context.Context, tc *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args getArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}

	var artifact *models.Artifact
	var err error
	if args.Version > 0 {
		artifact, err = t.store.Get(ctx, tc.TeacherID, args.ArtifactID, args.Version)
	} else {
		artifact, err = t.store.Latest(ctx, tc.TeacherID, args.ArtifactID)
	}
	if errors.Is(err, artifacts.ErrNotFound) {
		return models.ErrorResult("artifact not found: " + args.ArtifactID), nil
	}
	if err != nil {
		return nil, err
	}

	wire := artifacts.ExternalizeForWire(artifact, t.externalizeBytes)
	return &models.ToolResult{
		Status:        models.StatusOK,
		ArtifactType:  artifact.ArtifactType,
		ContentFormat: artifact.ContentFormat,
		Data:          wire,
	}, nil
}

func (t *tools) patchArtifact(ctx context.Context, tc *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args patchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	artifact, err := t.store.Latest(ctx, tc.TeacherID, args.ArtifactID)
	if errors.Is(err, artifacts.ErrNotFound) {
		return models.ErrorResult("artifact not found: " + args.ArtifactID), nil
	}
	if err != nil {
		return nil, err
	}

	// An empty op list is a no-op, not a failure: the artifact stays at its
	// current version.
	if len(args.Ops) == 0 {
		return &models.ToolResult{
			Status:        models.StatusOK,
			Action:        models.ActionComplete,
			ArtifactType:  artifact.ArtifactType,
			ContentFormat: artifact.ContentFormat,
			Data: map[string]any{
				"artifact_id": artifact.ArtifactID,
				"version":     artifact.Version,
				"ops_applied": 0,
			},
		}, nil
	}

	ops := make([]models.PatchOp, len(args.Ops))
	for i, op := range args.Ops {
		ops[i] = models.PatchOp{
			Op:     models.PatchOpKind(op.Op),
			Target: op.Target,
			Value:  op.Value,
		}
	}

	patched, err := artifacts.ApplyPatch(artifact, ops)
	if errors.Is(err, artifacts.ErrNotEditable) {
		// Steer the model toward regeneration instead of retrying patches.
		return &models.ToolResult{
			Status: models.StatusError,
			Reason: "this artifact only supports regeneration; use regenerate_from_previous",
		}, nil
	}
	if err != nil {
		return models.ErrorResult("patch failed: " + err.Error()), nil
	}

	if err := t.store.Put(ctx, patched); err != nil {
		return nil, err
	}
	return &models.ToolResult{
		Status:        models.StatusOK,
		Action:        models.ActionComplete,
		ArtifactType:  patched.ArtifactType,
		ContentFormat: patched.ContentFormat,
		Data: map[string]any{
			"artifact_id": patched.ArtifactID,
			"version":     patched.Version,
			"ops_applied": len(ops),
		},
	}, nil
}

func (t *tools) regenerate(ctx context.Context, tc *agent.TurnContext, raw json.RawMessage) (*models.ToolResult, error) {
	var args regenerateArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if len(args.Content) == 0 {
		return models.ErrorResult("replacement content is empty"), nil
	}

	artifact, err := t.store.Latest(ctx, tc.TeacherID, args.ArtifactID)
	if errors.Is(err, artifacts.ErrNotFound) {
		return models.ErrorResult("artifact not found: " + args.ArtifactID), nil
	}
	if err != nil {
		return nil, err
	}

	next := artifact.Clone()
	next.Content = args.Content
	if err := t.store.Put(ctx, next); err != nil {
		return nil, err
	}
	return &models.ToolResult{
		Status:        models.StatusOK,
		Action:        models.ActionComplete,
		ArtifactType:  next.ArtifactType,
		ContentFormat: next.ContentFormat,
		Data: map[string]any{
			"artifact_id": next.ArtifactID,
			"version":     next.Version,
		},
	}, nil
}
