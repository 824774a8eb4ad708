package models

import (
	"encoding/json"
	"time"
)

// ArtifactType is the business kind of a generated object.
type ArtifactType string

const (
	ArtifactQuiz        ArtifactType = "quiz"
	ArtifactPPT         ArtifactType = "ppt"
	ArtifactDoc         ArtifactType = "doc"
	ArtifactInteractive ArtifactType = "interactive"
)

// ContentFormat is the technical carrier of an artifact payload.
type ContentFormat string

const (
	FormatJSON     ContentFormat = "json"
	FormatMarkdown ContentFormat = "markdown"
	FormatHTML     ContentFormat = "html"
)

// ResourceStorage locates an artifact resource payload.
type ResourceStorage string

const (
	StorageInline   ResourceStorage = "inline"
	StorageAttached ResourceStorage = "attached"
	StorageExternal ResourceStorage = "external"
)

// ArtifactResource is a media or data asset referenced by an artifact.
type ArtifactResource struct {
	ID       string          `json:"id"`
	Storage  ResourceStorage `json:"storage"`
	MimeType string          `json:"mime_type,omitempty"`
	URL      string          `json:"url,omitempty"`
	Data     []byte          `json:"data,omitempty"`
}

// Artifact is the uniform envelope for every generated object (quiz, slide
// deck, document, interactive page). One turn produces at most one new
// version; versions are monotonic and there is no undo.
type Artifact struct {
	ArtifactID    string        `json:"artifact_id"`
	ArtifactType  ArtifactType  `json:"artifact_type"`
	ContentFormat ContentFormat `json:"content_format"`

	// Content structure follows ContentFormat: a JSON tree for json, a
	// JSON-encoded string for markdown and html.
	Content json.RawMessage `json:"content"`

	// ContentURL replaces Content for payloads externalized above the
	// configured size threshold.
	ContentURL string `json:"content_url,omitempty"`

	Resources []ArtifactResource `json:"resources,omitempty"`

	ConversationID string `json:"conversation_id,omitempty"`
	TeacherID      string `json:"teacher_id,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the artifact envelope.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Content = append(json.RawMessage(nil), a.Content...)
	clone.Resources = make([]ArtifactResource, len(a.Resources))
	copy(clone.Resources, a.Resources)
	return &clone
}

// PatchOpKind enumerates the structured edit operations.
type PatchOpKind string

const (
	OpReplaceText        PatchOpKind = "replace_text"
	OpInsertBlock        PatchOpKind = "insert_block"
	OpDeleteBlock        PatchOpKind = "delete_block"
	OpMoveBlock          PatchOpKind = "move_block"
	OpSetStyle           PatchOpKind = "set_style"
	OpReplaceMedia       PatchOpKind = "replace_media"
	OpTransformStructure PatchOpKind = "transform_structure"
)

// PatchOp is one locator-scoped edit instruction. Target uses dotted field
// access with array indexing, e.g. "questions[2]" or "slides[0].title".
type PatchOp struct {
	Op     PatchOpKind     `json:"op"`
	Target string          `json:"target"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// Editability describes how an artifact type/format pair may be modified.
type Editability int

const (
	// EditRegenOnly means structured patching is unsupported; the model
	// must regenerate from the previous payload.
	EditRegenOnly Editability = iota

	// EditPartial allows text and style operations only.
	EditPartial

	// EditFull allows every patch operation.
	EditFull
)

// EditabilityFor returns the frozen v1 editability matrix entry for a
// type/format pair.
func EditabilityFor(t ArtifactType, f ContentFormat) Editability {
	switch {
	case t == ArtifactQuiz && f == FormatJSON:
		return EditFull
	case t == ArtifactPPT && f == FormatJSON:
		return EditPartial
	case t == ArtifactInteractive && f == FormatHTML:
		return EditFull
	default:
		return EditRegenOnly
	}
}
