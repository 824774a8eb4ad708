package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/classpilot/classpilot/pkg/models"
)

// ErrNotEditable reports a patch against a type/format pair that only
// supports regeneration.
var ErrNotEditable = errors.New("artifact does not support structured edits")

// ApplyPatch applies ops to the artifact and returns the patched copy.
// Application is atomic: any failing op leaves the input untouched and
// returns an error. The returned artifact carries the new content but the
// old version number; Store.Put assigns the next version.
func ApplyPatch(a *models.Artifact, ops []models.PatchOp) (*models.Artifact, error) {
	if len(ops) == 0 {
		return nil, errors.New("no patch operations given")
	}

	editability := models.EditabilityFor(a.ArtifactType, a.ContentFormat)
	if editability == models.EditRegenOnly {
		return nil, fmt.Errorf("%s/%s: %w", a.ArtifactType, a.ContentFormat, ErrNotEditable)
	}
	if editability == models.EditPartial {
		for _, op := range ops {
			if op.Op != models.OpReplaceText && op.Op != models.OpSetStyle {
				return nil, fmt.Errorf("%s/%s allows only text and style edits, got %s",
					a.ArtifactType, a.ContentFormat, op.Op)
			}
		}
	}

	clone := a.Clone()
	var err error
	switch a.ContentFormat {
	case models.FormatJSON:
		clone.Content, err = patchJSON(clone.Content, ops)
	case models.FormatMarkdown:
		clone.Content, err = patchMarkdown(clone.Content, ops)
	case models.FormatHTML:
		clone.Content, err = patchHTML(clone.Content, ops)
	default:
		err = fmt.Errorf("unsupported content format %q", a.ContentFormat)
	}
	if err != nil {
		return nil, err
	}
	return clone, nil
}

// ---- JSON patching ----

type pathSegment struct {
	field string
	index int // -1 when the segment has no [i]
}

// parseTarget splits "questions[2].stem" into segments.
func parseTarget(target string) ([]pathSegment, error) {
	if target == "" {
		return nil, errors.New("empty patch target")
	}
	var segs []pathSegment
	for _, part := range strings.Split(target, ".") {
		seg := pathSegment{index: -1}
		if open := strings.IndexByte(part, '['); open >= 0 {
			closing := strings.IndexByte(part, ']')
			if closing < open {
				return nil, fmt.Errorf("malformed target segment %q", part)
			}
			idx, err := strconv.Atoi(part[open+1 : closing])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("malformed index in target segment %q", part)
			}
			seg.field = part[:open]
			seg.index = idx
		} else {
			seg.field = part
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func patchJSON(content json.RawMessage, ops []models.PatchOp) (json.RawMessage, error) {
	var root any
	if err := json.Unmarshal(content, &root); err != nil {
		return nil, fmt.Errorf("artifact content is not valid JSON: %w", err)
	}
	for i, op := range ops {
		var err error
		root, err = applyJSONOp(root, op)
		if err != nil {
			return nil, fmt.Errorf("op %d (%s %s): %w", i, op.Op, op.Target, err)
		}
	}
	return json.Marshal(root)
}

func applyJSONOp(root any, op models.PatchOp) (any, error) {
	segs, err := parseTarget(op.Target)
	if err != nil {
		return nil, err
	}

	var value any
	if len(op.Value) > 0 {
		if err := json.Unmarshal(op.Value, &value); err != nil {
			return nil, fmt.Errorf("op value is not valid JSON: %w", err)
		}
	}

	switch op.Op {
	case models.OpReplaceText, models.OpSetStyle, models.OpReplaceMedia, models.OpTransformStructure:
		return setAtPath(root, segs, value)
	case models.OpInsertBlock:
		return insertAtPath(root, segs, value)
	case models.OpDeleteBlock:
		return deleteAtPath(root, segs)
	case models.OpMoveBlock:
		return moveAtPath(root, segs, op.Value)
	default:
		return nil, fmt.Errorf("unknown patch op %q", op.Op)
	}
}

// descend walks to the container holding the final segment. It returns
// that container's parent chain rebuilt on the way out, so callers mutate
// via the returned root.
func descend(node any, segs []pathSegment, visit func(parent any, last pathSegment) (any, error)) (any, error) {
	if len(segs) == 1 {
		return visit(node, segs[0])
	}
	head := segs[0]
	obj, ok := node.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("segment %q: expected object", head.field)
	}
	child, exists := obj[head.field]
	if !exists {
		return nil, fmt.Errorf("segment %q: no such field", head.field)
	}
	if head.index >= 0 {
		arr, ok := child.([]any)
		if !ok {
			return nil, fmt.Errorf("segment %q: expected array", head.field)
		}
		if head.index >= len(arr) {
			return nil, fmt.Errorf("segment %q[%d]: index out of range (len %d)", head.field, head.index, len(arr))
		}
		updated, err := descend(arr[head.index], segs[1:], visit)
		if err != nil {
			return nil, err
		}
		arr[head.index] = updated
		obj[head.field] = arr
		return obj, nil
	}
	updated, err := descend(child, segs[1:], visit)
	if err != nil {
		return nil, err
	}
	obj[head.field] = updated
	return obj, nil
}

func setAtPath(root any, segs []pathSegment, value any) (any, error) {
	return descend(root, segs, func(parent any, last pathSegment) (any, error) {
		obj, ok := parent.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("segment %q: expected object", last.field)
		}
		if last.index < 0 {
			obj[last.field] = value
			return obj, nil
		}
		arr, ok := obj[last.field].([]any)
		if !ok {
			return nil, fmt.Errorf("segment %q: expected array", last.field)
		}
		if last.index >= len(arr) {
			return nil, fmt.Errorf("segment %q[%d]: index out of range (len %d)", last.field, last.index, len(arr))
		}
		arr[last.index] = value
		obj[last.field] = arr
		return obj, nil
	})
}

func insertAtPath(root any, segs []pathSegment, value any) (any, error) {
	return descend(root, segs, func(parent any, last pathSegment) (any, error) {
		obj, ok := parent.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("segment %q: expected object", last.field)
		}
		arr, ok := obj[last.field].([]any)
		if !ok {
			return nil, fmt.Errorf("segment %q: expected array", last.field)
		}
		idx := last.index
		if idx < 0 || idx > len(arr) {
			idx = len(arr)
		}
		arr = append(arr, nil)
		copy(arr[idx+1:], arr[idx:])
		arr[idx] = value
		obj[last.field] = arr
		return obj, nil
	})
}

func deleteAtPath(root any, segs []pathSegment) (any, error) {
	return descend(root, segs, func(parent any, last pathSegment) (any, error) {
		obj, ok := parent.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("segment %q: expected object", last.field)
		}
		if last.index < 0 {
			if _, exists := obj[last.field]; !exists {
				return nil, fmt.Errorf("segment %q: no such field", last.field)
			}
			delete(obj, last.field)
			return obj, nil
		}
		arr, ok := obj[last.field].([]any)
		if !ok {
			return nil, fmt.Errorf("segment %q: expected array", last.field)
		}
		if last.index >= len(arr) {
			return nil, fmt.Errorf("segment %q[%d]: index out of range (len %d)", last.field, last.index, len(arr))
		}
		obj[last.field] = append(arr[:last.index], arr[last.index+1:]...)
		return obj, nil
	})
}

func moveAtPath(root any, segs []pathSegment, rawValue json.RawMessage) (any, error) {
	var dest struct {
		To int `json:"to"`
	}
	if err := json.Unmarshal(rawValue, &dest); err != nil {
		return nil, fmt.Errorf(`move_block value must be {"to": n}: %w`, err)
	}
	return descend(root, segs, func(parent any, last pathSegment) (any, error) {
		obj, ok := parent.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("segment %q: expected object", last.field)
		}
		arr, ok := obj[last.field].([]any)
		if !ok || last.index < 0 {
			return nil, fmt.Errorf("segment %q: move_block requires an array element target", last.field)
		}
		if last.index >= len(arr) || dest.To < 0 || dest.To >= len(arr) {
			return nil, fmt.Errorf("move_block indexes out of range (len %d)", len(arr))
		}
		item := arr[last.index]
		arr = append(arr[:last.index], arr[last.index+1:]...)
		arr = append(arr, nil)
		copy(arr[dest.To+1:], arr[dest.To:])
		arr[dest.To] = item
		obj[last.field] = arr
		return obj, nil
	})
}

// ---- Markdown patching ----

// Markdown content is addressed as "blocks[i]", one block per blank-line
// separated paragraph.
func patchMarkdown(content json.RawMessage, ops []models.PatchOp) (json.RawMessage, error) {
	var text string
	if err := json.Unmarshal(content, &text); err != nil {
		return nil, fmt.Errorf("markdown content must be a JSON string: %w", err)
	}
	blocks := strings.Split(text, "\n\n")

	for i, op := range ops {
		segs, err := parseTarget(op.Target)
		if err != nil {
			return nil, fmt.Errorf("op %d: %w", i, err)
		}
		if len(segs) != 1 || segs[0].field != "blocks" {
			return nil, fmt.Errorf("op %d: markdown targets must be blocks[i], got %q", i, op.Target)
		}
		idx := segs[0].index

		var value string
		if len(op.Value) > 0 {
			if err := json.Unmarshal(op.Value, &value); err != nil {
				return nil, fmt.Errorf("op %d: value must be a JSON string: %w", i, err)
			}
		}

		switch op.Op {
		case models.OpReplaceText:
			if idx < 0 || idx >= len(blocks) {
				return nil, fmt.Errorf("op %d: block %d out of range (len %d)", i, idx, len(blocks))
			}
			blocks[idx] = value
		case models.OpInsertBlock:
			if idx < 0 || idx > len(blocks) {
				idx = len(blocks)
			}
			blocks = append(blocks, "")
			copy(blocks[idx+1:], blocks[idx:])
			blocks[idx] = value
		case models.OpDeleteBlock:
			if idx < 0 || idx >= len(blocks) {
				return nil, fmt.Errorf("op %d: block %d out of range (len %d)", i, idx, len(blocks))
			}
			blocks = append(blocks[:idx], blocks[idx+1:]...)
		default:
			return nil, fmt.Errorf("op %d: markdown does not support %s", i, op.Op)
		}
	}
	return json.Marshal(strings.Join(blocks, "\n\n"))
}

// ---- HTML patching ----

// HTML content is addressed by element id. The locator handles nested
// elements of the same tag by depth counting; it assumes the well-formed
// markup our generators emit, not arbitrary web pages.
func patchHTML(content json.RawMessage, ops []models.PatchOp) (json.RawMessage, error) {
	var html string
	if err := json.Unmarshal(content, &html); err != nil {
		return nil, fmt.Errorf("html content must be a JSON string: %w", err)
	}

	for i, op := range ops {
		loc, err := locateElement(html, op.Target)
		if err != nil {
			return nil, fmt.Errorf("op %d (%s): %w", i, op.Op, err)
		}

		var value string
		if len(op.Value) > 0 {
			if err := json.Unmarshal(op.Value, &value); err != nil {
				return nil, fmt.Errorf("op %d: value must be a JSON string: %w", i, err)
			}
		}

		switch op.Op {
		case models.OpReplaceText, models.OpTransformStructure:
			html = html[:loc.innerStart] + value + html[loc.innerEnd:]
		case models.OpDeleteBlock:
			html = html[:loc.start] + html[loc.end:]
		case models.OpInsertBlock:
			html = html[:loc.end] + value + html[loc.end:]
		case models.OpSetStyle:
			html, err = setAttribute(html, loc, "style", value)
		case models.OpReplaceMedia:
			html, err = setAttribute(html, loc, "src", value)
		default:
			return nil, fmt.Errorf("op %d: html does not support %s", i, op.Op)
		}
		if err != nil {
			return nil, fmt.Errorf("op %d: %w", i, err)
		}
	}
	return json.Marshal(html)
}

type elementLoc struct {
	start, innerStart, innerEnd, end int
	tag                              string
}

func locateElement(html, id string) (elementLoc, error) {
	var loc elementLoc
	marker := `id="` + id + `"`
	at := strings.Index(html, marker)
	if at < 0 {
		return loc, fmt.Errorf("no element with id %q", id)
	}

	start := strings.LastIndexByte(html[:at], '<')
	if start < 0 {
		return loc, fmt.Errorf("malformed markup around id %q", id)
	}
	tagEnd := start + 1
	for tagEnd < len(html) && isTagNameByte(html[tagEnd]) {
		tagEnd++
	}
	tag := html[start+1 : tagEnd]

	openEnd := strings.IndexByte(html[at:], '>')
	if openEnd < 0 {
		return loc, fmt.Errorf("unterminated tag for id %q", id)
	}
	innerStart := at + openEnd + 1

	// Self-closing element.
	if html[innerStart-2] == '/' {
		return elementLoc{start: start, innerStart: innerStart, innerEnd: innerStart, end: innerStart, tag: tag}, nil
	}

	depth := 1
	pos := innerStart
	openToken := "<" + tag
	closeToken := "</" + tag + ">"
	for depth > 0 {
		nextOpen := strings.Index(html[pos:], openToken)
		nextClose := strings.Index(html[pos:], closeToken)
		if nextClose < 0 {
			return loc, fmt.Errorf("unclosed <%s> for id %q", tag, id)
		}
		if nextOpen >= 0 && nextOpen < nextClose &&
			pos+nextOpen+len(openToken) < len(html) && !isTagNameByte(html[pos+nextOpen+len(openToken)]) {
			depth++
			pos += nextOpen + len(openToken)
			continue
		}
		depth--
		if depth == 0 {
			return elementLoc{
				start:      start,
				innerStart: innerStart,
				innerEnd:   pos + nextClose,
				end:        pos + nextClose + len(closeToken),
				tag:        tag,
			}, nil
		}
		pos += nextClose + len(closeToken)
	}
	return loc, fmt.Errorf("unclosed <%s> for id %q", tag, id)
}

func isTagNameByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '-'
}

// setAttribute rewrites or adds an attribute on the element's opening tag.
func setAttribute(html string, loc elementLoc, attr, value string) (string, error) {
	openTag := html[loc.start:loc.innerStart]
	marker := attr + `="`
	if at := strings.Index(openTag, marker); at >= 0 {
		valStart := at + len(marker)
		valEnd := strings.IndexByte(openTag[valStart:], '"')
		if valEnd < 0 {
			return "", fmt.Errorf("malformed %s attribute", attr)
		}
		openTag = openTag[:valStart] + value + openTag[valStart+valEnd:]
	} else {
		insert := strings.IndexByte(openTag, '>')
		if insert < 0 {
			return "", errors.New("malformed opening tag")
		}
		openTag = openTag[:insert] + ` ` + attr + `="` + value + `"` + openTag[insert:]
	}
	return html[:loc.start] + openTag + html[loc.innerStart:], nil
}
