package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// MockClient serves canned platform data for local development. The
// gateway wires it only when DEBUG is on; production configuration always
// uses HTTPClient.
type MockClient struct {
	// Responses maps "METHOD path" to a canned JSON document.
	Responses map[string]json.RawMessage
}

// NewMockClient seeds a mock with a small fictional school.
func NewMockClient() *MockClient {
	return &MockClient{Responses: map[string]json.RawMessage{
		"GET /classes": json.RawMessage(`{"classes":[
			{"class_id":"class-301","name":"Grade 3 Math A","subject":"math","student_count":28},
			{"class_id":"class-302","name":"Grade 3 Math B","subject":"math","student_count":26}]}`),
		"GET /students": json.RawMessage(`{"students":[
			{"student_id":"stu-001","name":"Demo Student 1"},
			{"student_id":"stu-002","name":"Demo Student 2"}]}`),
		"GET /grades": json.RawMessage(`{"grades":[
			{"student_id":"stu-001","assignment_id":"hw-1","score":86},
			{"student_id":"stu-002","assignment_id":"hw-1","score":74}]}`),
		"GET /assignments": json.RawMessage(`{"assignments":[
			{"assignment_id":"hw-1","title":"Fractions homework","due":"2026-09-01"}]}`),
		"GET /attendance": json.RawMessage(`{"records":[
			{"student_id":"stu-001","date":"2026-08-20","present":true}]}`),
		"GET /knowledge-points": json.RawMessage(`{"knowledge_points":[
			{"id":"kp-1","name":"Fraction addition","subject":"math"}]}`),
		"GET /schedule": json.RawMessage(`{"lessons":[
			{"class_id":"class-301","weekday":1,"period":2,"subject":"math"}]}`),
		"GET /account":        json.RawMessage(`{"teacher_id":"","name":"Demo Teacher","school":"Demo Primary"}`),
		"POST /notifications": json.RawMessage(`{"delivered":true}`),
	}}
}

func (m *MockClient) lookup(method, path string, out any) error {
	raw, ok := m.Responses[method+" "+path]
	if !ok {
		return fmt.Errorf("mock platform has no data for %s %s", method, path)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// Get serves a canned GET response.
func (m *MockClient) Get(_ context.Context, _ string, path string, _ url.Values, out any) error {
	return m.lookup("GET", path, out)
}

// Post serves a canned POST response.
func (m *MockClient) Post(_ context.Context, _ string, path string, _ any, out any) error {
	return m.lookup("POST", path, out)
}
