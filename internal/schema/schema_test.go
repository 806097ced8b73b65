package schema

import (
	"encoding/json"
	"testing"
)

const objectSchema = `{
  "type": "object",
  "required": ["name"],
  "properties": {"name": {"type": "string", "minLength": 1}},
  "additionalProperties": false
}`

func TestValidateAcceptsRawAndDecoded(t *testing.T) {
	s, err := Compile("object", []byte(objectSchema))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if err := s.Validate(json.RawMessage(`{"name":"lint"}`)); err != nil {
		t.Fatalf("expected raw payload to validate: %v", err)
	}
	if err := s.Validate(map[string]any{"name": "lint"}); err != nil {
		t.Fatalf("expected decoded payload to validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	s := MustCompile("object", []byte(objectSchema))
	cases := []any{
		json.RawMessage(`{"name":""}`),
		json.RawMessage(`{"other":1}`),
		json.RawMessage(`[]`),
		[]byte(`not json`),
		nil,
	}
	for _, tc := range cases {
		if err := s.Validate(tc); err == nil {
			t.Fatalf("expected rejection for %v", tc)
		}
	}
}

func TestCompileRejectsEmpty(t *testing.T) {
	if _, err := Compile("empty", nil); err == nil {
		t.Fatal("expected error for empty schema")
	}
}
