package plugin

import (
	"errors"
	"testing"
)

func TestDecodeMessage(t *testing.T) {
	cases := []struct {
		name   string
		line   string
		kind   MessageKind
		msg    string
		result string
	}{
		{"log", `{"type":"log","msg":"hello"}`, MessageLog, "hello", ""},
		{"log non-string", `{"type":"log","msg":{"n":1}}`, MessageLog, `{"n":1}`, ""},
		{"result", `{"type":"result","result":{"status":"pass"}}`, MessageResult, "", `{"status":"pass"}`},
		{"null result", `{"type":"result","result":null}`, MessageResult, "", ""},
		{"unknown", `{"type":"progress","pct":50}`, MessageUnknown, "", ""},
		{"missing type", `{"msg":"x"}`, MessageUnknown, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := DecodeMessage([]byte(tc.line))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if msg.Kind != tc.kind || msg.Msg != tc.msg || string(msg.Result) != tc.result {
				t.Fatalf("unexpected message %+v", msg)
			}
		})
	}
}

func TestDecodeMessageMalformed(t *testing.T) {
	for _, line := range []string{"plain text", `{"type":`, `42`, `["log"]`} {
		if _, err := DecodeMessage([]byte(line)); !errors.Is(err, ErrMalformedMessage) {
			t.Fatalf("expected ErrMalformedMessage for %q, got %v", line, err)
		}
	}
}
