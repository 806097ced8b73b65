package check

import (
	"encoding/json"
	"fmt"

	"github.com/splax/airlock/internal/domain"
	"github.com/splax/airlock/internal/schema"
)

var resultSchema = schema.MustCompile("check-result", []byte(`{
  "type": "object",
  "required": ["status"],
  "properties": {
    "status":  {"enum": ["pass", "warn", "fail"]},
    "summary": {"type": "string"},
    "details": {"type": "array", "items": {"type": "string"}}
  }
}`))

// parseResult validates and decodes a {status, summary, details} document.
func parseResult(raw []byte) (domain.CheckResult, error) {
	if err := resultSchema.Validate(raw); err != nil {
		return domain.CheckResult{}, err
	}
	var out domain.CheckResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.CheckResult{}, fmt.Errorf("decode result: %w", err)
	}
	if out.Details == nil {
		out.Details = []string{}
	}
	return out, nil
}

// DecodeResult turns a plugin result payload into a check outcome. Payloads
// that do not match the result shape become a warning instead of an error.
func DecodeResult(raw json.RawMessage) domain.CheckResult {
	result, err := parseResult(raw)
	if err != nil {
		return domain.Warn("Plugin returned an invalid result", err.Error())
	}
	return result
}

// unavailable is the outcome of a check whose analysis could not run.
func unavailable(err error) domain.CheckResult {
	return domain.Warn(fmt.Sprintf("Check could not complete: %v", err), "Automated analysis unavailable, defaulting to warn")
}
