package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// CheckStatus is the verdict of a single check domain.
type CheckStatus string

// Check verdicts.
const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// ParseCheckStatus accepts only the three known verdicts.
func ParseCheckStatus(raw string) (CheckStatus, error) {
	switch CheckStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case CheckPass:
		return CheckPass, nil
	case CheckWarn:
		return CheckWarn, nil
	case CheckFail:
		return CheckFail, nil
	}
	return "", fmt.Errorf("unknown check status %q", raw)
}

// Valid reports whether s is one of the known verdicts.
func (s CheckStatus) Valid() bool {
	return s == CheckPass || s == CheckWarn || s == CheckFail
}

// Built-in check domains.
const (
	CheckSecurity = "security"
	CheckCost     = "cost"
	CheckBrand    = "brand"
)

// PluginPrefix prefixes the domain of plugin-provided checks.
const PluginPrefix = "plugin:"

// PluginDomain returns the check domain for a named plugin.
func PluginDomain(name string) string {
	return PluginPrefix + name
}

// IsPluginDomain reports whether domain belongs to a plugin.
func IsPluginDomain(domain string) bool {
	return strings.HasPrefix(domain, PluginPrefix)
}

// CheckResult is the outcome of one check domain.
type CheckResult struct {
	Status  CheckStatus `json:"status"`
	Summary string      `json:"summary"`
	Details []string    `json:"details"`
}

// Pass builds a passing result.
func Pass(summary string, details ...string) CheckResult {
	return CheckResult{Status: CheckPass, Summary: summary, Details: nonNil(details)}
}

// Warn builds a warning result.
func Warn(summary string, details ...string) CheckResult {
	return CheckResult{Status: CheckWarn, Summary: summary, Details: nonNil(details)}
}

// Fail builds a failing result.
func Fail(summary string, details ...string) CheckResult {
	return CheckResult{Status: CheckFail, Summary: summary, Details: nonNil(details)}
}

func nonNil(details []string) []string {
	if details == nil {
		return []string{}
	}
	return details
}

// CheckDetails is the persisted form of a result without its status.
type CheckDetails struct {
	Summary string   `json:"summary"`
	Details []string `json:"details"`
}

// MarshalDetails encodes the summary and details of r.
func (r CheckResult) MarshalDetails() ([]byte, error) {
	return json.Marshal(CheckDetails{Summary: r.Summary, Details: nonNil(r.Details)})
}

// UnmarshalCheckResult rebuilds a result from its stored columns.
func UnmarshalCheckResult(status string, details []byte) (CheckResult, error) {
	parsed, err := ParseCheckStatus(status)
	if err != nil {
		return CheckResult{}, err
	}
	var body CheckDetails
	if len(details) > 0 {
		if err := json.Unmarshal(details, &body); err != nil {
			return CheckResult{}, fmt.Errorf("decode check details: %w", err)
		}
	}
	return CheckResult{Status: parsed, Summary: body.Summary, Details: nonNil(body.Details)}, nil
}

// CheckSet maps check domains to outcomes.
type CheckSet map[string]CheckResult

// Domains returns the domains in s in a stable order: built-ins first.
func (s CheckSet) Domains() []string {
	out := make([]string, 0, len(s))
	for domain := range s {
		out = append(out, domain)
	}
	rank := func(d string) int {
		switch d {
		case CheckSecurity:
			return 0
		case CheckCost:
			return 1
		case CheckBrand:
			return 2
		}
		return 3
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := rank(out[i]), rank(out[j])
		if ri != rj {
			return ri < rj
		}
		return out[i] < out[j]
	})
	return out
}

// Plugins returns the plugin subset of s.
func (s CheckSet) Plugins() CheckSet {
	out := CheckSet{}
	for domain, result := range s {
		if IsPluginDomain(domain) {
			out[domain] = result
		}
	}
	return out
}

// Worst returns the most severe verdict in s, or pass when s is empty.
func (s CheckSet) Worst() CheckStatus {
	worst := CheckPass
	for _, result := range s {
		switch result.Status {
		case CheckFail:
			return CheckFail
		case CheckWarn:
			worst = CheckWarn
		}
	}
	return worst
}
