package check

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Severity ranks static findings.
type Severity int

// Finding severities.
const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}

// Finding is one static analysis hit.
type Finding struct {
	Rule     string
	Severity Severity
	File     string
	Line     int
	Message  string
}

func (f Finding) String() string {
	if f.Line > 0 {
		return fmt.Sprintf("[%s] %s (%s:%d)", f.Severity, f.Message, f.File, f.Line)
	}
	return fmt.Sprintf("[%s] %s (%s)", f.Severity, f.Message, f.File)
}

type lineRule struct {
	id       string
	severity Severity
	message  string
	patterns []*regexp.Regexp
}

var lineRules = []lineRule{
	{
		id: "secret", severity: SeverityHigh, message: "Hard-coded credential",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(api[_-]?key|secret|access[_-]?token|private[_-]?key|password)\s*[:=]\s*['"][A-Za-z0-9_\-\.=+/]{12,}['"]`),
			regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
			regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`),
			regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`),
			regexp.MustCompile(`sk_live_[0-9A-Za-z]{16,}`),
		},
	},
	{
		id: "private-key", severity: SeverityHigh, message: "Embedded private key",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY( BLOCK)?-----`),
		},
	},
	{
		id: "dynamic-code", severity: SeverityMedium, message: "Dynamic code execution",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\beval\s*\(`),
			regexp.MustCompile(`\bnew\s+Function\s*\(`),
			regexp.MustCompile(`\bdocument\.write(ln)?\s*\(`),
			regexp.MustCompile(`\bset(Timeout|Interval)\s*\(\s*['"]`),
		},
	},
	{
		id: "unsafe-html", severity: SeverityLow, message: "Raw HTML injection sink",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\.(innerHTML|outerHTML)\s*=`),
			regexp.MustCompile(`\binsertAdjacentHTML\s*\(`),
		},
	},
}

var trustedHosts = []string{
	"cdnjs.cloudflare.com",
	"unpkg.com",
	"cdn.jsdelivr.net",
	"ajax.googleapis.com",
	"fonts.googleapis.com",
	"fonts.gstatic.com",
	"code.jquery.com",
	"stackpath.bootstrapcdn.com",
}

// ScanFiles runs every static rule over files.
func ScanFiles(files []SourceFile) []Finding {
	var findings []Finding
	for _, f := range files {
		findings = append(findings, scanLines(f)...)
		if ext := f.Ext(); ext == ".html" || ext == ".htm" {
			findings = append(findings, scanDocument(f)...)
		}
	}
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity > findings[j].Severity
	})
	return findings
}

func scanLines(f SourceFile) []Finding {
	var findings []Finding
	for i, line := range strings.Split(f.Content, "\n") {
		for _, rule := range lineRules {
			for _, pattern := range rule.patterns {
				if pattern.MatchString(line) {
					findings = append(findings, Finding{Rule: rule.id, Severity: rule.severity, File: f.Path, Line: i + 1, Message: rule.message})
					break
				}
			}
		}
	}
	return findings
}

func scanDocument(f SourceFile) []Finding {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(f.Content))
	if err != nil {
		return nil
	}
	var findings []Finding
	add := func(rule string, severity Severity, format string, args ...any) {
		findings = append(findings, Finding{Rule: rule, Severity: severity, File: f.Path, Message: fmt.Sprintf(format, args...)})
	}

	handlers := 0
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range s.Nodes[0].Attr {
			if strings.HasPrefix(strings.ToLower(attr.Key), "on") {
				handlers++
			}
		}
	})
	if handlers > 0 {
		add("inline-handler", SeverityLow, "%d inline event handler(s)", handlers)
	}

	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if host, external := externalHost(src); external && !trusted(host) {
			add("external-script", SeverityMedium, "Script loaded from untrusted host %s", host)
		}
	})

	doc.Find("iframe[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if host, external := externalHost(src); external {
			add("external-iframe", SeverityMedium, "Iframe embeds external content from %s", host)
		}
	})

	doc.Find("form[action]").Each(func(_ int, s *goquery.Selection) {
		action, _ := s.Attr("action")
		host, external := externalHost(action)
		if !external {
			return
		}
		passwords := s.Find("input[type]").FilterFunction(func(_ int, in *goquery.Selection) bool {
			return strings.EqualFold(in.AttrOr("type", ""), "password")
		})
		if passwords.Length() > 0 {
			add("credential-exfiltration", SeverityHigh, "Password form submits to external host %s", host)
			return
		}
		add("external-form", SeverityMedium, "Form submits to external host %s", host)
	})

	doc.Find("a[href], iframe[src]").Each(func(_ int, s *goquery.Selection) {
		target := s.AttrOr("href", s.AttrOr("src", ""))
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(target)), "javascript:") {
			add("javascript-url", SeverityLow, "javascript: URL in %s", goquery.NodeName(s))
		}
	})
	return findings
}

func externalHost(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return strings.ToLower(u.Hostname()), true
}

func trusted(host string) bool {
	for _, h := range trustedHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// worstSeverity returns the highest severity in findings, zero when empty.
func worstSeverity(findings []Finding) Severity {
	var worst Severity
	for _, f := range findings {
		if f.Severity > worst {
			worst = f.Severity
		}
	}
	return worst
}

func findingDetails(findings []Finding, limit int) []string {
	out := make([]string, 0, min(len(findings), limit)+1)
	for i, f := range findings {
		if i == limit {
			out = append(out, fmt.Sprintf("... and %d more finding(s)", len(findings)-limit))
			break
		}
		out = append(out, f.String())
	}
	return out
}
