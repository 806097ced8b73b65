package check

import "strings"

const responseFormat = `Respond with ONLY valid JSON in this exact format:
{"status": "pass" | "warn" | "fail", "summary": "One sentence summary", "details": ["Detail 1", "Detail 2"]}
`

const securityPrompt = `You are a security scanner for static web deployments. Review the files for cross-site scripting sinks, untrusted external scripts, hard-coded secrets, intentionally obfuscated code, forms or iframes pointing at external hosts, and suspicious eval or document.write use.
Rate "pass" for no significant issues, "warn" for minor non-blocking issues, "fail" for critical issues that must block deployment.
` + responseFormat + `
STATIC ANALYSIS FINDINGS:
%s

FILES TO ANALYZE:
`

const costPrompt = `You are a hosting cost estimator for a static site served by a small nginx container that scales to zero. Estimate the monthly cost from the file metadata below.
Rate "pass" for under $5/month, "warn" for $5-$20/month, "fail" for over $20/month.
` + responseFormat + `
FILE METADATA:
`

const brandPrompt = `You are a brand compliance advisor. Review the files for alignment with the partner's visual identity: colors, typography, tone and logo usage. This is advisory, be constructive.
Rate "pass" for good alignment, "warn" for partial alignment, "fail" for clearly off-brand.
` + responseFormat

func buildBrandPrompt(partner *PartnerPage) string {
	var b strings.Builder
	b.WriteString(brandPrompt)
	if partner != nil {
		b.WriteString("\nPARTNER REFERENCE PAGE (")
		b.WriteString(partner.URL)
		b.WriteString("):\n")
		b.WriteString(partner.Digest())
		b.WriteString("\n")
	}
	b.WriteString("\nFILES TO ANALYZE:\n")
	return b.String()
}
