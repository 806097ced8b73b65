package check

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/splax/airlock/internal/domain"
)

const maxFindingDetails = 10

// verdict asks model for a {status, summary, details} document.
func verdict(ctx context.Context, model Model, prompt string) (domain.CheckResult, error) {
	if model == nil {
		return domain.CheckResult{}, ErrModelUnavailable
	}
	text, err := model.Complete(ctx, prompt)
	if err != nil {
		return domain.CheckResult{}, err
	}
	result, err := parseResult([]byte(stripFences(text)))
	if err != nil {
		return domain.CheckResult{}, fmt.Errorf("model verdict: %w", err)
	}
	return result, nil
}

// SecurityEvaluator combines static rules with the reasoning model.
type SecurityEvaluator struct {
	model  Model
	logger *slog.Logger
}

// NewSecurityEvaluator builds the security check.
func NewSecurityEvaluator(model Model, logger *slog.Logger) *SecurityEvaluator {
	return &SecurityEvaluator{model: model, logger: logger}
}

func (e *SecurityEvaluator) Domain() string { return domain.CheckSecurity }

// Evaluate fails on any high severity static finding regardless of the
// model, and falls back to warn when the model cannot answer.
func (e *SecurityEvaluator) Evaluate(ctx context.Context, target Target) (domain.CheckResult, bool, error) {
	files, err := TextFiles(target.Dir)
	if err != nil {
		return domain.CheckResult{}, true, err
	}
	if len(files) == 0 {
		return domain.Pass("No text files to analyze"), true, nil
	}
	findings := ScanFiles(files)
	worst := worstSeverity(findings)
	static := findingDetails(findings, maxFindingDetails)

	prompt := fmt.Sprintf(securityPrompt, strings.Join(static, "\n")) + formatFiles(files)
	result, err := verdict(ctx, e.model, prompt)
	if err != nil {
		e.logger.Warn("security model unavailable", "deployment_id", target.DeploymentID, "error", err)
		if worst == SeverityHigh {
			return domain.Fail("Static analysis found critical issues", static...), true, nil
		}
		fallback := unavailable(err)
		fallback.Details = append(fallback.Details, static...)
		return fallback, true, nil
	}

	switch {
	case worst == SeverityHigh && result.Status != domain.CheckFail:
		result.Status = domain.CheckFail
		result.Summary = "Static analysis found critical issues: " + result.Summary
	case worst == SeverityMedium && result.Status == domain.CheckPass:
		result.Status = domain.CheckWarn
	}
	result.Details = append(result.Details, static...)
	return result, true, nil
}

// CostEvaluator estimates hosting cost from file metadata.
type CostEvaluator struct {
	model  Model
	logger *slog.Logger
}

// NewCostEvaluator builds the cost check.
func NewCostEvaluator(model Model, logger *slog.Logger) *CostEvaluator {
	return &CostEvaluator{model: model, logger: logger}
}

func (e *CostEvaluator) Domain() string { return domain.CheckCost }

func (e *CostEvaluator) Evaluate(ctx context.Context, target Target) (domain.CheckResult, bool, error) {
	meta, err := Metadata(target.Dir)
	if err != nil {
		return domain.CheckResult{}, true, err
	}
	body, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return domain.CheckResult{}, true, err
	}
	result, err := verdict(ctx, e.model, costPrompt+string(body))
	if err != nil {
		e.logger.Warn("cost model unavailable", "deployment_id", target.DeploymentID, "error", err)
		return unavailable(err), true, nil
	}
	return result, true, nil
}

// BrandEvaluator compares the site to an optional partner reference page.
type BrandEvaluator struct {
	model      Model
	partners   PartnerFetcher
	partnerURL string
	logger     *slog.Logger
}

// NewBrandEvaluator builds the brand check. partners may be nil when no
// partner page is configured.
func NewBrandEvaluator(model Model, partners PartnerFetcher, partnerURL string, logger *slog.Logger) *BrandEvaluator {
	return &BrandEvaluator{model: model, partners: partners, partnerURL: partnerURL, logger: logger}
}

func (e *BrandEvaluator) Domain() string { return domain.CheckBrand }

func (e *BrandEvaluator) Evaluate(ctx context.Context, target Target) (domain.CheckResult, bool, error) {
	files, err := TextFiles(target.Dir)
	if err != nil {
		return domain.CheckResult{}, true, err
	}
	if len(files) == 0 {
		return domain.Pass("No text files to analyze"), true, nil
	}

	var partner *PartnerPage
	if e.partners != nil && e.partnerURL != "" {
		page, err := e.partners.Fetch(ctx, e.partnerURL)
		if err != nil {
			e.logger.Warn("failed to fetch partner page", "url", e.partnerURL, "error", err)
		} else {
			partner = page
		}
	}

	result, err := verdict(ctx, e.model, buildBrandPrompt(partner)+formatFiles(files))
	if err != nil {
		e.logger.Warn("brand model unavailable", "deployment_id", target.DeploymentID, "error", err)
		return unavailable(err), true, nil
	}
	return result, true, nil
}
