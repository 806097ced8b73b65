package repository

import (
	"encoding/json"
	"fmt"

	"github.com/splax/airlock/internal/domain"
)

// CheckColumns is the column layout shared by every store: one status and
// details pair per built-in domain plus a JSON object for plugin domains.
type CheckColumns struct {
	SecurityStatus, CostStatus, BrandStatus    *string
	SecurityDetails, CostDetails, BrandDetails []byte
	Plugins                                    []byte
}

// EncodeChecks splits a check set into its stored columns.
func EncodeChecks(checks domain.CheckSet) (CheckColumns, error) {
	var cols CheckColumns
	var err error
	if cols.SecurityStatus, cols.SecurityDetails, err = encodeOne(checks, domain.CheckSecurity); err != nil {
		return cols, err
	}
	if cols.CostStatus, cols.CostDetails, err = encodeOne(checks, domain.CheckCost); err != nil {
		return cols, err
	}
	if cols.BrandStatus, cols.BrandDetails, err = encodeOne(checks, domain.CheckBrand); err != nil {
		return cols, err
	}
	plugins := checks.Plugins()
	if len(plugins) > 0 {
		if cols.Plugins, err = json.Marshal(plugins); err != nil {
			return cols, fmt.Errorf("encode plugin checks: %w", err)
		}
	}
	return cols, nil
}

func encodeOne(checks domain.CheckSet, name string) (*string, []byte, error) {
	result, ok := checks[name]
	if !ok {
		return nil, nil, nil
	}
	details, err := result.MarshalDetails()
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s details: %w", name, err)
	}
	status := string(result.Status)
	return &status, details, nil
}

// DecodeChecks rebuilds a check set from stored columns.
func DecodeChecks(cols CheckColumns) (domain.CheckSet, error) {
	checks := domain.CheckSet{}
	pairs := []struct {
		name    string
		status  *string
		details []byte
	}{
		{domain.CheckSecurity, cols.SecurityStatus, cols.SecurityDetails},
		{domain.CheckCost, cols.CostStatus, cols.CostDetails},
		{domain.CheckBrand, cols.BrandStatus, cols.BrandDetails},
	}
	for _, p := range pairs {
		if p.status == nil {
			continue
		}
		result, err := domain.UnmarshalCheckResult(*p.status, p.details)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", p.name, err)
		}
		checks[p.name] = result
	}
	if len(cols.Plugins) > 0 {
		var plugins map[string]domain.CheckResult
		if err := json.Unmarshal(cols.Plugins, &plugins); err != nil {
			return nil, fmt.Errorf("decode plugin checks: %w", err)
		}
		for name, result := range plugins {
			if _, err := domain.ParseCheckStatus(string(result.Status)); err != nil {
				return nil, fmt.Errorf("decode %s: %w", name, err)
			}
			checks[name] = result
		}
	}
	return checks, nil
}
