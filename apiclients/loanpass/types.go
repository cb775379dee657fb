package loanpass

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMissingProductCode reports a product without its natural key.
var ErrMissingProductCode = errors.New("product has no productCode")

// MappingError records a calculated field or price scenario that could not be mapped
// and was skipped.
type MappingError struct {
	Key string
	Err error
}

// Error fulfils the error interface.
func (m MappingError) Error() string {
	return fmt.Sprintf("%s: %v", m.Key, m.Err)
}

// Unwrap returns the underlying error.
func (m MappingError) Unwrap() error { return m.Err }

// CalculatedField is a field computed by the pricing engine for a product or scenario.
type CalculatedField struct {
	FieldID string
	Value   Value
}

// ScenarioError is a rule or field error which prevented a scenario from pricing.
type ScenarioError struct {
	SourceType   string `json:"-"`
	SourceRuleID string `json:"-"`
	Type         string `json:"type"`
	FieldID      string `json:"fieldId"`
}

// Name is the display name stored alongside the error.
func (e ScenarioError) Name() string {
	return fmt.Sprintf("%s - %s", e.Type, e.FieldID)
}

// UnmarshalJSON flattens the nested source object.
func (e *ScenarioError) UnmarshalJSON(data []byte) error {
	type Alias ScenarioError
	aux := &struct {
		Source *struct {
			Type   string `json:"type"`
			RuleID string `json:"ruleId"`
		} `json:"source"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if aux.Source != nil {
		e.SourceType = aux.Source.Type
		e.SourceRuleID = aux.Source.RuleID
	}
	return nil
}

// Rejection is a rule which rejected a scenario.
type Rejection struct {
	RuleID  string `json:"ruleId"`
	Message string `json:"message"`
}

// ReviewRequirement is a rule which requires manual review of a scenario.
type ReviewRequirement struct {
	RuleID  string `json:"ruleId"`
	Message string `json:"message"`
}

// Adjustment is a price or rate adjustment applied to a scenario. Kind is "price"
// or "rate" according to the list it came from.
type Adjustment struct {
	Kind        string              `json:"-"`
	RuleID      string              `json:"ruleId"`
	Amount      decimal.NullDecimal `json:"amount"`
	Description string              `json:"description"`
}

// Stipulation is a condition attached to a scenario.
type Stipulation struct {
	RuleID        string `json:"ruleId"`
	StipulationID string `json:"stipulationId"`
	Text          string `json:"text"`
}

// LockPeriod is a rate lock duration.
type LockPeriod struct {
	Count decimal.NullDecimal `json:"count"`
	Unit  string              `json:"unit"`
}

// PriceScenario is one priced (or failed) scenario of a product.
type PriceScenario struct {
	ID                     string              `json:"id"`
	AdjustedRate           decimal.NullDecimal `json:"adjustedRate"`
	AdjustedPrice          decimal.NullDecimal `json:"adjustedPrice"`
	AdjustedRateLockPeriod *LockPeriod         `json:"adjustedRateLockPeriod"`
	UndiscountedRate       decimal.NullDecimal `json:"undiscountedRate"`
	StartingAdjustedRate   decimal.NullDecimal `json:"startingAdjustedRate"`
	StartingAdjustedPrice  decimal.NullDecimal `json:"startingAdjustedPrice"`
	Status                 string              `json:"status"`
	Errors                 []ScenarioError     `json:"errors"`
	RejectionReasons       []Rejection         `json:"rejectionReasons"`
	ReviewRequirements     []ReviewRequirement `json:"reviewRequirements"`
	PriceAdjustments       []Adjustment        `json:"priceAdjustments"`
	RateAdjustments        []Adjustment        `json:"rateAdjustments"`
	Stipulations           []Stipulation       `json:"stipulations"`

	// CalculatedFields are decoded one by one, see DecodeProduct.
	CalculatedFields []CalculatedField `json:"-"`
}

// Adjustments returns the price then rate adjustments with their Kind set.
func (ps *PriceScenario) Adjustments() []Adjustment {
	out := make([]Adjustment, 0, len(ps.PriceAdjustments)+len(ps.RateAdjustments))
	for _, a := range ps.PriceAdjustments {
		a.Kind = "price"
		out = append(out, a)
	}
	for _, a := range ps.RateAdjustments {
		a.Kind = "rate"
		out = append(out, a)
	}
	return out
}

// Product is the execute-product result for one product.
type Product struct {
	ProductID                   string
	ProductName                 string
	ProductCode                 string
	InvestorName                string
	InvestorCode                string
	IsPricingEnabled            *bool
	Status                      string
	RateSheetEffectiveTimestamp *time.Time
	CalculatedFields            []CalculatedField
	PriceScenarios              []PriceScenario
}

// rawField is a calculated field prior to decoding its value.
type rawField struct {
	FieldID string          `json:"fieldId"`
	Value   json.RawMessage `json:"value"`
}

// decodeFields decodes calculated fields one at a time so that a bad field is skipped
// rather than failing its owner.
func decodeFields(owner string, raws []json.RawMessage) ([]CalculatedField, []MappingError) {
	var fields []CalculatedField
	var skipped []MappingError
	for i, raw := range raws {
		var rf rawField
		if err := json.Unmarshal(raw, &rf); err != nil {
			skipped = append(skipped, MappingError{fmt.Sprintf("%s field #%d", owner, i), err})
			continue
		}
		if rf.FieldID == "" {
			skipped = append(skipped, MappingError{fmt.Sprintf("%s field #%d", owner, i), errors.New("no fieldId")})
			continue
		}
		v, err := DecodeValue(rf.Value)
		if err != nil {
			skipped = append(skipped, MappingError{fmt.Sprintf("%s field %s", owner, rf.FieldID), err})
			continue
		}
		fields = append(fields, CalculatedField{FieldID: rf.FieldID, Value: v})
	}
	return fields, skipped
}

// DecodeProduct maps an execute-product response body. Calculated fields and price
// scenarios which cannot be mapped are skipped and returned as MappingErrors. An error
// is returned only if the body itself is malformed or has no product code.
func DecodeProduct(body []byte) (*Product, []MappingError, error) {
	var raw struct {
		ProductID                   string            `json:"productId"`
		ProductName                 string            `json:"productName"`
		ProductCode                 string            `json:"productCode"`
		InvestorName                string            `json:"investorName"`
		InvestorCode                string            `json:"investorCode"`
		IsPricingEnabled            *bool             `json:"isPricingEnabled"`
		Status                      string            `json:"status"`
		RateSheetEffectiveTimestamp string            `json:"rateSheetEffectiveTimestamp"`
		CalculatedFields            []json.RawMessage `json:"calculatedFields"`
		PriceScenarios              []json.RawMessage `json:"priceScenarios"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil, err
	}
	if raw.ProductCode == "" {
		return nil, nil, ErrMissingProductCode
	}

	p := &Product{
		ProductID:        raw.ProductID,
		ProductName:      raw.ProductName,
		ProductCode:      raw.ProductCode,
		InvestorName:     raw.InvestorName,
		InvestorCode:     raw.InvestorCode,
		IsPricingEnabled: raw.IsPricingEnabled,
		Status:           raw.Status,
	}
	if raw.RateSheetEffectiveTimestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw.RateSheetEffectiveTimestamp)
		if err != nil {
			return nil, nil, fmt.Errorf("product %s rate sheet timestamp: %w", p.ProductCode, err)
		}
		ts = ts.UTC()
		p.RateSheetEffectiveTimestamp = &ts
	}

	var skipped []MappingError
	p.CalculatedFields, skipped = decodeFields("product "+p.ProductCode, raw.CalculatedFields)

	seen := make(map[string]bool)
	for i, rawScenario := range raw.PriceScenarios {
		var ps PriceScenario
		if err := json.Unmarshal(rawScenario, &ps); err != nil {
			skipped = append(skipped, MappingError{fmt.Sprintf("scenario #%d", i), err})
			continue
		}
		key := "scenario " + ps.ID
		if ps.ID == "" {
			skipped = append(skipped, MappingError{fmt.Sprintf("scenario #%d", i), errors.New("no scenario id")})
			continue
		}
		if seen[ps.ID] {
			skipped = append(skipped, MappingError{key, errors.New("duplicate scenario id")})
			continue
		}
		seen[ps.ID] = true

		var fieldHolder struct {
			CalculatedFields []json.RawMessage `json:"calculatedFields"`
		}
		if err := json.Unmarshal(rawScenario, &fieldHolder); err != nil {
			skipped = append(skipped, MappingError{key, err})
			continue
		}
		var fieldSkips []MappingError
		ps.CalculatedFields, fieldSkips = decodeFields(key, fieldHolder.CalculatedFields)
		skipped = append(skipped, fieldSkips...)
		p.PriceScenarios = append(p.PriceScenarios, ps)
	}
	return p, skipped, nil
}

// ProductSummary is one entry of the execute-summary product list.
type ProductSummary struct {
	ProductID    string `json:"productId"`
	ProductName  string `json:"productName"`
	ProductCode  string `json:"productCode"`
	InvestorName string `json:"investorName"`
	InvestorCode string `json:"investorCode"`
	Status       string `json:"status"`
}

// Summary is the execute-summary response.
type Summary struct {
	ProductResults []ProductSummary `json:"productResults"`
	Body           []byte           `json:"-"`
}

// ProductResult is a decoded execute-product response with its raw body.
type ProductResult struct {
	Product *Product
	Skipped []MappingError
	Body    []byte
}
