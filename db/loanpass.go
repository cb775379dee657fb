package db

// loanpass.go deals with LoanPASS product offerings and their pricing results.

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lendz/syncer/apiclients/loanpass"
)

// ProductUpsert writes a product offering and replaces all of its calculated fields
// and price scenarios in one transaction, returning the offering id. Scenario
// children are removed with their scenario by cascade.
func (db *DB) ProductUpsert(ctx context.Context, p *loanpass.Product) (int64, error) {
	if p == nil || p.ProductCode == "" {
		return 0, loanpass.ErrMissingProductCode
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() // no-op after commit.

	offeringID, err := db.upsertOffering(ctx, tx, p)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert product offering %s: %w", p.ProductCode, err)
	}

	// Delete existing children before replacing them.
	idArgs := map[string]any{"ProductOfferingID": offeringID}
	if err := db.exec(ctx, tx, db.productFieldsDeleteStmt, idArgs); err != nil {
		return 0, fmt.Errorf("failed to delete calculated fields for product %s: %w", p.ProductCode, err)
	}
	if err := db.exec(ctx, tx, db.scenariosDeleteStmt, idArgs); err != nil {
		return 0, fmt.Errorf("failed to delete price scenarios for product %s: %w", p.ProductCode, err)
	}

	for _, f := range p.CalculatedFields {
		namedArgs := fieldArgs(f)
		namedArgs["ProductOfferingID"] = offeringID
		if err := db.exec(ctx, tx, db.productFieldInsertStmt, namedArgs); err != nil {
			return 0, fmt.Errorf("failed to insert field %s for product %s: %w", f.FieldID, p.ProductCode, err)
		}
	}

	for i := range p.PriceScenarios {
		ps := &p.PriceScenarios[i]
		if err := db.insertScenario(ctx, tx, offeringID, ps); err != nil {
			return 0, fmt.Errorf("failed to insert scenario %s for product %s: %w", ps.ID, p.ProductCode, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return offeringID, nil
}

// upsertOffering inserts or updates the offering row and returns its surrogate id in
// a single statement.
func (db *DB) upsertOffering(ctx context.Context, tx *sqlx.Tx, p *loanpass.Product) (int64, error) {
	namedArgs := map[string]any{
		"ProductCode":                 p.ProductCode,
		"ProductID":                   nullString(p.ProductID),
		"ProductName":                 nullString(p.ProductName),
		"InvestorName":                nullString(p.InvestorName),
		"InvestorCode":                nullString(p.InvestorCode),
		"IsPricingEnabled":            p.IsPricingEnabled,
		"Status":                      nullString(p.Status),
		"RateSheetEffectiveTimestamp": nullTime(p.RateSheetEffectiveTimestamp),
		"SyncedAt":                    db.now().UTC().Format(timeFormat),
	}
	return db.insertReturningID(ctx, tx, db.offeringUpsertStmt, namedArgs)
}

// insertScenario writes one scenario and its children.
func (db *DB) insertScenario(ctx context.Context, tx *sqlx.Tx, offeringID int64, ps *loanpass.PriceScenario) error {
	namedArgs := map[string]any{
		"ProductOfferingID":     offeringID,
		"ScenarioID":            ps.ID,
		"AdjustedRate":          ps.AdjustedRate,
		"AdjustedPrice":         ps.AdjustedPrice,
		"AdjustedRateLockCount": nil,
		"AdjustedRateLockUnit":  nil,
		"UndiscountedRate":      ps.UndiscountedRate,
		"StartingAdjustedRate":  ps.StartingAdjustedRate,
		"StartingAdjustedPrice": ps.StartingAdjustedPrice,
		"Status":                nullString(ps.Status),
	}
	if lp := ps.AdjustedRateLockPeriod; lp != nil {
		namedArgs["AdjustedRateLockCount"] = lp.Count
		namedArgs["AdjustedRateLockUnit"] = nullString(lp.Unit)
	}
	scenarioID, err := db.insertReturningID(ctx, tx, db.scenarioInsertStmt, namedArgs)
	if err != nil {
		return err
	}

	for _, f := range ps.CalculatedFields {
		args := fieldArgs(f)
		args["PriceScenarioID"] = scenarioID
		if err := db.exec(ctx, tx, db.scenarioFieldInsertStmt, args); err != nil {
			return fmt.Errorf("field %s: %w", f.FieldID, err)
		}
	}
	for _, e := range ps.Errors {
		args := map[string]any{
			"PriceScenarioID": scenarioID,
			"Name":            e.Name(),
			"ErrorType":       nullString(e.Type),
			"FieldID":         nullString(e.FieldID),
			"SourceType":      nullString(e.SourceType),
			"SourceRuleID":    nullString(e.SourceRuleID),
		}
		if err := db.exec(ctx, tx, db.scenarioErrorStmt, args); err != nil {
			return fmt.Errorf("error %s: %w", e.Name(), err)
		}
	}
	for _, r := range ps.RejectionReasons {
		args := map[string]any{
			"PriceScenarioID": scenarioID,
			"RuleID":          nullString(r.RuleID),
			"Message":         nullString(r.Message),
		}
		if err := db.exec(ctx, tx, db.scenarioRejectionStmt, args); err != nil {
			return fmt.Errorf("rejection %s: %w", r.RuleID, err)
		}
	}
	for _, r := range ps.ReviewRequirements {
		args := map[string]any{
			"PriceScenarioID": scenarioID,
			"RuleID":          nullString(r.RuleID),
			"Message":         nullString(r.Message),
		}
		if err := db.exec(ctx, tx, db.scenarioReviewStmt, args); err != nil {
			return fmt.Errorf("review requirement %s: %w", r.RuleID, err)
		}
	}
	for _, a := range ps.Adjustments() {
		args := map[string]any{
			"PriceScenarioID": scenarioID,
			"Kind":            a.Kind,
			"RuleID":          nullString(a.RuleID),
			"Amount":          a.Amount,
			"Description":     nullString(a.Description),
		}
		if err := db.exec(ctx, tx, db.scenarioAdjustmentStmt, args); err != nil {
			return fmt.Errorf("%s adjustment %s: %w", a.Kind, a.RuleID, err)
		}
	}
	for _, s := range ps.Stipulations {
		args := map[string]any{
			"PriceScenarioID": scenarioID,
			"RuleID":          nullString(s.RuleID),
			"StipulationID":   nullString(s.StipulationID),
			"Text":            nullString(s.Text),
		}
		if err := db.exec(ctx, tx, db.scenarioStipulationStmt, args); err != nil {
			return fmt.Errorf("stipulation %s: %w", s.StipulationID, err)
		}
	}
	return nil
}

// fieldArgs gives the typed value columns of a calculated field. The owner id is added
// by the caller.
func fieldArgs(f loanpass.CalculatedField) map[string]any {
	cols := loanpass.ColumnsFor(f.Value)
	return map[string]any{
		"FieldID":       f.FieldID,
		"ValueType":     cols.ValueType,
		"NumberValue":   cols.NumberValue,
		"StringValue":   cols.StringValue,
		"DurationCount": cols.DurationCount,
		"DurationUnit":  cols.DurationUnit,
		"EnumTypeID":    cols.EnumTypeID,
		"VariantID":     cols.VariantID,
	}
}
