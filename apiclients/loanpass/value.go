package loanpass

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Value is the tagged-union value of a LoanPASS calculated field. The concrete types
// are NumberValue, StringValue, DurationValue and EnumValue. A JSON null value is a
// nil Value: the field was evaluated and found inapplicable.
type Value interface {
	// Type returns the "type" discriminant.
	Type() string
	isValue()
}

// NumberValue is a decimal value. LoanPASS sends numbers as strings ("450000.00").
type NumberValue struct {
	Value decimal.NullDecimal
}

// StringValue is a text value.
type StringValue struct {
	Value *string
}

// DurationValue is a count of units, such as 360 months.
type DurationValue struct {
	Count decimal.NullDecimal
	Unit  string
}

// EnumValue is one variant of an enumerated type.
type EnumValue struct {
	EnumTypeID string
	VariantID  string
}

func (NumberValue) Type() string   { return "number" }
func (StringValue) Type() string   { return "string" }
func (DurationValue) Type() string { return "duration" }
func (EnumValue) Type() string     { return "enum" }

func (NumberValue) isValue()   {}
func (StringValue) isValue()   {}
func (DurationValue) isValue() {}
func (EnumValue) isValue()     {}

// DecodeValue decodes the "value" object of a calculated field. Absent and null
// inputs, and objects without a type, return a nil Value; an unrecognised
// discriminant is an error.
func DecodeValue(raw json.RawMessage) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var tagged struct {
		Type       string              `json:"type"`
		Value      json.RawMessage     `json:"value"`
		Count      decimal.NullDecimal `json:"count"`
		Unit       *string             `json:"unit"`
		EnumTypeID string              `json:"enumTypeId"`
		VariantID  string              `json:"variantId"`
	}
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return nil, fmt.Errorf("invalid value object: %w", err)
	}

	switch tagged.Type {
	case "":
		return nil, nil
	case "number":
		var d decimal.NullDecimal
		if len(tagged.Value) > 0 {
			if err := json.Unmarshal(tagged.Value, &d); err != nil {
				return nil, fmt.Errorf("invalid number value %s: %w", tagged.Value, err)
			}
		}
		return NumberValue{Value: d}, nil
	case "string":
		s, err := decodeText(tagged.Value)
		if err != nil {
			return nil, err
		}
		return StringValue{Value: s}, nil
	case "duration":
		dv := DurationValue{Count: tagged.Count}
		if tagged.Unit != nil {
			dv.Unit = *tagged.Unit
		}
		return dv, nil
	case "enum":
		return EnumValue{EnumTypeID: tagged.EnumTypeID, VariantID: tagged.VariantID}, nil
	default:
		return nil, fmt.Errorf("unknown value type %q", tagged.Type)
	}
}

// decodeText accepts a JSON string, null, or any other scalar, which is kept in its
// literal form.
func decodeText(raw json.RawMessage) (*string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("invalid string value: %w", err)
		}
		return &s, nil
	}
	if raw[0] == '{' || raw[0] == '[' {
		return nil, fmt.Errorf("invalid string value %s", raw)
	}
	s := string(raw)
	return &s, nil
}

// ValueColumns is the warehouse projection of a Value. At most one payload group
// (number, string, duration or enum) is populated, selected by ValueType.
type ValueColumns struct {
	ValueType     *string
	NumberValue   decimal.NullDecimal
	StringValue   *string
	DurationCount decimal.NullDecimal
	DurationUnit  *string
	EnumTypeID    *string
	VariantID     *string
}

// ColumnsFor projects v onto the typed value columns. A nil Value yields all nulls.
func ColumnsFor(v Value) ValueColumns {
	var cols ValueColumns
	if v == nil {
		return cols
	}
	typ := v.Type()
	cols.ValueType = &typ

	switch v := v.(type) {
	case NumberValue:
		cols.NumberValue = v.Value
	case StringValue:
		cols.StringValue = v.Value
	case DurationValue:
		cols.DurationCount = v.Count
		cols.DurationUnit = nonEmpty(v.Unit)
	case EnumValue:
		cols.EnumTypeID = nonEmpty(v.EnumTypeID)
		cols.VariantID = nonEmpty(v.VariantID)
	}
	return cols
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
