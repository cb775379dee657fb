package loanpass

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
)

func ptrStr(s string) *string { return &s }

func nullDecimal(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func TestDecodeValue(t *testing.T) {

	tests := []struct {
		name    string
		raw     string
		want    Value
		wantErr bool
	}{
		{"null", `null`, nil, false},
		{"absent", ``, nil, false},
		{"empty object", `{}`, nil, false},
		{"no type", `{"value":"12"}`, nil, false},
		{"number string", `{"type":"number","value":"450000.00"}`, NumberValue{nullDecimal("450000.00")}, false},
		{"number literal", `{"type":"number","value":45.5}`, NumberValue{nullDecimal("45.5")}, false},
		{"number null", `{"type":"number","value":null}`, NumberValue{}, false},
		{"string", `{"type":"string","value":"Tier 1"}`, StringValue{ptrStr("Tier 1")}, false},
		{"string from number", `{"type":"string","value":12}`, StringValue{ptrStr("12")}, false},
		{"duration", `{"type":"duration","count":"30","unit":"days"}`, DurationValue{nullDecimal("30"), "days"}, false},
		{"enum", `{"type":"enum","enumTypeId":"yes-no","variantId":"yes"}`, EnumValue{"yes-no", "yes"}, false},
		{"unknown type", `{"type":"matrix"}`, nil, true},
		{"bad number", `{"type":"number","value":"lots"}`, nil, true},
		{"bad string", `{"type":"string","value":{"a":1}}`, nil, true},
		{"not an object", `"number"`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeValue(json.RawMessage(tt.raw))
			if gotErr := err != nil; gotErr != tt.wantErr {
				t.Fatalf("got err %v wantErr %t", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("value mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestColumnsFor(t *testing.T) {

	tests := []struct {
		name  string
		value Value
		want  ValueColumns
	}{
		{
			name:  "null value",
			value: nil,
			want:  ValueColumns{},
		},
		{
			name:  "duration",
			value: DurationValue{Count: nullDecimal("30"), Unit: "days"},
			want: ValueColumns{
				ValueType:     ptrStr("duration"),
				DurationCount: nullDecimal("30"),
				DurationUnit:  ptrStr("days"),
			},
		},
		{
			name:  "number",
			value: NumberValue{Value: nullDecimal("11.5")},
			want: ValueColumns{
				ValueType:   ptrStr("number"),
				NumberValue: nullDecimal("11.5"),
			},
		},
		{
			name:  "string",
			value: StringValue{Value: ptrStr("Tier 1")},
			want: ValueColumns{
				ValueType:   ptrStr("string"),
				StringValue: ptrStr("Tier 1"),
			},
		},
		{
			name:  "enum",
			value: EnumValue{EnumTypeID: "yes-no", VariantID: "no"},
			want: ValueColumns{
				ValueType:  ptrStr("enum"),
				EnumTypeID: ptrStr("yes-no"),
				VariantID:  ptrStr("no"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ColumnsFor(tt.value)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("columns mismatch (-want +got):\n%s", diff)
			}
			if n := populatedGroups(got); n > 1 {
				t.Errorf("%d payload groups populated, want at most 1", n)
			}
		})
	}
}

// populatedGroups counts the payload groups with any non-null column.
func populatedGroups(c ValueColumns) int {
	n := 0
	if c.NumberValue.Valid {
		n++
	}
	if c.StringValue != nil {
		n++
	}
	if c.DurationCount.Valid || c.DurationUnit != nil {
		n++
	}
	if c.EnumTypeID != nil || c.VariantID != nil {
		n++
	}
	return n
}
