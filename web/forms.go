package web

import (
	"fmt"
	"net/http"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/lendz/syncer/internal/pipeline"

	"github.com/gorilla/schema"
)

// ------------------------------------------------------------------------------
// Helpers
// ------------------------------------------------------------------------------

// Validator collects validation messages keyed by form field.
type Validator struct {
	Errors map[string]string
}

// NewValidator returns an empty Validator.
func NewValidator() *Validator {
	return &Validator{Errors: make(map[string]string)}
}

// Valid reports whether no errors were recorded.
func (v *Validator) Valid() bool {
	return len(v.Errors) == 0
}

// AddError records message against key unless key already has one.
func (v *Validator) AddError(key, message string) {
	if _, exists := v.Errors[key]; !exists {
		v.Errors[key] = message
	}
}

// Check records message against key when ok is false.
func (v *Validator) Check(ok bool, key, message string) {
	if !ok {
		v.AddError(key, message)
	}
}

// String joins the errors as "field: message" pairs in field order.
func (v *Validator) String() string {
	msgs := make([]string, 0, len(v.Errors))
	for k, m := range v.Errors {
		msgs = append(msgs, k+": "+m)
	}
	slices.Sort(msgs)
	return strings.Join(msgs, "; ")
}

// ------------------------------------------------------------------------------
// Forms
// ------------------------------------------------------------------------------

// RunForm holds the optional call window of a triggered run. Both fields are RFC3339
// timestamps; an empty start means the configured trailing window.
type RunForm struct {
	Start time.Time `schema:"start"`
	End   time.Time `schema:"end"`
}

// Validate checks RunForm fields and populates Validator with any errors.
func (f *RunForm) Validate(v *Validator) {
	v.Check(f.End.IsZero() || !f.Start.IsZero(), "start", "A start time is required when an end time is given.")
	v.Check(f.End.IsZero() || f.End.After(f.Start), "end", "End time must be after the start time.")
}

// Window returns the form's call window.
func (f *RunForm) Window() pipeline.Window {
	return pipeline.Window{Start: f.Start.UTC(), End: f.End.UTC()}
}

// ------------------------------------------------------------------------------
// General decoding funcs
// ------------------------------------------------------------------------------

// newSchemaDecoder creates a new schema.Decoder instance and registers
// a custom converter for the time.Time type.
func newSchemaDecoder() *schema.Decoder {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	decoder.RegisterConverter(time.Time{}, func(value string) reflect.Value {
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, value); err == nil {
				return reflect.ValueOf(t)
			}
		}
		// An invalid value is reported by the decoder as a conversion error.
		return reflect.Value{}
	})

	return decoder
}

// DecodeForm is helper that decodes the URL query and any urlencoded body of a
// request into a destination struct (dst).
func DecodeForm(r *http.Request, dst any) error {
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("form parsing error: %w", err)
	}
	decoder := newSchemaDecoder()
	if err := decoder.Decode(dst, r.Form); err != nil {
		return fmt.Errorf("form decoding error: %w", err)
	}
	return nil
}
