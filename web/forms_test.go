package web

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestRunForm(t *testing.T) {

	start := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	end := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		query          string
		body           string
		form           RunForm
		decodeErr      bool
		validationErrs map[string]string
	}{
		{
			name:           "empty",
			form:           RunForm{},
			validationErrs: map[string]string{},
		},
		{
			name:           "query window",
			query:          "start=2025-06-01T10:00:00Z&end=2025-06-01T12:00:00Z",
			form:           RunForm{Start: start, End: end},
			validationErrs: map[string]string{},
		},
		{
			name:           "body window",
			body:           "start=2025-06-01T10:00:00Z&end=2025-06-01T12:00:00Z",
			form:           RunForm{Start: start, End: end},
			validationErrs: map[string]string{},
		},
		{
			name:           "start only",
			query:          "start=2025-06-01",
			form:           RunForm{Start: time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)},
			validationErrs: map[string]string{},
		},
		{
			name:  "end only",
			query: "end=2025-06-01T12:00:00Z",
			form:  RunForm{End: end},
			validationErrs: map[string]string{
				"start": "A start time is required when an end time is given.",
			},
		},
		{
			name:  "reversed",
			query: "start=2025-06-01T12:00:00Z&end=2025-06-01T10:00:00Z",
			form:  RunForm{Start: end, End: start},
			validationErrs: map[string]string{
				"end": "End time must be after the start time.",
			},
		},
		{
			name:      "garbage",
			query:     "start=yesterday",
			decodeErr: true,
		},
		{
			name:           "unknown keys ignored",
			query:          "foo=bar",
			form:           RunForm{},
			validationErrs: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := url.URL{Scheme: "http", Host: "127.0.0.1:8080", Path: "/run/calls", RawQuery: tt.query}
			r, err := http.NewRequest(http.MethodPost, u.String(), strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			if tt.body != "" {
				r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}

			var form RunForm
			err = DecodeForm(r, &form)
			if tt.decodeErr {
				if err == nil {
					t.Fatal("expected decoding error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected decoding error %v", err)
			}
			if diff := cmp.Diff(tt.form, form); diff != "" {
				t.Errorf("form mismatch (-want +got):\n%s", diff)
			}

			v := NewValidator()
			form.Validate(v)
			if diff := cmp.Diff(tt.validationErrs, v.Errors); diff != "" {
				t.Errorf("validation mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValidator(t *testing.T) {
	v := NewValidator()
	if !v.Valid() {
		t.Error("new validator should be valid")
	}
	v.Check(false, "a", "first")
	v.Check(false, "a", "second")
	v.Check(true, "b", "never")
	if v.Valid() {
		t.Error("validator should be invalid")
	}
	if got, want := v.Errors["a"], "first"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
	if _, ok := v.Errors["b"]; ok {
		t.Error("b should have no error")
	}
}

func TestValidatorString(t *testing.T) {
	v := NewValidator()
	v.AddError("start", "bad start")
	v.AddError("end", "bad end")
	if got, want := v.String(), "end: bad end; start: bad start"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
}
