package dialpad

import (
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func ptrTime(ti time.Time) *time.Time { return &ti }

func ptrFloat64(f float64) *float64 { return &f }

func ptrBool(b bool) *bool { return &b }

func TestEpochMillisToTime(t *testing.T) {
	if got, want := EpochMillisToTime(0), time.Unix(0, 0).UTC(); !got.Equal(want) {
		t.Errorf("zero: got %v want %v", got, want)
	}
	if got, want := EpochMillisToTime(1739834613505), time.Date(2025, 2, 17, 23, 23, 33, 505000000, time.UTC); !got.Equal(want) {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestEpochMillis(t *testing.T) {

	tests := []struct {
		input   string
		want    *time.Time
		wantErr bool
	}{
		{`null`, nil, false},
		{`""`, nil, false},
		{`0`, nil, false},
		{`0.0`, nil, false},
		{`"0"`, ptrTime(time.Unix(0, 0).UTC()), false},
		{`"1739834613505"`, ptrTime(time.UnixMilli(1739834613505).UTC()), false},
		{`1739834613505`, ptrTime(time.UnixMilli(1739834613505).UTC()), false},
		{`1739834613505.9`, ptrTime(time.UnixMilli(1739834613505).UTC()), false},
		{`"yesterday"`, nil, true},
		{`"1e30"`, nil, true},
		{`-1e30`, nil, true},
		{`"NaN"`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var em EpochMillis
			err := json.Unmarshal([]byte(tt.input), &em)
			if got, want := err != nil, tt.wantErr; got != want {
				t.Fatalf("got err %v wantErr %t", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, em.Time); diff != "" {
				t.Errorf("time mismatch (-want +got):\n%s", diff)
			}
		})
	}

	// Absent keys leave the field nil.
	var holder struct {
		At EpochMillis `json:"at"`
	}
	if err := json.Unmarshal([]byte(`{}`), &holder); err != nil {
		t.Fatal(err)
	}
	if holder.At.Time != nil {
		t.Errorf("absent timestamp should be nil, got %v", holder.At.Time)
	}
}

func TestFlexString(t *testing.T) {
	for input, want := range map[string]FlexString{
		`"abc"`:            "abc",
		`5231288289411072`: "5231288289411072",
		`null`:             "",
	} {
		var fs FlexString
		if err := json.Unmarshal([]byte(input), &fs); err != nil {
			t.Fatalf("%s: %v", input, err)
		}
		if fs != want {
			t.Errorf("%s: got %q want %q", input, fs, want)
		}
	}
	var fs FlexString
	if err := json.Unmarshal([]byte(`{"a":1}`), &fs); err == nil {
		t.Error("expected error for an object")
	}
}

func TestDecodeCalls(t *testing.T) {

	b, err := os.ReadFile("testdata/calls_page1.json")
	if err != nil {
		t.Fatal(err)
	}
	var page callsResponse
	if err := json.Unmarshal(b, &page); err != nil {
		t.Fatal(err)
	}
	if got, want := len(page.Items), 2; got != want {
		t.Fatalf("got %d items want %d", got, want)
	}

	first, err := DecodeCall(page.Items[0])
	if err != nil {
		t.Fatal(err)
	}
	wantFirst := Call{
		CallID:         "4756071778664448",
		ContactID:      "6648290999582720",
		ContactName:    "Newtonville MA",
		ContactPhone:   "+18572321711",
		ContactType:    "local",
		TargetID:       "5231288289411072",
		TargetName:     "Lendz Financial",
		TargetPhone:    "+13059010714",
		TargetType:     "office",
		DateStarted:    ptrTime(time.UnixMilli(1739834608997).UTC()),
		DateEnded:      ptrTime(time.UnixMilli(1739834613505).UTC()),
		EventTimestamp: ptrTime(time.UnixMilli(1747322231916).UTC()),
		Direction:      "inbound",
		Duration:       ptrFloat64(0),
		TotalDuration:  ptrFloat64(4508.166),
		ExternalNumber: "+18572321711",
		InternalNumber: "+13059010714",
		IsTransferred:  ptrBool(false),
		MOSScore:       ptrFloat64(4.41),
		State:          "hangup",
		WasRecorded:    ptrBool(false),
		GroupID:        "Office:5231288289411072",
	}
	if diff := cmp.Diff(wantFirst, first); diff != "" {
		t.Errorf("first call mismatch (-want +got):\n%s", diff)
	}

	second, err := DecodeCall(page.Items[1])
	if err != nil {
		t.Fatal(err)
	}
	if got, want := second.EntryPointTargetID, "5231288289411072"; got != want {
		t.Errorf("numeric entry point id got %q want %q", got, want)
	}
	if got, want := second.EntryPointTargetName, "Main Line"; got != want {
		t.Errorf("entry point name got %q want %q", got, want)
	}
	if second.ProxyTargetID != "" {
		t.Errorf("null proxy target should flatten to empty, got %q", second.ProxyTargetID)
	}
	if diff := cmp.Diff(ptrTime(time.UnixMilli(1739828581735).UTC()), second.DateConnected); diff != "" {
		t.Errorf("date connected mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeCallDateRangFallback(t *testing.T) {

	b, err := os.ReadFile("testdata/calls_page2.json")
	if err != nil {
		t.Fatal(err)
	}
	var page callsResponse
	if err := json.Unmarshal(b, &page); err != nil {
		t.Fatal(err)
	}
	if page.Cursor != nil {
		t.Errorf("expected null cursor, got %q", *page.Cursor)
	}

	call, err := DecodeCall(page.Items[0])
	if err != nil {
		t.Fatal(err)
	}
	if got, want := call.CallID, "6202475063689216"; got != want {
		t.Errorf("numeric call id got %q want %q", got, want)
	}
	if diff := cmp.Diff(ptrTime(time.UnixMilli(1739820000100).UTC()), call.DateConnected); diff != "" {
		t.Errorf("date_rang fallback mismatch (-want +got):\n%s", diff)
	}
	if call.EventTimestamp != nil {
		t.Errorf("null event timestamp should be nil, got %v", call.EventTimestamp)
	}
	if call.MOSScore != nil {
		t.Errorf("null mos score should be nil, got %v", *call.MOSScore)
	}
}

func TestDecodeCallErrors(t *testing.T) {

	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"missing id", `{"direction":"inbound"}`, ErrMissingCallID},
		{"bad timestamp", `{"call_id":"1","date_started":"soon"}`, nil},
		{"bad contact", `{"call_id":"2","contact":"someone"}`, nil},
		{"not an object", `[1,2]`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCall(json.RawMessage(tt.raw))
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCallIDOf(t *testing.T) {
	for raw, want := range map[string]string{
		`{"call_id":"123","date_started":"soon"}`: "123",
		`{"call_id":456}`:                         "456",
		`{"state":"hangup"}`:                      "unknown",
		`not json`:                                "unknown",
	} {
		if got := CallIDOf(json.RawMessage(raw)); got != want {
			t.Errorf("%s: got %q want %q", raw, got, want)
		}
	}
}

func TestTranscriptText(t *testing.T) {

	b, err := os.ReadFile("testdata/transcript.json")
	if err != nil {
		t.Fatal(err)
	}
	var tr Transcript
	if err := json.Unmarshal(b, &tr); err != nil {
		t.Fatal(err)
	}
	text, err := tr.Text()
	if err != nil {
		t.Fatal(err)
	}
	want := "Thanks for calling, how can I help?\nI'd like a rate quote."
	if diff := cmp.Diff(want, text); diff != "" {
		t.Errorf("text mismatch (-want +got):\n%s", diff)
	}

	b, err = os.ReadFile("testdata/transcript_pending.json")
	if err != nil {
		t.Fatal(err)
	}
	var pending Transcript
	if err := json.Unmarshal(b, &pending); err != nil {
		t.Fatal(err)
	}
	if _, err := pending.Text(); !errors.Is(err, ErrNoTranscript) {
		t.Errorf("expected ErrNoTranscript, got %v", err)
	}

	empty := Transcript{Lines: []TranscriptLine{}}
	if text, err := empty.Text(); err != nil || text != "" {
		t.Errorf("empty lines: got %q, %v", text, err)
	}
}
