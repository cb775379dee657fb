package dialpad

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrMissingCallID reports a call record without its natural key.
var ErrMissingCallID = errors.New("call record has no call_id")

// ErrNoTranscript reports a transcript resource without a lines array. Callers treat
// this as "no transcript yet".
var ErrNoTranscript = errors.New("transcript has no lines")

// EpochMillisToTime converts a millisecond Unix timestamp to a UTC time. Zero is the
// epoch; callers decide separately whether a zero input means "absent".
func EpochMillisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// EpochMillis is a millisecond timestamp which Dialpad sends as either a JSON string
// ("1739834613505") or number. Null, absent, empty and numeric zero values decode to a
// nil Time.
type EpochMillis struct {
	Time *time.Time
}

// UnmarshalJSON implements the json.Unmarshaler interface for EpochMillis.
func (em *EpochMillis) UnmarshalJSON(b []byte) error {
	em.Time = nil
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}

	quoted := len(b) > 0 && b[0] == '"'
	s := strings.Trim(string(b), `"`)
	if s == "" {
		return nil
	}
	if !quoted && isZero(s) {
		return nil
	}

	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("invalid millisecond timestamp %q: %w", s, err)
		}
		if math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
			return fmt.Errorf("millisecond timestamp %q out of range", s)
		}
		ms = int64(f)
	}
	t := EpochMillisToTime(ms)
	em.Time = &t
	return nil
}

func isZero(s string) bool {
	f, err := strconv.ParseFloat(s, 64)
	return err == nil && f == 0
}

// FlexString accepts a JSON string, number or null. Dialpad ids switch between the
// two forms across endpoints.
type FlexString string

// UnmarshalJSON implements the json.Unmarshaler interface for FlexString.
func (fs *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case string(b) == "null":
		*fs = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*fs = FlexString(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("expected string or number, got %s", b)
		}
		*fs = FlexString(n.String())
	}
	return nil
}

// Party is a contact or target snapshot embedded in a call record.
type Party struct {
	Email FlexString `json:"email"`
	ID    FlexString `json:"id"`
	Name  FlexString `json:"name"`
	Phone FlexString `json:"phone"`
	Type  FlexString `json:"type"`
}

// Call is one Dialpad call record, flattened to warehouse columns. Empty strings and
// nil pointers are stored as NULL.
type Call struct {
	CallID string

	ContactEmail string
	ContactID    string
	ContactName  string
	ContactPhone string
	ContactType  string

	TargetEmail string
	TargetID    string
	TargetName  string
	TargetPhone string
	TargetType  string

	EntryPointTargetID    string
	EntryPointTargetName  string
	EntryPointTargetPhone string
	EntryPointTargetType  string
	ProxyTargetID         string

	DateConnected  *time.Time
	DateStarted    *time.Time
	DateEnded      *time.Time
	EventTimestamp *time.Time

	Direction        string
	Duration         *float64
	TotalDuration    *float64
	ExternalNumber   string
	InternalNumber   string
	IsTransferred    *bool
	MOSScore         *float64
	State            string
	WasRecorded      *bool
	GroupID          string
	EntryPointCallID string
}

// UnmarshalJSON flattens the nested contact, target, entry_point_target and
// proxy_target objects into prefixed fields and converts millisecond timestamps.
// Older payloads carry the connect time as date_rang.
func (c *Call) UnmarshalJSON(data []byte) error {
	var raw struct {
		CallID           FlexString  `json:"call_id"`
		Contact          *Party      `json:"contact"`
		Target           *Party      `json:"target"`
		EntryPointTarget *Party      `json:"entry_point_target"`
		ProxyTarget      *Party      `json:"proxy_target"`
		DateConnected    EpochMillis `json:"date_connected"`
		DateRang         EpochMillis `json:"date_rang"`
		DateStarted      EpochMillis `json:"date_started"`
		DateEnded        EpochMillis `json:"date_ended"`
		EventTimestamp   EpochMillis `json:"event_timestamp"`
		Direction        string      `json:"direction"`
		Duration         *float64    `json:"duration"`
		TotalDuration    *float64    `json:"total_duration"`
		ExternalNumber   string      `json:"external_number"`
		InternalNumber   string      `json:"internal_number"`
		IsTransferred    *bool       `json:"is_transferred"`
		MOSScore         *float64    `json:"mos_score"`
		State            string      `json:"state"`
		WasRecorded      *bool       `json:"was_recorded"`
		GroupID          FlexString  `json:"group_id"`
		EntryPointCallID FlexString  `json:"entry_point_call_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	orEmpty := func(p *Party) Party {
		if p == nil {
			return Party{}
		}
		return *p
	}
	contact := orEmpty(raw.Contact)
	target := orEmpty(raw.Target)
	entry := orEmpty(raw.EntryPointTarget)
	proxy := orEmpty(raw.ProxyTarget)

	connected := raw.DateConnected.Time
	if connected == nil {
		connected = raw.DateRang.Time
	}

	*c = Call{
		CallID:                string(raw.CallID),
		ContactEmail:          string(contact.Email),
		ContactID:             string(contact.ID),
		ContactName:           string(contact.Name),
		ContactPhone:          string(contact.Phone),
		ContactType:           string(contact.Type),
		TargetEmail:           string(target.Email),
		TargetID:              string(target.ID),
		TargetName:            string(target.Name),
		TargetPhone:           string(target.Phone),
		TargetType:            string(target.Type),
		EntryPointTargetID:    string(entry.ID),
		EntryPointTargetName:  string(entry.Name),
		EntryPointTargetPhone: string(entry.Phone),
		EntryPointTargetType:  string(entry.Type),
		ProxyTargetID:         string(proxy.ID),
		DateConnected:         connected,
		DateStarted:           raw.DateStarted.Time,
		DateEnded:             raw.DateEnded.Time,
		EventTimestamp:        raw.EventTimestamp.Time,
		Direction:             raw.Direction,
		Duration:              raw.Duration,
		TotalDuration:         raw.TotalDuration,
		ExternalNumber:        raw.ExternalNumber,
		InternalNumber:        raw.InternalNumber,
		IsTransferred:         raw.IsTransferred,
		MOSScore:              raw.MOSScore,
		State:                 raw.State,
		WasRecorded:           raw.WasRecorded,
		GroupID:               string(raw.GroupID),
		EntryPointCallID:      string(raw.EntryPointCallID),
	}
	return nil
}

// DecodeCall maps one raw call record. Records without a call_id are rejected.
func DecodeCall(raw json.RawMessage) (Call, error) {
	var c Call
	if err := json.Unmarshal(raw, &c); err != nil {
		return Call{}, fmt.Errorf("call %q: %w", CallIDOf(raw), err)
	}
	if c.CallID == "" {
		return Call{}, ErrMissingCallID
	}
	return c, nil
}

// CallIDOf extracts the call_id of a raw record on a best-effort basis, for logging
// records which fail to map.
func CallIDOf(raw json.RawMessage) string {
	var key struct {
		CallID json.RawMessage `json:"call_id"`
	}
	if err := json.Unmarshal(raw, &key); err != nil || key.CallID == nil {
		return "unknown"
	}
	return strings.Trim(string(key.CallID), `"`)
}

// callsResponse is the /call list envelope.
type callsResponse struct {
	Cursor *string           `json:"cursor"`
	Items  []json.RawMessage `json:"items"`
}

// CallPage is one page of the /call listing. Items are left raw so each record can
// be mapped, and fail, independently.
type CallPage struct {
	Cursor string
	Items  []json.RawMessage
	Body   []byte
}

// TranscriptLine is one entry of a transcript feed. Type is "transcript" for spoken
// content; other types (such as "moment") are annotations.
type TranscriptLine struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// Transcript is the /transcripts/{call_id} resource.
type Transcript struct {
	CallID FlexString       `json:"call_id"`
	Lines  []TranscriptLine `json:"lines"`
}

// Text joins the content of the transcript lines with newlines, dropping annotation
// lines. It returns ErrNoTranscript if the lines array was absent.
func (t *Transcript) Text() (string, error) {
	if t == nil || t.Lines == nil {
		return "", ErrNoTranscript
	}
	var parts []string
	for _, l := range t.Lines {
		if l.Type != "transcript" {
			continue
		}
		if content := strings.TrimSpace(l.Content); content != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, "\n"), nil
}
