package db

// calls.go deals with Dialpad call records.

import (
	"context"
	"fmt"
	"time"

	"github.com/lendz/syncer/apiclients/dialpad"
)

// CallRecordsUpsert upserts a page of call records in one transaction. A re-sync of a
// call updates its columns but never its transcript.
func (db *DB) CallRecordsUpsert(ctx context.Context, calls []dialpad.Call) error {
	if len(calls) == 0 {
		return nil
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // no-op after commit.

	syncedAt := db.now().UTC().Format(timeFormat)

	for _, c := range calls {
		namedArgs := map[string]any{
			"CallID":                c.CallID,
			"ContactEmail":          nullString(c.ContactEmail),
			"ContactID":             nullString(c.ContactID),
			"ContactName":           nullString(c.ContactName),
			"ContactPhone":          nullString(c.ContactPhone),
			"ContactType":           nullString(c.ContactType),
			"TargetEmail":           nullString(c.TargetEmail),
			"TargetID":              nullString(c.TargetID),
			"TargetName":            nullString(c.TargetName),
			"TargetPhone":           nullString(c.TargetPhone),
			"TargetType":            nullString(c.TargetType),
			"EntryPointTargetID":    nullString(c.EntryPointTargetID),
			"EntryPointTargetName":  nullString(c.EntryPointTargetName),
			"EntryPointTargetPhone": nullString(c.EntryPointTargetPhone),
			"EntryPointTargetType":  nullString(c.EntryPointTargetType),
			"ProxyTargetID":         nullString(c.ProxyTargetID),
			"DateConnected":         nullTime(c.DateConnected),
			"DateStarted":           nullTime(c.DateStarted),
			"DateEnded":             nullTime(c.DateEnded),
			"EventTimestamp":        nullTime(c.EventTimestamp),
			"Direction":             nullString(c.Direction),
			"Duration":              c.Duration,
			"TotalDuration":         c.TotalDuration,
			"ExternalNumber":        nullString(c.ExternalNumber),
			"InternalNumber":        nullString(c.InternalNumber),
			"IsTransferred":         c.IsTransferred,
			"MOSScore":              c.MOSScore,
			"State":                 nullString(c.State),
			"WasRecorded":           c.WasRecorded,
			"GroupID":               nullString(c.GroupID),
			"EntryPointCallID":      nullString(c.EntryPointCallID),
			"SyncedAt":              syncedAt,
		}
		if err := db.exec(ctx, tx, db.callUpsertStmt, namedArgs); err != nil {
			return fmt.Errorf("failed to upsert call %s: %w", c.CallID, err)
		}
	}
	return tx.Commit()
}

// CallsMissingTranscript returns the ids of calls started at or after since which do
// not yet have a transcript, oldest first.
func (db *DB) CallsMissingTranscript(ctx context.Context, since time.Time) ([]string, error) {
	stmt := db.callsMissingTranscriptStmt
	namedArgs := map[string]any{
		"Since": since.UTC().Format(timeFormat),
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return nil, err
	}

	var ids []string
	err := stmt.SelectContext(ctx, &ids, namedArgs)
	if err != nil {
		db.logQuery(stmt, namedArgs, err)
		return nil, fmt.Errorf("calls missing transcript select error: %w", err)
	}
	return ids, nil
}

// TranscriptPatch is the transcript text for one call.
type TranscriptPatch struct {
	CallID string
	Text   string
}

// TranscriptsUpdate writes a batch of transcripts in one transaction.
func (db *DB) TranscriptsUpdate(ctx context.Context, patches []TranscriptPatch) error {
	if len(patches) == 0 {
		return nil
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // no-op after commit.

	syncedAt := db.now().UTC().Format(timeFormat)

	for _, p := range patches {
		namedArgs := map[string]any{
			"CallID":     p.CallID,
			"Transcript": p.Text,
			"SyncedAt":   syncedAt,
		}
		if err := db.exec(ctx, tx, db.callTranscriptUpdateStmt, namedArgs); err != nil {
			return fmt.Errorf("failed to update transcript for call %s: %w", p.CallID, err)
		}
	}
	return tx.Commit()
}
