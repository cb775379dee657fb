// Package archive writes raw API response bodies to write-once storage as an audit
// trail. One object is written per fetched page; existing objects are never
// overwritten.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lendz/syncer/internal/logging"
)

// ErrExists reports that an object of the same name has already been archived.
var ErrExists = errors.New("archive object already exists")

// Archiver persists raw page bodies.
type Archiver interface {
	Archive(ctx context.Context, name string, body []byte) error
	Close() error
}

// ObjectName returns the deterministic object name for the seq'th page fetched at ts,
// for example "dialpad_response_page_20250217232333.505000_0.json".
func ObjectName(prefix string, ts time.Time, seq int) string {
	return fmt.Sprintf("%s_%s_%d.json", prefix, ts.UTC().Format("20060102150405.000000"), seq)
}

// Options selects and configures an Archiver.
type Options struct {
	Kind            string // "gcs", "dir" or "none"
	Bucket          string // gcs
	CredentialsFile string // gcs, optional
	Endpoint        string // gcs, optional, for emulators
	Dir             string // dir
}

// New constructs the Archiver described by opts. A construction failure is fatal to
// the calling run.
func New(ctx context.Context, opts Options, logger *slog.Logger) (Archiver, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	switch opts.Kind {
	case "gcs":
		g, err := NewGCS(ctx, opts.Bucket, opts.CredentialsFile, opts.Endpoint, logger)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "dir":
		d, err := NewDir(opts.Dir)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "", "none":
		logger.Warn("raw page archiving is disabled")
		return Discard{}, nil
	default:
		return nil, fmt.Errorf("unknown archive kind %q", opts.Kind)
	}
}

// Discard drops every page.
type Discard struct{}

// Archive implements Archiver.
func (Discard) Archive(context.Context, string, []byte) error { return nil }

// Close implements Archiver.
func (Discard) Close() error { return nil }
