// Package snapshot exports the records of a namespace as a flat file of
// tagged record encodings, reads such files back, and copies records between
// namespaces.
package snapshot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/civicstreak/internal/recordstore"
	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// Uploader stores snapshot objects.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
}

// Bucket is an Uploader that can read its objects back.
type Bucket interface {
	Uploader
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Manifest describes one exported snapshot. It is uploaded next to the data
// object as JSON.
type Manifest struct {
	Namespace   streak.Namespace `json:"namespace"`
	DataKey     string           `json:"data_key"`
	ManifestKey string           `json:"manifest_key"`
	Records     int              `json:"records"`
	RecordSize  int              `json:"record_size"`
	Bytes       int              `json:"bytes"`
	SHA256      string           `json:"sha256"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Exporter writes snapshots of one namespace.
type Exporter struct {
	src    recordstore.Scanner
	ns     streak.Namespace
	up     Uploader
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

// NewExporter creates an Exporter. Objects are written under
// "<prefix>/<namespace>/".
func NewExporter(src recordstore.Scanner, ns streak.Namespace, up Uploader, prefix string, logger *zap.Logger) *Exporter {
	return &Exporter{src: src, ns: ns, up: up, prefix: prefix, now: time.Now, logger: logger}
}

// SetClock overrides the time source used to name snapshots.
func (e *Exporter) SetClock(now func() time.Time) { e.now = now }

// Export scans every record and uploads the data object followed by its
// manifest.
func (e *Exporter) Export(ctx context.Context) (*Manifest, error) {
	var buf bytes.Buffer
	n := 0
	if err := e.src.Scan(ctx, func(_ streak.Address, rec streak.Record) error {
		buf.Write(streak.Encode(rec))
		n++
		return nil
	}); err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}

	created := e.now().UTC()
	base := path.Join(e.prefix, string(e.ns), created.Format("20060102T150405Z"))
	sum := sha256.Sum256(buf.Bytes())
	m := &Manifest{
		Namespace:   e.ns,
		DataKey:     base + ".bin",
		ManifestKey: base + ".json",
		Records:     n,
		RecordSize:  streak.EncodedSize,
		Bytes:       buf.Len(),
		SHA256:      hex.EncodeToString(sum[:]),
		CreatedAt:   created,
	}

	if err := e.up.Upload(ctx, m.DataKey, buf.Bytes(), "application/octet-stream"); err != nil {
		return nil, fmt.Errorf("upload snapshot data: %w", err)
	}
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := e.up.Upload(ctx, m.ManifestKey, body, "application/json"); err != nil {
		return nil, fmt.Errorf("upload snapshot manifest: %w", err)
	}

	e.logger.Info("snapshot exported",
		zap.String("namespace", string(e.ns)),
		zap.String("key", m.DataKey),
		zap.Int("records", n),
	)
	return m, nil
}

// Read decodes a snapshot data object.
func Read(data []byte) ([]streak.Record, error) {
	if len(data)%streak.EncodedSize != 0 {
		return nil, fmt.Errorf("%w: snapshot length %d is not a multiple of %d", streak.ErrMalformedRecord, len(data), streak.EncodedSize)
	}
	out := make([]streak.Record, 0, len(data)/streak.EncodedSize)
	for off := 0; off < len(data); off += streak.EncodedSize {
		rec, err := streak.Decode(data[off : off+streak.EncodedSize])
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", off/streak.EncodedSize, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Stats counts the outcome of a copy.
type Stats struct {
	Copied  int `json:"copied"`
	Skipped int `json:"skipped"`
}

// Migrate copies every record of from into to. Records already present in to
// are left untouched and counted as skipped, so Migrate can be re-run after a
// partial failure.
func Migrate(ctx context.Context, from recordstore.Scanner, to recordstore.Store) (Stats, error) {
	var st Stats
	err := from.Scan(ctx, func(_ streak.Address, rec streak.Record) error {
		return copyRecord(ctx, to, rec, &st)
	})
	return st, err
}

// Restore loads the records of a snapshot into to with the same rules as Migrate.
func Restore(ctx context.Context, data []byte, to recordstore.Store) (Stats, error) {
	var st Stats
	recs, err := Read(data)
	if err != nil {
		return st, err
	}
	for _, rec := range recs {
		if err := copyRecord(ctx, to, rec, &st); err != nil {
			return st, err
		}
	}
	return st, nil
}

func copyRecord(ctx context.Context, to recordstore.Store, rec streak.Record, st *Stats) error {
	err := to.Create(ctx, rec.Owner, rec)
	switch {
	case err == nil:
		st.Copied++
		return nil
	case errors.Is(err, streak.ErrAlreadyExists):
		st.Skipped++
		return nil
	default:
		return fmt.Errorf("copy record of %s: %w", rec.Owner, err)
	}
}
