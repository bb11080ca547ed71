package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/alanyoungcy/parimarket/internal/domain"
)

// ArchivePrefix is the key prefix under which settled markets are written.
const ArchivePrefix = "archive/markets/"

// multipartThreshold switches uploads to the multipart manager.
const multipartThreshold = minPartSize

// SettledMarketStore is the slice of domain.MarketStore the archiver reads.
type SettledMarketStore interface {
	ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Market, error)
}

// MarketPositionStore is the slice of domain.PositionStore the archiver reads.
type MarketPositionStore interface {
	ListByMarket(ctx context.Context, market string) ([]domain.Position, error)
}

// record is one JSONL line. The first line of every archive is the market,
// followed by one line per position.
type record struct {
	Kind     string           `json:"kind"`
	Market   *domain.Market   `json:"market,omitempty"`
	Position *domain.Position `json:"position,omitempty"`
}

// Archiver implements domain.Archiver by writing each settled market and
// its positions to object storage as one JSONL file.
//
// Archived markets are not removed from the primary store.
type Archiver struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	markets   SettledMarketStore
	positions MarketPositionStore
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewArchiver creates a new Archiver. audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	markets SettledMarketStore,
	positions MarketPositionStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:    writer,
		reader:    reader,
		markets:   markets,
		positions: positions,
		audit:     audit,
		logger:    logger,
	}
}

// ArchiveSettled uploads every market settled before the cutoff that is not
// already archived, and returns how many it wrote.
func (a *Archiver) ArchiveSettled(ctx context.Context, before time.Time) (int64, error) {
	markets, err := a.markets.ListSettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settled query: %w", err)
	}

	var written int64
	for _, m := range markets {
		path := ArchivePath(m)
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return written, err
		}
		if exists {
			continue
		}

		positions, err := a.positions.ListByMarket(ctx, m.Name)
		if err != nil {
			return written, fmt.Errorf("s3blob: archive positions of %q: %w", m.Name, err)
		}
		buf, err := marshalArchive(m, positions)
		if err != nil {
			return written, fmt.Errorf("s3blob: archive marshal %q: %w", m.Name, err)
		}
		if err := a.upload(ctx, path, buf); err != nil {
			return written, err
		}
		written++

		a.logger.InfoContext(ctx, "archiver: market archived",
			slog.String("market", m.Name),
			slog.String("path", path),
			slog.Int("positions", len(positions)),
		)
	}

	if a.audit != nil && written > 0 {
		if err := a.audit.Log(ctx, "archive.markets", map[string]any{
			"count":  written,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return written, fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}
	return written, nil
}

func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if int64(len(buf)) >= multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
}

// Load reads an archive back into its market and positions.
func (a *Archiver) Load(ctx context.Context, path string) (domain.Market, []domain.Position, error) {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return domain.Market{}, nil, err
	}
	defer body.Close()
	return unmarshalArchive(body)
}

// Archived lists archive objects for markets settled in the given month.
func (a *Archiver) Archived(ctx context.Context, month time.Time) ([]domain.BlobInfo, error) {
	return a.reader.List(ctx, ArchivePrefix+month.UTC().Format("2006/01/"))
}

// Verify reads back every archive listed for month and checks that each
// holds a settled market whose path matches it, with positions of that
// market only. It returns how many archives passed; every failure is joined
// into the error.
func (a *Archiver) Verify(ctx context.Context, month time.Time) (int, error) {
	objects, err := a.Archived(ctx, month)
	if err != nil {
		return 0, fmt.Errorf("s3blob: verify list: %w", err)
	}

	var (
		ok   int
		errs []error
	)
	for _, obj := range objects {
		m, positions, err := a.Load(ctx, obj.Path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", obj.Path, err))
			continue
		}
		if err := checkArchive(obj.Path, m, positions); err != nil {
			errs = append(errs, err)
			continue
		}
		ok++
	}
	if len(errs) > 0 {
		return ok, fmt.Errorf("s3blob: verify: %w", errors.Join(errs...))
	}
	return ok, nil
}

func checkArchive(path string, m domain.Market, positions []domain.Position) error {
	if !m.Settled {
		return fmt.Errorf("%s: market %q is not settled", path, m.Name)
	}
	if want := ArchivePath(m); want != path {
		return fmt.Errorf("%s: market %q belongs at %s", path, m.Name, want)
	}
	for _, p := range positions {
		if p.MarketName != m.Name {
			return fmt.Errorf("%s: position of %s is for market %q", path, p.Participant, p.MarketName)
		}
	}
	return nil
}

// ArchivePath returns the object key for a settled market:
//
//	archive/markets/2025/01/btc-100k.jsonl
func ArchivePath(m domain.Market) string {
	at := m.UpdatedAt
	if m.SettledAt != nil {
		at = *m.SettledAt
	}
	return ArchivePrefix + at.UTC().Format("2006/01/") + url.PathEscape(m.Name) + ".jsonl"
}

func marshalArchive(m domain.Market, positions []domain.Position) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(record{Kind: "market", Market: &m}); err != nil {
		return nil, err
	}
	for i := range positions {
		if err := enc.Encode(record{Kind: "position", Position: &positions[i]}); err != nil {
			return nil, fmt.Errorf("jsonl encode position %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func unmarshalArchive(r io.Reader) (domain.Market, []domain.Position, error) {
	var (
		market    *domain.Market
		positions []domain.Position
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return domain.Market{}, nil, fmt.Errorf("s3blob: decode archive line: %w", err)
		}
		switch {
		case rec.Kind == "market" && rec.Market != nil:
			market = rec.Market
		case rec.Kind == "position" && rec.Position != nil:
			positions = append(positions, *rec.Position)
		}
	}
	if err := sc.Err(); err != nil {
		return domain.Market{}, nil, fmt.Errorf("s3blob: read archive: %w", err)
	}
	if market == nil {
		return domain.Market{}, nil, fmt.Errorf("s3blob: archive has no market record")
	}
	return *market, positions, nil
}
