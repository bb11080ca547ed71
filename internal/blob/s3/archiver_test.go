package s3blob

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/parimarket/internal/domain"
)

type memBlobs struct {
	objects   map[string][]byte
	puts      int
	multipart int
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: make(map[string][]byte)} }

func (b *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.objects[path] = buf
	b.puts++
	return nil
}

func (b *memBlobs) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.objects[path] = buf
	b.multipart++
	return nil
}

func (b *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	buf, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (b *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for k, v := range b.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (b *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := b.objects[path]
	return ok, nil
}

type fakeMarkets []domain.Market

func (f fakeMarkets) ListSettledBefore(_ context.Context, before time.Time) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range f {
		if m.Settled && m.SettledAt.Before(before) {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakePositions map[string][]domain.Position

func (f fakePositions) ListByMarket(_ context.Context, market string) ([]domain.Position, error) {
	return f[market], nil
}

type countingAudit struct{ events []string }

func (a *countingAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *countingAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func settledAt(t time.Time) *time.Time { return &t }

func TestArchiveSettled(t *testing.T) {
	jan := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	markets := fakeMarkets{
		{Name: "btc-100k", Settled: true, SettledAt: settledAt(jan), YesTotal: 300, NoTotal: 100},
		{Name: "eth/5k", Settled: true, SettledAt: settledAt(jan.AddDate(0, 1, 0))},
		{Name: "open", ExpiresAt: jan},
	}
	positions := fakePositions{
		"btc-100k": {
			{MarketName: "btc-100k", Participant: "alice", Stake: 300, Side: domain.SideYes, Claimed: true, Payout: 400},
			{MarketName: "btc-100k", Participant: "bob", Stake: 100, Side: domain.SideNo},
		},
	}
	blobs := newMemBlobs()
	audit := &countingAudit{}
	a := NewArchiver(blobs, blobs, markets, positions, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	n, err := a.ArchiveSettled(ctx, jan.AddDate(1, 0, 0))
	if err != nil {
		t.Fatalf("ArchiveSettled: %v", err)
	}
	if n != 2 || blobs.puts != 2 {
		t.Fatalf("archived %d (puts %d), want 2", n, blobs.puts)
	}
	if len(audit.events) != 1 || audit.events[0] != "archive.markets" {
		t.Fatalf("audit events = %v", audit.events)
	}

	path := "archive/markets/2025/01/btc-100k.jsonl"
	m, ps, err := a.Load(ctx, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Name != "btc-100k" || m.YesTotal != 300 || len(ps) != 2 || ps[0].Payout != 400 {
		t.Fatalf("loaded %+v %+v", m, ps)
	}
	if _, ok := blobs.objects["archive/markets/2025/02/eth%2F5k.jsonl"]; !ok {
		t.Fatalf("escaped path missing; have %v", blobs.objects)
	}

	// A second run skips what is already archived.
	n, err = a.ArchiveSettled(ctx, jan.AddDate(1, 0, 0))
	if err != nil || n != 0 {
		t.Fatalf("rerun archived %d, err %v", n, err)
	}
	if len(audit.events) != 1 {
		t.Fatalf("rerun logged audit %v", audit.events)
	}

	listed, err := a.Archived(ctx, jan)
	if err != nil || len(listed) != 1 || listed[0].Path != path {
		t.Fatalf("Archived = %v, %v", listed, err)
	}
}

func TestVerify(t *testing.T) {
	jan := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	markets := fakeMarkets{
		{Name: "btc-100k", Settled: true, SettledAt: settledAt(jan), YesTotal: 300, NoTotal: 100},
	}
	positions := fakePositions{
		"btc-100k": {{MarketName: "btc-100k", Participant: "alice", Stake: 300, Side: domain.SideYes}},
	}
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, markets, positions, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	if _, err := a.ArchiveSettled(ctx, jan.AddDate(0, 1, 0)); err != nil {
		t.Fatalf("ArchiveSettled: %v", err)
	}
	ok, err := a.Verify(ctx, jan)
	if err != nil || ok != 1 {
		t.Fatalf("Verify = %d, %v; want 1, nil", ok, err)
	}

	good := blobs.objects["archive/markets/2025/01/btc-100k.jsonl"]
	blobs.objects["archive/markets/2025/01/moved.jsonl"] = good
	blobs.objects["archive/markets/2025/01/garbage.jsonl"] = []byte("not json\n")

	ok, err = a.Verify(ctx, jan)
	if ok != 1 || err == nil {
		t.Fatalf("Verify = %d, %v; want 1 and an error", ok, err)
	}
	for _, bad := range []string{"moved.jsonl", "garbage.jsonl"} {
		if !strings.Contains(err.Error(), bad) {
			t.Errorf("error does not name %s: %v", bad, err)
		}
	}
}

func TestUnmarshalArchive_RequiresMarket(t *testing.T) {
	_, _, err := unmarshalArchive(strings.NewReader(`{"kind":"position","position":{"market":"m"}}` + "\n"))
	if err == nil {
		t.Fatal("expected error for archive without market line")
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		ssl  bool
		want string
	}{
		{"localhost:9000", false, "http://localhost:9000"},
		{"s3.example.com", true, "https://s3.example.com"},
		{"https://already.example", false, "https://already.example"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in, tt.ssl); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.in, tt.ssl, got, tt.want)
		}
	}
}
