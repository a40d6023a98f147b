package collector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"edgenode/internal/format"
	"edgenode/internal/reading"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenDB(":memory:")
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close db: %v", err)
		}
	})
	return db
}

type recordingObserver struct {
	mu      sync.Mutex
	results []string
}

func (o *recordingObserver) ObserveMessage(transport, result string) {
	o.mu.Lock()
	o.results = append(o.results, transport+":"+result)
	o.mu.Unlock()
}

func (o *recordingObserver) all() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string{}, o.results...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	if err := Migrate(db); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 2 {
		t.Errorf("schema_migrations rows = %d, want 2", n)
	}
}

func TestOpenDB_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "collector.db")
	db, err := OpenDB(path)
	if err != nil {
		t.Fatalf("OpenDB(%q): %v", path, err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "file:/data/c.db", want: "file:/data/c.db?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"},
		{in: "file:/data/c.db?cache=shared", want: "file:/data/c.db?cache=shared&_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"},
		{in: ":memory:", want: "file::memory:?_foreign_keys=on"},
	}
	for _, tt := range tests {
		got, err := buildDSN(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("buildDSN(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestStore_InsertAndLatest(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, src := range []string{"10.0.0.5", "10.0.0.6", "10.0.0.5"} {
		_, err := store.Insert(ctx, Record{
			Source:     src,
			Transport:  TransportUDP,
			Variant:    "climate",
			Raw:        "온도: 21.00 C / 습도: 40.00 %",
			Fields:     []reading.Field{{Quantity: reading.Temperature, Value: 21 + float64(i), Unit: reading.UnitCelsius}, {Quantity: reading.Humidity, Value: 40, Unit: reading.UnitPercent}},
			ReceivedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	all, err := store.Latest(ctx, "", 10)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Latest returned %d, want 3", len(all))
	}
	if got := all[0].Fields[0].Value; got != 23 {
		t.Errorf("newest temperature = %v, want 23", got)
	}
	if len(all[0].Fields) != 2 || all[0].Fields[1].Quantity != reading.Humidity {
		t.Errorf("fields = %+v", all[0].Fields)
	}
	if !all[0].ReceivedAt.Equal(base.Add(2 * time.Second)) {
		t.Errorf("ReceivedAt = %v", all[0].ReceivedAt)
	}
	if _, err := uuid.Parse(all[0].ID); err != nil {
		t.Errorf("ID %q is not a uuid: %v", all[0].ID, err)
	}

	one, err := store.Latest(ctx, "10.0.0.5", 1)
	if err != nil {
		t.Fatalf("Latest(source): %v", err)
	}
	if len(one) != 1 || one[0].Source != "10.0.0.5" || one[0].Fields[0].Value != 23 {
		t.Errorf("Latest(source) = %+v", one)
	}

	n, err := store.Count(ctx)
	if err != nil || n != 3 {
		t.Errorf("Count = %d, %v; want 3", n, err)
	}
}

func TestIngester_Handle(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	obs := &recordingObserver{}
	in := NewIngester(store, obs, quietLogger())
	ctx := context.Background()

	tests := []struct {
		name        string
		line        string
		wantVariant string
		wantErr     error
	}{
		{name: "moisture", line: "토양 수분: 612", wantVariant: "moisture"},
		{name: "climate with newline", line: "온도: 23.46 C / 습도: 51.00 %\n", wantVariant: "climate"},
		{name: "distance", line: "거리: 12.34 cm", wantVariant: "distance"},
		{name: "garbage", line: "hello", wantErr: format.ErrUnrecognized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := in.Handle(ctx, TransportUDP, "10.0.0.9", tt.line)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || !IsUnrecognized(err) {
					t.Fatalf("Handle() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if rec.Variant != tt.wantVariant || rec.ID == "" {
				t.Errorf("record = %+v", rec)
			}
		})
	}

	var unparsed int
	if err := db.QueryRow(`SELECT COUNT(*) FROM unparsed_messages`).Scan(&unparsed); err != nil {
		t.Fatalf("count unparsed: %v", err)
	}
	if unparsed != 1 {
		t.Errorf("unparsed rows = %d, want 1", unparsed)
	}
	want := []string{"udp:ok", "udp:ok", "udp:ok", "udp:unrecognized"}
	got := obs.all()
	if len(got) != len(want) {
		t.Fatalf("observed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("observed[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIngester_EmptyLineIgnored(t *testing.T) {
	obs := &recordingObserver{}
	in := NewIngester(NewStore(setupTestDB(t)), obs, quietLogger())
	if _, err := in.Handle(context.Background(), TransportTCP, "x", "\r\n"); err != nil {
		t.Fatalf("Handle(empty) error = %v", err)
	}
	if len(obs.all()) != 0 {
		t.Errorf("empty line was observed: %v", obs.all())
	}
}

func TestListener_UDPAndTCPLinesAreStored(t *testing.T) {
	store := NewStore(setupTestDB(t))
	in := NewIngester(store, nil, quietLogger())

	l, err := Listen("127.0.0.1:0", in)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()

	udp, err := net.Dial("udp", l.UDPAddr().String())
	if err != nil {
		t.Fatalf("dial udp: %v", err)
	}
	if _, err := udp.Write([]byte("토양 수분: 512")); err != nil {
		t.Fatalf("write udp: %v", err)
	}
	udp.Close()

	tcp, err := net.Dial("tcp", l.TCPAddr().String())
	if err != nil {
		t.Fatalf("dial tcp: %v", err)
	}
	if _, err := tcp.Write([]byte("거리: 99.10 cm")); err != nil {
		t.Fatalf("write tcp: %v", err)
	}
	tcp.Close()

	deadline := time.Now().Add(3 * time.Second)
	var recs []Record
	for time.Now().Before(deadline) {
		recs, err = store.Latest(context.Background(), "", 10)
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if len(recs) == 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(recs) != 2 {
		t.Fatalf("stored %d records, want 2", len(recs))
	}
	transports := map[string]string{}
	for _, r := range recs {
		transports[r.Transport] = r.Variant
		if r.Source != "127.0.0.1" {
			t.Errorf("source = %q, want 127.0.0.1", r.Source)
		}
	}
	if transports[TransportUDP] != "moisture" || transports[TransportTCP] != "distance" {
		t.Errorf("transports = %v", transports)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not stop")
	}
}

func TestNodeFromTopic(t *testing.T) {
	tests := map[string]string{
		"nodes/greenhouse-1/telemetry": "greenhouse-1",
		"nodes//telemetry":             "nodes//telemetry",
		"other/topic":                  "other/topic",
	}
	for in, want := range tests {
		if got := nodeFromTopic(in); got != want {
			t.Errorf("nodeFromTopic(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHTTP_Healthz(t *testing.T) {
	h := NewMux(NewStore(setupTestDB(t)), nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestHTTP_HealthzDatabaseDown(t *testing.T) {
	db, err := OpenDB(":memory:")
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	db.Close()

	rec := httptest.NewRecorder()
	NewMux(NewStore(db), nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestHTTP_Latest(t *testing.T) {
	store := NewStore(setupTestDB(t))
	in := NewIngester(store, nil, quietLogger())
	ctx := context.Background()
	for _, line := range []string{"토양 수분: 500", "토양 수분: 501", "토양 수분: 502"} {
		if _, err := in.Handle(ctx, TransportUDP, "10.0.0.7", line); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	h := NewMux(store, prometheus.NewRegistry())

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantCount  int
	}{
		{name: "default", target: "/readings/latest", wantStatus: http.StatusOK, wantCount: 3},
		{name: "limit", target: "/readings/latest?limit=2", wantStatus: http.StatusOK, wantCount: 2},
		{name: "unknown source", target: "/readings/latest?source=10.9.9.9", wantStatus: http.StatusOK, wantCount: 0},
		{name: "bad limit", target: "/readings/latest?limit=abc", wantStatus: http.StatusBadRequest},
		{name: "limit too large", target: "/readings/latest?limit=501", wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var body latestResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Count != tt.wantCount || len(body.Readings) != tt.wantCount {
				t.Errorf("count = %d (%d readings), want %d", body.Count, len(body.Readings), tt.wantCount)
			}
		})
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/metrics status = %d", rec.Code)
	}
}
