package log

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func createTestLogFile(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.klog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create test log: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func readAll(t *testing.T, r *Reader) []Event {
	t.Helper()
	var out []Event
	for {
		e, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		out = append(out, e)
	}
}

func TestReaderIteratesEvents(t *testing.T) {
	events := []Event{
		{Timestamp: time.Now(), ConnectionID: "conn-1", Layer: LayerSocket, Category: CategoryState},
		{Timestamp: time.Now(), ConnectionID: "conn-2", Layer: LayerHandshake, Category: CategoryState},
		{Timestamp: time.Now(), ConnectionID: "conn-3", Layer: LayerOffload, Category: CategoryOffload},
	}
	path := createTestLogFile(t, events)

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	read := readAll(t, reader)
	if len(read) != 3 {
		t.Fatalf("got %d events, want 3", len(read))
	}
	if read[0].ConnectionID != "conn-1" || read[2].ConnectionID != "conn-3" {
		t.Errorf("events out of order: %q .. %q", read[0].ConnectionID, read[2].ConnectionID)
	}
}

func TestReaderHandlesEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.klog")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("Next on empty file: got %v, want io.EOF", err)
	}
}

func TestReaderFilters(t *testing.T) {
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	events := []Event{
		{Timestamp: base, ConnectionID: "a", Layer: LayerHandshake, Category: CategoryState, RemoteAddr: "10.0.0.1:1000"},
		{Timestamp: base.Add(time.Second), ConnectionID: "a", Layer: LayerOffload, Category: CategoryOffload, CipherSuite: "TLS_RSA_WITH_AES_128_GCM_SHA256"},
		{Timestamp: base.Add(2 * time.Second), ConnectionID: "b", Layer: LayerOffload, Category: CategoryError, RemoteAddr: "10.0.0.2:2000"},
		{Timestamp: base.Add(3 * time.Second), ConnectionID: "b", Direction: DirectionOut, Layer: LayerRecord, Category: CategoryTransfer},
	}
	path := createTestLogFile(t, events)

	layer := LayerOffload
	dir := DirectionOut
	start := base.Add(time.Second)
	end := base.Add(3 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"connection", Filter{ConnectionID: "a"}, 2},
		{"layer", Filter{Layer: &layer}, 2},
		{"direction", Filter{Direction: &dir}, 1},
		{"time range", Filter{TimeStart: &start, TimeEnd: &end}, 2},
		{"remote", Filter{RemoteAddr: "10.0.0.2:2000"}, 1},
		{"suite", Filter{CipherSuite: "TLS_RSA_WITH_AES_128_GCM_SHA256"}, 1},
		{"combined", Filter{ConnectionID: "b", Layer: &layer}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := NewFilteredReader(path, tt.filter)
			if err != nil {
				t.Fatalf("NewFilteredReader failed: %v", err)
			}
			defer reader.Close()
			if got := len(readAll(t, reader)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
			if reader.Scanned() != len(events) {
				t.Errorf("scanned %d events, want %d", reader.Scanned(), len(events))
			}
		})
	}
}
