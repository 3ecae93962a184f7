package audit_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tenantcrm/crm/internal/audit"
	"github.com/tenantcrm/crm/internal/db/models"
)

func entry(id string, severity models.Severity) *models.AuditEntry {
	return &models.AuditEntry{
		ID:             id,
		OrganizationID: "org-1",
		EntityType:     models.EntityMember,
		EntityID:       "member-1",
		Action:         models.ActionUpdate,
		ActorID:        "member-2",
		ActorType:      models.ActorHuman,
		Severity:       severity,
		Description:    "Updated member (role)",
	}
}

// ---------------------------------------------------------------------------
// MultiShipper
// ---------------------------------------------------------------------------

func TestNewMultiShipper_Empty(t *testing.T) {
	ms, err := audit.NewMultiShipper(nil)
	if err != nil {
		t.Fatalf("NewMultiShipper(nil) error: %v", err)
	}
	if ms.Len() != 0 {
		t.Errorf("Len() = %d, want 0", ms.Len())
	}
	if err := ms.Ship(context.Background(), entry("01A", models.SeverityLow)); err != nil {
		t.Errorf("Ship() on empty multi-shipper = %v, want nil", err)
	}
	if err := ms.Close(); err != nil {
		t.Errorf("Close() on empty multi-shipper = %v, want nil", err)
	}
}

func TestNewMultiShipper_DisabledConfigSkipped(t *testing.T) {
	ms, err := audit.NewMultiShipper([]audit.ShipperConfig{
		{Enabled: false, Type: "webhook", Webhook: &audit.WebhookConfig{URL: "http://example.com"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms.Len() != 0 {
		t.Errorf("Len() = %d, want 0", ms.Len())
	}
}

func TestNewMultiShipper_ConfigErrors(t *testing.T) {
	cases := map[string]audit.ShipperConfig{
		"unknown type":         {Enabled: true, Type: "syslog"},
		"webhook without conf": {Enabled: true, Type: "webhook"},
		"file without conf":    {Enabled: true, Type: "file"},
		"webhook without url":  {Enabled: true, Type: "webhook", Webhook: &audit.WebhookConfig{}},
		"bad min severity":     {Enabled: true, Type: "file", MinSeverity: "urgent", File: &audit.FileConfig{Path: "x"}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := audit.NewMultiShipper([]audit.ShipperConfig{cfg}); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestMultiShipper_ContinuesAfterShipperError(t *testing.T) {
	srv1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv1.Close()

	var srv2Count atomic.Int32
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		srv2Count.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv2.Close()

	ms, err := audit.NewMultiShipper([]audit.ShipperConfig{
		{Enabled: true, Type: "webhook", Webhook: &audit.WebhookConfig{URL: srv1.URL, Timeout: time.Second}},
		{Enabled: true, Type: "webhook", Webhook: &audit.WebhookConfig{URL: srv2.URL, Timeout: time.Second}},
	})
	if err != nil {
		t.Fatalf("NewMultiShipper error: %v", err)
	}
	defer ms.Close()

	if err := ms.Ship(context.Background(), entry("01A", models.SeverityHigh)); err == nil {
		t.Error("Ship() = nil, want error from first shipper")
	}
	if got := srv2Count.Load(); got != 1 {
		t.Errorf("second shipper received %d calls, want 1", got)
	}
}

func TestMultiShipper_MinSeverity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "high.log")
	ms, err := audit.NewMultiShipper([]audit.ShipperConfig{
		{Enabled: true, Type: "file", MinSeverity: models.SeverityHigh, File: &audit.FileConfig{Path: path}},
	})
	if err != nil {
		t.Fatalf("NewMultiShipper error: %v", err)
	}

	ctx := context.Background()
	for i, s := range []models.Severity{models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical} {
		if err := ms.Ship(ctx, entry(string(rune('A'+i)), s)); err != nil {
			t.Fatalf("Ship(%s) error: %v", s, err)
		}
	}
	ms.Close()

	data, _ := os.ReadFile(path)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	var got []models.Severity
	for scanner.Scan() {
		var e models.AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		got = append(got, e.Severity)
	}
	if len(got) != 2 || got[0] != models.SeverityHigh || got[1] != models.SeverityCritical {
		t.Errorf("shipped severities = %v, want [high critical]", got)
	}
}

// ---------------------------------------------------------------------------
// WebhookShipper
// ---------------------------------------------------------------------------

func TestWebhookShipper_ShipEntry(t *testing.T) {
	var received bytes.Buffer
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if tok := r.Header.Get("X-Auth-Token"); tok != "secret" {
			t.Errorf("X-Auth-Token = %q, want secret", tok)
		}
		received.ReadFrom(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{
		URL:     srv.URL,
		Timeout: 5 * time.Second,
		Headers: map[string]string{"X-Auth-Token": "secret"},
	})
	if err != nil {
		t.Fatalf("NewWebhookShipper error: %v", err)
	}
	defer ws.Close()

	e := entry("01HZX", models.SeverityHigh)
	if err := ws.Ship(context.Background(), e); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}

	var decoded models.AuditEntry
	if err := json.Unmarshal(received.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if decoded.ID != e.ID || decoded.Description != e.Description {
		t.Errorf("decoded = %+v, want id %s", decoded, e.ID)
	}
}

func TestWebhookShipper_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ws, _ := audit.NewWebhookShipper(&audit.WebhookConfig{URL: srv.URL, Timeout: 5 * time.Second})
	defer ws.Close()

	if err := ws.Ship(context.Background(), entry("01A", models.SeverityLow)); err == nil {
		t.Error("Ship() = nil, want error for 502 response")
	}
}

func TestWebhookShipper_CloseTwice(t *testing.T) {
	ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{URL: "http://localhost:0", Timeout: time.Second, BatchSize: 10})
	if err != nil {
		t.Fatalf("NewWebhookShipper: %v", err)
	}
	if err := ws.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
	ws.Close()
}

func TestWebhookShipper_BatchFlushOnSize(t *testing.T) {
	bodies := make(chan []byte, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		buf.ReadFrom(r.Body)
		w.WriteHeader(http.StatusOK)
		bodies <- buf.Bytes()
	}))
	defer srv.Close()

	ws, _ := audit.NewWebhookShipper(&audit.WebhookConfig{
		URL:           srv.URL,
		Timeout:       5 * time.Second,
		BatchSize:     2,
		FlushInterval: time.Minute,
	})
	defer ws.Close()

	ws.Ship(context.Background(), entry("01A", models.SeverityLow))
	ws.Ship(context.Background(), entry("01B", models.SeverityLow))

	select {
	case body := <-bodies:
		var batch []models.AuditEntry
		if err := json.Unmarshal(body, &batch); err != nil {
			t.Fatalf("unmarshal batch: %v", err)
		}
		if len(batch) != 2 {
			t.Errorf("batch has %d entries, want 2", len(batch))
		}
	case <-time.After(3 * time.Second):
		t.Error("timed out waiting for batch")
	}
}

func TestWebhookShipper_BatchFlushOnInterval(t *testing.T) {
	done := make(chan struct{}, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		done <- struct{}{}
	}))
	defer srv.Close()

	ws, _ := audit.NewWebhookShipper(&audit.WebhookConfig{
		URL:           srv.URL,
		Timeout:       5 * time.Second,
		BatchSize:     100,
		FlushInterval: 50 * time.Millisecond,
	})
	defer ws.Close()

	ws.Ship(context.Background(), entry("01A", models.SeverityLow))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Error("timed out waiting for interval flush")
	}
}

func TestWebhookShipper_BatchFlushOnClose(t *testing.T) {
	done := make(chan struct{}, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		done <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ws, _ := audit.NewWebhookShipper(&audit.WebhookConfig{
		URL:           srv.URL,
		Timeout:       5 * time.Second,
		BatchSize:     100,
		FlushInterval: time.Minute,
	})

	ws.Ship(context.Background(), entry("01A", models.SeverityLow))
	ws.Close()

	select {
	case <-done:
	default:
		t.Error("Close() returned before the queued entry was sent")
	}
}

// ---------------------------------------------------------------------------
// FileShipper
// ---------------------------------------------------------------------------

func TestFileShipper_MultipleEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	fs, err := audit.NewFileShipper(&audit.FileConfig{Path: path})
	if err != nil {
		t.Fatalf("NewFileShipper error: %v", err)
	}
	for _, id := range []string{"01A", "01B", "01C"} {
		if err := fs.Ship(context.Background(), entry(id, models.SeverityMedium)); err != nil {
			t.Fatalf("Ship(%s) error: %v", id, err)
		}
	}
	if err := fs.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}

	data, _ := os.ReadFile(path)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	var ids []string
	for scanner.Scan() {
		var e models.AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		ids = append(ids, e.ID)
	}
	if len(ids) != 3 || ids[0] != "01A" || ids[2] != "01C" {
		t.Errorf("ids = %v, want [01A 01B 01C]", ids)
	}
}

func TestNewFileShipper_InvalidPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodir", "audit.log")
	if _, err := audit.NewFileShipper(&audit.FileConfig{Path: path}); err == nil {
		t.Error("expected error for path with nonexistent parent, got nil")
	}
}

func TestFileShipper_Rotate(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")

	if err := os.WriteFile(logPath, make([]byte, 1*1024*1024+1), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fs, err := audit.NewFileShipper(&audit.FileConfig{Path: logPath, MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewFileShipper: %v", err)
	}
	defer fs.Close()

	if err := fs.Ship(context.Background(), entry("01A", models.SeverityLow)); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}
	if _, err := os.Stat(logPath + ".1"); err != nil {
		t.Errorf("backup .1 missing after rotation: %v", err)
	}
	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatalf("log file missing after rotation: %v", err)
	}
	if info.Size() > 4096 {
		t.Errorf("live file size = %d, want a fresh file", info.Size())
	}
}
