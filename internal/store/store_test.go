package store

import (
	"os"
	"testing"
	"time"

	"github.com/mblsha/diagforge/internal/config"
	"github.com/mblsha/diagforge/internal/job"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.Default()
	cfg.BaseDir = t.TempDir()
	s := New(cfg)
	if err := s.EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	return s
}

func TestStore_SaveLoadAll(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, id := range []string{"b", "a", "c"} {
		if err := s.CreateJobLayout(id); err != nil {
			t.Fatalf("layout %s: %v", id, err)
		}
		rec := job.New(id, []string{"core"}, base.Add(time.Duration(i)*time.Second))
		if err := s.Save(rec); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	recs, err := s.LoadAll()
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(recs) != 3 || recs[0].ID != "b" || recs[2].ID != "c" {
		t.Fatalf("expected creation order b,a,c; got %d records starting %q", len(recs), recs[0].ID)
	}
	if _, err := os.Stat(s.StatePath("a") + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary state file left behind")
	}
}

func TestStore_LoadAllMissingDir(t *testing.T) {
	cfg := config.Default()
	cfg.BaseDir = t.TempDir() + "/missing"
	recs, err := New(cfg).LoadAll()
	if err != nil || recs != nil {
		t.Fatalf("expected no records and no error, got %v %v", recs, err)
	}
}

func TestStore_Diagnostics(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateJobLayout("j1"); err != nil {
		t.Fatalf("layout: %v", err)
	}
	if _, err := s.LoadDiagnostics("j1"); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist before save, got %v", err)
	}
	report := job.DiagnosticsReport{
		Schema:     1,
		ErrorCount: 1,
		Diagnostics: []job.Diagnostic{
			{Severity: job.SeverityError, Message: "boom", File: "src/lib.rs", Line: 3},
		},
	}
	if err := s.SaveDiagnostics("j1", report); err != nil {
		t.Fatalf("save diagnostics: %v", err)
	}
	got, err := s.LoadDiagnostics("j1")
	if err != nil {
		t.Fatalf("load diagnostics: %v", err)
	}
	if got.ErrorCount != 1 || len(got.Diagnostics) != 1 || got.Diagnostics[0].File != "src/lib.rs" {
		t.Fatalf("unexpected report: %+v", got)
	}
}
