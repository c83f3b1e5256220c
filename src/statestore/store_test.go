package statestore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/src/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "state.json"), 24*time.Hour)
}

func freshState() *model.SessionState {
	return model.NewSessionState("BTCUSDT", d("10000"))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	state := freshState()
	state.Equity = d("10123.45")
	state.ProcessedOrderIDs = []string{"a", "b"}

	if err := store.Save(state); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded := store.Load(freshState)
	if !loaded.Equity.Equal(d("10123.45")) {
		t.Fatalf("equity not round-tripped, got %s", loaded.Equity)
	}
	if len(loaded.ProcessedOrderIDs) != 2 {
		t.Fatalf("processed order IDs lost: %v", loaded.ProcessedOrderIDs)
	}
	if loaded.SavedAt.IsZero() {
		t.Fatalf("SavedAt must be stamped on save")
	}
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	store := newTestStore(t)
	loaded := store.Load(freshState)
	if !loaded.Equity.Equal(d("10000")) {
		t.Fatalf("expected default state, got equity %s", loaded.Equity)
	}
	// a missing file is not corruption, nothing should be preserved
	matches, _ := filepath.Glob(store.Path() + ".corrupt.*")
	if len(matches) != 0 {
		t.Fatalf("missing file must not produce corrupt artifacts: %v", matches)
	}
}

func TestSaveRefusesInvalidState(t *testing.T) {
	store := newTestStore(t)
	state := freshState()
	state.Symbol = ""
	if err := store.Save(state); err == nil {
		t.Fatalf("expected save to refuse invalid state")
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Fatalf("refused save must not create the state file")
	}
}

func TestLoadRecoversFromBackup(t *testing.T) {
	store := newTestStore(t)

	state := freshState()
	state.Equity = d("10500")
	if err := store.Save(state); err != nil {
		t.Fatalf("first save: %v", err)
	}
	state.Equity = d("11000")
	if err := store.Save(state); err != nil {
		t.Fatalf("second save: %v", err)
	}

	// corrupt the main file; backup holds the first save
	if err := os.WriteFile(store.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupting file: %v", err)
	}

	loaded := store.Load(freshState)
	if !loaded.Equity.Equal(d("10500")) {
		t.Fatalf("expected recovery from backup with equity 10500, got %s", loaded.Equity)
	}

	// the corrupt file is preserved, not lost
	matches, err := filepath.Glob(store.Path() + ".corrupt.*")
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one preserved corrupt file, got %v (%v)", matches, err)
	}

	// main file is re-written from backup so the next start reads it directly
	reloaded := store.Load(freshState)
	if !reloaded.Equity.Equal(d("10500")) {
		t.Fatalf("main file not restored from backup, got %s", reloaded.Equity)
	}
}

func TestLoadCorruptMainAndBackupFallsBackToDefault(t *testing.T) {
	store := newTestStore(t)

	if err := os.WriteFile(store.Path(), []byte("garbage"), 0o644); err != nil {
		t.Fatalf("writing main: %v", err)
	}
	if err := os.WriteFile(store.Path()+".bak", []byte("also garbage"), 0o644); err != nil {
		t.Fatalf("writing bak: %v", err)
	}

	loaded := store.Load(freshState)
	if !loaded.Equity.Equal(d("10000")) {
		t.Fatalf("expected default state, got equity %s", loaded.Equity)
	}
}

func TestLoadRejectsValidJSONInvalidState(t *testing.T) {
	store := newTestStore(t)

	// parses as JSON but fails validation (empty symbol)
	if err := os.WriteFile(store.Path(), []byte(`{"symbol":""}`), 0o644); err != nil {
		t.Fatalf("writing main: %v", err)
	}

	loaded := store.Load(freshState)
	if loaded.Symbol != "BTCUSDT" {
		t.Fatalf("semantically invalid state must be treated as corrupt, got %+v", loaded)
	}
}

func TestSaveDoesNotBackupCorruptPrevious(t *testing.T) {
	store := newTestStore(t)

	if err := os.WriteFile(store.Path(), []byte("junk"), 0o644); err != nil {
		t.Fatalf("writing main: %v", err)
	}

	if err := store.Save(freshState()); err != nil {
		t.Fatalf("save over corrupt main: %v", err)
	}

	if data, err := os.ReadFile(store.Path() + ".bak"); err == nil {
		if strings.Contains(string(data), "junk") {
			t.Fatalf("corrupt previous state must not be promoted to backup")
		}
	}
}

func TestLoadPrunesStaleWorkingOrders(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "state.json"), time.Hour)

	state := freshState()
	state.WorkingOrders = []model.WorkingOrder{
		{
			Order:      model.Order{ID: "stale", Symbol: "BTCUSDT", Side: model.SideLong},
			EnqueuedAt: time.Now().Add(-2 * time.Hour),
		},
		{
			Order:      model.Order{ID: "fresh", Symbol: "BTCUSDT", Side: model.SideLong},
			EnqueuedAt: time.Now().Add(-time.Minute),
		},
	}
	if err := store.Save(state); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := store.Load(freshState)
	if len(loaded.WorkingOrders) != 1 {
		t.Fatalf("expected 1 surviving working order, got %d", len(loaded.WorkingOrders))
	}
	if loaded.WorkingOrders[0].Order.ID != "fresh" {
		t.Fatalf("wrong working order survived: %s", loaded.WorkingOrders[0].Order.ID)
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(freshState()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(store.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file must be renamed away after save")
	}
}
