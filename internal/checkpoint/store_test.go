package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/thyrook/trainkit/internal/schedule"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "ckpt", "train.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecord(epoch int) Record {
	return Record{
		Epoch: epoch,
		Scheduler: schedule.State{
			Family:    schedule.FamilyWarmupCosine,
			LastEpoch: epoch + 1,
			BaseRates: []float64{0.1},
			LastRates: []float64{0.05},
		},
		Loss:          1.0 / float64(epoch+1),
		LearningRates: []float64{0.05},
	}
}

func TestOpenCreatesFile(t *testing.T) {
	store := openTestStore(t)

	if _, err := os.Stat(store.Path()); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestLatestEmpty(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Latest()
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSaveAndLatest(t *testing.T) {
	store := openTestStore(t)

	for epoch := 0; epoch < 3; epoch++ {
		if err := store.Save(testRecord(epoch)); err != nil {
			t.Fatalf("Failed to save epoch %d: %v", epoch, err)
		}
	}

	latest, err := store.Latest()
	if err != nil {
		t.Fatalf("Failed to get latest: %v", err)
	}

	if latest.Epoch != 2 {
		t.Errorf("Expected latest epoch 2, got %d", latest.Epoch)
	}
	if latest.Scheduler.Family != schedule.FamilyWarmupCosine || latest.Scheduler.LastEpoch != 3 {
		t.Errorf("Scheduler state not preserved: %+v", latest.Scheduler)
	}
	if latest.SavedAt.IsZero() {
		t.Error("SavedAt not set")
	}
}

func TestEarlyStoppingFieldsRoundTrip(t *testing.T) {
	store := openTestStore(t)

	best := 0.25
	rec := testRecord(4)
	rec.BestValLoss = &best
	rec.BadEpochs = 3
	rec.Stopped = true
	if err := store.Save(rec); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	if err := store.Save(testRecord(5)); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	got, err := store.Get(4)
	if err != nil {
		t.Fatalf("Failed to get epoch 4: %v", err)
	}
	if got.BestValLoss == nil || *got.BestValLoss != 0.25 {
		t.Errorf("Expected best val loss 0.25, got %v", got.BestValLoss)
	}
	if got.BadEpochs != 3 || !got.Stopped {
		t.Errorf("Early-stopping state not preserved: bad=%d stopped=%v", got.BadEpochs, got.Stopped)
	}

	latest, err := store.Latest()
	if err != nil {
		t.Fatalf("Failed to get latest: %v", err)
	}
	if latest.BestValLoss != nil || latest.Stopped {
		t.Errorf("Expected no early-stopping state on epoch 5, got %+v", latest)
	}
}

func TestGetAndList(t *testing.T) {
	store := openTestStore(t)

	// Saved out of order; List still returns epoch order
	for _, epoch := range []int{5, 1, 300} {
		if err := store.Save(testRecord(epoch)); err != nil {
			t.Fatalf("Failed to save epoch %d: %v", epoch, err)
		}
	}

	rec, err := store.Get(1)
	if err != nil {
		t.Fatalf("Failed to get epoch 1: %v", err)
	}
	if rec.Loss != 0.5 {
		t.Errorf("Expected loss 0.5, got %f", rec.Loss)
	}

	if _, err := store.Get(2); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing epoch, got %v", err)
	}

	records, err := store.List()
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	for i, want := range []int{1, 5, 300} {
		if records[i].Epoch != want {
			t.Errorf("Record %d: expected epoch %d, got %d", i, want, records[i].Epoch)
		}
	}

	// Latest follows save order, not epoch order
	latest, err := store.Latest()
	if err != nil {
		t.Fatalf("Failed to get latest: %v", err)
	}
	if latest.Epoch != 300 {
		t.Errorf("Expected latest epoch 300, got %d", latest.Epoch)
	}
}

func TestSaveRejectsNegativeEpoch(t *testing.T) {
	store := openTestStore(t)

	if err := store.Save(Record{Epoch: -1}); err == nil {
		t.Error("Expected error for negative epoch")
	}
}

func TestReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	if err := store.Save(testRecord(4)); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	latest, err := reopened.Latest()
	if err != nil {
		t.Fatalf("Failed to get latest: %v", err)
	}
	if latest.Epoch != 4 {
		t.Errorf("Expected epoch 4, got %d", latest.Epoch)
	}
}

func TestClosedStore(t *testing.T) {
	store := openTestStore(t)
	store.Close()

	if err := store.Save(testRecord(0)); err == nil {
		t.Error("Expected error saving to closed store")
	}
	if _, err := store.Latest(); err == nil {
		t.Error("Expected error reading closed store")
	}
}
