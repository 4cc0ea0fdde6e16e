package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/civicflow/civicflow/pkg/models"
)

func seedInstance(t *testing.T, store *MemoryStore, id string) *models.Instance {
	t.Helper()
	inst := &models.Instance{
		ID:         id,
		TemplateID: "permit-application",
		Status:     models.InstancePending,
		Context:    map[string]interface{}{"applicant": "alice"},
		TaskStates: map[string]*models.TaskState{
			"intake": {Status: models.TaskPending},
		},
	}
	if err := store.CreateInstance(context.Background(), inst); err != nil {
		t.Fatalf("Failed to create instance: %v", err)
	}
	return inst
}

func TestCreateInstance_Duplicate(t *testing.T) {
	store := NewMemoryStore()
	seedInstance(t, store, "i1")

	err := store.CreateInstance(context.Background(), &models.Instance{ID: "i1"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}
}

func TestLoadInstance_ReturnsIsolatedCopy(t *testing.T) {
	store := NewMemoryStore()
	seedInstance(t, store, "i1")
	ctx := context.Background()

	loaded, err := store.LoadInstance(ctx, "i1")
	if err != nil {
		t.Fatalf("Failed to load instance: %v", err)
	}
	loaded.Context["applicant"] = "mallory"

	again, err := store.LoadInstance(ctx, "i1")
	if err != nil {
		t.Fatalf("Failed to reload instance: %v", err)
	}
	if again.Context["applicant"] != "alice" {
		t.Errorf("Expected stored copy to be unaffected by caller mutation, got %v", again.Context["applicant"])
	}
}

func TestSaveInstance_StaleVersionConflict(t *testing.T) {
	store := NewMemoryStore()
	seedInstance(t, store, "i1")
	ctx := context.Background()

	// Two writers load the same stored version.
	first, err := store.LoadInstance(ctx, "i1")
	if err != nil {
		t.Fatalf("Failed to load instance: %v", err)
	}
	second, err := store.LoadInstance(ctx, "i1")
	if err != nil {
		t.Fatalf("Failed to load instance: %v", err)
	}
	if first.StoreVersion != second.StoreVersion {
		t.Fatalf("Expected both loads at the same version, got %d and %d", first.StoreVersion, second.StoreVersion)
	}

	first.Status = models.InstanceRunning
	if err := store.SaveInstance(ctx, first); err != nil {
		t.Fatalf("Expected first save to succeed, got %v", err)
	}

	second.Status = models.InstanceCancelled
	if err := store.SaveInstance(ctx, second); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict for stale save, got %v", err)
	}

	// The losing write must not have leaked into the store.
	stored, err := store.LoadInstance(ctx, "i1")
	if err != nil {
		t.Fatalf("Failed to reload instance: %v", err)
	}
	if stored.Status != models.InstanceRunning {
		t.Errorf("Expected stored status RUNNING, got %s", stored.Status)
	}
	if stored.StoreVersion != first.StoreVersion {
		t.Errorf("Expected store version %d, got %d", first.StoreVersion, stored.StoreVersion)
	}
}

func TestSaveInstance_ConcurrentWritersOneLoses(t *testing.T) {
	store := NewMemoryStore()
	seedInstance(t, store, "i1")
	ctx := context.Background()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		errs   []error
		copies = make([]*models.Instance, 2)
	)
	for i := range copies {
		inst, err := store.LoadInstance(ctx, "i1")
		if err != nil {
			t.Fatalf("Failed to load instance: %v", err)
		}
		copies[i] = inst
	}

	for _, inst := range copies {
		wg.Add(1)
		go func(inst *models.Instance) {
			defer wg.Done()
			inst.Status = models.InstanceRunning
			err := store.SaveInstance(ctx, inst)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}(inst)
	}
	wg.Wait()

	var conflicts, successes int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Errorf("Unexpected save error: %v", err)
		}
	}
	if successes != 1 || conflicts != 1 {
		t.Errorf("Expected exactly one winner and one conflict, got %d successes and %d conflicts", successes, conflicts)
	}
}

func TestSaveInstance_UnknownInstance(t *testing.T) {
	store := NewMemoryStore()

	err := store.SaveInstance(context.Background(), &models.Instance{ID: "ghost"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
