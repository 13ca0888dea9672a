package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type payload struct {
	Rooms []string `json:"rooms"`
}

func newService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	storage, err := NewFileStorage(dir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	svc := NewService(storage, "rooms")
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	calls := 0
	svc.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}
	return svc, dir
}

func TestService_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	svc, dir := newService(t)

	name, err := svc.Save(ctx, payload{Rooms: []string{"r1", "r2"}})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
		t.Fatalf("backup file missing: %v", err)
	}

	var got payload
	snap, err := svc.Load(ctx, name, &got)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if snap.Kind != "rooms" || len(got.Rooms) != 2 || got.Rooms[1] != "r2" {
		t.Errorf("unexpected snapshot %+v payload %+v", snap, got)
	}
}

func TestService_LatestAndPrune(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	if _, err := svc.Latest(ctx); !errors.Is(err, ErrNoBackups) {
		t.Fatalf("expected ErrNoBackups, got %v", err)
	}

	var names []string
	for i := 0; i < 4; i++ {
		name, err := svc.Save(ctx, payload{})
		if err != nil {
			t.Fatalf("save failed: %v", err)
		}
		names = append(names, name)
	}

	latest, err := svc.Latest(ctx)
	if err != nil || latest != names[3] {
		t.Fatalf("latest = %q, %v; want %q", latest, err, names[3])
	}

	deleted, err := svc.Prune(ctx, 2)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted %d, want 2", deleted)
	}
	left, _ := svc.List(ctx)
	if len(left) != 2 || left[0] != names[2] {
		t.Errorf("unexpected remaining backups %v", left)
	}
}

func TestService_LoadRejectsOtherKind(t *testing.T) {
	ctx := context.Background()
	svc, dir := newService(t)
	name, err := svc.Save(ctx, payload{})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	storage, _ := NewFileStorage(dir)
	other := NewService(storage, "boards")
	if _, err := other.Load(ctx, name, nil); err == nil {
		t.Error("expected kind mismatch error")
	}
}

func TestFileStorage_RejectsPathNames(t *testing.T) {
	storage, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	if _, err := storage.Load(context.Background(), "../etc/passwd"); err == nil {
		t.Error("expected error for path traversal")
	}
}
