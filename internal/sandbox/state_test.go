package sandbox

import (
	"testing"
	"time"
)

func TestStateLoadSave(t *testing.T) {
	dir := t.TempDir()

	state := &State{Instance: &Record{
		ID:       "01HZX",
		Engine:   "docker",
		Name:     "sp-demo-01hzx",
		Workdir:  "/tmp/demo",
		Ports:    map[int]int{3000: 49321},
		BootedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}}

	if err := SaveState(dir, state); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	loaded, err := LoadState(dir)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}

	rec := loaded.Instance
	if rec == nil {
		t.Fatal("instance not found in loaded state")
	}
	if rec.Name != "sp-demo-01hzx" {
		t.Errorf("Name = %q, want %q", rec.Name, "sp-demo-01hzx")
	}
	if rec.Engine != "docker" {
		t.Errorf("Engine = %q, want %q", rec.Engine, "docker")
	}
	if rec.Ports[3000] != 49321 {
		t.Errorf("Ports[3000] = %d, want %d", rec.Ports[3000], 49321)
	}
	if !rec.BootedAt.Equal(state.Instance.BootedAt) {
		t.Errorf("BootedAt = %v, want %v", rec.BootedAt, state.Instance.BootedAt)
	}
}

func TestStateLoadMissing(t *testing.T) {
	dir := t.TempDir()
	state, err := LoadState(dir)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if state.Instance != nil {
		t.Errorf("expected empty state, got %+v", state.Instance)
	}
}
