package memory

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestRegistry_AddRemove(t *testing.T) {
	p, _ := NewFilePersister(t.TempDir())
	r, err := NewRegistry(p, DocIgnores)
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}

	added, err := r.Add("Spammer")
	if err != nil || !added {
		t.Fatalf("Add = %v, %v", added, err)
	}
	if added, _ := r.Add("spammer"); added {
		t.Error("duplicate add should report false")
	}
	if !r.Contains("SPAMMER") {
		t.Error("Contains should be case-insensitive")
	}
	if got := strings.Join(r.Members(), ","); got != "Spammer" {
		t.Errorf("Members = %q", got)
	}

	removed, err := r.Remove("spammer")
	if err != nil || !removed {
		t.Fatalf("Remove = %v, %v", removed, err)
	}
	if removed, _ := r.Remove("spammer"); removed {
		t.Error("second remove should report false")
	}
	if r.Contains("spammer") {
		t.Error("still present after remove")
	}
}

func TestRegistry_Persisted(t *testing.T) {
	p, _ := NewFilePersister(t.TempDir())
	r, _ := NewRegistry(p, DocOptouts)
	_, _ = r.Add("zed")
	_, _ = r.Add("amy")

	again, err := NewRegistry(p, DocOptouts)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(again.Members(), ","); got != "amy,zed" {
		t.Errorf("Members = %q", got)
	}
}

func TestRegistry_IgnoresBlank(t *testing.T) {
	p, _ := NewFilePersister(t.TempDir())
	r, _ := NewRegistry(p, DocIgnores)
	if added, _ := r.Add("   "); added {
		t.Error("blank nick should not be added")
	}
	if r.Len() != 0 {
		t.Errorf("len = %d", r.Len())
	}
}

func TestWatchRegistries_ReloadsExternalEdit(t *testing.T) {
	p, _ := NewFilePersister(t.TempDir())
	r, _ := NewRegistry(p, DocIgnores)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := WatchRegistries(ctx, p, nil, r); err != nil {
		t.Fatalf("WatchRegistries error: %v", err)
	}

	if err := os.WriteFile(p.Path(DocIgnores), []byte(`["troll"]`), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r.Contains("troll") {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("registry was not reloaded after external edit")
}

func TestRegistry_FailedSaveRollsBack(t *testing.T) {
	p := &failingPersister{}
	r, err := NewRegistry(p, DocIgnores)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Add("alice"); err != nil {
		t.Fatal(err)
	}

	p.fail = true
	if added, err := r.Add("bob"); err == nil || added {
		t.Errorf("Add = %v, %v; want false and an error", added, err)
	}
	if r.Contains("bob") {
		t.Error("bob kept after failed save")
	}
	if removed, err := r.Remove("alice"); err == nil || removed {
		t.Errorf("Remove = %v, %v; want false and an error", removed, err)
	}
	if !r.Contains("alice") {
		t.Error("alice dropped after failed save")
	}
}
