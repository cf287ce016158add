package run

import (
	"strings"
	"testing"

	"github.com/ValentinKolb/sgkv/lib/common"
	"github.com/ValentinKolb/sgkv/lib/evctx"
)

func testConfig(slots, events, updateEvery int) *common.Config {
	return &common.Config{
		RunID:           "test",
		NumSlots:        slots,
		NumEvents:       events,
		ObjectsPerEvent: 8,
		UpdateEvery:     updateEvery,
		LogLevel:        "error",
	}
}

func TestEventLoopRun(t *testing.T) {
	tests := []struct {
		name        string
		slots       int
		events      int
		updateEvery int
		published   int
	}{
		{"single slot", 1, 20, 5, 3},
		{"many slots", 4, 100, 10, 9},
		{"no updates", 3, 30, 0, 0},
		{"no events", 2, 0, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := newEventLoop(testConfig(tt.slots, tt.events, tt.updateEvery))
			if err != nil {
				t.Fatal(err)
			}
			defer l.Close()

			report, err := l.Run()
			if err != nil {
				t.Fatal(err)
			}
			if report.Published != tt.published {
				t.Errorf("expected %d published versions, got %d", tt.published, report.Published)
			}
			if tt.events > 0 && report.TotalEnergy <= 0 {
				t.Errorf("events should deposit energy, got %f", report.TotalEnergy)
			}

			// every slot store is empty after its event
			for slot := 0; slot < tt.slots; slot++ {
				keys, err := l.events.Keys(evctx.New(slot, 0), hitCollectionCLID, true, false)
				if err != nil || len(keys) != 0 {
					t.Errorf("slot %d still holds %v (%v)", slot, keys, err)
				}
			}

			if err := l.Finalize(report); err != nil {
				t.Fatal(err)
			}
			if report.Reclaimed != report.Published || report.PendingGarbage != 0 {
				t.Errorf("expected all %d replaced versions reclaimed, got %d (pending %d)",
					report.Published, report.Reclaimed, report.PendingGarbage)
			}
			if ok, _ := l.detector.Contains(evctx.None, geometryCLID, geometryKey); ok {
				t.Error("finalize should remove the geometry")
			}
		})
	}
}

func TestEventLoopDump(t *testing.T) {
	cfg := testConfig(2, 10, 0)
	cfg.Dump = true
	l, err := newEventLoop(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	report, err := l.Run()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"HitCollection", hitsKey, infoKey} {
		if !strings.Contains(report.Dump, want) {
			t.Errorf("dump should mention %q:\n%s", want, report.Dump)
		}
	}
	if !strings.Contains(report.String(), "Conditions Published") {
		t.Errorf("unexpected report:\n%s", report.String())
	}
}

func TestFinalizeTwice(t *testing.T) {
	l, err := newEventLoop(testConfig(2, 4, 1))
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	report, err := l.Run()
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Finalize(nil); err != nil {
		t.Fatal(err)
	}
	if err := l.Finalize(report); err != nil {
		t.Errorf("a second finalize should be a no-op, got %v", err)
	}
	if report.Reclaimed != report.Published {
		t.Errorf("expected %d reclaimed, got %d", report.Published, report.Reclaimed)
	}
}
