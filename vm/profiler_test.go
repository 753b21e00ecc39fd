package vm

import (
	"path/filepath"
	"testing"
)

func TestProfilerSnapshotRoundTrip(t *testing.T) {
	gc := NewCollector()
	p := NewProfiler(gc)
	if p.Session() == "" {
		t.Fatal("profiler should carry a session id")
	}

	p.Hit(3, OpPushInt)
	p.Hit(3, OpPushInt)
	p.Hit(1, OpHalt)

	snap := p.Snapshot()
	if len(snap.Ops) != 2 {
		t.Fatalf("ops = %d, want 2", len(snap.Ops))
	}
	if snap.Ops[0].PC != 1 || snap.Ops[1].PC != 3 {
		t.Error("ops should be ordered by PC")
	}
	if snap.Ops[1].Hits != 2 {
		t.Errorf("hits at pc 3 = %d, want 2", snap.Ops[1].Hits)
	}

	data, err := MarshalSnapshot(snap)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := UnmarshalSnapshot(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Session != snap.Session || len(decoded.Ops) != len(snap.Ops) {
		t.Error("snapshot did not survive the round trip")
	}
}

func TestProfilerCanonicalEncoding(t *testing.T) {
	p := NewProfiler(nil)
	p.Hit(0, OpPushInt)

	first, err := MarshalSnapshot(p.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	second, err := MarshalSnapshot(p.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Error("canonical encoding should be deterministic")
	}
}

func TestProfilerWriteSnapshot(t *testing.T) {
	p := NewProfiler(nil)
	p.Hit(0, OpHalt)

	path := filepath.Join(t.TempDir(), "session.cbor")
	if err := p.WriteSnapshot(path); err != nil {
		t.Fatal(err)
	}
}
