package vm

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Execution profiler
// ---------------------------------------------------------------------------

var profLog = commonlog.GetLogger("vm.profiler")

// cborEncMode is the canonical CBOR encoding used for snapshots, so two
// exports of the same session are byte-identical.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// OpStat aggregates executions of one program counter.
type OpStat struct {
	PC     int    `cbor:"pc"`
	Opcode string `cbor:"opcode"`
	Hits   uint64 `cbor:"hits"`
}

// Snapshot is the exportable state of a profiling session.
type Snapshot struct {
	Session     string    `cbor:"session"`
	StartedAt   time.Time `cbor:"started-at"`
	Ops         []OpStat  `cbor:"ops"`
	Collections uint64    `cbor:"gc-collections"`
	Collected   uint64    `cbor:"gc-collected"`
	LiveObjects int       `cbor:"gc-live"`
}

// Profiler counts per-PC executions and collector activity for one VM run.
// It costs one map update per instruction and is only attached under the
// debug flag.
type Profiler struct {
	session   string
	startedAt time.Time
	hits      map[int]*OpStat
	gc        *Collector
}

// NewProfiler creates a profiler bound to the VM's collector.
func NewProfiler(gc *Collector) *Profiler {
	return &Profiler{
		session:   uuid.NewString(),
		startedAt: time.Now(),
		hits:      make(map[int]*OpStat),
		gc:        gc,
	}
}

// Session returns the session identity embedded in snapshots.
func (p *Profiler) Session() string {
	return p.session
}

// Hit records one execution of the instruction at pc.
func (p *Profiler) Hit(pc int, op OpCode) {
	stat, ok := p.hits[pc]
	if !ok {
		stat = &OpStat{PC: pc, Opcode: op.String()}
		p.hits[pc] = stat
	}
	stat.Hits++
}

// Snapshot captures the session state, with ops ordered by PC.
func (p *Profiler) Snapshot() *Snapshot {
	ops := make([]OpStat, 0, len(p.hits))
	for _, stat := range p.hits {
		ops = append(ops, *stat)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].PC < ops[j].PC })

	snap := &Snapshot{
		Session:   p.session,
		StartedAt: p.startedAt,
		Ops:       ops,
	}
	if p.gc != nil {
		snap.Collections = p.gc.Collections()
		snap.Collected = p.gc.TotalCollected()
		snap.LiveObjects = p.gc.Live()
	}
	return snap
}

// MarshalSnapshot serializes a snapshot to canonical CBOR bytes.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("vm: unmarshal snapshot: %w", err)
	}
	return &s, nil
}

// WriteSnapshot exports the current session to a file.
func (p *Profiler) WriteSnapshot(path string) error {
	data, err := MarshalSnapshot(p.Snapshot())
	if err != nil {
		return fmt.Errorf("vm: marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("vm: write snapshot: %w", err)
	}
	profLog.Infof("wrote profile session %s to %s", p.session, path)
	return nil
}
