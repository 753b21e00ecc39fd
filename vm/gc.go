package vm

import (
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Mark/sweep garbage collector
// ---------------------------------------------------------------------------

// GCObject is anything the collector can track: values and variables. Each
// object enumerates its outbound edges so the mark phase can traverse shared
// handles, including cyclic ones.
type GCObject interface {
	References() []GCObject
	marked() bool
	setMarked(bool)
}

// RootSource supplies roots the collector cannot see by itself; the VM
// registers one that walks every variable of every live scope and every
// pending iterator frame.
type RootSource interface {
	GCRoots() []GCObject
}

// DefaultGCThreshold is the live-allocation high-water mark above which
// MaybeCollect triggers a collection.
const DefaultGCThreshold = 16 * 1024

var gcLog = commonlog.GetLogger("vm.gc")

// Collector is a non-moving mark/sweep collector. Objects register at
// allocation; roots are the union of registered root containers (the
// evaluation stack and call-frame argument buffers), pinned objects, and
// whatever the registered root sources report.
type Collector struct {
	objects    map[GCObject]struct{}
	containers map[*[]*Value]struct{}
	pins       map[GCObject]int
	sources    []RootSource

	enabled     bool
	threshold   int
	collected   uint64
	collections uint64
}

// NewCollector creates a collector with the default threshold.
func NewCollector() *Collector {
	return &Collector{
		objects:    make(map[GCObject]struct{}),
		containers: make(map[*[]*Value]struct{}),
		pins:       make(map[GCObject]int),
		enabled:    true,
		threshold:  DefaultGCThreshold,
	}
}

// Enabled reports whether collection is active.
func (gc *Collector) Enabled() bool {
	return gc.enabled
}

// SetEnabled switches collection on or off; a disabled collector still
// tracks allocations so a later Collect sees the full object set.
func (gc *Collector) SetEnabled(enabled bool) {
	gc.enabled = enabled
}

// Threshold returns the MaybeCollect high-water mark.
func (gc *Collector) Threshold() int {
	return gc.threshold
}

// SetThreshold configures the MaybeCollect high-water mark.
func (gc *Collector) SetThreshold(n int) {
	if n > 0 {
		gc.threshold = n
	}
}

// Allocate registers a value with the collector and returns it.
func (gc *Collector) Allocate(v *Value) *Value {
	if v != nil {
		gc.objects[v] = struct{}{}
	}
	return v
}

// AllocateVariable registers a variable with the collector and returns it.
func (gc *Collector) AllocateVariable(v *Variable) *Variable {
	if v != nil {
		gc.objects[v] = struct{}{}
	}
	return v
}

// AddRootContainer registers a vector of values whose every entry is a root.
func (gc *Collector) AddRootContainer(c *[]*Value) {
	gc.containers[c] = struct{}{}
}

// RemoveRootContainer unregisters a root container.
func (gc *Collector) RemoveRootContainer(c *[]*Value) {
	delete(gc.containers, c)
}

// AddRoot pins an object; used by native built-ins while they hold values
// outside any container the collector can see. Pins nest.
func (gc *Collector) AddRoot(obj GCObject) {
	gc.pins[obj]++
}

// RemoveRoot releases one pin of the object.
func (gc *Collector) RemoveRoot(obj GCObject) {
	if n := gc.pins[obj]; n > 1 {
		gc.pins[obj] = n - 1
	} else {
		delete(gc.pins, obj)
	}
}

// AddRootSource registers a dynamic supplier of roots.
func (gc *Collector) AddRootSource(src RootSource) {
	gc.sources = append(gc.sources, src)
}

// Live returns the number of registered objects.
func (gc *Collector) Live() int {
	return len(gc.objects)
}

// Collections returns how many sweeps have run.
func (gc *Collector) Collections() uint64 {
	return gc.collections
}

// TotalCollected returns the cumulative number of released objects.
func (gc *Collector) TotalCollected() uint64 {
	return gc.collected
}

// Tracked reports whether the object is currently registered.
func (gc *Collector) Tracked(obj GCObject) bool {
	_, ok := gc.objects[obj]
	return ok
}

// MaybeCollect runs a collection when live allocation exceeds the threshold.
// The VM calls this only at well-defined instructions (scope pops, deep
// unwinds, returns), never mid-instruction.
func (gc *Collector) MaybeCollect() {
	if gc.enabled && len(gc.objects) > gc.threshold {
		gc.Collect()
	}
}

// Collect performs a full mark/sweep pass.
func (gc *Collector) Collect() {
	if !gc.enabled {
		return
	}
	for obj := range gc.objects {
		obj.setMarked(false)
	}

	var work []GCObject
	push := func(obj GCObject) {
		if obj != nil && !obj.marked() {
			obj.setMarked(true)
			work = append(work, obj)
		}
	}

	for c := range gc.containers {
		for _, v := range *c {
			if v != nil {
				push(v)
			}
		}
	}
	for obj := range gc.pins {
		push(obj)
	}
	for _, src := range gc.sources {
		for _, obj := range src.GCRoots() {
			push(obj)
		}
	}

	for len(work) > 0 {
		obj := work[len(work)-1]
		work = work[:len(work)-1]
		for _, ref := range obj.References() {
			push(ref)
		}
	}

	swept := 0
	for obj := range gc.objects {
		if !obj.marked() {
			delete(gc.objects, obj)
			swept++
		}
	}
	gc.collected += uint64(swept)
	gc.collections++

	gcLog.Debugf("collected %d objects, %d live", swept, len(gc.objects))
}
