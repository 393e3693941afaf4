package observ

import (
	"sort"
	"strings"
	"sync"
)

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64 // name -> labelsKey -> count
}

var reg = &registry{counters: map[string]map[string]int64{}}

// canonicalize label map so key order is stable
func canonLabels(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(lbl[k])
	}
	return b.String()
}

func IncCounter(name string, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.counters[name]
	if !ok {
		m = map[string]int64{}
		reg.counters[name] = m
	}
	m[canonLabels(labels)]++
}

// Counters returns a copy of all counter values, keyed by name and
// canonicalized labels. The bot is a one-shot process, so the final counter
// dump at exit is the whole telemetry story.
func Counters() map[string]map[string]int64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make(map[string]map[string]int64, len(reg.counters))
	for name, m := range reg.counters {
		c := make(map[string]int64, len(m))
		for k, v := range m {
			c[k] = v
		}
		out[name] = c
	}
	return out
}

// DumpCounters emits every counter as one log line.
func DumpCounters() {
	for name, m := range Counters() {
		for labels, v := range m {
			Log("counter", map[string]any{"name": name, "labels": labels, "value": v})
		}
	}
}
