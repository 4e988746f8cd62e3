package stats

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/google/pprof/profile"
)

// MinPercent is the share below which Format leaves an entry out.
const MinPercent = 1.0

// Format writes the call tree, each level indented by four spaces, and
// then the self time list. Entries under MinPercent of the window are left
// out, along with everything below them in the tree.
func Format(w io.Writer, report Report) error {
	var sb strings.Builder
	formatNode(&sb, report.Tree, 0)
	list := append([]MethodStats{report.Root}, report.Methods...)
	slices.SortStableFunc(list, func(a, b MethodStats) int {
		return cmp.Compare(b.Time, a.Time)
	})
	for _, m := range list {
		formatLine(&sb, m, 0)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func formatNode(sb *strings.Builder, node Node, depth int) {
	if !formatLine(sb, node.MethodStats, depth) {
		return
	}
	for _, child := range node.Children {
		formatNode(sb, child, depth+1)
	}
}

func formatLine(sb *strings.Builder, m MethodStats, depth int) bool {
	if m.Percent < MinPercent {
		return false
	}
	fmt.Fprintf(sb, "%s%.2f%% %.3f ms", strings.Repeat("    ", depth), m.Percent, durationToMs(m.Time))
	if m.ID == 0 {
		sb.WriteString(" " + rootName + "\n")
	} else {
		fmt.Fprintf(sb, " %d calls %s\n", m.Calls, m.Name)
	}
	return true
}

// Profile converts the report to a pprof profile. Every call path is one
// sample whose stack is the path, leaf first, valued with the calls and the
// self time of the path.
func (r Report) Profile() *profile.Profile {
	mapping := &profile.Mapping{ID: 1, File: "methodtrace", HasFunctions: true}
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "calls", Unit: "count"},
			{Type: "time", Unit: "nanoseconds"},
		},
		DefaultSampleType: "time",
		DurationNanos:     int64(r.Elapsed),
		TimeNanos:         time.Now().UnixNano(),
		Mapping:           []*profile.Mapping{mapping},
	}

	locations := make(map[int]*profile.Location)
	location := func(m MethodStats) *profile.Location {
		if loc, found := locations[m.ID]; found {
			return loc
		}
		id := uint64(len(locations) + 1)
		fn := &profile.Function{ID: id, Name: m.Name, SystemName: m.Token.String()}
		loc := &profile.Location{
			ID:      id,
			Mapping: mapping,
			Address: uint64(m.Token.Raw()),
			Line:    []profile.Line{{Function: fn}},
		}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		locations[m.ID] = loc
		return loc
	}

	var walk func(node Node, stack []*profile.Location)
	walk = func(node Node, stack []*profile.Location) {
		stack = append([]*profile.Location{location(node.MethodStats)}, stack...)
		self := node.Time
		for _, child := range node.Children {
			self -= child.Time
			walk(child, stack)
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: stack,
			Value:    []int64{node.Calls, int64(self)},
		})
	}
	for _, child := range r.Tree.Children {
		walk(child, nil)
	}
	return p
}

// WriteProfile writes the report as a gzipped pprof profile.
func (r Report) WriteProfile(w io.Writer) error {
	p := r.Profile()
	if err := p.CheckValid(); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}
	return p.Write(w)
}
