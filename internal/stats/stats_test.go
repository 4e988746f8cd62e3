package stats

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"methodtrace/internal/clock"
	"methodtrace/internal/metadata"
	"methodtrace/internal/signature"
	"methodtrace/internal/trampoline"
)

func TestBin(t *testing.T) {
	for _, test := range []struct {
		ms   float64
		want int
	}{
		{0, 0},
		{0.1, 0},
		{1, 30},
		{10, 60},
		{100, 90},
		{1e9, histogramBins - 1},
	} {
		assert.Equal(t, test.want, bin(test.ms), "bin(%v)", test.ms)
	}
}

func TestRegisterDuration(t *testing.T) {
	s := NewTimeStatistics("checkout")

	// The first sample is the max.
	assert.True(t, s.RegisterDuration(5*time.Millisecond))
	assert.False(t, s.RegisterDuration(time.Millisecond))
	assert.True(t, s.RegisterDuration(100*time.Millisecond), "a new max is slow")

	s = NewTimeStatistics("steady")
	for range 20 {
		s.RegisterDuration(time.Millisecond)
	}
	assert.True(t, s.RegisterDuration(2*time.Millisecond), "above p95")
	assert.False(t, s.RegisterDuration(time.Millisecond))

	snap := s.Snapshot()
	assert.Equal(t, "steady", snap.Key)
	assert.Equal(t, 22, snap.Count)
	assert.Equal(t, time.Millisecond, snap.Percentile95)
	assert.Equal(t, 2*time.Millisecond, snap.Max)
	assert.Equal(t, "key: steady, count: 22, p95: 1.000 ms, max: 2.000 ms", snap.String())
}

func TestRegisterDurationConcurrent(t *testing.T) {
	s := NewTimeStatistics("parallel")
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				s.RegisterDuration(time.Millisecond)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, s.Snapshot().Count)
}

func TestCollectorIDsAreDense(t *testing.T) {
	c := NewCollector(nil)
	a := metadata.NewToken(metadata.KindMethodDef, 10)
	b := metadata.NewToken(metadata.KindMethodDef, 4)

	assert.Equal(t, 1, c.Register(a))
	assert.Equal(t, 2, c.Register(b))
	assert.Equal(t, 1, c.Register(a))

	got, ok := c.Method(2)
	require.True(t, ok)
	assert.Equal(t, b, got)
	_, ok = c.Method(3)
	assert.False(t, ok)
	_, ok = c.Method(0)
	assert.False(t, ok)
}

func newWrapper(t *testing.T, c *Collector) func(token metadata.Token, fn func()) func() {
	return func(token metadata.Token, fn func()) func() {
		wrapped, err := trampoline.Synthesize(signature.CallShape{}, token, fn, c)
		require.NoError(t, err)
		return wrapped.(func())
	}
}

func TestCollectorThroughTrampoline(t *testing.T) {
	catalog := metadata.NewCatalog()
	slowToken, err := catalog.DefineFunc(metadata.NilToken, "Slow", false, func() {})
	require.NoError(t, err)
	fastToken, err := catalog.DefineFunc(metadata.NilToken, "Fast", false, func() {})
	require.NoError(t, err)

	c := NewCollector(catalog)
	wrap := newWrapper(t, c)
	slow := wrap(slowToken, func() { time.Sleep(5 * time.Millisecond) })
	fast := wrap(fastToken, func() {})

	slow()
	for range 3 {
		fast()
	}

	report := c.Report()
	require.Len(t, report.Methods, 2)
	assert.Equal(t, "Slow", report.Methods[0].Name)
	assert.EqualValues(t, 1, report.Methods[0].Calls)
	assert.GreaterOrEqual(t, report.Methods[0].Time, 5*time.Millisecond)
	assert.Equal(t, "Fast", report.Methods[1].Name)
	assert.EqualValues(t, 3, report.Methods[1].Calls)
	assert.GreaterOrEqual(t, report.Elapsed, report.Methods[0].Time)
	assert.Greater(t, report.Methods[0].Percent, 0.0)
	require.Len(t, report.Tree.Children, 2)
	assert.Equal(t, "Slow", report.Tree.Children[0].Name)

	c.Reset()
	assert.Empty(t, c.Report().Methods)
	assert.Equal(t, 1, c.Register(slowToken), "ids survive a reset")
}

func TestCollectorNestedCalls(t *testing.T) {
	catalog := metadata.NewCatalog()
	outerToken, err := catalog.DefineFunc(metadata.NilToken, "Outer", false, func() {})
	require.NoError(t, err)
	innerToken, err := catalog.DefineFunc(metadata.NilToken, "Inner", false, func() {})
	require.NoError(t, err)

	c := NewCollector(catalog)
	wrap := newWrapper(t, c)
	inner := wrap(innerToken, func() { time.Sleep(20 * time.Millisecond) })
	outer := wrap(outerToken, func() {
		inner()
		time.Sleep(10 * time.Millisecond)
	})

	outer()
	inner()
	report := c.Report()

	// The tree keeps inner below outer and at the top level as separate
	// paths.
	require.Len(t, report.Tree.Children, 2)
	outerNode := report.Tree.Children[0]
	assert.Equal(t, "Outer", outerNode.Name)
	require.Len(t, outerNode.Children, 1)
	nested := outerNode.Children[0]
	assert.Equal(t, "Inner", nested.Name)
	assert.EqualValues(t, 1, nested.Calls)
	assert.Less(t, nested.Time, outerNode.Time)
	assert.Equal(t, "Inner", report.Tree.Children[1].Name)
	assert.Empty(t, report.Tree.Children[1].Children)

	// The list holds self time, so nothing is counted twice.
	byName := map[string]MethodStats{}
	var sum float64
	for _, m := range report.Methods {
		byName[m.Name] = m
		sum += m.Percent
	}
	sum += report.Root.Percent
	assert.InDelta(t, 100, sum, 0.01)
	assert.EqualValues(t, 2, byName["Inner"].Calls)
	assert.Equal(t, outerNode.Time-nested.Time, byName["Outer"].Time)
	assert.Equal(t, nested.Time+report.Tree.Children[1].Time, byName["Inner"].Time)
	assert.GreaterOrEqual(t, byName["Outer"].Time, 10*time.Millisecond)
	assert.Equal(t, report.Elapsed-outerNode.Time-report.Tree.Children[1].Time, report.Root.Time)
}

func TestCollectorGoroutinesHaveOwnPaths(t *testing.T) {
	c := NewCollector(nil)
	outer := metadata.NewToken(metadata.KindMethodDef, 1)
	inner := metadata.NewToken(metadata.KindMethodDef, 2)

	entered := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		start := c.OnEnter(outer)
		close(entered)
		<-release
		c.OnExit(outer, start)
	}()

	// Another goroutine's open call does not become the parent.
	<-entered
	c.OnExit(inner, c.OnEnter(inner))
	close(release)
	wg.Wait()

	report := c.Report()
	require.Len(t, report.Tree.Children, 2)
	for _, node := range report.Tree.Children {
		assert.Empty(t, node.Children, "%s", node.Name)
	}
	assert.Zero(t, lenCursors(c), "idle goroutines are forgotten")
}

func lenCursors(c *Collector) int {
	n := 0
	c.cursors.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

func TestCollectorCapture(t *testing.T) {
	c := NewCollector(nil)
	outer := metadata.NewToken(metadata.KindMethodDef, 1)
	inner := metadata.NewToken(metadata.KindMethodDef, 2)
	other := metadata.NewToken(metadata.KindMethodDef, 3)

	c.OnExit(other, c.OnEnter(other))

	start := c.OnEnter(outer)
	c.BeginCapture()
	c.OnExit(inner, c.OnEnter(inner))
	c.OnExit(inner, c.OnEnter(inner))
	captured, ok := c.EndCapture()
	c.OnExit(outer, start)

	require.True(t, ok)
	require.Len(t, captured.Methods, 1, "calls before the capture are not in it")
	assert.Equal(t, inner, captured.Methods[0].Token)
	assert.EqualValues(t, 2, captured.Methods[0].Calls)

	// The captured calls still reach the shared tree, below the call that
	// was open when the capture began.
	report := c.Report()
	var outerNode Node
	for _, node := range report.Tree.Children {
		if node.Token == outer {
			outerNode = node
		}
	}
	require.Len(t, outerNode.Children, 1)
	assert.Equal(t, inner, outerNode.Children[0].Token)
	assert.EqualValues(t, 2, outerNode.Children[0].Calls)
	assert.Zero(t, lenCursors(c))

	_, ok = c.EndCapture()
	assert.False(t, ok)
}

func TestCollectorCapturesArePerGoroutine(t *testing.T) {
	c := NewCollector(nil)
	var wg sync.WaitGroup
	reports := make([]Report, 4)
	for i := range reports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token := metadata.NewToken(metadata.KindMethodDef, uint32(i+1))
			c.BeginCapture()
			for range 10 * (i + 1) {
				c.OnExit(token, c.OnEnter(token))
			}
			c.Reset()
			reports[i], _ = c.EndCapture()
		}()
	}
	wg.Wait()

	for i, report := range reports {
		require.Len(t, report.Methods, 1)
		assert.EqualValues(t, 10*(i+1), report.Methods[0].Calls)
	}
}

func TestCollectorConcurrentExits(t *testing.T) {
	c := NewCollector(nil)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token := metadata.NewToken(metadata.KindMethodDef, uint32(i%3+1))
			for range 1000 {
				c.OnExit(token, c.OnEnter(token))
			}
		}()
	}
	wg.Wait()

	var calls int64
	report := c.Report()
	for _, m := range report.Methods {
		calls += m.Calls
	}
	assert.EqualValues(t, 8000, calls)
	assert.Len(t, report.Methods, 3)
	assert.GreaterOrEqual(t, report.Root.Time, time.Duration(0))
}

func TestGoroutineID(t *testing.T) {
	id := goroutineID()
	assert.Positive(t, id)
	assert.Equal(t, id, goroutineID())

	other := make(chan int64)
	go func() { other <- goroutineID() }()
	assert.NotEqual(t, id, <-other)
}

func methodToken(index uint32) metadata.Token {
	return metadata.NewToken(metadata.KindMethodDef, index)
}

func sampleReport() Report {
	checkout := MethodStats{ID: 1, Token: methodToken(1), Name: "shop.Cart.Checkout", Calls: 2, Time: 150 * time.Millisecond, Percent: 75}
	total := MethodStats{ID: 2, Token: methodToken(2), Name: "shop.Cart.Total", Calls: 40, Time: 10 * time.Millisecond, Percent: 5}
	price := MethodStats{ID: 3, Token: methodToken(3), Name: "shop.Item.Price", Calls: 400, Time: time.Millisecond, Percent: 0.5}
	return Report{
		Elapsed: 200 * time.Millisecond,
		Tree: Node{
			MethodStats: MethodStats{Name: rootName, Time: 200 * time.Millisecond, Percent: 100},
			Children: []Node{
				{MethodStats: checkout, Children: []Node{
					{MethodStats: total, Children: []Node{{MethodStats: price}}},
				}},
			},
		},
		Methods: []MethodStats{
			{ID: 1, Token: methodToken(1), Name: "shop.Cart.Checkout", Calls: 2, Time: 140 * time.Millisecond, Percent: 70},
			{ID: 2, Token: methodToken(2), Name: "shop.Cart.Total", Calls: 40, Time: 9 * time.Millisecond, Percent: 4.5},
			{ID: 3, Token: methodToken(3), Name: "shop.Item.Price", Calls: 400, Time: time.Millisecond, Percent: 0.5},
		},
		Root: MethodStats{Name: rootName, Calls: 1, Time: 50 * time.Millisecond, Percent: 25},
	}
}

func TestFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Format(&buf, sampleReport()))

	want := strings.Join([]string{
		"100.00% 200.000 ms ROOT",
		"    75.00% 150.000 ms 2 calls shop.Cart.Checkout",
		"        5.00% 10.000 ms 40 calls shop.Cart.Total",
		"70.00% 140.000 ms 2 calls shop.Cart.Checkout",
		"25.00% 50.000 ms ROOT",
		"4.50% 9.000 ms 40 calls shop.Cart.Total",
		"",
	}, "\n")
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("Format (-want +got):\n%s", diff)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleReport().WriteProfile(&buf))

	p, err := profile.ParseData(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, p.SampleType, 2)
	assert.Equal(t, "calls", p.SampleType[0].Type)
	assert.Equal(t, "nanoseconds", p.SampleType[1].Unit)

	type row struct {
		Stack string
		Calls int64
		Nanos int64
	}
	var got []row
	for _, s := range p.Sample {
		var names []string
		for _, loc := range s.Location {
			names = append(names, loc.Line[0].Function.Name)
		}
		got = append(got, row{strings.Join(names, " < "), s.Value[0], s.Value[1]})
	}
	want := []row{
		{"shop.Cart.Checkout", 2, int64(140 * time.Millisecond)},
		{"shop.Cart.Total < shop.Cart.Checkout", 40, int64(9 * time.Millisecond)},
		{"shop.Item.Price < shop.Cart.Total < shop.Cart.Checkout", 400, int64(time.Millisecond)},
	}
	if diff := cmp.Diff(want, got, cmpopts.SortSlices(func(a, b row) bool { return a.Stack < b.Stack })); diff != "" {
		t.Errorf("profile samples (-want +got):\n%s", diff)
	}
	assert.Len(t, p.Function, 3)
}

func BenchmarkCollectorHooks(b *testing.B) {
	c := NewCollector(nil)
	token := metadata.NewToken(metadata.KindMethodDef, 1)
	var start clock.Ticks
	for b.Loop() {
		start = c.OnEnter(token)
		c.OnExit(token, start)
	}
}
