package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"methodtrace/internal"
	"methodtrace/internal/clock"
	"methodtrace/internal/dispatch"
	"methodtrace/internal/installer"
	"methodtrace/internal/metadata"
	"methodtrace/internal/stats"
	"methodtrace/internal/telemetry"
	"methodtrace/internal/trampoline"
)

func emptyCall() {}

// benchTarget is an instrumented empty method and the sinks its hooks feed.
type benchTarget struct {
	call      func()
	collector *stats.Collector
	shutdown  func()
}

func (o *options) newBenchTarget() (*benchTarget, error) {
	catalog := metadata.NewCatalog()
	targetType := catalog.DefineType(metadata.TypeSpec{Namespace: "methodtrace", Name: "Bench", Visibility: metadata.Public})
	token, err := catalog.DefineFunc(targetType, "Empty", false, emptyCall)
	internal.PanicOnError(err)
	table := dispatch.NewTable()
	internal.PanicOnError(table.Define(token, emptyCall))

	p := &benchTarget{shutdown: func() {}}
	var hooks []trampoline.Hooks
	if o.cfg.Trace.Report {
		p.collector = stats.NewCollector(catalog)
		hooks = append(hooks, p.collector)
	}
	if o.cfg.Trace.Spans {
		tp := sdktrace.NewTracerProvider()
		p.shutdown = func() { _ = tp.Shutdown(context.Background()) }
		hooks = append(hooks, telemetry.NewSpanHooks(tp, catalog))
	}
	if o.cfg.Trace.SlowCalls {
		sink := telemetry.LogSink{Logger: o.logger}
		hooks = append(hooks, telemetry.NewSlowCallReporter(sink, telemetry.WithProvider(catalog)))
	}

	in := installer.New(catalog, table, telemetry.Tee(hooks...), installer.WithLogger(o.logger))
	if err := in.Install(token); err != nil {
		return nil, err
	}
	p.call = dispatch.MustBind[func()](table, token).Func()
	return p, nil
}

func newBenchCmd(opts *options) *cobra.Command {
	var profilePath string

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure the overhead of an instrumented call",
		Long: `Compares two clock reads against a call of an instrumented empty
method. The hooks are the sinks enabled in the [trace] configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.newBenchTarget()
			if err != nil {
				return err
			}
			defer p.shutdown()

			baseline := testing.Benchmark(func(b *testing.B) {
				for b.Loop() {
					start := clock.Now()
					_ = clock.Since(start)
				}
			})
			traced := testing.Benchmark(func(b *testing.B) {
				for b.Loop() {
					p.call()
				}
			})

			out := cmd.OutOrStdout()
			writeBench(out, baseline, traced)
			if p.collector == nil {
				return nil
			}

			report := p.collector.Report()
			if err := stats.Format(out, report); err != nil {
				return err
			}
			if profilePath != "" {
				return writeProfile(profilePath, report)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&profilePath, "profile", "", "Write the collected statistics as a pprof profile")
	return cmd
}

func writeBench(w io.Writer, baseline, traced testing.BenchmarkResult) {
	fmt.Fprintf(w, "clock baseline  %s\n", baseline)
	fmt.Fprintf(w, "traced call     %s\n", traced)
	fmt.Fprintf(w, "overhead        %d ns/op\n", traced.NsPerOp()-baseline.NsPerOp())
}

func writeProfile(path string, report stats.Report) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()
	return report.WriteProfile(file)
}
