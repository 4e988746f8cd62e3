package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"methodtrace/internal/metadata"
	"methodtrace/internal/signature"
)

func newInspectCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <method>...",
		Short: "Print the metadata and call shape of methods",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := opts.source(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var missing []string
			for _, name := range args {
				record, found := source.FindMethod(name)
				if !found {
					missing = append(missing, name)
					continue
				}
				writeRecord(out, record)
			}
			if len(missing) > 0 {
				return fmt.Errorf("methods not found: %s", strings.Join(missing, ", "))
			}
			return nil
		},
	}
}

func writeRecord(w io.Writer, record *metadata.MethodRecord) {
	fmt.Fprintf(w, "%s %s\n", record.FullName(), record.Token)

	owner := record.DeclaringType
	if owner.Name != "" {
		access := "not public"
		if owner.Visibility.IsAccessible() {
			access = "public"
		}
		kind := "type"
		if owner.IsInterface {
			kind = "interface"
		}
		fmt.Fprintf(w, "  declared on %s %s (%s)\n", kind, owner.FullName(), access)
	}
	fmt.Fprintf(w, "  convention %s", record.CallingConvention)
	if record.GenericArity > 0 {
		fmt.Fprintf(w, ", %d type parameters", record.GenericArity)
	}
	fmt.Fprintln(w)

	for _, p := range record.Params {
		fmt.Fprintf(w, "  param %d %s %s", p.Sequence(), p.Name, p.TypeName)
		if flags := paramFlags(p); len(flags) > 0 {
			fmt.Fprintf(w, " [%s]", strings.Join(flags, ","))
		}
		fmt.Fprintln(w)
	}
	if record.ReturnTypeName != "" {
		fmt.Fprintf(w, "  returns %s\n", record.ReturnTypeName)
	}

	shape, err := signature.Classify(record)
	if err != nil {
		fmt.Fprintf(w, "  shape: %v\n", err)
		return
	}
	fmt.Fprintf(w, "  shape: receiver=%t args=%d arity=%d generic=%d\n",
		shape.HasReceiver, shape.FixedArgCount, shape.Arity(), shape.GenericArity)
}

func paramFlags(p metadata.ParameterRecord) []string {
	var flags []string
	for _, f := range []struct {
		on   bool
		name string
	}{
		{p.IsIn(), "in"},
		{p.IsOut(), "out"},
		{p.IsLcid(), "lcid"},
		{p.IsReturnValue(), "retval"},
		{p.IsOptional(), "optional"},
		{p.HasDefault(), "default"},
		{p.HasFieldMarshal(), "marshal"},
	} {
		if f.on {
			flags = append(flags, f.name)
		}
	}
	return flags
}
