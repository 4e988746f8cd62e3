package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newFetchCmd(opts *options) *cobra.Command {
	var (
		packageName string
		outputPath  string
		index       string
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download the newest metadata module from a NuGet feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			meta := opts.cfg.Metadata
			if cmd.Flags().Changed("package") {
				meta.Package = packageName
			}
			if cmd.Flags().Changed("output") {
				meta.Path = outputPath
			}
			if cmd.Flags().Changed("index") {
				meta.Index = index
			}
			if meta.Path == "" {
				meta.Path = "Windows.Win32.winmd"
			}

			d := opts.downloader
			d.Index = meta.Index
			version, err := d.Download(cmd.Context(), meta.Package, meta.Path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s\n", meta.Package, version, meta.Path)
			return nil
		},
	}

	cmd.Flags().StringVar(&packageName, "package", "", "NuGet package holding the .winmd")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Where to store the .winmd")
	cmd.Flags().StringVar(&index, "index", "", "NuGet v3 service index URL")
	return cmd
}
