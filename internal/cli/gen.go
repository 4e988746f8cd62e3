package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"methodtrace/internal/generation"
)

func newGenCmd(opts *options) *cobra.Command {
	var (
		inputPath   string
		packageName string
		outputPath  string
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate typed trampolines for the methods listed in a file",
		Long: `Reads method names, one per line, from the input file and writes a Go
package with one wrapper per method plus opaque declarations of the types
they use.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			gen := opts.cfg.Generate
			if cmd.Flags().Changed("package") {
				gen.PackageName = packageName
			}
			if cmd.Flags().Changed("output") {
				gen.Output = outputPath
			}
			if cmd.Flags().Changed("force") {
				gen.Force = force
			}
			if inputPath == "" {
				return errors.New("input file path is missing")
			}

			names, err := readNames(inputPath)
			if err != nil {
				return err
			}
			source, err := opts.source(cmd.Context())
			if err != nil {
				return err
			}

			generator := generation.NewGenerator(gen.PackageName, gen.Output)
			for _, name := range names {
				record, found := source.FindMethod(name)
				if !found {
					opts.logger.Warn().Str("method", name).Msg("method not found")
					continue
				}
				if err := generator.RegisterMethod(record); err != nil {
					opts.logger.Warn().Err(err).Str("method", name).Msg("skipping method")
					continue
				}
			}
			if len(generator.Methods) == 0 {
				return errors.New("no method could be generated")
			}

			if err := clearDirectoryIfNotEmpty(gen.Output, gen.Force, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
				return err
			}
			if err := generator.Generate(); err != nil {
				return err
			}
			opts.logger.Info().Int("methods", len(generator.Methods)).Str("output", gen.Output).Msg("generated trampolines")
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "File listing the methods to generate, one per line")
	cmd.Flags().StringVar(&packageName, "package", "", "Name of the generated package")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Directory for the generated files")
	cmd.Flags().BoolVar(&force, "force", false, "Clear a non-empty output directory without asking")
	return cmd
}

func readNames(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var names []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	return names, scanner.Err()
}

// clearDirectoryIfNotEmpty removes path when it holds files, asking first
// unless silent is set.
func clearDirectoryIfNotEmpty(path string, silent bool, in io.Reader, out io.Writer) error {
	directory, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer directory.Close()

	_, err = directory.Readdirnames(1)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}

	if !silent {
		fmt.Fprint(out, "Output directory is not empty. Continuation will result in removing all output files. Proceed? [Y/n] ")
		var response string
		_, _ = fmt.Fscan(in, &response)
		if strings.ToUpper(response) != "Y" {
			return errors.New("explicit agreement was not given")
		}
	}

	fmt.Fprintln(out, "Cleaning output directory.")
	return os.RemoveAll(path)
}
