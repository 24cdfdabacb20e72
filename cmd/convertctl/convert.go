package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/GedeBrawidya/convert-project/internal/core/domain"
	"github.com/spf13/cobra"
)

func newConvertCmd(root *rootOptions) *cobra.Command {
	var (
		format    string
		outputDir string
	)

	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert one document",
		Example: `  convertctl convert report.docx
  convertctl convert notes.odt --to txt -o out/`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			source, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read source: %w", err)
			}

			a, err := openApp(ctx, root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(a, cmd.ErrOrStderr())

			result, err := a.Orchestrator.Convert(ctx, domain.ConversionRequest{
				Source:   source,
				FileName: filepath.Base(args[0]),
				Format:   format,
			})
			if err != nil {
				var cerr *domain.ConversionError
				if errors.As(err, &cerr) {
					return fmt.Errorf("%s: %s (job %s)", cerr.Kind, cerr.Public(), cerr.JobID)
				}
				return err
			}

			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			dest := filepath.Join(outputDir, result.FileName)
			if err := os.WriteFile(dest, result.Output, 0o644); err != nil {
				return fmt.Errorf("write result: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d bytes\n", result.JobID, dest, len(result.Output))
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "to", "t", string(domain.FormatPDF), "target format")
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "directory for the converted file")

	return cmd
}
