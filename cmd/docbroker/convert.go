package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/local/docbroker/internal/filetype"
	"github.com/local/docbroker/internal/handler"
	"github.com/local/docbroker/internal/storage"
)

func newConvertCmd() *cobra.Command {
	var (
		from   string
		to     string
		params []string
	)

	cmd := &cobra.Command{
		Use:   "convert INPUT OUTPUT",
		Short: "Convert one document",
		Long: `Convert INPUT to OUTPUT. The destination format defaults to the extension of
OUTPUT and the source format to the extension of INPUT; when INPUT has no
extension its format is sniffed from the content.`,
		Example: `  docbroker convert report.docy report.pdf
  docbroker convert s3://in/sheet.xlsx s3://out/sheet.ods
  docbroker convert slides.pptx slide.png --param PageRange=1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			in, out := args[0], args[1]
			if to == "" {
				to = formatOf(out)
			}
			if to == "" {
				return fmt.Errorf("cannot infer destination format from %q; use --to", out)
			}
			if from == "" {
				from = formatOf(in)
			}
			p, err := parseParams(params)
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			data, err := readInput(ctx, rt, in)
			if err != nil {
				return err
			}
			result, err := rt.broker.Convert(ctx, data, from, to, p)
			if err != nil {
				return err
			}
			return writeOutput(ctx, rt, out, result)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "source format (extension or mimetype)")
	cmd.Flags().StringVar(&to, "to", "", "destination format (extension or mimetype)")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "converter parameter as key=value (repeatable)")
	return cmd
}

func newMetadataCmd() *cobra.Command {
	var (
		from string
		base bool
	)

	cmd := &cobra.Command{
		Use:   "metadata INPUT",
		Short: "Print document metadata as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if from == "" {
				from = formatOf(args[0])
			}
			rt, err := newRuntime(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			data, err := readInput(ctx, rt, args[0])
			if err != nil {
				return err
			}
			md, err := rt.broker.GetMetadata(ctx, data, from, base)
			if err != nil {
				return err
			}
			if s, ok := md[handler.DataKey].(string); ok && s != "" {
				md[handler.DataKey] = base64.StdEncoding.EncodeToString([]byte(s))
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(md)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "source format (extension or mimetype)")
	cmd.Flags().BoolVar(&base, "base", false, "include the document in its base format under Data (base64)")
	cmd.AddCommand(newSetMetadataCmd())
	return cmd
}

func newSetMetadataCmd() *cobra.Command {
	var (
		from   string
		fields []string
		file   string
	)

	cmd := &cobra.Command{
		Use:   "set INPUT OUTPUT",
		Short: "Write metadata into a document",
		Example: `  docbroker metadata set in.odt out.odt --field Title=Report --field Author=Ops
  docbroker metadata set in.docy out.docy --file meta.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if from == "" {
				from = formatOf(args[0])
			}
			md := handler.Metadata{}
			if file != "" {
				raw, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				if md, err = handler.DecodeMetadata(raw); err != nil {
					return fmt.Errorf("parse %s: %w", file, err)
				}
			}
			kv, err := parseParams(fields)
			if err != nil {
				return err
			}
			for k, v := range kv {
				md[k] = v
			}
			if len(md) == 0 {
				return fmt.Errorf("no metadata given; use --field or --file")
			}

			rt, err := newRuntime(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			data, err := readInput(ctx, rt, args[0])
			if err != nil {
				return err
			}
			out, err := rt.broker.SetMetadata(ctx, data, from, md)
			if err != nil {
				return err
			}
			return writeOutput(ctx, rt, args[1], out)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "source format (extension or mimetype)")
	cmd.Flags().StringArrayVarP(&fields, "field", "f", nil, "metadata field as key=value (repeatable)")
	cmd.Flags().StringVar(&file, "file", "", "JSON file with metadata fields")
	return cmd
}

func newFormatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formats MIMETYPE",
		Short: "List the formats a mimetype converts to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			w := cmd.OutOrStdout()
			for _, f := range rt.broker.AllowedConversionFormatList(args[0]) {
				fmt.Fprintf(w, "%s\t%s\n", f.MimeType, f.Title)
			}
			return nil
		},
	}
}

// formatOf returns the lowercased extension of a path or s3 key.
func formatOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

func parseParams(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid key=value pair %q", p)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}

func readInput(ctx context.Context, rt *runtime, in string) ([]byte, error) {
	if !storage.IsRef(in) {
		return os.ReadFile(in)
	}
	s3, err := rt.objectStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s3.Fetch(ctx, in)
}

func writeOutput(ctx context.Context, rt *runtime, out string, data []byte) error {
	if !storage.IsRef(out) {
		if dir := filepath.Dir(out); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		return os.WriteFile(out, data, 0o644)
	}
	s3, err := rt.objectStorage(ctx, cfg)
	if err != nil {
		return err
	}
	return s3.Put(ctx, out, data, filetype.ContentType(data, out))
}
