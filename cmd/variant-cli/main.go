// Package main provides a local developer tool for the variant pipeline:
// inspect how an operation string canonicalizes, compute derived keys, and
// run the transform executor against a local file without deploying.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/image-delivery/internal/edge"
	"github.com/fpang/image-delivery/internal/logging"
	"github.com/fpang/image-delivery/internal/ops"
	"github.com/fpang/image-delivery/internal/transform"
)

var (
	opsFlag    string
	outFlag    string
	acceptFlag string
)

var rootCmd = &cobra.Command{
	Use:   "variant-cli",
	Short: "Inspect and exercise the image variant pipeline locally",
	Long: `variant-cli works with the same operation codec and transform executor
the Lambdas use, against local files and strings instead of S3.

Examples:
  variant-cli parse "w=400,f=WEBP,junk=1"
  variant-cli normalize "f=auto&w=400" --accept "image/avif,image/webp"
  variant-cli key sample/1.jpg --ops "f=webp,w=400"
  variant-cli transform photo.jpg --ops "f=webp,mw=1024" --out photo.webp`,
}

var parseCmd = &cobra.Command{
	Use:   "parse <operation-string>",
	Short: "Parse an operation string and print its canonical forms",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sp, err := ops.Parse(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("canonical: %s\n", sp.Canonical())
		fmt.Printf("query:     %s\n", sp.Query())
		return nil
	},
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize <query-string>",
	Short: "Run the edge normalizer against a raw query string",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(edge.Normalize(strings.TrimPrefix(args[0], "?"), acceptFlag))
		return nil
	},
}

var keyCmd = &cobra.Command{
	Use:   "key <original-key>",
	Short: "Print the derived storage key for an original and operations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sp, err := ops.Parse(opsFlag)
		if err != nil {
			return err
		}
		fmt.Println(ops.DerivedKey(args[0], sp))
		return nil
	},
}

var transformCmd = &cobra.Command{
	Use:   "transform <input-file>",
	Short: "Apply operations to a local image file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sp, err := ops.Parse(opsFlag)
		if err != nil {
			return err
		}
		original, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		body, contentType, err := transform.New().Execute(context.Background(), original, sp)
		if err != nil {
			return err
		}

		out := outFlag
		if out == "" {
			out = args[0] + "." + sp.Canonical()
		}
		if err := os.WriteFile(out, body, 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		log.Info().
			Str("output", out).
			Str("contentType", contentType).
			Int("size", len(body)).
			Msg("Transform complete")
		return nil
	},
}

func init() {
	normalizeCmd.Flags().StringVar(&acceptFlag, "accept", "", "Accept header used to resolve f=auto")
	keyCmd.Flags().StringVar(&opsFlag, "ops", ops.OriginalToken, "Operation string")
	transformCmd.Flags().StringVar(&opsFlag, "ops", ops.OriginalToken, "Operation string")
	transformCmd.Flags().StringVar(&outFlag, "out", "", "Output file (default: input + canonical suffix)")
	rootCmd.AddCommand(parseCmd, normalizeCmd, keyCmd, transformCmd)
}

func main() {
	logging.Init()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
