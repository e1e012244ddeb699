package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/iota-uz/field-registry/modules/importing/infrastructure/packagecodec"
)

type sealOptions struct {
	output string
	format string
	verify bool
}

func newSealCmd() *cobra.Command {
	opts := &sealOptions{}
	cmd := &cobra.Command{
		Use:   "seal <file>",
		Short: "Compute manifest hashes and counts for a package file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return withCode(exitUsage, fmt.Errorf("read package: %w", err))
			}
			if opts.verify {
				return verifyPackage(cmd.OutOrStdout(), raw)
			}
			out, err := sealPackage(raw, packagecodec.Format(opts.format))
			if err != nil {
				return err
			}
			if opts.output == "" || opts.output == "-" {
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}
			return os.WriteFile(opts.output, out, 0o644)
		},
	}
	cmd.Flags().StringVarP(&opts.output, "out", "o", "", "Output file (default stdout)")
	cmd.Flags().StringVar(&opts.format, "format", string(packagecodec.FormatJSON), "Output format: json|cbor")
	cmd.Flags().BoolVar(&opts.verify, "verify", false, "Only verify the package integrity")
	return cmd
}

func sealPackage(raw []byte, format packagecodec.Format) ([]byte, error) {
	if format != packagecodec.FormatJSON && format != packagecodec.FormatCBOR {
		return nil, withCode(exitUsage, fmt.Errorf("unsupported --format %q", format))
	}
	env, err := packagecodec.Decode(raw)
	if err != nil {
		return nil, withCode(exitValidation, err)
	}
	if err := packagecodec.Seal(env); err != nil {
		return nil, withCode(exitValidation, err)
	}
	return packagecodec.Encode(env, format)
}

type verifyOutput struct {
	PackageID string `json:"package_id"`
	Valid     bool   `json:"valid"`
	Reason    string `json:"reason,omitempty"`
}

func verifyPackage(w io.Writer, raw []byte) error {
	env, err := packagecodec.Decode(raw)
	if err != nil {
		return withCode(exitValidation, err)
	}
	out := verifyOutput{PackageID: env.Manifest.PackageID, Valid: true}
	verr := packagecodec.Verify(env)
	var integrity *packagecodec.IntegrityError
	if errors.As(verr, &integrity) {
		out.Valid = false
		out.Reason = integrity.Reason
	} else if verr != nil {
		return withCode(exitValidation, verr)
	}
	if err := writeJSONLine(w, out); err != nil {
		return err
	}
	if !out.Valid {
		return withCode(exitValidation, verr)
	}
	return nil
}
