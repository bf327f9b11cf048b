package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/qa-agent/logexplain/pkg/compress"
)

func newDecompressCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "decompress FILE",
		Short: "Restore a compressed evidence file (.gz, .zst, .br)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, ok := compress.CodecForPath(args[0])
			if !ok {
				return fmt.Errorf("unrecognised compression suffix on %s", args[0])
			}
			text, err := compress.NewWithCodec(codec, nil).ReadAndDecompress(args[0])
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), text)
				return err
			}
			if err := os.WriteFile(output, []byte(text), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s (%s).\n", output, humanize.Bytes(uint64(len(text))))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	return cmd
}
