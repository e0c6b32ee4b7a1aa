package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/shift-scheduler/internal/config"
	"github.com/example/shift-scheduler/internal/errors"
)

func newKeysCmd() *cobra.Command {
	var blockSize int

	c := &cobra.Command{
		Use:   "keys",
		Short: "Generate session vault hash and block keys (base64)",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch blockSize {
			case 16, 24, 32:
			default:
				return errors.InvalidConfigf("--block-size must be 16, 24 or 32, got %d", blockSize)
			}

			keys := []struct {
				name string
				size int
			}{
				{"SESSION_HASH_KEY", 32},
				{"SESSION_BLOCK_KEY", blockSize},
			}
			out := cmd.OutOrStdout()
			for _, k := range keys {
				b := make([]byte, k.size)
				if _, err := rand.Read(b); err != nil {
					return errors.Wrapf(err, "generate %s", k.name)
				}
				fmt.Fprintf(out, "export %s_%s=%s\n", config.EnvPrefix, k.name, base64.StdEncoding.EncodeToString(b))
			}
			return nil
		},
	}

	c.Flags().IntVar(&blockSize, "block-size", 32, "block key length in bytes (AES-128/192/256)")
	return c
}
