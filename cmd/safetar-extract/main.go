// Command safetar-extract is a thin CLI front end over the safetar
// library: it extracts one archive into one destination directory,
// reporting progress and any rejected member to the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	safetar "github.com/barseghyanartur/go-safetar"
	"github.com/barseghyanartur/go-safetar/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		verbose          bool
		maxFileSize      string
		maxTotalSize     string
		symlinkPolicy    string
		hardlinkPolicy   string
		sparsePolicy     string
		preserveOwner    bool
		stripSpecialBits bool
		stripWriteBits   bool
	)

	cmd := &cobra.Command{
		Use:   "safetar-extract <archive> <destination>",
		Short: "Extract a TAR archive with defense-in-depth safety checks",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New(verbose, os.Stderr)

			opts := []safetar.Option{
				safetar.WithPreserveOwnership(preserveOwner),
				safetar.WithStripSpecialBits(stripSpecialBits),
				safetar.WithStripWriteBits(stripWriteBits),
				safetar.WithSecurityEventCallback(func(ev safetar.SecurityEvent) {
					log.Warn("security event", map[string]any{"event_type": ev.EventType, "archive_hash": ev.ArchiveHash})
				}),
			}

			if maxFileSize != "" {
				var v datasize.ByteSize
				if err := v.UnmarshalText([]byte(maxFileSize)); err != nil {
					return fmt.Errorf("invalid --max-file-size: %w", err)
				}
				opts = append(opts, safetar.WithMaxFileSize(int64(v.Bytes())))
			}
			if maxTotalSize != "" {
				var v datasize.ByteSize
				if err := v.UnmarshalText([]byte(maxTotalSize)); err != nil {
					return fmt.Errorf("invalid --max-total-size: %w", err)
				}
				opts = append(opts, safetar.WithMaxTotalSize(int64(v.Bytes())))
			}
			if symlinkPolicy != "" {
				opts = append(opts, safetar.WithSymlinkPolicy(safetar.SymlinkPolicy(symlinkPolicy)))
			}
			if hardlinkPolicy != "" {
				opts = append(opts, safetar.WithHardlinkPolicy(safetar.HardlinkPolicy(hardlinkPolicy)))
			}
			if sparsePolicy != "" {
				opts = append(opts, safetar.WithSparsePolicy(safetar.SparsePolicy(sparsePolicy)))
			}

			archivePath, dest := args[0], args[1]

			preview, err := safetar.Open(archivePath, opts...)
			if err != nil {
				return err
			}
			names, err := preview.GetNames()
			preview.Close()
			if err != nil {
				return err
			}

			bar := progressbar.NewOptions(len(names),
				progressbar.OptionSetDescription("extracting"),
				progressbar.OptionShowCount(),
			)
			opts = append(opts, safetar.WithMemberExtractedCallback(func(name string) {
				_ = bar.Add(1)
			}))

			h, err := safetar.Open(archivePath, opts...)
			if err != nil {
				return err
			}
			defer h.Close()

			if err := h.ExtractAll(dest, nil); err != nil {
				return err
			}

			log.Info("extraction complete", map[string]any{"destination": dest, "members": len(names)})
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().StringVar(&maxFileSize, "max-file-size", "", "maximum size of a single extracted file, e.g. 500MB")
	cmd.Flags().StringVar(&maxTotalSize, "max-total-size", "", "maximum aggregate extracted size, e.g. 5GB")
	cmd.Flags().StringVar(&symlinkPolicy, "symlink-policy", "", "reject|ignore|resolve_internal")
	cmd.Flags().StringVar(&hardlinkPolicy, "hardlink-policy", "", "reject|internal")
	cmd.Flags().StringVar(&sparsePolicy, "sparse-policy", "", "reject|materialise")
	cmd.Flags().BoolVar(&preserveOwner, "preserve-ownership", false, "apply archived uid/gid instead of the current process's")
	cmd.Flags().BoolVar(&stripSpecialBits, "strip-special-bits", true, "clear setuid/setgid/sticky bits on extracted files")
	cmd.Flags().BoolVar(&stripWriteBits, "strip-write-bits", false, "additionally clear 0o222 write bits on extracted files")

	return cmd
}
