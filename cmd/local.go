package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"idlharvest/internal/acquire"
	"idlharvest/internal/fetch"
)

func newLocalCmd() *cobra.Command {
	var (
		root string
		ext  string
	)

	cmd := &cobra.Command{
		Use:   "local",
		Short: "Harvest interface definitions from local files",
		Long: `Walks a root directory for files with the configured extension and runs
them through the same extract/parse stages as the remote modes. Records are
keyed by file:// URLs relative to the root and annotated with their
contributing file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}

			if root == "" {
				root = rt.Config.Local.Root
			}
			if root == "" {
				return fmt.Errorf("no root directory: pass --root or set local.root")
			}
			if ext == "" {
				ext = rt.Config.Local.Extension
			}

			source, err := fetch.NewFileSource(root)
			if err != nil {
				return err
			}
			files, err := source.ListFiles(ext)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no %s files under %s", ext, root)
			}
			urls := make([]string, len(files))
			for i, rel := range files {
				urls[i] = "file://" + rel
			}

			parts, err := buildParts(rt)
			if err != nil {
				return err
			}

			binding := acquire.NewBinding(
				source,
				parts.store, parts.extractor, parts.parser,
				rt.Metrics, rt.Logger,
				acquire.Options{Mode: "local", AnnotateFiles: true},
			)
			defer func() {
				if err := binding.Detach(); err != nil {
					rt.Logger.Warn("detach binding", zap.Error(err))
				}
			}()

			stage := degraded(rt, binding)
			engine := newEngine(rt, parts, stage, stage)
			if _, err := engine.Run(cmd.Context(), urls); err != nil {
				return fmt.Errorf("local run: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "root directory to walk")
	cmd.Flags().StringVar(&ext, "ext", "", "file extension to harvest (default from config)")
	return cmd
}
