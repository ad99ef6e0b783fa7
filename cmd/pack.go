// File: cmd/pack.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"sourcepack/pkg/archive"
	"sourcepack/pkg/config"
	"sourcepack/pkg/export"
	"sourcepack/pkg/logging"
	"sourcepack/pkg/metrics"
	"sourcepack/pkg/output"
	"sourcepack/pkg/pack"
	"sourcepack/pkg/vnode"
)

const (
	flagOutput              = "output"
	flagForce               = "force"
	flagProgress            = "progress"
	flagMetricsFile         = "metrics-file"
	flagUpload              = "upload"
	flagS3Region            = "s3-region"
	flagS3Endpoint          = "s3-endpoint"
	flagS3PathStyle         = "s3-path-style"
	flagFormat              = "format"
	flagMode                = "mode"
	flagCompress            = "compress"
	flagStripComments       = "strip-comments"
	flagSkipVCS             = "skip-vcs"
	flagSkipBuild           = "skip-build"
	flagSkipDependencyCache = "skip-dependency-cache"
	flagGitignore           = "gitignore"
	flagIgnoreFile          = "ignore-file"
	flagIgnoreFiles         = "ignore-files"
	flagIgnoreExt           = "ignore-ext"
	flagMarkOmitted         = "mark-omitted"
	flagDeleteOnCancel      = "delete-on-cancel"

	stdoutOutput       = "-"
	selectionOutputKey = "selected-files"
)

// packFlags holds the flags that are not part of the pack configuration.
type packFlags struct {
	output      string
	force       bool
	progress    bool
	metricsFile string
	upload      string
	s3Region    string
	s3Endpoint  string
	s3PathStyle bool
}

// source opens the root of a run. cleanup releases what the root holds, such
// as an open archive, and runs after the document is closed.
type source func(ctx context.Context) (root vnode.Node, cleanup func() error, err error)

func newPackCmd(a *app) *cobra.Command {
	pf := &packFlags{}
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Pack a directory, files, a zip archive or a GitHub repository",
		Long: `Pack writes an outline of the source followed by the content of every
included file. Version-control metadata, IDE state, dependency caches and
build output are left out; binary and oversized files are listed in the
outline without a body.`,
	}

	flags := cmd.PersistentFlags()
	d := config.Default()
	flags.StringVarP(&pf.output, flagOutput, "o", "", `output file ("-" for stdout; default: <name> plus the format extension)`)
	flags.BoolVar(&pf.force, flagForce, false, "overwrite an existing output file without asking")
	flags.BoolVar(&pf.progress, flagProgress, false, "print the file being packed to stderr")
	flags.StringVar(&pf.metricsFile, flagMetricsFile, "", "write run metrics in Prometheus text format to this file")
	flags.StringVar(&pf.upload, flagUpload, "", "upload the document to s3://bucket/key after packing")
	flags.StringVar(&pf.s3Region, flagS3Region, "", "S3 region (default: $AWS_REGION or "+export.DefaultRegion+")")
	flags.StringVar(&pf.s3Endpoint, flagS3Endpoint, "", "custom S3 endpoint, e.g. a MinIO server")
	flags.BoolVar(&pf.s3PathStyle, flagS3PathStyle, false, "use path-style S3 addressing")

	flags.StringP(flagFormat, "f", d.Format, "document format: markdown, xml or text")
	flags.StringP(flagMode, "m", string(d.Mode), "full writes outline and bodies, tree writes the outline only")
	flags.Bool(flagCompress, d.Compress, "collapse every body to a single line")
	flags.Bool(flagStripComments, d.StripComments, "remove source comments")
	flags.Bool(flagSkipVCS, d.Skip.VCS, "skip version-control metadata")
	flags.Bool(flagSkipBuild, d.Skip.Build, "skip build output directories")
	flags.Bool(flagSkipDependencyCache, d.Skip.DependencyCache, "skip dependency manager caches")
	flags.Bool(flagGitignore, d.UseGitignore, "apply the root .gitignore")
	flags.String(flagIgnoreFile, d.IgnoreFile, "extra gitignore-style pattern file")
	flags.StringSlice(flagIgnoreFiles, d.IgnoreFiles, "file names to leave out")
	flags.StringSlice(flagIgnoreExt, d.IgnoreExtensions, "extensions to leave out")
	flags.Bool(flagMarkOmitted, d.MarkOmitted, "write a placeholder for binary and oversized files")
	flags.Bool(flagDeleteOnCancel, d.DeleteOnCancel, "remove the partial output when interrupted")

	if err := bindFlags(a.v, flags, map[string]string{
		config.KeyFormat:              flagFormat,
		config.KeyMode:                flagMode,
		config.KeyCompress:            flagCompress,
		config.KeyStripComments:       flagStripComments,
		config.KeySkipVCS:             flagSkipVCS,
		config.KeySkipBuild:           flagSkipBuild,
		config.KeySkipDependencyCache: flagSkipDependencyCache,
		config.KeyUseGitignore:        flagGitignore,
		config.KeyIgnoreFile:          flagIgnoreFile,
		config.KeyIgnoreFiles:         flagIgnoreFiles,
		config.KeyIgnoreExtensions:    flagIgnoreExt,
		config.KeyMarkOmitted:         flagMarkOmitted,
		config.KeyDeleteOnCancel:      flagDeleteOnCancel,
	}); err != nil {
		panic(err)
	}

	cmd.AddCommand(
		newPackDirCmd(a, pf),
		newPackFilesCmd(a, pf),
		newPackZipCmd(a, pf),
		newPackRepoCmd(a, pf),
	)
	return cmd
}

func newPackDirCmd(a *app, pf *packFlags) *cobra.Command {
	var confined bool
	cmd := &cobra.Command{
		Use:   "dir [path]",
		Short: "Pack a local directory (default: the working directory)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runPack(cmd, a, pf, func(context.Context) (vnode.Node, func() error, error) {
				if confined {
					return openConfined(dir)
				}
				root, err := vnode.NewFSNode(dir)
				if err != nil {
					return nil, nil, err
				}
				if !root.IsDir() {
					return nil, nil, fmt.Errorf("%s is not a directory", dir)
				}
				return root, nil, nil
			})
		},
	}
	cmd.Flags().BoolVar(&confined, "confined", false, "read the directory through an os.Root handle; symlinks cannot escape it")
	return cmd
}

// openConfined opens dir as an os.Root and packs it through its fs.FS view.
func openConfined(dir string) (vnode.Node, func() error, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	r, err := os.OpenRoot(abs)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", dir, err)
	}
	root, err := vnode.NewHandleNode(r.FS(), filepath.Base(abs))
	if err != nil {
		r.Close()
		return nil, nil, err
	}
	return root, r.Close, nil
}

func newPackFilesCmd(a *app, pf *packFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "files <path>...",
		Short: "Pack a set of files that share no common root",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPack(cmd, a, pf, func(context.Context) (vnode.Node, func() error, error) {
				members := make([]vnode.Node, 0, len(args))
				for _, p := range args {
					n, err := vnode.NewFSNode(p)
					if err != nil {
						return nil, nil, err
					}
					members = append(members, n)
				}
				return vnode.NewSelection(output.SelectionTitle, members...), nil, nil
			})
		},
	}
}

func newPackZipCmd(a *app, pf *packFlags) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "zip <archive.zip>",
		Short: "Pack a local zip archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPack(cmd, a, pf, func(context.Context) (vnode.Node, func() error, error) {
				arc, err := archive.Open(args[0], logging.Logger)
				if err != nil {
					return nil, nil, err
				}
				project := name
				if project == "" {
					project = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
				}
				return arc.Root(project), arc.Close, nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name when the archive has no single top-level directory")
	return cmd
}

func newPackRepoCmd(a *app, pf *packFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "repo <github-url>",
		Short: "Download and pack the default branch of a GitHub repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPack(cmd, a, pf, func(ctx context.Context) (vnode.Node, func() error, error) {
				arc, project, err := archive.NewFetcher(logging.Logger).FetchRepo(ctx, args[0])
				if err != nil {
					return nil, nil, err
				}
				return arc.Root(project), arc.Close, nil
			})
		},
	}
}

// runPack opens the source, packs it and handles the optional outputs.
func runPack(cmd *cobra.Command, a *app, pf *packFlags, open source) error {
	ctx := cmd.Context()
	logger := logging.Logger
	stderr := cmd.ErrOrStderr()

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	format, err := cfg.OutputFormat()
	if err != nil {
		return err
	}

	var upload export.Location
	if pf.upload != "" {
		if pf.output == stdoutOutput {
			return errors.New("--upload needs a file output, not stdout")
		}
		if upload, err = export.ParseS3URL(pf.upload); err != nil {
			return err
		}
	}

	root, cleanup, err := open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			logger.Debug("Source acquisition stopped", zap.Error(err))
			fmt.Fprintln(stderr, "Canceled before packing")
			return nil
		}
		return err
	}
	if cleanup != nil {
		defer func() {
			if err := cleanup(); err != nil {
				logger.Warn("Failed to release source", zap.Error(err))
			}
		}()
	}

	sink, err := openSink(cmd, pf, root, format)
	if err != nil {
		return err
	}

	opts := pack.Options{Config: cfg, Logger: logger}
	var reg *prometheus.Registry
	if pf.metricsFile != "" {
		reg = prometheus.NewRegistry()
		opts.Metrics = metrics.New(metrics.WithRegistry(reg))
	}

	var res pack.Result
	g, gctx := errgroup.WithContext(ctx)
	if pf.progress {
		ch := make(chan pack.Progress, 1)
		opts.Progress = ch
		g.Go(func() error {
			for p := range ch {
				fmt.Fprintf(stderr, "[%d] %s\n", p.Files, p.Path)
			}
			return nil
		})
		g.Go(func() error {
			defer close(ch)
			var err error
			res, err = pack.Run(gctx, root, sink, opts)
			return err
		})
	} else {
		g.Go(func() error {
			var err error
			res, err = pack.Run(gctx, root, sink, opts)
			return err
		})
	}
	runErr := g.Wait()

	if reg != nil {
		if err := metrics.WriteTextfile(pf.metricsFile, reg); err != nil {
			logger.Warn("Failed to write metrics file", zap.Error(err))
		}
	}
	if runErr != nil {
		return runErr
	}

	dest := sink.Path()
	if dest == "" {
		dest = "stdout"
	}
	if res.Canceled {
		fmt.Fprintf(stderr, "Canceled after %d files\n", res.Files)
		return nil
	}
	fmt.Fprintf(stderr, "Wrote %d bytes to %s (%d files, %d omitted, %d errors)\n",
		res.Bytes, dest, res.Files, res.Omitted, res.Errors)

	if pf.upload != "" {
		uploader := export.NewUploader(export.NewS3Client(s3Options(pf)), logger)
		dst := upload.Resolve(filepath.Base(sink.Path()))
		if err := uploader.Upload(ctx, sink.Path(), dst, format.ContentType()); err != nil {
			return err
		}
		fmt.Fprintf(stderr, "Uploaded to %s\n", dst)
	}
	return nil
}

// openSink resolves the destination. An existing file is only replaced with
// --force or after confirmation on a terminal.
func openSink(cmd *cobra.Command, pf *packFlags, root vnode.Node, format output.Format) (output.Sink, error) {
	if pf.output == stdoutOutput {
		return output.WriterSink(cmd.OutOrStdout(), ""), nil
	}

	path := pf.output
	if path == "" {
		name := root.Name()
		if root.Kind() == vnode.KindSelection {
			name = selectionOutputKey
		}
		path = name + format.Extension()
	}

	if _, err := os.Stat(path); err == nil && !pf.force {
		if !isTerminal(os.Stdin) {
			return nil, fmt.Errorf("output file %s already exists (use --force to overwrite)", path)
		}
		ok, err := promptUser(cmd.ErrOrStderr(), cmd.InOrStdin(), fmt.Sprintf("Output file %s already exists. Overwrite? (y/n): ", path))
		if err != nil {
			return nil, fmt.Errorf("failed to read user input: %w", err)
		}
		if !ok {
			return nil, errors.New("aborted: output file exists")
		}
	}
	sink, err := output.CreateFile(path, logging.Logger)
	if err != nil {
		return nil, err
	}
	return sink, nil
}

func s3Options(pf *packFlags) export.S3Options {
	opts := export.OptionsFromEnv()
	if pf.s3Region != "" {
		opts.Region = pf.s3Region
	}
	opts.Endpoint = pf.s3Endpoint
	opts.PathStyle = pf.s3PathStyle
	return opts
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
