package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/frederic-klein/envex/internal/classify"
	"github.com/frederic-klein/envex/internal/config"
	"github.com/frederic-klein/envex/internal/explorer"
	"github.com/frederic-klein/envex/internal/logging"
	"github.com/frederic-klein/envex/internal/metadata"
	"github.com/frederic-klein/envex/internal/metapkg"
	"github.com/frederic-klein/envex/internal/registry"
	"github.com/frederic-klein/envex/internal/snapshot"
)

var (
	configPath string
	outputPath string
	format     string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	defaults := config.Default()

	rootCmd := &cobra.Command{
		Use:          "envex",
		Short:        "Environment explorer - splits a Python namespace into registry pins and local files",
		Long:         "envex classifies every module a captured Python namespace depends on as reinstallable from a package index or as local code to transfer, and writes the environment specification a remote host needs.",
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Config file (default $XDG_CONFIG_HOME/envex/envex.toml or ./envex.toml)")
	flags.String("index-url", defaults.IndexURL, "Primary package index")
	flags.StringSlice("extra-index-urls", nil, "Additional package indexes, tried in order")
	flags.String("target-python", defaults.TargetPython, "Python version of the remote host (default: the captured interpreter, else "+registry.DefaultPython.String()+")")
	flags.String("platform", defaults.Platform, "Platform tag of the remote host")
	flags.StringSlice("site-packages", nil, "Site directories to index (default: from the capture)")
	flags.StringSlice("stop-list", nil, "Top-level modules never followed")
	flags.StringToString("additional-packages", nil, "Explicit name=version pins that replace classification")
	flags.Int("cache-size", defaults.CacheSize, "Index pages kept in memory")
	flags.IntP("workers", "w", defaults.Workers, "Parallel index lookups")
	flags.Duration("timeout", defaults.Timeout, "Overall timeout for index lookups")
	flags.String("log-level", defaults.LogLevel, "Log level (debug, info, warn, error)")

	exploreCmd := &cobra.Command{
		Use:   "explore <capture>",
		Short: "Write the environment specification for a captured namespace",
		Args:  cobra.ExactArgs(1),
		RunE:  runExplore,
	}
	classifyCmd := &cobra.Command{
		Use:   "classify <capture>",
		Short: "List the package records of every module a captured namespace uses",
		Args:  cobra.ExactArgs(1),
		RunE:  runClassify,
	}
	distsCmd := &cobra.Command{
		Use:   "dists",
		Short: "Classify every distribution installed in the site directories",
		Args:  cobra.NoArgs,
		RunE:  runDists,
	}
	for _, cmd := range []*cobra.Command{exploreCmd, classifyCmd, distsCmd} {
		cmd.Flags().StringVarP(&outputPath, "output", "o", "-", "Output path, - for stdout")
		cmd.Flags().StringVarP(&format, "format", "f", string(snapshot.FormatYAML), "Output format: yaml, json or requirements")
	}

	checkIndexCmd := &cobra.Command{
		Use:   "check-index [url...]",
		Short: "Check that package index URLs serve the simple API",
		RunE:  runCheckIndex,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	})

	rootCmd.AddCommand(exploreCmd, classifyCmd, distsCmd, checkIndexCmd, configCmd)
	return rootCmd
}

// app holds what every command needs after configuration is loaded.
type app struct {
	cfg    *config.Config
	logger *log.Logger

	index    *metadata.Index
	registry *registry.Resolver
}

func setup(cmd *cobra.Command) (*app, error) {
	cfg, path, err := config.Load(config.LoadOptions{ConfigFile: configPath, Flags: cmd.Flags()})
	if err != nil {
		return nil, err
	}
	logger := logging.New(cmd.ErrOrStderr(), cfg.Level())
	if path != "" {
		logger.Debug("loaded config", "path", path)
	}
	return &app{cfg: cfg, logger: logger}, nil
}

func (a *app) context(parent context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.Timeout > 0 {
		return context.WithTimeout(parent, a.cfg.Timeout)
	}
	return context.WithCancel(parent)
}

// classifier loads the distributions of sites and wires the registry and
// meta-package lookups around them.
func (a *app) classifier(ctx context.Context, sites []string) (*classify.Classifier, error) {
	if len(a.cfg.SitePackages) > 0 {
		sites = a.cfg.SitePackages
	}
	if len(sites) == 0 {
		return nil, errors.New("no site directories: pass --site-packages or list them in the capture")
	}

	a.logger.Debug("indexing distributions", "sites", sites)
	idx, err := metadata.Shared(ctx, sites, a.logger)
	if err != nil {
		return nil, err
	}

	target, err := a.cfg.Target()
	if err != nil {
		return nil, err
	}
	reg, err := registry.NewResolver(registry.Options{
		IndexURL:       a.cfg.IndexURL,
		ExtraIndexURLs: a.cfg.ExtraIndexURLs,
		Target:         target,
		CacheSize:      a.cfg.CacheSize,
		Logger:         a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating registry resolver: %w", err)
	}
	a.index, a.registry = idx, reg

	return classify.New(classify.Options{
		Index:    idx,
		Meta:     metapkg.NewResolver(idx, a.logger),
		Registry: reg,
		Logger:   a.logger,
	}), nil
}

// useCapture targets the captured interpreter when no target_python is
// configured.
func (a *app) useCapture(capture *snapshot.Capture) {
	if a.cfg.TargetPython == "" && capture.Python != "" {
		a.logger.Debug("targeting captured interpreter", "python", capture.Python)
		a.cfg.TargetPython = capture.Python
	}
}

// explorer must be called after classifier, whose resolver settles the
// index URLs.
func (a *app) explorer(c explorer.Classifier, stdlib []string) *explorer.Explorer {
	return explorer.New(explorer.Config{
		IndexURL:           a.registry.IndexURL(),
		ExtraIndexURLs:     a.registry.ExtraIndexURLs(),
		AdditionalPackages: a.cfg.AdditionalPackages,
		StopList:           a.cfg.StopList,
		ExtraStdlib:        stdlib,
	}, c, a.logger)
}

func readCapture(path string) (*snapshot.Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening capture: %w", err)
	}
	defer f.Close()

	capture, err := snapshot.NewParser(f).Parse()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return capture, nil
}

// withOutput runs fn with an emitter writing f to the --output path.
func withOutput(cmd *cobra.Command, f snapshot.Format, fn func(*snapshot.Emitter) error) error {
	var w io.Writer = cmd.OutOrStdout()
	if outputPath != "-" && outputPath != "" {
		file, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer file.Close()
		w = file
	}
	if err := fn(snapshot.NewEmitter(w, f)); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}

func runExplore(cmd *cobra.Command, args []string) error {
	f, err := snapshot.ParseFormat(format)
	if err != nil {
		return err
	}
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := a.context(cmd.Context())
	defer cancel()

	capture, err := readCapture(args[0])
	if err != nil {
		return err
	}
	a.useCapture(capture)
	c, err := a.classifier(ctx, capture.SitePackages)
	if err != nil {
		return err
	}

	spec, err := a.explorer(c, capture.Stdlib).EnvironmentSpec(ctx, capture.Namespace)
	if err != nil {
		return err
	}
	a.logger.Info("explored namespace",
		"registry", len(spec.RegistryPackages), "local_paths", len(spec.LocalModulePaths))

	return withOutput(cmd, f, func(e *snapshot.Emitter) error { return e.Emit(spec) })
}

func runClassify(cmd *cobra.Command, args []string) error {
	f, err := snapshot.ParseFormat(format)
	if err != nil {
		return err
	}
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := a.context(cmd.Context())
	defer cancel()

	capture, err := readCapture(args[0])
	if err != nil {
		return err
	}
	a.useCapture(capture)
	c, err := a.classifier(ctx, capture.SitePackages)
	if err != nil {
		return err
	}

	pkgs, err := a.explorer(c, capture.Stdlib).Packages(ctx, capture.Namespace)
	if err != nil {
		return err
	}
	return withOutput(cmd, f, func(e *snapshot.Emitter) error { return e.EmitPackages(pkgs) })
}

func runDists(cmd *cobra.Command, args []string) error {
	f, err := snapshot.ParseFormat(format)
	if err != nil {
		return err
	}
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := a.context(cmd.Context())
	defer cancel()

	c, err := a.classifier(ctx, nil)
	if err != nil {
		return err
	}
	dists := a.index.Distributions()

	// Warm the index page cache concurrently; classification then resolves
	// from memory.
	jobs := make([]registry.Job, len(dists))
	for i, d := range dists {
		jobs[i] = registry.Job{Name: d.Name, Version: d.Version}
	}
	for _, res := range a.registry.ResolveAll(ctx, jobs, a.cfg.Workers) {
		if res.Err != nil {
			return fmt.Errorf("resolving %s: %w", res.Job.Name, res.Err)
		}
	}

	pkgs, err := c.ClassifyDistributions(ctx, dists)
	if err != nil {
		return err
	}
	a.logger.Info("classified distributions", "count", len(dists), "records", len(pkgs))
	return withOutput(cmd, f, func(e *snapshot.Emitter) error { return e.EmitPackages(pkgs) })
}

func runCheckIndex(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := a.context(cmd.Context())
	defer cancel()

	urls := args
	if len(urls) == 0 {
		urls = append([]string{a.cfg.IndexURL}, a.cfg.ExtraIndexURLs...)
	}

	client := &http.Client{}
	results := make([]error, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(func() error {
			err := registry.ValidateIndexURL(gctx, client, u)
			var bad *registry.BadIndexError
			if err != nil && !errors.As(err, &bad) {
				return err
			}
			results[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var failed []string
	for i, u := range urls {
		if results[i] != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", u, results[i])
			failed = append(failed, u)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok   %s\n", u)
	}
	if len(failed) > 0 {
		return fmt.Errorf("invalid package index: %s", strings.Join(failed, ", "))
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, path, err := config.Load(config.LoadOptions{ConfigFile: configPath, Flags: cmd.Flags()})
	if err != nil {
		return err
	}
	out, err := cfg.TOML()
	if err != nil {
		return err
	}
	if path != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", path)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
