// pics transcodes image files with the imagestream registry.
//
// Every file is its own decode/encode session; --jobs bounds how many run
// at once.  Output is written next to a temporary name and moved into place
// only when the session succeeds.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/Skryldev/imagestream"
	"github.com/Skryldev/imagestream/adapters/storage"
	"github.com/Skryldev/imagestream/adapters/vips"
	"github.com/Skryldev/imagestream/config"
	"github.com/Skryldev/imagestream/core"
	"github.com/Skryldev/imagestream/hooks"
	"github.com/Skryldev/imagestream/pipeline"
	"github.com/Skryldev/imagestream/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	to          string
	outDir      string
	configPath  string
	jobs        int
	quality     int
	colors      int
	dither      bool
	compression string
	lossless    bool
	strip       bool
	meta        bool
	useVips     bool
	list        bool
	info        bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var o options
	flagSet := pflag.NewFlagSet("pics", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&o.to, "to", "t", "", "output format: MIME type or extension (png, jpg, gif, bmp, tiff, pxrw, ...)")
	flagSet.StringVarP(&o.outDir, "out-dir", "o", ".", "directory for converted files")
	flagSet.StringVarP(&o.configPath, "config", "c", "", "YAML or JSON(C) configuration file")
	flagSet.IntVarP(&o.jobs, "jobs", "j", 0, "files converted at once (default: config concurrency)")
	flagSet.IntVarP(&o.quality, "quality", "q", 0, "lossy encoder quality, 1-100")
	flagSet.IntVar(&o.colors, "colors", 0, "palette size when the target is indexed, 2-256")
	flagSet.BoolVar(&o.dither, "dither", false, "dither when reducing to a palette")
	flagSet.StringVar(&o.compression, "compression", "", "pixraw payload compression: none, lz4, zstd")
	flagSet.BoolVar(&o.lossless, "lossless", false, "ask the encoder for lossless output")
	flagSet.BoolVar(&o.strip, "strip", false, "drop metadata")
	flagSet.BoolVar(&o.meta, "meta", false, "write decoded metadata to FILE.meta.json")
	flagSet.BoolVar(&o.useVips, "vips", false, "enable libvips codecs (webp, avif, heif)")
	flagSet.BoolVar(&o.list, "list", false, "list registered decoders and encoders")
	flagSet.BoolVar(&o.info, "info", false, "decode only and describe each file")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return nil
	}

	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return err
		}
	}
	applyFlags(&cfg, flagSet, o)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	metrics := hooks.NewInMemoryMetrics()
	proc := imagestream.New(cfg)
	proc.SetLogger(hooks.NewSlogLogger(logger))
	proc.SetMetrics(metrics)
	proc.AddHook(hooks.NewLoggingHook(hooks.NewSlogLogger(logger)))

	if o.useVips {
		backend := vips.NewBackend(vips.BackendConfig{DefaultQuality: cfg.DefaultQuality, MaxWorkers: cfg.Concurrency})
		defer backend.Shutdown()
		vips.Register(proc.Registry(), backend)
	}

	if o.list {
		return list(stdout, proc.Registry())
	}
	files := flagSet.Args()
	if len(files) == 0 {
		printHelp(stderr, flagSet)
		return errors.New("no input files")
	}
	if o.info {
		return inspect(ctx, stdout, proc, files)
	}
	if o.to == "" {
		o.to = cfg.DefaultFormat
	}

	store, err := storage.NewLocal(o.outDir, 0)
	if err != nil {
		return err
	}
	c := &converter{
		proc:  proc,
		store: store,
		key:   utils.MIMEFor(o.to),
		opts:  core.EncodeOptions{Lossless: o.lossless, StripMetadata: o.strip},
		meta:  o.meta,
		log:   logger,
	}

	var (
		g        errgroup.Group
		mu       sync.Mutex
		failures []error
	)
	g.SetLimit(cfg.Concurrency)
	for _, path := range files {
		g.Go(func() error {
			if err := c.convert(ctx, path); err != nil {
				logger.Error("pics.failed", "file", path, "error", err)
				mu.Lock()
				failures = append(failures, fmt.Errorf("%s: %w", path, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	snap := metrics.Snapshot()
	logger.Info("pics.summary",
		"files", len(files),
		"failed", len(failures),
		"bytes_in", snap.TotalBytesIn,
		"bytes_out", snap.TotalBytesOut,
	)
	return errors.Join(failures...)
}

// applyFlags overrides configuration values with explicitly set flags.
func applyFlags(cfg *config.Config, fs *pflag.FlagSet, o options) {
	if fs.Changed("jobs") {
		cfg.Concurrency = o.jobs
	}
	if fs.Changed("quality") {
		cfg.DefaultQuality = o.quality
	}
	if fs.Changed("colors") {
		cfg.Colors = o.colors
	}
	if fs.Changed("dither") {
		cfg.Dither = o.dither
	}
	if fs.Changed("compression") {
		cfg.Compression = o.compression
	}
}

// ── Conversion ────────────────────────────────────────────────────────────────

type converter struct {
	proc  *imagestream.Processor
	store *storage.Local
	key   string
	opts  core.EncodeOptions
	meta  bool
	log   *slog.Logger
}

func (c *converter) convert(ctx context.Context, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	name := outputName(path, c.key)
	out, err := c.store.Create(ctx, name)
	if err != nil {
		return err
	}
	b, err := c.proc.Encode(c.key, out, c.opts)
	if err != nil {
		out.Discard()
		return err
	}

	var sink core.PixelSink = b
	rec := &pipeline.Collector{DiscardPixels: true}
	if c.meta {
		sink = pipeline.Tee(b, rec)
	}
	if err := c.proc.Decode(ctx, in, sink); err != nil {
		out.Discard()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if c.meta {
		if err := c.store.WriteMeta(name, imagestream.MergeMeta(rec.Metas)); err != nil {
			return err
		}
	}
	c.log.Debug("pics.converted", "file", path, "output", c.store.Path(name), "bytes", b.BytesOut())
	return nil
}

// outputName replaces the extension of path with the usual one for mime.
func outputName(path, mime string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base)) + utils.ExtensionFor(mime)
}

// ── Listing ───────────────────────────────────────────────────────────────────

func list(w io.Writer, reg *core.DefaultRegistry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DECODERS (probe order)")
	for i, name := range reg.Decoders() {
		fmt.Fprintf(tw, "  %d\t%s\n", i+1, name)
	}
	fmt.Fprintln(tw, "ENCODERS")
	for _, key := range reg.Encoders() {
		e, _ := reg.FindEncoder(key)
		fmt.Fprintf(tw, "  %s\t%s\n", key, e.Name())
	}
	return tw.Flush()
}

func inspect(ctx context.Context, w io.Writer, proc *imagestream.Processor, files []string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tDECODER\tSIZE\tCOLOR\tFRAMES\tMETA")
	var failures []error
	for _, path := range files {
		info, err := inspectFile(ctx, proc, path)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", path, err))
			continue
		}
		keys := slices.Sorted(maps.Keys(info.Meta))
		fmt.Fprintf(tw, "%s\t%s\t%dx%d\t%s\t%d\t%s\n",
			path, info.Plugin, info.Format.Width, info.Format.Height,
			info.Format.ColorSpace, info.Frames, strings.Join(keys, ","))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return errors.Join(failures...)
}

func inspectFile(ctx context.Context, proc *imagestream.Processor, path string) (*imagestream.Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return proc.Inspect(ctx, f)
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `pics converts images between formats as streams.

Usage:
  pics [flags] FILE...

Examples:
  # Convert to PNG in ./out
  pics -t png -o out photo.jpg

  # Reduce to a 64 color dithered GIF
  pics -t gif --colors 64 --dither banner.png

  # Pack into the lossless pixraw container
  pics -t pxrw --compression lz4 *.tiff

  # Show what the decoders see
  pics --info animation.gif

Flags:
`)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}
