// Command aeval evaluates snippets from the command line, a file or an
// interactive prompt, keeping variables between snippets.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/robbyt/go-aeval"
	"github.com/robbyt/go-aeval/data"
	"github.com/robbyt/go-aeval/loader"
	"github.com/robbyt/go-aeval/modules"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	color := term.IsTerminal(int(os.Stdout.Fd()))
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, color))
}

// run is main without the process globals. It returns the exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, tty bool) int {
	fs := flag.NewFlagSet("aeval", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a YAML config file")
	expr := fs.String("e", "", "evaluate `code` and exit")
	asJSON := fs.Bool("json", false, "print results as JSON")
	noColor := fs.Bool("no-color", false, "disable colored output")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: aeval [flags] [file | -]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	color := tty && !*noColor
	if cfg.Color != nil && !*cfg.Color {
		color = false
	}
	p := newPrinter(stdout, stderr, color, *asJSON)

	ev, registry, err := newEvaluator(cfg, stdout, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() {
		if err := registry.Close(context.Background()); err != nil {
			fmt.Fprintln(stderr, err)
		}
	}()

	switch {
	case *expr != "":
		return once(ctx, ev, p, *expr)
	case fs.NArg() == 1:
		l, err := sourceLoader(fs.Arg(0), stdin)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		code, err := loader.ReadAll(l)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		return once(ctx, ev, p, code)
	}

	r := &repl{ev: ev, p: p, in: stdin, prompts: io.Discard}
	if tty {
		r.prompts = stdout
	}
	if err := r.run(ctx); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

// sourceLoader loads the snippet named by the file argument; "-" reads
// stdin. Bare names are taken as paths relative to the working directory.
func sourceLoader(arg string, stdin io.Reader) (loader.Loader, error) {
	if arg == "-" {
		return loader.NewFromIoReader(stdin, "stdin")
	}
	if !strings.Contains(arg, "://") && !filepath.IsAbs(arg) && !strings.HasPrefix(arg, ".") {
		arg = "./" + arg
	}
	return loader.InferLoader(arg)
}

func once(ctx context.Context, ev *aeval.Evaluator, p *printer, code string) int {
	v, err := ev.Evaluate(ctx, code)
	if err != nil {
		p.trace(ev.RenderTrace(err))
		return 1
	}
	if err := p.result(v); err != nil {
		p.trace(err.Error())
		return 1
	}
	return 0
}

// newEvaluator builds the evaluator and the module registry it imports
// from. The caller closes the registry.
func newEvaluator(cfg *Config, stdout, stderr io.Writer) (*aeval.Evaluator, *modules.Registry, error) {
	level, err := cfg.level()
	if err != nil {
		return nil, nil, err
	}
	handler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})

	regOpts := []modules.Option{modules.WithLogHandler(handler)}
	if len(cfg.StarlarkPath) > 0 {
		regOpts = append(regOpts, modules.WithStarlarkPath(cfg.StarlarkPath...))
	}
	if len(cfg.WasmPath) > 0 {
		regOpts = append(regOpts, modules.WithWasmPath(cfg.WasmPath...))
	}
	registry, err := modules.NewRegistry(regOpts...)
	if err != nil {
		return nil, nil, err
	}

	opts := []aeval.Option{
		aeval.WithLogHandler(handler),
		aeval.WithModules(registry),
		aeval.WithStdout(stdout),
	}
	if cfg.CacheSize > 0 {
		opts = append(opts, aeval.WithCacheSize(cfg.CacheSize))
	}
	if len(cfg.Globals) > 0 {
		opts = append(opts, aeval.WithDataProvider(data.NewStaticProvider(cfg.Globals)))
	}

	ev, err := aeval.New(opts...)
	if err != nil {
		return nil, nil, errors.Join(err, registry.Close(context.Background()))
	}
	return ev, registry, nil
}
