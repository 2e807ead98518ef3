// Command cutledger is the operator CLI: it imports legacy exports, confirms
// cuts and recuts, dumps article ledgers and runs reconciliation against the
// configured store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"go.uber.org/zap"

	"cutledger/internal/app"
	"cutledger/internal/config"
	"cutledger/internal/fabric"
	"cutledger/internal/ingest"
	"cutledger/internal/logger"
	"cutledger/pkg/domain"
)

var exitFunc = os.Exit

const usage = `usage: cutledger [-config path] [-env-only] <command> [flags]

commands:
  import     -file seed.json [-reconcile]
  cut        -order ID -meters M [-recut M:reason ...]
  recut      -order ID -recut M:reason [-recut M:reason ...]
  ledger     -article A
  reconcile  [-article A]
`

func main() {
	code := cli(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("cutledger", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { _, _ = fmt.Fprint(stderr, usage) }
	cfgPath := fs.String("config", "", "path to config yaml")
	envOnly := fs.Bool("env-only", false, "read configuration from the environment only")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*cfgPath, *envOnly || *cfgPath == "")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	// Commands print their own results; only warnings and errors go to the log.
	cfg.Log.Level = "warn"
	log, err := logger.New(cfg.Log)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "build logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("close storage failed", zap.Error(err))
		}
	}()

	cmd := &command{app: a, stdout: stdout, stderr: stderr}
	var run func(context.Context, []string) error
	switch rest[0] {
	case "import":
		run = cmd.importSeed
	case "cut":
		run = cmd.cut
	case "recut":
		run = cmd.recut
	case "ledger":
		run = cmd.ledger
	case "reconcile":
		run = cmd.reconcile
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", rest[0])
		fs.Usage()
		return 2
	}
	if err := run(ctx, rest[1:]); err != nil {
		if errors.Is(err, errUsage) {
			return 2
		}
		_, _ = fmt.Fprintf(stderr, "%s failed: %v\n", rest[0], err)
		return 1
	}
	return 0
}

var errUsage = errors.New("usage")

type command struct {
	app    *app.App
	stdout io.Writer
	stderr io.Writer
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

func (c *command) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *command) importSeed(ctx context.Context, args []string) (err error) {
	fs := c.flags("import")
	path := fs.String("file", "", "JSON export with fabricRolls and orders")
	reconcileAfter := fs.Bool("reconcile", false, "re-derive every article after import")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *path == "" {
		_, _ = fmt.Fprintln(c.stderr, "import: -file is required")
		return errUsage
	}
	file, err := os.Open(*path) // #nosec G304: operator supplied export
	if err != nil {
		return fmt.Errorf("open seed: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close seed: %w", cerr)
		}
	}()
	seed, err := ingest.ReadSeed(file)
	if err != nil {
		return err
	}
	res, err := c.app.Service.Import(ctx, seed)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.stdout, "imported %d rolls, %d orders (%d warnings)\n", len(seed.Rolls), len(seed.Orders), len(res.Warnings()))
	if *reconcileAfter {
		return c.reconcileAll(ctx)
	}
	return nil
}

func (c *command) cut(ctx context.Context, args []string) error {
	fs := c.flags("cut")
	orderID := fs.String("order", "", "order id")
	meters := fs.String("meters", "", "reported meters")
	var recuts recutFlags
	fs.Var(&recuts, "recut", "recut submitted with the cut, as meters:reason (repeatable)")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *orderID == "" || *meters == "" {
		_, _ = fmt.Fprintln(c.stderr, "cut: -order and -meters are required")
		return errUsage
	}
	reported, err := ingest.ParseMeters(*meters)
	if err != nil {
		return err
	}
	out, err := c.app.Service.ConfirmInitialCut(ctx, *orderID, reported, recuts)
	if err != nil {
		return err
	}
	return c.printJSON(out)
}

func (c *command) recut(ctx context.Context, args []string) error {
	fs := c.flags("recut")
	orderID := fs.String("order", "", "order id")
	var recuts recutFlags
	fs.Var(&recuts, "recut", "recut as meters:reason (repeatable)")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *orderID == "" {
		_, _ = fmt.Fprintln(c.stderr, "recut: -order is required")
		return errUsage
	}
	out, err := c.app.Service.ConfirmRecut(ctx, *orderID, recuts)
	if err != nil {
		return err
	}
	return c.printJSON(out)
}

func (c *command) ledger(ctx context.Context, args []string) error {
	fs := c.flags("ledger")
	article := fs.String("article", "", "article key")
	if err := parse(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*article) == "" {
		_, _ = fmt.Fprintln(c.stderr, "ledger: -article is required")
		return errUsage
	}
	ledger, err := c.app.Service.Ledger(ctx, domain.NormalizeArticle(*article))
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	_, _ = fmt.Fprintln(tw, "ROLL\tTOTAL\tRESERVED\tAVAILABLE\t")
	for _, r := range ledger.Rolls {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", r.RollNumber,
			r.TotalMeters.StringFixed(2), r.ReservedMeters.StringFixed(2), r.AvailableMeters.StringFixed(2))
	}
	_, _ = fmt.Fprintf(tw, "%s\t%s\t\t%s\t\n", "TOTAL", ledger.TotalMeters().StringFixed(2), ledger.FreeMeters().StringFixed(2))
	return tw.Flush()
}

func (c *command) reconcile(ctx context.Context, args []string) error {
	fs := c.flags("reconcile")
	article := fs.String("article", "", "article key; empty reconciles every article")
	if err := parse(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*article) == "" {
		return c.reconcileAll(ctx)
	}
	key := domain.NormalizeArticle(*article)
	rolls, _, err := c.app.Service.Reconcile(ctx, key)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.stdout, "%s: %d rolls rewritten\n", key, len(rolls))
	return nil
}

func (c *command) reconcileAll(ctx context.Context) error {
	counts, err := c.app.Service.ReconcileAll(ctx)
	articles, _ := c.app.Service.Articles(ctx)
	for _, a := range articles {
		if n, ok := counts[a]; ok {
			_, _ = fmt.Fprintf(c.stdout, "%s: %d rolls rewritten\n", a, n)
		}
	}
	return err
}

func (c *command) printJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// recutFlags collects repeated -recut meters:reason values.
type recutFlags []fabric.RecutRequest

func (r *recutFlags) String() string {
	parts := make([]string, 0, len(*r))
	for _, e := range *r {
		parts = append(parts, e.Meters.String()+":"+e.Reason)
	}
	return strings.Join(parts, ",")
}

func (r *recutFlags) Set(value string) error {
	raw, reason, ok := strings.Cut(value, ":")
	if !ok {
		return fmt.Errorf("recut %q: expected meters:reason", value)
	}
	meters, err := ingest.ParseMeters(raw)
	if err != nil {
		return err
	}
	*r = append(*r, fabric.RecutRequest{Meters: meters, Reason: strings.TrimSpace(reason)})
	return nil
}

var _ flag.Value = (*recutFlags)(nil)
