package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"catmatch/internal"
	"catmatch/internal/blobstore"
	"catmatch/internal/catalog"
	"catmatch/internal/config"
	"catmatch/internal/connectors"
	"catmatch/internal/httpapi"
	"catmatch/internal/listener"
	"catmatch/internal/logger"
	"catmatch/internal/pipeline"
	"catmatch/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	must(err)
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	if cmd == "token:issue" {
		issueToken(cfg, os.Args[2:])
		return
	}

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	switch cmd {
	case "serve":
		must(serve(ctx, cfg, db, log))
	case "catalog:import":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "catalog spreadsheet (csv|xlsx)")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--file is required"))
		}
		content, err := os.ReadFile(*file)
		must(err)
		res, err := catalog.NewImporter(db, log).Import(ctx, content, filepath.Base(*file), "")
		must(err)
		fmt.Printf("catalog import done categories=%d subcategories=%d entries=%d skipped=%d\n", res.Categories, res.Subcategories, res.Entries, res.Skipped)
	case "run":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		input := fs.String("input", "", "input spreadsheet path")
		description := fs.String("description", "", "description column header")
		quantity := fs.String("quantity", "", "quantity column header (optional)")
		output := fs.String("output", "", "output xlsx path")
		_ = fs.Parse(os.Args[2:])
		if *input == "" || *description == "" || *output == "" {
			must(fmt.Errorf("--input --description --output are required"))
		}
		content, err := os.ReadFile(*input)
		must(err)
		cat := catalog.NewService(db, cfg, log)
		matcher := pipeline.NewTokenMatcher(cat, cfg.MatchMaxCandidates)
		rows, err := pipeline.MatchFile(ctx, content, "", filepath.Base(*input), internal.ColumnMapping{
			DescriptionColumn: *description,
			QuantityColumn:    *quantity,
		}, matcher, cfg, log)
		must(err)
		must(pipeline.ExportResultsToXLSX(rows, *output))
		fmt.Printf("run done rows=%d output=%s\n", len(rows), *output)
	case "export:xlsx":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		uploadID := fs.String("upload", "", "upload id")
		out := fs.String("out", "", "output xlsx path")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*uploadID) == "" || strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--upload and --out are required"))
		}
		u, err := db.GetUpload(ctx, *uploadID)
		must(err)
		rows, err := db.ExportRows(ctx, u.ID)
		must(err)
		must(pipeline.ExportResultsToXLSX(rows, *out))
		fmt.Printf("exported %d rows of upload %s (%s) to %s\n", len(rows), u.ID, u.Status, *out)
	case "mail:fetch":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", cfg.MailListenerProvider, "gmail|imap")
		label := fs.String("label", cfg.MailListenerLabel, "mailbox/label")
		max := fs.Int("max", 50, "max messages")
		_ = fs.Parse(os.Args[2:])
		cfg.MailListenerProvider = *provider
		conn, err := listener.NewConnector(ctx, cfg)
		must(err)
		blobs, err := blobstore.New(ctx, cfg)
		must(err)
		fetch := connectors.NewFetchService(db, blobs, conn)
		result, err := fetch.FetchAndStore(ctx, *label, *max)
		must(err)
		fmt.Printf("mail fetch done provider=%s fetched=%d stored=%d\n", *provider, result.Fetched, result.Stored)
	case "mail:listen":
		s, err := buildStack(ctx, cfg, db, log)
		must(err)
		l, err := buildListener(ctx, cfg, db, s, log)
		must(err)
		go maintain(ctx, s, cfg.MaintenanceInterval(), log)
		runErr := l.Run(ctx)
		must(shutdownRunner(s.runner))
		must(runErr)
	default:
		usage()
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg config.Config, db *storage.DB, log *logger.Logger) error {
	s, err := buildStack(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	app, err := httpapi.New(httpapi.Deps{
		Processing: s.processing,
		Registry:   s.registry,
		Review:     s.review,
		Catalog:    s.catalog,
		Health:     db,
	}, cfg, log)
	if err != nil {
		return err
	}

	if cfg.MailListenerEnabled {
		l, err := buildListener(ctx, cfg, db, s, log)
		if err != nil {
			return err
		}
		go func() { _ = l.Run(ctx) }()
	}

	listenErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		listenErr <- app.Listen(cfg.HTTPAddr)
	}()
	go maintain(ctx, s, cfg.MaintenanceInterval(), log)

	select {
	case err := <-listenErr:
		_ = shutdownRunner(s.runner)
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	return shutdownRunner(s.runner)
}

// shutdownRunner interrupts in-flight uploads. They stay PROCESSING and are
// picked up again on the next start.
func shutdownRunner(r *pipeline.Runner) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func issueToken(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("token:issue", flag.ExitOnError)
	user := fs.String("user", "", "user id (token subject)")
	role := fs.String("role", "", "role, e.g. admin")
	ttl := fs.Duration("ttl", cfg.TokenTTL(), "token lifetime")
	_ = fs.Parse(args)
	if strings.TrimSpace(*user) == "" {
		must(fmt.Errorf("--user is required"))
	}
	must(cfg.Require("JWT_SECRET", cfg.JWTSecret))
	token, err := httpapi.IssueToken(cfg.JWTSecret, *user, *role, *ttl, time.Now())
	must(err)
	fmt.Println(token)
}

func usage() {
	fmt.Println("usage: catmatch <command>")
	fmt.Println("commands:")
	fmt.Println("  serve")
	fmt.Println("  catalog:import --file=./catalogo.xlsx")
	fmt.Println("  run --input=pedido.xlsx --description=Descrição [--quantity=Qtd] --output=./out/result.xlsx")
	fmt.Println("  export:xlsx --upload=<id> --out=./out/result.xlsx")
	fmt.Println("  token:issue --user=<id> [--role=admin] [--ttl=24h]")
	fmt.Println("  mail:fetch --provider=gmail|imap --label=INBOX --max=50")
	fmt.Println("  mail:listen")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
