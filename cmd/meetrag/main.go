package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"meetrag/internal/config"
	"meetrag/internal/domain"
	"meetrag/internal/ingest"
	"meetrag/internal/log"
	"meetrag/internal/memory"
	"meetrag/internal/recordstore"
	"meetrag/internal/retrieval"
	"meetrag/internal/server"
	"meetrag/internal/tui"
)

const usage = `Usage: meetrag [--config=config.yaml] <command> [flags]

Commands:
  serve                  run the HTTP API
  ingest FILE...         ingest audio or text files
  list                   list stored meetings
  search [--q QUERY]     search meetings (interactive without --q)
  delete ID...           delete meetings and their chunks
  reindex                rebuild the vector index from stored meetings
`

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/meetrag/config.yaml if not provided)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}
	log.SetLevel(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg)
	if err != nil {
		log.Errorf("startup failed: %v", err)
		os.Exit(1)
	}
	defer a.Close()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "serve":
		err = runServe(ctx, a, args)
	case "ingest":
		err = runIngest(ctx, a, args)
	case "list":
		err = runList(ctx, a, args)
	case "search":
		err = runSearch(ctx, a, args)
	case "delete":
		err = runDelete(ctx, a, args)
	case "reindex":
		err = runReindex(ctx, a)
	default:
		flag.Usage()
		a.Close()
		os.Exit(2)
	}
	if err != nil {
		log.Errorf("%s: %v", cmd, err)
		a.Close()
		os.Exit(1)
	}
}

func runServe(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", a.cfg.Server.Addr, "listen address")
	_ = fs.Parse(args)

	if err := a.svc.EnsureIndexed(ctx); err != nil {
		log.Warnf("startup reindex incomplete: %v", err)
	}
	if store, ok := a.convs.(*memory.InMemoryStore); ok {
		idle := time.Duration(a.cfg.Memory.IdleTTLMins) * time.Minute
		go store.RunCleanup(ctx, time.Hour, idle)
	}

	srv := server.New(a.svc,
		server.WithCORSOrigins(a.cfg.Server.CORSOrigins...),
		server.WithUploadDir(a.cfg.Server.UploadDir),
		server.WithMaxUploadBytes(int64(a.cfg.Server.MaxUploadMB)<<20),
		server.WithRequestTimeout(config.Seconds(a.cfg.Server.RequestTimeout)),
	)
	httpSrv := &http.Server{Addr: *addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", *addr)
		errCh <- httpSrv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Infof("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}

func runIngest(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	language := fs.String("language", "", "transcript language code (vi, en, ...)")
	meetingType := fs.String("type", ingest.MeetingTypeAuto, "meeting type or auto")
	title := fs.String("title", "", "meeting title")
	outputLang := fs.String("output-lang", "", "language of the analysis")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		return domain.Validationf("ingest needs at least one file")
	}

	meta := ingest.Metadata{Language: *language, MeetingType: *meetingType, Title: *title, OutputLang: *outputLang}
	var failed int
	for _, path := range fs.Args() {
		rec, err := a.svc.IngestFile(ctx, path, meta)
		switch {
		case err != nil && rec != nil:
			failed++
			fmt.Printf("%s\t%s\t%s\t%s\n", path, rec.ID, rec.Status, rec.FailureReason)
		case err != nil:
			failed++
			fmt.Printf("%s\t-\terror\t%v\n", path, err)
		default:
			fmt.Printf("%s\t%s\t%s\t%d chunks\n", path, rec.ID, rec.Status, len(rec.ChunkIDs))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, fs.NArg())
	}
	return nil
}

func runList(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	var q recordstore.ListQuery
	fs.StringVar(&q.MeetingType, "type", "", "only this meeting type")
	fs.StringVar(&q.Language, "language", "", "only this language")
	fs.StringVar(&q.Sort, "sort", recordstore.SortNewest, "newest, oldest or name")
	fs.IntVar(&q.Limit, "limit", 20, "page size")
	fs.IntVar(&q.Offset, "offset", 0, "page offset")
	_ = fs.Parse(args)

	page, err := a.svc.List(ctx, q)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tTYPE\tLANG\tSTATUS\tSOURCE")
	for _, rec := range page.Records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", rec.ID, rec.CreatedAt.Format(time.DateTime),
			rec.MeetingType, rec.Language, rec.Status, rec.Source.OriginalFile)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("%d of %d meetings\n", len(page.Records), page.Total)
	return nil
}

func runSearch(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	query := fs.String("q", "", "run one query and print JSON instead of opening the TUI")
	meetingID := fs.String("meeting", "", "restrict to one meeting")
	topK := fs.Int("k", retrieval.DefaultTopK, "number of results")
	_ = fs.Parse(args)

	if err := a.svc.EnsureIndexed(ctx); err != nil {
		log.Warnf("reindex incomplete: %v", err)
	}
	if strings.TrimSpace(*query) != "" {
		req := retrieval.Request{Query: *query, TopK: topK}
		req.Filter.MeetingID = *meetingID
		res, err := a.svc.Search(ctx, req)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	health, err := a.svc.Health(ctx)
	if err != nil {
		return err
	}
	summary := fmt.Sprintf("%v meetings, %v chunks indexed", health["meetings"], health["chunks"])
	if !a.chatable {
		summary += " (chat disabled: no llm configured)"
	}
	_, err = tea.NewProgram(tui.New(a.svc, summary, *meetingID), tea.WithAltScreen()).Run()
	return err
}

func runDelete(ctx context.Context, a *app, ids []string) error {
	if len(ids) == 0 {
		return domain.Validationf("delete needs at least one meeting id")
	}
	for _, id := range ids {
		if err := a.svc.Delete(ctx, id); err != nil {
			return err
		}
		fmt.Println("deleted", id)
	}
	return nil
}

func runReindex(ctx context.Context, a *app) error {
	report, err := a.svc.Reindex(ctx)
	if report != nil {
		fmt.Printf("reindexed %d meetings (%d chunks), skipped %d, failed %d\n",
			report.Meetings, report.Chunks, report.Skipped, len(report.Failed))
		for id, reason := range report.Failed {
			fmt.Printf("  %s: %s\n", id, reason)
		}
	}
	return err
}
