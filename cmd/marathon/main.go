package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mmcdole/marathon/internal/adapter"
	"github.com/mmcdole/marathon/internal/adapter/source/progressapi"
	"github.com/mmcdole/marathon/internal/catalog"
	"github.com/mmcdole/marathon/internal/domain"
	"github.com/mmcdole/marathon/internal/progress"
	"github.com/mmcdole/marathon/internal/store"
	"github.com/mmcdole/marathon/internal/tui"
	"github.com/mmcdole/marathon/internal/tui/styles"
	"golang.org/x/term"
)

// Version is set at build time via -ldflags
var Version = "dev"

// clearSpinnerLine clears the spinner line from the terminal
const clearSpinnerLine = "\r                                    \r"

const usage = `usage: marathon [flags] [command]

commands:
  (none)              open the checklist, or print status when not on a terminal
  status              print progress
  watch <episode>     mark an episode watched (ID or title)
  unwatch <episode>   mark an episode unwatched
  reset [-y]          clear all progress

flags:
`

func main() {
	var showVersion, clearCache bool
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.BoolVar(&clearCache, "clear-cache", false, "delete cached progress and exit")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("marathon %s\n", Version)
		return
	}

	if err := run(flag.Args(), clearCache); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles the wired services for one invocation
type app struct {
	cfg     *adapter.Config
	logger  *slog.Logger
	store   *store.QueryStore
	svc     *progress.Service
	catalog *catalog.Catalog
}

func run(args []string, clearCache bool) error {
	cfg, err := adapter.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := adapter.SetupLogger(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = adapter.NullLogger()
	}
	slog.SetDefault(logger)

	logger.Info("starting marathon", "version", Version)

	if clearCache {
		return runClearCache(os.Stdout, cfg, logger)
	}

	if !cfg.IsConfigured() {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return errors.New("server.url is not configured (set MARATHON_SERVER_URL or run marathon in a terminal)")
		}
		return runSetupFlow(cfg, logger)
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if len(args) == 0 {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return a.runTUI()
		}
		return a.runStatus(os.Stdout)
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "status":
		return a.runStatus(os.Stdout)
	case "watch":
		return a.runSetWatched(os.Stdout, rest, true)
	case "unwatch":
		return a.runSetWatched(os.Stdout, rest, false)
	case "reset":
		return a.runReset(os.Stdin, os.Stdout, rest)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newApp(cfg *adapter.Config, logger *slog.Logger) (*app, error) {
	st, err := store.NewQueryStore(cfg.Cache.Dir, cfg.Server.URL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	var cat *catalog.Catalog
	if cfg.Catalog.File != "" {
		cat, err = catalog.Load(cfg.Catalog.File)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		logger.Info("catalog loaded", "file", cfg.Catalog.File, "episodes", cat.Len())
	}

	client := progressapi.NewClient(cfg.Server.URL, cfg.API.Timeout, logger)
	attempts := time.Duration(cfg.API.LoadRetries + 1)
	svc := progress.NewService(client, st, logger, progress.Options{
		LoadRetries:  cfg.API.LoadRetries,
		RetryDelay:   cfg.API.RetryDelay,
		FetchTimeout: attempts*cfg.API.Timeout + (attempts-1)*cfg.API.RetryDelay,
	})

	return &app{cfg: cfg, logger: logger, store: st, svc: svc, catalog: cat}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close cache", "error", err)
	}
}

func (a *app) runTUI() error {
	model := tui.NewModel(a.svc, a.catalog)
	model.ShowFilterHint = a.cfg.UI.ShowFilterHint

	p := tea.NewProgram(model, tea.WithAltScreen())

	a.logger.Info("starting TUI")

	if _, err := p.Run(); err != nil {
		a.logger.Error("TUI error", "error", err)
		return fmt.Errorf("TUI error: %w", err)
	}

	a.logger.Info("shutting down")
	return nil
}

// runStatus prints the summary and the episode list
func (a *app) runStatus(w io.Writer) error {
	ctx, cancel := a.requestContext()
	defer cancel()

	data, err := a.svc.Load(ctx)
	if err != nil {
		return err
	}

	summary := data.Summary
	episodes := a.catalog.Episodes()
	if a.catalog.Len() > 0 {
		summary = progress.ComputeSummary(data.WatchedEpisodes, episodes, time.Now())
	} else {
		episodes = knownEpisodes(data.WatchedEpisodes)
	}

	fmt.Fprintf(w, "%d/%d watched (%.0f%%), %d crossovers, streak %d\n",
		summary.TotalWatched, summary.TotalEpisodes, summary.Percent(),
		summary.CrossoversWatched, summary.CurrentStreak)
	if !data.Summary.LastUpdated.IsZero() {
		fmt.Fprintf(w, "last updated %s\n", data.Summary.LastUpdated.Local().Format(time.RFC1123))
	}
	fmt.Fprintln(w)
	fmt.Fprint(w, tui.RenderPlainList(data, episodes))
	return nil
}

func (a *app) runSetWatched(w io.Writer, args []string, watched bool) error {
	if len(args) == 0 {
		return errors.New("missing episode")
	}

	ep, err := a.resolveEpisode(strings.Join(args, " "))
	if err != nil {
		return err
	}

	ctx, cancel := a.requestContext()
	defer cancel()

	if err := a.svc.SetEpisodeWatched(ctx, ep.ID, watched); err != nil {
		return err
	}

	verb := "unwatched"
	if watched {
		verb = "watched"
	}
	fmt.Fprintf(w, "✓ Marked %s %s\n", ep.DisplayTitle(), verb)
	return nil
}

// resolveEpisode maps a query to an episode. Without a catalog the query is the ID.
func (a *app) resolveEpisode(query string) (domain.Episode, error) {
	if a.catalog.Len() == 0 {
		return domain.Episode{ID: strings.TrimSpace(query)}, nil
	}
	ep, err := a.catalog.Resolve(query)
	if err != nil {
		return domain.Episode{}, fmt.Errorf("%q: %w", query, err)
	}
	return ep, nil
}

func (a *app) runReset(in *os.File, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	yes := fs.Bool("y", false, "skip confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*yes {
		if !term.IsTerminal(int(in.Fd())) {
			return errors.New("refusing to reset without -y when stdin is not a terminal")
		}
		ok, err := confirm(in, w, "Reset all progress? [y/N]: ")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(w, "Cancelled.")
			return nil
		}
	}

	ctx, cancel := a.requestContext()
	defer cancel()

	if err := a.svc.ResetProgress(ctx); err != nil {
		return err
	}
	fmt.Fprintln(w, "✓ Progress reset")
	return nil
}

func (a *app) requestContext() (context.Context, context.CancelFunc) {
	// Room for the load, its retry and the delay between them
	timeout := a.cfg.API.Timeout*time.Duration(1+a.cfg.API.LoadRetries) + a.cfg.API.RetryDelay
	return context.WithTimeout(context.Background(), timeout)
}

// knownEpisodes lists the IDs the server knows about when there is no catalog
func knownEpisodes(watched domain.WatchedEpisodes) []domain.Episode {
	ids := make([]string, 0, len(watched))
	for id := range watched {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	eps := make([]domain.Episode, len(ids))
	for i, id := range ids {
		eps[i] = domain.Episode{ID: id}
	}
	return eps
}

func confirm(in io.Reader, w io.Writer, prompt string) (bool, error) {
	fmt.Fprint(w, prompt)
	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read input: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(input))
	return answer == "y" || answer == "yes", nil
}

// runClearCache drops every entry in the configured disk cache
func runClearCache(w io.Writer, cfg *adapter.Config, logger *slog.Logger) error {
	if cfg.Cache.Dir == "" {
		fmt.Fprintln(w, "No disk cache configured (cache.dir is empty); nothing to clear.")
		return nil
	}

	st, err := store.NewQueryStore(cfg.Cache.Dir, cfg.Server.URL, logger)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer st.Close()

	if err := st.InvalidateAll(); err != nil {
		return err
	}
	logger.Info("cache cleared", "dir", cfg.Cache.Dir)
	fmt.Fprintf(w, "Cache cleared (%s)\n", cfg.Cache.Dir)
	return nil
}

// runSetupFlow handles the initial setup when not configured
func runSetupFlow(cfg *adapter.Config, logger *slog.Logger) error {
	fmt.Println()
	fmt.Println("Welcome to marathon!")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	// Loop until the server answers
	for {
		fmt.Print("Enter your progress server URL (e.g., http://localhost:5000): ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		serverURL := strings.TrimRight(strings.TrimSpace(input), "/")

		if serverURL == "" {
			fmt.Println("Server URL cannot be empty. Please try again.")
			continue
		}

		fmt.Println()
		data, err := probeServerWithSpinner(serverURL, cfg.API.Timeout, logger)
		if err != nil {
			fmt.Printf("\n✗ Could not reach server: %v\n", err)
			fmt.Println("Please check the URL and try again.")
			fmt.Println()
			continue
		}
		fmt.Printf("✓ Connected: %d episodes watched\n", data.Summary.TotalWatched)

		cfg.Server.URL = serverURL
		break
	}

	fmt.Print("Episode catalog file (optional, press enter to skip): ")
	input, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read input: %w", err)
	}
	if path := strings.TrimSpace(input); path != "" {
		cat, err := catalog.Load(path)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Catalog has %d episodes\n", cat.Len())
		cfg.Catalog.File = path
	}

	keep, err := confirm(reader, os.Stdout, fmt.Sprintf("Keep an offline cache in %s? [y/N] ", adapter.GetCachePath()))
	if err != nil {
		return err
	}
	if keep {
		cfg.Cache.Dir = adapter.GetCachePath()
	}

	if err := adapter.SaveConfig(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println()
	fmt.Println("✓ Configuration saved!")
	fmt.Println()
	fmt.Println("Run marathon again to start the application.")

	return nil
}

// probeServerWithSpinner fetches progress once with a visual spinner
func probeServerWithSpinner(serverURL string, timeout time.Duration, logger *slog.Logger) (*domain.UserProgressData, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	type result struct {
		data *domain.UserProgressData
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		client := progressapi.NewClient(serverURL, timeout, logger)
		data, err := client.GetProgress(ctx)
		resultCh <- result{data, err}
	}()

	frame := 0
	fmt.Printf("\r%s Contacting server...", styles.SpinnerFrames[frame])

	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case res := <-resultCh:
			fmt.Print(clearSpinnerLine)
			return res.data, res.err

		case <-ticker.C:
			frame++
			fmt.Printf("\r%s Contacting server...", styles.SpinnerFrames[frame%len(styles.SpinnerFrames)])

		case <-ctx.Done():
			fmt.Print(clearSpinnerLine)
			return nil, fmt.Errorf("timed out")
		}
	}
}
