// Package cli implements the bingoctl commands: the admin side of the game,
// driving generation batches against a running server.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vbonduro/travelbingo/internal/batch"
	"github.com/vbonduro/travelbingo/internal/domain"
	"github.com/vbonduro/travelbingo/internal/generation"
	"github.com/vbonduro/travelbingo/internal/identity"
	"github.com/vbonduro/travelbingo/internal/logging"
)

const defaultServer = "http://localhost:8080"

type options struct {
	server       string
	identityFile string
	logLevel     string
	concurrency  int
	retries      int
	backoff      time.Duration
	itemDelay    time.Duration
	groupDelay   time.Duration
}

// env holds what every subcommand needs once flags are parsed.
type env struct {
	opts     *options
	out      io.Writer
	http     *http.Client
	identity identity.Provider
	client   *generation.Client
	logger   *slog.Logger
}

// RootCommand builds the bingoctl command tree writing user output to out.
// httpClient may be nil.
func RootCommand(out io.Writer, httpClient *http.Client) *cobra.Command {
	opts := &options{}
	e := &env{opts: opts, out: out, http: httpClient}
	if e.http == nil {
		e.http = &http.Client{Timeout: 2 * time.Minute}
	}

	defaults := batch.DefaultOptions()
	server := os.Getenv("BINGO_SERVER")
	if server == "" {
		server = defaultServer
	}

	rootCmd := &cobra.Command{
		Use:           "bingoctl",
		Short:         "Travel Bingo admin client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.setup()
		},
	}
	rootCmd.SetOut(out)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.server, "server", server, "Travel Bingo server URL (env BINGO_SERVER)")
	flags.StringVar(&opts.identityFile, "identity-file", "", "Client identity file (default: user config dir)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level for diagnostics on stderr")
	flags.IntVar(&opts.concurrency, "concurrency", defaults.Concurrency, "Items per concurrent group in batched commands")
	flags.IntVar(&opts.retries, "retries", defaults.MaxRetries, "Retries per item in sequential commands")
	flags.DurationVar(&opts.backoff, "backoff", defaults.Backoff, "Base retry backoff, doubled per attempt")
	flags.DurationVar(&opts.itemDelay, "item-delay", defaults.ItemDelay, "Pause between items in sequential commands")
	flags.DurationVar(&opts.groupDelay, "group-delay", defaults.GroupDelay, "Pause between groups in batched commands")

	rootCmd.AddCommand(
		whoamiCommand(e),
		fixImagesCommand(e),
		generateImagesCommand(e),
		generateDescriptionsCommand(e),
	)
	return rootCmd
}

func (e *env) setup() error {
	logger, _, err := logging.New("bingoctl", e.opts.logLevel, "")
	if err != nil {
		return err
	}
	e.logger = logger

	if _, err := url.ParseRequestURI(e.opts.server); err != nil {
		return fmt.Errorf("invalid --server %q: %w", e.opts.server, err)
	}

	path := e.opts.identityFile
	if path == "" {
		if path, err = identity.DefaultPath(); err != nil {
			return err
		}
	}
	e.identity = identity.NewFileProvider(path)
	e.client = generation.NewClient(e.opts.server, e.http, e.identity, logger)
	return nil
}

func (e *env) batchOptions(refresh batch.RefreshFunc) batch.Options {
	return batch.Options{
		Concurrency: e.opts.concurrency,
		MaxRetries:  e.opts.retries,
		Backoff:     e.opts.backoff,
		ItemDelay:   e.opts.itemDelay,
		GroupDelay:  e.opts.groupDelay,
		Refresh:     refresh,
	}
}

type item struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	Description string `json:"description"`
	Image       string `json:"image"`
	IsCenter    bool   `json:"isCenterSpace"`
}

type city struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Items []item `json:"items"`
}

func (i item) needsImage() bool {
	return i.Image == "" || i.Image == domain.PlaceholderImage
}

func (e *env) fetchCity(ctx context.Context, cityID string) (*city, error) {
	endpoint := strings.TrimRight(e.opts.server, "/") + "/api/cities/" + url.PathEscape(cityID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch city: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			e.logger.Error("failed to close city response body", "error", err)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("city %q not found", cityID)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var c city
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to decode city: %w", err)
	}
	return &c, nil
}

// refreshCity re-reads the city so the final log reflects what the server
// now holds.
func (e *env) refreshCity(cityID string) batch.RefreshFunc {
	return func(ctx context.Context) error {
		c, err := e.fetchCity(ctx, cityID)
		if err != nil {
			return err
		}
		missing := 0
		for _, it := range c.Items {
			if it.needsImage() {
				missing++
			}
		}
		e.logger.Info("city refreshed", "city_id", cityID, "items_missing_images", missing)
		return nil
	}
}

// progress prints one line per finished item.
func (e *env) progress(ev batch.Event) {
	switch ev.Kind {
	case batch.EventStarted:
		fmt.Fprintf(e.out, "Processing %d items...\n", ev.Total)
	case batch.EventProgress:
		status := "ok"
		if ev.Err != nil {
			status = fmt.Sprintf("failed (%s): %v", generation.Kind(ev.Err), ev.Err)
		}
		fmt.Fprintf(e.out, "[%3d%%] %s %s\n", ev.Percent, ev.Key, status)
	}
}

func itemKey(it item) string { return it.ID }
