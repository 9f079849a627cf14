package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/scraper-service/internal/app"
	"github.com/user/scraper-service/internal/entity"
	"github.com/user/scraper-service/internal/proxy"
	"github.com/user/scraper-service/internal/usecase"
	"github.com/user/scraper-service/pkg/config"
	"github.com/user/scraper-service/pkg/logger"
)

type cliOptions struct {
	urls         []string
	urlFile      string
	dataDir      string
	saveToRemote bool
	threads      int
	timeout      int
	retries      int
	proxies      []string
	proxyFile    string
	logLevel     string
}

func rootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "scraper",
		Short:         "Scrape GitHub repository and website metadata into tabular stores",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringArrayVarP(&opts.urls, "url", "u", nil, "URL to scrape (repeatable)")
	pf.StringVarP(&opts.urlFile, "file", "f", "", "file with one URL per line")
	pf.StringVarP(&opts.dataDir, "output", "o", "", "directory for local xlsx files (default from config)")
	pf.BoolVar(&opts.saveToRemote, "save-to-remote", false, "also merge results into the remote sheet")
	pf.IntVar(&opts.threads, "threads", 0, "worker count (default from config)")
	pf.IntVar(&opts.timeout, "timeout", 0, "per-request timeout in seconds (default from config)")
	pf.IntVar(&opts.retries, "retries", -1, "retry budget per URL (default from config)")
	pf.StringArrayVar(&opts.proxies, "proxy", nil, "proxy endpoint to use (repeatable)")
	pf.StringVar(&opts.proxyFile, "proxy-file", "", "file with one proxy endpoint per line")
	pf.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn, or error")

	root.AddCommand(
		scrapeCmd(opts, "github", "Scrape GitHub repository metadata", func(ctx context.Context, s usecase.Scraper, urls []string) (*usecase.BatchResult, error) {
			return s.ScrapeBatch(ctx, urls, entity.KindGitHub, opts.saveToRemote)
		}),
		scrapeCmd(opts, "website", "Scrape website metadata", func(ctx context.Context, s usecase.Scraper, urls []string) (*usecase.BatchResult, error) {
			return s.ScrapeBatch(ctx, urls, entity.KindWebsite, opts.saveToRemote)
		}),
		scrapeCmd(opts, "auto", "Classify each URL and scrape it accordingly", func(ctx context.Context, s usecase.Scraper, urls []string) (*usecase.BatchResult, error) {
			return s.ScrapeAuto(ctx, urls, opts.saveToRemote)
		}),
		deleteCmd(opts),
		cleanCmd(opts),
	)
	return root
}

func scrapeCmd(opts *cliOptions, name, short string, run func(context.Context, usecase.Scraper, []string) (*usecase.BatchResult, error)) *cobra.Command {
	var aliases []string
	if name == "auto" {
		aliases = []string{"all"}
	}
	return &cobra.Command{
		Use:     name,
		Aliases: aliases,
		Short:   short,
		RunE: func(cmd *cobra.Command, args []string) error {
			urls, err := collectURLs(opts, args)
			if err != nil {
				return err
			}

			application, err := buildApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer application.Close()

			result, err := run(cmd.Context(), application.Scraper, urls)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
}

func deleteCmd(opts *cliOptions) *cobra.Command {
	kind := ""
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete records by URL from every configured backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			urls, err := collectURLs(opts, args)
			if err != nil {
				return err
			}
			k, ok := parseKind(kind)
			if !ok {
				return fmt.Errorf("--kind must be github or website, got %q", kind)
			}

			application, err := buildApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer application.Close()

			result, err := application.Scraper.DeleteByURLs(cmd.Context(), urls, k)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "record kind: github or website")
	cmd.MarkFlagRequired("kind")
	return cmd
}

func cleanCmd(opts *cliOptions) *cobra.Command {
	kind := ""
	source := "local"
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove duplicate rows from a stored dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, ok := parseKind(kind)
			if !ok {
				return fmt.Errorf("--kind must be github or website, got %q", kind)
			}

			application, err := buildApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer application.Close()

			removed, err := application.Scraper.CleanDuplicates(cmd.Context(), k, source)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int{"removed": removed})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "record kind: github or website")
	cmd.Flags().StringVar(&source, "source", "local", "backend to clean: local, remote, or postgres")
	cmd.MarkFlagRequired("kind")
	return cmd
}

// buildApp loads the config, applies flag overrides, and assembles the
// service, loading any proxies given on the command line.
func buildApp(ctx context.Context, opts *cliOptions) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if opts.threads > 0 {
		cfg.MaxThreads = opts.threads
	}
	if opts.timeout > 0 {
		cfg.RequestTimeoutSecs = opts.timeout
	}
	if opts.retries >= 0 {
		cfg.MaxRetries = opts.retries
	}
	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if len(opts.proxies) > 0 || opts.proxyFile != "" {
		cfg.UseProxy = true
	}

	logger.Init(os.Stderr, logger.ParseLevel(cfg.LogLevel))

	application, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if application.Proxies != nil {
		for _, raw := range opts.proxies {
			application.Proxies.Add(ctx, proxy.ParseEndpoint(raw))
		}
		if opts.proxyFile != "" {
			if _, err := application.Proxies.LoadFromFile(ctx, opts.proxyFile); err != nil {
				application.Close()
				return nil, fmt.Errorf("load proxy file: %w", err)
			}
		}
		known, working := application.Proxies.Stats()
		slog.Info("proxy pool ready", "known", known, "working", working)
	}
	return application, nil
}

// collectURLs merges --url flags, positional arguments, and --file lines.
func collectURLs(opts *cliOptions, args []string) ([]string, error) {
	urls := append([]string{}, opts.urls...)
	urls = append(urls, args...)

	if opts.urlFile != "" {
		f, err := os.Open(opts.urlFile)
		if err != nil {
			return nil, fmt.Errorf("open url file: %w", err)
		}
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			urls = append(urls, line)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read url file: %w", err)
		}
	}

	if len(urls) == 0 {
		return nil, errors.New("no URLs given: use --url, --file, or positional arguments")
	}
	return urls, nil
}

func parseKind(s string) (entity.TaskKind, bool) {
	switch entity.TaskKind(strings.ToLower(s)) {
	case entity.KindGitHub:
		return entity.KindGitHub, true
	case entity.KindWebsite:
		return entity.KindWebsite, true
	}
	return "", false
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
