package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/room-balance-monitor/internal/cache"
	"github.com/afroash/room-balance-monitor/internal/catalog"
	"github.com/afroash/room-balance-monitor/internal/client"
	"github.com/afroash/room-balance-monitor/internal/collector"
	"github.com/afroash/room-balance-monitor/internal/config"
	"github.com/afroash/room-balance-monitor/internal/fetcher"
	"github.com/afroash/room-balance-monitor/internal/logging"
	"github.com/afroash/room-balance-monitor/internal/models"
	"github.com/afroash/room-balance-monitor/internal/source"
	"github.com/afroash/room-balance-monitor/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/server.yaml", "path to config file")
	watch := flag.Bool("watch", false, "follow the progress stream of a running server instead of sampling locally")
	remote := flag.Bool("remote", false, "ask a running server to start a batch, then follow it")
	serverURL := flag.String("server", "", "base URL of the running server (default from config)")
	flag.Parse()

	cfg, err := config.LoadAppConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// stdout carries the report
	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: os.Stderr})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	base := *serverURL
	if base == "" {
		base = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	switch {
	case *remote:
		err = runRemote(ctx, base, cfg.Server.AuthToken, logger)
	case *watch:
		err = follow(ctx, base, cfg.Server.AuthToken, logger)
	default:
		err = runLocal(ctx, cfg, logger)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Collector failed")
		os.Exit(1)
	}
}

// runLocal samples the whole catalog in this process and prints the summary
func runLocal(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) error {
	store, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DBPath, cfg.Storage.DSN, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	portal, err := source.NewPortalSource(nil, source.PortalConfig{
		BaseURL:   cfg.Source.BaseURL,
		UserAgent: cfg.Source.UserAgent,
		Label:     cfg.Source.Label,
	}, logger)
	if err != nil {
		return err
	}

	f := fetcher.New(portal, store, fetcher.Config{
		Workers:        cfg.Fetcher.Workers,
		BatchSize:      cfg.Fetcher.BatchSize,
		BatchCooldown:  cfg.Fetcher.BatchCooldown,
		MaxJitter:      cfg.Fetcher.MaxJitter,
		RequestTimeout: cfg.Fetcher.RequestTimeout,
		ProgressBuffer: cfg.Fetcher.ProgressBuffer,
	}, logger)

	catalogPath := cfg.Catalog.Path
	service := collector.NewService(f, func() ([]models.CatalogEntry, error) {
		return catalog.Load(catalogPath, logger)
	}, logger)
	defer service.Close()
	service.SetPublisher(printer{out: os.Stdout})

	// a server sharing this store must not keep serving the previous batch
	if cfg.Cache.Enabled && cfg.Cache.Backend != "memory" {
		if rc, err := cache.NewRedisClient(ctx, cache.RedisOptions{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		}, logger); err == nil {
			layer := cache.NewLayer(rc, logger)
			defer layer.Close()
			service.SetInvalidator(layer)
		} else {
			logger.Warn().Err(err).Msg("Redis unavailable, server cache will expire on its own")
		}
	}

	result, err := service.Run(ctx, collector.TriggerCLI)
	if result != nil {
		printSummary(os.Stdout, result)
	}
	return err
}

// runRemote starts a batch on the server and follows it to completion
func runRemote(ctx context.Context, base, token string, logger zerolog.Logger) error {
	endpoint, err := url.JoinPath(base, "/api/batches")
	if err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to trigger batch: %w", err)
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		fmt.Println("Batch started")
	case http.StatusConflict:
		fmt.Println("A batch is already running, following it")
	default:
		return fmt.Errorf("server refused batch: %s", resp.Status)
	}
	return follow(ctx, base, token, logger)
}

// follow prints the server's progress stream until the batch finishes
func follow(ctx context.Context, base, token string, logger zerolog.Logger) error {
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/progress"

	p := printer{out: os.Stdout}
	stream := client.NewStream(client.StreamConfig{
		URL:                  u.String(),
		AuthToken:            token,
		ReconnectInterval:    time.Second,
		MaxReconnectInterval: 30 * time.Second,
	}, client.UntilBatchDone(p.Publish), logger)
	return stream.Run(ctx)
}

// printer renders stream messages as plain text lines
type printer struct {
	out io.Writer
}

func (p printer) Publish(msg *models.Message) {
	switch msg.Type {
	case models.MessageTypeBatchStarted:
		var m models.BatchStartedMessage
		if msg.UnmarshalPayload(&m) == nil {
			fmt.Fprintf(p.out, "Sampling %d rooms (%s)\n", m.Total, m.Trigger)
		}
	case models.MessageTypeProgress:
		var m models.Progress
		if msg.UnmarshalPayload(&m) == nil {
			fmt.Fprintf(p.out, "[%d/%d] %s\n", m.Completed, m.Total, m.Message)
		}
	case models.MessageTypeBatchDone:
		var m models.BatchDoneMessage
		if msg.UnmarshalPayload(&m) == nil {
			state := "done"
			if m.Cancelled {
				state = "cancelled"
			}
			fmt.Fprintf(p.out, "Batch %s: %d succeeded, %d failed, %d not saved\n", state, m.Succeeded, m.Failed, m.NotSaved)
		}
	case models.MessageTypeError:
		var m models.ErrorMessage
		if msg.UnmarshalPayload(&m) == nil {
			fmt.Fprintf(p.out, "Error (%s): %s\n", m.Code, m.Message)
		}
	}
}

// printSummary lists the batch totals and every room that did not end up saved
func printSummary(out io.Writer, result *models.BatchResult) {
	fmt.Fprintf(out, "\nRun %s at %s, took %s\n", result.RunID, result.StartedAt.Local().Format("2006-01-02 15:04"), result.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  total %d, succeeded %d, failed %d, not saved %d\n", result.Total, result.Succeeded, result.Failed, result.NotSaved)

	keys := make([]models.RoomKey, 0, len(result.Readings))
	for k, o := range result.Readings {
		if o.Status != models.OutcomeSuccess || !o.Saved {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	fmt.Fprintln(out, "  problems:")
	for _, k := range keys {
		o := result.Readings[k]
		reason := o.Reason
		if o.Status == models.OutcomeSuccess {
			reason = "not saved: " + o.SaveError
		}
		fmt.Fprintf(out, "    %-12s %s\n", k.String(), strconv.Quote(reason))
	}
}
