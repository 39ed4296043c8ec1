package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"vigil/config"
	"vigil/core"
	"vigil/correlation"
	"vigil/notify"
	"vigil/rules"
	"vigil/service"
	"vigil/storage"
)

// historyPerActor bounds the recent-event context built for each event.
const historyPerActor = 200

func newReplayCmd() *cobra.Command {
	var inMemory bool

	replayCmd := &cobra.Command{
		Use:   "replay <events.jsonl>",
		Short: "Replay a JSONL event file through the detection pipeline",
		Long: `Reads one JSON-encoded event per line, builds per-actor recent history as it
goes, and runs each event through rule evaluation, deduplication, correlation
and escalation. Prints a summary when the file is exhausted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runReplay(cmd, cfg, args[0], inMemory)
		},
	}
	replayCmd.Flags().BoolVar(&inMemory, "in-memory", false, "use the in-memory alert store instead of SQLite")
	return replayCmd
}

func runReplay(cmd *cobra.Command, cfg *config.Config, path string, inMemory bool) error {
	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	var store interface {
		service.AlertStore
		core.DedupStore
		correlation.AlertStore
	}
	if inMemory {
		store = storage.NewMemory()
	} else {
		db, err := storage.OpenSQLite(cfg.Storage.SQLitePath, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		store = db
	}

	engine := rules.NewEngine(rules.Build(cfg.Rules, logger), cfg.Engine, logger)

	var dedup *core.Deduplicator
	if cfg.Dedup.Enabled {
		fingerprinter := core.NewFingerprinter(core.FingerprintConfig{
			Enabled: true,
			Fields:  cfg.Dedup.FingerprintFields,
		})
		dedup, err = core.NewDeduplicator(store, fingerprinter, cfg.Dedup.Window, cfg.Dedup.CacheSize, logger)
		if err != nil {
			return err
		}
	}

	provider := config.NewProvider(cfg)
	correlator := correlation.NewService(store, provider, nil, logger)

	var sink notify.Notifier = notify.NopNotifier{}
	if cfg.Notify.Enabled {
		sink = notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:         cfg.Notify.WebhookURL,
			Timeout:     cfg.Notify.Timeout,
			MaxRetries:  cfg.Notify.MaxRetries,
			MinSeverity: core.Severity(cfg.Notify.MinSeverity),
		}, logger)
	}

	pipeline := service.NewPipeline(engine, store, dedup, correlator, sink, 0, logger)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open event file: %w", err)
	}
	defer f.Close()

	history := make(map[string][]core.Event)
	var events, alerts, escalations int

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	ctx := context.Background()
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event core.Event
		if err := json.Unmarshal(line, &event); err != nil {
			logger.Warnw("Skipping malformed event line", "error", err)
			continue
		}
		events++

		ec := &core.EventContext{
			Event:        event,
			RecentEvents: gatherHistory(history, &event),
		}
		processed, err := pipeline.ProcessEvent(ctx, ec)
		if err != nil {
			return err
		}
		for _, p := range processed {
			if !p.Duplicate {
				alerts++
			}
			if p.Correlation != nil && p.Correlation.ShouldEscalate {
				escalations++
			}
		}
		recordHistory(history, &event)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "replayed %d events: %d alerts, %d escalations\n",
		events, alerts, escalations)
	return nil
}

// gatherHistory collects previously seen events sharing the actor, IP or
// session of the current event. The pipeline's rules re-filter and re-sort;
// this only approximates what an ingest tier would supply.
func gatherHistory(history map[string][]core.Event, event *core.Event) []core.Event {
	seen := make(map[string]struct{})
	var out []core.Event
	for _, key := range historyKeys(event) {
		for _, past := range history[key] {
			if _, dup := seen[past.ID]; dup {
				continue
			}
			seen[past.ID] = struct{}{}
			out = append(out, past)
		}
	}
	return out
}

func recordHistory(history map[string][]core.Event, event *core.Event) {
	for _, key := range historyKeys(event) {
		events := append(history[key], *event)
		if len(events) > historyPerActor {
			events = events[len(events)-historyPerActor:]
		}
		history[key] = events
	}
}

func historyKeys(event *core.Event) []string {
	var keys []string
	if event.UserID != "" {
		keys = append(keys, "user:"+event.UserID)
	}
	if event.IPAddress != "" {
		keys = append(keys, "ip:"+event.IPAddress)
	}
	if event.SessionID != "" {
		keys = append(keys, "session:"+event.SessionID)
	}
	return keys
}
