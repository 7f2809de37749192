// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// The hearth binary is the server: it opens the stores and keyring,
// starts the per-room actors, and serves the client and federation
// APIs on one listener until interrupted.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/hearth/clientapi"
	"github.com/bureau-foundation/hearth/eventstore"
	"github.com/bureau-foundation/hearth/federation"
	"github.com/bureau-foundation/hearth/keyring"
	"github.com/bureau-foundation/hearth/lib/config"
	"github.com/bureau-foundation/hearth/lib/process"
	"github.com/bureau-foundation/hearth/lib/ref"
	"github.com/bureau-foundation/hearth/lib/service"
	"github.com/bureau-foundation/hearth/lib/version"
	"github.com/bureau-foundation/hearth/mediastore"
	"github.com/bureau-foundation/hearth/room"
	"github.com/bureau-foundation/hearth/syncer"
	"github.com/bureau-foundation/hearth/timeline"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	var showVersion bool
	pflag.StringVar(&configPath, "config", "", "path to the hearth.yaml config file (overrides HEARTH_CONFIG)")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Println("hearth " + version.Info())
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}
	serverName, err := ref.ParseServerName(cfg.ServerName)
	if err != nil {
		return fmt.Errorf("invalid server_name: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	keys, err := keyring.Open(keyring.Config{
		Path:       cfg.Paths.State,
		ServerName: serverName,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	store, err := eventstore.Open(eventstore.Config{Path: cfg.Paths.Events, Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()

	manager, err := room.NewManager(room.Config{Store: store, Logger: logger})
	if err != nil {
		return err
	}
	defer manager.Close()

	sync, err := syncer.New(syncer.Config{
		Store:          store,
		Rooms:          manager,
		DefaultTimeout: cfg.Sync.Timeout,
		TimelineLimit:  cfg.Sync.TimelineLimit,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	pages, err := timeline.New(timeline.Config{Store: store, Logger: logger})
	if err != nil {
		return err
	}

	mediaKey, err := loadSealKey(cfg.Media.SealKeyFile)
	if err != nil {
		return err
	}
	media, err := mediastore.Open(mediastore.Config{
		Path:   cfg.Paths.Media,
		Key:    mediaKey,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer media.Close()

	tokens, err := clientapi.OpenTokenStore(clientapi.TokenStoreConfig{
		Path:   filepath.Join(cfg.Paths.Root, "tokens.db"),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer tokens.Close()

	var exchange *federation.Exchange
	if cfg.Federation.Enabled {
		transport, err := federation.NewHTTPTransport(federation.HTTPTransportConfig{
			Origin: serverName,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		exchange, err = federation.New(federation.Config{
			Rooms:       manager,
			Store:       store,
			Transport:   transport,
			LocalServer: serverName,
			MaxAttempts: cfg.Federation.MaxBackfillAttempts,
			Backoff:     cfg.Federation.BackfillBackoff,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		go runRelays(ctx, store, manager, exchange, logger)
	}

	presets, err := config.LoadPresets(cfg.Paths.Presets)
	if err != nil {
		return err
	}

	api, err := clientapi.New(clientapi.Config{
		Store:          store,
		Rooms:          manager,
		Sync:           sync,
		Timeline:       pages,
		Keys:           keys,
		Tokens:         tokens,
		Media:          media,
		Exchange:       exchange,
		Presets:        presets,
		MaxUploadBytes: cfg.Media.MaxUploadBytes,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address: cfg.Listen.Address,
		Handler: api.Handler(),
		Logger:  logger,
	})
	logger.Info("hearth starting",
		"server_name", serverName.String(),
		"address", cfg.Listen.Address,
		"key_id", keys.KeyID(),
		"federation", cfg.Federation.Enabled,
	)
	return server.Serve(ctx)
}

// runRelays keeps one federation relay running per room, picking up
// rooms created after startup on a fixed rescan interval.
func runRelays(ctx context.Context, store *eventstore.Store, manager *room.Manager, exchange *federation.Exchange, logger *slog.Logger) {
	relayed := make(map[ref.RoomID]bool)
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		rooms, err := store.Rooms(ctx)
		if err != nil {
			logger.Error("listing rooms for relay", "error", err)
		}
		for _, roomID := range rooms {
			if relayed[roomID] {
				continue
			}
			sub, err := manager.Subscribe(roomID)
			if err != nil {
				logger.Error("subscribing relay", "room_id", roomID.String(), "error", err)
				continue
			}
			relayed[roomID] = true
			go func(roomID ref.RoomID, sub *room.Subscription) {
				if err := exchange.Relay(ctx, roomID, sub); err != nil && ctx.Err() == nil {
					logger.Error("relay stopped", "room_id", roomID.String(), "error", err)
				}
			}(roomID, sub)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// loadSealKey reads the media master key file: either 32 raw bytes or
// their hex encoding. An empty path means media is stored unsealed.
func loadSealKey(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading media seal key: %w", err)
	}
	if len(data) == mediastore.KeySize {
		return data, nil
	}
	trimmed := string(data)
	for len(trimmed) > 0 && (trimmed[len(trimmed)-1] == '\n' || trimmed[len(trimmed)-1] == '\r') {
		trimmed = trimmed[:len(trimmed)-1]
	}
	key, err := hex.DecodeString(trimmed)
	if err != nil || len(key) != mediastore.KeySize {
		return nil, fmt.Errorf("media seal key must be %d raw bytes or their hex encoding", mediastore.KeySize)
	}
	return key, nil
}

// buildLogger constructs the process logger from the config's level
// and format.
func buildLogger(cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}
	options := &slog.HandlerOptions{Level: level}
	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, options)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, options)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}
