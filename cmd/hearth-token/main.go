// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// The hearth-token binary manages access tokens out of band: the
// server has no registration endpoint, so an operator mints tokens
// here and hands them to clients.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/hearth/clientapi"
	"github.com/bureau-foundation/hearth/lib/config"
	"github.com/bureau-foundation/hearth/lib/process"
	"github.com/bureau-foundation/hearth/lib/ref"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	var revoke string
	pflag.StringVar(&configPath, "config", "", "path to the hearth.yaml config file (overrides HEARTH_CONFIG)")
	pflag.StringVar(&revoke, "revoke", "", "revoke the given access token instead of issuing one")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: hearth-token [flags] <user-id>\n\n")
		fmt.Fprintf(os.Stderr, "Issues an access token for a local user, or revokes one with --revoke.\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

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

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	tokens, err := clientapi.OpenTokenStore(clientapi.TokenStoreConfig{
		Path:   filepath.Join(cfg.Paths.Root, "tokens.db"),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer tokens.Close()

	ctx := context.Background()
	if revoke != "" {
		if err := tokens.Revoke(ctx, revoke); err != nil {
			return err
		}
		fmt.Println("revoked")
		return nil
	}

	if pflag.NArg() != 1 {
		pflag.Usage()
		return fmt.Errorf("expected exactly one user ID argument")
	}
	userID, err := ref.ParseUserID(pflag.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid user ID: %w", err)
	}
	if userID.Server().String() != cfg.ServerName {
		return fmt.Errorf("user %s is not local to %s", userID, cfg.ServerName)
	}

	token, identity, err := tokens.Issue(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Printf("user:   %s\ndevice: %s\ntoken:  %s\n", identity.UserID, identity.DeviceID, token)
	return nil
}
