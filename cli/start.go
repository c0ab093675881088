// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/spf13/cobra"

	"github.com/meshdoc/core"
	"github.com/meshdoc/core/config"
	"github.com/meshdoc/core/datastore"
	"github.com/meshdoc/core/errors"
	"github.com/meshdoc/core/events"
	"github.com/meshdoc/core/logging"
	"github.com/meshdoc/core/metrics"
	"github.com/meshdoc/core/net"
	"github.com/meshdoc/core/replctx"
	syncsched "github.com/meshdoc/core/sync"
)

var log = logging.MustNewLogger("cli")

const badgerDatastoreName = "badger"

// MakeStartCommand mirrors the teacher's MakeStartCommand: a
// PersistentPreRunE that loads (or bootstraps) the rootdir config file,
// and a RunE that builds every long-lived component and blocks until
// interrupted.
func MakeStartCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a node",
		Long:  "Start a new instance of a node, joining every context this rootdir has an invitation for.",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.ConfigFileExists() {
				if err := cfg.LoadWithRootdir(true); err != nil {
					return config.NewErrLoadingConfig(err)
				}
			} else {
				if err := cfg.LoadWithRootdir(false); err != nil {
					return config.NewErrLoadingConfig(err)
				}
				if config.FolderExists(cfg.Rootdir) {
					if err := cfg.WriteConfigFile(); err != nil {
						return err
					}
					log.FeedbackInfo(cmd.Context(), "Configuration loaded from rootdir "+cfg.Rootdir)
				} else {
					if err := cfg.CreateRootDirAndConfigFile(); err != nil {
						return err
					}
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := start(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return wait(cmd.Context(), n)
		},
	}

	cmd.Flags().String("peers", cfg.Net.Peers, "Comma-separated bootstrap peer multiaddrs")
	mustBind(cmd, cfg, "net.peers", "peers")

	cmd.Flags().String("p2paddr", cfg.Net.P2PAddress, "Listener multiaddr for the p2p network")
	mustBind(cmd, cfg, "net.p2paddress", "p2paddr")

	cmd.Flags().Bool("no-p2p", cfg.Net.P2PDisabled, "Disable the peer-to-peer network synchronization system")
	mustBind(cmd, cfg, "net.p2pdisabled", "no-p2p")

	cmd.Flags().String("store", cfg.Datastore.Store, "Datastore to use (supported: badger, memory)")
	mustBind(cmd, cfg, "datastore.store", "store")

	cmd.Flags().Int("max-txn-retries", cfg.Datastore.MaxTxnRetries, "Maximum number of retries per transaction")
	mustBind(cmd, cfg, "datastore.maxtxnretries", "max-txn-retries")

	return cmd
}

func mustBind(cmd *cobra.Command, cfg *config.Config, key, flag string) {
	if err := cfg.BindFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		log.FeedbackFatalE(context.Background(), "Could not bind "+key, err)
	}
}

// node bundles the long-lived components MakeStartCommand constructs,
// mirroring the teacher's defraInstance.
type node struct {
	transport *net.Transport
	runtime   *replctx.Runtime
	sinks     *events.Sinks
	metrics   *metrics.Recorder
	store     datastore.Store
}

func (n *node) close(ctx context.Context) {
	if err := n.runtime.Close(ctx); err != nil {
		log.FeedbackInfo(ctx, "The runtime could not be closed cleanly", logging.NewKV("Error", err.Error()))
	}
	if err := n.metrics.Close(ctx); err != nil {
		log.FeedbackInfo(ctx, "The metrics recorder could not be closed cleanly", logging.NewKV("Error", err.Error()))
	}
	n.sinks.Close()
	if err := n.store.Close(); err != nil {
		log.FeedbackInfo(ctx, "The datastore could not be closed cleanly", logging.NewKV("Error", err.Error()))
	}
}

func start(ctx context.Context, cfg *config.Config) (*node, error) {
	log.FeedbackInfo(ctx, "Starting node...")

	store, err := openStore(cfg)
	if err != nil {
		return nil, errors.Wrap("failed to open datastore", err)
	}

	self, err := loadOrCreateIdentity(cfg.Rootdir)
	if err != nil {
		return nil, err
	}

	sinks := events.NewSinks()
	rec, err := metrics.NewRecorder()
	if err != nil {
		return nil, errors.Wrap("failed to start metrics", err)
	}

	if cfg.Net.P2PDisabled {
		return nil, errors.New("running without p2p is not yet supported by this build")
	}

	log.FeedbackInfo(ctx, "Starting P2P transport", logging.NewKV("Listen", cfg.Net.P2PAddress))
	transport, err := net.NewTransport(ctx, cfg.Net.P2PAddress)
	if err != nil {
		return nil, errors.Wrap("failed to start P2P transport", err)
	}

	runtime := replctx.New(replctx.Config{
		Self:                     self,
		Store:                    store,
		Sinks:                    sinks,
		Transport:                transport,
		Metrics:                  rec,
		EngineCacheSize:          cfg.Sync.ContextCacheSize,
		ParentGapThreshold:       cfg.Sync.MissingParentThreshold,
		EntityCountDivergencePct: cfg.Sync.EntityCountDivergencePct,
		SyncCfg: syncsched.Config{
			MaxConcurrentSyncs: cfg.Sync.MaxConcurrentSyncs,
			RetryBaseMS:        cfg.Sync.RetryBaseMS,
			RetryMultiplier:    cfg.Sync.RetryMultiplier,
			RetryCapMS:         cfg.Sync.RetryCapMS,
			MaxAttempts:        cfg.Sync.MaxAttempts,
		},
	})

	if err := transport.Listen(runtime.OnStream); err != nil {
		transport.Close()
		return nil, errors.Wrap("failed to start sync listeners", err)
	}

	if cfg.Net.Peers != "" {
		peers, err := parsePeerAddrs(cfg.Net.Peers)
		if err != nil {
			transport.Close()
			return nil, errors.Wrap("failed to parse bootstrap peers", err)
		}
		if err := transport.Bootstrap(ctx, peers); err != nil {
			log.FeedbackInfo(ctx, "Bootstrap had errors", logging.NewKV("Error", err.Error()))
		}
	}

	invitations, err := loadPendingInvitations(cfg.Rootdir)
	if err != nil {
		transport.Close()
		return nil, err
	}
	ctxIDs := make([]core.ContextId, 0, len(invitations))
	for _, inv := range invitations {
		if err := runtime.Join(ctx, inv); err != nil {
			log.FeedbackInfo(ctx, "Failed to join context "+inv.ContextID.String(), logging.NewKV("Error", err.Error()))
			continue
		}
		ctxIDs = append(ctxIDs, inv.ContextID)
	}
	if err := runtime.LoadReplicators(ctx, ctxIDs); err != nil {
		log.FeedbackInfo(ctx, "Failed to load persisted replicators", logging.NewKV("Error", err.Error()))
	}

	log.FeedbackInfo(ctx, "Node started", logging.NewKV("PeerID", transport.LocalPeerID().String()), logging.NewKV("Contexts", len(ctxIDs)))
	return &node{transport: transport, runtime: runtime, sinks: sinks, metrics: rec, store: store}, nil
}

func openStore(cfg *config.Config) (datastore.Store, error) {
	switch cfg.Datastore.Store {
	case badgerDatastoreName:
		path := cfg.Datastore.Path
		if path == "" {
			path = filepath.Join(cfg.Rootdir, "data")
		}
		log.FeedbackInfo(context.Background(), "Opening badger store", logging.NewKV("Path", path))
		return datastore.OpenBadger(path)
	case "memory":
		log.FeedbackInfo(context.Background(), "Building new memory store")
		return datastore.NewMemory(), nil
	default:
		return nil, errors.Newf("unsupported datastore kind %q", cfg.Datastore.Store)
	}
}

func parsePeerAddrs(peers string) ([]ma.Multiaddr, error) {
	parts := strings.Split(peers, ",")
	out := make([]ma.Multiaddr, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		addr, err := ma.NewMultiaddr(p)
		if err != nil {
			return nil, errors.Wrap("parsing peer address "+p, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// wait blocks until ctx is cancelled or an interrupt signal arrives,
// then closes n, matching the teacher's wait(ctx, di) shape.
func wait(ctx context.Context, n *node) error {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt)

	select {
	case <-ctx.Done():
		log.FeedbackInfo(ctx, "Received context cancellation; closing node...")
		n.close(ctx)
		return ctx.Err()
	case <-signalCh:
		log.FeedbackInfo(ctx, "Received interrupt; closing node...")
		n.close(ctx)
		return nil
	}
}
