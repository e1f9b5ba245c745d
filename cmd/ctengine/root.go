// Package main provides the ctengine command-line front-end: enough cobra
// wiring to invoke each operation (archive, extract, list, delete, cull)
// against a configured server, or against an in-memory fake transport for
// smoke testing without one.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ctfile/ctengine/chunkstore"
	"github.com/ctfile/ctengine/config"
	"github.com/ctfile/ctengine/ctdb"
	"github.com/ctfile/ctengine/engine"
	"github.com/ctfile/ctengine/internal/ctxerr"
	"github.com/ctfile/ctengine/internal/logging"
	"github.com/ctfile/ctengine/metrics"
	"github.com/ctfile/ctengine/transport"
)

var (
	configPath string
	fakeServer bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "ctengine",
	Short: "Transport and cull engine for ctfile-based backups",
	Long: `ctengine archives, extracts, lists, deletes and culls ctfiles
against a remote archival server over an XML-bracketed, chunked protocol.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logging.SetLevel(logrus.DebugLevel)
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "path to config.toml (default ~/.ctengine/config.toml)")
	flags.BoolVar(&fakeServer, "fake", false, "talk to an in-memory fake server instead of dialing --config's address")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session bundles everything a subcommand needs, torn down together once
// the operation's gs.Run() returns.
type session struct {
	gs  *engine.GlobalState
	db  *ctdb.DB
	cfg *config.Config
}

func (s *session) Close() {
	metrics.ObservePool(s.gs.Pool)
	metrics.ObserveQueue(s.gs.Queue)
	s.db.Close()
}

// setup loads config, opens the chunk store and chunk database, builds a
// GlobalState, and attaches either a real or fake transport per --fake.
func setup(ctx context.Context) (*session, error) {
	path := configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Cache.Directory == "" {
		return nil, ctxerr.New(ctxerr.CodeMissingConfigValue, "cache.directory")
	}

	store, err := chunkstore.NewFSStore(cfg.Cache.Directory)
	if err != nil {
		return nil, err
	}
	db, err := ctdb.Open(cfg.Cache.Directory + "/ctengine.db")
	if err != nil {
		return nil, err
	}

	gs := engine.New(cfg, store, db)

	if fakeServer {
		gs.AttachTransport(newSmokeTestTransport(gs))
	} else {
		tlsConfig, tlsErr := dialTLSConfig(cfg)
		if tlsErr != nil {
			db.Close()
			return nil, tlsErr
		}
		tr, dialErr := transport.Dial(ctx, cfg.Server.Address, tlsConfig, gs.OnReply)
		if dialErr != nil {
			db.Close()
			return nil, dialErr
		}
		gs.AttachTransport(tr)
	}

	return &session{gs: gs, db: db, cfg: cfg}, nil
}

func dialTLSConfig(cfg *config.Config) (*tls.Config, error) {
	if cfg.Transfer.Cleartext {
		return nil, nil
	}
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.Server.TLSInsecure}
	if cfg.Server.TLSCert != "" {
		pem, err := os.ReadFile(cfg.Server.TLSCert)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.Server.TLSCert)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}
