// Command crabsqld is the CrabSQL server binary: a TCP SQL server, an
// interactive REPL, and data-directory maintenance commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CesarPetrescu/CrabSQL/internal/config"
	"github.com/CesarPetrescu/CrabSQL/internal/logger"
	"github.com/CesarPetrescu/CrabSQL/pkg/auth"
	"github.com/CesarPetrescu/CrabSQL/pkg/catalog"
	"github.com/CesarPetrescu/CrabSQL/pkg/cli"
	"github.com/CesarPetrescu/CrabSQL/pkg/index"
	"github.com/CesarPetrescu/CrabSQL/pkg/lock"
	srvnet "github.com/CesarPetrescu/CrabSQL/pkg/net"
	"github.com/CesarPetrescu/CrabSQL/pkg/sql"
	"github.com/CesarPetrescu/CrabSQL/pkg/storage"
	"github.com/CesarPetrescu/CrabSQL/pkg/txn"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:   "crabsqld",
		Short: "CrabSQL database server",
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	root.AddCommand(serveCmd(), replCmd(), initdbCmd(), createUserCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runtime bundles everything a command needs after bootstrap.
type runtime struct {
	cfg   *config.Config
	log   *logger.Logger
	store *storage.Store
	cat   *catalog.Catalog
	eng   *sql.Engine
	auth  *auth.Manager
}

func bootstrap() (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.InitDataDir(); err != nil {
		return nil, fmt.Errorf("init data dir: %w", err)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.DataFile())
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Open(store.DB())
	if err != nil {
		store.Close()
		return nil, err
	}
	idx, err := index.NewMaintainer(store.DB())
	if err != nil {
		cat.Close()
		store.Close()
		return nil, err
	}
	lastID, err := store.MaxTxID()
	if err != nil {
		cat.Close()
		store.Close()
		return nil, err
	}
	mgr := txn.NewManager(lastID)
	eng := sql.NewEngine(store, cat, mgr, lock.NewManager(), idx, log)
	return &runtime{
		cfg:   cfg,
		log:   log,
		store: store,
		cat:   cat,
		eng:   eng,
		auth:  auth.NewManager(cat, cfg.Auth.Enabled),
	}, nil
}

func (rt *runtime) close() {
	rt.cat.Close()
	if err := rt.store.Close(); err != nil {
		rt.log.Errorw("close store", "error", err)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the TCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := srvnet.NewServer(rt.cfg.Addr(), rt.eng, rt.auth, rt.log)
			return srv.Run(ctx)
		},
	}
}

func replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive shell against the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.close()
			return cli.NewREPL(rt.eng, rt.log).Run(cmd.Context())
		},
	}
}

func initdbCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "initdb",
		Short: "Initialize the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.close()
			rt.log.Infow("data directory initialized", "path", rt.cfg.Storage.DataDir)
			return nil
		},
	}
}

func createUserCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "createuser <name>",
		Short: "Create or update a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.close()
			if password == "" {
				return fmt.Errorf("--password is required")
			}
			if err := rt.auth.CreateUser(args[0], password); err != nil {
				return err
			}
			rt.log.Infow("user created", "name", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "password for the account")
	return cmd
}
