package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Sternrassler/swcache/pkg/store"
	"github.com/spf13/cobra"
)

var errNoRedis = errors.New("SWCACHE_REDIS_URL is required: in-memory stores only live inside a running serve")

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "List stores and their entry counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRedisStorage(cmd, func(ctx context.Context, storage store.Storage) error {
			return listStores(ctx, storage, cmd.OutOrStdout())
		})
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every store",
	Long: `Delete every store, as activation of a new controller does. Running
proxies keep serving from the network and refill the current store.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRedisStorage(cmd, func(ctx context.Context, storage store.Storage) error {
			return purgeStores(ctx, storage, cmd.OutOrStdout())
		})
	},
}

func withRedisStorage(cmd *cobra.Command, fn func(context.Context, store.Storage) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.RedisURL == "" {
		return errNoRedis
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	storage, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage()

	return fn(ctx, storage)
}

func listStores(ctx context.Context, storage store.Storage, out io.Writer) error {
	names, err := storage.Names(ctx)
	if err != nil {
		return fmt.Errorf("list stores: %w", err)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STORE\tENTRIES")
	for _, name := range names {
		cache, err := storage.Open(ctx, name)
		if err != nil {
			return fmt.Errorf("open store %q: %w", name, err)
		}
		keys, err := cache.Keys(ctx)
		if err != nil {
			return fmt.Errorf("list keys of %q: %w", name, err)
		}
		fmt.Fprintf(w, "%s\t%d\n", name, len(keys))
	}
	return w.Flush()
}

func purgeStores(ctx context.Context, storage store.Storage, out io.Writer) error {
	names, err := storage.Names(ctx)
	if err != nil {
		return fmt.Errorf("list stores: %w", err)
	}

	deleted := 0
	for _, name := range names {
		ok, err := storage.Delete(ctx, name)
		if err != nil {
			return fmt.Errorf("delete store %q: %w", name, err)
		}
		if ok {
			deleted++
		}
	}

	fmt.Fprintf(out, "Deleted %d stores\n", deleted)
	return nil
}
