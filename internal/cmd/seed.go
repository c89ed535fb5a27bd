package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/taigrr/colorhash"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dendrascience/zkfuse/util"
	"github.com/dendrascience/zkfuse/zktree"
)

// NewSeedCmd creates and returns the seed subcommand for the zkfuse CLI.
// It fills a subtree with bucketed test nodes.
func NewSeedCmd() *cobra.Command {
	var (
		prefix  string
		count   int
		buckets int
		workers int
	)

	cmd := &cobra.Command{
		Use:   "seed CONNECT_STRING",
		Short: "Populate a subtree with test nodes",
		Long: `Generate nodes for testing a zkfuse mount.

Creates PREFIX/bucket-NNN/UUID under the connect string's root. Each node holds
its own UUID followed by a newline; the bucket is derived from the UUID, so
re-running seed adds to existing buckets instead of replacing them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 0 || buckets < 1 || workers < 1 {
				return fmt.Errorf("count must be >= 0, buckets and workers >= 1")
			}
			if err := util.ValidateName(prefix); err != nil {
				return fmt.Errorf("prefix: %w", err)
			}
			cfg, log, err := setup(cmd, args[0])
			if err != nil {
				return err
			}
			client, err := connect(cmd.Context(), cfg, log, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			s := seeder{
				client:  client,
				base:    util.Join(cfg.ZooKeeper.Root, prefix),
				buckets: buckets,
				log:     log,
			}
			start := time.Now()
			created, err := s.run(cmd.Context(), count, workers)
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s nodes under %s in %s\n",
				humanize.Comma(int64(created)), s.base, time.Since(start).Round(time.Millisecond))
			return err
		},
	}

	cmd.Flags().StringVarP(&prefix, "prefix", "p", "seed", "Node under the root to seed into")
	cmd.Flags().IntVarP(&count, "count", "c", 1000, "Number of nodes to generate")
	cmd.Flags().IntVarP(&buckets, "buckets", "b", 16, "Number of bucket directories")
	cmd.Flags().IntVarP(&workers, "workers", "w", 8, "Concurrent writers")

	return cmd
}

type seeder struct {
	client  *zktree.Client
	base    string
	buckets int
	log     *zap.Logger
}

func (s *seeder) bucket(id string) string {
	b := colorhash.HashString(id) % s.buckets
	if b < 0 {
		b = -b
	}
	return util.Join(s.base, fmt.Sprintf("bucket-%03d", b))
}

// ensure creates path, treating an existing node as success.
func (s *seeder) ensure(ctx context.Context, path string) error {
	if err := s.client.Create(ctx, path); err != nil && !errors.Is(err, zktree.ErrExists) {
		return err
	}
	return nil
}

// run writes count nodes using the given number of workers and returns how
// many were created.
func (s *seeder) run(ctx context.Context, count, workers int) (int, error) {
	if err := s.ensure(ctx, s.base); err != nil {
		return 0, fmt.Errorf("creating %s: %w", s.base, err)
	}

	var created atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for range count {
		g.Go(func() error {
			id := uuid.New().String()
			bucket := s.bucket(id)
			if err := s.ensure(ctx, bucket); err != nil {
				return fmt.Errorf("creating %s: %w", bucket, err)
			}
			path := util.Join(bucket, id)
			if err := s.client.Create(ctx, path); err != nil {
				return fmt.Errorf("creating %s: %w", path, err)
			}
			if _, err := s.client.Set(ctx, path, []byte(id+"\n"), zktree.AnyVersion); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}
			if n := created.Add(1); n%1000 == 0 {
				s.log.Info("seeding", zap.Int64("created", n))
			}
			return nil
		})
	}
	err := g.Wait()
	return int(created.Load()), err
}
