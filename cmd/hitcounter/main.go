package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/hashicorp/go-hclog"
	"github.com/metaphi-org/go-hit-counter/hitcounter"
	"github.com/metaphi-org/go-hit-counter/hitcounter/datastore"
	"github.com/metaphi-org/go-hit-counter/internal/config"
	"github.com/metaphi-org/go-hit-counter/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()

	root := &cobra.Command{
		Use:          "hitcounter",
		Short:        "Web page hit counter backed by Redis or DynamoDB",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(); err != nil {
				return err
			}
			return config.BindFlags(v, cmd.Flags())
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(newServeCmd(v), newIncrCmd(v))
	return root
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the hit counter page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			logger := cfg.Log.NewLogger("hitcounter", os.Stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

func newIncrCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "incr [key]",
		Short: "Increment a counter once and print the new value",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			logger := cfg.Log.NewLogger("hitcounter", os.Stderr)

			key := cfg.Counter.Key
			if len(args) == 1 {
				key = args[0]
			}

			ds, closeStore, err := newDatastore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			opts := append(cfg.Counter.Options(), hitcounter.WithLogger(logger.Named("counter")))
			count, err := hitcounter.New(ds, opts...).IncrementDefault(cmd.Context(), key)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), count)
			return nil
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger hclog.Logger) error {
	ds, closeStore, err := newDatastore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	windows, err := cfg.Counter.Granularities()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := append(cfg.Counter.Options(),
		hitcounter.WithLogger(logger.Named("counter")),
		hitcounter.WithObserver(hitcounter.NewMetrics(reg)),
	)
	counter := hitcounter.New(ds, opts...)

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: server.New(server.Options{
			Counter:    counter,
			Datastore:  ds,
			Key:        cfg.Counter.Key,
			MaxRetries: cfg.Counter.MaxRetries,
			Windows:    windows,
			Gatherer:   reg,
			Logger:     logger.Named("http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "store", cfg.Store)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newDatastore(ctx context.Context, cfg *config.Config) (datastore.Datastore, func(), error) {
	switch cfg.Store {
	case config.StoreRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:      []string{cfg.Redis.Addr},
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxRetries: -1,
		})
		return datastore.RedisDatastore{Client: client}, func() { _ = client.Close() }, nil

	case config.StoreDynamoDB:
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.DynamoDB.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.DynamoDB.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to load aws config: %w", err)
		}
		if cfg.DynamoDB.Endpoint != "" {
			awsCfg.BaseEndpoint = aws.String(cfg.DynamoDB.Endpoint)
		}

		pkAttr := cfg.DynamoDB.PKAttr
		ds := datastore.NewDynamoDBDatastore(
			awsCfg,
			cfg.DynamoDB.Table,
			func(id string) map[string]string {
				return map[string]string{
					pkAttr: id,
				}
			},
			cfg.DynamoDB.TTLAttr,
			cfg.DynamoDB.CountAttr,
		)
		return ds, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
