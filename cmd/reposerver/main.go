package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/pkgw/tectonopedia-ng/internal/jobs"
	"github.com/pkgw/tectonopedia-ng/internal/reposerver"
	"github.com/pkgw/tectonopedia-ng/internal/store"
)

const (
	envAllowedOrigin = "TTPEDIA_REPO_ALLOWED_ORIGIN"
	envRedisURL      = "TTPEDIA_REDIS_URL"
)

func main() {
	var listen string
	root := &cobra.Command{
		Use:          "reposerver <data-root>",
		Short:        "Serve document sync and submission for ttpedia clients",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), listen, args[0])
		},
	}
	root.Flags().StringVar(&listen, "listen", reposerver.DefaultAddr, "listen address")
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		glog.Flush()
		os.Exit(1)
	}
	glog.Flush()
}

func serve(ctx context.Context, listen, dataRoot string) error {
	origin := os.Getenv(envAllowedOrigin)
	if origin == "" {
		return fmt.Errorf("%s must be set", envAllowedOrigin)
	}

	storage, err := store.NewFileStorage(dataRoot)
	if err != nil {
		return err
	}

	var queue jobs.Queue = jobs.NewMemoryQueue()
	if u := os.Getenv(envRedisURL); u != "" {
		rq, err := jobs.NewRedisQueue(u)
		if err != nil {
			return err
		}
		defer rq.Close()
		if err := rq.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		queue = rq
	} else {
		glog.Warningf("%s not set; compile jobs stay in memory", envRedisURL)
	}

	srv := reposerver.New(reposerver.NewRepo(storage), reposerver.Config{
		PeerID:        reposerver.DefaultPeerID,
		AllowedOrigin: origin,
		Queue:         queue,
	})
	defer srv.Close()

	hs := &http.Server{
		Addr:              listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- hs.ListenAndServe() }()
	glog.Infof("reposerver listening on %s, data in %s", listen, storage.Dir())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	glog.Infof("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
