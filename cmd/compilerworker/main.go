// Command compilerworker drains compile jobs queued by reposerver.
//
// It requires TTPEDIA_REDIS_URL and runs a fixed pool of workers. Each job
// carries the document id and the content captured at submission time.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/pkgw/tectonopedia-ng/internal/jobs"
)

const envRedisURL = "TTPEDIA_REDIS_URL"

func main() {
	var workers int
	root := &cobra.Command{
		Use:          "compilerworker",
		Short:        "Process compile jobs from the shared queue",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			u := os.Getenv(envRedisURL)
			if u == "" {
				return fmt.Errorf("%s must be set", envRedisURL)
			}
			q, err := jobs.NewRedisQueue(u)
			if err != nil {
				return err
			}
			defer q.Close()
			if err := q.Ping(cmd.Context()); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			run(cmd.Context(), q, workers)
			return nil
		},
	}
	root.Flags().IntVar(&workers, "workers", 2, "number of concurrent workers")
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := root.ExecuteContext(ctx)
	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, q jobs.Queue, n int) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for ctx.Err() == nil {
				job, err := q.Dequeue(ctx, jobs.KindCompile, 5*time.Second)
				switch {
				case errors.Is(err, jobs.ErrEmpty), errors.Is(err, context.Canceled):
					continue
				case err != nil:
					glog.Errorf("worker %d: dequeue: %v", worker, err)
					time.Sleep(time.Second)
					continue
				}
				compile(worker, job)
			}
		}(i)
	}
	wg.Wait()
}

func compile(worker int, job jobs.Job) {
	if len(job.Args) < 2 {
		glog.Warningf("worker %d: job %s: malformed args %q", worker, job.ID, job.Args)
		return
	}
	glog.Infof("worker %d: compile %s (%d bytes)", worker, job.Args[0], len(job.Args[1]))
	glog.V(2).Infof("worker %d: %s content:\n%s", worker, job.Args[0], job.Args[1])
}
