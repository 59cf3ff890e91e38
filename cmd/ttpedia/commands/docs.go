package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/pkgw/tectonopedia-ng/internal/domain"
	"github.com/pkgw/tectonopedia-ng/internal/replica"
)

// withDocument opens a session, waits for id to become ready and calls fn.
func withDocument(ctx context.Context, raw string, fn func(*replica.Handle) error) error {
	id, err := domain.ParseDocumentID(raw)
	if err != nil {
		return err
	}
	s, err := wire.OpenSession()
	if err != nil {
		return err
	}
	defer s.Close()

	h, err := s.Find(ctx, id)
	if err != nil {
		return err
	}
	if err := h.WhenReady(ctx); err != nil {
		return fmt.Errorf("document %s: %w", id, err)
	}
	return fn(h)
}

// flushDelay is how long import keeps the connection open after joining so
// the peer can pull the new document.
const flushDelay = time.Second

// flush waits for the session to join its peer, then lingers for flushDelay.
// Gives up silently after the load timeout; the document stays local and is
// pushed the next time it is opened online.
func flush(ctx context.Context, s *replica.Session) {
	ctx, cancel := context.WithTimeout(ctx, wire.Transport.LoadTimeout)
	defer cancel()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for !s.Connected() {
		select {
		case <-ctx.Done():
			glog.Warningf("sync peer not reached; document kept locally")
			return
		case <-tick.C:
		}
	}
	select {
	case <-ctx.Done():
	case <-time.After(flushDelay):
	}
}

// import <file>: create a document holding the file's text.
func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Create a document from a local file and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			s, err := wire.OpenSession()
			if err != nil {
				return err
			}
			defer s.Close()

			h, err := s.Create(cmd.Context())
			if err != nil {
				return err
			}
			if err := h.SetContent(cmd.Context(), string(text)); err != nil {
				return err
			}
			if !wire.Transport.Offline() {
				flush(cmd.Context(), s)
			}
			fmt.Println(h.ID())
			return nil
		},
	}
}

// show <id>: print the document content.
func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <doc-id>",
		Short: "Print the current content of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocument(cmd.Context(), args[0], func(h *replica.Handle) error {
				fmt.Print(h.Snapshot().Content)
				return nil
			})
		},
	}
}

// watch <id>: print the content on every change until interrupted.
func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <doc-id>",
		Short: "Print the document content every time it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return withDocument(ctx, args[0], func(h *replica.Handle) error {
				for snap := range h.Changes(ctx) {
					fmt.Printf("--- %s %v\n%s\n", snap.ID, snap.Heads, snap.Content)
				}
				return nil
			})
		},
	}
}

// submit <id>: ask the backend to compile the document.
func submitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <doc-id>",
		Short: "Ask the backend to compile a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiBase == "" {
				return fmt.Errorf("no API configured. use --api")
			}
			return withDocument(cmd.Context(), args[0], func(h *replica.Handle) error {
				status, err := wire.Submitter.Submit(cmd.Context(), h.ID())
				if err != nil {
					return err
				}
				fmt.Println(status)
				return nil
			})
		},
	}
}
