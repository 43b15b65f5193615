// Command s3lite runs a local, file-backed emulator of the S3 HTTP API,
// serving a directory on disk as the root of every bucket it exposes.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/s3lite/s3lite/internal/auth"
	"github.com/s3lite/s3lite/internal/debug"
	"github.com/s3lite/s3lite/internal/event"
	"github.com/s3lite/s3lite/internal/server"
	"github.com/s3lite/s3lite/internal/store"
)

func init() {
	// don't import `go.uber.org/automaxprocs` to disable the log output
	_, _ = maxprocs.Set()
}

type options struct {
	directory                 string
	address                   string
	port                      int
	silent                    bool
	keyFile                   string
	certFile                  string
	endpoint                  string
	allowMismatchedSignatures bool
	noVHostBuckets            bool
	configureBucket           string
}

var opts options

const serverShutdownTimeout = 30 * time.Second

var cmdRoot = &cobra.Command{
	Use:   "s3lite",
	Short: "Run a local, file-backed S3 API emulator",
	Long: `
s3lite serves a directory on disk as an S3-compatible HTTP endpoint,
for testing S3 client code without talking to a real AWS account.
`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), opts)
	},
}

func init() {
	flags := cmdRoot.Flags()
	flags.StringVarP(&opts.directory, "directory", "d", "./s3lite-data", "`directory` to store buckets and objects in")
	flags.StringVarP(&opts.address, "address", "a", "0.0.0.0", "address to listen on")
	flags.IntVarP(&opts.port, "port", "p", 4569, "port to listen on")
	flags.BoolVarP(&opts.silent, "silent", "s", false, "suppress per-request logging")
	flags.StringVar(&opts.keyFile, "key", "", "path to a TLS private key; enables HTTPS on port+1 alongside plain HTTP")
	flags.StringVar(&opts.certFile, "cert", "", "path to a TLS certificate, paired with --key")
	flags.StringVar(&opts.endpoint, "service-endpoint", "localhost", "hostname suffix used to recognize virtual-hosted-style bucket addressing")
	flags.BoolVar(&opts.allowMismatchedSignatures, "allow-mismatched-signatures", false, "accept requests whose SigV4 signature does not match instead of rejecting them")
	flags.BoolVar(&opts.noVHostBuckets, "no-vhost-buckets", false, "disable virtual-hosted-style bucket addressing, recognizing only path-style requests")
	flags.StringVar(&opts.configureBucket, "configure-bucket", "", "create this bucket on startup if it does not already exist")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	debug.Log("s3lite starting: %#v", os.Args)

	if err := cmdRoot.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	if err := os.MkdirAll(opts.directory, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	st := store.New(opts.directory)
	registry := auth.NewRegistry()

	if opts.configureBucket != "" {
		if err := st.CreateBucket(ctx, opts.configureBucket); err != nil {
			return fmt.Errorf("configure bucket %q: %w", opts.configureBucket, err)
		}
	}

	emitter := &event.Emitter{
		Sink: func(_ context.Context, payload []byte) error {
			if !opts.silent {
				fmt.Fprintf(os.Stderr, "%s\n", payload)
			}
			return nil
		},
	}

	handler := server.New(server.Config{
		Store:                     st,
		Registry:                  registry,
		Emitter:                   emitter,
		ServiceEndpoint:           opts.endpoint,
		DisableVHostBuckets:       opts.noVHostBuckets,
		AllowMismatchedSignatures: opts.allowMismatchedSignatures,
	})

	addr := fmt.Sprintf("%s:%d", opts.address, opts.port)

	g, gctx := errgroup.WithContext(ctx)

	plain := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(net.Listener) context.Context {
			return gctx
		},
	}
	g.Go(func() error {
		return serveUntilDone(gctx, plain, addr, "http")
	})

	if opts.certFile != "" && opts.keyFile != "" {
		tlsAddr := fmt.Sprintf("%s:%d", opts.address, opts.port+1)
		tlsSrv := &http.Server{
			Addr:    tlsAddr,
			Handler: handler,
			BaseContext: func(net.Listener) context.Context {
				return gctx
			},
		}
		g.Go(func() error {
			return serveTLSUntilDone(gctx, tlsSrv, tlsAddr, opts.certFile, opts.keyFile)
		})
	}

	printBanner(addr)

	return g.Wait()
}

func serveUntilDone(ctx context.Context, srv *http.Server, addr, scheme string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err = srv.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func serveTLSUntilDone(ctx context.Context, srv *http.Server, addr, certFile, keyFile string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err = srv.ServeTLS(listener, certFile, keyFile)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// printBanner announces the listen address, with a plainer line when stdout
// isn't a terminal (e.g. piped into a log collector).
func printBanner(addr string) {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Printf("s3lite listening on http://%s\n", addr)
		return
	}
	fmt.Printf("listening addr=%s\n", addr)
}
