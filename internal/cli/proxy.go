package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/cookiestash/internal/cookies"
	"github.com/artpar/cookiestash/internal/proxy"
)

// ProxyOptions holds options for the proxy command.
type ProxyOptions struct {
	ListenAddr        string
	BufferSize        int
	UpstreamTimeout   time.Duration
	ExcludeHosts      []string
	IncludeHosts      []string
	KeepClientCookies bool
}

// NewProxyCommand creates the proxy command.
func NewProxyCommand(root *RootOptions) *cobra.Command {
	opts := &ProxyOptions{}

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Start an HTTP proxy that keeps cookies for its clients",
		Long: `Start an HTTP forward proxy backed by the cookie jar. Plain HTTP requests get
stored cookies attached and have their Set-Cookie responses saved. HTTPS is
tunneled without inspection.

Examples:
  # Start proxy (auto-assigns available port)
  cookiestash proxy

  # Start proxy on specific port
  cookiestash proxy --port :8080

  # Only manage cookies for specific hosts
  cookiestash proxy --include api.example.com --include *.test.com
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProxy(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ListenAddr, "port", "p", ":0", "Port to listen on (:0 for auto, :8080 for specific port)")
	cmd.Flags().IntVar(&opts.BufferSize, "buffer", 500, "Number of recent exchanges to keep")
	cmd.Flags().DurationVar(&opts.UpstreamTimeout, "upstream-timeout", 30*time.Second, "Timeout for each forwarded request")
	cmd.Flags().StringArrayVar(&opts.ExcludeHosts, "exclude", nil, "Hosts whose cookies are left alone (supports wildcards like *.example.com)")
	cmd.Flags().StringArrayVar(&opts.IncludeHosts, "include", nil, "Only manage cookies for these hosts (supports wildcards)")
	cmd.Flags().BoolVar(&opts.KeepClientCookies, "keep-client-cookies", false, "Send the client's own cookies along with stored ones")

	return cmd
}

func runProxy(cmd *cobra.Command, root *RootOptions, opts *ProxyOptions) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := root.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	if sess.cfg.SweepSchedule != "" {
		sweeper, err := cookies.NewSweeper(sess.jar, sess.cfg.SweepSchedule, sess.logger)
		if err != nil {
			return err
		}
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	server, err := proxy.NewServer(sess.jar, sess.logger,
		proxy.WithListenAddr(opts.ListenAddr),
		proxy.WithBufferSize(opts.BufferSize),
		proxy.WithUpstreamTimeout(opts.UpstreamTimeout),
		proxy.WithExcludeHosts(opts.ExcludeHosts...),
		proxy.WithIncludeHosts(opts.IncludeHosts...),
		proxy.WithKeepClientCookies(opts.KeepClientCookies),
	)
	if err != nil {
		return fmt.Errorf("failed to create proxy server: %w", err)
	}

	out := &lockedWriter{w: cmd.OutOrStdout()}
	if root.Verbose {
		server.AddListener(proxy.ExchangeListenerFunc(func(ex *proxy.Exchange) {
			if ex.Tunneled {
				fmt.Fprintf(out, "[TUNNEL] %s (%dms)\n", ex.Host, ex.Duration.Milliseconds())
				return
			}
			fmt.Fprintf(out, "[HTTP] %s %s -> %d (%dms) sent=%d set=%d\n",
				ex.Method, ex.URL, ex.StatusCode, ex.Duration.Milliseconds(),
				countCookies(ex.CookiesSent), len(ex.CookiesSet))
		}))
	}

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start proxy server: %w", err)
	}

	addr := displayAddr(server.ListenAddr())
	fmt.Fprintf(out, "Proxy server started on %s\n", addr)
	fmt.Fprintf(out, "\nConfigure your applications to use this proxy:\n")
	fmt.Fprintf(out, "  export http_proxy=http://%s\n", addr)
	fmt.Fprintf(out, "  export https_proxy=http://%s\n", addr)
	fmt.Fprintf(out, "\nPress Ctrl+C to stop...\n")

	<-ctx.Done()

	fmt.Fprintf(out, "\nShutting down proxy server...\n")
	if err := server.Stop(); err != nil {
		return fmt.Errorf("error stopping proxy server: %w", err)
	}
	fmt.Fprintf(out, "Handled %d requests\n", len(server.Exchanges(0)))

	return nil
}

// lockedWriter serializes writes from exchange listeners and the command.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// displayAddr turns a wildcard listen address into one a client can use.
func displayAddr(addr string) string {
	switch {
	case strings.HasPrefix(addr, "[::]"):
		return "localhost" + addr[4:]
	case strings.HasPrefix(addr, "0.0.0.0"):
		return "localhost" + addr[7:]
	case strings.HasPrefix(addr, ":"):
		return "localhost" + addr
	}
	return addr
}

func countCookies(header string) int {
	if header == "" {
		return 0
	}
	return strings.Count(header, ";") + 1
}
