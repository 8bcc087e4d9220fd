package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/cookiestash/internal/config"
	"github.com/artpar/cookiestash/internal/cookies"
	httpclient "github.com/artpar/cookiestash/internal/protocol/http"
	"github.com/artpar/cookiestash/internal/surface/jsdom"
	"github.com/artpar/cookiestash/internal/surface/wspush"
)

// SendOptions holds options for the send command.
type SendOptions struct {
	Headers    []string
	Body       string
	JSON       bool
	Timeout    time.Duration
	NoRedirect bool
	Mirror     string
	Script     string
}

// NewSendCommand creates the send command.
func NewSendCommand(root *RootOptions) *cobra.Command {
	opts := &SendOptions{}

	cmd := &cobra.Command{
		Use:   "send METHOD URL",
		Short: "Send an HTTP request through the cookie jar",
		Long: `Send an HTTP request with stored cookies attached. Cookies the response sets
are saved, and can be mirrored to a WebSocket renderer (--mirror) or to an
embedded script document (--script).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := strings.ToUpper(args[0])
			url := args[1]
			return runSend(cmd, root, method, url, opts)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Headers, "header", "H", nil, "Request headers (format: Key:Value)")
	cmd.Flags().StringVarP(&opts.Body, "body", "d", "", "Request body")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Output response as JSON")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "Request timeout")
	cmd.Flags().BoolVar(&opts.NoRedirect, "no-redirect", false, "Do not follow redirects")
	cmd.Flags().StringVar(&opts.Mirror, "mirror", "", "Mirror stored cookies to a WebSocket renderer (ws:// URL)")
	cmd.Flags().StringVar(&opts.Script, "script", "", "Run JavaScript against document.cookie after the response")
	cmd.MarkFlagsMutuallyExclusive("mirror", "script")

	return cmd
}

// surfaceRig is a running surface plus the bridge feeding it.
type surfaceRig struct {
	bridge *cookies.SyncBridge
	doc    *jsdom.Document
	client *wspush.Client
	stop   context.CancelFunc
}

func (r *surfaceRig) Close() {
	r.bridge.Close()
	if r.doc != nil {
		r.stop()
	}
	if r.client != nil {
		r.client.Close()
	}
}

func bridgeOptions(cfg *config.Config, logger *slog.Logger) []cookies.BridgeOption {
	return []cookies.BridgeOption{
		cookies.WithAttempts(cfg.Sync.Attempts),
		cookies.WithBackoff(cfg.Sync.BaseDelay, cfg.Sync.MaxDelay),
		cookies.WithBridgeLogger(logger),
	}
}

func startSurface(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger, url string, opts *SendOptions) (*surfaceRig, error) {
	bopts := bridgeOptions(cfg, logger)

	switch {
	case opts.Script != "":
		doc, err := jsdom.New(url, func(level, message string) {
			fmt.Fprintf(cmd.ErrOrStderr(), "console.%s: %s\n", level, message)
		})
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithCancel(context.Background())
		go doc.Run(ctx)

		bopts = append(bopts, cookies.WithDispatcher(doc.Dispatch))
		return &surfaceRig{
			bridge: cookies.NewSyncBridge(doc, bopts...),
			doc:    doc,
			stop:   cancel,
		}, nil

	case opts.Mirror != "":
		client := wspush.NewClient(opts.Mirror, nil)
		return &surfaceRig{
			bridge: cookies.NewSyncBridge(client, bopts...),
			client: client,
		}, nil
	}
	return nil, nil
}

func runSend(cmd *cobra.Command, root *RootOptions, method, url string, opts *SendOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, logger, err := root.setup(cmd)
	if err != nil {
		return err
	}

	rig, err := startSurface(cmd, cfg, logger, url, opts)
	if err != nil {
		return err
	}
	var jarOpts []cookies.Option
	if rig != nil {
		defer rig.Close()
		jarOpts = append(jarOpts, cookies.WithSyncBridge(rig.bridge))
	}

	sess, err := openSession(ctx, cfg, logger, jarOpts...)
	if err != nil {
		return err
	}
	defer sess.Close()

	clientOpts := []httpclient.Option{
		httpclient.WithTimeout(opts.Timeout),
		httpclient.WithCookieJar(sess.jar),
	}
	if opts.NoRedirect {
		clientOpts = append(clientOpts, httpclient.WithNoRedirects())
	}
	client := httpclient.NewClient(clientOpts...)

	req := httpclient.NewRequest(method, url)
	headers := parseHeaders(opts.Headers)
	for key, value := range headers {
		req.SetHeader(key, value)
	}
	if opts.Body != "" {
		if req.Header.Get("Content-Type") == "" {
			req.SetHeader("Content-Type", "text/plain")
		}
		req.SetBody([]byte(opts.Body))
	}

	resp, err := client.Send(ctx, req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var scriptResult any
	if rig != nil {
		waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
		if err := rig.bridge.Wait(waitCtx); err != nil {
			logger.Warn("cookie mirror did not finish", "error", err)
		}
		if rig.doc != nil {
			scriptResult, err = rig.doc.Eval(waitCtx, opts.Script)
			if err != nil {
				return fmt.Errorf("script failed: %w", err)
			}
		}
	}

	if opts.JSON {
		return outputJSON(cmd, resp, scriptResult, opts.Script != "")
	}
	return outputHuman(cmd, resp, scriptResult, opts.Script != "")
}

func outputJSON(cmd *cobra.Command, resp *httpclient.Response, scriptResult any, hasScript bool) error {
	result := map[string]any{
		"status":      resp.StatusCode,
		"status_text": resp.Status,
		"headers":     resp.Header,
		"body":        string(resp.Body),
		"timing_ms":   resp.Timing.Total.Milliseconds(),
		"set_cookies": resp.SetCookieLines(),
	}
	if hasScript {
		result["script_result"] = scriptResult
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func outputHuman(cmd *cobra.Command, resp *httpclient.Response, scriptResult any, hasScript bool) error {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "HTTP %s\n", resp.Status)
	fmt.Fprintf(out, "Time: %dms\n", resp.Timing.Total.Milliseconds())
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Headers:")
	for _, key := range sortedKeys(resp.Header) {
		for _, value := range resp.Header[key] {
			fmt.Fprintf(out, "  %s: %s\n", key, value)
		}
	}
	fmt.Fprintln(out)

	if len(resp.Body) > 0 {
		fmt.Fprintln(out, "Body:")
		fmt.Fprintln(out, string(resp.Body))
	}

	if hasScript {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Script: %v\n", scriptResult)
	}

	return nil
}

func sortedKeys(h http.Header) []string {
	keys := make([]string, 0, len(h))
	for key := range h {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// parseHeaders converts header strings to a map.
func parseHeaders(headerStrs []string) map[string]string {
	headers := make(map[string]string)
	for _, h := range headerStrs {
		idx := strings.Index(h, ":")
		if idx == -1 {
			continue
		}
		key := strings.TrimSpace(h[:idx])
		value := strings.TrimSpace(h[idx+1:])
		headers[key] = value
	}
	return headers
}
