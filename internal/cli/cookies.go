package cli

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/artpar/cookiestash/internal/cookies"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229"))
	domainStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	flagStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// NewCookiesCommand creates the cookies command and its subcommands.
func NewCookiesCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cookies",
		Short: "Inspect and manage stored cookies",
	}

	cmd.AddCommand(newCookiesListCommand(root))
	cmd.AddCommand(newCookiesHeaderCommand(root))
	cmd.AddCommand(newCookiesClearCommand(root))
	cmd.AddCommand(newCookiesImportCommand(root))
	cmd.AddCommand(newCookiesExportCommand(root))
	cmd.AddCommand(newCookiesSweepCommand(root))

	return cmd
}

func newCookiesListCommand(root *RootOptions) *cobra.Command {
	var host string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List live cookies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := root.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			all, err := sess.jar.All()
			if err != nil {
				return err
			}
			if host != "" {
				all = filterHost(all, host)
			}

			if len(all) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No cookies stored.")
				return nil
			}
			renderCookies(cmd.OutOrStdout(), all)
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Only list cookies a request to this host would carry")
	return cmd
}

// filterHost keeps cookies a request to host would carry, by domain.
func filterHost(all []*cookies.Cookie, host string) []*cookies.Cookie {
	var out []*cookies.Cookie
	for _, c := range all {
		if cookies.DomainMatches(c.Domain, c.HostOnly, host) {
			out = append(out, c)
		}
	}
	return out
}

func renderCookies(w io.Writer, all []*cookies.Cookie) {
	domainWidth, nameWidth := len("DOMAIN"), len("NAME")
	for _, c := range all {
		domainWidth = max(domainWidth, len(displayDomain(c)))
		nameWidth = max(nameWidth, len(c.Name))
	}

	row := func(domain, path, name, value, expires, flags string) string {
		return fmt.Sprintf("%-*s  %-*s  %-*s  %s  %s  %s",
			domainWidth, domain, 8, path, nameWidth, name, value, expires, flags)
	}

	fmt.Fprintln(w, headerStyle.Render(row("DOMAIN", "PATH", "NAME", "VALUE", "EXPIRES", "FLAGS")))
	for _, c := range all {
		line := fmt.Sprintf("%s  %-8s  %-*s  %s  %s  %s",
			domainStyle.Render(fmt.Sprintf("%-*s", domainWidth, displayDomain(c))),
			c.Path,
			nameWidth, c.Name,
			truncate(c.Value, 32),
			dimStyle.Render(formatExpiry(c)),
			flagStyle.Render(cookieFlags(c)),
		)
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("%d cookies", len(all))))
}

func displayDomain(c *cookies.Cookie) string {
	if c.HostOnly {
		return c.Domain
	}
	return "." + c.Domain
}

func formatExpiry(c *cookies.Cookie) string {
	if c.IsSession() {
		return "session"
	}
	return c.Expires.Local().Format(time.DateTime)
}

func cookieFlags(c *cookies.Cookie) string {
	var flags []string
	if c.Secure {
		flags = append(flags, "secure")
	}
	if c.HttpOnly {
		flags = append(flags, "httponly")
	}
	return strings.Join(flags, ",")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func newCookiesHeaderCommand(root *RootOptions) *cobra.Command {
	var copyToClipboard bool

	cmd := &cobra.Command{
		Use:   "header URL",
		Short: "Print the Cookie header a request to URL would carry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := url.Parse(args[0])
			if err != nil || u.Host == "" {
				return fmt.Errorf("invalid URL %q", args[0])
			}

			sess, err := root.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			header, err := sess.jar.Header(u)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), header)

			if copyToClipboard {
				if err := clipboard.WriteAll(header); err != nil {
					return fmt.Errorf("failed to copy to clipboard: %w", err)
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "Copied to clipboard.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&copyToClipboard, "copy", false, "Also copy the header to the clipboard")
	return cmd
}

func newCookiesClearCommand(root *RootOptions) *cobra.Command {
	var host string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove stored cookies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := root.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			if host != "" {
				if err := sess.jar.ClearForHost(cmd.Context(), host); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared cookies for %s\n", host)
				return nil
			}

			if err := sess.jar.ClearAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cleared all cookies")
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Only clear cookies stored under this host")
	return cmd
}

func newCookiesImportCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import cookies from a Netscape cookies.txt file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := afero.NewOsFs().Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()

			sess, err := root.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			parsed, skipped, err := cookies.ParseNetscape(f, time.Now())
			if err != nil {
				return err
			}
			n, err := sess.jar.Import(cmd.Context(), parsed)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d cookies", n)
			if skipped > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), " (%d lines skipped)", skipped)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
}

func newCookiesExportCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export FILE",
		Short: "Export live cookies to a Netscape cookies.txt file (- for stdout)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := root.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			all, err := sess.jar.All()
			if err != nil {
				return err
			}

			if args[0] == "-" {
				return cookies.ExportNetscape(cmd.OutOrStdout(), all)
			}

			f, err := afero.NewOsFs().OpenFile(args[0], os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", args[0], err)
			}
			if err := cookies.ExportNetscape(f, all); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d cookies to %s\n", len(all), args[0])
			return nil
		},
	}
}

func newCookiesSweepCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired cookies now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := root.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			n, err := sess.jar.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired cookies\n", n)
			return nil
		},
	}
}
