package cookies

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const httpOnlyPrefix = "#HttpOnly_"

// ParseNetscape reads cookies from a Netscape-format cookies.txt stream.
// Lines starting with # are skipped, except #HttpOnly_ which sets the
// HttpOnly flag. Malformed and expired lines are skipped; the number of
// skipped lines is returned alongside the cookies.
func ParseNetscape(r io.Reader, now time.Time) ([]*Cookie, int, error) {
	var cookies []*Cookie
	skipped := 0

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		httpOnly := false
		if strings.HasPrefix(line, httpOnlyPrefix) {
			httpOnly = true
			line = line[len(httpOnlyPrefix):]
		} else if strings.HasPrefix(line, "#") {
			continue
		}

		c, err := parseNetscapeLine(line, httpOnly)
		if err != nil {
			skipped++
			continue
		}
		if c.IsExpired(now) {
			skipped++
			continue
		}
		cookies = append(cookies, c)
	}

	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("failed to read Netscape cookie file: %w", err)
	}
	return cookies, skipped, nil
}

// parseNetscapeLine parses the seven tab-separated fields:
// domain, include-subdomains, path, secure, expiry (unix seconds), name, value.
func parseNetscapeLine(line string, httpOnly bool) (*Cookie, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 7 {
		return nil, fmt.Errorf("%w: expected 7 fields, got %d", ErrMalformedCookie, len(fields))
	}

	expiry, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid expiry %q", ErrMalformedCookie, fields[4])
	}

	domain := NormalizeDomain(fields[0])
	name := fields[5]
	if domain == "" || name == "" {
		return nil, ErrMalformedCookie
	}

	path := fields[2]
	if path == "" || path[0] != '/' {
		path = "/"
	}

	c := &Cookie{
		Name:     name,
		Value:    fields[6],
		Domain:   domain,
		Path:     path,
		Secure:   strings.EqualFold(fields[3], "TRUE"),
		HttpOnly: httpOnly,
		HostOnly: !strings.EqualFold(fields[1], "TRUE") && !strings.HasPrefix(fields[0], "."),
	}
	// An expiry of 0 marks a session cookie in this format.
	if expiry > 0 {
		c.Persistent = true
		c.Expires = time.Unix(expiry, 0)
	}
	return c, nil
}

// ExportNetscape writes cookies in Netscape cookies.txt format.
func ExportNetscape(w io.Writer, cookies []*Cookie) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "# Netscape HTTP Cookie File")

	for _, c := range cookies {
		domain := c.Domain
		subdomains := "FALSE"
		if !c.HostOnly {
			domain = "." + domain
			subdomains = "TRUE"
		}
		if c.HttpOnly {
			domain = httpOnlyPrefix + domain
		}

		var expiry int64
		if c.Persistent {
			expiry = c.Expires.Unix()
		}

		fmt.Fprintf(bw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			domain, subdomains, c.Path, strings.ToUpper(strconv.FormatBool(c.Secure)),
			expiry, c.Name, c.Value)
	}
	return bw.Flush()
}
