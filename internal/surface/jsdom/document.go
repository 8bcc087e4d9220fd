// Package jsdom provides an embedded script surface: a goja runtime with a
// minimal document.cookie, driven by a single event loop. It is the
// in-process consumer the cookie jar mirrors into.
package jsdom

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

// ErrStopped is returned when the event loop is no longer running.
var ErrStopped = errors.New("jsdom: event loop stopped")

// ConsoleHandler receives console output from scripts.
type ConsoleHandler func(level, message string)

// Document is a script surface. The goja runtime is not safe for
// concurrent use, so all runtime and cookie state is owned by the goroutine
// running Run; other goroutines reach it through Dispatch.
type Document struct {
	rt       *goja.Runtime
	jobs     chan func()
	done     chan struct{}
	stopOnce sync.Once

	location *url.URL
	// committed and staged map host to cookies in insertion order.
	committed map[string]*cookieList
	staged    map[string]*cookieList
	flushes   int

	console ConsoleHandler
}

type cookieList struct {
	names  []string
	values map[string]string
}

func (l *cookieList) set(name, value string) {
	if l.values == nil {
		l.values = make(map[string]string)
	}
	if _, ok := l.values[name]; !ok {
		l.names = append(l.names, name)
	}
	l.values[name] = value
}

func (l *cookieList) String() string {
	parts := make([]string, 0, len(l.names))
	for _, n := range l.names {
		parts = append(parts, n+"="+l.values[n])
	}
	return strings.Join(parts, "; ")
}

// New creates a document whose location is rawURL.
func New(rawURL string, console ConsoleHandler) (*Document, error) {
	loc, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("jsdom: invalid location: %w", err)
	}

	d := &Document{
		rt:        goja.New(),
		jobs:      make(chan func(), 64),
		done:      make(chan struct{}),
		location:  loc,
		committed: make(map[string]*cookieList),
		staged:    make(map[string]*cookieList),
		console:   console,
	}
	if err := d.setupGlobals(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Document) setupGlobals() error {
	doc := d.rt.NewObject()
	getter := d.rt.ToValue(func(goja.FunctionCall) goja.Value {
		return d.rt.ToValue(d.cookieString(d.location.Hostname()))
	})
	setter := d.rt.ToValue(func(call goja.FunctionCall) goja.Value {
		name, value, ok := splitCookie(call.Argument(0).String())
		if ok {
			d.list(d.committed, d.location.Hostname()).set(name, value)
		}
		return goja.Undefined()
	})
	if err := doc.DefineAccessorProperty("cookie", getter, setter, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
		return err
	}
	if err := d.rt.Set("document", doc); err != nil {
		return err
	}

	console := d.rt.NewObject()
	for _, level := range []string{"log", "info", "warn", "error"} {
		level := level
		console.Set(level, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = fmt.Sprintf("%v", arg.Export())
			}
			if d.console != nil {
				d.console(level, strings.Join(parts, " "))
			}
			return goja.Undefined()
		})
	}
	return d.rt.Set("console", console)
}

// Run executes dispatched work until ctx is done or Stop is called.
func (d *Document) Run(ctx context.Context) error {
	for {
		select {
		case fn := <-d.jobs:
			fn()
		case <-ctx.Done():
			d.Stop()
			return ctx.Err()
		case <-d.done:
			return nil
		}
	}
}

// Stop ends the event loop. Work dispatched afterwards is dropped.
func (d *Document) Stop() {
	d.stopOnce.Do(func() {
		close(d.done)
		d.rt.Interrupt(ErrStopped)
	})
}

// Dispatch queues fn on the event loop. It is a cookies.Dispatcher.
func (d *Document) Dispatch(fn func()) {
	select {
	case d.jobs <- fn:
	case <-d.done:
	}
}

// call runs fn on the event loop and waits for it.
func (d *Document) call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	d.Dispatch(func() { errc <- fn() })

	select {
	case err := <-errc:
		return err
	case <-d.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetCookie stages a "name=value" cookie for rawURL's host. It must run on
// the event loop; the sync bridge reaches it through Dispatch.
func (d *Document) SetCookie(_ context.Context, rawURL, cookie string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("jsdom: invalid url: %w", err)
	}
	name, value, ok := splitCookie(cookie)
	if !ok {
		return fmt.Errorf("jsdom: invalid cookie string %q", cookie)
	}
	d.list(d.staged, u.Hostname()).set(name, value)
	return nil
}

// Flush commits staged cookies so scripts can see them. It must run on the
// event loop.
func (d *Document) Flush(context.Context) error {
	for host, staged := range d.staged {
		list := d.list(d.committed, host)
		for _, n := range staged.names {
			list.set(n, staged.values[n])
		}
	}
	d.staged = make(map[string]*cookieList)
	d.flushes++
	return nil
}

// Eval runs script on the event loop and returns its exported result.
func (d *Document) Eval(ctx context.Context, script string) (interface{}, error) {
	var result interface{}
	err := d.call(ctx, func() error {
		v, err := d.rt.RunString(script)
		if err != nil {
			return err
		}
		result = v.Export()
		return nil
	})
	return result, err
}

// Navigate changes the document location.
func (d *Document) Navigate(ctx context.Context, rawURL string) error {
	loc, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("jsdom: invalid location: %w", err)
	}
	return d.call(ctx, func() error {
		d.location = loc
		return nil
	})
}

// CookieString returns the committed cookies for host.
func (d *Document) CookieString(ctx context.Context, host string) (string, error) {
	var s string
	err := d.call(ctx, func() error {
		s = d.cookieString(host)
		return nil
	})
	return s, err
}

// Flushes returns how many times Flush has run.
func (d *Document) Flushes(ctx context.Context) (int, error) {
	var n int
	err := d.call(ctx, func() error {
		n = d.flushes
		return nil
	})
	return n, err
}

func (d *Document) cookieString(host string) string {
	list, ok := d.committed[strings.ToLower(host)]
	if !ok {
		return ""
	}
	return list.String()
}

func (d *Document) list(m map[string]*cookieList, host string) *cookieList {
	host = strings.ToLower(host)
	l, ok := m[host]
	if !ok {
		l = &cookieList{}
		m[host] = l
	}
	return l
}

// splitCookie takes the name=value pair in front of any attributes.
func splitCookie(s string) (string, string, bool) {
	pair, _, _ := strings.Cut(s, ";")
	name, value, ok := strings.Cut(pair, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return name, "", false
	}
	return name, strings.TrimSpace(value), true
}
