package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dreamware/tuplespace/internal/naming"
	"github.com/dreamware/tuplespace/internal/space"
	"github.com/dreamware/tuplespace/internal/tuple"
	"github.com/dreamware/tuplespace/internal/wire"
)

// DefaultBackoff is the pause between attempts once a server is lost
const DefaultBackoff = time.Second

// Client is a remote tuple space reached through a service name. It
// follows the name across failover: an operation that hits a dead or
// demoted server looks the name up again and is retried until it
// succeeds, fails on its own merits, or ctx is done.
type Client struct {
	reg     naming.Registry
	name    string
	backoff time.Duration

	mu   sync.Mutex
	addr string // last resolved address, "" when unknown

	ctx    context.Context // scope of EventRegister goroutines
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Client)

// WithBackoff sets the pause between retries
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

func New(reg naming.Registry, name string, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		reg:     reg,
		name:    name,
		backoff: DefaultBackoff,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) resolve(ctx context.Context) (string, error) {
	c.mu.Lock()
	addr := c.addr
	c.mu.Unlock()
	if addr != "" {
		return addr, nil
	}

	addr, err := c.reg.Lookup(ctx, c.name)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.addr = addr
	c.mu.Unlock()
	return addr, nil
}

func (c *Client) forget(addr string) {
	c.mu.Lock()
	if c.addr == addr {
		c.addr = ""
	}
	c.mu.Unlock()
}

// retryable errors mean the server behind the name is gone or not primary
func retryable(err error) bool {
	return wire.IsUnavailable(err) || errors.Is(err, naming.ErrNotBound)
}

// call runs fn against the current primary, retrying lost servers
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context, addr string) error) error {
	for attempt := 1; ; attempt++ {
		addr, err := c.resolve(ctx)
		if err == nil {
			if err = fn(ctx, addr); err == nil {
				return nil
			}
			if retryable(err) {
				c.forget(addr)
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(err) {
			return fmt.Errorf("%s: %w", op, err)
		}

		log.Printf("client[%s]: %s attempt %d failed, retrying in %v: %v", c.name, op, attempt, c.backoff, err)
		select {
		case <-time.After(c.backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	return c.call(ctx, op, func(ctx context.Context, addr string) error {
		return wire.Msgpack.Post(ctx, addr+path, body, out)
	})
}

// Write adds t to the space
func (c *Client) Write(ctx context.Context, t tuple.Tuple) error {
	if err := t.ValidateConcrete(); err != nil {
		return err
	}
	return c.post(ctx, "write", "/tuples/write", wire.TupleRequest{Tuple: t}, nil)
}

func (c *Client) tryOne(ctx context.Context, op, path string, tmpl tuple.Tuple) (tuple.Tuple, bool, error) {
	if err := tmpl.Validate(); err != nil {
		return nil, false, err
	}
	var resp wire.TupleResponse
	if err := c.post(ctx, op, path, wire.TupleRequest{Tuple: tmpl}, &resp); err != nil {
		return nil, false, err
	}
	if !resp.Found {
		return nil, false, nil
	}
	return resp.Tuple, true, nil
}

// TryTake removes and returns a matching tuple; ok is false if none exists
func (c *Client) TryTake(ctx context.Context, tmpl tuple.Tuple) (t tuple.Tuple, ok bool, err error) {
	return c.tryOne(ctx, "try-take", "/tuples/try-take", tmpl)
}

// TryRead returns a matching tuple; ok is false if none exists
func (c *Client) TryRead(ctx context.Context, tmpl tuple.Tuple) (t tuple.Tuple, ok bool, err error) {
	return c.tryOne(ctx, "try-read", "/tuples/try-read", tmpl)
}

func (c *Client) all(ctx context.Context, op, path string, tmpl tuple.Tuple) ([]tuple.Tuple, error) {
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	var resp wire.TuplesResponse
	if err := c.post(ctx, op, path, wire.TupleRequest{Tuple: tmpl}, &resp); err != nil {
		return nil, err
	}
	return resp.Tuples, nil
}

func (c *Client) TakeAll(ctx context.Context, tmpl tuple.Tuple) ([]tuple.Tuple, error) {
	return c.all(ctx, "take-all", "/tuples/take-all", tmpl)
}

func (c *Client) ReadAll(ctx context.Context, tmpl tuple.Tuple) ([]tuple.Tuple, error) {
	return c.all(ctx, "read-all", "/tuples/read-all", tmpl)
}

// Take blocks until a matching tuple can be removed. Cancelling ctx stops
// the wait but not the server-side registration, which may still consume
// a tuple later.
func (c *Client) Take(ctx context.Context, tmpl tuple.Tuple) (tuple.Tuple, error) {
	return c.event(ctx, uuid.NewString(), space.ModeTake, space.TimingImmediate, tmpl)
}

// Read blocks until a matching tuple exists and returns it
func (c *Client) Read(ctx context.Context, tmpl tuple.Tuple) (tuple.Tuple, error) {
	return c.event(ctx, uuid.NewString(), space.ModeRead, space.TimingImmediate, tmpl)
}

// EventRegister validates the registration, then registers it in the
// background and calls cb once with the tuple that fired it. Registration
// and delivery survive failover. Close abandons registrations that have not
// fired yet.
func (c *Client) EventRegister(mode space.Mode, timing space.Timing, tmpl tuple.Tuple, cb space.Callback) error {
	if mode != space.ModeRead && mode != space.ModeTake {
		return fmt.Errorf("%w: unknown event mode %d", tuple.ErrMalformed, mode)
	}
	if timing != space.TimingImmediate && timing != space.TimingFuture {
		return fmt.Errorf("%w: unknown event timing %d", tuple.ErrMalformed, timing)
	}
	if cb == nil {
		return fmt.Errorf("%w: nil callback", tuple.ErrMalformed)
	}
	if err := tmpl.Validate(); err != nil {
		return err
	}

	id := uuid.NewString()
	tmpl = tmpl.Clone()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		t, err := c.event(c.ctx, id, mode, timing, tmpl)
		if err != nil {
			if c.ctx.Err() == nil {
				log.Printf("client[%s]: event %s: %v", c.name, id, err)
			}
			return
		}
		cb(t)
	}()
	return nil
}

// event waits on the registration id, re-attaching to it on whichever
// server answers for the name, then claims the delivery
func (c *Client) event(ctx context.Context, id string, mode space.Mode, timing space.Timing, tmpl tuple.Tuple) (tuple.Tuple, error) {
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	req := wire.EventRequest{ID: id, Mode: mode, Timing: timing, Template: tmpl}

	var (
		resp wire.EventResponse
		from string
	)
	err := c.call(ctx, "event", func(ctx context.Context, addr string) error {
		from = addr
		return wire.Msgpack.Wait(ctx, addr+"/tuples/event", req, &resp)
	})
	if err != nil {
		return nil, err
	}

	// an unclaimed delivery only costs the server a mailbox
	if err := wire.Msgpack.Post(ctx, from+"/tuples/release", wire.ReleaseRequest{ID: id}, nil); err != nil {
		log.Printf("client[%s]: release %s: %v", c.name, id, err)
	}
	return resp.Tuple, nil
}

// Save asks the server to write its tuples to path, or to its state file
// when path is empty
func (c *Client) Save(ctx context.Context, path string) error {
	return c.post(ctx, "save", "/admin/save", wire.PathRequest{Path: path}, nil)
}

// Load asks the server to replace its tuples with the contents of path
func (c *Client) Load(ctx context.Context, path string) error {
	return c.post(ctx, "load", "/admin/load", wire.PathRequest{Path: path}, nil)
}

// Debug returns the server's dump of its tuples and registrations
func (c *Client) Debug(ctx context.Context, label string) (string, error) {
	var resp wire.DebugResponse
	if err := c.post(ctx, "debug", "/admin/debug", wire.DebugRequest{Label: label}, &resp); err != nil {
		return "", err
	}
	return resp.Dump, nil
}

// Close abandons pending EventRegister calls and waits for their goroutines
func (c *Client) Close() {
	c.cancel()
	c.wg.Wait()
}
