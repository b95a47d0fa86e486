package naming

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dreamware/tuplespace/internal/wire"
)

// HTTPClient is a Registry backed by a remote registry server
type HTTPClient struct {
	base string
}

func NewHTTPClient(base string) *HTTPClient {
	return &HTTPClient{base: strings.TrimRight(base, "/")}
}

func (c *HTTPClient) Lookup(ctx context.Context, name string) (string, error) {
	var b wire.Binding
	err := wire.JSON.Get(ctx, c.base+"/lookup?name="+url.QueryEscape(name), &b)
	if wire.StatusCode(err) == http.StatusNotFound {
		return "", fmt.Errorf("%s: %w", name, ErrNotBound)
	}
	if err != nil {
		return "", err
	}
	return b.Addr, nil
}

func (c *HTTPClient) Bind(ctx context.Context, name, addr string) error {
	err := wire.JSON.Post(ctx, c.base+"/bind", wire.Binding{Name: name, Addr: addr}, nil)
	if wire.StatusCode(err) == http.StatusConflict {
		return fmt.Errorf("%s: %w", name, ErrAlreadyBound)
	}
	return err
}

func (c *HTTPClient) Rebind(ctx context.Context, name, addr string) error {
	return wire.JSON.Post(ctx, c.base+"/rebind", wire.Binding{Name: name, Addr: addr}, nil)
}

func (c *HTTPClient) Unbind(ctx context.Context, name string) error {
	err := wire.JSON.Post(ctx, c.base+"/unbind", wire.Binding{Name: name}, nil)
	if wire.StatusCode(err) == http.StatusNotFound {
		return fmt.Errorf("%s: %w", name, ErrNotBound)
	}
	return err
}

// Names lists every binding held by the registry server
func (c *HTTPClient) Names(ctx context.Context) ([]wire.Binding, error) {
	var out wire.NamesResponse
	if err := wire.JSON.Get(ctx, c.base+"/names", &out); err != nil {
		return nil, err
	}
	return out.Bindings, nil
}
