package wire

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dreamware/tuplespace/internal/tuple"
)

// ErrUnavailable marks failures a caller should treat as "server gone":
// transport errors and 502/503 answers.
var ErrUnavailable = errors.New("server unavailable")

// StatusError is a non-2xx answer from a peer
type StatusError struct {
	URL     string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %s: %d", e.URL, e.Code)
	}
	return fmt.Sprintf("http %s: %d: %s", e.URL, e.Code, e.Message)
}

// Is maps status codes onto the sentinels callers test for
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnavailable:
		return e.Code == http.StatusServiceUnavailable || e.Code == http.StatusBadGateway
	case tuple.ErrMalformed:
		return e.Code == http.StatusBadRequest
	}
	return false
}

// IsUnavailable reports whether err means the peer cannot serve right now
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// ErrorBody is the payload of every non-2xx answer
type ErrorBody struct {
	Error string `json:"error" msgpack:"error"`
}

// Codec is a body encoding with its content type
type Codec struct {
	ContentType string
	marshal     func(v any) ([]byte, error)
	decode      func(r io.Reader, v any) error
}

var (
	// Msgpack is the codec of the tuple protocol
	Msgpack = Codec{
		ContentType: "application/msgpack",
		marshal:     msgpack.Marshal,
		decode:      func(r io.Reader, v any) error { return msgpack.NewDecoder(r).Decode(v) },
	}
	// JSON is the codec of the name registry and operator endpoints
	JSON = Codec{
		ContentType: "application/json",
		marshal:     json.Marshal,
		decode:      func(r io.Reader, v any) error { return json.NewDecoder(r).Decode(v) },
	}
)

var (
	httpClient = &http.Client{Timeout: 5 * time.Second}
	// blocking calls park on the server until a tuple arrives
	waitClient = &http.Client{}
)

// Post sends body and decodes the answer into out (skipped when out is nil)
func (c Codec) Post(ctx context.Context, url string, body any, out any) error {
	return c.do(ctx, httpClient, http.MethodPost, url, body, out)
}

// Wait is Post without a client-side timeout, for long-polls
func (c Codec) Wait(ctx context.Context, url string, body any, out any) error {
	return c.do(ctx, waitClient, http.MethodPost, url, body, out)
}

// Get fetches url and decodes the answer into out
func (c Codec) Get(ctx context.Context, url string, out any) error {
	return c.do(ctx, httpClient, http.MethodGet, url, nil, out)
}

func (c Codec) do(ctx context.Context, client *http.Client, method, url string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		reqBody, err := c.marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", c.ContentType)
	}
	req.Header.Set("Accept", c.ContentType)

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb ErrorBody
		_ = c.decode(resp.Body, &eb)
		return &StatusError{URL: url, Code: resp.StatusCode, Message: eb.Error}
	}
	if out == nil {
		return nil
	}
	return c.decode(resp.Body, out)
}

// Decode reads a request body. A body that does not decode is malformed input.
func (c Codec) Decode(r *http.Request, v any) error {
	if err := c.decode(r.Body, v); err != nil {
		return fmt.Errorf("%w: decode request: %v", tuple.ErrMalformed, err)
	}
	return nil
}

// Respond writes v with the given status
func (c Codec) Respond(w http.ResponseWriter, status int, v any) {
	data, err := c.marshal(v)
	if err != nil {
		log.Printf("[wire] encode response: %v", err)
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", c.ContentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// Error writes err as an ErrorBody with the given status
func (c Codec) Error(w http.ResponseWriter, status int, err error) {
	c.Respond(w, status, ErrorBody{Error: err.Error()})
}
