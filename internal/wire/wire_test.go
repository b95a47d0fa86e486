package wire

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dreamware/tuplespace/internal/space"
	"github.com/dreamware/tuplespace/internal/tuple"
)

// TestPost tests the msgpack Post helper with various server answers
func TestPost(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse int
		serverError    string
		wantErr        bool
		wantMalformed  bool
		wantGone       bool
	}{
		{name: "successful POST", serverResponse: http.StatusOK},
		{name: "bad request", serverResponse: http.StatusBadRequest, serverError: "bad tuple", wantErr: true, wantMalformed: true},
		{name: "not primary", serverResponse: http.StatusServiceUnavailable, serverError: "not primary", wantErr: true, wantGone: true},
		{name: "bad gateway", serverResponse: http.StatusBadGateway, wantErr: true, wantGone: true},
		{name: "server error", serverResponse: http.StatusInternalServerError, serverError: "disk full", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("Expected POST method, got %s", r.Method)
				}
				if ct := r.Header.Get("Content-Type"); ct != "application/msgpack" {
					t.Errorf("Expected Content-Type application/msgpack, got %s", ct)
				}

				var req TupleRequest
				if err := Msgpack.Decode(r, &req); err != nil {
					t.Errorf("Failed to decode request: %v", err)
				}
				if tt.serverResponse != http.StatusOK {
					Msgpack.Error(w, tt.serverResponse, errors.New(tt.serverError))
					return
				}
				Msgpack.Respond(w, http.StatusOK, TupleResponse{Tuple: req.Tuple, Found: true})
			}))
			defer server.Close()

			var out TupleResponse
			sent := tuple.MustNew(4, "oui", 2.5)
			err := Msgpack.Post(context.Background(), server.URL, TupleRequest{Tuple: sent}, &out)

			if tt.wantErr != (err != nil) {
				t.Fatalf("Post() error = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, tuple.ErrMalformed) != tt.wantMalformed {
				t.Errorf("errors.Is(err, ErrMalformed) = %v, want %v", !tt.wantMalformed, tt.wantMalformed)
			}
			if IsUnavailable(err) != tt.wantGone {
				t.Errorf("IsUnavailable(err) = %v, want %v", !tt.wantGone, tt.wantGone)
			}
			if err != nil {
				if StatusCode(err) != tt.serverResponse {
					t.Errorf("StatusCode = %d, want %d", StatusCode(err), tt.serverResponse)
				}
				var se *StatusError
				if errors.As(err, &se) && se.Message != tt.serverError {
					t.Errorf("Message = %q, want %q", se.Message, tt.serverError)
				}
				return
			}
			if !out.Found || !out.Tuple.Equal(sent) {
				t.Errorf("Expected echo of %s, got %+v", sent, out)
			}
		})
	}
}

// TestPostUnreachable tests that transport failures read as unavailable
func TestPostUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := Msgpack.Post(context.Background(), url, TupleRequest{}, nil)
	if !IsUnavailable(err) {
		t.Errorf("Expected unavailable error, got %v", err)
	}
	if StatusCode(err) != 0 {
		t.Errorf("Expected no status code, got %d", StatusCode(err))
	}

	if err := Msgpack.Post(context.Background(), "://invalid-url", TupleRequest{}, nil); err == nil {
		t.Error("Expected error for invalid URL, got none")
	}
}

// TestWaitHonoursContext tests that a long-poll can be abandoned
func TestWaitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := Msgpack.Wait(ctx, server.URL, EventRequest{ID: "h"}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if IsUnavailable(err) {
		t.Error("An abandoned wait must not look like a lost server")
	}
}

// TestDecodeMalformed tests that garbage request bodies are malformed input
func TestDecodeMalformed(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/tuples/write", http.NoBody)
	var body TupleRequest
	if err := Msgpack.Decode(req, &body); !errors.Is(err, tuple.ErrMalformed) {
		t.Errorf("Expected ErrMalformed, got %v", err)
	}
}

// TestGetJSON tests the JSON codec used by the registry
func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET method, got %s", r.Method)
		}
		JSON.Respond(w, http.StatusOK, NamesResponse{Bindings: []Binding{{Name: "space", Addr: "http://a"}}})
	}))
	defer server.Close()

	var out NamesResponse
	if err := JSON.Get(context.Background(), server.URL, &out); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(out.Bindings) != 1 || out.Bindings[0].Addr != "http://a" {
		t.Errorf("Unexpected bindings %+v", out.Bindings)
	}
}

// TestMutationsOverWire tests that a journal batch survives the msgpack codec
func TestMutationsOverWire(t *testing.T) {
	batch := []space.Mutation{
		{Op: space.OpInsert, Tuple: tuple.MustNew(1, "a", []byte{0x0a})},
		{Op: space.OpRegister, ID: "h1", Mode: space.ModeTake, Timing: space.TimingFuture, Template: tuple.MustNew(tuple.IntType, tuple.AnyType)},
		{Op: space.OpFire, ID: "h1", Tuple: tuple.MustNew(2, true)},
		{Op: space.OpReplace, Tuples: []tuple.Tuple{tuple.MustNew(3.5)}},
	}

	var got ApplyRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := Msgpack.Decode(r, &got); err != nil {
			Msgpack.Error(w, http.StatusBadRequest, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	if err := Msgpack.Post(context.Background(), server.URL, ApplyRequest{Mutations: batch}, nil); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if len(got.Mutations) != len(batch) {
		t.Fatalf("Expected %d mutations, got %d", len(batch), len(got.Mutations))
	}
	if got.Mutations[1].Mode != space.ModeTake || got.Mutations[1].Timing != space.TimingFuture {
		t.Errorf("Registration lost its mode or timing: %+v", got.Mutations[1])
	}
	if !got.Mutations[1].Template.Equal(batch[1].Template) {
		t.Errorf("Template = %s, want %s", got.Mutations[1].Template, batch[1].Template)
	}
	if !got.Mutations[3].Tuples[0].Equal(batch[3].Tuples[0]) {
		t.Errorf("Replace tuples = %v", got.Mutations[3].Tuples)
	}
}

// TestHTTPClient tests that the short-call client has a timeout and the
// long-poll client does not
func TestHTTPClient(t *testing.T) {
	if httpClient.Timeout != 5*time.Second {
		t.Errorf("Expected HTTP client timeout of 5s, got %v", httpClient.Timeout)
	}
	if waitClient.Timeout != 0 {
		t.Errorf("Expected no timeout on the wait client, got %v", waitClient.Timeout)
	}
}
