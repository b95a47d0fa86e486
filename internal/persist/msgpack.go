package persist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dreamware/tuplespace/internal/tuple"
)

// msgpackMagic heads every msgpack tuple file
const msgpackMagic = "tuplespace/v1"

// Msgpack stores a header string, the tuple count, then one encoded tuple
// per entry.
type Msgpack struct{}

func (Msgpack) Save(path string, tuples []tuple.Tuple) error {
	return writeAtomic(path, func(f *os.File) error {
		w := bufio.NewWriter(f)
		enc := msgpack.NewEncoder(w)
		if err := enc.EncodeString(msgpackMagic); err != nil {
			return fmt.Errorf("encode header: %w", err)
		}
		if err := enc.EncodeInt(int64(len(tuples))); err != nil {
			return fmt.Errorf("encode count: %w", err)
		}
		for i, t := range tuples {
			if err := enc.Encode(t); err != nil {
				return fmt.Errorf("encode tuple %d: %w", i, err)
			}
		}
		return w.Flush()
	})
}

func (Msgpack) Load(path string) ([]tuple.Tuple, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := msgpack.NewDecoder(bufio.NewReader(f))
	magic, err := dec.DecodeString()
	if err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	if magic != msgpackMagic {
		return nil, fmt.Errorf("%s: not a tuple file (header %q)", path, magic)
	}
	n, err := dec.DecodeInt()
	if err != nil {
		return nil, fmt.Errorf("decode count: %w", err)
	}
	if n < 0 {
		return nil, fmt.Errorf("%s: negative tuple count %d", path, n)
	}

	tuples := make([]tuple.Tuple, 0, min(n, 4096))
	for i := 0; i < n; i++ {
		var t tuple.Tuple
		if err := dec.Decode(&t); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%s: truncated after %d of %d tuples", path, i, n)
			}
			return nil, fmt.Errorf("decode tuple %d: %w", i, err)
		}
		if err := t.ValidateConcrete(); err != nil {
			return nil, fmt.Errorf("tuple %d: %w", i, err)
		}
		tuples = append(tuples, t)
	}
	return tuples, nil
}
