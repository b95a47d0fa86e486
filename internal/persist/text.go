package persist

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/dreamware/tuplespace/internal/tuple"
)

// Text stores one tuple per line in canonical text form. Blank lines and
// lines starting with '#' are skipped on load.
type Text struct{}

func (Text) Save(path string, tuples []tuple.Tuple) error {
	return writeAtomic(path, func(f *os.File) error {
		w := bufio.NewWriter(f)
		for _, t := range tuples {
			if _, err := fmt.Fprintln(w, t.String()); err != nil {
				return err
			}
		}
		return w.Flush()
	})
}

func (Text) Load(path string) ([]tuple.Tuple, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tuples []tuple.Tuple
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		t, err := tuple.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if err := t.ValidateConcrete(); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		tuples = append(tuples, t)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return tuples, nil
}
