package storage

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// EachLine calls fn with every non-blank line of r, trimmed, along with its
// 1-based line number. Lines have no length limit, so anything FileStore
// wrote can be read back. A final line without a newline is still passed on.
func EachLine(r io.Reader, fn func(n int, line []byte) error) error {
	br := bufio.NewReaderSize(r, 64*1024)
	n := 0
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			n++
			if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
				if ferr := fn(n, trimmed); ferr != nil {
					return ferr
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
