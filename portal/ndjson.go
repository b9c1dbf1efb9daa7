// Copyright 2025 The portal-evm-rpc Authors
// This file is part of the portal-evm-rpc library.
//
// The portal-evm-rpc library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The portal-evm-rpc library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the portal-evm-rpc library. If not, see <http://www.gnu.org/licenses/>.

package portal

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/subsquid-labs/portal-evm-rpc/jsonrpc"
)

var jstd = jsoniter.ConfigCompatibleWithStandardLibrary

// Framer splits a byte stream into newline-delimited frames under two
// limits: the length of a single line and the total payload size. Memory use
// is bounded by the line limit, not the stream size.
type Framer struct {
	r        *bufio.Reader
	maxLine  int
	maxTotal int
	total    int
	done     bool
}

// NewFramer wraps r. Limits of zero or less disable the respective check.
func NewFramer(r io.Reader, maxLineBytes, maxBytes int) *Framer {
	return &Framer{r: bufio.NewReader(r), maxLine: maxLineBytes, maxTotal: maxBytes}
}

// Next returns the next non-blank line with line breaks stripped. A clean
// end of stream is io.EOF; a final line without a trailing newline is still
// returned. Limit violations and transport failures are taxonomy errors.
func (f *Framer) Next() ([]byte, error) {
	for {
		line, err := f.readLine()
		if err != nil {
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
}

func (f *Framer) readLine() ([]byte, error) {
	if f.done {
		return nil, io.EOF
	}
	var line []byte
	for {
		chunk, err := f.r.ReadSlice('\n')
		f.total += len(chunk)
		if f.maxTotal > 0 && f.total > f.maxTotal {
			return nil, jsonrpc.ServerError(fmt.Sprintf("ndjson payload exceeds max bytes (%d)", f.maxTotal))
		}
		line = append(line, chunk...)

		content := len(line)
		if content > 0 && line[content-1] == '\n' {
			content--
		}
		if f.maxLine > 0 && content > f.maxLine {
			return nil, jsonrpc.ServerError(fmt.Sprintf("ndjson line exceeds max bytes (%d)", f.maxLine))
		}

		switch err {
		case nil:
			return line, nil
		case bufio.ErrBufferFull:
			// partial line, keep accumulating
		case io.EOF:
			f.done = true
			if len(line) == 0 {
				return nil, io.EOF
			}
			return line, nil
		default:
			return nil, jsonrpc.Unavailable("portal unavailable: stream read failed")
		}
	}
}

// BlockReader decodes portal stream records from a Framer and counts
// successfully parsed lines.
type BlockReader struct {
	f *Framer
}

// NewBlockReader wraps r with the given framing limits.
func NewBlockReader(r io.Reader, maxLineBytes, maxBytes int) *BlockReader {
	return &BlockReader{f: NewFramer(r, maxLineBytes, maxBytes)}
}

// Read returns the next block record or io.EOF at a clean end of stream.
func (br *BlockReader) Read() (*Block, error) {
	line, err := br.f.Next()
	if err != nil {
		return nil, err
	}
	var b Block
	if uerr := jstd.Unmarshal(line, &b); uerr != nil {
		return nil, jsonrpc.ServerError("invalid ndjson line")
	}
	ndjsonLinesTotal.Inc()
	return &b, nil
}
