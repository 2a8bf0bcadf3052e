package tokens

import (
	"bytes"
	"io"
)

// maxTokenTail bounds how many trailing bytes of a chunk might be the
// unfinished half of a token and must be held back for the next read,
// generously sized for the longest token shape this package mints (a
// SHIFTED_DATE entry with a three-digit day count).
const maxTokenTail = 96

// StreamingRestore wraps src in a reader that reverses tokens on the fly,
// buffering enough of the trailing bytes of each chunk that a token split
// across two reads (as happens with small-chunk SSE streaming) still gets
// matched once the rest of it arrives. Grounded on
// internal/anonymizer/anonymizer.go's StreamingDeanonymize, narrowed from
// its SSE-JSON-aware line parser to a plain byte-buffering restore since
// this package has no opinion on the transport framing above it.
func (m *Manager) StreamingRestore(src io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		defer src.Close() //nolint:errcheck
		defer pw.Close()  //nolint:errcheck

		var pending bytes.Buffer
		buf := make([]byte, 32*1024)
		for {
			n, err := src.Read(buf)
			if n > 0 {
				pending.Write(buf[:n])
				flushable := pending.Len() - maxTokenTail
				// Move the cut back to the first token opener in the
				// maxTokenTail bytes before it, so no token is cut in two.
				if flushable > 0 {
					from := flushable - maxTokenTail
					if from < 0 {
						from = 0
					}
					if i := bytes.IndexAny(pending.Bytes()[from:flushable], "{["); i >= 0 {
						flushable = from + i
					}
				}
				if flushable > 0 {
					chunk := pending.Next(flushable)
					restored, _ := m.Restore(string(chunk))
					if _, werr := pw.Write([]byte(restored)); werr != nil {
						return
					}
				}
			}
			if err != nil {
				if pending.Len() > 0 {
					restored, _ := m.Restore(pending.String())
					pw.Write([]byte(restored)) //nolint:errcheck
				}
				if err != io.EOF {
					pw.CloseWithError(err) //nolint:errcheck
				}
				return
			}
		}
	}()
	return pr
}
