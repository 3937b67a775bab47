package csvbatch

import (
	"bufio"
	"io"
	"strings"
)

// needsQuoting reports whether a cell must be enclosed in double quotes.
// Leading and trailing spaces are quoted so the server does not trim them.
func needsQuoting(field string) bool {
	if field == "" {
		return false
	}
	if field[0] == ' ' || field[len(field)-1] == ' ' {
		return true
	}
	return strings.ContainsAny(field, ",\"\r\n")
}

// fieldSize returns the encoded byte length of field.
func fieldSize(field string) int {
	if !needsQuoting(field) {
		return len(field)
	}
	return len(field) + 2 + strings.Count(field, `"`)
}

// writeField writes field with RFC 4180 quoting
func writeField(w *bufio.Writer, field string) {
	if !needsQuoting(field) {
		w.WriteString(field)
		return
	}
	w.WriteByte('"')
	for i := 0; i < len(field); i++ {
		if field[i] == '"' {
			w.WriteString(`""`) // Escape quotes
		} else {
			w.WriteByte(field[i])
		}
	}
	w.WriteByte('"')
}

// writeRow writes one LF-terminated line
func writeRow(w *bufio.Writer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			w.WriteByte(',')
		}
		writeField(w, f)
	}
	w.WriteByte('\n')
}

// countingWriter tracks bytes written through it
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
