package proxy

import (
	"bufio"
	"io"
)

// newLineScanner returns a line scanner sized for large MCP payloads.
func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, maxScanTokenSize)
	scanner.Buffer(buf, maxScanTokenSize)

	return scanner
}
