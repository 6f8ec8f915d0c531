package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// readRecipientsFile reads addresses from path, or stdin for "-".
func readRecipientsFile(path string) ([]string, error) {
	if path == "-" {
		return parseRecipients(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recipients: %w", err)
	}
	defer f.Close()
	return parseRecipients(f)
}

// parseRecipients accepts one address per line or comma/semicolon separated
// lists. Blank lines and lines starting with # are skipped. Validation and
// deduplication happen server-side.
func parseRecipients(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, field := range strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ';' }) {
			if addr := strings.TrimSpace(field); addr != "" {
				out = append(out, addr)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read recipients: %w", err)
	}
	return out, nil
}
