package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/chazu/ilgen/ir"
	"github.com/chazu/ilgen/registry"
)

var (
	red    = color.New(color.FgRed).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

// printMethod writes an IR listing, highlighting the header and labels.
func printMethod(w io.Writer, m *ir.Method) {
	for _, line := range strings.Split(strings.TrimRight(m.String(), "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "method "):
			line = bold(line)
		case strings.HasPrefix(line, "  ;"):
			line = faint(line)
		case strings.HasSuffix(line, ":"):
			line = yellow(line)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
}

// printSummary writes one line per failure and a count line.
func printSummary(w io.Writer, results []registry.Result) {
	ok := 0
	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(w, "%s %s: %v\n", red("FAIL"), res.Method.Name, res.Err)
			continue
		}
		ok++
	}
	failed := len(results) - ok
	line := fmt.Sprintf("%d translated, %d failed", ok, failed)
	if failed > 0 {
		fmt.Fprintln(w, red(line))
		return
	}
	fmt.Fprintln(w, green(line))
}
