// SPDX-License-Identifier: MIT

package cliutil

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// PrintKV writes a sorted key/value table, one "key: value" line per
// entry, in a plain single-line style suited to both a terminal and a
// log line.
func PrintKV(w io.Writer, fields map[string]interface{}) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-16s %v\n", k+":", fields[k])
	}
}

// PrintBulkResult renders a map[id]outcome from start_all/stop_all as
// one line per source, sorted by id; a non-"ok" outcome is printed after
// "FAILED:".
func PrintBulkResult(w io.Writer, results map[string]string) {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		outcome := results[id]
		if outcome == "ok" {
			fmt.Fprintf(w, "  %-20s ok\n", id)
		} else {
			fmt.Fprintf(w, "  %-20s FAILED: %s\n", id, outcome)
		}
	}
}

// Title prints a short section header.
func Title(w io.Writer, s string) {
	fmt.Fprintln(w, s)
	fmt.Fprintln(w, strings.Repeat("-", len(s)))
}
