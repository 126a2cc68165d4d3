package main

import (
	"net/http"
	"sort"
	"strings"

	"github.com/muurk/embedsrv"
)

// headerText renders request headers as "Name: value\r\n" lines in name
// order, the form handed to C callbacks.
func headerText(h http.Header) string {
	if len(h) == 0 {
		return ""
	}
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		for _, v := range h[name] {
			b.WriteString(name)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteString("\r\n")
		}
	}
	return b.String()
}

// logLevel clamps a C level to the defined range.
func logLevel(level int) embedsrv.LogLevel {
	switch {
	case level <= int(embedsrv.LogLevelNone):
		return embedsrv.LogLevelNone
	case level >= int(embedsrv.LogLevelTrace):
		return embedsrv.LogLevelTrace
	}
	return embedsrv.LogLevel(level)
}

func logTarget(target int) embedsrv.LogTarget {
	if target == int(embedsrv.LogTargetFile) {
		return embedsrv.LogTargetFile
	}
	return embedsrv.LogTargetConsole
}

// status collapses an API error to the C convention.
func status(err error) int {
	if err != nil {
		return -1
	}
	return 0
}
