package main

import (
	"errors"
	"net/http"
	"testing"

	"github.com/muurk/embedsrv"
)

func TestHeaderText(t *testing.T) {
	tests := []struct {
		name string
		in   http.Header
		want string
	}{
		{"empty", nil, ""},
		{"single", http.Header{"Host": {"example"}}, "Host: example\r\n"},
		{
			"sorted and repeated",
			http.Header{"X-B": {"2"}, "Accept": {"a", "b"}},
			"Accept: a\r\nAccept: b\r\nX-B: 2\r\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := headerText(tt.in); got != tt.want {
				t.Errorf("headerText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLogLevelClamp(t *testing.T) {
	tests := []struct {
		in   int
		want embedsrv.LogLevel
	}{
		{-3, embedsrv.LogLevelNone},
		{0, embedsrv.LogLevelNone},
		{3, embedsrv.LogLevelInfo},
		{5, embedsrv.LogLevelTrace},
		{99, embedsrv.LogLevelTrace},
	}
	for _, tt := range tests {
		if got := logLevel(tt.in); got != tt.want {
			t.Errorf("logLevel(%d) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogTargetAndStatus(t *testing.T) {
	if logTarget(1) != embedsrv.LogTargetFile || logTarget(7) != embedsrv.LogTargetConsole {
		t.Error("logTarget mapping wrong")
	}
	if status(nil) != 0 || status(errors.New("x")) != -1 {
		t.Error("status mapping wrong")
	}
}
