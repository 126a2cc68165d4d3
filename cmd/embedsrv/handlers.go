package main

import (
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/embedsrv"
	"github.com/muurk/embedsrv/internal/logging"
)

const (
	statsPath  = "/api/stats"
	echoPrefix = "/api/echo/"
)

// stats is the /api/stats response body.
type stats struct {
	Uptime      string              `json:"uptime"`
	Connections []embedsrv.ConnInfo `json:"connections"`
}

// echoResult is the /api/echo/* response body.
type echoResult struct {
	Result string `json:"result"`
	Method string `json:"method"`
	Query  string `json:"query,omitempty"`
}

// demo answers the JSON API and leaves every other URI to static serving.
type demo struct {
	started time.Time
}

func newDemo() *demo {
	return &demo{started: time.Now()}
}

// HandleHTTP implements embedsrv.HTTPHandler.
func (d *demo) HandleHTTP(s *embedsrv.Server, connID uint64, req *embedsrv.HTTPRequest, res *embedsrv.HTTPResponse) {
	switch {
	case req.URI == statsPath:
		writeJSON(res, stats{
			Uptime:      time.Since(d.started).Round(time.Second).String(),
			Connections: s.Conns(),
		})
	case strings.HasPrefix(req.URI, echoPrefix):
		writeJSON(res, echoResult{Result: req.URI, Method: req.Method, Query: req.Query})
	}
}

// HandleMessage implements embedsrv.MessageHandler by echoing the frame back
// with the same text/binary flag.
func (d *demo) HandleMessage(s *embedsrv.Server, connID uint64, msg *embedsrv.WSMessage) {
	if err := s.SendToOne(connID, msg); err != nil {
		logging.Warn("Echo failed", zap.Uint64("conn_id", connID), zap.Error(err))
	}
}

func writeJSON(res *embedsrv.HTTPResponse, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		res.StatusCode = 500
		res.Body = []byte("internal error\n")
		return
	}
	res.StatusCode = 200
	res.Headers = "Content-Type: application/json\r\n"
	res.Body = append(body, '\n')
}
