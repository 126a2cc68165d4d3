package embedsrv

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/muurk/embedsrv/internal/engine"
	"github.com/muurk/embedsrv/internal/logging"
	"github.com/muurk/embedsrv/internal/metrics"
)

// dispatchHTTP hands msg to the HTTP handler. A response with a body is sent
// as is; otherwise the request is served from the static root. A handler
// that already answered through HTTPReply or HTTPServeFile is left alone.
func (s *Server) dispatchHTTP(c *engine.Conn, msg *engine.HTTPMessage, v view) {
	logging.Debug("HTTP request",
		zap.Uint64("conn_id", c.ID()),
		zap.String("method", msg.Method),
		zap.String("uri", msg.URI),
		zap.Int("body_len", len(msg.Body)),
	)

	if v.httpH != nil {
		req := &HTTPRequest{
			Method:  msg.Method,
			URI:     msg.URI,
			Query:   msg.Query,
			Headers: msg.Header,
			Body:    msg.Body,
		}
		res := &HTTPResponse{}
		s.callHTTP(c, req, res, v)

		if c.Answered() {
			v.metrics.RequestServed(metrics.OutcomeCallback)
			return
		}
		if res.Body != nil {
			err := c.HTTPReply(res.StatusCode, res.Headers, res.Body)
			res.Body = nil
			if err != nil {
				v.metrics.RequestServed(metrics.OutcomeFailed)
				logging.Warn("Failed to send HTTP response",
					zap.Uint64("conn_id", c.ID()),
					zap.String("uri", msg.URI),
					zap.Error(err),
				)
				return
			}
			v.metrics.RequestServed(metrics.OutcomeCallback)
			return
		}
	}

	if err := c.ServeDir(msg, engine.ServeOpts{RootDir: v.cfg.RootDir}); err != nil {
		v.metrics.RequestServed(metrics.OutcomeFailed)
		logging.Debug("Static serving skipped", zap.Uint64("conn_id", c.ID()), zap.Error(err))
		return
	}
	v.metrics.RequestServed(metrics.OutcomeStatic)
}

func (s *Server) callHTTP(c *engine.Conn, req *HTTPRequest, res *HTTPResponse, v view) {
	_, span := v.tracer.Start(context.Background(), "embedsrv.http",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.Int64("embedsrv.conn_id", int64(c.ID())),
			attribute.String("http.method", req.Method),
			attribute.String("http.target", req.URI),
		),
	)
	defer span.End()

	start := time.Now()
	v.httpH.HandleHTTP(s, c.ID(), req, res)
	v.metrics.ObserveCallback(metrics.KindHTTP, time.Since(start))

	if res.Body != nil {
		status := res.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		span.SetAttributes(attribute.Int("http.status_code", status))
	} else {
		span.SetAttributes(attribute.Bool("embedsrv.static_fallback", !c.Answered()))
	}
}

// dispatchMessage hands an inbound frame to the message handler. Without a
// handler the frame is dropped.
func (s *Server) dispatchMessage(c *engine.Conn, in *engine.WSMessage, v view) {
	v.metrics.MessageReceived()
	logging.LogWebSocketMessage(c.ID(), "recv", in.Binary(), in.Data)

	if v.msgH == nil {
		logging.Trace("WebSocket message dropped, no handler", zap.Uint64("conn_id", c.ID()))
		return
	}

	msg := &WSMessage{Data: in.Data, Binary: in.Binary()}

	_, span := v.tracer.Start(context.Background(), "embedsrv.websocket",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.Int64("embedsrv.conn_id", int64(c.ID())),
			attribute.Bool("websocket.binary", msg.Binary),
			attribute.Int("websocket.length", len(msg.Data)),
		),
	)
	defer span.End()

	start := time.Now()
	v.msgH.HandleMessage(s, c.ID(), msg)
	v.metrics.ObserveCallback(metrics.KindWebSocket, time.Since(start))
}
