// Libembedsrv exposes the embedsrv library to C hosts.
//
// Build with:
//
//	go build -buildmode=c-shared -o libembedsrv.so ./cmd/libembedsrv
//
// Functions returning int report 0 on success and -1 on any failure.
// Callbacks run on the thread that calls Server_Poll and may call back into
// the library for the same server.
package main

/*
#include <stdlib.h>
#include <string.h>
#include "embedsrv.h"
*/
import "C"

import (
	"runtime/cgo"
	"unsafe"

	"go.uber.org/zap"

	"github.com/muurk/embedsrv"
	"github.com/muurk/embedsrv/internal/logging"
)

func main() {}

// host is the state behind a ServerHandle.
type host struct {
	srv *embedsrv.Server
}

func lookup(h C.ServerHandle) (hs *host) {
	if h == 0 {
		return nil
	}
	// Value panics on a handle that was never issued or already deleted.
	defer func() {
		if recover() != nil {
			hs = nil
		}
	}()
	hs, _ = cgo.Handle(h).Value().(*host)
	return hs
}

func cStatus(err error) C.int {
	if err != nil {
		logging.Debug("C API call failed", zap.Error(err))
	}
	return C.int(status(err))
}

//export Server_Create
func Server_Create() C.ServerHandle {
	hs := &host{srv: embedsrv.Create()}
	return C.ServerHandle(cgo.NewHandle(hs))
}

//export Server_Destroy
func Server_Destroy(h C.ServerHandle) {
	hs := lookup(h)
	if hs == nil {
		return
	}
	hs.srv.Destroy()
	cgo.Handle(h).Delete()
}

//export Server_SetConfig
func Server_SetConfig(h C.ServerHandle, c *C.ServerConfig) C.int {
	hs := lookup(h)
	if hs == nil || c == nil {
		return -1
	}
	cfg := embedsrv.Config{
		Port:     int(c.port),
		UseTLS:   c.use_tls != 0,
		EnableWS: c.enable_ws != 0,
		CertFile: C.GoString(c.cert_file),
		KeyFile:  C.GoString(c.key_file),
		RootDir:  C.GoString(c.root_dir),
	}
	return cStatus(hs.srv.SetConfig(&cfg))
}

//export Server_SetCallbacks
func Server_SetCallbacks(h C.ServerHandle, httpCB C.HttpCallback, wsCB C.WsCallback, userData unsafe.Pointer) C.int {
	hs := lookup(h)
	if hs == nil {
		return -1
	}
	var hh embedsrv.HTTPHandler
	if httpCB != nil {
		hh = httpHandler(h, httpCB)
	}
	var mh embedsrv.MessageHandler
	if wsCB != nil {
		mh = messageHandler(h, wsCB)
	}
	return cStatus(hs.srv.SetCallbacks(hh, mh, uintptr(userData)))
}

//export Server_Start
func Server_Start(h C.ServerHandle) C.int {
	hs := lookup(h)
	if hs == nil {
		return -1
	}
	return cStatus(hs.srv.Start())
}

//export Server_Stop
func Server_Stop(h C.ServerHandle) {
	if hs := lookup(h); hs != nil {
		hs.srv.Stop()
	}
}

//export Server_Poll
func Server_Poll(h C.ServerHandle, timeoutMs C.int) {
	if hs := lookup(h); hs != nil {
		hs.srv.Poll(int(timeoutMs))
	}
}

//export Server_SetLogLevel
func Server_SetLogLevel(enabled C.int, level C.LogLevel) {
	embedsrv.SetLogLevel(enabled != 0, logLevel(int(level)))
}

//export Server_SetLogTarget
func Server_SetLogTarget(target C.LogTarget, filename *C.char) {
	embedsrv.SetLogTarget(logTarget(int(target)), C.GoString(filename))
}

//export Server_WsSendToOne
func Server_WsSendToOne(h C.ServerHandle, connID C.ulonglong, wm *C.WsMessage) C.int {
	hs := lookup(h)
	if hs == nil || wm == nil {
		return -1
	}
	return cStatus(hs.srv.SendToOne(uint64(connID), goMessage(wm)))
}

//export Server_WsBroadcast
func Server_WsBroadcast(h C.ServerHandle, wm *C.WsMessage) C.int {
	hs := lookup(h)
	if hs == nil || wm == nil {
		return -1
	}
	return cStatus(hs.srv.Broadcast(goMessage(wm)))
}

//export Server_HttpReply
func Server_HttpReply(h C.ServerHandle, connID C.ulonglong, res *C.HttpResponse) C.int {
	hs := lookup(h)
	if hs == nil || res == nil {
		return -1
	}
	return cStatus(hs.srv.HTTPReply(uint64(connID), goResponse(res)))
}

//export Server_HttpServeFile
func Server_HttpServeFile(h C.ServerHandle, connID C.ulonglong, filePath, extraHeaders *C.char) C.int {
	hs := lookup(h)
	if hs == nil || filePath == nil {
		return -1
	}
	return cStatus(hs.srv.HTTPServeFile(uint64(connID), C.GoString(filePath), C.GoString(extraHeaders)))
}

// httpHandler forwards requests to a C callback. Strings handed to C live
// until the callback returns.
func httpHandler(h C.ServerHandle, cb C.HttpCallback) embedsrv.HTTPHandler {
	return embedsrv.HTTPHandlerFunc(func(_ *embedsrv.Server, connID uint64, req *embedsrv.HTTPRequest, res *embedsrv.HTTPResponse) {
		method := C.CString(req.Method)
		defer C.free(unsafe.Pointer(method))
		uri := C.CString(req.URI)
		defer C.free(unsafe.Pointer(uri))
		headers := C.CString(headerText(req.Headers))
		defer C.free(unsafe.Pointer(headers))

		creq := C.HttpRequest{
			method:  method,
			uri:     uri,
			uri_len: C.size_t(len(req.URI)),
			headers: headers,
		}
		if len(req.Body) > 0 {
			body := C.CBytes(req.Body)
			defer C.free(body)
			creq.body = (*C.char)(body)
			creq.body_len = C.size_t(len(req.Body))
		}

		var cres C.HttpResponse
		C.embedsrv_call_http(cb, h, C.ulonglong(connID), &creq, &cres)
		if cres.body == nil {
			return
		}
		*res = *goResponse(&cres)
		C.free(unsafe.Pointer(cres.body))
	})
}

// messageHandler forwards WebSocket messages to a C callback.
func messageHandler(h C.ServerHandle, cb C.WsCallback) embedsrv.MessageHandler {
	return embedsrv.MessageHandlerFunc(func(_ *embedsrv.Server, connID uint64, msg *embedsrv.WSMessage) {
		var cmsg C.WsMessage
		if len(msg.Data) > 0 {
			data := C.CBytes(msg.Data)
			defer C.free(data)
			cmsg.data = (*C.char)(data)
			cmsg.data_len = C.size_t(len(msg.Data))
		}
		if msg.Binary {
			cmsg.binary = 1
		}
		C.embedsrv_call_ws(cb, h, C.ulonglong(connID), &cmsg)
	})
}

func goMessage(wm *C.WsMessage) *embedsrv.WSMessage {
	msg := &embedsrv.WSMessage{Binary: wm.binary != 0}
	if wm.data != nil && wm.data_len > 0 {
		msg.Data = C.GoBytes(unsafe.Pointer(wm.data), C.int(wm.data_len))
	}
	return msg
}

// goResponse copies a C response. A NULL body stays nil.
func goResponse(res *C.HttpResponse) *embedsrv.HTTPResponse {
	out := &embedsrv.HTTPResponse{
		StatusCode: int(res.status_code),
		Headers:    C.GoString(res.headers),
	}
	if res.body != nil {
		n := res.body_len
		if n == 0 {
			n = C.strlen(res.body)
		}
		out.Body = C.GoBytes(unsafe.Pointer(res.body), C.int(n))
	}
	return out
}
