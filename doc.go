// Package embedsrv embeds an HTTP(S) and WebSocket server in a host
// application behind a small, poll-driven API.
//
// The host creates a Server, configures it, registers handlers and then
// calls Poll (or Serve) in a loop. All handler calls happen on the goroutine
// calling Poll:
//
//	s := embedsrv.Create()
//	defer s.Destroy()
//	s.SetConfig(&embedsrv.Config{Port: 8000, EnableWS: true, RootDir: "./www"})
//	s.SetCallbacks(nil, embedsrv.MessageHandlerFunc(
//	    func(s *embedsrv.Server, id uint64, msg *embedsrv.WSMessage) {
//	        s.SendToOne(id, msg)
//	    }), nil)
//	if err := s.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	for {
//	    s.Poll(100)
//	}
//
// An HTTP handler that sets a response body answers the request directly.
// Leaving the body nil serves the request URI from Config.RootDir. A request
// for Config.WSPath carrying an Upgrade header is upgraded to a WebSocket
// when Config.EnableWS is set; later frames go to the MessageHandler.
//
// With Config.UseTLS the certificate and key files are read on every
// accepted connection. A connection whose credentials cannot be read is
// closed while the listener keeps accepting.
//
// Logging is process-wide and controlled by SetLogLevel and SetLogTarget.
package embedsrv
