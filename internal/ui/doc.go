// Package ui renders the embedsrv CLI's terminal output.
//
// Components are rendered with Lipgloss and follow a "print once" pattern:
//
//   - Header: banner showing the command and its effective parameters
//   - Result: success, warning or failure box with key-value details
//
// Example:
//
//	p := ui.NewPrinter(os.Stdout)
//	p.PrintHeader("Embedded Server", "embedsrv serve", map[string]string{
//	    "Listen": "http://0.0.0.0:8000",
//	})
//
// Logging goes through internal/logging and is independent of this package.
package ui
