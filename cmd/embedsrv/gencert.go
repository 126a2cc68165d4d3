package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/muurk/embedsrv/internal/certs"
	"github.com/muurk/embedsrv/internal/ui"
)

var (
	gencertDir   string
	gencertHosts []string
	gencertDays  int
)

var gencertCmd = &cobra.Command{
	Use:   "gencert",
	Short: "Write a self-signed development certificate",
	Long: `Generate a self-signed RSA certificate and key for 'serve --tls'.

The files are written as server.crt and server.key; the key is readable by
the owner only. Names given with --host are added as DNS or IP subject
alternative names next to localhost.`,
	Example: `  embedsrv gencert --dir ./tls
  embedsrv gencert --dir ./tls --host kiosk.local --host 192.168.1.20`,
	RunE: runGencert,
}

func init() {
	gencertCmd.Flags().StringVar(&gencertDir, "dir", ".", "Output directory")
	gencertCmd.Flags().StringSliceVar(&gencertHosts, "host", nil, "Extra DNS name or IP address (repeatable)")
	gencertCmd.Flags().IntVar(&gencertDays, "days", 365, "Validity in days")
}

// certParams extends the loopback defaults with extra host names.
func certParams(hosts []string, days int) certs.Params {
	params := certs.DefaultParams()
	params.ValidDays = days
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			params.IPAddresses = append(params.IPAddresses, ip)
		} else if h != "" {
			params.DNSNames = append(params.DNSNames, h)
		}
	}
	if len(hosts) > 0 && net.ParseIP(hosts[0]) == nil && hosts[0] != "" {
		params.CommonName = hosts[0]
	}
	return params
}

func runGencert(cmd *cobra.Command, args []string) error {
	p := ui.NewPrinter(cmd.OutOrStdout())

	if err := os.MkdirAll(gencertDir, 0700); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	sc, err := certs.GenerateSelfSigned(certParams(gencertHosts, gencertDays))
	if err != nil {
		p.PrintError("Certificate generation failed", err, nil)
		return err
	}
	certPath, keyPath, err := sc.WriteFiles(gencertDir)
	if err != nil {
		p.PrintError("Certificate generation failed", err, []string{
			"Check that the output directory is writable",
		})
		return err
	}

	p.PrintSuccess("Certificate written", map[string]string{
		"Certificate": certPath,
		"Key":         keyPath,
		"Subject":     sc.Certificate.Subject.CommonName,
		"Expires":     sc.Certificate.NotAfter.Format("2006-01-02"),
		"SANs":        strconv.Itoa(len(sc.Certificate.DNSNames)+len(sc.Certificate.IPAddresses)) + " names",
	})
	return nil
}
