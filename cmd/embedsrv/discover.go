package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/embedsrv/internal/config"
	"github.com/muurk/embedsrv/internal/discovery"
	"github.com/muurk/embedsrv/internal/ui"
)

var (
	discoverTimeout int
	discoverSave    bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find embedsrv instances on the local network",
	Long: `Browse mDNS for embedsrv instances started with 'serve --mdns'.

Found instances are recorded under known_servers in the config file unless
--save=false is given.`,
	Example: `  # Browse for the configured timeout (default 5 seconds)
  embedsrv discover

  # Quick scan without touching the config file
  embedsrv discover --timeout 2 --save=false`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().IntVar(&discoverTimeout, "timeout", 0, "Browse timeout in seconds (default: from config)")
	discoverCmd.Flags().BoolVar(&discoverSave, "save", true, "Remember found instances in the config file")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	f, err := config.Load(configPath)
	if err != nil {
		return err
	}

	timeout := f.Discovery.BrowseTimeout
	if discoverTimeout > 0 {
		timeout = discoverTimeout
	}
	if timeout <= 0 {
		timeout = int(discovery.DefaultScanTimeout / time.Second)
	}

	p := ui.NewPrinter(cmd.OutOrStdout())
	p.PrintHeader("Discover", "embedsrv discover", map[string]string{
		"Service": discovery.ServiceType + "." + discovery.ServiceDomain,
		"Timeout": fmt.Sprintf("%ds", timeout),
	})

	scanner := discovery.NewScanner()
	scanner.Timeout = time.Duration(timeout) * time.Second
	instances, err := scanner.Scan(cmd.Context())
	if err != nil {
		p.PrintError("Scan failed", err, []string{
			"Check that multicast traffic is allowed on this network",
			"Run 'embedsrv serve --mdns' on the target host",
		})
		return err
	}

	if len(instances) == 0 {
		p.PrintWarning("No servers found", map[string]string{
			"Timeout": fmt.Sprintf("%ds", timeout),
		})
		return nil
	}

	details := make(map[string]string, len(instances))
	for _, inst := range instances {
		details[inst.Name] = inst.BaseURL()
		f.RememberServer(inst.Name, inst.IP, inst.Port, inst.TLS)
	}
	p.PrintSuccess(fmt.Sprintf("Found %d server(s)", len(instances)), details)

	if discoverSave {
		if err := f.Save(configPath); err != nil {
			return fmt.Errorf("failed to remember servers: %w", err)
		}
	}
	return nil
}
