package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"strobe/config"
	"strobe/logging"
	"strobe/scanner"
	"strobe/targets"
)

type scanOptions struct {
	ports     string
	json      bool
	progress  bool
	batchSize int

	fragment         bool
	fragmentSize     int
	decoys           []string
	spoof            string
	padding          int
	mtu              int
	randomSourcePort bool
	badChecksum      bool
}

func newScanCommand(root *rootOptions) *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan [flags] host... [ports]",
		Short: "Scan hosts and print the port states",
		Long: `Scan one or more targets. A target is an IP address, a CIDR prefix, an
IPv4 start-end range or a host name. Ports are given with --ports or as the
last argument: 22,80,1000-1100, top:N, udp-top:N or all.`,
		Example: `  strobe scan --json 127.0.0.1 scanme.nmap.org 22-80
  strobe scan -t syn 192.0.2.0/28 top:100
  strobe scan -t udp --ports 53,123,161 192.0.2.10
  strobe scan -T4 --exclude 192.0.2.1 --exclude-ports 25 192.0.2.0/24 top:100`,
		Args: cobra.MinimumNArgs(1),
	}

	f := cmd.Flags()
	d := scanner.DefaultConfig()
	f.StringVarP(&opts.ports, "ports", "p", "", "Port expression; defaults to the last argument")
	f.StringP("technique", "t", d.Technique.String(), "Technique: syn, connect, fin, null, xmas, ack, window or udp")
	f.Int("threads", d.Threads, "Probes in flight")
	f.Duration("timeout", d.Timeout, "Initial per-probe timeout")
	f.Uint64("rate", 0, "Packets per second, 0 for unlimited")
	f.Int("retries", d.MaxRetries, "Retries per probe on recoverable errors")
	f.Bool("fallback", d.Fallback, "Fall back to other techniques when one cannot run")
	f.Int("confirm", 0, "Connect attempts needed to confirm an open port")
	f.Duration("confirm-delay", scanner.DefaultConfirmDelay, "Delay between confirmation attempts")
	f.StringP("timing", "T", "", "Timing profile: T0-T5 or paranoid, sneaky, polite, normal, aggressive, insane")
	f.StringSlice("exclude", nil, "Addresses, CIDR prefixes or ranges never to probe")
	f.String("exclude-ports", "", "Port expression never to probe")
	f.IntVar(&opts.batchSize, "batch-size", 0, "Fixed batch size, 0 adapts it")
	f.BoolVar(&opts.json, "json", false, "Output results in JSON format")
	f.BoolVar(&opts.progress, "progress", false, "Log progress while scanning")

	f.BoolVar(&opts.fragment, "fragment", false, "Split crafted probes into IP fragments")
	f.IntVar(&opts.fragmentSize, "fragment-size", scanner.DefaultFragmentSize, "Fragment payload size, a multiple of 8")
	f.StringSliceVar(&opts.decoys, "decoy", nil, "Decoy source addresses sent alongside each probe")
	f.StringVar(&opts.spoof, "spoof", "", "Source address written into crafted probes")
	f.IntVar(&opts.padding, "padding", 0, "Zero bytes appended after the TCP header of crafted probes")
	f.IntVar(&opts.mtu, "mtu", 0, "Truncate crafted probes to this size")
	f.Duration("jitter", 0, "Random delay up to this long before each probe")
	f.BoolVar(&opts.randomSourcePort, "random-source-port", false, "Pick a random source port per probe")
	f.BoolVar(&opts.badChecksum, "bad-checksum", false, "Send crafted probes with a corrupt checksum")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		settings, err := root.load(cmd,
			config.Binding{Key: "scan.technique", Flag: f.Lookup("technique")},
			config.Binding{Key: "scan.threads", Flag: f.Lookup("threads")},
			config.Binding{Key: "scan.timeout", Flag: f.Lookup("timeout")},
			config.Binding{Key: "scan.rate_limit", Flag: f.Lookup("rate")},
			config.Binding{Key: "scan.max_retries", Flag: f.Lookup("retries")},
			config.Binding{Key: "scan.fallback", Flag: f.Lookup("fallback")},
			config.Binding{Key: "scan.confirm_attempts", Flag: f.Lookup("confirm")},
			config.Binding{Key: "scan.confirm_delay", Flag: f.Lookup("confirm-delay")},
			config.Binding{Key: "scan.timing", Flag: f.Lookup("timing")},
			config.Binding{Key: "scan.scan_delay", Flag: f.Lookup("jitter")},
			config.Binding{Key: "scan.exclude", Flag: f.Lookup("exclude")},
			config.Binding{Key: "scan.exclude_ports", Flag: f.Lookup("exclude-ports")},
		)
		if err != nil {
			return err
		}
		return runScan(cmd, opts, settings, args)
	}
	return cmd
}

func runScan(cmd *cobra.Command, opts *scanOptions, settings *config.Settings, args []string) error {
	level, err := logging.ParseLevel(settings.Log.Level)
	if err != nil {
		return err
	}
	// Logs go to stderr so --json output stays parseable.
	log := logging.New(os.Stderr, level)

	hosts, portExpr := args, opts.ports
	if portExpr == "" {
		if len(args) < 2 {
			return errors.New("no ports given: pass --ports or put the ports after the hosts")
		}
		hosts, portExpr = args[:len(args)-1], args[len(args)-1]
	}
	ports, err := targets.ParsePorts(portExpr)
	if err != nil {
		return err
	}
	addrs, err := targets.Expand(cmd.Context(), hosts, nil)
	if err != nil {
		return err
	}
	exclude, err := settings.Scan.Exclusions()
	if err != nil {
		return err
	}
	if addrs = exclude.Addrs(addrs); len(addrs) == 0 {
		return errors.New("every target is excluded")
	}
	if ports = exclude.Ports(ports); len(ports) == 0 {
		return errors.New("every port is excluded")
	}

	cfg, err := settings.Scan.ScanConfig()
	if err != nil {
		return err
	}
	cfg.Targets = addrs
	cfg.Target = strings.Join(hosts, ",")
	cfg.Ports = ports
	cfg.BatchSize = opts.batchSize
	jitter := cfg.Stealth.TimingJitter
	if cfg.Stealth, err = opts.stealth(); err != nil {
		return err
	}
	cfg.Stealth.TimingJitter = jitter
	if opts.progress {
		cfg.Progress = progressLogger(log)
	}

	engineOpts, err := settings.Scan.EngineOptions(log)
	if err != nil {
		return err
	}
	res, scanErr := scanner.NewEngine(engineOpts...).Scan(cmd.Context(), cfg)
	if res == nil {
		var se *scanner.ScanError
		if errors.As(scanErr, &se) && se.Kind == scanner.KindPermission {
			return fmt.Errorf("%w (crafted techniques need root or CAP_NET_RAW; try -t connect)", scanErr)
		}
		return scanErr
	}

	out := cmd.OutOrStdout()
	if opts.json {
		err = writeJSON(out, res)
	} else {
		err = writeText(out, res)
	}
	if err != nil {
		return err
	}
	return scanErr
}

func (o *scanOptions) stealth() (scanner.StealthOptions, error) {
	s := scanner.StealthOptions{
		FragmentPackets:     o.fragment,
		FragmentSize:        o.fragmentSize,
		Padding:             o.padding,
		MTU:                 o.mtu,
		RandomizeSourcePort: o.randomSourcePort,
		BadChecksum:         o.badChecksum,
	}
	for _, d := range o.decoys {
		a, err := netip.ParseAddr(strings.TrimSpace(d))
		if err != nil {
			return s, fmt.Errorf("invalid decoy: %w", err)
		}
		s.Decoys = append(s.Decoys, a)
	}
	if o.spoof != "" {
		a, err := netip.ParseAddr(o.spoof)
		if err != nil {
			return s, fmt.Errorf("invalid spoof address: %w", err)
		}
		s.SpoofSource = a
	}
	return s, nil
}

// progressLogger logs at most once a second.
func progressLogger(log *slog.Logger) func(scanner.Progress) {
	var last time.Time
	return func(p scanner.Progress) {
		if p.Completed != p.Total && time.Since(last) < time.Second {
			return
		}
		last = time.Now()
		log.Info("Scan progress",
			"completed", p.Completed,
			"total", p.Total,
			"open", p.Open,
			"rate", fmt.Sprintf("%.0f/s", p.Rate))
	}
}
