package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"grimm.is/setguard/internal/address"
	"grimm.is/setguard/internal/brand"
	"grimm.is/setguard/internal/config"
	"grimm.is/setguard/internal/errors"
)

// RunCheck validates the configuration and every seed file without touching
// the enforcement layer. An unusable seed file is reported but is not an
// error, since start degrades it to an empty set.
func RunCheck(w io.Writer, configFile string, verbose bool) error {
	if configFile == "" {
		configFile = DefaultConfigFile
	}
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	Printer.Fprintf(w, "Configuration valid: %s\n", configFile)
	Printer.Fprintf(w, "Backend: %s\n", cfg.Backend)
	if cfg.NetNS != "" {
		Printer.Fprintf(w, "Namespace: %s\n", cfg.NetNS)
	}
	Printer.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	Printer.Fprintln(tw, "LIST\tSET\tCHAINS\tHEADROOM\tSEED\tFEED")
	for _, l := range cfg.Lists() {
		Printer.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			l.Name, l.SetName, strings.Join(l.Chains, ","), l.Headroom, checkSeed(cfg, l), orDash(l.URL))
	}
	tw.Flush()

	if verbose {
		Printer.Fprintln(w)
		Printer.Fprintln(w, cfg.String())
	}
	return nil
}

func checkSeed(cfg *config.Config, l config.List) string {
	if l.SeedFile == "" {
		return "-"
	}
	f, err := address.OpenSeed(l.SeedFile, cfg.SeedOwner())
	if err != nil {
		var e *errors.Error
		if errors.As(err, &e) {
			return Printer.Sprintf("unusable (%s)", e.Message)
		}
		return Printer.Sprintf("unusable (%v)", err)
	}
	defer f.Close()

	opts := address.Options{MaxExamples: cfg.MaxRejectedExamples}
	if cfg.Backend == config.BackendIPSet {
		opts.MinBits = 1
	}
	v := address.NewValidator(opts)
	for range v.Records(f) {
	}
	if err := v.Err(); err != nil {
		return Printer.Sprintf("unreadable (%v)", err)
	}
	if v.Rejected() > 0 {
		return Printer.Sprintf("%d records, %d rejected: %s", v.Accepted(), v.Rejected(), strings.Join(v.Examples(), " "))
	}
	return Printer.Sprintf("%d records", v.Accepted())
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Usage returns the command summary.
func Usage() string {
	return fmt.Sprintf(`Usage: %[1]s [-c config] <command> [list|all]

Commands:
  start      create sets, load seed files and install rules
  stop       remove rules and destroy sets
  status     report sets, seed files, rule counters and recent log lines
  flush-all  empty sets and reset rule counters
  update     fetch feeds and publish new generations
  seed-load  reload a list from its seed file
  check      validate the configuration and seed files
  watch      run updates on each blocklist's refresh interval
  version    print the version

The target defaults to "all". Configuration: %[2]s
`, brand.BinaryName, DefaultConfigFile)
}
