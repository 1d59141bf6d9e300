package main

import (
	"flag"
	"fmt"
	"os"

	"grimm.is/setguard/cmd"
	"grimm.is/setguard/internal/brand"
	"grimm.is/setguard/internal/errors"
	"grimm.is/setguard/internal/i18n"
)

var printer = i18n.NewCLIPrinter()

func main() {
	flags := flag.NewFlagSet(brand.BinaryName, flag.ExitOnError)
	configFile := flags.String("config", cmd.DefaultConfigFile, "Configuration file")
	flags.StringVar(configFile, "c", cmd.DefaultConfigFile, "Configuration file (short)")
	flags.Usage = func() { fmt.Fprint(os.Stderr, cmd.Usage()) }
	flags.Parse(os.Args[1:])

	args := flags.Args()
	if len(args) < 1 {
		flags.Usage()
		os.Exit(1)
	}

	command, rest := args[0], args[1:]
	target := ""
	if len(rest) > 0 {
		target = rest[0]
	}

	var err error
	switch command {
	case "version":
		printer.Printf("%s %s (%s)\n", brand.Name, brand.Version, brand.GitCommit)
		return

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		verbose := checkFlags.Bool("v", false, "Print the effective configuration")
		checkFlags.Parse(rest)
		file := *configFile
		if checkFlags.NArg() > 0 {
			file = checkFlags.Arg(0)
		}
		err = cmd.RunCheck(os.Stdout, file, *verbose)

	case "watch":
		err = cmd.RunWatch(*configFile)

	case "seed-load":
		cmd.SetProcessName(brand.LowerName + "-seed")
		err = cmd.RunAction(*configFile, command, target)

	default:
		err = cmd.RunAction(*configFile, command, target)
		if errors.IsKind(err, errors.KindUnsupported) {
			printer.Fprintf(os.Stderr, "%v\n\n", err)
			flags.Usage()
			os.Exit(1)
		}
	}

	if err != nil {
		printer.Fprintf(os.Stderr, "%s %s failed: %v\n", command, target, err)
		if errors.IsFatal(err) {
			os.Exit(1)
		}
	}
}
