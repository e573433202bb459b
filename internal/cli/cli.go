// Package cli parses the blepipe command line.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"
)

type Command string

const (
	CommandRun     Command = "run"
	CommandScan    Command = "scan"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandRun:     {},
	CommandScan:    {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

type Parsed struct {
	Command    Command
	ConfigPath string
	LogLevel   string
	ShowHelp   bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	var showHelp, showVersion bool
	flagSet := pflag.NewFlagSet("blepipe", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&parsed.ConfigPath, "config", "", "config file path")
	flagSet.StringVar(&parsed.LogLevel, "log-level", "", "override log_level (debug, info, warn, error)")
	flagSet.BoolVarP(&showHelp, "help", "h", false, "show help")
	flagSet.BoolVar(&showVersion, "version", false, "show version")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return parsed, nil
		}
		return Parsed{}, err
	}

	rest := flagSet.Args()
	if len(rest) > 1 {
		return Parsed{}, fmt.Errorf("unexpected arguments after command %q", rest[0])
	}
	if len(rest) == 1 {
		cmd := Command(rest[0])
		if _, ok := validCommands[cmd]; !ok {
			return Parsed{}, fmt.Errorf("unknown command: %s", rest[0])
		}
		parsed.Command = cmd
		parsed.ShowHelp = cmd == CommandHelp
	}

	switch {
	case showHelp:
		parsed.Command = CommandHelp
		parsed.ShowHelp = true
	case showVersion:
		parsed.Command = CommandVersion
		parsed.ShowHelp = false
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] [--log-level LEVEL] <command>

Commands:
  run       Discover BLE devices and forward presence telemetry
  scan      Discover BLE devices and print them without forwarding
  doctor    Run configuration and environment checks
  version   Print version information
  help      Show this help

Flags:
  --config PATH       Config file path (default: $XDG_CONFIG_HOME/blepipe/config.jsonc)
  --log-level LEVEL   Override log_level (debug, info, warn, error)
  -h, --help          Show help
  --version           Show version

Exit codes:
  0  stopped by signal
  1  configuration or logging failure
  2  usage error
  3  bus or adapter failure
  4  relay setup failure
  5  forwarding failure
`, binaryName)
}
