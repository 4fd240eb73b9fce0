package main

import (
	"log"
	"strings"

	"github.com/jessevdk/go-flags"
)

// Options is the root command that groups sub-commands.
type Options struct {
	Config  string      `short:"f" long:"config" description:"console config YAML path"`
	Serve   *ServeCmd   `command:"serve" description:"Start the HTTP API and run worker"`
	Invoke  *InvokeCmd  `command:"invoke" description:"Run one agent turn and print the messages"`
	Threads *ThreadsCmd `command:"threads" description:"List threads"`
}

// Init instantiates the sub-command named by the first argument so that
// flags.Parse can populate its fields.
func (o *Options) Init(firstArg string) {
	switch firstArg {
	case "serve":
		o.Serve = &ServeCmd{}
	case "invoke":
		o.Invoke = &InvokeCmd{}
	case "threads":
		o.Threads = &ThreadsCmd{}
	}
}

var configPath string

// Run parses flags and executes the selected command.
func Run(args []string) {
	configPath = extractConfigPath(args)

	opts := &Options{}
	var first string
	for _, a := range args {
		if !strings.HasPrefix(a, "-") && a != configPath {
			first = a
			break
		}
	}
	opts.Init(first)

	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		log.Fatalf("%v", err)
	}
}

// extractConfigPath scans raw args for -f/--config before full parsing so
// sub-command Execute can load the config.
func extractConfigPath(args []string) string {
	for i, a := range args {
		switch a {
		case "-f", "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		default:
			if strings.HasPrefix(a, "--config=") {
				return strings.TrimPrefix(a, "--config=")
			}
		}
	}
	return ""
}
