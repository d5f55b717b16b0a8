// Command apihostd is the process entrypoint for the API call dispatcher
// core: it wires a DeadlineOracle, a gRPC ApiHostClient, and a Dispatcher
// together and serves them behind a small CLI, grounded on the
// go-flags/mainboilerplate bootstrap in go/flowctl-go/main.go.
package main

import (
	"github.com/jessevdk/go-flags"
	mbp "go.gazette.dev/core/mainboilerplate"
)

const iniFilename = "apihostd.ini"

func main() {
	var parser = flags.NewParser(nil, flags.HelpFlag|flags.PassDoubleDash)

	addCmd(parser, "serve", "Serve the API call dispatcher", `
Serve the API call dispatcher core, accepting dispatch requests until
signaled to exit (via SIGTERM).
`, &cmdServe{})

	apis, err := parser.Command.AddCommand("api", "Low-level APIs for automation", `
API commands for inspecting and exercising a running or configured
dispatcher core. Users should not need to run these directly.
	`, &struct{}{})
	mbp.Must(err, "failed to add command")

	addCmd(apis, "dump-oracle", "Print the resolved DeadlineOracle tables", `
Print the baseline (service, class) -> (default, max) deadline tables as a
colorized table, or as JSON with --json. Runtime overrides are not included.
`, &cmdDumpOracle{})

	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.MustParseConfig(parser, iniFilename)
}

func addCmd(to interface {
	AddCommand(string, string, string, interface{}) (*flags.Command, error)
}, a, b, c string, iface interface{}) *flags.Command {
	var cmd, err = to.AddCommand(a, b, c, iface)
	mbp.Must(err, "failed to add flags parser command")
	return cmd
}
