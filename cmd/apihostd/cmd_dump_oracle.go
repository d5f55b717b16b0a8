package main

import (
	"encoding/json"
	"fmt"

	"github.com/estuary/apihost/go/deadline"
	"github.com/fatih/color"
	mbp "go.gazette.dev/core/mainboilerplate"
)

var (
	clampedRow = color.New(color.FgYellow).SprintFunc()
	unboundRow = color.New(color.FgGreen).SprintFunc()
)

// cmdDumpOracle is a supplemented feature (not present in the distilled
// spec): it prints the DeadlineOracle's baseline tables for operators
// diagnosing an unexpected deadline, without requiring a running dispatcher.
type cmdDumpOracle struct {
	JSON bool          `long:"json" description:"Print as raw JSON instead of a colorized table"`
	Log  mbp.LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

type oracleRow struct {
	Service string  `json:"service"`
	Class   string  `json:"class"`
	Default float64 `json:"default"`
	Max     float64 `json:"max"`
}

func (cmd cmdDumpOracle) Execute(_ []string) error {
	mbp.InitLog(cmd.Log)

	var oracle = deadline.New()
	var services = []string{
		"datastore_v3", "datastore_v4", "blobstore", "images", "mail", "memcache",
		"search", "taskqueue", "urlfetch", "modules", "logservice", "stubby",
		"file", "rdbms", "remote_socket", "app_config_service",
	}

	var rows []oracleRow
	for _, svc := range services {
		for _, cls := range []struct {
			name      string
			isOffline bool
		}{{"online", false}, {"offline", true}} {
			rows = append(rows, oracleRow{
				Service: svc,
				Class:   cls.name,
				Default: oracle.Resolve(svc, cls.isOffline, 0, false),
				Max:     oracle.Resolve(svc, cls.isOffline, 1e9, true),
			})
		}
	}

	if cmd.JSON {
		var out, err = json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	// Table mode: flag any row whose default is clamped away from the max in
	// yellow, so an operator scanning for an unexpectedly tight deadline can
	// spot it without reading every number, mirroring go/flowctl/cmd-test.go's
	// pass/fail coloring of its own test-result table.
	fmt.Printf("%-20s %-8s %10s %10s\n", "SERVICE", "CLASS", "DEFAULT", "MAX")
	for _, row := range rows {
		var line = fmt.Sprintf("%-20s %-8s %10.1f %10.1f", row.Service, row.Class, row.Default, row.Max)
		if row.Default < row.Max {
			fmt.Println(clampedRow(line))
		} else {
			fmt.Println(unboundRow(line))
		}
	}
	return nil
}
