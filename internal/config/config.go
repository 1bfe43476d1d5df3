// Package config parses the node-level settings spec.md's ambient
// stack implies but does not itself specify a format for: which node
// this process is, where to listen, and which directory is named for
// the process pool.
//
// Grounded on the teacher's package-level flag.Bool/flag.Parse idiom
// (main.go's debugVM flag, parsed in an init() before main runs) —
// generalized here into an explicit Load(args) so it is testable
// without touching the process-wide flag.CommandLine.
package config

import (
	"flag"

	"github.com/processwarp/core/internal/perror"
	"github.com/processwarp/core/internal/wire"
)

// Config is one node's runtime configuration.
type Config struct {
	// NodeID is this node's identity on the wire (§3, §4.7).
	NodeID wire.NodeID
	// Listen is the address this node accepts connections on.
	Listen string
	// PoolDir names the directory for persisted process/thread state
	// (§4.5). Nothing in this module reads or writes it.
	PoolDir string
	// Quantum overrides interp.DefaultQuantum; 0 means "use the default".
	Quantum int
	// Debug makes the node log each thread's quantum result. Execution
	// is not single-stepped.
	Debug bool
}

// Load parses args (typically os.Args[1:]) into a Config. name is the
// flag.FlagSet's program name, used only in usage text.
func Load(name string, args []string) (Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	nodeID := fs.String("node-id", "", "this node's identity on the wire (required)")
	listen := fs.String("listen", ":7320", "address to accept connections on")
	poolDir := fs.String("pool-dir", "./pool", "directory holding persisted process/thread state")
	quantum := fs.Int("quantum", 0, "instructions per scheduling quantum (0 = interpreter default)")
	debug := fs.Bool("debug", false, "log each thread's quantum result")

	if err := fs.Parse(args); err != nil {
		return Config{}, perror.Wrap(perror.Configure, "config: parse flags", err)
	}
	if *nodeID == "" {
		return Config{}, perror.New(perror.Configure, "config: -node-id is required")
	}

	return Config{
		NodeID:  wire.NodeID(*nodeID),
		Listen:  *listen,
		PoolDir: *poolDir,
		Quantum: *quantum,
		Debug:   *debug,
	}, nil
}
