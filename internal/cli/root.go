// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-ndnkeychain.
//
// go-ndnkeychain is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// Options holds the global CLI flags
type Options struct {
	// ConfigFile is the path to the configuration file
	ConfigFile string

	// OutputFormat controls output formatting (text, json)
	OutputFormat string

	// Verbose enables verbose logging
	Verbose bool

	// PIBPath overrides pib.path
	PIBPath string

	// TPMBackend overrides tpm.backend
	TPMBackend string

	// TPMPath overrides tpm.path
	TPMPath string

	// Now stamps generated certificates. Defaults to time.Now.
	Now func() time.Time

	stdout io.Writer
	stderr io.Writer
}

// NewRootCmd builds the ndnkeychain command tree writing to stdout and stderr.
func NewRootCmd(opts *Options, stdout, stderr io.Writer) *cobra.Command {
	if opts == nil {
		opts = &Options{}
	}
	opts.stdout = stdout
	opts.stderr = stderr

	rootCmd := &cobra.Command{
		Use:   "ndnkeychain",
		Short: "ndnkeychain - NDN identity, key and certificate management",
		Long: `ndnkeychain manages the identities, keys and certificates of an NDN
keychain stored in an ndn-cxx compatible PIB database, with private keys
kept in a file TPM directory, in memory or in a HashiCorp Vault KV mount.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", "",
		"config file (default: built-in defaults under $HOME/.ndn)")
	flags.StringVarP(&opts.OutputFormat, "output", "o", "text",
		"output format (text, json)")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false,
		"verbose output")
	flags.StringVar(&opts.PIBPath, "pib", "",
		"PIB database path")
	flags.StringVar(&opts.TPMBackend, "tpm-backend", "",
		"private key backend (file, memory, vault)")
	flags.StringVar(&opts.TPMPath, "tpm", "",
		"private key directory for the file backend")

	rootCmd.AddCommand(
		newListCmd(opts),
		newKeyGenCmd(opts),
		newCertDumpCmd(opts),
		newDeleteCmd(opts),
		newExportCmd(opts),
		newSetDefaultCmd(opts),
		newVersionCmd(opts),
	)
	return rootCmd
}

// Execute runs the root command against os.Args and prints any error.
func Execute() error {
	opts := &Options{}
	rootCmd := NewRootCmd(opts, os.Stdout, os.Stderr)
	err := rootCmd.Execute()
	if err != nil {
		_ = NewPrinter(opts.OutputFormat, os.Stderr).PrintError(err) // best-effort
	}
	return err
}

// printVerbose prints a message if verbose mode is enabled
func (o *Options) printVerbose(format string, args ...any) {
	if o.Verbose {
		fmt.Fprintf(o.stderr, "[VERBOSE] "+format+"\n", args...)
	}
}

func (o *Options) printer() *Printer {
	return NewPrinter(o.OutputFormat, o.stdout)
}
