// Command contentblock runs the content blocker as a filtering proxy, or
// decides on a single URL and exits.
package main

import (
	"os"

	goFlags "github.com/jessevdk/go-flags"
)

// version is the version of the program.  It is set by the linker.
var version = "dev"

// Options are the command-line arguments.
type Options struct {
	// ConfigPath is the path to the YAML configuration file.
	ConfigPath string `short:"c" long:"config" description:"Path to the YAML configuration file." required:"true"`

	// LogOutput is the path to the log file.
	LogOutput string `short:"o" long:"output" description:"Path to the log file. If not set, it writes to stderr." default:""`

	// ListenAddr is the address of the proxy.
	ListenAddr string `short:"l" long:"listen" description:"Proxy listen address." default:"127.0.0.1"`

	// TLSCertPath is the path to the root certificate used for MITM.
	TLSCertPath string `long:"ca-cert" description:"Path to a file with the root certificate. Enables filtering of HTTPS requests along with --ca-key."`

	// TLSKeyPath is the path to the private key of the root certificate.
	TLSKeyPath string `long:"ca-key" description:"Path to a file with the CA private key."`

	// CheckURL is the URL to decide on in the one-shot mode.
	CheckURL string `long:"check" description:"Decide on the URL, print the decision, and exit."`

	// Referer is the document URL for --check.
	Referer string `long:"referer" description:"Document URL of the request for --check." default:""`

	// RequestType is the request type for --check.
	RequestType string `long:"type" description:"Request type for --check, for example script or image." default:"other"`

	// ListenPort is the port of the proxy.
	ListenPort int `short:"p" long:"port" description:"Proxy listen port. Zero disables the proxy." default:"8080"`

	// Verbose enables debug logging.
	Verbose bool `short:"v" long:"verbose" description:"Verbose output (optional)." optional:"yes" optional-value:"true"`
}

func main() {
	var options Options
	parser := goFlags.NewParser(&options, goFlags.Default)

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*goFlags.Error); ok && flagsErr.Type == goFlags.ErrHelp {
			os.Exit(0)
		}

		os.Exit(1)
	}

	os.Exit(run(&options))
}
