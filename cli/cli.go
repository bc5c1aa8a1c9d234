// Package cli provides the docsign command-line interface.
package cli

import (
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/georgepadayatti/docsign/config"
	"github.com/georgepadayatti/docsign/logging"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// osExit is a variable for os.Exit to allow testing
var osExit = os.Exit

// Run executes the CLI with the given arguments.
// This is the main entry point for the CLI.
func Run(args []string) {
	if len(args) < 2 {
		Usage()
		return
	}

	command := args[1]

	switch command {
	case "detect":
		DetectCommand(args)
	case "sign":
		SignCommand(args)
	case "version":
		VersionCommand()
	case "help", "-h", "--help":
		Usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		Usage()
		osExit(2)
	}
}

// Usage prints the CLI usage information.
func Usage() {
	fmt.Printf("docsign - place signature images on documents\n\n")
	fmt.Printf("Usage: %s <command> [options] <args>\n\n", os.Args[0])
	fmt.Println("Commands:")
	fmt.Println("  detect   Suggest where a signature should go")
	fmt.Println("  sign     Place a signature image and export the signed document")
	fmt.Println("  version  Show version information")
	fmt.Println("  help     Show this help message")
	fmt.Println("")
	fmt.Printf("Use '%s <command> -h' for command-specific help\n", os.Args[0])
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Printf("  %s detect contract.pdf\n", os.Args[0])
	fmt.Printf("  %s detect -json -page 2 scan.png\n", os.Args[0])
	fmt.Printf("  %s sign -image sig.png -auto -name \"Ana Pérez\" contract.pdf contract_signed.pdf\n", os.Args[0])
}

// VersionCommand prints version information.
func VersionCommand() {
	fmt.Printf("docsign version %s\n", Version)
	fmt.Printf("Build time: %s\n", BuildTime)
}

// commonOptions are the flags every document command accepts.
type commonOptions struct {
	ConfigFile string
	LogLevel   string
	OCR        bool
}

func (o *commonOptions) register(fs *flag.FlagSet) {
	fs.StringVar(&o.ConfigFile, "config", "", "YAML configuration file")
	fs.StringVar(&o.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides the configuration)")
	fs.BoolVar(&o.OCR, "ocr", false, "Find signature labels with Tesseract OCR")
}

// setup loads the configuration and installs the configured logger. The
// returned function closes the log output.
func (o *commonOptions) setup() (*config.Config, func(), error) {
	cfg := config.DefaultConfig()
	if o.ConfigFile != "" {
		var err error
		if cfg, err = config.LoadConfig(o.ConfigFile); err != nil {
			return nil, nil, err
		}
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.OCR {
		cfg.OCR.Enabled = true
	}

	logger, closeLog, err := cfg.Logging.NewLogger()
	if err != nil {
		return nil, nil, err
	}
	logging.SetLogger(logger)
	return cfg, func() {
		logging.SetLogger(nil)
		closeLog()
	}, nil
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
