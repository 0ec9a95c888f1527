// Arbor CLI - evaluate bracket-notation programs, run a REPL and manage
// snapshots.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chazu/arbor/config"
	"github.com/chazu/arbor/vm"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("arbor", flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbose := fs.Bool("v", false, "Verbose output (debug logging)")
	expr := fs.String("e", "", "Evaluate an expression")
	interactive := fs.Bool("i", false, "Start interactive REPL")
	configDir := fs.String("config", "", "Directory holding arbor.toml (default: search upward from .)")
	finiteness := fs.Uint64("finiteness", 0, "Finiteness budget per run (overrides config)")
	savePath := fs.String("save", "", "Save a snapshot to this file before exiting")
	loadPath := fs.String("load", "", "Start from a snapshot file")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: arbor [options] [files...]\n\n")
		fmt.Fprintf(stderr, "Evaluates bracket-notation programs from -e, files, or the REPL.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  arbor -e '[add 1 2]'              # prints integer: 3\n")
		fmt.Fprintf(stderr, "  arbor -finiteness 10 loop.arb     # bound backward jumps\n")
		fmt.Fprintf(stderr, "  arbor -i -save session.snap       # REPL, snapshot on exit\n")
		fmt.Fprintf(stderr, "  arbor -load session.snap -i       # resume a session\n")
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *finiteness > 0 {
		cfg.Run.Finiteness = *finiteness
	}

	verbosity := 0
	if *verbose || cfg.Debug.Verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	var vmInst *vm.VM
	if *loadPath != "" {
		opts := cfg.VMOptions()
		if *finiteness == 0 {
			opts.Finiteness = 0 // take the snapshot's
		}
		vmInst, err = vm.LoadFile(*loadPath, opts)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	} else {
		vmInst = vm.New(cfg.VMOptions())
	}
	defer vmInst.Shutdown()

	if interval := time.Duration(cfg.GC.Interval); interval > 0 {
		vmInst.StartPeriodicGC(interval)
	}

	if *verbose {
		s := vmInst.Stats()
		fmt.Fprintf(stdout, "Arena: %d words, %d types, %d functions, %d roots\n",
			s.ArenaWords, s.Types, s.Functions, s.Roots)
	}

	status := 0
	if *expr != "" {
		if !evalAndPrint(vmInst, *expr, stdout, stderr) {
			status = 1
		}
	}
	for _, path := range fs.Args() {
		src, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			status = 1
			continue
		}
		if !evalAndPrint(vmInst, string(src), stdout, stderr) {
			status = 1
		}
	}

	if *interactive || (*expr == "" && fs.NArg() == 0) {
		runREPL(vmInst, stdin, stdout, stderr)
	}

	if *savePath != "" {
		if err := vmInst.SaveFile(*savePath); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if *verbose {
			fmt.Fprintf(stdout, "Saved snapshot to %s\n", *savePath)
		}
	}
	return status
}

// loadConfig reads arbor.toml from dir, or searches upward from the working
// directory when dir is empty, then applies environment overrides.
func loadConfig(dir string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if dir != "" {
		cfg, err = config.Load(dir)
	} else {
		cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func evalAndPrint(vmInst *vm.VM, src string, stdout, stderr io.Writer) bool {
	d, err := vmInst.EvalString(src)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return false
	}
	fmt.Fprintln(stdout, vmInst.Format(d))
	return true
}

// ---------------------------------------------------------------------------
// REPL
// ---------------------------------------------------------------------------

func runREPL(vmInst *vm.VM, stdin io.Reader, stdout, stderr io.Writer) {
	fmt.Fprintln(stdout, "Arbor REPL (type 'exit' to quit, ':help' for commands)")

	scanner := bufio.NewScanner(stdin)
	lineBuffer := strings.Builder{}

	for {
		if lineBuffer.Len() == 0 {
			fmt.Fprint(stdout, ">> ")
		} else {
			fmt.Fprint(stdout, ".. ")
		}

		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		if lineBuffer.Len() == 0 && (line == "exit" || line == "quit") {
			break
		}
		if lineBuffer.Len() == 0 && strings.HasPrefix(line, ":") {
			handleREPLCommand(vmInst, line, stdout, stderr)
			continue
		}

		if lineBuffer.Len() > 0 {
			lineBuffer.WriteString("\n")
		}
		lineBuffer.WriteString(line)

		// Evaluate once every bracket is closed.
		input := lineBuffer.String()
		if depth(input) > 0 {
			continue
		}
		lineBuffer.Reset()
		if strings.TrimSpace(input) != "" {
			evalAndPrint(vmInst, input, stdout, stderr)
		}
	}
}

// depth returns the number of unclosed brackets and braces in src,
// ignoring comments.
func depth(src string) int {
	d := 0
	comment := false
	for _, ch := range src {
		switch {
		case ch == '\n':
			comment = false
		case comment:
		case ch == ';':
			comment = true
		case ch == '[' || ch == '{':
			d++
		case ch == ']' || ch == '}':
			d--
		}
	}
	return d
}

func handleREPLCommand(vmInst *vm.VM, line string, stdout, stderr io.Writer) {
	fields := strings.Fields(line)
	switch fields[0] {
	case ":help":
		fmt.Fprintln(stdout, "  :gc           run a collection")
		fmt.Fprintln(stdout, "  :stats        show arena and pool usage")
		fmt.Fprintln(stdout, "  :print EXPR   read EXPR and print it back")
		fmt.Fprintln(stdout, "  :save FILE    write a snapshot")
		fmt.Fprintln(stdout, "  exit          leave the REPL")
	case ":gc":
		s := vmInst.Collect()
		fmt.Fprintf(stdout, "%d objects (%d words) live, %d words free, %d functions finalized in %s\n",
			s.LiveObjects, s.LiveWords, s.FreeWords, s.FunctionsSwept, s.Duration)
	case ":stats":
		s := vmInst.Stats()
		fmt.Fprintf(stdout, "arena %d words (%d free at last collection), %d types, %d functions, %d modules, %d roots, %d collections\n",
			s.ArenaWords, s.FreeWords, s.Types, s.Functions, s.Modules, s.Roots, s.Collections)
	case ":print":
		src := strings.TrimSpace(strings.TrimPrefix(line, ":print"))
		n, err := vmInst.Parse(src)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return
		}
		fmt.Fprintln(stdout, vmInst.Print(n))
	case ":save":
		if len(fields) != 2 {
			fmt.Fprintln(stderr, "Error: usage :save FILE")
			return
		}
		if err := vmInst.SaveFile(fields[1]); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
	default:
		fmt.Fprintf(stderr, "Error: unknown command %s\n", fields[0])
	}
}
