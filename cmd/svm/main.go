// The svm command loads a ShitVM byte file and runs it (spec.md §6).
// Run "svm -version" for version information.
package main

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"svm/interp"
	"svm/jit"
	"svm/loader"
	"svm/module"
	"svm/typ"
)

func main() {
	root := &cobra.Command{
		Use:                "svm <file> [options]",
		Short:              "Run a ShitVM byte file",
		DisableFlagParsing: true, // spec.md §6's -f/-fno-/-name=value grammar isn't pflag's
		SilenceUsage:       true,
		RunE:               run,
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "svm: %v\n", err)
		os.Exit(2)
	}
}

// options is the parsed command-line surface: named booleans (-f<name>/
// -fno-<name>) and named integer variables (-<name>=<value>), per
// spec.md §6.
type options struct {
	bools map[string]bool
	vars  map[string]int64
}

func parseArgs(args []string) (file string, opts options, disasm bool, err error) {
	opts = options{bools: map[string]bool{}, vars: map[string]int64{}}
	for _, a := range args {
		switch {
		case a == "-version" || a == "--version":
			return "", opts, false, errVersionRequested
		case a == "-disasm":
			disasm = true
		case strings.HasPrefix(a, "-fno-"):
			opts.bools[a[len("-fno-"):]] = false
		case strings.HasPrefix(a, "-f"):
			opts.bools[a[len("-f"):]] = true
		case strings.HasPrefix(a, "-") && strings.Contains(a, "="):
			eq := strings.IndexByte(a, '=')
			name := a[1:eq]
			val, perr := strconv.ParseInt(a[eq+1:], 10, 64)
			if perr != nil {
				return "", opts, false, fmt.Errorf("option -%s: %w", name, perr)
			}
			opts.vars[name] = val
		case strings.HasPrefix(a, "-"):
			return "", opts, false, fmt.Errorf("unrecognized option %q", a)
		case file == "":
			file = a
		default:
			return "", opts, false, fmt.Errorf("unexpected extra argument %q", a)
		}
	}
	return file, opts, disasm, nil
}

var errVersionRequested = fmt.Errorf("svm: version requested")

func printVersion() {
	fmt.Printf("svm file-format %s, bytecode %s\n", loader.FileFormatVersion, loader.BytecodeVersion)
}

// requiredVar reads and validates one of the three variables spec.md §6
// requires: nonzero, and (for young/old) a multiple of 512. stack under
// 1 KiB is accepted but warned about, not rejected.
func requiredVar(opts options, name string) (int64, error) {
	v, ok := opts.vars[name]
	if !ok {
		return 0, fmt.Errorf("missing required variable %q (use -%s=<value>)", name, name)
	}
	if v == 0 {
		return 0, fmt.Errorf("variable %q must be nonzero", name)
	}
	if (name == "young" || name == "old") && v%512 != 0 {
		return 0, fmt.Errorf("variable %q must be a multiple of 512 bytes, got %d", name, v)
	}
	if name == "stack" && v < 1024 {
		fmt.Fprintf(os.Stderr, "svm: warning: stack=%d is under 1 KiB\n", v)
	}
	return v, nil
}

func run(cmd *cobra.Command, args []string) error {
	file, opts, disasm, err := parseArgs(args)
	if err == errVersionRequested {
		printVersion()
		return nil
	}
	if err != nil {
		return err
	}
	if file == "" {
		return fmt.Errorf("no byte file specified; usage: %s", cmd.Use)
	}

	stackSize, err := requiredVar(opts, "stack")
	if err != nil {
		return err
	}
	youngSize, err := requiredVar(opts, "young")
	if err != nil {
		return err
	}
	oldSize, err := requiredVar(opts, "old")
	if err != nil {
		return err
	}

	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("opening %s: %w", file, err)
	}
	defer f.Close()

	m, err := loader.Load(f, file)
	if err != nil {
		return fmt.Errorf("loading %s: %w", file, err)
	}

	if disasm {
		entry := m.Functions[m.EntryIndex]
		fmt.Print(loader.DisassembleFunction(entry.Name, entry.Bytecode))
	}

	prog, err := module.Resolve([]*module.Module{m})
	if err != nil {
		return fmt.Errorf("resolving %s: %w", file, err)
	}

	var jitEngine *jit.Engine
	if opts.bools["jit"] {
		jitEngine = jit.NewEngine()
		defer jitEngine.Close()
	}

	it, err := interp.New(prog, m, interp.Options{
		StackSize: int(stackSize),
		YoungSize: int(youngSize),
		OldSize:   int(oldSize),
		JIT:       jitEngine,
	})
	if err != nil {
		return fmt.Errorf("starting interpreter: %w", err)
	}
	defer it.Close()

	start := time.Now()
	ok := it.Interpret()
	elapsed := time.Since(start)

	if !ok {
		exc := it.Exception()
		fmt.Fprintf(os.Stderr, "svm: %v\n", exc)
		os.Exit(1)
	}

	if buf, tag, hasResult := it.Result(); hasResult {
		fmt.Printf("result: %s\n", formatResult(buf, tag))
	}
	fmt.Printf("elapsed: %s\n", elapsed)

	if jitEngine != nil && !jitEngine.IsEmpty() {
		fmt.Fprintln(os.Stderr, "svm: jit: at least one function was compiled natively")
	}

	return nil
}

// formatResult renders the program's result slot (spec.md §8 "the final
// stack ... contains exactly one value") for the fundamental kinds a
// result slot may legally hold. buf is the object's full bytes including
// its trailing type tag, as returned by interp.Interpreter.Result.
func formatResult(buf []byte, tag typ.Code) string {
	payload := buf[:len(buf)-typ.WordSize]
	switch tag {
	case typ.CodeInt:
		return fmt.Sprintf("int %d", int32(binary.LittleEndian.Uint32(payload)))
	case typ.CodeLong:
		return fmt.Sprintf("long %d", int64(binary.LittleEndian.Uint64(payload)))
	case typ.CodeDouble:
		return fmt.Sprintf("double %v", math.Float64frombits(binary.LittleEndian.Uint64(payload)))
	case typ.CodePointer:
		return fmt.Sprintf("pointer 0x%x", binary.LittleEndian.Uint64(payload))
	case typ.CodeGCPointer:
		return fmt.Sprintf("gc-pointer 0x%x", binary.LittleEndian.Uint64(payload))
	default:
		return fmt.Sprintf("% x", buf)
	}
}
