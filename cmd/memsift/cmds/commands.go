// Package cmds implements the memsift command line interface.
package cmds

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/memsift/memsift/pkg/config"
	"github.com/memsift/memsift/pkg/logflags"
	"github.com/memsift/memsift/pkg/proc"
	"github.com/memsift/memsift/pkg/proc/native"
	"github.com/memsift/memsift/pkg/scan"
	"github.com/memsift/memsift/pkg/terminal"
	"github.com/memsift/memsift/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const memsiftCommandLongDesc = `Memsift scans the live memory of a running process for values.

Attach to a target, run a first scan for a known value, change the value in the
target, and narrow the candidate set with next scans until only the addresses
you care about remain. Surviving addresses can be watched and edited in place.`

// New returns an initialized command tree.
func New() *cobra.Command {
	conf = config.LoadConfig()

	rootCommand = &cobra.Command{
		Use:   "memsift",
		Short: "Memsift is a live process memory scanner.",
		Long:  memsiftCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (scanner, memaccess, watch, terminal)`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor.")

	attachCommand := &cobra.Command{
		Use:   "attach pid",
		Short: "Attach to a running process and begin scanning.",
		Long: `Attach to an already running process and begin scanning its memory.

Reading another process's memory usually requires elevated privileges or a
relaxed ptrace scope; a permission failure is reported at attach time.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a PID")
			}
			return nil
		},
		Run: attachCmd,
	}
	rootCommand.AddCommand(attachCommand)

	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("memsift %s\n%s\n", version.MemsiftVersion.String(), version.BuildInfo())
		},
	}
	rootCommand.AddCommand(versionCommand)

	return rootCommand
}

func attachCmd(cmd *cobra.Command, args []string) {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid pid: %s\n", args[0])
		os.Exit(1)
	}
	os.Exit(execute(pid, conf))
}

func execute(attachPid int, conf *config.Config) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	target, err := native.Attach(attachPid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not attach to pid %d: %v\n", attachPid, err)
		return 1
	}

	session := scan.NewSession(target, scan.Config{
		ChunkSize: conf.ChunkSize,
		Workers:   conf.ScanWorkers,
	})
	if err := applyConfig(session, conf); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}

	term := terminal.New(session, conf)
	if err := term.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// applyConfig moves the config file's scan defaults onto the session.
func applyConfig(session *scan.Session, conf *config.Config) error {
	vt := session.ValueType()
	switch conf.DefaultType {
	case "", "int32":
	case "int64":
		vt = scan.Int64Type()
	case "str", "string":
		window := conf.StringWindow
		if window <= 0 {
			window = 16
		}
		vt = scan.StringType(window)
	default:
		return fmt.Errorf("unknown default-type %q in config", conf.DefaultType)
	}

	policy := proc.WritableOnly
	switch conf.Policy {
	case "", "writable":
	case "readable":
		policy = proc.ReadableOrWritable
	default:
		return fmt.Errorf("unknown region-policy %q in config", conf.Policy)
	}

	return session.SetScanType(vt, policy)
}
