// Package terminal implements the interactive prompt that drives a
// scan session: reading user commands and dispatching them to the scan
// engine and watch service.
package terminal

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"

	"github.com/memsift/memsift/pkg/proc"
	"github.com/memsift/memsift/pkg/scan"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases []string
	helpMsg string
	cmdFn   cmdfunc
}

// Returns true if the command string matches one of the aliases for
// this command.
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the memsift terminal.
type Commands struct {
	cmds []command
}

// ScanCommands returns a Commands struct with default commands defined.
func ScanCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"type", "t"}, cmdFn: setType, helpMsg: `Sets the value type for the next first scan.

	type int32
	type int64
	type str [window]

The optional window is the number of bytes read around every string match (default 16).
Only allowed while no scan is running.`},
		{aliases: []string{"policy"}, cmdFn: setPolicy, helpMsg: `Sets which regions scans visit.

	policy writable
	policy readable

"writable" (the default) visits only writable regions, so every candidate can be
edited. "readable" also visits read-only regions; their candidates are marked
read-only and refuse edits.`},
		{aliases: []string{"scan", "s"}, cmdFn: firstScan, helpMsg: `Runs a first scan for an exact value.

	scan <value>

Builds a new candidate set from every selected region, replacing any previous
one. Values can be decimal, 0x-prefixed hex, or (for the str type) a quoted
string. Interrupt with Ctrl-C to keep the partial results.`},
		{aliases: []string{"next", "n"}, cmdFn: nextScan, helpMsg: `Filters the candidate set by re-reading every candidate.

	next exact <value>
	next changed
	next unchanged
	next increased
	next decreased

The candidate set only ever shrinks. increased/decreased apply to the numeric
types only.`},
		{aliases: []string{"refresh", "r"}, cmdFn: refresh, helpMsg: `Re-reads every candidate's current value without filtering.`},
		{aliases: []string{"list", "l"}, cmdFn: listCandidates, helpMsg: `Prints the current candidate set.`},
		{aliases: []string{"reset"}, cmdFn: reset, helpMsg: `Discards the candidate set and returns to the idle state.`},
		{aliases: []string{"regions"}, cmdFn: listRegions, helpMsg: `Prints the target's current memory map.`},
		{aliases: []string{"watch", "w"}, cmdFn: watchAddr, helpMsg: `Watches an address for live display.

	watch <address>

The address is read with the session's current value type. Watched addresses
are independent of the candidate set.`},
		{aliases: []string{"watches"}, cmdFn: listWatches, helpMsg: `Polls and prints every watched address.`},
		{aliases: []string{"unwatch"}, cmdFn: unwatchAddr, helpMsg: `Stops watching an entry.

	unwatch <index>

Indices are the ones printed by "watches".`},
		{aliases: []string{"set"}, cmdFn: setValue, helpMsg: `Writes a value to an address.

	set <address> <value>

The address must lie in a writable region; edits of read-only candidates are
refused.`},
		{aliases: []string{"progress"}, cmdFn: progress, helpMsg: `Prints the progress of the current scan.`},
		{aliases: []string{"cancel"}, cmdFn: cancelScan, helpMsg: `Cancels the scan in progress, keeping partial results.`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Prints or saves the configuration.

	config
	config save`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the terminal, detaching from the target.`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

// byFirstAlias will sort by the first alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// Merge takes aliases defined in the config struct and merges them with
// the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

// Find looks up a command by name or alias.
func (c *Commands) Find(cmdstr string) (command, bool) {
	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v, true
		}
	}
	return command{}, false
}

// Call dispatches one line of user input.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	cmd, ok := c.Find(cmdname)
	if !ok {
		return fmt.Errorf("command %q not available; type \"help\" for a list", cmdname)
	}
	return cmd.cmdFn(t, args)
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			if cmd.match(args) {
				fmt.Fprintln(t.stdout, cmd.helpMsg)
				return nil
			}
		}
		return fmt.Errorf("no help for %q", args)
	}
	fmt.Fprintln(t.stdout, "The following commands are available:")
	w := tabwriter.NewWriter(t.stdout, 0, 8, 0, '\t', 0)
	for _, cmd := range c.cmds {
		h := cmd.helpMsg
		if idx := strings.Index(h, "\n"); idx >= 0 {
			h = h[:idx]
		}
		if len(cmd.aliases) > 1 {
			fmt.Fprintf(w, "    %s (alias: %s)\t%s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
		} else {
			fmt.Fprintf(w, "    %s\t%s\n", cmd.aliases[0], h)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits args shell-style so quoted string values survive
// intact.
func splitArgs(args string) ([]string, error) {
	if args == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in %q", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, nil
	}
	return v[0], nil
}

const defaultStringWindow = 16

func setType(t *Term, args string) error {
	fields, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		fmt.Fprintf(t.stdout, "Value type: %v\n", t.session.ValueType())
		return nil
	}
	var vt scan.ValueType
	switch fields[0] {
	case "int32":
		vt = scan.Int32Type()
	case "int64":
		vt = scan.Int64Type()
	case "str", "string":
		window := defaultStringWindow
		if t.conf.StringWindow > 0 {
			window = t.conf.StringWindow
		}
		if len(fields) > 1 {
			window, err = strconv.Atoi(fields[1])
			if err != nil || window <= 0 {
				return fmt.Errorf("invalid window %q", fields[1])
			}
		}
		vt = scan.StringType(window)
	default:
		return fmt.Errorf("unknown value type %q (int32, int64 or str)", fields[0])
	}
	if err := t.session.SetScanType(vt, t.session.Policy()); err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Value type set to %v\n", vt)
	return nil
}

func setPolicy(t *Term, args string) error {
	if args == "" {
		fmt.Fprintf(t.stdout, "Region policy: %v\n", t.session.Policy())
		return nil
	}
	var policy proc.RegionPolicy
	switch args {
	case "writable", "w":
		policy = proc.WritableOnly
	case "readable", "rw":
		policy = proc.ReadableOrWritable
	default:
		return fmt.Errorf("unknown policy %q (writable or readable)", args)
	}
	if err := t.session.SetScanType(t.session.ValueType(), policy); err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Region policy set to %v\n", policy)
	return nil
}

func firstScan(t *Term, args string) error {
	fields, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(fields) != 1 {
		return errors.New("scan takes exactly one value")
	}
	target, err := scan.ParseValue(t.session.ValueType(), fields[0])
	if err != nil {
		return err
	}
	count, err := t.session.FirstScan(target)
	if err != nil {
		return err
	}
	t.printScanOutcome(count)
	return nil
}

var compareOps = map[string]scan.CompareOp{
	"exact":     scan.CompareExact,
	"changed":   scan.CompareChanged,
	"unchanged": scan.CompareUnchanged,
	"increased": scan.CompareIncreased,
	"decreased": scan.CompareDecreased,
}

func nextScan(t *Term, args string) error {
	fields, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return errors.New("next takes a comparison: exact, changed, unchanged, increased or decreased")
	}
	op, ok := compareOps[fields[0]]
	if !ok {
		return fmt.Errorf("unknown comparison %q", fields[0])
	}
	var target *scan.Value
	if op == scan.CompareExact {
		if len(fields) != 2 {
			return errors.New("next exact takes a value")
		}
		v, err := scan.ParseValue(t.session.ValueType(), fields[1])
		if err != nil {
			return err
		}
		target = &v
	} else if len(fields) != 1 {
		return fmt.Errorf("next %s takes no value", fields[0])
	}
	count, err := t.session.NextScan(op, target)
	if err != nil {
		return err
	}
	t.printScanOutcome(count)
	return nil
}

func refresh(t *Term, args string) error {
	count, err := t.session.Refresh()
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%d candidates\n", count)
	return nil
}

func listCandidates(t *Term, args string) error {
	cands := t.session.Candidates()
	for i, c := range cands {
		ro := ""
		if !c.Writable {
			ro = " " + t.colorize("(read-only)", ansiRed)
		}
		fmt.Fprintf(t.stdout, "[%d]\t%#x\t%v%s\n", i, c.Addr, c.Value, ro)
	}
	fmt.Fprintf(t.stdout, "%d candidates (%v)\n", len(cands), t.session.State())
	return nil
}

func reset(t *Term, args string) error {
	t.session.Reset()
	fmt.Fprintln(t.stdout, "Candidate set discarded.")
	return nil
}

func listRegions(t *Term, args string) error {
	regions, err := t.session.Regions()
	if err != nil {
		return err
	}
	selected := proc.SelectRegions(regions, t.session.Policy())
	for _, r := range regions {
		fmt.Fprintf(t.stdout, "%v\n", r)
	}
	fmt.Fprintf(t.stdout, "%d regions, %d selected by the %v policy\n", len(regions), len(selected), t.session.Policy())
	return nil
}

func parseAddr(s string) (uint64, error) {
	addr, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return addr, nil
}

func watchAddr(t *Term, args string) error {
	if args == "" {
		return errors.New("watch takes an address")
	}
	addr, err := parseAddr(args)
	if err != nil {
		return err
	}
	entry, err := t.session.Watch(addr, t.session.ValueType())
	if err != nil {
		return err
	}
	t.watches = append(t.watches, entry)
	fmt.Fprintf(t.stdout, "[%d]\t%#x\t%v\n", len(t.watches)-1, entry.Addr, entry.LastValue)
	return nil
}

func listWatches(t *Term, args string) error {
	for i, e := range t.watches {
		val, err := t.session.Poll(e)
		if err != nil {
			fmt.Fprintf(t.stdout, "[%d]\t%#x\t%s\n", i, e.Addr, t.colorize("unreadable: "+err.Error(), ansiRed))
			continue
		}
		ro := ""
		if !e.Writable {
			ro = " " + t.colorize("(read-only)", ansiRed)
		}
		fmt.Fprintf(t.stdout, "[%d]\t%#x\t%v%s\n", i, e.Addr, val, ro)
	}
	fmt.Fprintf(t.stdout, "%d watched addresses\n", len(t.watches))
	return nil
}

func unwatchAddr(t *Term, args string) error {
	idx, err := strconv.Atoi(args)
	if err != nil || idx < 0 || idx >= len(t.watches) {
		return fmt.Errorf("no watch entry %q", args)
	}
	t.watches = append(t.watches[:idx], t.watches[idx+1:]...)
	return nil
}

func setValue(t *Term, args string) error {
	fields, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(fields) != 2 {
		return errors.New("set takes an address and a value")
	}
	addr, err := parseAddr(fields[0])
	if err != nil {
		return err
	}
	entry, err := t.session.Watch(addr, t.session.ValueType())
	if err != nil {
		return err
	}
	val, err := scan.ParseValue(entry.Type, fields[1])
	if err != nil {
		return err
	}
	if err := t.session.Edit(entry, val); err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%#x set to %v\n", entry.Addr, val)
	return nil
}

func progress(t *Term, args string) error {
	completed, total := t.session.Progress()
	fmt.Fprintf(t.stdout, "%d/%d (%v)\n", completed, total, t.session.State())
	return nil
}

func cancelScan(t *Term, args string) error {
	t.session.CancelScan()
	return nil
}

func configureCmd(t *Term, args string) error {
	switch args {
	case "":
		out, err := yamlString(t.conf)
		if err != nil {
			return err
		}
		fmt.Fprint(t.stdout, out)
		return nil
	case "save":
		return saveConfig(t.conf)
	}
	return fmt.Errorf("unknown config subcommand %q", args)
}

func exitCommand(t *Term, args string) error {
	return ErrExit
}

// ErrExit requests the terminal loop to stop.
var ErrExit = errors.New("exit")

func (t *Term) printScanOutcome(count int) {
	stats := t.session.Stats()
	fmt.Fprintf(t.stdout, "%d candidates", count)
	if stats.RegionsSkipped > 0 {
		fmt.Fprintf(t.stdout, ", %d regions skipped unreadable", stats.RegionsSkipped)
	}
	if stats.CandidatesDropped > 0 {
		fmt.Fprintf(t.stdout, ", %d dropped unreadable", stats.CandidatesDropped)
	}
	fmt.Fprintln(t.stdout)
}
