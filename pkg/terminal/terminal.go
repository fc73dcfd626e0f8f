package terminal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/derekparker/trie"
	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v2"

	"github.com/memsift/memsift/pkg/config"
	"github.com/memsift/memsift/pkg/logflags"
	"github.com/memsift/memsift/pkg/scan"
)

const (
	historyFile = "history"

	ansiRed   = "31"
	ansiReset = "0"
)

// Term represents the terminal running memsift.
type Term struct {
	session *scan.Session
	conf    *config.Config
	cmds    *Commands
	prompt  string

	line   *liner.State
	stdout io.Writer
	dumb   bool

	watches []*scan.WatchEntry
}

// New returns a new Term for the given session.
func New(session *scan.Session, conf *config.Config) *Term {
	if conf == nil {
		conf = &config.Config{}
	}
	cmds := ScanCommands()
	if conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	var stdout io.Writer = os.Stdout
	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	if !dumb && isatty.IsTerminal(os.Stdout.Fd()) {
		stdout = colorable.NewColorableStdout()
	} else {
		dumb = true
	}

	return &Term{
		session: session,
		conf:    conf,
		cmds:    cmds,
		prompt:  "(memsift) ",
		line:    liner.NewLiner(),
		stdout:  stdout,
		dumb:    dumb,
	}
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
}

// sigintGuard turns Ctrl-C into scan cancellation instead of killing
// the terminal, so an interrupted scan keeps its partial results.
func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		fmt.Fprintf(t.stdout, "received SIGINT, cancelling scan...\n")
		t.session.CancelScan()
	}
}

// Run begins the command loop and does not return until the user exits.
func (t *Term) Run() error {
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	cmdTrie := trie.New()
	for _, cmd := range t.cmds.cmds {
		for _, alias := range cmd.aliases {
			cmdTrie.Add(alias, nil)
		}
	}
	t.line.SetCompleter(func(line string) (c []string) {
		if strings.Contains(line, " ") {
			return nil
		}
		return cmdTrie.PrefixSearch(strings.ToLower(line))
	})

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Fprintf(t.stdout, "Unable to load history file: %v.\n", err)
	} else {
		if f, err := os.Open(fullHistoryFile); err == nil {
			t.line.ReadHistory(f)
			f.Close()
		}
	}

	fmt.Fprintf(t.stdout, "Attached to process %d. Type \"help\" for a list of commands.\n", t.session.Pid())

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == liner.ErrPromptAborted {
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				break
			}
			return fmt.Errorf("prompt for input failed: %w", err)
		}
		if cmdstr == "" {
			continue
		}
		if err := t.cmds.Call(cmdstr, t); err != nil {
			if err == ErrExit {
				break
			}
			fmt.Fprintf(t.stdout, "%s\n", t.colorize("Command failed: "+err.Error(), ansiRed))
		}
	}
	t.saveHistory()
	if err := t.session.Detach(); err != nil {
		logflags.TerminalLogger().WithError(err).Warnf("detach failed")
	}
	return nil
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}
	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}
	return strings.TrimSpace(l), nil
}

func (t *Term) saveHistory() {
	path, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		logflags.TerminalLogger().WithError(err).Debugf("could not open history file")
		return
	}
	if _, err := t.line.WriteHistory(f); err != nil {
		logflags.TerminalLogger().WithError(err).Debugf("could not write history")
	}
	f.Close()
}

// colorize wraps s in an ANSI color escape unless the output is not a
// terminal.
func (t *Term) colorize(s, color string) string {
	if t.dumb {
		return s
	}
	return "\033[" + color + "m" + s + "\033[" + ansiReset + "m"
}

func yamlString(conf *config.Config) (string, error) {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func saveConfig(conf *config.Config) error {
	return config.SaveConfig(conf)
}
