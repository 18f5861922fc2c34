// pidxctl is a REPL for exploring a predicateindex.IndexManager over an
// in-memory, string-keyed record store.
//
// Usage:
//
//	pidxctl [--checkpoint-dir DIR] [--config PATH]
//
// Commands (in REPL):
//
//	register <group> <predicate>=<field> [<predicate>=<field> ...]   Create a predicate group over record fields
//	put <key> <field>=<value> [<field>=<value> ...]                  Upsert a record
//	del <key>                                                        Delete a record
//	query <predicate> <value>                                       Single-predicate query
//	and <predicate>=<value> [<predicate>=<value> ...]                 AND combinator
//	or <predicate>=<value> [<predicate>=<value> ...]                  OR combinator
//	checkpoint <dir> <token> [full|index|log]                       Snapshot group metadata (default full)
//	recover <dir> <token>                                           Show a checkpoint's recorded group shapes
//	flush [evict] [wait|nowait]                                     Bump the epoch, optionally evicting trimmed addresses
//	info                                                            Show registered groups/predicates
//	help                                                            Show this help
//	exit / quit / q                                                 Exit
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/pflag"

	"github.com/faster-go/predicateindex/internal/pidxconfig"
	"github.com/faster-go/predicateindex/internal/primarykv"
	"github.com/faster-go/predicateindex/pkg/predicateindex"
)

// record is the value type this REPL indexes: a flat string-keyed field
// map, standing in for whatever structured value an embedding program would
// use instead.
type record map[string]string

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	checkpointDir := pflag.String("checkpoint-dir", "", "directory for checkpoint manifests (overrides config)")
	configPath := pflag.String("config", "", "explicit config file path")
	pflag.Parse()

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getwd: %w", err)
	}

	cfg, err := pidxconfig.Load(workDir, *configPath, os.Environ())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if *checkpointDir != "" {
		cfg.CheckpointDir = *checkpointDir
	}

	repl := newREPL(cfg)

	return repl.Run()
}

// handleInfo describes one registered predicate group for the `info` command.
type handleInfo struct {
	group      string
	predicates []string
}

// REPL is the interactive command loop.
type REPL struct {
	cfg pidxconfig.Config

	store *primarykv.Fake[string, record]
	mgr   *predicateindex.IndexManager[string, record]

	handles map[string]predicateindex.PredicateHandle // "group.predicate" -> handle
	groups  []handleInfo

	liner *liner.State
}

func newREPL(cfg pidxconfig.Config) *REPL {
	mgr := predicateindex.NewIndexManager[string, record]()
	store := primarykv.NewFake[string, record](mgr.Hooks())
	mgr.BindPrimary(store)

	return &REPL{
		cfg:     cfg,
		store:   store,
		mgr:     mgr,
		handles: make(map[string]predicateindex.PredicateHandle),
	}
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".pidxctl_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("pidxctl - predicate index REPL (checkpoint_dir=%s)\n", r.cfg.CheckpointDir)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("pidxctl> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "register":
			r.cmdRegister(args)

		case "put":
			r.cmdPut(args)

		case "del", "delete":
			r.cmdDelete(args)

		case "query", "get":
			r.cmdQuery(args)

		case "and":
			r.cmdAnd(args)

		case "or":
			r.cmdOr(args)

		case "checkpoint":
			r.cmdCheckpoint(args)

		case "recover":
			r.cmdRecover(args)

		case "flush":
			r.cmdFlush(args)

		case "info":
			r.cmdInfo()

		case "clear", "cls":
			fmt.Print("\033[H\033[2J")

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{
		"register", "put", "del", "delete",
		"query", "get", "and", "or",
		"checkpoint", "recover", "flush", "info",
		"clear", "cls", "help", "exit", "quit", "q",
	}

	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  register <group> <predicate>=<field> [...]   Create a predicate group over record fields")
	fmt.Println("  put <key> <field>=<value> [...]              Upsert a record")
	fmt.Println("  del <key>                                     Delete a record")
	fmt.Println("  query <predicate> <value>                    Single-predicate query")
	fmt.Println("  and <predicate>=<value> [...]                 AND combinator")
	fmt.Println("  or <predicate>=<value> [...]                  OR combinator")
	fmt.Println("  checkpoint <dir> <token> [full|index|log]    Snapshot group metadata (default full)")
	fmt.Println("  recover <dir> <token>                        Show a checkpoint's recorded group shapes")
	fmt.Println("  flush [evict] [wait|nowait]                   Bump the epoch, optionally evicting trimmed addresses")
	fmt.Println("  info                                          Show registered groups/predicates")
	fmt.Println("  help                                          Show this help")
	fmt.Println("  exit / quit / q                               Exit")
}

// cmdRegister creates a predicate group. Every predicate extracts a field
// value verbatim, padded/truncated to the group's key size.
func (r *REPL) cmdRegister(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: register <group> <predicate>=<field> [...]")

		return
	}

	group := args[0]

	specs := make([]predicateindex.PredicateSpec[string, record], 0, len(args)-1)

	for _, pair := range args[1:] {
		name, field, ok := strings.Cut(pair, "=")
		if !ok {
			fmt.Printf("Invalid predicate spec %q, want name=field\n", pair)

			return
		}

		fieldName := field

		specs = append(specs, predicateindex.PredicateSpec[string, record]{
			Name: group + "." + name,
			Extract: func(_ string, v record) ([]byte, bool) {
				val, ok := v[fieldName]
				if !ok {
					return nil, false
				}

				return padKey(val, r.cfg.KeySize), true
			},
		})
	}

	handles, err := r.mgr.RegisterGroup(predicateindex.GroupSettings{
		HashTableSize: r.cfg.HashTableSize,
		KeySize:       r.cfg.KeySize,
		MemoryWindow:  r.cfg.MemoryWindow,
	}, specs...)
	if err != nil {
		fmt.Printf("Error registering group: %v\n", err)

		return
	}

	info := handleInfo{group: group}

	for i, spec := range specs {
		r.handles[spec.Name] = handles[i]
		info.predicates = append(info.predicates, spec.Name)
	}

	r.groups = append(r.groups, info)

	fmt.Printf("OK: registered group %q with %d predicate(s)\n", group, len(specs))
}

func padKey(s string, width int) []byte {
	b := make([]byte, width)
	copy(b, s)

	return b
}

func (r *REPL) cmdPut(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: put <key> <field>=<value> [...]")

		return
	}

	key := args[0]
	rec := make(record)

	for _, pair := range args[1:] {
		field, value, ok := strings.Cut(pair, "=")
		if !ok {
			fmt.Printf("Invalid field %q, want field=value\n", pair)

			return
		}

		rec[field] = value
	}

	_, err := r.store.Upsert(context.Background(), key, rec)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Printf("OK: put %s\n", key)
}

func (r *REPL) cmdDelete(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: del <key>")

		return
	}

	if err := r.store.Delete(context.Background(), args[0]); err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Printf("OK: deleted %s\n", args[0])
}

func (r *REPL) resolveHandle(name string) (predicateindex.PredicateHandle, bool) {
	h, ok := r.handles[name]

	return h, ok
}

func (r *REPL) cmdQuery(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: query <predicate> <value>")

		return
	}

	h, ok := r.resolveHandle(args[0])
	if !ok {
		fmt.Printf("Unknown predicate %q (try 'info')\n", args[0])

		return
	}

	sess := r.mgr.NewSession()
	defer sess.Close()

	keys, _, err := sess.Query(context.Background(), predicateindex.Term{Handle: h, Key: padKey(args[1], r.cfg.KeySize)})
	r.printQueryResult(keys, err)
}

func (r *REPL) parseTerms(args []string) ([]predicateindex.Term, error) {
	terms := make([]predicateindex.Term, 0, len(args))

	for _, pair := range args {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid term %q, want predicate=value", pair)
		}

		h, ok := r.resolveHandle(name)
		if !ok {
			return nil, fmt.Errorf("unknown predicate %q", name)
		}

		terms = append(terms, predicateindex.Term{Handle: h, Key: padKey(value, r.cfg.KeySize)})
	}

	return terms, nil
}

func (r *REPL) cmdAnd(args []string) {
	terms, err := r.parseTerms(args)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	sess := r.mgr.NewSession()
	defer sess.Close()

	keys, _, err := sess.And(context.Background(), terms...)
	r.printQueryResult(keys, err)
}

func (r *REPL) cmdOr(args []string) {
	terms, err := r.parseTerms(args)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	sess := r.mgr.NewSession()
	defer sess.Close()

	keys, _, err := sess.Or(context.Background(), terms...)
	r.printQueryResult(keys, err)
}

func (r *REPL) printQueryResult(keys []string, err error) {
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	if len(keys) == 0 {
		fmt.Println("(no matches)")

		return
	}

	sort.Strings(keys)

	for i, k := range keys {
		fmt.Printf("%3d. %s\n", i+1, k)
	}
}

func (r *REPL) cmdCheckpoint(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: checkpoint <dir> <token> [full|index|log]")

		return
	}

	kind := "full"
	if len(args) >= 3 {
		kind = strings.ToLower(args[2])
	}

	token := predicateindex.CheckpointToken(args[1])

	var err error

	switch kind {
	case "full":
		err = r.mgr.CheckpointFull(args[0], token)
	case "index":
		err = r.mgr.CheckpointIndex(args[0], token)
	case "log":
		err = r.mgr.CheckpointLog(args[0], token)
	default:
		fmt.Printf("Unknown checkpoint kind: %s (want full|index|log)\n", kind)

		return
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Printf("OK: %s checkpoint %q written to %s\n", kind, args[1], args[0])
}

func (r *REPL) cmdFlush(args []string) {
	evict := false
	wait := true

	for _, a := range args {
		switch strings.ToLower(a) {
		case "evict":
			evict = true
		case "wait":
			wait = true
		case "nowait":
			wait = false
		default:
			fmt.Printf("Unknown flush option: %s (want evict|wait|nowait)\n", a)

			return
		}
	}

	if evict {
		r.mgr.FlushAndEvict(wait)
	} else {
		r.mgr.Flush(wait)
	}

	fmt.Printf("OK: flush issued (evict=%v wait=%v)\n", evict, wait)
}

func (r *REPL) cmdRecover(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: recover <dir> <token>")

		return
	}

	groups, err := predicateindex.Recover(args[0], predicateindex.CheckpointToken(args[1]))
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	if len(groups) == 0 {
		fmt.Println("(empty checkpoint)")

		return
	}

	for i, g := range groups {
		fmt.Printf("%3d. predicates=%v hash_table_size=%d key_size=%d\n",
			i+1, g.Predicates, g.Settings.HashTableSize, g.Settings.KeySize)
	}
}

func (r *REPL) cmdInfo() {
	if len(r.groups) == 0 {
		fmt.Println("(no groups registered)")

		return
	}

	fmt.Printf("Checkpoint dir: %s\n", r.cfg.CheckpointDir)
	fmt.Printf("Hash table size: %d, key size: %d\n\n", r.cfg.HashTableSize, r.cfg.KeySize)

	for _, g := range r.groups {
		fmt.Printf("Group %q:\n", g.group)

		for _, p := range g.predicates {
			fmt.Printf("  - %s\n", p)
		}
	}
}
