// pkg/cli/repl.go
package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"hbtdb/pkg/hbtdb"
	"hbtdb/pkg/tree"
)

// REPL is an interactive dot-command shell over one open hbtdb.DB,
// grounded on the teacher's REPL.Run/handleDotCommand dispatch loop.
type REPL struct {
	db     *hbtdb.DB
	shell  *Shell
	output io.Writer
	errOut io.Writer

	running       bool
	exitRequested bool

	tx     *hbtdb.Transaction
	cursor *tree.Cursor
}

// NewREPL opens dbPath and wires a shell reading from stdin.
func NewREPL(dbPath string, output, errOut io.Writer) (*REPL, error) {
	return NewREPLWithInput(dbPath, os.Stdin, output, errOut)
}

// NewREPLWithInput opens dbPath and wires a shell over the given input
// stream, useful for tests and scripted operation.
func NewREPLWithInput(dbPath string, input io.Reader, output, errOut io.Writer) (*REPL, error) {
	db, err := hbtdb.Open(dbPath, hbtdb.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &REPL{
		db:     db,
		shell:  NewShell(input, output),
		output: output,
		errOut: errOut,
	}, nil
}

// Close closes the REPL's underlying database, aborting any open
// transaction first.
func (r *REPL) Close() error {
	if r.tx != nil {
		r.db.Abort(r.tx)
		r.tx = nil
	}
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Run starts the read-dispatch loop until EOF or .exit.
func (r *REPL) Run() {
	r.running = true
	r.exitRequested = false

	fmt.Fprintln(r.output, "hbtdb version 0.1.0")
	fmt.Fprintln(r.output, "Enter \".help\" for usage hints.")

	for r.running && !r.exitRequested {
		line, eof := r.shell.ReadLine()
		if eof && line == "" {
			fmt.Fprintln(r.output)
			break
		}
		if line == "" {
			if eof {
				break
			}
			continue
		}

		r.dispatch(line)

		if eof {
			break
		}
	}
}

func (r *REPL) dispatch(line string) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return
	}

	switch strings.ToLower(parts[0]) {
	case ".exit", ".quit":
		r.exitRequested = true
	case ".help":
		r.printHelp()
	case ".begin":
		r.cmdBegin(parts[1:])
	case ".commit":
		r.cmdCommit(parts[1:])
	case ".abort":
		r.cmdAbort()
	case ".sync":
		r.cmdSync()
	case ".put":
		r.cmdPut(parts[1:])
	case ".get":
		r.cmdGet(parts[1:])
	case ".remove":
		r.cmdRemove(parts[1:])
	case ".first":
		r.cmdCursor("first", nil)
	case ".last":
		r.cmdCursor("last", nil)
	case ".next":
		r.cmdCursor("next", nil)
	case ".prev":
		r.cmdCursor("prev", nil)
	case ".seek":
		r.cmdCursor("seek", parts[1:])
	case ".seekrange":
		r.cmdCursor("seekrange", parts[1:])
	case ".stats":
		r.cmdStats()
	default:
		fmt.Fprintf(r.errOut, "Unknown command: %s\n", parts[0])
		fmt.Fprintln(r.errOut, "Use \".help\" for usage hints.")
	}
}

func (r *REPL) printHelp() {
	help := `
.begin [ro|rw]        Start a transaction (default rw)
.commit [tag]         Commit the open transaction
.abort                Abort the open transaction
.sync                 Durably sync the most recent commit
.put KEY VALUE         Insert or overwrite a key
.get KEY               Read a key's value
.remove KEY            Delete a key
.first / .last         Position a cursor at the first/last key
.next / .prev          Step a positioned cursor
.seek KEY              Exact-match cursor seek
.seekrange KEY         Cursor seek to KEY or the next greater key
.stats                 Show commit/abort/sync and I/O counters
.exit / .quit          Exit this program
`
	fmt.Fprintln(r.output, help)
}

func (r *REPL) requireTxn() *hbtdb.Transaction {
	if r.tx == nil {
		fmt.Fprintln(r.errOut, "no open transaction; use .begin first")
		return nil
	}
	return r.tx
}

func (r *REPL) cmdBegin(args []string) {
	if r.tx != nil {
		fmt.Fprintln(r.errOut, "a transaction is already open")
		return
	}
	mode := hbtdb.ReadWrite
	if len(args) > 0 && strings.EqualFold(args[0], "ro") {
		mode = hbtdb.ReadOnly
	}
	tx, err := r.db.BeginTransaction(mode)
	if err != nil {
		r.printErr(err)
		return
	}
	r.tx = tx
	r.cursor = nil
	fmt.Fprintln(r.output, "transaction started")
}

func (r *REPL) cmdCommit(args []string) {
	tx := r.requireTxn()
	if tx == nil {
		return
	}
	var tag uint64
	if len(args) > 0 {
		v, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			fmt.Fprintf(r.errOut, "invalid tag: %v\n", err)
			return
		}
		tag = v
	}
	ok, err := r.db.Commit(tx, tag)
	r.tx = nil
	r.cursor = nil
	if err != nil {
		r.printErr(err)
		return
	}
	fmt.Fprintf(r.output, "commit ok=%v\n", ok)
}

func (r *REPL) cmdAbort() {
	tx := r.requireTxn()
	if tx == nil {
		return
	}
	if err := r.db.Abort(tx); err != nil {
		r.printErr(err)
	}
	r.tx = nil
	r.cursor = nil
}

func (r *REPL) cmdSync() {
	durable, syncID, err := r.db.Sync()
	if err != nil {
		r.printErr(err)
		return
	}
	fmt.Fprintf(r.output, "durable=%v sync_id=%d\n", durable, syncID)
}

func (r *REPL) cmdPut(args []string) {
	tx := r.requireTxn()
	if tx == nil {
		return
	}
	if len(args) < 2 {
		fmt.Fprintln(r.errOut, "usage: .put KEY VALUE")
		return
	}
	if err := tx.Put([]byte(args[0]), []byte(strings.Join(args[1:], " "))); err != nil {
		r.printErr(err)
	}
}

func (r *REPL) cmdGet(args []string) {
	tx := r.requireTxn()
	if tx == nil {
		return
	}
	if len(args) < 1 {
		fmt.Fprintln(r.errOut, "usage: .get KEY")
		return
	}
	val, ok, err := tx.Get([]byte(args[0]))
	if err != nil {
		r.printErr(err)
		return
	}
	if !ok {
		fmt.Fprintln(r.output, "(not found)")
		return
	}
	fmt.Fprintln(r.output, string(val))
}

func (r *REPL) cmdRemove(args []string) {
	tx := r.requireTxn()
	if tx == nil {
		return
	}
	if len(args) < 1 {
		fmt.Fprintln(r.errOut, "usage: .remove KEY")
		return
	}
	if err := tx.Remove([]byte(args[0])); err != nil {
		r.printErr(err)
	}
}

// cmdCursor lazily creates one cursor per transaction, reused across .first/
// .last/.next/.prev/.seek/.seekrange calls until the transaction ends.
func (r *REPL) cmdCursor(op string, args []string) {
	tx := r.requireTxn()
	if tx == nil {
		return
	}
	if r.cursor == nil {
		r.cursor = tx.Cursor()
	}
	cur := r.cursor

	var err error
	switch op {
	case "first":
		err = cur.First()
	case "last":
		err = cur.Last()
	case "next":
		err = cur.Next()
	case "prev":
		err = cur.Prev()
	case "seek":
		if len(args) < 1 {
			fmt.Fprintln(r.errOut, "usage: .seek KEY")
			return
		}
		err = cur.Seek([]byte(args[0]))
	case "seekrange":
		if len(args) < 1 {
			fmt.Fprintln(r.errOut, "usage: .seekrange KEY")
			return
		}
		err = cur.SeekRange([]byte(args[0]))
	}
	if err != nil {
		r.printErr(err)
		return
	}
	if !cur.Valid() {
		fmt.Fprintln(r.output, "(invalid)")
		return
	}
	fmt.Fprintf(r.output, "%s = %s\n", cur.Key(), cur.Value())
}

func (r *REPL) cmdStats() {
	txStats, pagerStats := r.db.Stats()
	fmt.Fprintf(r.output, "commits=%d aborts=%d syncs=%d reads=%d writes=%d fsyncs=%d cache_hits=%d cache_misses=%d tree_depth=%d\n",
		txStats.Commits, txStats.Aborts, txStats.Syncs,
		pagerStats.Reads, pagerStats.Writes, pagerStats.Fsyncs,
		txStats.CacheHits, txStats.CacheMisses, txStats.TreeDepth)
}

func (r *REPL) printErr(err error) {
	fmt.Fprintf(r.errOut, "Error: %v\n", err)
}
