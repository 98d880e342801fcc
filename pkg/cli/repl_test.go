package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func runScript(t *testing.T, dbPath, script string) (string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	repl, err := NewREPLWithInput(dbPath, strings.NewReader(script), &out, &errOut)
	if err != nil {
		t.Fatalf("NewREPLWithInput: %v", err)
	}
	defer repl.Close()
	repl.Run()
	return out.String(), errOut.String()
}

func TestREPLPutGetCommit(t *testing.T) {
	dir := t.TempDir()
	script := ".begin\n.put a hello\n.commit 1\n.begin ro\n.get a\n.exit\n"
	out, errOut := runScript(t, filepath.Join(dir, "test.db"), script)
	if errOut != "" {
		t.Fatalf("unexpected stderr: %s", errOut)
	}
	if !strings.Contains(out, "hello") {
		t.Fatalf("expected output to contain the stored value, got: %s", out)
	}
}

func TestREPLRemoveThenGetMisses(t *testing.T) {
	dir := t.TempDir()
	script := ".begin\n.put a hello\n.remove a\n.get a\n.commit\n.exit\n"
	out, _ := runScript(t, filepath.Join(dir, "test.db"), script)
	if !strings.Contains(out, "(not found)") {
		t.Fatalf("expected (not found) after remove, got: %s", out)
	}
}

func TestREPLCursorFirstNext(t *testing.T) {
	dir := t.TempDir()
	script := ".begin\n.put a 1\n.put b 2\n.put c 3\n.commit\n.begin ro\n.first\n.next\n.next\n.exit\n"
	out, _ := runScript(t, filepath.Join(dir, "test.db"), script)
	if !strings.Contains(out, "a = 1") || !strings.Contains(out, "b = 2") || !strings.Contains(out, "c = 3") {
		t.Fatalf("expected a,b,c traversal in output, got: %s", out)
	}
}

func TestREPLUnknownCommand(t *testing.T) {
	dir := t.TempDir()
	_, errOut := runScript(t, filepath.Join(dir, "test.db"), ".bogus\n.exit\n")
	if !strings.Contains(errOut, "Unknown command") {
		t.Fatalf("expected unknown-command error, got: %s", errOut)
	}
}

func TestREPLGetWithoutTransactionErrors(t *testing.T) {
	dir := t.TempDir()
	_, errOut := runScript(t, filepath.Join(dir, "test.db"), ".get a\n.exit\n")
	if !strings.Contains(errOut, "no open transaction") {
		t.Fatalf("expected no-open-transaction error, got: %s", errOut)
	}
}
