package main

import (
	"strings"
	"testing"
)

func TestReadPasswordPrefersEnv(t *testing.T) {
	t.Setenv(passwordEnv, "from-env")
	pw, err := readPassword(strings.NewReader("from-stdin\n"))
	if err != nil || pw != "from-env" {
		t.Fatalf("readPassword() = %q, %v; want from-env", pw, err)
	}
}

func TestReadPasswordFromStdin(t *testing.T) {
	t.Setenv(passwordEnv, "")
	pw, err := readPassword(strings.NewReader("hunter2\r\nignored\n"))
	if err != nil || pw != "hunter2" {
		t.Fatalf("readPassword() = %q, %v; want hunter2", pw, err)
	}
	if _, err := readPassword(strings.NewReader("")); err == nil {
		t.Fatalf("readPassword(empty) error = nil; want error")
	}
}

func TestRootHasSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{{"serve"}, {"vault", "init"}, {"vault", "add"}, {"vault", "list"}, {"vault", "import"}} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Fatalf("Find(%v) = %v, %v; want command", path, cmd, err)
		}
	}
}
