//go:build linux

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunRejectsIncompleteRequests(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "garbage", body: "{", want: "decode request"},
		{name: "no command", body: `{"RunSpec":{"WorkDir":"/tmp"}}`, want: "command is required"},
		{name: "no workdir", body: `{"RunSpec":{"Cmd":["true"]}}`, want: "work dir is required"},
		{name: "rootfs without namespaces", body: `{"RunSpec":{"Cmd":["true"],"WorkDir":"/tmp"},"Isolation":{"RootFS":"/srv/rootfs"}}`, want: "need namespaces"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := run(strings.NewReader(tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestSeccompActionNames(t *testing.T) {
	for _, name := range []string{"SCMP_ACT_ALLOW", "scmp_act_errno", "SCMP_ACT_KILL", "SCMP_ACT_KILL_PROCESS", "SCMP_ACT_KILL_THREAD"} {
		if _, err := seccompAction(name); err != nil {
			t.Fatalf("action %s: %v", name, err)
		}
	}
	if _, err := seccompAction("SCMP_ACT_TRACE"); err == nil {
		t.Fatalf("expected unsupported action error")
	}
}

func TestEnsureMountTargetMirrorsSourceKind(t *testing.T) {
	dir := t.TempDir()
	srcFile := filepath.Join(dir, "src.txt")
	if err := os.WriteFile(srcFile, []byte("x"), 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	fileTarget := filepath.Join(dir, "root", "etc", "file.txt")
	if err := ensureMountTarget(srcFile, fileTarget); err != nil {
		t.Fatalf("file target: %v", err)
	}
	if info, err := os.Stat(fileTarget); err != nil || info.IsDir() {
		t.Fatalf("expected regular file target, err=%v", err)
	}
	dirTarget := filepath.Join(dir, "root", "work")
	if err := ensureMountTarget(dir, dirTarget); err != nil {
		t.Fatalf("dir target: %v", err)
	}
	if info, err := os.Stat(dirTarget); err != nil || !info.IsDir() {
		t.Fatalf("expected directory target, err=%v", err)
	}
}
