package main

import (
	"testing"
	"time"

	"github.com/processwarp/core/internal/config"
	"github.com/processwarp/core/internal/interp"
	"github.com/processwarp/core/internal/vmem"
)

type fakeBootstrap struct {
	entry vmem.VAddr
}

func (f fakeBootstrap) Load(mem *vmem.Store) (*interp.Program, vmem.VAddr, error) {
	return interp.NewProgram(), f.entry, nil
}

func TestNewNodeWiresEveryComponent(t *testing.T) {
	cfg, err := config.Load("test", []string{"-node-id", "nodeA"})
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	n := newNode(cfg)
	if n.proc == nil || n.interp == nil || n.sched == nil || n.router == nil || n.migrate == nil {
		t.Fatalf("expected every field wired, got %+v", n)
	}
}

func TestBootstrapPushesRootThreadAtEntry(t *testing.T) {
	cfg, err := config.Load("test", []string{"-node-id", "nodeA"})
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	n := newNode(cfg)

	if err := n.bootstrap(fakeBootstrap{entry: vmem.WithTag(vmem.AddrProgram, 7)}); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if !n.proc.RootAlive() {
		t.Fatalf("expected root thread to be registered after bootstrap")
	}
	root := n.proc.Threads[n.proc.RootTID]
	if root.Current() == nil || root.Current().FuncAddr != vmem.WithTag(vmem.AddrProgram, 7) {
		t.Fatalf("expected root frame's FuncAddr to be the loaded entry point")
	}
}

func TestRunReturnsWhenNoThreadIsRunnable(t *testing.T) {
	cfg, err := config.Load("test", []string{"-node-id", "nodeA"})
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	n := newNode(cfg)

	// newNode registers the process directory entry but never pushes a
	// root thread, so RootAlive is false and run must return on its
	// first iteration rather than spin forever.
	done := make(chan struct{})
	go func() {
		n.run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("run did not return for a process with no root thread")
	}
}
