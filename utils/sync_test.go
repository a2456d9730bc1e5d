package utils

import "testing"

func TestStartPipeRoundTrip(t *testing.T) {
	p, err := NewStartPipe()
	if err != nil {
		t.Fatalf("NewStartPipe() error: %v", err)
	}
	defer p.Close()

	done := make(chan error, 1)
	go func() {
		done <- WorkerEnd(p.WorkerFile()).AwaitStart()
	}()

	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("AwaitStart() error: %v", err)
	}
}

func TestAwaitStartFailsOnClosedPipe(t *testing.T) {
	p, err := NewStartPipe()
	if err != nil {
		t.Fatalf("NewStartPipe() error: %v", err)
	}
	p.CloseSupervisorEnd()

	if err := WorkerEnd(p.WorkerFile()).AwaitStart(); err == nil {
		t.Fatal("expected error when supervisor end closed without a start byte")
	}
	p.CloseWorkerEnd()
}
