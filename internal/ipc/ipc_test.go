package ipc

import (
	"path/filepath"
	"testing"
	"time"
)

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iris.sock")

	srv, err := Listen(path, func(msg ControlMessage) Reply {
		switch msg.Cmd {
		case CmdSay:
			return Reply{OK: true, Text: "heard: " + msg.Text}
		default:
			return Reply{Error: "unknown command"}
		}
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	reply, err := Send(path, ControlMessage{Cmd: CmdSay, Text: "open camera"}, time.Second)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !reply.OK || reply.Text != "heard: open camera" {
		t.Errorf("reply: got %+v", reply)
	}

	reply, err = Send(path, ControlMessage{Cmd: "dance"}, time.Second)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.OK || reply.Error == "" {
		t.Errorf("reply: got %+v", reply)
	}
}

func TestSendWithoutDaemon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.sock")
	if _, err := Send(path, ControlMessage{Cmd: CmdTrigger}, 100*time.Millisecond); err == nil {
		t.Error("expected an error without a listening daemon")
	}
}
