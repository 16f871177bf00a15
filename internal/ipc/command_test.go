package ipc

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"
)

func TestListenAssignsCorrelationIDAndEchoesAck(t *testing.T) {
	dir := t.TempDir()
	listener, err := NewCommandListener(dir)
	if err != nil {
		t.Fatalf("NewCommandListener: %v", err)
	}
	defer listener.Close()

	done := make(chan error, 1)
	go func() {
		done <- listener.Listen(func(cmd Command) error {
			if cmd.CorrelationID == "" {
				t.Errorf("expected Listen to assign a correlation id")
			}
			return nil
		})
	}()

	writer, err := os.OpenFile(listener.cmdPath, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open cmd fifo for write: %v", err)
	}
	defer writer.Close()

	reader, err := os.OpenFile(listener.ackPath, os.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("open ack fifo for read: %v", err)
	}
	defer reader.Close()

	req, _ := json.Marshal(Command{Type: CommandPing})
	if _, err := writer.Write(append(req, '\n')); err != nil {
		t.Fatalf("write command: %v", err)
	}

	scanner := bufio.NewScanner(reader)
	if !scanner.Scan() {
		t.Fatalf("expected an ack line: %v", scanner.Err())
	}

	var ack Ack
	if err := json.Unmarshal(scanner.Bytes(), &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if !ack.OK || ack.Type != CommandPing {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if ack.CorrelationID == "" {
		t.Fatalf("expected ack to echo a non-empty correlation id")
	}

	shutdown, _ := json.Marshal(Command{Type: CommandShutdown})
	if _, err := writer.Write(append(shutdown, '\n')); err != nil {
		t.Fatalf("write shutdown: %v", err)
	}
	if !scanner.Scan() {
		t.Fatalf("expected a shutdown ack line: %v", scanner.Err())
	}

	if err := <-done; err != nil {
		t.Fatalf("Listen returned error: %v", err)
	}
}
