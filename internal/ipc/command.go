package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// CommandType enumerates the typed commands accepted over the
// command/ack channel (spec §4.6).
type CommandType string

const (
	CommandPing             CommandType = "ping"
	CommandConfigUpdate     CommandType = "config_update"
	CommandRefreshTimelines CommandType = "refresh_timelines"
	CommandSyncSwarm        CommandType = "sync_swarm"
	CommandShutdown         CommandType = "shutdown"
)

// Command is one line-delimited JSON message read from the command FIFO.
// CorrelationID identifies this command across the async FIFO
// round-trip, mirroring tracking.Alert.ID's uuid.New() usage for
// cross-boundary message identity; assigned by Listen if the caller
// left it blank.
type Command struct {
	Type          CommandType     `json:"type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Ack is the corresponding line-delimited JSON reply on the ack FIFO,
// echoing the originating command's CorrelationID.
type Ack struct {
	Type          CommandType `json:"type"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	OK            bool        `json:"ok"`
	Error         string      `json:"error,omitempty"`
}

// CommandListener owns the named command/ack FIFO pair. Grounded on
// internal/security/events/publisher.go's NATS subject/JSON envelope
// idiom, adapted from pub/sub topics to a point-to-point file-backed
// channel per §6's "named channel" requirement.
type CommandListener struct {
	cmdPath string
	ackPath string
	cmdFile *os.File
	ackFile *os.File
}

// NewCommandListener creates (if absent) and opens the command/ack
// named pipes under dir.
func NewCommandListener(dir string) (*CommandListener, error) {
	cmdPath := filepath.Join(dir, CommandFIFOName)
	ackPath := filepath.Join(dir, AckFIFOName)

	for _, p := range []string{cmdPath, ackPath} {
		if err := unix.Mkfifo(p, 0600); err != nil && !os.IsExist(err) {
			return nil, fmt.Errorf("ipc: mkfifo %s: %w", p, err)
		}
	}

	cmdFile, err := os.OpenFile(cmdPath, os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("ipc: open command fifo: %w", err)
	}
	ackFile, err := os.OpenFile(ackPath, os.O_RDWR, 0600)
	if err != nil {
		cmdFile.Close()
		return nil, fmt.Errorf("ipc: open ack fifo: %w", err)
	}

	return &CommandListener{cmdPath: cmdPath, ackPath: ackPath, cmdFile: cmdFile, ackFile: ackFile}, nil
}

// Listen reads newline-delimited JSON commands and invokes handler for
// each, writing the resulting Ack back on the ack FIFO. Returns when
// the fifo is closed or a CommandShutdown is successfully handled.
func (c *CommandListener) Listen(handler func(Command) error) error {
	scanner := bufio.NewScanner(c.cmdFile)
	writer := bufio.NewWriter(c.ackFile)

	for scanner.Scan() {
		var cmd Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			writeAck(writer, Ack{OK: false, Error: err.Error()})
			continue
		}
		if cmd.CorrelationID == "" {
			cmd.CorrelationID = uuid.New().String()
		}

		err := handler(cmd)
		ack := Ack{Type: cmd.Type, CorrelationID: cmd.CorrelationID, OK: err == nil}
		if err != nil {
			ack.Error = err.Error()
		}
		writeAck(writer, ack)

		if cmd.Type == CommandShutdown && err == nil {
			return nil
		}
	}
	return scanner.Err()
}

func writeAck(w *bufio.Writer, ack Ack) {
	data, err := json.Marshal(ack)
	if err != nil {
		return
	}
	w.Write(data)
	w.WriteByte('\n')
	w.Flush()
}

// Close closes both FIFO file descriptors.
func (c *CommandListener) Close() error {
	var firstErr error
	if err := c.cmdFile.Close(); err != nil {
		firstErr = err
	}
	if err := c.ackFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
