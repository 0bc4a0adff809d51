package main

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mash-protocol/ktls-go/pkg/reactor"
)

// sendFileCommand asks the server to stream a file from its root.
const sendFileCommand = "SENDFILE"

var errBadName = errors.New("invalid file name")

// fileServer echoes messages back, except for "SENDFILE <name>" which streams
// the named file from root with zero-copy sendfile.
type fileServer struct {
	root   string
	logger *slog.Logger
}

func newFileServer(root string, logger *slog.Logger) *fileServer {
	return &fileServer{root: root, logger: logger}
}

// OnMessage implements reactor.Handler.
func (s *fileServer) OnMessage(c *reactor.Conn, msg []byte) {
	name, ok := parseSendFile(msg)
	if !ok {
		if _, err := c.Write(msg); err != nil {
			s.logger.Debug("echo failed", "conn_id", c.ConnID(), "error", err)
			c.Close()
		}
		return
	}

	n, err := s.sendFile(c, name)
	if err != nil {
		s.logger.Info("sendfile failed", "conn_id", c.ConnID(), "file", name, "sent", n, "error", err)
		if n == 0 {
			_, _ = c.Write([]byte(fmt.Sprintf("ERR %v\n", err)))
			return
		}
		// A partial transfer leaves the stream unframed.
		c.Close()
		return
	}
	s.logger.Debug("sendfile complete", "conn_id", c.ConnID(), "file", name, "bytes", n)
}

func (s *fileServer) sendFile(c *reactor.Conn, name string) (int64, error) {
	f, size, err := openInRoot(s.root, name)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	return c.SendFile(f, 0, size)
}

// parseSendFile returns the file name of a SENDFILE command. Trailing line
// endings are ignored.
func parseSendFile(msg []byte) (string, bool) {
	msg = bytes.TrimRight(msg, "\r\n")
	cmd, name, found := bytes.Cut(msg, []byte{' '})
	if !found || string(cmd) != sendFileCommand {
		return "", false
	}
	name = bytes.TrimSpace(name)
	if len(name) == 0 {
		return "", false
	}
	return string(name), true
}

// openInRoot opens a regular file below root and returns its size. Names
// that leave root are rejected.
func openInRoot(root, name string) (*os.File, int64, error) {
	if !filepath.IsLocal(name) {
		return nil, 0, fmt.Errorf("%w: %q", errBadName, name)
	}
	f, err := os.OpenInRoot(root, name)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, 0, fmt.Errorf("%w: %q is not a regular file", errBadName, name)
	}
	return f, info.Size(), nil
}

var _ reactor.Handler = (*fileServer)(nil)
