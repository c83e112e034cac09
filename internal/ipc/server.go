package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/sourcegraph/conc"
)

// Handler answers one command.
type Handler func(Command) Response

// Server accepts JSON commands on a unix socket, one command per connection.
type Server struct {
	socketPath string
	handler    Handler
	listener   *net.UnixListener
	conns      *conc.WaitGroup
}

func NewServer(socketPath string, handler Handler) *Server {
	return &Server{socketPath: socketPath, handler: handler, conns: conc.NewWaitGroup()}
}

// Listen creates the socket. A leftover socket file nobody answers on is
// removed; a live one means another daemon is running.
func (s *Server) Listen() error {
	if _, err := os.Stat(s.socketPath); err == nil {
		conn, err := net.DialTimeout("unix", s.socketPath, 1*time.Second)
		if err == nil {
			conn.Close()
			return fmt.Errorf("socket %s already active, another instance might be running", s.socketPath)
		}
		log.Printf("Stale socket file found at %s, removing.", s.socketPath)
		if err := os.Remove(s.socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket file %s: %w", s.socketPath, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("error checking socket file %s: %w", s.socketPath, err)
	}

	addr, err := net.ResolveUnixAddr("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to resolve unix addr %s: %w", s.socketPath, err)
	}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", s.socketPath, err)
	}
	s.listener = listener
	log.Printf("Listening for commands on %s", s.socketPath)
	return nil
}

// Serve accepts connections until ctx is done or the listener is closed.
func (s *Server) Serve(ctx context.Context) {
	defer log.Println("Socket command listener stopped.")
	if s.listener == nil {
		log.Println("Error: Socket listener not initialized.")
		return
	}

	stop := context.AfterFunc(ctx, func() { s.listener.Close() })
	defer stop()

	for {
		conn, err := s.listener.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("Failed to accept connection: %v", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		s.conns.Go(func() { s.handleConnection(conn) })
	}
}

func (s *Server) handleConnection(conn *net.UnixConn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var cmd Command
	if err := decoder.Decode(&cmd); err != nil {
		if err != io.EOF {
			log.Printf("Failed to decode command: %v", err)
		}
		_ = encoder.Encode(Response{Success: false, Message: "Failed to decode command: " + err.Error()})
		return
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	log.Printf("Received command: %s", cmd.Name)
	if err := encoder.Encode(s.handler(cmd)); err != nil {
		log.Printf("Failed to send response: %v", err)
	}
}

// Close stops accepting, waits for open connections and removes the socket
// file.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	var err error
	if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}
	s.conns.Wait()
	if _, statErr := os.Stat(s.socketPath); statErr == nil {
		log.Printf("Removing socket file: %s", s.socketPath)
		if rmErr := os.Remove(s.socketPath); rmErr != nil {
			log.Printf("Warning: Failed to remove socket file %s: %v", s.socketPath, rmErr)
		}
	}
	return err
}
