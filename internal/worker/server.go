// Copyright (c) 2025 Stefano Scafiti
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
package worker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"

	"github.com/dsyntax/diskfsd/pkg/sysinfo"
)

// HandlerFunc decodes params itself (the wire shape is command-specific)
// and returns a value to be JSON-encoded as the response's data.
type HandlerFunc func(params json.RawMessage) (any, error)

// Server is the privileged-process side of the protocol: it dials the
// main process's listener, then serves commands off that one connection
// until Shutdown or the connection drops.
type Server struct {
	handlers map[Kind]HandlerFunc
}

// NewServer builds a Server with the built-in Ping handler already
// registered (Ping succeeds and carries the host's sysinfo.SysInfo unless
// the caller replaces it through Handle).
func NewServer() *Server {
	s := &Server{handlers: make(map[Kind]HandlerFunc)}
	s.Handle(KindPing, func(json.RawMessage) (any, error) {
		return sysinfo.Stat()
	})
	return s
}

// Handle registers the handler invoked for commands of the given kind,
// overriding any previous registration (including the built-in Ping).
func (s *Server) Handle(kind Kind, fn HandlerFunc) {
	s.handlers[kind] = fn
}

// Dial connects back to addr (the main process's randomly bound port) and
// returns the connection; it does not serve commands itself. Pass the
// connection to Serve to handle them.
func Dial(addr string) (net.Conn, error) {
	return net.Dial("tcp", addr)
}

// Serve reads one JSON command per line from conn and writes one JSON
// response per line back, until the connection closes or a Shutdown
// command is handled. It never returns an error for a clean EOF.
func (s *Server) Serve(conn net.Conn) error {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var cmd Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			if werr := enc.Encode(errorResponse(fmt.Errorf("malformed command: %w", err))); werr != nil {
				return werr
			}
			continue
		}

		if cmd.Command == KindShutdown {
			_ = enc.Encode(Response{Status: StatusSuccess})
			return nil
		}

		resp := s.dispatch(cmd)
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(cmd Command) Response {
	fn, ok := s.handlers[cmd.Command]
	if !ok {
		return errorResponse(fmt.Errorf("no handler registered for command %q", cmd.Command))
	}
	data, err := fn(cmd.Params)
	if err != nil {
		return errorResponse(err)
	}
	resp, err := successResponse(data)
	if err != nil {
		return errorResponse(err)
	}
	return resp
}
