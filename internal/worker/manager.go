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
	"sync"
	"time"
)

// Spawner launches the privileged worker process, telling it which port
// to dial back on. It is injected rather than hard-coded to exec.Command
// so Manager's reconnect logic can be exercised against a fake worker in
// tests without actually re-executing the binary or prompting for
// elevation.
type Spawner func(port int) error

// Manager is the unprivileged main process's side of the protocol: the
// one long-lived process-wide connection to the elevated worker, guarded
// by an initialization once-gate (the listener is bound exactly once) and
// a single mutex serializing command submissions. This is the only
// global mutable state the main process carries.
type Manager struct {
	spawn Spawner

	initOnce sync.Once
	initErr  error
	ln       net.Listener

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader

	acceptTimeout time.Duration
}

// NewManager builds a Manager that launches the worker via spawn whenever
// a connection needs to be (re-)established.
func NewManager(spawn Spawner) *Manager {
	return &Manager{spawn: spawn, acceptTimeout: 30 * time.Second}
}

func (m *Manager) listener() (net.Listener, error) {
	m.initOnce.Do(func() {
		m.ln, m.initErr = net.Listen("tcp", "127.0.0.1:0")
	})
	return m.ln, m.initErr
}

// Do submits one command and waits for its response. On a dropped or
// never-established connection it respawns the worker once (prompting
// for elevation a second time, from the worker's perspective) and retries
// the command exactly once more before giving up.
func (m *Manager) Do(kind Kind, params any) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	resp, err := m.trySend(kind, params)
	if err == nil || resp.Status == StatusError {
		return resp, err
	}

	m.dropConn()
	return m.trySend(kind, params)
}

func (m *Manager) trySend(kind Kind, params any) (Response, error) {
	if err := m.ensureConn(); err != nil {
		return Response{}, err
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return Response{}, err
	}
	line, err := json.Marshal(Command{Command: kind, Params: raw})
	if err != nil {
		return Response{}, err
	}
	if _, err := m.conn.Write(append(line, '\n')); err != nil {
		return Response{}, err
	}

	replyLine, err := m.reader.ReadBytes('\n')
	if err != nil {
		return Response{}, err
	}
	var resp Response
	if err := json.Unmarshal(replyLine, &resp); err != nil {
		return Response{}, err
	}
	if resp.Status == StatusError {
		return resp, fmt.Errorf("worker: %s", resp.Error)
	}
	return resp, nil
}

func (m *Manager) ensureConn() error {
	if m.conn != nil {
		return nil
	}

	ln, err := m.listener()
	if err != nil {
		return err
	}
	port := ln.Addr().(*net.TCPAddr).Port

	if err := m.spawn(port); err != nil {
		return fmt.Errorf("spawn worker: %w", err)
	}

	if tl, ok := ln.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(m.acceptTimeout))
	}
	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("accept worker connection: %w", err)
	}
	m.conn = conn
	m.reader = bufio.NewReader(conn)
	return nil
}

func (m *Manager) dropConn() {
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
		m.reader = nil
	}
}

// Shutdown sends the Shutdown command and releases the connection. Safe
// to call when no connection was ever established.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return nil
	}
	_, err := m.trySend(KindShutdown, nil)
	m.dropConn()
	return err
}
