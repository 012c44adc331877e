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

// Package worker implements the elevated-worker IPC transport: a
// line-delimited JSON request/response protocol carried over a localhost
// TCP socket, between the unprivileged main process and a privileged
// helper process it spawns once per user session.
package worker

import "encoding/json"

// Kind is the closed set of commands the worker accepts.
type Kind string

const (
	KindFormat   Kind = "Format"
	KindClean    Kind = "Clean"
	KindAnalyze  Kind = "Analyze"
	KindConvert  Kind = "Convert"
	KindPrepare  Kind = "Prepare"
	KindPing     Kind = "Ping"
	KindShutdown Kind = "Shutdown"
)

// Status is the closed set of response outcomes.
type Status string

const (
	StatusSuccess Status = "Success"
	StatusError   Status = "Error"
)

// Command is one request line: a command kind plus its opaque parameters,
// decoded by the handler registered for that Kind.
type Command struct {
	Command Kind            `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is one reply line.
type Response struct {
	Status Status          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func successResponse(data any) (Response, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Response{}, err
	}
	return Response{Status: StatusSuccess, Data: raw}, nil
}

func errorResponse(err error) Response {
	return Response{Status: StatusError, Error: err.Error()}
}
