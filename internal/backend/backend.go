// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package backend spawns and supervises one per-object-type content backend
// process and speaks its per-invocation TCP/JSON protocol (spec §4.4, §6).
package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/ClusterCockpit/cc-artifactgraph/internal/workerrors"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/log"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
)

// logPipe relays a child's stdout/stderr to the application log one line at
// a time, tagged with the child's path (spec §4.4 "stdout+stderr captured
// to logs").
type logPipe struct {
	tag  string
	errs bool
}

func (p logPipe) Write(b []byte) (int, error) {
	scanner := bufio.NewScanner(bytes.NewReader(b))
	for scanner.Scan() {
		if p.errs {
			log.Errorf("%s: %s", p.tag, scanner.Text())
		} else {
			log.Infof("%s: %s", p.tag, scanner.Text())
		}
	}
	return len(b), nil
}

// State is the backend process's explicit lifecycle state (spec §9
// "wrkmgr/backend.rs-style explicit backend state machine" — the health
// check of spec §4.4 clearly implies more than a boolean up/down).
type State int

const (
	StateSpawning State = iota
	StateHealthy
	StateUnhealthy
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateHealthy:
		return "healthy"
	case StateUnhealthy:
		return "unhealthy"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// healthCheckBudget is the round-trip budget spec §4.4's health check is
// given before declaring the backend non-working.
const healthCheckBudget = 2 * time.Second

// Config describes how to spawn and reach one backend process (spec §9
// "backend process path/args/port per object type").
type Config struct {
	Path              string
	Args              []string
	Port              int
	MaxRecursionDepth int
}

// ObjectDescriptor is the `object` field of a backend request (spec §6).
type ObjectDescriptor struct {
	Org            string         `json:"org"`
	ObjectID       string         `json:"object_id"`
	ObjectType     string         `json:"object_type"`
	ObjectSubtype  *string        `json:"object_subtype,omitempty"`
	RecursionLevel int            `json:"recursion_level"`
	Size           int64          `json:"size"`
	Hashes         schema.Hashes  `json:"hashes"`
	CreatedAt      time.Time      `json:"ctime"`
}

// Request is a backend invocation's wire shape (spec §6).
type Request struct {
	Object         ObjectDescriptor       `json:"object"`
	Symbols        []string               `json:"symbols"`
	RelationMeta   map[string]interface{} `json:"relation_metadata"`
}

// ChildDescriptor is one entry of a backend reply's `children` array (spec
// §6): unlike the persisted schema.ObjectResult's children, which are full
// schema.Object nodes once materialised, a backend has not hashed or stored
// anything yet — it only knows a temp file path (or none, for a failed
// child) plus whatever symbols/metadata it wants carried forward.
type ChildDescriptor struct {
	Path         *string                `json:"path,omitempty"`
	ForceType    *string                `json:"force_type,omitempty"`
	Symbols      []string               `json:"symbols"`
	RelationMeta map[string]interface{} `json:"relation_metadata"`
}

// OkReply is the `ok` branch of a backend reply (spec §6).
type OkReply struct {
	Symbols        []string               `json:"symbols"`
	ObjectMetadata map[string]interface{} `json:"object_metadata"`
	Children       []ChildDescriptor      `json:"children"`
}

// Reply is the tagged `ok | error` backend wire reply (spec §4.4, §6),
// distinct from schema.ObjectResult because its children are descriptors,
// not materialised objects.
type Reply struct {
	Ok  *OkReply
	Err string
}

func (r *Reply) IsOk() bool { return r.Ok != nil }

func (r *Reply) UnmarshalJSON(data []byte) error {
	var probe struct {
		Ok    *OkReply `json:"ok"`
		Error *string  `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	switch {
	case probe.Error != nil:
		// spec §4.4: both keys present -> error wins.
		r.Err = *probe.Error
	case probe.Ok != nil:
		r.Ok = probe.Ok
	default:
		return fmt.Errorf("backend: reply has neither ok nor error key")
	}
	return nil
}

// Driver owns one backend child process and its TCP protocol (spec §4.4:
// "the driver owns the child process; on driver drop the child is
// terminated").
type Driver struct {
	cfg Config

	mu     sync.Mutex
	state  State
	cmd    *exec.Cmd
	waitCh chan error
}

// New returns a Driver in StateSpawning; call Start to actually spawn.
func New(cfg Config) *Driver {
	return &Driver{cfg: cfg, state: StateSpawning}
}

// Start spawns the backend binary with stdin closed and stdout/stderr
// captured to logs (spec §4.4).
func (d *Driver) Start() error {
	cmd := exec.Command(d.cfg.Path, d.cfg.Args...)
	cmd.Stdin = nil
	cmd.Stdout = logPipe{tag: d.cfg.Path}
	cmd.Stderr = logPipe{tag: d.cfg.Path, errs: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("backend: start %s: %w", d.cfg.Path, err)
	}

	waitCh := make(chan error, 1)
	d.mu.Lock()
	d.cmd = cmd
	d.state = StateHealthy
	d.waitCh = waitCh
	d.mu.Unlock()

	go func() {
		err := cmd.Wait()
		d.setState(StateDraining)
		waitCh <- err
	}()
	return nil
}

// Wait returns a channel that receives the process's exit error (nil on a
// clean exit) once it has terminated, for whatever reason (spec §4.7
// "observe that the backend exited ... terminates the loop"). Only
// meaningful after Start has returned successfully.
func (d *Driver) Wait() <-chan error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waitCh
}

// Stop terminates the child process (spec §4.4 "on driver drop the child is
// terminated").
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateDraining
	if d.cmd == nil || d.cmd.Process == nil {
		return nil
	}
	return d.cmd.Process.Kill()
}

// State reports the current lifecycle state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// roundTrip dials a fresh TCP connection, writes payload, shuts down the
// write half, and reads the reply to EOF (spec §6 "length = until EOF on
// write-half").
func (d *Driver) roundTrip(ctx context.Context, payload []byte, budget time.Duration) ([]byte, error) {
	dialer := net.Dialer{Timeout: budget}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", d.cfg.Port))
	if err != nil {
		return nil, workerrors.SoftTransient(fmt.Errorf("backend: dial: %w", err))
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(budget))

	if _, err := conn.Write(payload); err != nil {
		return nil, workerrors.SoftTransient(fmt.Errorf("backend: write: %w", err))
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}

	reply, err := io.ReadAll(conn)
	if err != nil {
		return nil, workerrors.SoftTransient(fmt.Errorf("backend: read: %w", err))
	}
	return reply, nil
}

// Invoke performs one backend request/reply round trip (spec §4.4, §6). If
// recursionLevel has already reached the configured maximum, it synthesises
// the `TOODEEP` reply instead of contacting the child (spec §4.4 "recursion
// stop").
func (d *Driver) Invoke(ctx context.Context, recursionLevel int, timeout time.Duration, req Request) (*Reply, error) {
	if recursionLevel >= d.cfg.MaxRecursionDepth {
		return &Reply{Ok: &OkReply{Symbols: []string{"TOODEEP"}, ObjectMetadata: map[string]interface{}{}}}, nil
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("backend: marshal request: %w", err)
	}

	raw, err := d.roundTrip(ctx, payload, timeout)
	if err != nil {
		return nil, err
	}

	if schema.HasBothKeys(raw) {
		log.Warnf("backend: reply for %s carried both ok and error keys, error wins", req.Object.ObjectID)
	}

	var reply Reply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, workerrors.SoftTransient(fmt.Errorf("backend: parse reply: %w", err))
	}
	return &reply, nil
}

// HealthCheck opens a fresh connection, sends the `{}` probe, and requires a
// well-formed reply within healthCheckBudget (spec §4.4). A failure
// transitions the driver to StateUnhealthy; the caller is expected to exit
// its manager loop on that, per spec.
func (d *Driver) HealthCheck(ctx context.Context) error {
	reply, err := d.roundTrip(ctx, []byte("{}"), healthCheckBudget)
	if err != nil {
		d.setState(StateUnhealthy)
		return fmt.Errorf("backend: health check: %w", err)
	}
	if !json.Valid(bytes.TrimSpace(reply)) {
		d.setState(StateUnhealthy)
		return fmt.Errorf("backend: health check: malformed reply")
	}
	d.setState(StateHealthy)
	return nil
}
