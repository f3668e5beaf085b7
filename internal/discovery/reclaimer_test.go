/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/godoty/sidecar/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// fakeOps is an in-memory process table
type fakeOps struct {
	mu        sync.Mutex
	procs     map[int32]string
	listeners map[int][]int32
	killed    []int32
	killErr   map[int32]error
	listErr   error
}

func newFakeOps() *fakeOps {
	return &fakeOps{
		procs:     map[int32]string{},
		listeners: map[int][]int32{},
		killErr:   map[int32]error{},
	}
}

func (f *fakeOps) ListProcesses(ctx context.Context) ([]ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []ProcessInfo
	for pid, name := range f.procs {
		out = append(out, ProcessInfo{PID: pid, Name: name})
	}
	return out, nil
}

func (f *fakeOps) ProcessName(ctx context.Context, pid int32) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.procs[pid]
	if !ok {
		return "", ErrProcessGone
	}
	return name, nil
}

func (f *fakeOps) ListenerPIDs(ctx context.Context, port int) ([]int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int32(nil), f.listeners[port]...), nil
}

func (f *fakeOps) KillByPID(ctx context.Context, pid int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.killErr[pid]; err != nil {
		return err
	}
	f.killed = append(f.killed, pid)
	delete(f.procs, pid)
	for port, pids := range f.listeners {
		var kept []int32
		for _, p := range pids {
			if p != pid {
				kept = append(kept, p)
			}
		}
		f.listeners[port] = kept
	}
	return nil
}

func (f *fakeOps) KillByName(ctx context.Context, name string) error {
	return errors.New("not used")
}

func (f *fakeOps) portInUse(port int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners[port]) > 0
}

type fakePorts struct {
	ops  *fakeOps
	port int
}

func (p fakePorts) PortInUse(ctx context.Context) bool { return p.ops.portInUse(p.port) }

const testPort = 4096

func newTestReclaimer(ops *fakeOps, broad bool) *Reclaimer {
	return NewReclaimer(ops, fakePorts{ops: ops, port: testPort},
		config.SidecarConfig{Port: testPort, MatchName: "opencode"},
		config.ReclaimConfig{BroadSweep: broad},
	)
}

func TestReclaimPortFree(t *testing.T) {
	ops := newFakeOps()
	ops.procs[100] = "opencode-cli"

	report := newTestReclaimer(ops, false).Reclaim(context.Background())

	assert.True(t, report.PortFree)
	assert.Empty(t, report.Killed)
	assert.Empty(t, ops.killed, "strict mode must not sweep by name")
}

func TestReclaimKillsVerifiedPortHolder(t *testing.T) {
	ops := newFakeOps()
	ops.procs[200] = "opencode-cli"
	ops.listeners[testPort] = []int32{200}

	report := newTestReclaimer(ops, false).Reclaim(context.Background())

	assert.Equal(t, []int32{200}, ops.killed)
	require.Len(t, report.Killed, 1)
	assert.Equal(t, "opencode-cli", report.Killed[0].Name)
	assert.True(t, report.PortFree)
}

func TestReclaimLeavesUnrelatedPortHolder(t *testing.T) {
	ops := newFakeOps()
	ops.procs[300] = "nginx"
	ops.listeners[testPort] = []int32{300}

	report := newTestReclaimer(ops, true).Reclaim(context.Background())

	assert.Empty(t, ops.killed)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, SkipUnrelated, report.Skipped[0].Reason)
	assert.False(t, report.PortFree)
}

func TestReclaimSkipsUnidentifiedHolder(t *testing.T) {
	ops := newFakeOps()
	ops.listeners[testPort] = []int32{400}

	report := newTestReclaimer(ops, false).Reclaim(context.Background())

	assert.Empty(t, ops.killed)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, SkipUnidentified, report.Skipped[0].Reason)
}

func TestReclaimNeverKillsSelf(t *testing.T) {
	ops := newFakeOps()
	self := int32(os.Getpid())
	ops.procs[self] = "opencode-supervisor"
	ops.listeners[testPort] = []int32{self}

	report := newTestReclaimer(ops, true).Reclaim(context.Background())

	assert.Empty(t, ops.killed)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, SkipSelf, report.Skipped[0].Reason)
}

func TestReclaimBroadSweep(t *testing.T) {
	ops := newFakeOps()
	ops.procs[10] = "opencode-cli"
	ops.procs[11] = "opencode"
	ops.procs[12] = "bash"

	report := newTestReclaimer(ops, true).Reclaim(context.Background())

	assert.ElementsMatch(t, []int32{10, 11}, ops.killed)
	assert.Len(t, report.Killed, 2)
}

func TestReclaimRecordsKillFailure(t *testing.T) {
	ops := newFakeOps()
	ops.procs[500] = "opencode-cli"
	ops.listeners[testPort] = []int32{500}
	ops.killErr[500] = errors.New("operation not permitted")

	report := newTestReclaimer(ops, false).Reclaim(context.Background())

	assert.Empty(t, report.Killed)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, SkipKillFailed, report.Skipped[0].Reason)
	assert.False(t, report.PortFree)
}

func TestReclaimEnumerationFailureIsNotFatal(t *testing.T) {
	ops := newFakeOps()
	ops.listErr = errors.New("permission denied")

	report := newTestReclaimer(ops, true).Reclaim(context.Background())

	assert.NotEmpty(t, report.Errors)
	assert.True(t, report.PortFree)
}

func TestMatchesName(t *testing.T) {
	tests := []struct {
		name, match string
		want        bool
	}{
		{"opencode-cli", "opencode", true},
		{"OpenCode.exe", "opencode", true},
		{"node", "opencode", false},
		{"", "opencode", false},
		{"opencode", "", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.name, tt.match), func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesName(tt.name, tt.match))
		})
	}
}

// TestProperty_ReclaimerNeverKillsUnmatched tests the reclaimer safety property
// **Feature: sidecar-supervisor, Property 9: reclaimer never terminates unidentified processes**
func TestProperty_ReclaimerNeverKillsUnmatched(t *testing.T) {
	names := []string{"opencode-cli", "opencode", "node", "python3", "nginx", "godotyd", "code"}

	rapid.Check(t, func(t *rapid.T) {
		ops := newFakeOps()
		n := rapid.IntRange(0, 12).Draw(t, "procs")
		var pids []int32
		for i := 0; i < n; i++ {
			pid := int32(1000 + i)
			ops.procs[pid] = rapid.SampledFrom(names).Draw(t, fmt.Sprintf("name%d", i))
			pids = append(pids, pid)
		}
		if len(pids) > 0 {
			maxHolders := 3
			if len(pids) < maxHolders {
				maxHolders = len(pids)
			}
			holders := rapid.SliceOfNDistinct(rapid.SampledFrom(pids), 0, maxHolders, rapid.ID[int32]).Draw(t, "holders")
			ops.listeners[testPort] = holders
		}
		broad := rapid.Bool().Draw(t, "broad")

		original := make(map[int32]string, len(ops.procs))
		for pid, name := range ops.procs {
			original[pid] = name
		}

		newTestReclaimer(ops, broad).Reclaim(context.Background())

		for _, pid := range ops.killed {
			if !MatchesName(original[pid], "opencode") {
				t.Fatalf("killed pid %d named %q", pid, original[pid])
			}
		}
	})
}

func TestSystemOpsSeesCurrentProcess(t *testing.T) {
	ops := NewSystemOps()
	ctx := context.Background()
	self := int32(os.Getpid())

	name, err := ops.ProcessName(ctx, self)
	require.NoError(t, err)
	assert.NotEmpty(t, name)

	procs, err := ops.ListProcesses(ctx)
	require.NoError(t, err)
	found := false
	for _, p := range procs {
		if p.PID == self {
			found = true
			break
		}
	}
	assert.True(t, found)
}
