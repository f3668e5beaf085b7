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

package process

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestStoreRejectsSecondLiveHandle(t *testing.T) {
	s := NewStore()
	first := newHandle(nil, "bin")
	require.NoError(t, s.Put(first))
	assert.True(t, s.Running())

	assert.ErrorIs(t, s.Put(newHandle(nil, "bin")), ErrHandleOccupied)
	assert.Same(t, first, s.Current())

	first.markExited(nil)
	assert.False(t, s.Running())
	second := newHandle(nil, "bin")
	require.NoError(t, s.Put(second))
	assert.Same(t, second, s.Current())
}

func TestStoreClearIfCurrentIgnoresStaleSpawn(t *testing.T) {
	s := NewStore()
	old := newHandle(nil, "bin")
	old.markExited(nil)
	require.NoError(t, s.Put(old))

	cur := newHandle(nil, "bin")
	require.NoError(t, s.Put(cur))

	assert.False(t, s.ClearIfCurrent(old.SpawnID))
	assert.Same(t, cur, s.Current())
	assert.True(t, s.ClearIfCurrent(cur.SpawnID))
	assert.Nil(t, s.Current())
	assert.Nil(t, s.Take())
}

// TestProperty_StoreNeverHoldsTwoLiveHandles runs random operation sequences
// against the store and a model of it.
func TestProperty_StoreNeverHoldsTwoLiveHandles(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewStore()
		var model *Handle
		var live []*Handle

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 3).Draw(t, "op") {
			case 0: // put
				h := newHandle(nil, "bin")
				err := s.Put(h)
				if model != nil && model.Alive() {
					if err == nil {
						t.Fatalf("put replaced a live handle")
					}
					h.markExited(nil)
				} else {
					if err != nil {
						t.Fatalf("put failed on free slot: %v", err)
					}
					model = h
					live = append(live, h)
				}
			case 1: // exit the current process
				if model != nil {
					model.markExited(nil)
				}
			case 2: // take
				got := s.Take()
				if got != model {
					t.Fatalf("take returned unexpected handle")
				}
				if got != nil {
					got.markExited(nil)
				}
				model = nil
			case 3: // exit watcher clears
				if model != nil && !model.Alive() {
					if !s.ClearIfCurrent(model.SpawnID) {
						t.Fatalf("clear of current spawn failed")
					}
					model = nil
				}
			}

			n := 0
			for _, h := range live {
				if h.Alive() {
					n++
				}
			}
			if n > 1 {
				t.Fatalf("%d live handles", n)
			}
			if s.Running() != (model != nil && model.Alive()) {
				t.Fatalf("running flag disagrees with slot")
			}
		}
	})
}

func TestLogBufferKeepsNewest(t *testing.T) {
	b := NewLogBuffer(3)
	for i, msg := range []string{"a", "b", "c", "d", "e"} {
		b.Add("stdout", i, msg)
	}

	tail := b.Tail(10)
	require.Len(t, tail, 3)
	assert.Equal(t, "c", tail[0].Message)
	assert.Equal(t, "e", tail[2].Message)
	assert.Equal(t, int64(5), tail[2].ID)

	assert.Len(t, b.Tail(2), 2)
	assert.Empty(t, b.Tail(0))
	assert.Empty(t, NewLogBuffer(0).Tail(5))
}

func TestEnvironmentContract(t *testing.T) {
	dir := filepath.Join("home", "u", ".config", "godoty")
	host := []string{
		"PATH=/usr/bin",
		"GODOT_PATH=/opt/godot",
		"XDG_CONFIG_HOME=/home/u/.config",
		"OPENCODE_CONFIG_DIR=/elsewhere",
	}

	env := Environment(dir, host)

	expect := map[string]string{
		"OPENCODE_CONFIG_FILE": filepath.Join(dir, "opencode.json"),
		"OPENCODE_CONFIG_DIR":  dir,
		"OPENCODE_DATA_DIR":    filepath.Join(dir, "data"),
		"XDG_CONFIG_HOME":      dir,
		"XDG_DATA_HOME":        filepath.Join(dir, "data"),
		"XDG_CACHE_HOME":       filepath.Join(dir, "cache"),
		"GODOT_DOC_DIR":        filepath.Join(dir, "godot_docs"),
		"GODOT_PATH":           "/opt/godot",
		"PATH":                 "/usr/bin",
	}
	for k, want := range expect {
		got, ok := LookupEnv(env, k)
		assert.True(t, ok, k)
		assert.Equal(t, want, got, k)
	}

	count := 0
	for _, kv := range env {
		if len(kv) > len("XDG_CONFIG_HOME=") && kv[:len("XDG_CONFIG_HOME=")] == "XDG_CONFIG_HOME=" {
			count++
		}
	}
	assert.Equal(t, 1, count, "overridden keys appear once")
}

func TestEnvironmentWithoutGodotPath(t *testing.T) {
	env := Environment("/c", []string{"HOME=/home/u"})
	_, ok := LookupEnv(env, GodotPathEnv)
	assert.False(t, ok)
}
