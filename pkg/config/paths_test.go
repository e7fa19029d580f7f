// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDataDir(t *testing.T) {
	t.Run("env override", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("HEDDLE_DATA_DIR", dir)
		assert.Equal(t, dir, GetDataDir())
	})

	t.Run("relative paths become absolute", func(t *testing.T) {
		t.Setenv("HEDDLE_DATA_DIR", "relative/data")
		assert.True(t, filepath.IsAbs(GetDataDir()))
	})

	t.Run("default under home", func(t *testing.T) {
		t.Setenv("HEDDLE_DATA_DIR", "")
		dataDir := GetDataDir()
		require.NotEmpty(t, dataDir)
		assert.Equal(t, ".heddle", filepath.Base(dataDir))
	})
}

func TestGetSubDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HEDDLE_DATA_DIR", dir)
	assert.Equal(t, filepath.Join(dir, "sessions"), GetSubDir("sessions"))
}
