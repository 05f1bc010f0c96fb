// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfg

import (
	"testing"

	"github.com/mitchellh/mapstructure"
	"github.com/stretchr/testify/require"
)

func decodeWithHook(t *testing.T, input map[string]any, out any) {
	t.Helper()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: DecodeHook(),
		Result:     out,
	})
	require.NoError(t, err)
	require.NoError(t, dec.Decode(input))
}

func TestDecodeHookParsesOctalFileMode(t *testing.T) {
	var fs FileSystemConfig
	decodeWithHook(t, map[string]any{"FileMode": "755"}, &fs)
	require.Equal(t, Octal(0o755), fs.FileMode)
}

func TestDecodeHookNormalizesLogSeverityCase(t *testing.T) {
	var logging LoggingConfig
	decodeWithHook(t, map[string]any{"Severity": "debug"}, &logging)
	require.Equal(t, DebugLogSeverity, logging.Severity)
}

func TestDecodeHookParsesTickIntervalDuration(t *testing.T) {
	var sched SchedulerConfig
	decodeWithHook(t, map[string]any{"TickInterval": "15ms"}, &sched)
	require.Equal(t, int64(15_000_000), sched.TickInterval.Nanoseconds())
}
