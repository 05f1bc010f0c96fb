// Copyright 2023 Google Inc. All Rights Reserved.
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

package klog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityString(t *testing.T) {
	cases := map[Severity]string{
		LevelTrace:   "TRACE",
		LevelDebug:   "DEBUG",
		LevelInfo:    "INFO",
		LevelWarning: "WARNING",
		LevelError:   "ERROR",
	}
	for sev, want := range cases {
		assert.Equal(t, want, sev.String())
	}
}

func TestUpdateDefaultLoggerDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		UpdateDefaultLogger("json", "test-process")
		Infof("hello %s", "world")
		UpdateDefaultLogger("text", "test-process")
	})
}

func TestSetMinSeveritySuppresses(t *testing.T) {
	var buf bytes.Buffer
	AddWriterAndRefresh(&buf, "")
	defer UpdateDefaultLogger("text", "")
	SetMinSeverity(LevelError)
	defer SetMinSeverity(LevelTrace)

	assert.NotPanics(t, func() {
		Tracef("suppressed")
		Debugf("suppressed")
		Infof("suppressed")
		Warnf("suppressed")
		Errorf("not suppressed")
	})
	assert.NotContains(t, buf.String(), `"msg":"suppressed"`)
	assert.Contains(t, buf.String(), `"msg":"not suppressed"`)
}

func TestLegacyWriterWritesThroughKlog(t *testing.T) {
	w := NewLegacyLogger(LevelInfo, "fuse: ", "test-process")
	n, err := w.Write([]byte("a legacy line"))
	assert.NoError(t, err)
	assert.Equal(t, len("a legacy line"), n)
}
