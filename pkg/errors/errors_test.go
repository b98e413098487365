// Copyright 2025 The gVisor Authors.
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

package errors

import (
	goerrors "errors"
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
)

func TestIs(t *testing.T) {
	err := New(unix.ENOMEM, "no free page")
	wrapped := fmt.Errorf("fault: %w", err)
	if !goerrors.Is(wrapped, unix.ENOMEM) {
		t.Errorf("errors.Is(%v, ENOMEM) = false", wrapped)
	}
	if !goerrors.Is(wrapped, New(unix.ENOMEM, "other message")) {
		t.Errorf("errors.Is with same errno = false")
	}
	if goerrors.Is(wrapped, unix.EINVAL) {
		t.Errorf("errors.Is(%v, EINVAL) = true", wrapped)
	}
	if got := err.Errno(); got != unix.ENOMEM {
		t.Errorf("Errno() = %v, want ENOMEM", got)
	}
}
