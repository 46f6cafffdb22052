// SPDX-License-Identifier: Apache-2.0

package domain

import "errors"

var ErrRunNotFound = errors.New("run not found")
var ErrRunNotRunnable = errors.New("run is not runnable")
var ErrInvalidTransition = errors.New("invalid run status transition")
var ErrWorkflowNotFound = errors.New("workflow not found")
