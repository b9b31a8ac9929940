// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrServiceUnavailable matches any ServiceUnavailableError.
	ErrServiceUnavailable = errors.New("qbittorrent unavailable")
	// ErrOperationFailed matches any OperationFailedError.
	ErrOperationFailed = errors.New("qbittorrent operation failed")

	errUnreachable = errors.New("qbittorrent not reachable")
)

// ServiceUnavailableError is returned when qBittorrent could not be reached
// even after a launch attempt. Nothing was sent to the client.
type ServiceUnavailableError struct {
	Host string
	Op   string
	Err  error
}

func (e *ServiceUnavailableError) Error() string {
	msg := fmt.Sprintf("qbittorrent at %s unavailable during %s", e.Host, e.Op)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ServiceUnavailableError) Unwrap() error { return e.Err }

func (e *ServiceUnavailableError) Is(target error) bool {
	return target == ErrServiceUnavailable
}

// OperationFailedError is returned once the retry policy is exhausted.
type OperationFailedError struct {
	Op       string
	Attempts uint
	Err      error
}

func (e *OperationFailedError) Error() string {
	return fmt.Sprintf("qbittorrent %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *OperationFailedError) Unwrap() error { return e.Err }

func (e *OperationFailedError) Is(target error) bool {
	return target == ErrOperationFailed
}

// isBanError reports login failures that retrying would only make worse.
func isBanError(err error) bool {
	if err == nil {
		return false
	}

	errorStr := strings.ToLower(err.Error())
	return strings.Contains(errorStr, "ip is banned") ||
		strings.Contains(errorStr, "too many failed login attempts") ||
		strings.Contains(errorStr, "banned") ||
		strings.Contains(errorStr, "forbidden")
}
