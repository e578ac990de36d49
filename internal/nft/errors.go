package nft

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

var (
	// ErrBatchClosed is returned when adding to a finalized batch.
	ErrBatchClosed = errors.New("batch is closed")
	// ErrBatchSent is returned when committing a batch a second time.
	ErrBatchSent = errors.New("batch already sent")
	// ErrBatchOpen is returned when committing a batch that was not finalized.
	ErrBatchOpen = errors.New("batch not finalized")
	// ErrNotFound is returned by single-object lookups the kernel answers with ENOENT.
	ErrNotFound = errors.New("object not found")
)

// ConfigError reports an object whose configuration is inconsistent.
type ConfigError struct {
	Object string
	Name   string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s: %s", e.Object, e.Reason)
	}
	return fmt.Sprintf("%s %q: %s", e.Object, e.Name, e.Reason)
}

func configErr(object, name, format string, args ...any) error {
	return &ConfigError{Object: object, Name: name, Reason: fmt.Sprintf(format, args...)}
}

// CapacityError is returned by Batch.Add when a message does not fit
// under the batch size limit. The batch is unchanged; start a new one.
type CapacityError struct {
	Limit int
	Used  int
	Need  int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("batch capacity exceeded: %d bytes used, %d more needed, limit %d", e.Used, e.Need, e.Limit)
}

// TransportError wraps a socket level failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("netlink %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// KernelRejection is a kernel error reply correlated to the message that
// caused it.
type KernelRejection struct {
	Ref   MessageRef
	Errno syscall.Errno
}

func (e *KernelRejection) Error() string {
	return fmt.Sprintf("kernel rejected %s (seq %d): %v", e.Ref, e.Ref.Seq, e.Errno)
}

func (e *KernelRejection) Unwrap() error { return e.Errno }

// CommitError carries every rejection of one batch, in sequence order.
type CommitError struct {
	BatchID    string
	Rejections []*KernelRejection
}

func (e *CommitError) Error() string {
	if len(e.Rejections) == 1 {
		return fmt.Sprintf("batch %s: %v", e.BatchID, e.Rejections[0])
	}
	parts := make([]string, 0, len(e.Rejections))
	for _, r := range e.Rejections {
		parts = append(parts, r.Error())
	}
	return fmt.Sprintf("batch %s: %d messages rejected: %s", e.BatchID, len(e.Rejections), strings.Join(parts, "; "))
}

// Unwrap exposes the rejections to errors.Is and errors.As.
func (e *CommitError) Unwrap() []error {
	errs := make([]error, len(e.Rejections))
	for i, r := range e.Rejections {
		errs[i] = r
	}
	return errs
}
