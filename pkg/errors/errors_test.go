package errors

import (
	"fmt"
	"syscall"
	"testing"

	stderrors "errors"
)

func TestNewFatalSetsCriticalSeverity(t *testing.T) {
	err := NewFatal(CodeSchemaError, "reader", "scan_header", "required column missing")
	if !err.IsFatal() {
		t.Fatal("NewFatal() should produce a critical-severity error")
	}
	if got := New(CodeParseError, "reader", "parse_line", "bad row").IsFatal(); got {
		t.Fatal("New() should not default to critical severity")
	}
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := fmt.Errorf("disk write failed")
	err := NewFatal(CodeOutputIOError, "writer", "write_nodes", "could not write output").Wrap(cause)

	if !stderrors.Is(err, cause) {
		t.Fatal("errors.Is should see through Unwrap to the wrapped cause")
	}
}

func TestErrorMessageIncludesCauseWhenPresent(t *testing.T) {
	cause := fmt.Errorf("boom")
	withCause := New(CodeParseError, "reader", "parse_line", "row rejected").Wrap(cause)
	withoutCause := New(CodeParseError, "reader", "parse_line", "row rejected")

	if withCause.Error() == withoutCause.Error() {
		t.Fatal("Error() should differ once a cause is wrapped")
	}
}

func TestWithMetadataAccumulates(t *testing.T) {
	err := New(CodeSourceIOError, "reader", "open", "cannot open file").
		WithMetadata("path", "/tmp/a.tsv").
		WithMetadata("line", 12)

	m := err.ToMap()
	if m["error_meta_path"] != "/tmp/a.tsv" || m["error_meta_line"] != 12 {
		t.Fatalf("ToMap() = %+v, missing expected metadata", m)
	}
}

func TestAsAppErrorRoundTrips(t *testing.T) {
	var err error = New(CodeValidationError, "canon", "canon_node", "empty id")
	ae, ok := AsAppError(err)
	if !ok || ae.Code != CodeValidationError {
		t.Fatalf("AsAppError() = %+v, %v", ae, ok)
	}

	if _, ok := AsAppError(fmt.Errorf("plain error")); ok {
		t.Fatal("AsAppError() should reject a non-AppError")
	}
}

func TestIsDiskFullDetectsENOSPC(t *testing.T) {
	if !IsDiskFull(syscall.ENOSPC) {
		t.Fatal("IsDiskFull() should recognize syscall.ENOSPC directly")
	}
	wrapped := NewFatal(CodeSpillIOError, "dedup", "write_partition", "spill write failed").Wrap(syscall.ENOSPC)
	if !IsDiskFull(wrapped) {
		t.Fatal("IsDiskFull() should see through AppError.Unwrap to syscall.ENOSPC")
	}
	if IsDiskFull(fmt.Errorf("unrelated")) {
		t.Fatal("IsDiskFull() should not flag an unrelated error")
	}
}
