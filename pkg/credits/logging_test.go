package credits

import (
	"context"
	"testing"
)

type recordingLogger struct {
	entries []OperationLog
}

func (logger *recordingLogger) LogOperation(ctx context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

func TestServiceReportsOperationOutcomes(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.seedAccount(test, "u1", 0)
	logger := &recordingLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))

	grant := mustGrant(test, "u1", "cs_log", 10)
	if _, err := service.Apply(context.Background(), grant); err != nil {
		test.Fatalf("apply: %v", err)
	}
	if _, err := service.Apply(context.Background(), grant); err != nil {
		test.Fatalf("reapply: %v", err)
	}
	if _, err := service.Apply(context.Background(), mustGrant(test, "missing", "cs_miss", 1)); err == nil {
		test.Fatalf("expected failure for unknown user")
	}

	if len(logger.entries) != 3 {
		test.Fatalf("expected 3 log entries, got %d", len(logger.entries))
	}
	statuses := []string{logger.entries[0].Status, logger.entries[1].Status, logger.entries[2].Status}
	expected := []string{operationStatusOK, operationStatusDuplicate, operationStatusError}
	for index := range expected {
		if statuses[index] != expected[index] {
			test.Fatalf("entry %d: expected status %q, got %q", index, expected[index], statuses[index])
		}
	}
	if logger.entries[0].Operation != operationApply || logger.entries[0].SessionID.String() != "cs_log" {
		test.Fatalf("unexpected first entry: %+v", logger.entries[0])
	}
}
