package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/quotaguard/internal/authorization"
	"gorm.io/gorm"
)

func TestClassifySweeperJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: SweeperJobReasonDeadlineExceeded,
		},
		{
			name: "forbidden",
			err:  authorization.ErrForbidden,
			want: SweeperJobReasonForbidden,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: SweeperJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: SweeperJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: SweeperJobReasonUniqueViolation,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SweeperJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySweeperJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIsSweeperErrorRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "canceled", err: context.Canceled, want: true},
		{name: "pg_error", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "duplicate_key", err: gorm.ErrDuplicatedKey, want: true},
		{name: "record_not_found", err: gorm.ErrRecordNotFound, want: false},
		{name: "forbidden", err: authorization.ErrForbidden, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsSweeperErrorRetryable(tc.err); got != tc.want {
				t.Fatalf("expected retryable=%v, got %v", tc.want, got)
			}
		})
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSweeperMetrics(registry, Config{
		ServiceName: "quotaguard",
		Environment: "test",
	})

	metrics.AddBatchProcessed("expire_overdue", "principals_for_expiry", 3)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("expire_overdue", "principals_for_expiry"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestIncJobError_UsesClassifiedReason(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSweeperMetrics(registry, Config{
		ServiceName: "quotaguard",
		Environment: "test",
	})

	metrics.IncJobError("expire_overdue", authorization.ErrForbidden)

	got := testutil.ToFloat64(metrics.jobErrors.WithLabelValues("expire_overdue", SweeperJobReasonForbidden))
	if got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}
