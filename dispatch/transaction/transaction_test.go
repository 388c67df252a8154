//go:build unit

package transaction

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestParseOperation(t *testing.T) {
	t.Parallel()

	op, err := ParseOperation(" patch ")
	require.NoError(t, err)
	assert.Equal(t, OperationPatch, op)

	_, err = ParseOperation("PUT")
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
}

func TestNewID_IsUUIDv7(t *testing.T) {
	t.Parallel()

	id := NewID()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, id, NewID())
}

func TestRequest_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     Request
		wantErr []error
	}{
		{name: "valid", req: Request{Operation: "GET", Target: "users"}},
		{name: "bad verb", req: Request{Operation: "PUT", Target: "users"}, wantErr: []error{ErrUnsupportedOperation}},
		{name: "empty target", req: Request{Operation: "GET", Target: "  "}, wantErr: []error{ErrEmptyTarget}},
		{name: "negative timeout", req: Request{Operation: "GET", Target: "t", Timeout: -time.Second}, wantErr: []error{ErrNegativeTimeout}},
		{name: "negative retries", req: Request{Operation: "GET", Target: "t", MaxRetries: intPtr(-1)}, wantErr: []error{ErrNegativeMaxRetries}},
		{name: "duplicate dependency", req: Request{Operation: "GET", Target: "t", Dependencies: []string{"a", "a"}}, wantErr: []error{ErrDuplicateDependency}},
		{name: "joined", req: Request{Operation: "nope"}, wantErr: []error{ErrUnsupportedOperation, ErrEmptyTarget}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.req.Validate()
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}

			for _, want := range tt.wantErr {
				assert.ErrorIs(t, err, want)
			}
		})
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tx := New("tx-1", Request{Operation: "post", Target: " users ", Metadata: map[string]any{"k": "v"}}, 3, now)

	assert.Equal(t, OperationPost, tx.Operation)
	assert.Equal(t, "users", tx.Target)
	assert.Equal(t, StatusPending, tx.Status)
	assert.Equal(t, DefaultPriority, tx.Priority)
	assert.Equal(t, DefaultTimeout, tx.Timeout)
	assert.Equal(t, 3, tx.MaxRetries)
	assert.Equal(t, now, tx.CreatedAt)
	assert.Equal(t, now, tx.UpdatedAt)
	assert.Empty(t, tx.History)
}

func TestNew_ZeroPrioritySelectsDefault(t *testing.T) {
	t.Parallel()

	zero := New("tx-1", Request{Operation: "GET", Target: "users", Priority: 0}, 3, time.Now())
	one := New("tx-2", Request{Operation: "GET", Target: "users", Priority: 1}, 3, time.Now())
	below := New("tx-3", Request{Operation: "GET", Target: "users", Priority: -1}, 3, time.Now())

	assert.Equal(t, DefaultPriority, zero.Priority)
	assert.Equal(t, one.Priority, zero.Priority, "an explicit zero is indistinguishable from the default")
	assert.Less(t, below.Priority, zero.Priority)
}

func TestNew_RequestOverrides(t *testing.T) {
	t.Parallel()

	tx := New("tx-1", Request{
		Operation:  "GET",
		Target:     "users",
		Priority:   -2,
		Timeout:    time.Second,
		MaxRetries: intPtr(0),
	}, 3, time.Now())

	assert.Equal(t, -2, tx.Priority)
	assert.Equal(t, time.Second, tx.Timeout)
	assert.Equal(t, 0, tx.MaxRetries)
}

func TestNew_ReferencesBecomeDependencies(t *testing.T) {
	t.Parallel()

	tx := New("tx-2", Request{
		Operation:    "POST",
		Target:       "orders",
		Payload:      Values{"user_id": Ref("tx-1", "id"), "at": Now()},
		Query:        Values{"parent": Ref("tx-0", "id")},
		Dependencies: []string{"tx-0"},
	}, 3, time.Now())

	assert.Equal(t, []string{"tx-0", "tx-1"}, tx.Dependencies)
}

func TestTransaction_TransitionRecordsHistory(t *testing.T) {
	t.Parallel()

	t0 := time.Now()
	tx := New("tx-1", Request{Operation: "GET", Target: "users"}, 3, t0)

	require.NoError(t, tx.Transition(StatusProcessing, t0.Add(time.Second), ""))
	require.NoError(t, tx.Transition(StatusRetrying, t0.Add(2*time.Second), "timeout"))
	require.NoError(t, tx.Transition(StatusProcessing, t0.Add(3*time.Second), ""))
	require.NoError(t, tx.Complete([]any{map[string]any{"id": 1}}, t0.Add(4*time.Second)))

	require.Len(t, tx.History, 4)
	assert.Equal(t, HistoryEntry{From: StatusProcessing, To: StatusRetrying, At: t0.Add(2 * time.Second), Reason: "timeout"}, tx.History[1])
	assert.Equal(t, t0.Add(4*time.Second), tx.UpdatedAt)
	assert.NotNil(t, tx.Result)
	assert.Empty(t, tx.Error)

	started, ok := tx.ProcessingStartedAt()
	require.True(t, ok)
	assert.Equal(t, t0.Add(3*time.Second), started)
}

func TestTransaction_RejectsInvalidTransition(t *testing.T) {
	t.Parallel()

	tx := New("tx-1", Request{Operation: "GET", Target: "users"}, 3, time.Now())

	err := tx.Complete("x", time.Now())
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Nil(t, tx.Result)
	assert.Equal(t, StatusPending, tx.Status)

	require.NoError(t, tx.Transition(StatusCancelled, time.Now(), ""))
	assert.ErrorIs(t, tx.Transition(StatusProcessing, time.Now(), ""), ErrInvalidTransition)
	assert.ErrorIs(t, tx.Fail(ErrorKindPermanent, "x", "y", time.Now()), ErrInvalidTransition)
	assert.Empty(t, tx.Error)
}

func TestTransaction_Fail(t *testing.T) {
	t.Parallel()

	tx := New("tx-1", Request{Operation: "GET", Target: "users"}, 3, time.Now())

	require.NoError(t, tx.Fail(ErrorKindDependency, "dependency", "dependency failed", time.Now()))
	assert.Equal(t, StatusFailed, tx.Status)
	assert.Equal(t, ErrorKindDependency, tx.ErrorKind)
	assert.Equal(t, "dependency failed", tx.Error)
	assert.Nil(t, tx.Result)
}

func TestTransaction_SnapshotIsIndependent(t *testing.T) {
	t.Parallel()

	tx := New("tx-1", Request{
		Operation:    "GET",
		Target:       "users",
		Query:        Values{"id": Literal("a")},
		Dependencies: []string{"dep"},
		Metadata:     map[string]any{"owner": "billing"},
	}, 3, time.Now())

	snap := tx.Snapshot()

	require.NoError(t, tx.Transition(StatusProcessing, time.Now(), ""))
	tx.Query["id"] = Literal("b")
	tx.Metadata["owner"] = "other"
	tx.Dependencies[0] = "changed"

	assert.Equal(t, StatusPending, snap.Status)
	assert.Empty(t, snap.History)
	assert.Equal(t, "a", snap.Query["id"].Literal())
	assert.Equal(t, "billing", snap.Metadata["owner"])
	assert.Equal(t, []string{"dep"}, snap.Dependencies)
}
