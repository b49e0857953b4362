package probe

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/verve/pkg/flow"
	"github.com/probelab/verve/pkg/flow/flowtest"
	"github.com/probelab/verve/pkg/vclock"
)

func sliceSource[T any](values ...T) func() flow.Publisher[T] {
	return func() flow.Publisher[T] { return flow.Slice(values...) }
}

func TestVerifyCompletes(t *testing.T) {
	elapsed, err := Create(sliceSource(1, 2, 3)).
		ExpectNext(1, 2, 3).
		ExpectComplete().
		Verify()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, time.Duration(0))
}

func TestVerifyEmptyCompletes(t *testing.T) {
	_, err := Create(func() flow.Publisher[string] { return flow.Empty[string]() }).
		ExpectComplete().
		Verify()
	require.NoError(t, err)
}

func TestSignalMismatchAbortsRun(t *testing.T) {
	_, err := Create(sliceSource("a", "b")).
		ExpectNext("a", "wrong").
		ExpectComplete().
		Verify()
	require.Error(t, err)

	var verdict *VerdictError
	require.ErrorAs(t, err, &verdict)
	require.Len(t, verdict.Failures, 1)

	var mismatch *SignalMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 2, mismatch.StepIndex) // implicit subscription occupies 0
	assert.Contains(t, mismatch.Error(), "wrong")
}

func TestUnexpectedTermination(t *testing.T) {
	_, err := Create(sliceSource(1)).
		ExpectNext(1, 2).
		ExpectComplete().
		Verify()
	require.Error(t, err)

	var early *UnexpectedTerminationError
	require.ErrorAs(t, err, &early)
	assert.Contains(t, early.Signal, "complete")
}

func TestItemWhileExpectingCompleteFails(t *testing.T) {
	_, err := Create(sliceSource(1, 2)).
		ExpectNext(1).
		ExpectComplete().
		Verify()
	require.Error(t, err)

	var mismatch *SignalMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "complete", mismatch.Expected)
}

func TestExpectErrorMessage(t *testing.T) {
	_, err := Create(func() flow.Publisher[int] {
		return flow.Fail[int](errors.New("upstream exploded"))
	}).
		ExpectErrorMessage("upstream exploded").
		Verify()
	require.NoError(t, err)
}

func TestExpectErrorIs(t *testing.T) {
	sentinel := errors.New("sentinel")
	factory := func() flow.Publisher[int] {
		return flow.Fail[int](fmt.Errorf("wrapped: %w", sentinel))
	}

	_, err := Create(factory).ExpectErrorIs(sentinel).Verify()
	require.NoError(t, err)

	_, err = Create(factory).ExpectErrorIs(errors.New("other")).Verify()
	require.Error(t, err)
}

func TestExpectErrorAgainstCompletionFails(t *testing.T) {
	_, err := Create(func() flow.Publisher[int] { return flow.Empty[int]() }).
		ExpectError().
		Verify()
	require.Error(t, err)

	var mismatch *SignalMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "error", mismatch.Expected)
}

func TestConsumeNextWithFailure(t *testing.T) {
	_, err := Create(sliceSource(41)).
		ConsumeNextWith(func(v int) error {
			if v != 42 {
				return fmt.Errorf("value = %d, want 42", v)
			}
			return nil
		}).
		ExpectComplete().
		Verify()
	require.Error(t, err)

	var consumer *ConsumerAssertionError
	require.ErrorAs(t, err, &consumer)
	assert.Contains(t, consumer.Error(), "want 42")
}

func TestExpectNextCountAndSequence(t *testing.T) {
	_, err := Create(sliceSource(1, 2, 3, 4, 5)).
		ExpectNextCount(2).
		ExpectNextSequence([]int{3, 4}).
		ExpectNext(5).
		ExpectComplete().
		Verify()
	require.NoError(t, err)
}

func TestExpectNextCountZeroConsumesNothing(t *testing.T) {
	_, err := Create(sliceSource("only")).
		ExpectNextCount(0).
		ExpectNext("only").
		ExpectComplete().
		Verify()
	require.NoError(t, err)
}

func TestRecording(t *testing.T) {
	_, err := Create(sliceSource("a", "b", "c")).
		RecordWith(func() []string { return make([]string, 0) }).
		ExpectNextCount(3).
		ExpectRecordedWith(func(recorded []string) bool {
			return len(recorded) == 3 && recorded[0] == "a"
		}).
		ExpectComplete().
		Verify()
	require.NoError(t, err)
}

func TestRecordingPredicateFailure(t *testing.T) {
	_, err := Create(sliceSource(1, 2)).
		RecordWith(func() []int { return make([]int, 0) }).
		ExpectNextCount(2).
		ExpectRecordedWith(func(recorded []int) bool { return len(recorded) == 5 }).
		ExpectComplete().
		Verify()
	require.Error(t, err)

	var mismatch *SignalMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Contains(t, mismatch.Got, "2 recorded item(s)")
}

func TestNewRecordingDiscardsUnclosedSession(t *testing.T) {
	_, err := Create(sliceSource(1, 2)).
		RecordWith(func() []int { return make([]int, 0) }).
		ExpectNext(1).
		RecordWith(func() []int { return make([]int, 0) }).
		ExpectNext(2).
		ExpectRecordedWith(func(recorded []int) bool {
			return len(recorded) == 1 && recorded[0] == 2
		}).
		ExpectComplete().
		Verify()
	require.NoError(t, err)
}

func TestThenCancelReleasesSubscription(t *testing.T) {
	e := flowtest.NewEmitter[string]()
	e.Next("a")

	_, err := Create(func() flow.Publisher[string] { return e }).
		ExpectNext("a").
		ThenCancel().
		Verify()
	require.NoError(t, err)
	assert.True(t, e.Cancelled())
}

func TestInitialDemandAndThenRequest(t *testing.T) {
	e := flowtest.NewEmitter[int]()
	e.Next(1, 2)
	e.Complete()

	_, err := Create(func() flow.Publisher[int] { return e }, WithDemand(1)).
		ExpectNext(1).
		ThenRequest(1).
		ExpectNext(2).
		ExpectComplete().
		Verify()
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Requested())
}

func TestHotSourceDeliveredConcurrently(t *testing.T) {
	e := flowtest.NewEmitter[int]()
	go func() {
		e.Next(10, 20)
		e.Error(errors.New("late failure"))
	}()

	_, err := Create(func() flow.Publisher[int] { return e }).
		ExpectNext(10, 20).
		ExpectErrorMessage("late failure").
		Verify()
	require.NoError(t, err)
}

func TestVerifyIsReplayable(t *testing.T) {
	calls := 0
	v := Create(func() flow.Publisher[int] {
		calls++
		return flow.Slice(7, 8)
	}).
		ExpectNext(7, 8).
		ExpectComplete()

	for i := 0; i < 3; i++ {
		_, err := v.Verify()
		require.NoError(t, err, "run %d", i)
	}
	assert.Equal(t, 3, calls)
}

func TestVerifyTimeout(t *testing.T) {
	start := time.Now()
	_, err := Create(func() flow.Publisher[int] { return flow.Never[int]() }).
		ExpectNext(1).
		ExpectComplete().
		VerifyTimeout(50 * time.Millisecond)
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 50*time.Millisecond, timeout.Limit)
}

func TestVirtualTimeAdvancesWithoutSleeping(t *testing.T) {
	start := time.Now()
	_, err := CreateWithVirtualTime(func(v *vclock.Virtual) flow.Publisher[int] {
		return flow.Scheduled(v,
			flow.EmitAfter(0, 1),
			flow.EmitAfter(10*time.Hour, 2),
			flow.CompleteAfter[int](0),
		)
	}).
		ExpectNext(1).
		ThenAwait(10 * time.Hour).
		ExpectNext(2).
		ExpectComplete().
		Verify()
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestThenRunsOrdered(t *testing.T) {
	var seen []int
	_, err := Create(sliceSource(1, 2)).
		ExpectNext(1).
		Then(func() { seen = append(seen, len(seen)) }).
		ExpectNext(2).
		Then(func() { seen = append(seen, len(seen)) }).
		ExpectComplete().
		Verify()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, seen)
}

func TestVerdictErrorAggregates(t *testing.T) {
	_, err := Create(sliceSource(1)).
		ExpectNext(2).
		ExpectComplete().
		Verify()
	require.Error(t, err)

	var verdict *VerdictError
	require.ErrorAs(t, err, &verdict)
	assert.Greater(t, verdict.Signals, 0)
	assert.Contains(t, verdict.Error(), "verification failed")
}
