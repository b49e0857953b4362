// Package probe implements a declarative verification engine for push-based
// streams. A test builds an ordered script of expected signals and side
// actions with the fluent builder, attaches it to a flow.Publisher, and
// Verify drives the subscription: every observed signal is matched against
// the next expected step in declaration order, demand is issued per script,
// delay-based expectations resolve through a real or virtual clock, and the
// run ends in a single pass/fail verdict with an elapsed-time measurement.
//
//	v := probe.Create(func() flow.Publisher[int] { return flow.Slice(1, 2, 3) }).
//		ExpectNext(1, 2, 3).
//		ExpectComplete()
//	elapsed, err := v.Verify()
//
// Scripts are replayable: each Verify call obtains a fresh publisher from
// the factory and runs fully independently.
package probe
