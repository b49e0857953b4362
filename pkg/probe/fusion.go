package probe

import "github.com/probelab/verve/pkg/flow"

// negotiateFusion performs the optional pull-mode negotiation for an
// expectFusion step. It returns the queue handle and the established mode.
func negotiateFusion[T any](sub flow.Subscription, st *step[T], index int) (flow.QueueSubscription[T], flow.FusionMode, error) {
	qs, ok := flow.AsQueueSubscription[T](sub)
	if !ok {
		return nil, flow.FusionNone, &FusionUnsupportedError{StepIndex: index, Requested: st.requested}
	}
	negotiated := qs.Negotiate(st.requested)
	if !fusionSatisfies(negotiated, st.expected) {
		return nil, negotiated, &FusionModeMismatchError{
			StepIndex:  index,
			Requested:  st.requested,
			Expected:   st.expected,
			Negotiated: negotiated,
		}
	}
	return qs, negotiated, nil
}

// verifyNoFusion checks an expectNoFusion step: the subscription must either
// lack the capability or refuse every mode.
func verifyNoFusion[T any](sub flow.Subscription, index int) error {
	qs, ok := flow.AsQueueSubscription[T](sub)
	if !ok {
		return nil
	}
	if negotiated := qs.Negotiate(flow.FusionAny); negotiated != flow.FusionNone {
		return &FusionModeMismatchError{
			StepIndex:  index,
			Requested:  flow.FusionAny,
			Expected:   flow.FusionNone,
			Negotiated: negotiated,
		}
	}
	return nil
}

// fusionSatisfies reports whether the negotiated mode meets the expectation
// mask: expecting none requires none, otherwise any overlap passes.
func fusionSatisfies(negotiated, expected flow.FusionMode) bool {
	if expected == flow.FusionNone {
		return negotiated == flow.FusionNone
	}
	return negotiated&expected != 0
}
