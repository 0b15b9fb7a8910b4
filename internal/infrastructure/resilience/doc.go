/*
Package resilience provides the circuit breaker that guards calls to the
remote add-on store.

A breaker starts closed. Failed calls accumulate until ReadyToTrip opens
it; while open every call fails with ErrCircuitOpen. After Timeout a
limited number of trial calls run half-open and either close the breaker
or open it again.

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           v
	                                         Open

Settings.IsSuccessful lets callers count expected errors, such as a 404
from the catalog, as successes. Calls abandoned by their own context are
not held against the dependency.

	listing, err := resilience.Do(ctx, breaker, func(ctx context.Context) (*Listing, error) {
		return fetch(ctx)
	})
*/
package resilience
