// Package scope decides whether a validated request falls inside a
// capability's declared remit before any downstream work is admitted.
//
// Classification is deterministic rule matching over terms declared in the
// capability registry. There is no model call and no heuristic fallback: a
// request that matches no include rule is out of scope, full stop. Failing
// closed here is what keeps undeclared traffic away from providers.
package scope
