// Package risk classifies add-on capability sets into risk tiers.
//
// Classification is a max-reduce over a static category table, so the
// policy lives in data (Table) and the classifier stays a pure function.
// Results are never cached; callers classify the exact capability list
// they are about to approve.
package risk
