// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import "time"

// VarType is the type carried by a rule variable (spec §4.1).
type VarType int

const (
	VarBool VarType = iota
	VarInteger
	VarString
	VarPattern
	VarDatetime
)

func (t VarType) String() string {
	switch t {
	case VarBool:
		return "bool"
	case VarInteger:
		return "integer"
	case VarString:
		return "string"
	case VarPattern:
		return "pattern"
	case VarDatetime:
		return "datetime"
	default:
		return "unknown"
	}
}

// StringMod records whether a string literal used in a function argument is
// a plain equality literal, a regex, a case-insensitive regex, or a prefix
// match (spec §4.2 "Atomic predicates").
type StringMod int

const (
	StringPlain StringMod = iota
	StringRegex
	StringIRegex
	StringPrefix
)

// QueryType selects which of the three compiled-SQL shapes the Rule Compiler
// produces (spec §4.2).
type QueryType int

const (
	QuerySearch QueryType = iota
	QueryScenarioLocal
	QueryScenarioGlobal
)

func (t QueryType) String() string {
	switch t {
	case QuerySearch:
		return "search"
	case QueryScenarioLocal:
		return "scenario_local"
	case QueryScenarioGlobal:
		return "scenario_global"
	default:
		return "unknown"
	}
}

// NeighborMatches is the `matches` predicate of GlobalQuerySettings (spec §4.8 step 6).
type NeighborMatchesKind int

const (
	MatchNone NeighborMatchesKind = iota
	MatchMoreThan
	MatchMoreThanPercent
	MatchLessThan
	MatchLessThanPercent
)

type NeighborMatches struct {
	Kind NeighborMatchesKind
	// Req is the integer operand for MoreThan/LessThan.
	Req int
	// Percent is the operand for the *Percent variants, 0-100.
	Percent float64
}

// Satisfied implements the decision table of spec §4.8 step 6.
func (m NeighborMatches) Satisfied(nmatches, totalNeighbors int) bool {
	switch m.Kind {
	case MatchMoreThan:
		return nmatches > m.Req
	case MatchMoreThanPercent:
		threshold := int(m.Percent / 100 * float64(totalNeighbors))
		return nmatches > threshold
	case MatchLessThan:
		// Intentional off-by-one per spec §9 Open Question: compared as
		// nmatches <= req-1, not nmatches < req. Preserved as-is.
		return nmatches <= m.Req-1
	case MatchLessThanPercent:
		threshold := int(m.Percent/100*float64(totalNeighbors)) - 1
		return nmatches <= threshold
	case MatchNone:
		return nmatches == 0
	default:
		return false
	}
}

// Target returns the smallest nmatches value beyond which Satisfied is
// guaranteed true, used by the evaluator walk to early-exit (spec §8:
// "at most k+1 positive matches are required to return match" for MoreThan).
// Returns -1 when no finite early-exit bound exists (percent-based and
// less-than variants depend on totalNeighbors, which is only known once the
// walk completes).
func (m NeighborMatches) Target() int {
	if m.Kind == MatchMoreThan {
		return m.Req
	}
	return -1
}

// GlobalQuerySettings carries the scenario-global-only pieces of a compiled
// rule (spec §3 "Compiled Rule").
type GlobalQuerySettings struct {
	TimeWindow  time.Duration
	Matches     NeighborMatches
	MaxNeighbors *int
}

// CompiledRule is the output of the Rule Compiler (spec §3, §4.2).
type CompiledRule struct {
	WithClause          *string
	Query               string
	GlobalQuerySettings *GlobalQuerySettings
}

// Scenario is a named (local rule, optional global rule) pair producing an
// action (spec §3).
type Scenario struct {
	ID          int64      `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Creator     string     `json:"creator"`
	Description string     `json:"description"`
	ActionTag   string     `json:"action_tag"`
	VersionMin  string     `json:"version_min"`
	VersionMax  string     `json:"version_max"`
	LocalQuery  string     `json:"local_query"`
	Context     *ScenarioContext `json:"context,omitempty"`
	CreatedAt   time.Time  `db:"t"`
}

type ScenarioContext struct {
	GlobalQuery string `json:"global_query"`
	MinMatches  int    `json:"min_matches"`
	// TimeWindow is a time.ParseDuration string bounding the neighbour walk
	// on either side of the anchor work (spec §4.8 step 4). Load does not
	// check it; it is parsed when the global rule is first compiled, on the
	// scenario's first Evaluate. An unparseable or empty value makes that
	// global evaluation fail: Evaluate logs the error and records no action
	// for the scenario.
	TimeWindow string `json:"time_window"`
	// MaxNeighbors caps how many neighbours the walk inspects before
	// stopping regardless of how many are available (spec §4.8 step 4);
	// nil means the walk is bounded only by availability.
	MaxNeighbors *int `json:"max_neighbors,omitempty"`
}

// NeighborMatches derives the `matches` predicate GlobalQuerySettings needs
// from MinMatches: "at least MinMatches neighbours must satisfy the global
// rule" is MatchMoreThan with Req = MinMatches-1, since NeighborMatches'
// MoreThan variant is a strict "nmatches > Req" (spec §4.8 step 6).
func (c *ScenarioContext) NeighborMatches() NeighborMatches {
	return NeighborMatches{Kind: MatchMoreThan, Req: c.MinMatches - 1}
}

// Validate enforces the invariants named in spec §3: min_matches >= 1 when a
// context is present. Compilability of local_query/global_query is checked
// by the caller (the Rule Compiler), not here.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return errScenario("scenario name must not be empty")
	}
	if s.Context != nil && s.Context.MinMatches < 1 {
		return errScenario("scenario context.min_matches must be >= 1")
	}
	return nil
}

type scenarioError string

func (e scenarioError) Error() string { return string(e) }
func errScenario(msg string) error    { return scenarioError(msg) }

// WorkAction is one recorded action of a scenario evaluation (spec §4.8 step 7).
type WorkAction struct {
	ScenarioName string    `json:"scenario_name"`
	CreatedAt    time.Time `json:"ctime"`
	ActionTag    string    `json:"action_tag"`
}
