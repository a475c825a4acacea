// Package models provides the structs exposed by the core package,
// but put in an independent package to break the dependency cycle
// between `core` and `db`
package models

import (
	"fmt"
	"strings"
)

// Result is the outcome of a single match
type Result string

const (
	Win  Result = "W"
	Draw Result = "D"
	Loss Result = "L"
)

// ParseResult accepts either the stored code or the display name
func ParseResult(s string) (Result, error) {
	switch strings.ToLower(s) {
	case "w", "win":
		return Win, nil
	case "d", "draw":
		return Draw, nil
	case "l", "loss":
		return Loss, nil
	}
	return "", fmt.Errorf("unknown result '%s'", s)
}

func (r Result) String() string {
	switch r {
	case Win:
		return "Win"
	case Draw:
		return "Draw"
	case Loss:
		return "Loss"
	}
	return string(r)
}

// Role is the role played in a match. The empty Role means untagged.
type Role string

const (
	Tank    Role = "T"
	Damage  Role = "D"
	Support Role = "S"
)

// Roles lists every role in display order
var Roles = []Role{Tank, Damage, Support}

// ParseRole accepts either the stored code or the display name
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "t", "tank":
		return Tank, nil
	case "d", "damage":
		return Damage, nil
	case "s", "support":
		return Support, nil
	}
	return "", fmt.Errorf("unknown role '%s'", s)
}

func (r Role) String() string {
	switch r {
	case Tank:
		return "Tank"
	case Damage:
		return "Damage"
	case Support:
		return "Support"
	}
	return string(r)
}

// Quality labels, indexed by the stored quality value
var QualityLabels = []string{
	"I should uninstall",
	"Bad",
	"Mediocre",
	"OK",
	"Decent",
	"GG!",
	"I should reinstall",
}

// Rating is a single row of the ledger as written by an append
type Rating struct {
	Username string
	Result   Result
	Role     Role   // empty when untagged
	Subject  string // empty when not tied to a map
	Quality  *int
	Time     int64 // unix seconds
}

// A RatingRow is a rating as read back from the ledger
type RatingRow struct {
	ID       int64  `db:"rating_id"`
	Username string `db:"username"`
	Result   Result `db:"result"`
	Role     Role   `db:"role"`
	Subject  string `db:"subject"`
	Quality  *int   `db:"quality"`
	Time     int64  `db:"datetime"`
}

// Filter narrows a last-N read. Zero values mean no filtering.
type Filter struct {
	Username string
	Role     Role
}

// A Checkpoint marks the last rating already folded into the stored SR
type Checkpoint struct {
	Username string `db:"username"`
	Role     Role   `db:"role"`
	RatingID int64  `db:"rating_id"`
	SR       int    `db:"sr"`
}

// ExportRow is a fully denormalized ledger row
type ExportRow struct {
	RatingID int64  `db:"rating_id"`
	Username string `db:"username"`
	Result   Result `db:"result"`
	Role     Role   `db:"role"`
	Subject  string `db:"subject"`
	Quality  *int   `db:"quality"`
	Time     int64  `db:"datetime"`
}

// RankUpdate is the outcome of a checkpoint evaluation
type RankUpdate struct {
	Role      Role
	Triggered bool
	Outcomes  []Result
	Wins      int
	Draws     int
	Losses    int
	// Delta is the SR change implied by the outcomes, applied only when Triggered
	Delta int
	// SR is the stored rating after the evaluation
	SR int
	// Projected is SR with Delta applied and kept within bounds. Equal to SR when Triggered.
	Projected int
	// LastID is the checkpoint position after the evaluation
	LastID int64
}

// Outcome is the minimal view of a rating needed for rank evaluation
type Outcome struct {
	RatingID int64  `db:"rating_id"`
	Result   Result `db:"result"`
}
