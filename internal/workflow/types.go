// Package workflow implements the report and dispute submission state machine
// for a single artwork page session.
package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// State is the workflow state tag. Exactly one state is active at a time.
type State string

const (
	StateIntake     State = "intake"
	StateAssessing  State = "assessing"
	StateReviewing  State = "reviewing"
	StateSubmitting State = "submitting"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// ParseState parses a state name as rendered in snapshots.
func ParseState(s string) (State, bool) {
	switch st := State(strings.ToLower(strings.TrimSpace(s))); st {
	case StateIntake, StateAssessing, StateReviewing, StateSubmitting, StateSucceeded, StateFailed:
		return st, true
	}
	return "", false
}

// Terminal reports whether no state-changing operation is defined from s.
func (s State) Terminal() bool {
	return s == StateSucceeded
}

// EvidenceFile is an uploaded evidence handle. The content itself lives in
// an evidence store and is referenced by Ref.
type EvidenceFile struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size"`
	Ref         string `json:"ref"`
}

// Draft is the reporter's pending submission.
type Draft struct {
	SourceURL string        `json:"sourceUrl,omitempty"`
	Evidence  *EvidenceFile `json:"evidence,omitempty"`
}

// Submittable reports whether the draft carries a URL or an evidence file.
func (d Draft) Submittable() bool {
	return strings.TrimSpace(d.SourceURL) != "" || d.Evidence != nil
}

func (d Draft) clone() Draft {
	if d.Evidence != nil {
		ev := *d.Evidence
		d.Evidence = &ev
	}
	return d
}

// HighSimilarityThreshold is the score above which the similarity criterion
// is pre-checked and the highlight is shown.
const HighSimilarityThreshold = 0.80

// Assessment is the result of comparing the protected artwork to the
// submitted evidence.
type Assessment struct {
	Score float64 `json:"score"`
}

// HighSimilarity reports whether Score is strictly above the threshold.
func (a Assessment) HighSimilarity() bool {
	return a.Score > HighSimilarityThreshold
}

// Criterion identifies one attestation checkbox.
type Criterion int

const (
	CriterionSimilarity Criterion = iota
	CriterionInfringement
	CriterionNoAuthorization
	CriterionSolvent
	CriterionReachable

	criterionCount
)

var criterionNames = [criterionCount]string{
	"similarity",
	"infringement",
	"no_authorization",
	"solvent",
	"reachable",
}

var criterionLabels = [criterionCount]string{
	"Substantial similarity exists between the protected work and the alleged infringing material",
	"The unauthorized publication constitutes IP infringement under applicable law",
	"The publisher lacks valid authorization or licensing agreement with the IP rights holder",
	"The infringing party possesses sufficient assets to satisfy potential damages award",
	"The infringing party is identifiable and subject to legal process within competent jurisdiction",
}

// Criteria returns all criteria in display order.
func Criteria() []Criterion {
	out := make([]Criterion, criterionCount)
	for i := range out {
		out[i] = Criterion(i)
	}
	return out
}

// ParseCriterion resolves a criterion by its wire name.
func ParseCriterion(name string) (Criterion, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range criterionNames {
		if n == name {
			return Criterion(i), true
		}
	}
	return 0, false
}

// Valid reports whether c is one of the five criteria.
func (c Criterion) Valid() bool {
	return c >= 0 && c < criterionCount
}

func (c Criterion) String() string {
	if !c.Valid() {
		return "unknown"
	}
	return criterionNames[c]
}

// Label is the statement the reporter affirms.
func (c Criterion) Label() string {
	if !c.Valid() {
		return ""
	}
	return criterionLabels[c]
}

// AttestationSet holds the five criteria values. It is a value type; copies
// never alias.
type AttestationSet [criterionCount]bool

// Get returns the value of c.
func (a AttestationSet) Get(c Criterion) bool {
	return c.Valid() && a[c]
}

// Count returns how many criteria are checked.
func (a AttestationSet) Count() int {
	n := 0
	for _, v := range a {
		if v {
			n++
		}
	}
	return n
}

// Map returns the set keyed by criterion name.
func (a AttestationSet) Map() map[string]bool {
	m := make(map[string]bool, criterionCount)
	for i, v := range a {
		m[criterionNames[i]] = v
	}
	return m
}

type attestationJSON struct {
	Criterion string `json:"criterion"`
	Label     string `json:"label"`
	Checked   bool   `json:"checked"`
}

// MarshalJSON renders the set as an ordered checklist.
func (a AttestationSet) MarshalJSON() ([]byte, error) {
	items := make([]attestationJSON, criterionCount)
	for i, v := range a {
		items[i] = attestationJSON{
			Criterion: criterionNames[i],
			Label:     criterionLabels[i],
			Checked:   v,
		}
	}
	return json.Marshal(items)
}

// UnmarshalJSON reads the checklist form written by MarshalJSON.
func (a *AttestationSet) UnmarshalJSON(data []byte) error {
	var items []attestationJSON
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	var out AttestationSet
	for _, item := range items {
		c, ok := ParseCriterion(item.Criterion)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownCriterion, item.Criterion)
		}
		out[c] = item.Checked
	}
	*a = out
	return nil
}

// Submission is the record handed to the arbitration backend.
type Submission struct {
	ID              string         `json:"id"`
	ArtworkID       string         `json:"artworkId"`
	ReporterAddress string         `json:"reporterAddress"`
	Attestations    AttestationSet `json:"attestations"`
	Score           float64        `json:"score"`
	SourceURL       string         `json:"sourceUrl,omitempty"`
	EvidenceRef     string         `json:"evidenceRef,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// FailureKind classifies a recorded failure.
type FailureKind string

const (
	FailureAssessment FailureKind = "assessment_failed"
	FailureSubmission FailureKind = "submission_failed"
	FailureRecap      FailureKind = "recap_failed"
)

// Failure describes the last capability failure surfaced to the reporter.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// RecapState is the side-channel recap status.
type RecapState string

const (
	RecapIdle    RecapState = "idle"
	RecapPending RecapState = "pending"
	RecapReady   RecapState = "ready"
	RecapFailed  RecapState = "failed"
)

// Recap is the side-channel state of the supplementary detail view.
type Recap struct {
	DetailOpen bool       `json:"detailOpen"`
	State      RecapState `json:"state"`
	Text       string     `json:"text,omitempty"`
	Error      *Failure   `json:"error,omitempty"`
}

// Snapshot is an immutable view of the workflow after a transition.
type Snapshot struct {
	Seq       uint64 `json:"seq"`
	ArtworkID string `json:"artworkId"`
	State     State  `json:"state"`
	// FailedFrom is the state whose capability call failed; set only in StateFailed.
	FailedFrom      State          `json:"failedFrom,omitempty"`
	Draft           *Draft         `json:"draft,omitempty"`
	Assessment      *Assessment    `json:"assessment,omitempty"`
	Attestations    AttestationSet `json:"attestations"`
	Highlight       bool           `json:"highlight"`
	Submission      *Submission    `json:"submission,omitempty"`
	RewardRecipient string         `json:"rewardRecipient,omitempty"`
	Error           *Failure       `json:"error,omitempty"`
	Recap           Recap          `json:"recap"`
}
