package domain

// ConceptCategory is one of the nine fixed taxonomy classes that anchor
// extracted concepts. The set is closed: a candidate's category is assigned
// at creation and never reassigned.
type ConceptCategory string

const (
	CategoryRole       ConceptCategory = "role"
	CategoryState      ConceptCategory = "state"
	CategoryResource   ConceptCategory = "resource"
	CategoryPrinciple  ConceptCategory = "principle"
	CategoryObligation ConceptCategory = "obligation"
	CategoryConstraint ConceptCategory = "constraint"
	CategoryCapability ConceptCategory = "capability"
	CategoryAction     ConceptCategory = "action"
	CategoryEvent      ConceptCategory = "event"
)

// Pass identifies one of the three sequential extraction passes. Later
// passes consume entities surfaced by earlier ones, so pass ordering is
// strict per document.
type Pass int

const (
	PassContextual Pass = 1
	PassNormative  Pass = 2
	PassTemporal   Pass = 3
)

// CategoryProfile carries the per-category configuration used by the
// splitter and matcher. Categories are data, not scattered branching:
// components consult the profile instead of switching on the category name.
type CategoryProfile struct {
	Category ConceptCategory
	Pass     Pass

	// Description is injected into extraction prompts.
	Description string

	// Splittable marks categories registered for atomic decomposition.
	// SplitLengthThreshold is the minimum label length (in runes) before
	// the splitter escalates to semantic decomposition.
	Splittable           bool
	SplitLengthThreshold int

	// RootFragment is the path fragment of the category root in the
	// hierarchical entity store, appended to the configured ontology base.
	RootFragment string
}

var categoryProfiles = map[ConceptCategory]CategoryProfile{
	CategoryRole: {
		Category:     CategoryRole,
		Pass:         PassContextual,
		Description:  "a professional role or party involved in the case, such as an engineer, client, employer, or regulator",
		Splittable:   false,
		RootFragment: "Role",
	},
	CategoryState: {
		Category:             CategoryState,
		Pass:                 PassContextual,
		Description:          "a condition or situation that holds in the case, such as a conflict of interest or a safety hazard",
		Splittable:           true,
		SplitLengthThreshold: 40,
		RootFragment:         "State",
	},
	CategoryResource: {
		Category:             CategoryResource,
		Pass:                 PassContextual,
		Description:          "a tangible or intangible asset at stake, such as a design document, public funds, or proprietary data",
		Splittable:           true,
		SplitLengthThreshold: 40,
		RootFragment:         "Resource",
	},
	CategoryPrinciple: {
		Category:             CategoryPrinciple,
		Pass:                 PassNormative,
		Description:          "an ethical principle or value invoked by the case, such as honesty, public welfare, or confidentiality",
		Splittable:           true,
		SplitLengthThreshold: 30,
		RootFragment:         "Principle",
	},
	CategoryObligation: {
		Category:             CategoryObligation,
		Pass:                 PassNormative,
		Description:          "a duty owed by a role, such as the duty to report a hazard or to disclose a conflict",
		Splittable:           true,
		SplitLengthThreshold: 35,
		RootFragment:         "Obligation",
	},
	CategoryConstraint: {
		Category:             CategoryConstraint,
		Pass:                 PassNormative,
		Description:          "a restriction limiting permissible action, such as a licensing requirement or a nondisclosure agreement",
		Splittable:           true,
		SplitLengthThreshold: 35,
		RootFragment:         "Constraint",
	},
	CategoryCapability: {
		Category:     CategoryCapability,
		Pass:         PassNormative,
		Description:  "a competence or authority a role possesses, such as technical expertise or approval authority",
		Splittable:   false,
		RootFragment: "Capability",
	},
	CategoryAction: {
		Category:             CategoryAction,
		Pass:                 PassTemporal,
		Description:          "a deliberate act taken by a role in the case, such as approving a design or reporting a violation",
		Splittable:           true,
		SplitLengthThreshold: 40,
		RootFragment:         "Action",
	},
	CategoryEvent: {
		Category:     CategoryEvent,
		Pass:         PassTemporal,
		Description:  "an occurrence in the case not attributed to a deliberate act, such as a structural failure",
		Splittable:   false,
		RootFragment: "Event",
	},
}

// Categories returns all nine categories in pass order.
func Categories() []ConceptCategory {
	return []ConceptCategory{
		CategoryRole, CategoryState, CategoryResource,
		CategoryPrinciple, CategoryObligation, CategoryConstraint, CategoryCapability,
		CategoryAction, CategoryEvent,
	}
}

// CategoriesForPass returns the categories extracted during the given pass.
func CategoriesForPass(p Pass) []ConceptCategory {
	var out []ConceptCategory
	for _, c := range Categories() {
		if categoryProfiles[c].Pass == p {
			out = append(out, c)
		}
	}
	return out
}

// Passes returns the three passes in execution order.
func Passes() []Pass {
	return []Pass{PassContextual, PassNormative, PassTemporal}
}

// ProfileFor returns the configuration profile for a category.
// The bool result is false for unrecognized categories.
func ProfileFor(c ConceptCategory) (CategoryProfile, bool) {
	p, ok := categoryProfiles[c]
	return p, ok
}

// IsValidCategory reports whether c is one of the nine fixed categories.
func IsValidCategory(c ConceptCategory) bool {
	_, ok := categoryProfiles[c]
	return ok
}

// PassFor returns the extraction pass a category belongs to.
func PassFor(c ConceptCategory) Pass {
	return categoryProfiles[c].Pass
}

// IsValidPass reports whether p is one of the three extraction passes.
func IsValidPass(p Pass) bool {
	return p == PassContextual || p == PassNormative || p == PassTemporal
}
