package optimize

import (
	"fmt"
	"sort"
)

// Feasibility report statuses and issue codes.
const (
	FeasibilityOK    = "ok"
	FeasibilityWarn  = "warn"
	FeasibilityError = "error"

	IssueUnknownReference         = "unknown_reference"
	IssuePrerequisiteCycle        = "prerequisite_cycle"
	IssueCapacityFloorUnreachable = "capacity_floor_unreachable"
	IssueTargetFloorUnreachable   = "target_floor_unreachable"
	IssueMandatoryExcluded        = "mandatory_excluded"
	IssueBundleMemberExcluded     = "bundle_member_excluded"
)

// Issue is one feasibility finding.
type Issue struct {
	Code     string   `json:"code"`
	Severity string   `json:"severity"` // warn | error
	Message  string   `json:"message"`
	Keys     []string `json:"keys,omitempty"`
}

// FeasibilityReport collects every static check result. A status of
// "error" means the solver must be skipped and the run marked failed.
type FeasibilityReport struct {
	Status string  `json:"status"`
	Issues []Issue `json:"issues"`
}

// CheckFeasibility runs every static pre-solver check and collects all
// issues; no check short-circuits another.
func CheckFeasibility(p *Problem) *FeasibilityReport {
	report := &FeasibilityReport{Status: FeasibilityOK}
	cs := p.Constraints

	inPool := make(map[string]bool, len(p.Candidates))
	for _, c := range p.Candidates {
		inPool[c.InitiativeKey] = true
	}
	addIssue := func(code, severity, msg string, keys ...string) {
		report.Issues = append(report.Issues, Issue{Code: code, Severity: severity, Message: msg, Keys: keys})
		if severity == "error" {
			report.Status = FeasibilityError
		} else if report.Status == FeasibilityOK {
			report.Status = FeasibilityWarn
		}
	}

	// Every referenced key must exist in the candidate pool.
	for _, key := range cs.ReferencedKeys() {
		if !inPool[key] {
			addIssue(IssueUnknownReference, "error",
				fmt.Sprintf("constraint references %s, which is not in the candidate pool", key), key)
		}
	}

	// Prerequisite graph must be acyclic.
	if cycle := findCycle(cs.Prerequisites); cycle != nil {
		addIssue(IssuePrerequisiteCycle, "error",
			fmt.Sprintf("prerequisite cycle: %v", cycle), cycle...)
	}

	// Capacity floors must be reachable even selecting every candidate
	// in the slice.
	for _, dim := range sortedDims(cs.CapacityFloors) {
		keys := make([]string, 0, len(cs.CapacityFloors[dim]))
		for k := range cs.CapacityFloors[dim] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			floor := cs.CapacityFloors[dim][key]
			var optimistic int64
			for _, c := range p.Candidates {
				if c.Dimensions[dim] == key {
					optimistic += c.EngineeringTokens
				}
			}
			if optimistic < floor {
				addIssue(IssueCapacityFloorUnreachable, "error",
					fmt.Sprintf("capacity floor %s=%s requires %d tokens but the slice can supply at most %d",
						dim, key, floor, optimistic), key)
			}
		}
	}

	// Target floors must be reachable selecting all candidates.
	for _, dim := range sortedDims3(cs.Targets) {
		byKey := cs.Targets[dim]
		keys := make([]string, 0, len(byKey))
		for k := range byKey {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			kpis := make([]string, 0, len(byKey[key]))
			for k := range byKey[key] {
				kpis = append(kpis, k)
			}
			sort.Strings(kpis)
			for _, kpi := range kpis {
				spec := byKey[key][kpi]
				if spec.Type != TargetFloor {
					continue
				}
				optimistic := 0.0
				for _, c := range p.Candidates {
					if dim == UnscopedDimension || c.Dimensions[dim] == key {
						optimistic += c.KPIContributions[kpi]
					}
				}
				if optimistic < spec.Value {
					addIssue(IssueTargetFloorUnreachable, "error",
						fmt.Sprintf("target floor %s on %s=%s requires %.4g but all candidates together reach %.4g",
							kpi, dim, key, spec.Value, optimistic), kpi)
				}
			}
		}
	}

	// A mandatory initiative cannot also be excluded.
	for _, key := range sortedSet(cs.Mandatory) {
		if cs.ExclusionInitiatives[key] {
			addIssue(IssueMandatoryExcluded, "error",
				fmt.Sprintf("%s is both mandatory and excluded", key), key)
		}
	}

	// A bundle member cannot be excluded; the bundle could never fire.
	for _, b := range cs.Bundles {
		for _, m := range b.Members {
			if cs.ExclusionInitiatives[m] {
				addIssue(IssueBundleMemberExcluded, "error",
					fmt.Sprintf("bundle %q member %s is in the exclusion list", b.Name, m), m)
			}
		}
	}

	return report
}

// findCycle detects a directed cycle in the prerequisite graph with DFS
// color marking and returns its path, or nil.
func findCycle(prereqs map[string][]string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var path []string
	var cycle []string

	var visit func(node string) bool
	visit = func(node string) bool {
		color[node] = gray
		path = append(path, node)
		for _, next := range prereqs[node] {
			switch color[next] {
			case gray:
				// Close the loop for the report.
				start := 0
				for i, n := range path {
					if n == next {
						start = i
						break
					}
				}
				cycle = append(append([]string{}, path[start:]...), next)
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[node] = black
		path = path[:len(path)-1]
		return false
	}

	nodes := make([]string, 0, len(prereqs))
	for n := range prereqs {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	for _, n := range nodes {
		if color[n] == white && visit(n) {
			return cycle
		}
	}
	return nil
}

func sortedDims(m map[string]map[string]int64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedDims3(m map[string]map[string]map[string]TargetSpec) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
