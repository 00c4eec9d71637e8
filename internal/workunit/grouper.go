package workunit

import "sort"

// groupingKey is the aggregation key over fetched expenses. Expenses sharing
// the key land in the same group and become one ledger object.
type groupingKey struct {
	EmployeeEmail string
	ReportID      string
	FundSource    FundSource
}

// BuildGroups partitions ungrouped expenses into expense groups. The input
// expenses must already be persisted so their ids are stable; output groups
// carry member ids and grouping fields but no database id yet.
func BuildGroups(workspaceID int64, expenses []Expense) []ExpenseGroup {
	byKey := make(map[groupingKey][]Expense)
	for _, e := range expenses {
		key := groupingKey{EmployeeEmail: e.EmployeeEmail, ReportID: e.ReportID, FundSource: e.FundSource}
		byKey[key] = append(byKey[key], e)
	}

	keys := make([]groupingKey, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].EmployeeEmail != keys[j].EmployeeEmail {
			return keys[i].EmployeeEmail < keys[j].EmployeeEmail
		}
		if keys[i].ReportID != keys[j].ReportID {
			return keys[i].ReportID < keys[j].ReportID
		}
		return keys[i].FundSource < keys[j].FundSource
	})

	groups := make([]ExpenseGroup, 0, len(keys))
	for _, key := range keys {
		members := byKey[key]
		ids := make([]int64, len(members))
		for i, e := range members {
			ids[i] = e.ID
		}
		groups = append(groups, ExpenseGroup{
			WorkspaceID:   workspaceID,
			FundSource:    key.FundSource,
			EmployeeEmail: key.EmployeeEmail,
			Description: map[string]string{
				"employee_email": key.EmployeeEmail,
				"report_id":      key.ReportID,
				"fund_source":    string(key.FundSource),
			},
			ExpenseIDs: ids,
		})
	}
	return groups
}
