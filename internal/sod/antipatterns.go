package sod

// antiPattern names a known toxic role combination that is flagged even when
// the catalog declares no formal incompatibility. Warnings from this table
// are advisory and never block an assignment.
type antiPattern struct {
	CodeA  string
	CodeB  string
	Name   string
	Detail string
}

// defaultAntiPatterns is the built-in advisory table. It is data, not logic,
// so compliance can review and extend it without touching the checker.
func defaultAntiPatterns() []antiPattern {
	return []antiPattern{
		{
			CodeA:  "PAYROLL_PROCESSOR",
			CodeB:  "PAYROLL_APPROVER",
			Name:   "payroll self-approval",
			Detail: "one actor can both prepare and approve payroll runs",
		},
		{
			CodeA:  "SYSTEM_ADMIN",
			CodeB:  "FINANCE_OFFICER",
			Name:   "admin with financial authority",
			Detail: "system administration combined with financial authority enables untraceable changes",
		},
		{
			CodeA:  "VENDOR_MANAGER",
			CodeB:  "PAYMENT_APPROVER",
			Name:   "vendor payment control",
			Detail: "creating vendors and approving their payments invites fictitious suppliers",
		},
		{
			CodeA:  "EXPENSE_SUBMITTER",
			CodeB:  "EXPENSE_AUDITOR",
			Name:   "expense self-audit",
			Detail: "auditing one's own expense reports conceals irregularities",
		},
	}
}
