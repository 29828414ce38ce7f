package xbrl

import "github.com/sells-group/finfuse/internal/model"

// StatementConcepts lists the US-GAAP concepts read into each statement table.
// Concepts not listed here stay out of the statements but are still exposed as
// scalar values of the latest period.
var StatementConcepts = map[model.StatementKind][]string{
	model.IncomeStatement: {
		"Revenues",
		"RevenueFromContractWithCustomerExcludingAssessedTax",
		"SalesRevenueNet",
		"InterestAndDividendIncomeOperating",
		"PremiumsEarnedNet",
		"GrossProfit",
		"OperatingIncomeLoss",
		"NetIncomeLoss",
		"EarningsPerShareBasic",
		"EarningsPerShareDiluted",
	},
	model.BalanceSheet: {
		"Assets",
		"Liabilities",
		"StockholdersEquity",
		"AssetsCurrent",
		"LiabilitiesCurrent",
		"LongTermDebt",
		"CashAndCashEquivalentsAtCarryingValue",
		"Deposits",
	},
	model.CashFlowStatement: {
		"NetCashProvidedByUsedInOperatingActivities",
		"NetCashProvidedByOperatingActivities",
		"PaymentsToAcquirePropertyPlantAndEquipment",
	},
}

var conceptStatement = func() map[string]model.StatementKind {
	m := make(map[string]model.StatementKind)
	for kind, concepts := range StatementConcepts {
		for _, c := range concepts {
			m[c] = kind
		}
	}
	return m
}()

// StatementOf returns the statement table a concept belongs to.
func StatementOf(concept string) (model.StatementKind, bool) {
	k, ok := conceptStatement[concept]
	return k, ok
}
