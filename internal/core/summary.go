package core

// Totals holds income and expense sums for a period.
type Totals struct {
	Income  Money `json:"income"`
	Expense Money `json:"expense"`
}

// Net returns income minus expense.
func (t Totals) Net() Money {
	return t.Income.Sub(t.Expense)
}

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string `json:"category"`
	Amount Money  `json:"amount"`
}

// MonthBucket is one calendar month of the income/expense time series.
type MonthBucket struct {
	Key     string `json:"key"` // YYYY-MM
	Label   string `json:"label"`
	Income  Money  `json:"income"`
	Expense Money  `json:"expense"`
}

// Dashboard is the headline view of the ledger.
type Dashboard struct {
	Balance            Money `json:"balance"`
	MonthlyIncome      Money `json:"monthlyIncome"`
	MonthlyExpense     Money `json:"monthlyExpense"`
	InvestmentValue    Money `json:"investmentValue"`
	MaterialGoodsValue Money `json:"materialGoodsValue"`
}
