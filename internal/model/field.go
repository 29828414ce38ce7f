package model

import "sort"

// Field is a canonical field identifier shared by every adapter and the validator.
type Field string

// Canonical fields. Values are stable and used as JSON keys in the canonical output.
const (
	Name     Field = "Name"
	Sector   Field = "Sector"
	Industry Field = "Industry"
	Currency Field = "Currency"
	Exchange Field = "Exchange"

	Revenue            Field = "Revenue"
	GrossProfit        Field = "GrossProfit"
	OperatingIncome    Field = "OperatingIncome"
	NetIncome          Field = "NetIncome"
	EPS                Field = "EPS"
	TotalAssets        Field = "TotalAssets"
	TotalLiabilities   Field = "TotalLiabilities"
	TotalEquity        Field = "TotalEquity"
	CurrentAssets      Field = "CurrentAssets"
	CurrentLiabilities Field = "CurrentLiabilities"
	TotalDebt          Field = "TotalDebt"
	Cash               Field = "Cash"
	OperatingCashFlow  Field = "OperatingCashFlow"
	CapitalExpenditure Field = "CapitalExpenditure"
	FreeCashFlow       Field = "FreeCashFlow"
	SharesOutstanding  Field = "SharesOutstanding"

	Price           Field = "Price"
	MarketCap       Field = "MarketCap"
	PERatio         Field = "PERatio"
	PriceToBook     Field = "PriceToBook"
	ROE             Field = "ROE"
	ROA             Field = "ROA"
	DebtToEquity    Field = "DebtToEquity"
	CurrentRatio    Field = "CurrentRatio"
	GrossMargin     Field = "GrossMargin"
	OperatingMargin Field = "OperatingMargin"
	NetMargin       Field = "NetMargin"
	Beta            Field = "Beta"
	DividendYield   Field = "DividendYield"
)

// Kind distinguishes numeric fields from descriptive text fields.
type Kind int

const (
	// KindNumeric fields must parse as a float64 to be accepted.
	KindNumeric Kind = iota
	// KindText fields are accepted as trimmed strings.
	KindText
)

// Sign is the expected sign of a numeric field.
type Sign int

const (
	// SignAny allows any sign (net income, equity, growth).
	SignAny Sign = iota
	// SignNonNegative marks fields that are never negative in a sane filing.
	SignNonNegative
)

// Unit describes what a numeric value measures.
type Unit string

const (
	UnitCurrency Unit = "currency"
	UnitPerShare Unit = "per_share"
	UnitShares   Unit = "shares"
	UnitRatio    Unit = "ratio"
	UnitNone     Unit = ""
)

// FieldSpec describes a canonical field. Specs are immutable after init.
type FieldSpec struct {
	Field Field
	Kind  Kind
	Unit  Unit
	Sign  Sign
}

var fieldSpecs = map[Field]FieldSpec{
	Name:     {Field: Name, Kind: KindText},
	Sector:   {Field: Sector, Kind: KindText},
	Industry: {Field: Industry, Kind: KindText},
	Currency: {Field: Currency, Kind: KindText},
	Exchange: {Field: Exchange, Kind: KindText},

	Revenue:            {Field: Revenue, Unit: UnitCurrency, Sign: SignNonNegative},
	GrossProfit:        {Field: GrossProfit, Unit: UnitCurrency},
	OperatingIncome:    {Field: OperatingIncome, Unit: UnitCurrency},
	NetIncome:          {Field: NetIncome, Unit: UnitCurrency},
	EPS:                {Field: EPS, Unit: UnitPerShare},
	TotalAssets:        {Field: TotalAssets, Unit: UnitCurrency, Sign: SignNonNegative},
	TotalLiabilities:   {Field: TotalLiabilities, Unit: UnitCurrency, Sign: SignNonNegative},
	TotalEquity:        {Field: TotalEquity, Unit: UnitCurrency},
	CurrentAssets:      {Field: CurrentAssets, Unit: UnitCurrency, Sign: SignNonNegative},
	CurrentLiabilities: {Field: CurrentLiabilities, Unit: UnitCurrency, Sign: SignNonNegative},
	TotalDebt:          {Field: TotalDebt, Unit: UnitCurrency, Sign: SignNonNegative},
	Cash:               {Field: Cash, Unit: UnitCurrency, Sign: SignNonNegative},
	OperatingCashFlow:  {Field: OperatingCashFlow, Unit: UnitCurrency},
	CapitalExpenditure: {Field: CapitalExpenditure, Unit: UnitCurrency},
	FreeCashFlow:       {Field: FreeCashFlow, Unit: UnitCurrency},
	SharesOutstanding:  {Field: SharesOutstanding, Unit: UnitShares, Sign: SignNonNegative},

	Price:           {Field: Price, Unit: UnitPerShare, Sign: SignNonNegative},
	MarketCap:       {Field: MarketCap, Unit: UnitCurrency, Sign: SignNonNegative},
	PERatio:         {Field: PERatio, Unit: UnitRatio},
	PriceToBook:     {Field: PriceToBook, Unit: UnitRatio},
	ROE:             {Field: ROE, Unit: UnitRatio},
	ROA:             {Field: ROA, Unit: UnitRatio},
	DebtToEquity:    {Field: DebtToEquity, Unit: UnitRatio},
	CurrentRatio:    {Field: CurrentRatio, Unit: UnitRatio, Sign: SignNonNegative},
	GrossMargin:     {Field: GrossMargin, Unit: UnitRatio},
	OperatingMargin: {Field: OperatingMargin, Unit: UnitRatio},
	NetMargin:       {Field: NetMargin, Unit: UnitRatio},
	Beta:            {Field: Beta, Unit: UnitRatio},
	DividendYield:   {Field: DividendYield, Unit: UnitRatio, Sign: SignNonNegative},
}

// Spec returns the spec for a canonical field and whether it is known.
func Spec(f Field) (FieldSpec, bool) {
	s, ok := fieldSpecs[f]
	return s, ok
}

// IsKnown reports whether f is a canonical field.
func IsKnown(f Field) bool {
	_, ok := fieldSpecs[f]
	return ok
}

// AllFields returns every canonical field in sorted order.
func AllFields() []Field {
	out := make([]Field, 0, len(fieldSpecs))
	for f := range fieldSpecs {
		out = append(out, f)
	}
	SortFields(out)
	return out
}

// SortFields sorts fields lexically in place.
func SortFields(fields []Field) {
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
}

// ParseFields converts string names into canonical fields, dropping unknown names.
// The second return value lists names that were not recognised.
func ParseFields(names []string) ([]Field, []string) {
	var fields []Field
	var unknown []string
	seen := make(map[Field]bool, len(names))
	for _, n := range names {
		f := Field(n)
		if !IsKnown(f) {
			unknown = append(unknown, n)
			continue
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		fields = append(fields, f)
	}
	return fields, unknown
}
