package classifier

import "regexp"

// ExportType partitions the two-reference catalog. Matching never crosses
// export types, even when two types carry byte-identical patterns.
type ExportType string

const (
	ExportTypeExpenseReport    ExportType = "expense_report"
	ExportTypeBill             ExportType = "bill"
	ExportTypeJournalEntry     ExportType = "journal_entry"
	ExportTypeCreditCardCharge ExportType = "credit_card_charge"
)

const (
	articleReferenceErrors = "https://help.ledgerlink.dev/articles/netsuite-reference-errors"
	articleFieldValues     = "https://help.ledgerlink.dev/articles/netsuite-invalid-field-values"
	articleSubsidiary      = "https://help.ledgerlink.dev/articles/netsuite-subsidiary-mapping"
	articleTaxCodes        = "https://help.ledgerlink.dev/articles/netsuite-tax-codes"
)

// singleRefTemplate matches messages that reference exactly one attribute.
// inverse marks templates whose numeric value precedes the field name in the
// capture order.
type singleRefTemplate struct {
	pattern *regexp.Regexp
	inverse bool
	article string
}

// The first template is anchored at the end of the message so that
// two-reference shapes ("... reference key 1 for entity 2") fall through to
// the catalog instead of being half-translated here.
var singleRefTemplates = []singleRefTemplate{
	{
		pattern: regexp.MustCompile(`Invalid ([\w ]+?) reference key (\d+)\.?$`),
		inverse: false,
		article: articleReferenceErrors,
	},
	{
		pattern: regexp.MustCompile(`Invalid Field Value (\d+) for the following field: (\w+)`),
		inverse: true,
		article: articleFieldValues,
	},
}

// catalogEntry is one known two-reference error shape. keys are the semantic
// attribute types zipped, in order, with the integers extracted from the
// message; patterns lists equivalent regex variants for the same shape.
type catalogEntry struct {
	name     string
	keys     [2]string
	patterns []*regexp.Regexp
	article  string
}

// twoRefCatalogs holds the per-export-type catalogs. Entries are tried in
// declaration order and the first match wins. Do not reorder: entries are
// not mutually exclusive by regex alone.
var twoRefCatalogs = map[ExportType][]catalogEntry{
	ExportTypeExpenseReport: {
		{
			name: "category_reference_error",
			keys: [2]string{"category", "employee"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid category reference key \d+ for entity \d+`),
				regexp.MustCompile(`Invalid expense category reference key \d+ for entity \d+`),
			},
			article: articleReferenceErrors,
		},
		{
			name: "currency_reference_error",
			keys: [2]string{"currency", "employee"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid currency reference key \d+ for entity \d+`),
			},
			article: articleReferenceErrors,
		},
		{
			name: "location_reference_error",
			keys: [2]string{"location", "subsidiary"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid location reference key \d+ for subsidiary \d+`),
			},
			article: articleSubsidiary,
		},
		{
			name: "department_reference_error",
			keys: [2]string{"department", "subsidiary"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid department reference key \d+ for subsidiary \d+`),
			},
			article: articleSubsidiary,
		},
		{
			name: "class_reference_error",
			keys: [2]string{"class", "subsidiary"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid class reference key \d+ for subsidiary \d+`),
			},
			article: articleSubsidiary,
		},
		{
			name: "tax_code_reference_error",
			keys: [2]string{"tax_code", "subsidiary"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid taxcode reference key \d+ for subsidiary \d+`),
			},
			article: articleTaxCodes,
		},
	},
	ExportTypeBill: {
		{
			name: "account_reference_error",
			keys: [2]string{"account", "vendor"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid account reference key \d+ for entity \d+`),
			},
			article: articleReferenceErrors,
		},
		{
			name: "currency_reference_error",
			keys: [2]string{"currency", "vendor"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid currency reference key \d+ for entity \d+`),
			},
			article: articleReferenceErrors,
		},
		{
			name: "location_reference_error",
			keys: [2]string{"location", "subsidiary"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid location reference key \d+ for subsidiary \d+`),
			},
			article: articleSubsidiary,
		},
		{
			name: "department_reference_error",
			keys: [2]string{"department", "subsidiary"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid department reference key \d+ for subsidiary \d+`),
			},
			article: articleSubsidiary,
		},
		{
			name: "class_reference_error",
			keys: [2]string{"class", "subsidiary"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid class reference key \d+ for subsidiary \d+`),
			},
			article: articleSubsidiary,
		},
		{
			name: "tax_code_reference_error",
			keys: [2]string{"tax_code", "subsidiary"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid taxcode reference key \d+ for subsidiary \d+`),
			},
			article: articleTaxCodes,
		},
	},
	ExportTypeJournalEntry: {
		{
			name: "account_reference_error",
			keys: [2]string{"account", "subsidiary"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid account reference key \d+ for subsidiary \d+`),
			},
			article: articleReferenceErrors,
		},
		{
			name: "entity_reference_error",
			keys: [2]string{"entity", "subsidiary"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid entity reference key \d+ for subsidiary \d+`),
			},
			article: articleReferenceErrors,
		},
		{
			name: "location_reference_error",
			keys: [2]string{"location", "subsidiary"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid location reference key \d+ for subsidiary \d+`),
			},
			article: articleSubsidiary,
		},
		{
			name: "department_reference_error",
			keys: [2]string{"department", "subsidiary"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid department reference key \d+ for subsidiary \d+`),
			},
			article: articleSubsidiary,
		},
		{
			name: "class_reference_error",
			keys: [2]string{"class", "subsidiary"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid class reference key \d+ for subsidiary \d+`),
			},
			article: articleSubsidiary,
		},
		{
			name: "currency_reference_error",
			keys: [2]string{"currency", "subsidiary"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid currency reference key \d+ for subsidiary \d+`),
			},
			article: articleReferenceErrors,
		},
		{
			name: "tax_code_reference_error",
			keys: [2]string{"tax_code", "subsidiary"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid taxcode reference key \d+ for subsidiary \d+`),
			},
			article: articleTaxCodes,
		},
	},
	ExportTypeCreditCardCharge: {
		{
			name: "credit_card_account_reference_error",
			keys: [2]string{"credit_card_account", "subsidiary"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid account reference key \d+ for subsidiary \d+`),
			},
			article: articleReferenceErrors,
		},
		{
			name: "entity_reference_error",
			keys: [2]string{"entity", "subsidiary"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid entity reference key \d+ for subsidiary \d+`),
			},
			article: articleReferenceErrors,
		},
		{
			name: "location_reference_error",
			keys: [2]string{"location", "subsidiary"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid location reference key \d+ for subsidiary \d+`),
			},
			article: articleSubsidiary,
		},
		{
			name: "currency_reference_error",
			keys: [2]string{"currency", "subsidiary"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid currency reference key \d+ for subsidiary \d+`),
			},
			article: articleReferenceErrors,
		},
		{
			name: "tax_code_reference_error",
			keys: [2]string{"tax_code", "subsidiary"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`Invalid taxcode reference key \d+ for subsidiary \d+`),
			},
			article: articleTaxCodes,
		},
	},
}
