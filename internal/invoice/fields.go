package invoice

// Target field names emitted in Result.Fields.
const (
	FieldRUC           = "ruc"
	FieldCompanyName   = "company_name"
	FieldInvoiceNumber = "invoice_number"
	FieldDate          = "date"
	FieldSubtotal      = "subtotal"
	FieldTax           = "iva"
	FieldTotal         = "total"
)

// TargetFields lists every field the engine tries to fill, in output order.
var TargetFields = []string{
	FieldRUC,
	FieldCompanyName,
	FieldInvoiceNumber,
	FieldDate,
	FieldSubtotal,
	FieldTax,
	FieldTotal,
}

// MoneyFields are the fields taking part in the arithmetic cross-check.
var MoneyFields = []string{FieldSubtotal, FieldTax, FieldTotal}

// IsMoneyField reports whether field holds a monetary amount.
func IsMoneyField(field string) bool {
	for _, f := range MoneyFields {
		if f == field {
			return true
		}
	}
	return false
}

// Detection class vocabulary.
const (
	ClassIdentifier    = "identifier"
	ClassCompanyName   = "company_name"
	ClassInvoiceNumber = "invoice_number"
	ClassDate          = "date"
	ClassDescription   = "description"
	ClassQuantity      = "quantity"
	ClassUnitPrice     = "unit_price"
	ClassTotalPrice    = "total_price"
	ClassSubtotal      = "subtotal"
	ClassTax           = "tax"
)

// Vocabulary is the closed set of detection classes.
var Vocabulary = []string{
	ClassIdentifier,
	ClassCompanyName,
	ClassInvoiceNumber,
	ClassDate,
	ClassDescription,
	ClassQuantity,
	ClassUnitPrice,
	ClassTotalPrice,
	ClassSubtotal,
	ClassTax,
}

var classToField = map[string]string{
	ClassIdentifier:    FieldRUC,
	ClassCompanyName:   FieldCompanyName,
	ClassInvoiceNumber: FieldInvoiceNumber,
	ClassDate:          FieldDate,
	ClassSubtotal:      FieldSubtotal,
	ClassTax:           FieldTax,
}

// FieldForClass maps a header detection class to its target field.
func FieldForClass(class string) (string, bool) {
	f, ok := classToField[class]
	return f, ok
}

// IsLineItemClass reports whether class labels a line-item column.
func IsLineItemClass(class string) bool {
	switch class {
	case ClassDescription, ClassQuantity, ClassUnitPrice, ClassTotalPrice:
		return true
	}
	return false
}

// IsHeaderClass reports whether class labels a non-item header or footer field.
func IsHeaderClass(class string) bool {
	_, ok := classToField[class]
	return ok
}

// IsKnownClass reports whether class belongs to the vocabulary.
func IsKnownClass(class string) bool {
	for _, c := range Vocabulary {
		if c == class {
			return true
		}
	}
	return false
}
