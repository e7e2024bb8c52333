package webhook

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Canonical payload fields. Each canonical field owns an ordered alias list;
// the partner system has accumulated many names for the same concept over
// the years, and every consumer of the payload resolves fields through this
// single table rather than probing keys ad hoc.
const (
	fieldAddress1    = "address1"
	fieldAddress2    = "address2"
	fieldCity        = "city"
	fieldState       = "state"
	fieldZip         = "zip"
	fieldAmount      = "amount"
	fieldPrice       = "price"
	fieldProduct     = "product"
	fieldMedication  = "medication"
	fieldPlan        = "plan"
	fieldPayerName   = "payer_name"
	fieldSubmission  = "submission_id"
	fieldPaymentDate = "payment_date"
	fieldOrderStatus = "order_status"
)

// fieldAliases maps each canonical field to its aliases in priority order.
// The first key present with a non-empty value wins.
var fieldAliases = map[string][]string{
	fieldAddress1: {"address", "address_line1", "address1", "street_address", "streetAddress", "shippingAddress", "shipping_address", "addressLine1"},
	fieldAddress2: {"address_line2", "address2", "addressLine2", "apt", "apartment", "unit", "suite"},
	fieldCity:     {"city", "shipping_city", "shippingCity", "town"},
	fieldState:    {"state", "shipping_state", "shippingState", "province", "region"},
	fieldZip:      {"zip", "zip_code", "zipcode", "postal_code", "postalCode", "shipping_zip"},
	fieldAmount:   {"amount", "amount_paid", "amountPaid", "amount_cents", "total"},
	fieldPrice:    {"price", "plan_price", "planPrice", "product_price", "productPrice"},
	fieldProduct:  {"product", "product_name", "productName", "item", "item_name"},
	fieldMedication: {"medication", "medication_name", "medicationName", "med", "drug", "prescription"},
	fieldPlan:     {"plan", "plan_name", "planName", "subscription_plan", "subscriptionPlan", "package"},
	fieldPayerName: {"name", "customer_name", "customerName", "payer_name", "payerName", "full_name", "cardholder_name"},
	fieldSubmission: {"submission_id", "submissionId", "submissionID", "intake_id", "intakeId", "form_submission_id"},
	fieldPaymentDate: {"payment_date", "paymentDate", "paid_at", "paidAt", "date", "created", "timestamp"},
	fieldOrderStatus: {"order_status", "orderStatus", "subscription_status", "subscriptionStatus"},
}

// Address is the normalized shipping/billing address snapshot.
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

func (a Address) IsZero() bool {
	return a == Address{}
}

// NormalizedEvent is the canonical internal form of an inbound payment event.
type NormalizedEvent struct {
	CustomerEmail    string
	PaymentMethodRef string
	PayerName        string
	SubmissionID     string
	OrderStatus      string
	AmountCents      int64
	AmountDefaulted  bool
	Product          string
	Medication       string
	Plan             string
	PaymentDate      time.Time
	Address          Address
	Raw              map[string]interface{}
}

// DeclaredTreatment returns the first non-empty of medication, product and
// plan, the payload's own claim about what was bought.
func (ev *NormalizedEvent) DeclaredTreatment() string {
	for _, v := range []string{ev.Medication, ev.Product, ev.Plan} {
		if v != "" {
			return v
		}
	}
	return ""
}

// Normalizer maps the open-ended partner payload onto NormalizedEvent.
type Normalizer struct {
	// CentsThreshold: explicit amounts strictly below this are treated as
	// dollar values and multiplied by 100.
	CentsThreshold int64
	// DefaultAmountCents is used when the payload carries no usable amount
	// or price at all.
	DefaultAmountCents int64
	// Now is the clock used for unparseable payment dates; nil means time.Now.
	Now func() time.Time
}

func (n *Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

// Normalize resolves every canonical field from the raw payload map. The raw
// map is preserved on the event for audit; unknown keys are never trusted
// but never discarded either.
func (n *Normalizer) Normalize(raw map[string]interface{}) *NormalizedEvent {
	ev := &NormalizedEvent{
		CustomerEmail:    strings.TrimSpace(stringValue(raw["customer_email"])),
		PaymentMethodRef: strings.TrimSpace(stringValue(raw["method_payment_id"])),
		PayerName:        field(raw, fieldPayerName),
		SubmissionID:     field(raw, fieldSubmission),
		OrderStatus:      field(raw, fieldOrderStatus),
		Product:          field(raw, fieldProduct),
		Medication:       field(raw, fieldMedication),
		Plan:             field(raw, fieldPlan),
		Raw:              raw,
	}
	ev.AmountCents, ev.AmountDefaulted = n.normalizeAmount(raw)
	ev.PaymentDate = n.parsePaymentDate(field(raw, fieldPaymentDate))
	ev.Address = normalizeAddress(raw)
	return ev
}

// field resolves a canonical field by probing its alias list in priority
// order and taking the first non-empty value.
func field(raw map[string]interface{}, canonical string) string {
	for _, alias := range fieldAliases[canonical] {
		if v, ok := raw[alias]; ok {
			if s := strings.TrimSpace(stringValue(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// -- Amount normalization --

// normalizeAmount derives the invoice amount in cents. An explicit amount
// field is taken as cents, except values strictly below CentsThreshold which
// are treated as misformatted dollar amounts and multiplied by 100. With no
// amount field, a price field is treated as dollars (string or number) and
// converted to cents. When nothing is usable the configured default applies.
func (n *Normalizer) normalizeAmount(raw map[string]interface{}) (cents int64, defaulted bool) {
	if s := field(raw, fieldAmount); s != "" {
		if v, err := parseMoney(s); err == nil {
			cents = int64(math.Round(v))
			if cents < n.CentsThreshold {
				cents *= 100
			}
			return cents, false
		}
	}

	if s := field(raw, fieldPrice); s != "" {
		if v, err := parseMoney(s); err == nil {
			return int64(math.Round(v * 100)), false
		}
	}

	return n.DefaultAmountCents, true
}

// parseMoney parses a money value from its string form, stripping currency
// symbols and thousands separators.
func parseMoney(s string) (float64, error) {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.ReplaceAll(cleaned, "$", "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return 0, fmt.Errorf("empty money value")
	}
	return strconv.ParseFloat(cleaned, 64)
}

// -- Payment date --

// Known-bad prefixes the partner occasionally prepends to dates ("Date: " and
// an Excel artifact). Stripped before parsing.
var datePrefixPattern = regexp.MustCompile(`(?i)^(date:?\s*|=+"?)`)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
}

// parsePaymentDate parses an event-supplied date permissively, falling back
// to the current time when nothing parses.
func (n *Normalizer) parsePaymentDate(s string) time.Time {
	s = strings.TrimSpace(datePrefixPattern.ReplaceAllString(strings.TrimSpace(s), ""))
	s = strings.Trim(s, `"`)
	if s == "" {
		return n.now()
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	// Epoch seconds show up from one sender.
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 1_000_000_000 {
		return time.Unix(secs, 0).UTC()
	}
	return n.now()
}

// -- Address normalization --

var unitPattern = regexp.MustCompile(`(?i)^\s*(apt\.?|apartment|suite|ste\.?|unit|#|bldg\.?|floor|fl\.?)\b|^\s*#?\d+[a-zA-Z]?$`)

// normalizeAddress picks between a combined address string and discrete
// components. The partner's own comma-split misaligns discrete fields when
// an apartment/unit is present, so whenever the combined string is available
// and the discrete fields are absent or comma-bearing themselves, the
// combined string is re-parsed from scratch instead.
func normalizeAddress(raw map[string]interface{}) Address {
	combined := field(raw, fieldAddress1)
	city := field(raw, fieldCity)
	state := field(raw, fieldState)
	zip := field(raw, fieldZip)

	discreteUsable := (city != "" || state != "" || zip != "") &&
		!strings.Contains(city, ",") && !strings.Contains(state, ",") && !strings.Contains(zip, ",")

	if strings.Contains(combined, ",") && !discreteUsable {
		return parseCombinedAddress(combined)
	}

	addr := Address{
		Line1:      combined,
		Line2:      field(raw, fieldAddress2),
		City:       city,
		State:      NormalizeState(state),
		PostalCode: zip,
	}
	return addr
}

// parseCombinedAddress splits a full comma-separated address positionally:
// line 1, optional apartment/suite line 2, city, state, postal code.
func parseCombinedAddress(s string) Address {
	var parts []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}

	var addr Address
	switch n := len(parts); {
	case n >= 5:
		addr.Line1 = parts[0]
		addr.Line2 = parts[1]
		addr.City = parts[n-3]
		addr.State = parts[n-2]
		addr.PostalCode = parts[n-1]
	case n == 4:
		if unitPattern.MatchString(parts[1]) {
			addr.Line1, addr.Line2, addr.City = parts[0], parts[1], parts[2]
			addr.State, addr.PostalCode = splitStateZip(parts[3])
		} else {
			addr.Line1, addr.City, addr.State, addr.PostalCode = parts[0], parts[1], parts[2], parts[3]
		}
	case n == 3:
		addr.Line1, addr.City = parts[0], parts[1]
		addr.State, addr.PostalCode = splitStateZip(parts[2])
	case n == 2:
		addr.Line1, addr.City = parts[0], parts[1]
	case n == 1:
		addr.Line1 = parts[0]
	}

	addr.State = NormalizeState(addr.State)
	return addr
}

var zipPattern = regexp.MustCompile(`^\d{5}(-\d{4})?$`)

// splitStateZip handles a trailing "IL 62704" segment.
func splitStateZip(s string) (state, zip string) {
	fields := strings.Fields(s)
	if len(fields) == 2 && zipPattern.MatchString(fields[1]) {
		return fields[0], fields[1]
	}
	return s, ""
}

var stateCodes = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR",
	"california": "CA", "colorado": "CO", "connecticut": "CT", "delaware": "DE",
	"florida": "FL", "georgia": "GA", "hawaii": "HI", "idaho": "ID",
	"illinois": "IL", "indiana": "IN", "iowa": "IA", "kansas": "KS",
	"kentucky": "KY", "louisiana": "LA", "maine": "ME", "maryland": "MD",
	"massachusetts": "MA", "michigan": "MI", "minnesota": "MN", "mississippi": "MS",
	"missouri": "MO", "montana": "MT", "nebraska": "NE", "nevada": "NV",
	"new hampshire": "NH", "new jersey": "NJ", "new mexico": "NM", "new york": "NY",
	"north carolina": "NC", "north dakota": "ND", "ohio": "OH", "oklahoma": "OK",
	"oregon": "OR", "pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC",
	"south dakota": "SD", "tennessee": "TN", "texas": "TX", "utah": "UT",
	"vermont": "VT", "virginia": "VA", "washington": "WA", "west virginia": "WV",
	"wisconsin": "WI", "wyoming": "WY", "district of columbia": "DC", "puerto rico": "PR",
}

// NormalizeState maps a state name to its 2-letter code. Already-2-letter
// values pass through unchanged; unknown input is upper-cased and truncated
// to 2 characters as a last resort.
func NormalizeState(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(s) == 2 {
		return strings.ToUpper(s)
	}
	if code, ok := stateCodes[strings.ToLower(s)]; ok {
		return code
	}
	upper := strings.ToUpper(s)
	if len(upper) > 2 {
		upper = upper[:2]
	}
	return upper
}
