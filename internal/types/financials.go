package types

import "math"

// Canonical financial field names.
const (
	FieldNightlyRate    = "nightlyRate"
	FieldCleaningFee    = "cleaningFee"
	FieldLodgingTax     = "lodgingTax"
	FieldSalesTax       = "salesTax"
	FieldGST            = "gst"
	FieldPST            = "pst"
	FieldQST            = "qst"
	FieldChannelFee     = "channelFee"
	FieldExtraGuestFees = "extraGuestFees"
	FieldBedLinenFee    = "bedLinenFee"
	FieldStripeFee      = "stripeFee"
	FieldMgmtFee        = "mgmtFee"
	FieldTotalPayout    = "totalPayout"
	FieldNetEarnings    = "netEarnings"
)

// CanonicalFields is the fixed output set of ResolvedFinancials, in
// resolution order.
var CanonicalFields = []string{
	FieldNightlyRate,
	FieldCleaningFee,
	FieldLodgingTax,
	FieldSalesTax,
	FieldGST,
	FieldPST,
	FieldQST,
	FieldChannelFee,
	FieldExtraGuestFees,
	FieldBedLinenFee,
	FieldStripeFee,
	FieldMgmtFee,
	FieldTotalPayout,
	FieldNetEarnings,
}

var canonicalSet = func() map[string]bool {
	m := make(map[string]bool, len(CanonicalFields))
	for _, f := range CanonicalFields {
		m[f] = true
	}
	return m
}()

// IsCanonicalField reports whether name is one of the fixed output fields.
func IsCanonicalField(name string) bool {
	return canonicalSet[name]
}

// SourceKind says where a resolved value came from.
type SourceKind string

const (
	SourceRule    SourceKind = "rule"
	SourceAdapter SourceKind = "adapter"
	SourceDerived SourceKind = "derived"
)

// Source is the provenance of one resolved value. For a rule that
// evaluated to absent, Source is still recorded with Suppressed set.
type Source struct {
	Kind       SourceKind `json:"kind"`
	RuleID     string     `json:"rule_id,omitempty"`
	RawField   string     `json:"raw_field,omitempty"`
	Suppressed bool       `json:"suppressed,omitempty"`
}

// ResolvedFinancials is the canonical output of one resolution call.
// Nil fields are absent, which is a valid terminal state.
type ResolvedFinancials struct {
	NightlyRate    *float64 `json:"nightlyRate,omitempty"`
	CleaningFee    *float64 `json:"cleaningFee,omitempty"`
	LodgingTax     *float64 `json:"lodgingTax,omitempty"`
	SalesTax       *float64 `json:"salesTax,omitempty"`
	GST            *float64 `json:"gst,omitempty"`
	PST            *float64 `json:"pst,omitempty"`
	QST            *float64 `json:"qst,omitempty"`
	ChannelFee     *float64 `json:"channelFee,omitempty"`
	ExtraGuestFees *float64 `json:"extraGuestFees,omitempty"`
	BedLinenFee    *float64 `json:"bedLinenFee,omitempty"`
	StripeFee      *float64 `json:"stripeFee,omitempty"`
	MgmtFee        *float64 `json:"mgmtFee,omitempty"`
	TotalPayout    *float64 `json:"totalPayout,omitempty"`
	NetEarnings    *float64 `json:"netEarnings,omitempty"`

	// Custom holds values for rules targeting non-canonical fields.
	Custom map[string]float64 `json:"custom,omitempty"`

	// Sources records provenance per resolved (or suppressed) field.
	Sources map[string]Source `json:"sources,omitempty"`
}

func (r *ResolvedFinancials) slot(field string) **float64 {
	switch field {
	case FieldNightlyRate:
		return &r.NightlyRate
	case FieldCleaningFee:
		return &r.CleaningFee
	case FieldLodgingTax:
		return &r.LodgingTax
	case FieldSalesTax:
		return &r.SalesTax
	case FieldGST:
		return &r.GST
	case FieldPST:
		return &r.PST
	case FieldQST:
		return &r.QST
	case FieldChannelFee:
		return &r.ChannelFee
	case FieldExtraGuestFees:
		return &r.ExtraGuestFees
	case FieldBedLinenFee:
		return &r.BedLinenFee
	case FieldStripeFee:
		return &r.StripeFee
	case FieldMgmtFee:
		return &r.MgmtFee
	case FieldTotalPayout:
		return &r.TotalPayout
	case FieldNetEarnings:
		return &r.NetEarnings
	}
	return nil
}

// Get returns the value of a canonical or custom field.
func (r *ResolvedFinancials) Get(field string) (float64, bool) {
	if s := r.slot(field); s != nil {
		if *s == nil {
			return 0, false
		}
		return **s, true
	}
	v, ok := r.Custom[field]
	return v, ok
}

// Set stores a value for a canonical or custom field. NaN and infinities
// are dropped.
func (r *ResolvedFinancials) Set(field string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	if s := r.slot(field); s != nil {
		*s = &v
		return
	}
	if r.Custom == nil {
		r.Custom = make(map[string]float64)
	}
	r.Custom[field] = v
}

// Annotate records the provenance of a field.
func (r *ResolvedFinancials) Annotate(field string, src Source) {
	if r.Sources == nil {
		r.Sources = make(map[string]Source)
	}
	r.Sources[field] = src
}
