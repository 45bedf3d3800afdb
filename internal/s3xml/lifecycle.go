package s3xml

import (
	"encoding/xml"

	"github.com/openendpoint/simples3/internal/s3err"
)

// LifecycleRule is the decoded, validated form of a single <Rule>. Exactly
// one of Days/Date is set when Expiration applies (Days==0 && Date=="" means
// no expiration was configured, which parsing never produces since
// ParseLifecycleConfiguration rejects a rule without an Expiration).
type LifecycleRule struct {
	ID     string
	Prefix string
	Status string // Enabled | Disabled
	Days   int
	Date   string // RFC 3339
	Tags   map[string]string
}

type lifecycleTagXML struct {
	Key   string `xml:"Key"`
	Value string `xml:"Value"`
}

type lifecycleAndXML struct {
	Prefix string            `xml:"Prefix"`
	Tag    []lifecycleTagXML `xml:"Tag"`
}

type lifecycleFilterXML struct {
	Prefix *string          `xml:"Prefix"`
	Tag    *lifecycleTagXML `xml:"Tag"`
	And    *lifecycleAndXML `xml:"And"`
}

type lifecycleExpirationXML struct {
	Days *int    `xml:"Days"`
	Date *string `xml:"Date"`
}

type lifecycleRuleXML struct {
	ID         string                  `xml:"ID"`
	Filter     *lifecycleFilterXML     `xml:"Filter"`
	Prefix     *string                 `xml:"Prefix"` // legacy: prefix outside Filter
	Status     string                  `xml:"Status"`
	Expiration *lifecycleExpirationXML `xml:"Expiration"`
}

// LifecycleConfigurationXML is the emit/parse wire document for GetBucketLifecycle/
// PutBucketLifecycle.
type LifecycleConfigurationXML struct {
	XMLName xml.Name           `xml:"LifecycleConfiguration"`
	Rule    []lifecycleRuleXML `xml:"Rule"`
}

// ParseLifecycleConfiguration decodes and validates a PutBucketLifecycle body.
func ParseLifecycleConfiguration(body []byte) ([]LifecycleRule, error) {
	var doc LifecycleConfigurationXML
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, s3err.InvalidArgument("malformed lifecycle XML: " + err.Error())
	}
	rules := make([]LifecycleRule, 0, len(doc.Rule))
	for _, rx := range doc.Rule {
		r := LifecycleRule{ID: rx.ID, Status: rx.Status, Tags: map[string]string{}}
		if rx.Prefix != nil {
			r.Prefix = *rx.Prefix
		}
		if rx.Filter != nil {
			if rx.Filter.Prefix != nil {
				r.Prefix = *rx.Filter.Prefix
			}
			if rx.Filter.Tag != nil {
				r.Tags[rx.Filter.Tag.Key] = rx.Filter.Tag.Value
			}
			if rx.Filter.And != nil {
				r.Prefix = rx.Filter.And.Prefix
				for _, t := range rx.Filter.And.Tag {
					r.Tags[t.Key] = t.Value
				}
			}
		}
		if rx.Expiration == nil {
			return nil, s3err.InvalidArgument("lifecycle rule must have an Expiration")
		}
		if rx.Expiration.Days != nil && rx.Expiration.Date != nil {
			return nil, s3err.InvalidArgument("lifecycle rule cannot set both Days and Date")
		}
		switch {
		case rx.Expiration.Days != nil:
			if *rx.Expiration.Days <= 0 {
				return nil, s3err.InvalidArgument("lifecycle Days must be greater than zero")
			}
			r.Days = *rx.Expiration.Days
		case rx.Expiration.Date != nil:
			r.Date = *rx.Expiration.Date
		default:
			return nil, s3err.InvalidArgument("lifecycle Expiration must set Days or Date")
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// RenderLifecycleConfiguration emits rules following the <And>-wrapping rule:
// a single tag with no prefix is emitted bare; prefix+tags or multiple tags
// are wrapped in <And>.
func RenderLifecycleConfiguration(rules []LifecycleRule) *LifecycleConfigurationXML {
	doc := &LifecycleConfigurationXML{XMLName: name("LifecycleConfiguration")}
	for _, r := range rules {
		rx := lifecycleRuleXML{ID: r.ID, Status: r.Status}
		filter := &lifecycleFilterXML{}
		switch {
		case len(r.Tags) == 0:
			p := r.Prefix
			filter.Prefix = &p
		case len(r.Tags) == 1 && r.Prefix == "":
			for k, v := range r.Tags {
				filter.Tag = &lifecycleTagXML{Key: k, Value: v}
			}
		default:
			and := &lifecycleAndXML{Prefix: r.Prefix}
			for _, k := range sortedKeys(r.Tags) {
				and.Tag = append(and.Tag, lifecycleTagXML{Key: k, Value: r.Tags[k]})
			}
			filter.And = and
		}
		rx.Filter = filter
		exp := &lifecycleExpirationXML{}
		if r.Date != "" {
			d := r.Date
			exp.Date = &d
		} else {
			days := r.Days
			exp.Days = &days
		}
		rx.Expiration = exp
		doc.Rule = append(doc.Rule, rx)
	}
	return doc
}
