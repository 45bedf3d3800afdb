package s3xml

import (
	"encoding/xml"

	"github.com/openendpoint/simples3/internal/s3err"
)

// CORSRule is the decoded, validated form of a single <CORSRule>.
type CORSRule struct {
	ID             string
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	ExposeHeaders  []string
	MaxAgeSeconds  int
}

type corsRuleXML struct {
	ID             string   `xml:"ID,omitempty"`
	AllowedOrigin  []string `xml:"AllowedOrigin"`
	AllowedMethod  []string `xml:"AllowedMethod"`
	AllowedHeader  []string `xml:"AllowedHeader,omitempty"`
	ExposeHeader   []string `xml:"ExposeHeader,omitempty"`
	MaxAgeSeconds  int      `xml:"MaxAgeSeconds,omitempty"`
}

// CORSConfigurationXML is the emit/parse wire document for GetBucketCORS/
// PutBucketCORS.
type CORSConfigurationXML struct {
	XMLName  xml.Name      `xml:"CORSConfiguration"`
	CORSRule []corsRuleXML `xml:"CORSRule"`
}

// ParseCORSConfiguration decodes and validates a PutBucketCORS body.
func ParseCORSConfiguration(body []byte) ([]CORSRule, error) {
	var doc CORSConfigurationXML
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, s3err.InvalidArgument("malformed CORS XML: " + err.Error())
	}
	rules := make([]CORSRule, 0, len(doc.CORSRule))
	for _, rx := range doc.CORSRule {
		if len(rx.AllowedOrigin) == 0 {
			return nil, s3err.InvalidArgument("CORSRule must have at least one AllowedOrigin")
		}
		if len(rx.AllowedMethod) == 0 {
			return nil, s3err.InvalidArgument("CORSRule must have at least one AllowedMethod")
		}
		rules = append(rules, CORSRule{
			ID:             rx.ID,
			AllowedOrigins: rx.AllowedOrigin,
			AllowedMethods: rx.AllowedMethod,
			AllowedHeaders: rx.AllowedHeader,
			ExposeHeaders:  rx.ExposeHeader,
			MaxAgeSeconds:  rx.MaxAgeSeconds,
		})
	}
	return rules, nil
}

// RenderCORSConfiguration emits a CORSConfiguration document.
func RenderCORSConfiguration(rules []CORSRule) *CORSConfigurationXML {
	doc := &CORSConfigurationXML{XMLName: name("CORSConfiguration")}
	for _, r := range rules {
		doc.CORSRule = append(doc.CORSRule, corsRuleXML{
			ID:            r.ID,
			AllowedOrigin: r.AllowedOrigins,
			AllowedMethod: r.AllowedMethods,
			AllowedHeader: r.AllowedHeaders,
			ExposeHeader:  r.ExposeHeaders,
			MaxAgeSeconds: r.MaxAgeSeconds,
		})
	}
	return doc
}
