package s3xml

import "encoding/xml"

// Tag is one key/value pair within a TagSet.
type Tag struct {
	Key   string `xml:"Key"`
	Value string `xml:"Value"`
}

// Tagging is both the PutObjectTagging request body and the
// GetObjectTagging response body.
type Tagging struct {
	XMLName xml.Name `xml:"Tagging"`
	TagSet  struct {
		Tag []Tag `xml:"Tag"`
	} `xml:"TagSet"`
}

// NewTagging builds a namespaced Tagging document from a plain map,
// sorted by key for deterministic output.
func NewTagging(tags map[string]string) *Tagging {
	t := &Tagging{XMLName: name("Tagging")}
	for _, k := range sortedKeys(tags) {
		t.TagSet.Tag = append(t.TagSet.Tag, Tag{Key: k, Value: tags[k]})
	}
	return t
}

// ParseTagging parses a PUT request body into a plain map.
func ParseTagging(body []byte) (map[string]string, error) {
	var t Tagging
	if err := xml.Unmarshal(body, &t); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(t.TagSet.Tag))
	for _, tag := range t.TagSet.Tag {
		out[tag.Key] = tag.Value
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
