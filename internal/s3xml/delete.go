package s3xml

import "encoding/xml"

// DeleteObjectID is one key requested for deletion in a DeleteObjects batch.
type DeleteObjectID struct {
	Key string `xml:"Key"`
}

// Delete is the DeleteObjects request body.
type Delete struct {
	XMLName xml.Name         `xml:"Delete"`
	Object  []DeleteObjectID `xml:"Object"`
	Quiet   bool             `xml:"Quiet"`
}

// ParseDelete parses a DeleteObjects request body.
func ParseDelete(body []byte) (*Delete, error) {
	var d Delete
	if err := xml.Unmarshal(body, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Deleted is one successfully deleted key in a DeleteResult.
type Deleted struct {
	Key string `xml:"Key"`
}

// DeleteError is one failed key in a DeleteResult.
type DeleteError struct {
	Key     string `xml:"Key"`
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

// DeleteResult is the DeleteObjects response body.
type DeleteResult struct {
	XMLName xml.Name      `xml:"DeleteResult"`
	Deleted []Deleted     `xml:"Deleted,omitempty"`
	Error   []DeleteError `xml:"Error,omitempty"`
}

func NewDeleteResult() *DeleteResult {
	return &DeleteResult{XMLName: name("DeleteResult")}
}
