// Package s3xml implements the S3 XML wire codec (C2): the request/response
// shapes for bucket listing, object listing, multipart upload, tagging,
// copy, batch delete, lifecycle, and CORS, all under the fixed S3 XML
// namespace.
package s3xml

import "encoding/xml"

// Namespace is the xmlns every top-level S3 XML response declares.
const Namespace = "http://s3.amazonaws.com/doc/2006-03-01/"

func name(local string) xml.Name { return xml.Name{Space: Namespace, Local: local} }

// Owner appears in both bucket listing and object listing responses.
type Owner struct {
	ID          string `xml:"ID"`
	DisplayName string `xml:"DisplayName"`
}

// Bucket is one entry in ListAllMyBucketsResult.
type Bucket struct {
	Name         string `xml:"Name"`
	CreationDate string `xml:"CreationDate"`
}

// ListAllMyBucketsResult is the ListBuckets response.
type ListAllMyBucketsResult struct {
	XMLName xml.Name `xml:"ListAllMyBucketsResult"`
	Owner   Owner    `xml:"Owner"`
	Buckets struct {
		Bucket []Bucket `xml:"Bucket"`
	} `xml:"Buckets"`
}

// NewListAllMyBucketsResult builds a namespaced response.
func NewListAllMyBucketsResult(owner Owner, buckets []Bucket) *ListAllMyBucketsResult {
	r := &ListAllMyBucketsResult{XMLName: name("ListAllMyBucketsResult"), Owner: owner}
	r.Buckets.Bucket = buckets
	return r
}

// Object is one entry in a ListObjectsV2 response.
type Object struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

// ListBucketResult is the ListObjectsV2 response.
type ListBucketResult struct {
	XMLName               xml.Name `xml:"ListBucketResult"`
	Name                  string   `xml:"Name"`
	Prefix                string   `xml:"Prefix"`
	Delimiter             string   `xml:"Delimiter,omitempty"`
	MaxKeys               int      `xml:"MaxKeys"`
	KeyCount              int      `xml:"KeyCount"`
	IsTruncated           bool     `xml:"IsTruncated"`
	Contents              []Object `xml:"Contents"`
	CommonPrefixes        []CommonPrefix `xml:"CommonPrefixes"`
	ContinuationToken     string   `xml:"ContinuationToken,omitempty"`
	NextContinuationToken string   `xml:"NextContinuationToken,omitempty"`
	StartAfter            string   `xml:"StartAfter,omitempty"`
}

// CommonPrefix wraps a single <Prefix> as AWS does (not a bare string list).
type CommonPrefix struct {
	Prefix string `xml:"Prefix"`
}

func NewListBucketResult() *ListBucketResult {
	return &ListBucketResult{XMLName: name("ListBucketResult")}
}

// InitiateMultipartUploadResult is the CreateMultipartUpload response.
type InitiateMultipartUploadResult struct {
	XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	UploadID string   `xml:"UploadId"`
}

func NewInitiateMultipartUploadResult(bucket, key, uploadID string) *InitiateMultipartUploadResult {
	return &InitiateMultipartUploadResult{XMLName: name("InitiateMultipartUploadResult"), Bucket: bucket, Key: key, UploadID: uploadID}
}

// Part is shared between CompleteMultipartUpload's request body and
// ListParts's response body.
type Part struct {
	PartNumber int    `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
}

// CompleteMultipartUpload is the parsed request body for CompleteMultipartUpload.
type CompleteMultipartUpload struct {
	XMLName xml.Name `xml:"CompleteMultipartUpload"`
	Parts   []Part   `xml:"Part"`
}

// CompleteMultipartUploadResult is the CompleteMultipartUpload response.
type CompleteMultipartUploadResult struct {
	XMLName  xml.Name `xml:"CompleteMultipartUploadResult"`
	Location string   `xml:"Location"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	ETag     string   `xml:"ETag"`
}

func NewCompleteMultipartUploadResult(location, bucket, key, etag string) *CompleteMultipartUploadResult {
	return &CompleteMultipartUploadResult{XMLName: name("CompleteMultipartUploadResult"), Location: location, Bucket: bucket, Key: key, ETag: etag}
}

// ListPartsPart is one entry in a ListParts response.
type ListPartsPart struct {
	PartNumber   int    `xml:"PartNumber"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	LastModified string `xml:"LastModified"`
}

// ListPartsResult is the ListParts response.
type ListPartsResult struct {
	XMLName     xml.Name        `xml:"ListPartsResult"`
	Bucket      string          `xml:"Bucket"`
	Key         string          `xml:"Key"`
	UploadID    string          `xml:"UploadId"`
	IsTruncated bool            `xml:"IsTruncated"`
	Part        []ListPartsPart `xml:"Part"`
}

func NewListPartsResult(bucket, key, uploadID string, parts []ListPartsPart) *ListPartsResult {
	return &ListPartsResult{XMLName: name("ListPartsResult"), Bucket: bucket, Key: key, UploadID: uploadID, Part: parts}
}

// CopyObjectResult is the CopyObject response.
type CopyObjectResult struct {
	XMLName      xml.Name `xml:"CopyObjectResult"`
	LastModified string   `xml:"LastModified"`
	ETag         string   `xml:"ETag"`
}

func NewCopyObjectResult(lastModified, etag string) *CopyObjectResult {
	return &CopyObjectResult{XMLName: name("CopyObjectResult"), LastModified: lastModified, ETag: etag}
}

// AccessControlPolicy is a minimal, owner-only-FULL_CONTROL ACL document.
// The data model carries no per-grant ACL concept; this exists only so
// generic clients probing GetObjectAcl/GetBucketAcl get a well-formed body.
type AccessControlPolicy struct {
	XMLName           xml.Name `xml:"AccessControlPolicy"`
	Owner             Owner    `xml:"Owner"`
	AccessControlList struct {
		Grant []Grant `xml:"Grant"`
	} `xml:"AccessControlList"`
}

type Grant struct {
	Grantee    Grantee `xml:"Grantee"`
	Permission string  `xml:"Permission"`
}

type Grantee struct {
	XMLName     xml.Name `xml:"Grantee"`
	Type        string   `xml:"xsi:type,attr"`
	ID          string   `xml:"ID,omitempty"`
	DisplayName string   `xml:"DisplayName,omitempty"`
}

func NewAccessControlPolicy(owner Owner) *AccessControlPolicy {
	p := &AccessControlPolicy{XMLName: name("AccessControlPolicy"), Owner: owner}
	p.AccessControlList.Grant = []Grant{{
		Grantee:    Grantee{Type: "CanonicalUser", ID: owner.ID, DisplayName: owner.DisplayName},
		Permission: "FULL_CONTROL",
	}}
	return p
}
