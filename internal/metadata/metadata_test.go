package metadata

import (
	"testing"
	"time"
)

func TestBucketMetadata(t *testing.T) {
	meta := &BucketMetadata{
		Name:      "test-bucket",
		CreatedAt: time.Now(),
	}

	if meta.Name != "test-bucket" {
		t.Errorf("Name = %s, want test-bucket", meta.Name)
	}
}

func TestObjectMetadata(t *testing.T) {
	meta := &ObjectMetadata{
		Key:         "test-key",
		Size:        1024,
		ContentType: "application/json",
		ETag:        "abc123",
	}

	if meta.Key != "test-key" {
		t.Errorf("Key = %s, want test-key", meta.Key)
	}

	if meta.Size != 1024 {
		t.Errorf("Size = %d, want 1024", meta.Size)
	}
}

func TestLifecycleRule(t *testing.T) {
	rule := &LifecycleRule{
		ID:     "rule-1",
		Status: "Enabled",
		Days:   30,
	}

	if rule.ID != "rule-1" {
		t.Errorf("ID = %s, want rule-1", rule.ID)
	}

	if rule.Status != "Enabled" {
		t.Errorf("Status = %s, want Enabled", rule.Status)
	}
}

func TestCORSRule(t *testing.T) {
	rule := CORSRule{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "PUT"},
	}

	if len(rule.AllowedOrigins) != 1 {
		t.Errorf("AllowedOrigins count = %d, want 1", len(rule.AllowedOrigins))
	}
}

func TestCredential(t *testing.T) {
	cred := &Credential{
		AccessKeyID:     "AKIATEST",
		SecretAccessKey: "secret",
		Active:          true,
	}

	if cred.AccessKeyID != "AKIATEST" {
		t.Errorf("AccessKeyID = %s, want AKIATEST", cred.AccessKeyID)
	}
}

func TestTagging(t *testing.T) {
	tags := Tagging{"environment": "production"}

	if tags["environment"] != "production" {
		t.Errorf("environment = %s, want production", tags["environment"])
	}
}

func TestPartInfo(t *testing.T) {
	part := PartInfo{
		PartNumber:   1,
		Size:         1024,
		ETag:         "part-etag",
		LastModified: time.Now(),
	}

	if part.PartNumber != 1 {
		t.Errorf("PartNumber = %d, want 1", part.PartNumber)
	}
}

func TestMultipartUploadMetadataUpsertPart(t *testing.T) {
	upload := &MultipartUploadMetadata{
		UploadID: "upload-123",
		Bucket:   "test-bucket",
		Key:      "test-key",
	}

	upload.UpsertPart(PartInfo{PartNumber: 2, ETag: "etag-2"})
	upload.UpsertPart(PartInfo{PartNumber: 1, ETag: "etag-1"})
	upload.UpsertPart(PartInfo{PartNumber: 2, ETag: "etag-2-replaced"})

	if len(upload.Parts) != 2 {
		t.Fatalf("Parts count = %d, want 2", len(upload.Parts))
	}
	if upload.Parts[0].PartNumber != 1 || upload.Parts[1].PartNumber != 2 {
		t.Errorf("Parts not sorted ascending by PartNumber: %+v", upload.Parts)
	}
	if upload.Parts[1].ETag != "etag-2-replaced" {
		t.Errorf("ETag = %s, want etag-2-replaced (upsert should replace, not duplicate)", upload.Parts[1].ETag)
	}
}
