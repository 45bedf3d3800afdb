package s3op

// ActionToken derives the IAM-style action token used by the policy
// evaluator (C5) from an operation kind, per the fixed table in spec §4.5:
// both DeleteObject and DeleteObjects collapse to s3:DeleteObject, the
// multipart put-like operations collapse to s3:PutObject, and anything not
// explicitly listed falls back to "s3:<Kind>".
func (k Kind) ActionToken() string {
	switch k {
	case ListBuckets:
		return "s3:ListAllMyBuckets"
	case CreateBucket:
		return "s3:CreateBucket"
	case DeleteBucket:
		return "s3:DeleteBucket"
	case HeadBucket:
		return "s3:ListBucket"
	case ListObjectsV2:
		return "s3:ListBucket"
	case DeleteObject, DeleteObjects:
		return "s3:DeleteObject"
	case PutObject, CopyObject, UploadPart, CompleteMultipartUpload, CreateMultipartUpload:
		return "s3:PutObject"
	case AbortMultipartUpload:
		return "s3:AbortMultipartUpload"
	case ListParts:
		return "s3:ListMultipartUploadParts"
	case GetObject, HeadObject:
		return "s3:GetObject"
	case GetObjectTagging:
		return "s3:GetObjectTagging"
	case PutObjectTagging:
		return "s3:PutObjectTagging"
	case DeleteObjectTagging:
		return "s3:DeleteObjectTagging"
	case GetBucketLifecycle:
		return "s3:GetLifecycleConfiguration"
	case PutBucketLifecycle:
		return "s3:PutLifecycleConfiguration"
	case DeleteBucketLifecycle:
		return "s3:PutLifecycleConfiguration"
	case GetBucketPolicy:
		return "s3:GetBucketPolicy"
	case PutBucketPolicy:
		return "s3:PutBucketPolicy"
	case DeleteBucketPolicy:
		return "s3:DeleteBucketPolicy"
	case GetBucketCORS:
		return "s3:GetBucketCORS"
	case PutBucketCORS:
		return "s3:PutBucketCORS"
	case DeleteBucketCORS:
		return "s3:PutBucketCORS"
	default:
		return "s3:" + string(k)
	}
}
