// Package api implements the request dispatcher (C11): it turns an
// s3op.Operation plus the raw *http.Request into engine calls, and renders
// the engine's results back out as S3 XML via internal/s3xml, or an
// s3err.Error via s3err.WriteTo.
package api

import (
	"encoding/xml"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openendpoint/simples3/internal/engine"
	"github.com/openendpoint/simples3/internal/iam"
	"github.com/openendpoint/simples3/internal/metadata"
	"github.com/openendpoint/simples3/internal/middleware"
	"github.com/openendpoint/simples3/internal/s3err"
	"github.com/openendpoint/simples3/internal/s3op"
	"github.com/openendpoint/simples3/internal/s3xml"
	"github.com/openendpoint/simples3/internal/storage"
)

const timeFormat = "2006-01-02T15:04:05.000Z"

// Router dispatches parsed operations to the engine and renders responses.
type Router struct {
	Engine            *engine.Engine
	Logger            *zap.SugaredLogger
	MaxXMLBodySize    int64
	MaxPolicyBodySize int64
	MaxObjectSize     int64
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	op, ok := middleware.OperationFromContext(r)
	if !ok {
		op = s3op.Parse(r.Method, r.URL.Path, r.URL.Query())
	}

	var err error
	switch op.Kind {
	case s3op.ListBuckets:
		err = rt.listBuckets(w, r)
	case s3op.CreateBucket:
		err = rt.createBucket(w, r, op)
	case s3op.DeleteBucket:
		err = rt.deleteBucket(w, r, op)
	case s3op.HeadBucket:
		err = rt.headBucket(w, r, op)
	case s3op.ListObjectsV2:
		err = rt.listObjectsV2(w, r, op)
	case s3op.DeleteObjects:
		err = rt.deleteObjects(w, r, op)
	case s3op.PutObject:
		if r.Header.Get("X-Amz-Copy-Source") != "" {
			err = rt.copyObject(w, r, op)
		} else {
			err = rt.putObject(w, r, op)
		}
	case s3op.GetObject:
		err = rt.getObject(w, r, op)
	case s3op.HeadObject:
		err = rt.headObject(w, r, op)
	case s3op.DeleteObject:
		err = rt.deleteObject(w, r, op)
	case s3op.PutObjectTagging:
		err = rt.putObjectTagging(w, r, op)
	case s3op.GetObjectTagging:
		err = rt.getObjectTagging(w, r, op)
	case s3op.DeleteObjectTagging:
		err = rt.deleteObjectTagging(w, r, op)
	case s3op.CreateMultipartUpload:
		err = rt.createMultipartUpload(w, r, op)
	case s3op.UploadPart:
		err = rt.uploadPart(w, r, op)
	case s3op.CompleteMultipartUpload:
		err = rt.completeMultipartUpload(w, r, op)
	case s3op.AbortMultipartUpload:
		err = rt.abortMultipartUpload(w, r, op)
	case s3op.ListParts:
		err = rt.listParts(w, r, op)
	case s3op.GetBucketLifecycle:
		err = rt.getBucketLifecycle(w, r, op)
	case s3op.PutBucketLifecycle:
		err = rt.putBucketLifecycle(w, r, op)
	case s3op.DeleteBucketLifecycle:
		err = rt.deleteBucketLifecycle(w, r, op)
	case s3op.GetBucketPolicy:
		err = rt.getBucketPolicy(w, r, op)
	case s3op.PutBucketPolicy:
		err = rt.putBucketPolicy(w, r, op)
	case s3op.DeleteBucketPolicy:
		err = rt.deleteBucketPolicy(w, r, op)
	case s3op.GetBucketCORS:
		err = rt.getBucketCORS(w, r, op)
	case s3op.PutBucketCORS:
		err = rt.putBucketCORS(w, r, op)
	case s3op.DeleteBucketCORS:
		err = rt.deleteBucketCORS(w, r, op)
	default:
		err = s3err.InvalidArgument("unrecognized operation")
	}
	if err != nil {
		rt.writeErr(w, r, err)
	}
}

func (rt *Router) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	if se, ok := err.(*s3err.Error); ok && se.Code == "InternalError" && rt.Logger != nil {
		rt.Logger.Errorw("internal error", "path", r.URL.Path, "error", se.Detail)
	}
	s3err.WriteTo(w, err)
}

func writeXML(w http.ResponseWriter, status int, doc interface{}) {
	body, err := xml.Marshal(doc)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	w.Write([]byte(xml.Header))
	w.Write(body)
}

func readLimited(r *http.Request, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, s3err.InvalidArgument("could not read request body")
	}
	if int64(len(data)) > limit {
		return nil, s3err.InvalidArgument("request body exceeds the configured maximum size")
	}
	return data, nil
}

// --- Buckets ---

func (rt *Router) listBuckets(w http.ResponseWriter, r *http.Request) error {
	buckets, err := rt.Engine.ListBuckets(r.Context())
	if err != nil {
		return err
	}
	entries := make([]s3xml.Bucket, 0, len(buckets))
	for _, b := range buckets {
		entries = append(entries, s3xml.Bucket{Name: b.Name, CreationDate: b.CreatedAt.UTC().Format(timeFormat)})
	}
	writeXML(w, http.StatusOK, s3xml.NewListAllMyBucketsResult(s3xml.Owner{ID: "simples3", DisplayName: "simples3"}, entries))
	return nil
}

func (rt *Router) createBucket(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	if _, err := rt.Engine.CreateBucket(r.Context(), op.Bucket); err != nil {
		return err
	}
	w.Header().Set("Location", "/"+op.Bucket)
	w.WriteHeader(http.StatusOK)
	return nil
}

func (rt *Router) deleteBucket(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	if err := rt.Engine.DeleteBucket(r.Context(), op.Bucket); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (rt *Router) headBucket(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	if err := rt.Engine.HeadBucket(r.Context(), op.Bucket); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (rt *Router) listObjectsV2(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	q := r.URL.Query()
	opts := metadata.ListOptions{
		Prefix:            q.Get("prefix"),
		Delimiter:         q.Get("delimiter"),
		ContinuationToken: q.Get("continuation-token"),
		StartAfter:        q.Get("start-after"),
		MaxKeys:           1000,
	}
	if mk := q.Get("max-keys"); mk != "" {
		if n, err := strconv.Atoi(mk); err == nil && n >= 0 {
			opts.MaxKeys = n
		}
	}

	result, err := rt.Engine.ListObjectsV2(r.Context(), op.Bucket, opts, middleware.PublicOnlyList(r))
	if err != nil {
		return err
	}

	resp := s3xml.NewListBucketResult()
	resp.Name = op.Bucket
	resp.Prefix = opts.Prefix
	resp.Delimiter = opts.Delimiter
	resp.MaxKeys = opts.MaxKeys
	resp.KeyCount = result.KeyCount
	resp.IsTruncated = result.IsTruncated
	resp.ContinuationToken = opts.ContinuationToken
	resp.NextContinuationToken = result.NextContinuationToken
	resp.StartAfter = opts.StartAfter
	for _, obj := range result.Contents {
		resp.Contents = append(resp.Contents, s3xml.Object{
			Key:          obj.Key,
			LastModified: obj.LastModified.UTC().Format(timeFormat),
			ETag:         s3xml.QuoteETag(obj.ETag),
			Size:         obj.Size,
			StorageClass: "STANDARD",
		})
	}
	for _, p := range result.CommonPrefixes {
		resp.CommonPrefixes = append(resp.CommonPrefixes, s3xml.CommonPrefix{Prefix: p})
	}
	writeXML(w, http.StatusOK, resp)
	return nil
}

func (rt *Router) deleteObjects(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	body, err := readLimited(r, rt.MaxXMLBodySize)
	if err != nil {
		return err
	}
	req, err := s3xml.ParseDelete(body)
	if err != nil {
		return s3err.InvalidArgument("malformed Delete XML: " + err.Error())
	}
	keys := make([]string, 0, len(req.Object))
	for _, o := range req.Object {
		keys = append(keys, o.Key)
	}
	deleted, failed := rt.Engine.DeleteObjects(r.Context(), op.Bucket, keys)

	resp := s3xml.NewDeleteResult()
	if !req.Quiet {
		for _, k := range deleted {
			resp.Deleted = append(resp.Deleted, s3xml.Deleted{Key: k})
		}
	}
	for k, code := range failed {
		resp.Error = append(resp.Error, s3xml.DeleteError{Key: k, Code: code, Message: code})
	}
	writeXML(w, http.StatusOK, resp)
	return nil
}

// --- Objects ---

func (rt *Router) putObject(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	public := r.Header.Get("X-Amz-Acl") == "public-read"
	body := io.LimitReader(r.Body, rt.MaxObjectSize+1)
	etag, err := rt.Engine.PutObject(r.Context(), op.Bucket, op.Key, r.Header.Get("Content-Type"), public, body)
	if err != nil {
		return err
	}
	w.Header().Set("ETag", s3xml.QuoteETag(etag))
	w.WriteHeader(http.StatusOK)
	return nil
}

// parseCopySource decodes the X-Amz-Copy-Source header into (bucket, key).
func parseCopySource(header string) (bucket, key string, err error) {
	src := strings.TrimPrefix(header, "/")
	idx := strings.IndexByte(src, '/')
	if idx < 0 {
		return "", "", s3err.InvalidArgument("invalid x-amz-copy-source")
	}
	return src[:idx], src[idx+1:], nil
}

func (rt *Router) copyObject(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	srcBucket, srcKey, err := parseCopySource(r.Header.Get("X-Amz-Copy-Source"))
	if err != nil {
		return err
	}
	meta, err := rt.Engine.CopyObject(r.Context(), srcBucket, srcKey, op.Bucket, op.Key)
	if err != nil {
		return err
	}
	writeXML(w, http.StatusOK, s3xml.NewCopyObjectResult(meta.LastModified.UTC().Format(timeFormat), s3xml.QuoteETag(meta.ETag)))
	return nil
}

func parseRange(header string) (*storage.Range, error) {
	if header == "" {
		return nil, nil
	}
	header = strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(header, "-", 2)
	if len(parts) != 2 {
		return nil, s3err.InvalidArgument("malformed Range header")
	}
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, s3err.InvalidArgument("malformed Range header")
	}
	end, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, s3err.InvalidArgument("malformed Range header")
	}
	return &storage.Range{Start: start, End: end}, nil
}

func (rt *Router) getObject(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	byteRange, err := parseRange(r.Header.Get("Range"))
	if err != nil {
		return err
	}
	meta, body, err := rt.Engine.GetObject(r.Context(), op.Bucket, op.Key, byteRange)
	if err != nil {
		return err
	}
	defer body.Close()

	writeObjectHeaders(w, meta)
	if byteRange != nil {
		w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(byteRange.Start, 10)+"-"+strconv.FormatInt(byteRange.End, 10)+"/"+strconv.FormatInt(meta.Size, 10))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	io.Copy(w, body)
	return nil
}

func (rt *Router) headObject(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	meta, err := rt.Engine.HeadObject(r.Context(), op.Bucket, op.Key)
	if err != nil {
		return err
	}
	writeObjectHeaders(w, meta)
	w.WriteHeader(http.StatusOK)
	return nil
}

func writeObjectHeaders(w http.ResponseWriter, meta *metadata.ObjectMetadata) {
	w.Header().Set("ETag", s3xml.QuoteETag(meta.ETag))
	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.Header().Set("Last-Modified", meta.LastModified.UTC().Format(http.TimeFormat))
}

func (rt *Router) deleteObject(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	if err := rt.Engine.DeleteObject(r.Context(), op.Bucket, op.Key); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// --- Tagging ---

func (rt *Router) putObjectTagging(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	body, err := readLimited(r, rt.MaxXMLBodySize)
	if err != nil {
		return err
	}
	tags, err := s3xml.ParseTagging(body)
	if err != nil {
		return s3err.InvalidArgument("malformed Tagging XML: " + err.Error())
	}
	if err := rt.Engine.PutTagging(r.Context(), op.Bucket, op.Key, metadata.Tagging(tags)); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (rt *Router) getObjectTagging(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	tags, err := rt.Engine.GetTagging(r.Context(), op.Bucket, op.Key)
	if err != nil {
		return err
	}
	writeXML(w, http.StatusOK, s3xml.NewTagging(tags))
	return nil
}

func (rt *Router) deleteObjectTagging(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	if err := rt.Engine.DeleteTagging(r.Context(), op.Bucket, op.Key); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// --- Multipart ---

func (rt *Router) createMultipartUpload(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	uploadID := uuid.NewString()
	if err := rt.Engine.CreateMultipartUpload(r.Context(), op.Bucket, op.Key, uploadID); err != nil {
		return err
	}
	writeXML(w, http.StatusOK, s3xml.NewInitiateMultipartUploadResult(op.Bucket, op.Key, uploadID))
	return nil
}

func (rt *Router) uploadPart(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	if op.PartNumber < 1 || op.PartNumber > 10000 {
		return s3err.InvalidArgument("part number must be between 1 and 10000")
	}
	body := io.LimitReader(r.Body, rt.MaxObjectSize+1)
	etag, err := rt.Engine.UploadPart(r.Context(), op.Bucket, op.Key, op.UploadID, op.PartNumber, body)
	if err != nil {
		return err
	}
	w.Header().Set("ETag", s3xml.QuoteETag(etag))
	w.WriteHeader(http.StatusOK)
	return nil
}

func (rt *Router) completeMultipartUpload(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	body, err := readLimited(r, rt.MaxXMLBodySize)
	if err != nil {
		return err
	}
	var req s3xml.CompleteMultipartUpload
	if err := xml.Unmarshal(body, &req); err != nil {
		return s3err.InvalidArgument("malformed CompleteMultipartUpload XML: " + err.Error())
	}
	parts := make([]engine.CompletedPart, 0, len(req.Parts))
	for _, p := range req.Parts {
		parts = append(parts, engine.CompletedPart{PartNumber: p.PartNumber, ETag: strings.Trim(p.ETag, "\"")})
	}
	meta, err := rt.Engine.CompleteMultipartUpload(r.Context(), op.Bucket, op.Key, op.UploadID, parts)
	if err != nil {
		return err
	}
	writeXML(w, http.StatusOK, s3xml.NewCompleteMultipartUploadResult(
		rt.Engine.LocationURL(op.Bucket, op.Key), op.Bucket, op.Key, s3xml.QuoteETag(meta.ETag)))
	return nil
}

func (rt *Router) abortMultipartUpload(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	if err := rt.Engine.AbortMultipartUpload(r.Context(), op.Bucket, op.Key, op.UploadID); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (rt *Router) listParts(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	u, err := rt.Engine.ListParts(r.Context(), op.UploadID)
	if err != nil {
		return err
	}
	parts := make([]s3xml.ListPartsPart, 0, len(u.Parts))
	for _, p := range u.Parts {
		parts = append(parts, s3xml.ListPartsPart{
			PartNumber:   p.PartNumber,
			ETag:         s3xml.QuoteETag(p.ETag),
			Size:         p.Size,
			LastModified: p.LastModified.UTC().Format(timeFormat),
		})
	}
	writeXML(w, http.StatusOK, s3xml.NewListPartsResult(op.Bucket, op.Key, op.UploadID, parts))
	return nil
}

// --- Bucket config subresources ---

func (rt *Router) getBucketLifecycle(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	rules, err := rt.Engine.GetBucketLifecycle(r.Context(), op.Bucket)
	if err != nil {
		return err
	}
	writeXML(w, http.StatusOK, s3xml.RenderLifecycleConfiguration(toXMLLifecycleRules(rules)))
	return nil
}

func (rt *Router) putBucketLifecycle(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	body, err := readLimited(r, rt.MaxPolicyBodySize)
	if err != nil {
		return err
	}
	rules, err := s3xml.ParseLifecycleConfiguration(body)
	if err != nil {
		return err
	}
	if err := rt.Engine.PutBucketLifecycle(r.Context(), op.Bucket, fromXMLLifecycleRules(rules)); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (rt *Router) deleteBucketLifecycle(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	if err := rt.Engine.DeleteBucketLifecycle(r.Context(), op.Bucket); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func toXMLLifecycleRules(rules []metadata.LifecycleRule) []s3xml.LifecycleRule {
	out := make([]s3xml.LifecycleRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, s3xml.LifecycleRule{ID: r.ID, Prefix: r.Prefix, Status: r.Status, Days: r.Days, Date: r.Date, Tags: r.Tags})
	}
	return out
}

func fromXMLLifecycleRules(rules []s3xml.LifecycleRule) []metadata.LifecycleRule {
	out := make([]metadata.LifecycleRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, metadata.LifecycleRule{ID: r.ID, Prefix: r.Prefix, Status: r.Status, Days: r.Days, Date: r.Date, Tags: r.Tags})
	}
	return out
}

func (rt *Router) getBucketPolicy(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	doc, err := rt.Engine.GetBucketPolicy(r.Context(), op.Bucket)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
	return nil
}

func (rt *Router) putBucketPolicy(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	body, err := readLimited(r, rt.MaxPolicyBodySize)
	if err != nil {
		return err
	}
	if _, err := iam.ParsePolicy(body); err != nil {
		return s3err.InvalidArgument("malformed bucket policy: " + err.Error())
	}
	if err := rt.Engine.PutBucketPolicy(r.Context(), op.Bucket, body); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (rt *Router) deleteBucketPolicy(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	if err := rt.Engine.DeleteBucketPolicy(r.Context(), op.Bucket); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (rt *Router) getBucketCORS(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	rules, err := rt.Engine.GetBucketCORS(r.Context(), op.Bucket)
	if err != nil {
		return err
	}
	writeXML(w, http.StatusOK, s3xml.RenderCORSConfiguration(toXMLCORSRules(rules)))
	return nil
}

func (rt *Router) putBucketCORS(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	body, err := readLimited(r, rt.MaxPolicyBodySize)
	if err != nil {
		return err
	}
	rules, err := s3xml.ParseCORSConfiguration(body)
	if err != nil {
		return err
	}
	if err := rt.Engine.PutBucketCORS(r.Context(), op.Bucket, fromXMLCORSRules(rules)); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (rt *Router) deleteBucketCORS(w http.ResponseWriter, r *http.Request, op s3op.Operation) error {
	if err := rt.Engine.DeleteBucketCORS(r.Context(), op.Bucket); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func toXMLCORSRules(rules []metadata.CORSRule) []s3xml.CORSRule {
	out := make([]s3xml.CORSRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, s3xml.CORSRule{
			ID: r.ID, AllowedOrigins: r.AllowedOrigins, AllowedMethods: r.AllowedMethods,
			AllowedHeaders: r.AllowedHeaders, ExposeHeaders: r.ExposeHeaders, MaxAgeSeconds: r.MaxAgeSeconds,
		})
	}
	return out
}

func fromXMLCORSRules(rules []s3xml.CORSRule) []metadata.CORSRule {
	out := make([]metadata.CORSRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, metadata.CORSRule{
			ID: r.ID, AllowedOrigins: r.AllowedOrigins, AllowedMethods: r.AllowedMethods,
			AllowedHeaders: r.AllowedHeaders, ExposeHeaders: r.ExposeHeaders, MaxAgeSeconds: r.MaxAgeSeconds,
		})
	}
	return out
}
