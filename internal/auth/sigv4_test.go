package auth

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"
)

func testLookup(creds map[string]string) CredentialLookup {
	return func(accessKeyID string) (string, bool) {
		secret, ok := creds[accessKeyID]
		return secret, ok
	}
}

func signedHeaderRequest(t *testing.T, method, rawURL, accessKeyID, secretKey, region, service string, at time.Time) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, rawURL, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	amzDate := at.UTC().Format("20060102T150405Z")
	dateStamp := at.UTC().Format("20060102")
	req.Header.Set("X-Amz-Date", amzDate)
	req.Header.Set("X-Amz-Content-Sha256", "UNSIGNED-PAYLOAD")
	req.Host = req.URL.Host

	signedHeaders := []string{"host", "x-amz-date"}
	canonicalRequest := buildCanonicalRequest(req, signedHeaders, req.URL.RawQuery, "UNSIGNED-PAYLOAD")
	stringToSign := buildStringToSign(amzDate, dateStamp, region, service, canonicalRequest)
	signature := calculateSignature(secretKey, dateStamp, region, service, stringToSign)

	req.Header.Set("Authorization", strings.Join([]string{
		algorithm + " Credential=" + accessKeyID + "/" + dateStamp + "/" + region + "/" + service + "/aws4_request",
		"SignedHeaders=" + strings.Join(signedHeaders, ";"),
		"Signature=" + signature,
	}, ","))
	return req
}

func presignedRequest(t *testing.T, method, rawURL, accessKeyID, secretKey, region, service string, at time.Time, expires int) *http.Request {
	t.Helper()
	dateStamp := at.UTC().Format("20060102")
	amzDate := at.UTC().Format("20060102T150405Z")
	credential := accessKeyID + "/" + dateStamp + "/" + region + "/" + service + "/aws4_request"

	base, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	q := base.Query()
	q.Set("X-Amz-Algorithm", algorithm)
	q.Set("X-Amz-Credential", credential)
	q.Set("X-Amz-Date", amzDate)
	q.Set("X-Amz-Expires", strconv.Itoa(expires))
	q.Set("X-Amz-SignedHeaders", "host")
	base.RawQuery = q.Encode()

	req, err := http.NewRequest(method, base.String(), nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Host = req.URL.Host

	canonicalRequest := buildCanonicalRequest(req, []string{"host"}, req.URL.RawQuery, "UNSIGNED-PAYLOAD")
	stringToSign := buildStringToSign(amzDate, dateStamp, region, service, canonicalRequest)
	signature := calculateSignature(secretKey, dateStamp, region, service, stringToSign)

	q = req.URL.Query()
	q.Set("X-Amz-Signature", signature)
	req.URL.RawQuery = q.Encode()
	return req
}

func TestVerifyHeaderRequest(t *testing.T) {
	now := time.Now()
	lookup := testLookup(map[string]string{"AKIDEXAMPLE": "secretkey1"})
	a := New(lookup)

	req := signedHeaderRequest(t, http.MethodGet, "https://s3.example.com/bucket/key", "AKIDEXAMPLE", "secretkey1", "us-east-1", "s3", now)

	result, err := a.Verify(req)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.AccessKeyID != "AKIDEXAMPLE" {
		t.Errorf("AccessKeyID = %s, want AKIDEXAMPLE", result.AccessKeyID)
	}
}

func TestVerifyHeaderRequestBadSignature(t *testing.T) {
	now := time.Now()
	lookup := testLookup(map[string]string{"AKIDEXAMPLE": "secretkey1"})
	a := New(lookup)

	req := signedHeaderRequest(t, http.MethodGet, "https://s3.example.com/bucket/key", "AKIDEXAMPLE", "secretkey1", "us-east-1", "s3", now)
	req.Header.Set("Authorization", strings.Replace(req.Header.Get("Authorization"), "Signature=", "Signature=ff", 1))

	if _, err := a.Verify(req); err == nil {
		t.Fatal("Verify: expected error for tampered signature")
	}
}

func TestVerifyHeaderRequestUnknownAccessKey(t *testing.T) {
	now := time.Now()
	lookup := testLookup(map[string]string{"AKIDEXAMPLE": "secretkey1"})
	a := New(lookup)

	req := signedHeaderRequest(t, http.MethodGet, "https://s3.example.com/bucket/key", "AKIDOTHER", "wrongsecret", "us-east-1", "s3", now)

	if _, err := a.Verify(req); err == nil {
		t.Fatal("Verify: expected error for unknown access key")
	}
}

// Header-signed requests carry no expiry of their own (unlike presigned
// URLs, which are bounded by X-Amz-Expires): a signature dated long in the
// past still verifies as long as it matches, matching the literal vector in
// TestVerifyHeaderRequestExampleVector below.
func TestVerifyHeaderRequestOldTimestampStillValid(t *testing.T) {
	lookup := testLookup(map[string]string{"AKIDEXAMPLE": "secretkey1"})
	a := New(lookup)

	old := time.Now().Add(-24 * time.Hour)
	req := signedHeaderRequest(t, http.MethodGet, "https://s3.example.com/bucket/key", "AKIDEXAMPLE", "secretkey1", "us-east-1", "s3", old)

	if _, err := a.Verify(req); err != nil {
		t.Fatalf("Verify: %v, want success for an old but otherwise valid signature", err)
	}
}

// TestVerifyHeaderRequestExampleVector signs and verifies the literal AWS
// SigV4 example request (GET https://examplebucket.s3.amazonaws.com/test.txt,
// dated 2013-05-24): a fixed historical timestamp that must succeed
// regardless of how long ago it was signed.
func TestVerifyHeaderRequestExampleVector(t *testing.T) {
	lookup := testLookup(map[string]string{"AKIDEXAMPLE": "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY"})
	a := New(lookup)

	req, err := http.NewRequest(http.MethodGet, "https://examplebucket.s3.amazonaws.com/test.txt", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Host = "examplebucket.s3.amazonaws.com"
	req.Header.Set("X-Amz-Date", "20130524T000000Z")
	req.Header.Set("X-Amz-Content-Sha256", "UNSIGNED-PAYLOAD")

	signedHeaders := []string{"host", "x-amz-content-sha256", "x-amz-date"}
	canonicalRequest := buildCanonicalRequest(req, signedHeaders, req.URL.RawQuery, "UNSIGNED-PAYLOAD")
	stringToSign := buildStringToSign("20130524T000000Z", "20130524", "us-east-1", "s3", canonicalRequest)
	signature := calculateSignature("wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY", "20130524", "us-east-1", "s3", stringToSign)

	req.Header.Set("Authorization", strings.Join([]string{
		algorithm + " Credential=AKIDEXAMPLE/20130524/us-east-1/s3/aws4_request",
		"SignedHeaders=" + strings.Join(signedHeaders, ";"),
		"Signature=" + signature,
	}, ","))

	result, err := a.Verify(req)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.AccessKeyID != "AKIDEXAMPLE" {
		t.Errorf("AccessKeyID = %s, want AKIDEXAMPLE", result.AccessKeyID)
	}

	flipped := strings.Replace(req.Header.Get("Authorization"), signature[:2], flipHexDigit(signature[:2]), 1)
	req.Header.Set("Authorization", flipped)
	if _, err := a.Verify(req); err == nil {
		t.Fatal("Verify: expected error for tampered signature on the example vector")
	}
}

func flipHexDigit(hex string) string {
	if hex[0] == 'f' {
		return "0" + hex[1:]
	}
	return "f" + hex[1:]
}

func TestVerifyPresignedRequest(t *testing.T) {
	now := time.Now()
	lookup := testLookup(map[string]string{"AKIDEXAMPLE": "secretkey1"})
	a := New(lookup)

	req := presignedRequest(t, http.MethodGet, "https://s3.example.com/bucket/key", "AKIDEXAMPLE", "secretkey1", "us-east-1", "s3", now, 900)

	result, err := a.Verify(req)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.AccessKeyID != "AKIDEXAMPLE" {
		t.Errorf("AccessKeyID = %s, want AKIDEXAMPLE", result.AccessKeyID)
	}
}

func TestVerifyPresignedRequestExpired(t *testing.T) {
	lookup := testLookup(map[string]string{"AKIDEXAMPLE": "secretkey1"})
	a := New(lookup)

	old := time.Now().Add(-1 * time.Hour)
	req := presignedRequest(t, http.MethodGet, "https://s3.example.com/bucket/key", "AKIDEXAMPLE", "secretkey1", "us-east-1", "s3", old, 60)

	if _, err := a.Verify(req); err == nil {
		t.Fatal("Verify: expected error for expired presigned URL")
	}
}

func TestVerifyPresignedRequestFutureDatedRejected(t *testing.T) {
	lookup := testLookup(map[string]string{"AKIDEXAMPLE": "secretkey1"})
	a := New(lookup)

	future := time.Now().Add(5 * time.Minute)
	req := presignedRequest(t, http.MethodGet, "https://s3.example.com/bucket/key", "AKIDEXAMPLE", "secretkey1", "us-east-1", "s3", future, 900)

	if _, err := a.Verify(req); err == nil {
		t.Fatal("Verify: expected error for a presigned URL dated in the future, even within the old clock-skew tolerance")
	}
}

func TestVerifyUnsigned(t *testing.T) {
	lookup := testLookup(map[string]string{"AKIDEXAMPLE": "secretkey1"})
	a := New(lookup)

	req, err := http.NewRequest(http.MethodGet, "https://s3.example.com/bucket/key", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if _, err := a.Verify(req); err != ErrNoSignature {
		t.Fatalf("Verify: got %v, want ErrNoSignature", err)
	}
}

func TestParseAuthorizationHeader(t *testing.T) {
	header := "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20260801/us-east-1/s3/aws4_request,SignedHeaders=host;x-amz-date,Signature=abcd1234"
	parsed, err := parseAuthorizationHeader(header)
	if err != nil {
		t.Fatalf("parseAuthorizationHeader: %v", err)
	}
	if parsed.accessKeyID != "AKIDEXAMPLE" {
		t.Errorf("accessKeyID = %s, want AKIDEXAMPLE", parsed.accessKeyID)
	}
	if parsed.dateStamp != "20260801" {
		t.Errorf("dateStamp = %s, want 20260801", parsed.dateStamp)
	}
	if parsed.region != "us-east-1" {
		t.Errorf("region = %s, want us-east-1", parsed.region)
	}
	if parsed.service != "s3" {
		t.Errorf("service = %s, want s3", parsed.service)
	}
	if strings.Join(parsed.signedHeaders, ";") != "host;x-amz-date" {
		t.Errorf("signedHeaders = %v, want [host x-amz-date]", parsed.signedHeaders)
	}
	if parsed.signature != "abcd1234" {
		t.Errorf("signature = %s, want abcd1234", parsed.signature)
	}
}

func TestParseAuthorizationHeaderMalformed(t *testing.T) {
	cases := []string{
		"AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE,Signature=abcd",
		"AWS4-HMAC-SHA256 SignedHeaders=host,Signature=abcd",
		"AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/badscope,SignedHeaders=host,Signature=abcd",
	}
	for _, c := range cases {
		if _, err := parseAuthorizationHeader(c); err == nil {
			t.Errorf("parseAuthorizationHeader(%q): expected error", c)
		}
	}
}

func TestConstantTimeEqualHex(t *testing.T) {
	if !constantTimeEqualHex("abcd", "abcd") {
		t.Error("expected equal hex strings to match")
	}
	if constantTimeEqualHex("abcd", "abce") {
		t.Error("expected differing hex strings not to match")
	}
	if constantTimeEqualHex("not-hex", "abcd") {
		t.Error("expected invalid hex to fail comparison, not panic or match")
	}
}

func TestCanonicalQueryString(t *testing.T) {
	got := canonicalQueryString("b=2&a=1")
	want := "a=1&b=2"
	if got != want {
		t.Errorf("canonicalQueryString = %q, want %q", got, want)
	}
}

// TestCanonicalQueryStringPreservesEncoding confirms canonicalQueryString
// never decodes or re-encodes a value — in particular, a literal "+" or
// "%20" in the client's own percent-encoding must survive unchanged, unlike
// a decode-via-url.Values/re-encode-via-url.QueryEscape round trip would.
func TestCanonicalQueryStringPreservesEncoding(t *testing.T) {
	got := canonicalQueryString("prefix=a%20b&marker=x%2By")
	want := "marker=x%2By&prefix=a%20b"
	if got != want {
		t.Errorf("canonicalQueryString = %q, want %q", got, want)
	}
}

func TestExcludeQueryParam(t *testing.T) {
	got := excludeQueryParam("a=1&X-Amz-Signature=abcd&b=2", "X-Amz-Signature")
	want := "a=1&b=2"
	if got != want {
		t.Errorf("excludeQueryParam = %q, want %q", got, want)
	}
}

func TestCalculateSignatureDeterministic(t *testing.T) {
	stringToSign := "test-string-to-sign"
	sig1 := calculateSignature("secret", "20260801", "us-east-1", "s3", stringToSign)
	sig2 := calculateSignature("secret", "20260801", "us-east-1", "s3", stringToSign)
	if sig1 != sig2 {
		t.Error("calculateSignature is not deterministic for identical inputs")
	}
	sig3 := calculateSignature("othersecret", "20260801", "us-east-1", "s3", stringToSign)
	if sig1 == sig3 {
		t.Error("calculateSignature should differ for different secrets")
	}
}
