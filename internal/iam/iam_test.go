package iam

import (
	"testing"
	"time"
)

func TestParsePolicyDefaultsVersion(t *testing.T) {
	p, err := ParsePolicy([]byte(`{"Statement":[{"Effect":"Allow","Action":"s3:GetObject","Resource":"*"}]}`))
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}
	if p.Version != "2012-10-17" {
		t.Errorf("Version = %s, want 2012-10-17", p.Version)
	}
	if len(p.Statement) != 1 {
		t.Fatalf("Statement count = %d, want 1", len(p.Statement))
	}
}

func TestParsePolicyInvalidJSON(t *testing.T) {
	if _, err := ParsePolicy([]byte("not json")); err == nil {
		t.Fatal("ParsePolicy: expected error for invalid JSON")
	}
}

func TestParsePolicyActionAndResourceAsString(t *testing.T) {
	p, err := ParsePolicy([]byte(`{
		"Statement":[{"Effect":"Allow","Action":"s3:GetObject","Resource":"arn:aws:s3:::bucket/*"}]
	}`))
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}
	stmt := p.Statement[0]
	if len(stmt.Action) != 1 || stmt.Action[0] != "s3:GetObject" {
		t.Errorf("Action = %v, want [s3:GetObject]", stmt.Action)
	}
	if len(stmt.Resource) != 1 || stmt.Resource[0] != "arn:aws:s3:::bucket/*" {
		t.Errorf("Resource = %v, want [arn:aws:s3:::bucket/*]", stmt.Resource)
	}
}

func TestParsePolicyActionAndResourceAsArray(t *testing.T) {
	p, err := ParsePolicy([]byte(`{
		"Statement":[{"Effect":"Allow","Action":["s3:GetObject","s3:PutObject"],"Resource":["arn:aws:s3:::a","arn:aws:s3:::b"]}]
	}`))
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}
	stmt := p.Statement[0]
	if len(stmt.Action) != 2 {
		t.Errorf("Action count = %d, want 2", len(stmt.Action))
	}
	if len(stmt.Resource) != 2 {
		t.Errorf("Resource count = %d, want 2", len(stmt.Resource))
	}
}

func TestParsePolicyPrincipalWildcard(t *testing.T) {
	p, err := ParsePolicy([]byte(`{"Statement":[{"Effect":"Allow","Principal":"*","Action":"*","Resource":"*"}]}`))
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}
	if !p.Statement[0].Principal.Wildcard {
		t.Error("Principal.Wildcard = false, want true")
	}
}

func TestParsePolicyPrincipalByType(t *testing.T) {
	p, err := ParsePolicy([]byte(`{
		"Statement":[{"Effect":"Allow","Principal":{"AWS":["AKIDEXAMPLE"]},"Action":"*","Resource":"*"}]
	}`))
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}
	principal := p.Statement[0].Principal
	if principal.Wildcard {
		t.Error("Principal.Wildcard = true, want false")
	}
	if len(principal.ByType["AWS"]) != 1 || principal.ByType["AWS"][0] != "AKIDEXAMPLE" {
		t.Errorf("Principal.ByType[AWS] = %v, want [AKIDEXAMPLE]", principal.ByType["AWS"])
	}
}

func TestEvaluateImplicitDeny(t *testing.T) {
	p, _ := ParsePolicy([]byte(`{"Statement":[]}`))
	decision := Evaluate(p, "AKIDEXAMPLE", "s3:GetObject", ResourceARN("bucket", "key"), nil)
	if decision != ImplicitDeny {
		t.Errorf("Decision = %v, want ImplicitDeny", decision)
	}
}

func TestEvaluateExplicitAllow(t *testing.T) {
	p, _ := ParsePolicy([]byte(`{
		"Statement":[{"Effect":"Allow","Principal":"*","Action":"s3:GetObject","Resource":"arn:aws:s3:::bucket/*"}]
	}`))
	decision := Evaluate(p, "", "s3:GetObject", ResourceARN("bucket", "key"), nil)
	if decision != ExplicitAllow {
		t.Errorf("Decision = %v, want ExplicitAllow", decision)
	}
}

func TestEvaluateExplicitDenyBeatsAllow(t *testing.T) {
	p, _ := ParsePolicy([]byte(`{
		"Statement":[
			{"Effect":"Allow","Principal":"*","Action":"*","Resource":"*"},
			{"Effect":"Deny","Principal":"*","Action":"s3:DeleteObject","Resource":"arn:aws:s3:::bucket/*"}
		]
	}`))
	decision := Evaluate(p, "", "s3:DeleteObject", ResourceARN("bucket", "key"), nil)
	if decision != ExplicitDeny {
		t.Errorf("Decision = %v, want ExplicitDeny", decision)
	}
}

func TestEvaluateActionWildcard(t *testing.T) {
	p, _ := ParsePolicy([]byte(`{
		"Statement":[{"Effect":"Allow","Principal":"*","Action":"s3:*","Resource":"*"}]
	}`))
	decision := Evaluate(p, "", "s3:PutObject", ResourceARN("bucket", "key"), nil)
	if decision != ExplicitAllow {
		t.Errorf("Decision = %v, want ExplicitAllow", decision)
	}
}

func TestEvaluateResourcePrefixWildcard(t *testing.T) {
	p, _ := ParsePolicy([]byte(`{
		"Statement":[{"Effect":"Allow","Principal":"*","Action":"s3:GetObject","Resource":"arn:aws:s3:::bucket/public/*"}]
	}`))
	allowed := Evaluate(p, "", "s3:GetObject", ResourceARN("bucket", "public/file.txt"), nil)
	if allowed != ExplicitAllow {
		t.Errorf("Decision for matching prefix = %v, want ExplicitAllow", allowed)
	}
	denied := Evaluate(p, "", "s3:GetObject", ResourceARN("bucket", "private/file.txt"), nil)
	if denied != ImplicitDeny {
		t.Errorf("Decision for non-matching prefix = %v, want ImplicitDeny", denied)
	}
}

func TestEvaluatePrincipalByTypeMismatch(t *testing.T) {
	p, _ := ParsePolicy([]byte(`{
		"Statement":[{"Effect":"Allow","Principal":{"AWS":["AKIDEXAMPLE"]},"Action":"*","Resource":"*"}]
	}`))
	decision := Evaluate(p, "AKIDOTHER", "s3:GetObject", ResourceARN("bucket", "key"), nil)
	if decision != ImplicitDeny {
		t.Errorf("Decision for mismatched principal = %v, want ImplicitDeny", decision)
	}
}

func TestEvaluateAnonymousPrincipalRequiresWildcard(t *testing.T) {
	p, _ := ParsePolicy([]byte(`{
		"Statement":[{"Effect":"Allow","Principal":{"AWS":["AKIDEXAMPLE"]},"Action":"*","Resource":"*"}]
	}`))
	decision := Evaluate(p, "", "s3:GetObject", ResourceARN("bucket", "key"), nil)
	if decision != ImplicitDeny {
		t.Errorf("Decision for anonymous principal against non-wildcard statement = %v, want ImplicitDeny", decision)
	}
}

func TestEvaluateConditionNilContextSkipsStatement(t *testing.T) {
	p, _ := ParsePolicy([]byte(`{
		"Statement":[{
			"Effect":"Allow","Principal":"*","Action":"*","Resource":"*",
			"Condition":{"IpAddress":{"aws:SourceIp":["10.0.0.0/8"]}}
		}]
	}`))
	decision := Evaluate(p, "", "s3:GetObject", ResourceARN("bucket", "key"), nil)
	if decision != ImplicitDeny {
		t.Errorf("Decision with nil RequestContext against conditioned statement = %v, want ImplicitDeny", decision)
	}
}

func TestEvaluateConditionIPAddress(t *testing.T) {
	p, _ := ParsePolicy([]byte(`{
		"Statement":[{
			"Effect":"Allow","Principal":"*","Action":"*","Resource":"*",
			"Condition":{"IpAddress":{"aws:SourceIp":["10.0.0.0/8"]}}
		}]
	}`))
	rc := &RequestContext{SourceIP: "10.1.2.3"}
	if got := Evaluate(p, "", "s3:GetObject", ResourceARN("bucket", "key"), rc); got != ExplicitAllow {
		t.Errorf("Decision for matching CIDR = %v, want ExplicitAllow", got)
	}
	rc2 := &RequestContext{SourceIP: "192.168.1.1"}
	if got := Evaluate(p, "", "s3:GetObject", ResourceARN("bucket", "key"), rc2); got != ImplicitDeny {
		t.Errorf("Decision for non-matching CIDR = %v, want ImplicitDeny", got)
	}
}

func TestEvaluateConditionSecureTransport(t *testing.T) {
	p, _ := ParsePolicy([]byte(`{
		"Statement":[{
			"Effect":"Deny","Principal":"*","Action":"*","Resource":"*",
			"Condition":{"Bool":{"aws:SecureTransport":["false"]}}
		}]
	}`))
	insecure := &RequestContext{SecureTransport: false}
	if got := Evaluate(p, "", "s3:GetObject", ResourceARN("bucket", "key"), insecure); got != ExplicitDeny {
		t.Errorf("Decision over plaintext = %v, want ExplicitDeny", got)
	}
	secure := &RequestContext{SecureTransport: true}
	if got := Evaluate(p, "", "s3:GetObject", ResourceARN("bucket", "key"), secure); got != ImplicitDeny {
		t.Errorf("Decision over TLS = %v, want ImplicitDeny", got)
	}
}

func TestEvaluateConditionDateGreaterThan(t *testing.T) {
	cutoff := "2026-01-01T00:00:00Z"
	p, _ := ParsePolicy([]byte(`{
		"Statement":[{
			"Effect":"Allow","Principal":"*","Action":"*","Resource":"*",
			"Condition":{"DateGreaterThan":{"aws:CurrentTime":["` + cutoff + `"]}}
		}]
	}`))
	before := &RequestContext{CurrentTime: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	if got := Evaluate(p, "", "s3:GetObject", ResourceARN("bucket", "key"), before); got != ImplicitDeny {
		t.Errorf("Decision before cutoff = %v, want ImplicitDeny", got)
	}
	after := &RequestContext{CurrentTime: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	if got := Evaluate(p, "", "s3:GetObject", ResourceARN("bucket", "key"), after); got != ExplicitAllow {
		t.Errorf("Decision after cutoff = %v, want ExplicitAllow", got)
	}
}

func TestEvaluateConditionStringLike(t *testing.T) {
	p, _ := ParsePolicy([]byte(`{
		"Statement":[{
			"Effect":"Allow","Principal":"*","Action":"*","Resource":"*",
			"Condition":{"StringLike":{"s3:prefix":["logs/*"]}}
		}]
	}`))
	match := &RequestContext{Prefix: "logs/2026/08.txt"}
	if got := Evaluate(p, "", "s3:ListBucket", ResourceARN("bucket", ""), match); got != ExplicitAllow {
		t.Errorf("Decision for matching prefix glob = %v, want ExplicitAllow", got)
	}
	noMatch := &RequestContext{Prefix: "other/file.txt"}
	if got := Evaluate(p, "", "s3:ListBucket", ResourceARN("bucket", ""), noMatch); got != ImplicitDeny {
		t.Errorf("Decision for non-matching prefix glob = %v, want ImplicitDeny", got)
	}
}

func TestResourceARN(t *testing.T) {
	if got := ResourceARN("mybucket", ""); got != "arn:aws:s3:::mybucket" {
		t.Errorf("ResourceARN(bucket only) = %s, want arn:aws:s3:::mybucket", got)
	}
	if got := ResourceARN("mybucket", "path/to/key"); got != "arn:aws:s3:::mybucket/path/to/key" {
		t.Errorf("ResourceARN(bucket+key) = %s, want arn:aws:s3:::mybucket/path/to/key", got)
	}
}

func TestGlobMatch(t *testing.T) {
	cases := []struct {
		pattern, s string
		want       bool
	}{
		{"logs/*", "logs/2026/08.txt", true},
		{"logs/*", "other.txt", false},
		{"file?.txt", "file1.txt", true},
		{"file?.txt", "file12.txt", false},
		{"*", "anything", true},
	}
	for _, c := range cases {
		if got := globMatch(c.pattern, c.s); got != c.want {
			t.Errorf("globMatch(%q, %q) = %v, want %v", c.pattern, c.s, got, c.want)
		}
	}
}
