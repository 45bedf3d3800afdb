// Package iam implements the bucket policy data model and evaluator (C5):
// IAM-style Allow/Deny statements with wildcard principals/actions/resources
// and a small condition-operator language.
package iam

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"
)

// Effect is the statement outcome: Allow or Deny.
type Effect string

const (
	Allow Effect = "Allow"
	Deny  Effect = "Deny"
)

// Decision is the three-way outcome of evaluating a policy against a
// principal/action/resource/context tuple, per spec §4.5.
type Decision int

const (
	ImplicitDeny Decision = iota
	ExplicitAllow
	ExplicitDeny
)

// Policy is the bucket policy document (spec §3 BucketPolicy).
type Policy struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

// Principal is either the wildcard "*" or a map of principal-type to a
// list of IDs (each either "*" or an exact ID).
type Principal struct {
	Wildcard bool
	ByType   map[string][]string
}

func (p *Principal) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.Wildcard = s == "*"
		return nil
	}
	var m map[string][]string
	if err := json.Unmarshal(data, &m); err != nil {
		// also accept map[string]string for a single value
		var single map[string]string
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return err
		}
		m = make(map[string][]string, len(single))
		for k, v := range single {
			m[k] = []string{v}
		}
	}
	p.ByType = m
	return nil
}

// stringOrSlice decodes a JSON value that may be either a single string or
// an array of strings, as IAM's Action/Resource fields allow.
type stringOrSlice []string

func (s *stringOrSlice) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = []string{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// Condition is the operator-block -> condition-key -> candidate-values map.
// Operator blocks AND together; values within a block OR together.
type Condition map[string]map[string][]string

func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw map[string]map[string]stringOrSlice
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Condition, len(raw))
	for op, keys := range raw {
		out[op] = make(map[string][]string, len(keys))
		for k, v := range keys {
			out[op][k] = []string(v)
		}
	}
	*c = out
	return nil
}

// Statement is a single policy statement.
type Statement struct {
	Sid       string         `json:"Sid,omitempty"`
	Effect    Effect         `json:"Effect"`
	Principal *Principal     `json:"Principal,omitempty"`
	Action    stringOrSlice  `json:"Action"`
	Resource  stringOrSlice  `json:"Resource"`
	Condition Condition      `json:"Condition,omitempty"`
}

// ParsePolicy decodes a bucket policy document.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid policy JSON: %w", err)
	}
	if p.Version == "" {
		p.Version = "2012-10-17"
	}
	return &p, nil
}

// RequestContext supplies the values condition operators compare against.
// A nil RequestContext on a statement that has a Condition causes that
// statement to be skipped entirely (spec §4.5's conservative default).
type RequestContext struct {
	SourceIP        string
	CurrentTime     time.Time
	SecureTransport bool
	Prefix          string
}

// Evaluate implements the three-way outcome of spec §4.5: ExplicitDeny beats
// ExplicitAllow beats ImplicitDeny.
func Evaluate(p *Policy, principal, action, resource string, rc *RequestContext) Decision {
	decision := ImplicitDeny
	for i := range p.Statement {
		stmt := &p.Statement[i]
		if !statementMatches(stmt, principal, action, resource, rc) {
			continue
		}
		if stmt.Effect == Deny {
			return ExplicitDeny
		}
		decision = ExplicitAllow
	}
	return decision
}

func statementMatches(stmt *Statement, principal, action, resource string, rc *RequestContext) bool {
	if !matchPrincipal(stmt.Principal, principal) {
		return false
	}
	if !matchAny(stmt.Action, action, true) {
		return false
	}
	if !matchResource(stmt.Resource, resource) {
		return false
	}
	if len(stmt.Condition) > 0 {
		if rc == nil {
			return false
		}
		if !matchConditions(stmt.Condition, rc) {
			return false
		}
	}
	return true
}

func matchPrincipal(p *Principal, principal string) bool {
	if p == nil {
		return true
	}
	if p.Wildcard {
		return true
	}
	if principal == "" {
		// Anonymous principal only ever matches the wildcard form.
		return false
	}
	for _, values := range p.ByType {
		for _, v := range values {
			if v == "*" || v == principal {
				return true
			}
		}
	}
	return false
}

// matchAny checks a candidate against a wildcard-capable pattern list.
// actionLike additionally treats "s3:*" as a full wildcard.
func matchAny(patterns []string, candidate string, actionLike bool) bool {
	for _, p := range patterns {
		if p == "*" || p == candidate {
			return true
		}
		if actionLike && p == "s3:*" {
			return true
		}
		if strings.HasSuffix(p, "*") && strings.HasPrefix(candidate, strings.TrimSuffix(p, "*")) {
			return true
		}
	}
	return false
}

func matchResource(patterns []string, resource string) bool {
	return matchAny(patterns, resource, false)
}

func matchConditions(cond Condition, rc *RequestContext) bool {
	for op, keys := range cond {
		for key, values := range keys {
			if !matchConditionBlock(op, key, values, rc) {
				return false
			}
		}
	}
	return true
}

func conditionKeyValue(key string, rc *RequestContext) (string, bool) {
	switch key {
	case "aws:SourceIp":
		return rc.SourceIP, true
	case "aws:CurrentTime":
		return rc.CurrentTime.Format(time.RFC3339), true
	case "aws:SecureTransport":
		if rc.SecureTransport {
			return "true", true
		}
		return "false", true
	case "s3:prefix":
		return rc.Prefix, true
	default:
		return "", false
	}
}

func matchConditionBlock(op, key string, values []string, rc *RequestContext) bool {
	actual, ok := conditionKeyValue(key, rc)
	if !ok {
		return false
	}
	switch op {
	case "StringEquals":
		return anyEqual(values, actual)
	case "StringNotEquals":
		return !anyEqual(values, actual)
	case "StringLike":
		return anyGlob(values, actual)
	case "StringNotLike":
		return !anyGlob(values, actual)
	case "IpAddress":
		return anyIPMatch(values, actual)
	case "NotIpAddress":
		return !anyIPMatch(values, actual)
	case "Bool":
		return anyEqual(values, actual)
	case "DateGreaterThan":
		return anyDateCompare(values, actual, func(a, b time.Time) bool { return a.After(b) })
	case "DateLessThan":
		return anyDateCompare(values, actual, func(a, b time.Time) bool { return a.Before(b) })
	default:
		return false
	}
}

func anyEqual(values []string, actual string) bool {
	for _, v := range values {
		if v == actual {
			return true
		}
	}
	return false
}

func anyGlob(patterns []string, actual string) bool {
	for _, p := range patterns {
		if globMatch(p, actual) {
			return true
		}
	}
	return false
}

func anyIPMatch(values []string, actual string) bool {
	ip := net.ParseIP(actual)
	if ip == nil {
		return false
	}
	for _, v := range values {
		if strings.Contains(v, "/") {
			_, cidr, err := net.ParseCIDR(v)
			if err == nil && cidr.Contains(ip) {
				return true
			}
			continue
		}
		if v == actual {
			return true
		}
	}
	return false
}

func anyDateCompare(values []string, actual string, cmp func(a, b time.Time) bool) bool {
	actualTime, err := time.Parse(time.RFC3339, actual)
	if err != nil {
		return false
	}
	for _, v := range values {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			continue
		}
		if cmp(actualTime, t) {
			return true
		}
	}
	return false
}

// globMatch implements the StringLike glob language: '*' matches any run of
// characters, '?' matches exactly one.
func globMatch(pattern, s string) bool {
	return globMatchRec(pattern, s)
}

func globMatchRec(pattern, s string) bool {
	if pattern == "" {
		return s == ""
	}
	if pattern[0] == '*' {
		if globMatchRec(pattern[1:], s) {
			return true
		}
		for i := 0; i < len(s); i++ {
			if globMatchRec(pattern[1:], s[i+1:]) {
				return true
			}
		}
		return false
	}
	if s == "" {
		return false
	}
	if pattern[0] == '?' || pattern[0] == s[0] {
		return globMatchRec(pattern[1:], s[1:])
	}
	return false
}

// ResourceARN builds the ARN form used by Statement.Resource matching
// (spec §4.5): arn:aws:s3:::<bucket> or arn:aws:s3:::<bucket>/<key>.
func ResourceARN(bucket, key string) string {
	if key == "" {
		return "arn:aws:s3:::" + bucket
	}
	return "arn:aws:s3:::" + bucket + "/" + key
}
