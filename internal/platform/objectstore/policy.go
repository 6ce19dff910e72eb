package objectstore

import (
	"encoding/json"
)

type bucketPolicy struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Sid       string            `json:"Sid"`
	Effect    string            `json:"Effect"`
	Principal map[string]string `json:"Principal"`
	Action    []string          `json:"Action"`
	Resource  []string          `json:"Resource"`
}

// DeniedEvidenceActions are refused for every principal on the evidence bucket.
var DeniedEvidenceActions = []string{
	"s3:DeleteObject",
	"s3:DeleteObjectVersion",
	"s3:PutObjectRetention",
}

// EvidenceBucketPolicy renders the deny-delete policy for bucket.
func EvidenceBucketPolicy(bucket string) (string, error) {
	p := bucketPolicy{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Sid:       "DenyEvidenceMutation",
			Effect:    "Deny",
			Principal: map[string]string{"AWS": "*"},
			Action:    append([]string(nil), DeniedEvidenceActions...),
			Resource:  []string{"arn:aws:s3:::" + bucket + "/*"},
		}},
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
