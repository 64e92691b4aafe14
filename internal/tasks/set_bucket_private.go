package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/signalnine/cloudeval/internal/log"
	"github.com/signalnine/cloudeval/internal/verify"
)

const (
	SetBucketPrivateTaskID = "cloud-eval-s3-set-bucket-private"
	SetBucketPrivateBucket = "application-storage-873dafa5-ccef-4ab6-8b4b-454f34041350"
)

var setBucketPrivateWeights = verify.MustWeights(
	verify.Component{Name: "block_public_access", Label: "Block public access", Weight: 0.4, Description: "Bucket PublicAccessBlock is fully enabled"},
	verify.Component{Name: "policy_not_public", Label: "Policy not public", Weight: 0.35, Description: "Bucket policy status reports non-public"},
	verify.Component{Name: "no_public_acl", Label: "No public ACL", Weight: 0.25, Description: "No AllUsers or AuthenticatedUsers ACL grants"},
)

// SetBucketPrivate checks that a bucket made public during setup has been
// locked down again.
type SetBucketPrivate struct {
	S3 S3API
}

type privacyInfo struct {
	exists              bool
	publicBlocked       bool
	aclPublic           bool
	policyStatusPublic  bool
	policyStatusMissing bool
	policyPublic        bool
}

func (v *SetBucketPrivate) Verify(ctx context.Context) (*verify.Result, error) {
	w := setBucketPrivateWeights
	info, err := v.collect(ctx)
	if err != nil {
		return nil, err
	}

	var errs []string
	if !info.exists {
		errs = append(errs, fmt.Sprintf("Bucket %s not found.", SetBucketPrivateBucket))
	} else {
		if !info.publicBlocked {
			errs = append(errs, "PublicAccessBlock is not fully enabled.")
		}
		if info.aclPublic {
			errs = append(errs, "Bucket ACL grants public access.")
		}
		if info.policyStatusPublic || info.policyPublic {
			errs = append(errs, "Bucket policy makes the bucket public.")
		}
	}

	res := w.Score(map[string]float64{
		"block_public_access": w.Full("block_public_access", info.publicBlocked),
		"policy_not_public":   w.Full("policy_not_public", info.exists && !info.policyStatusPublic && !info.policyPublic),
		"no_public_acl":       w.Full("no_public_acl", info.exists && !info.aclPublic),
	}, errs)
	log.Infof("set-bucket-private diagnostics: exists=%t acl_public=%t policy_status_public=%t policy_status_missing=%t policy_public=%t pab_all=%t score=%.3f",
		info.exists, info.aclPublic, info.policyStatusPublic, info.policyStatusMissing, info.policyPublic, info.publicBlocked, res.Score)
	return res, nil
}

func (v *SetBucketPrivate) collect(ctx context.Context) (privacyInfo, error) {
	bucket := SetBucketPrivateBucket
	var info privacyInfo
	if err := headBucket(ctx, v.S3, bucket); err != nil {
		log.Debugf("bucket %s head: %v", bucket, err)
		return info, nil
	}
	info.exists = true

	blocked, err := publicAccessBlocked(ctx, v.S3, bucket)
	if err != nil {
		log.Debugf("%v", err)
	}
	info.publicBlocked = blocked
	info.aclPublic = aclPublic(ctx, v.S3, bucket)

	out, err := v.S3.GetBucketPolicyStatus(ctx, &s3.GetBucketPolicyStatusInput{Bucket: aws.String(bucket)})
	switch {
	case err == nil:
		info.policyStatusPublic = out.PolicyStatus != nil && aws.ToBool(out.PolicyStatus.IsPublic)
	case hasCode(err, "NoSuchBucketPolicy", "NoSuchPolicy", "NoSuchBucketPolicyStatus"):
	case errorCode(err) != "":
		// Policy status is not supported everywhere; read the policy itself.
		info.policyStatusMissing = true
		info.policyPublic = v.policyAllowsPublic(ctx, bucket)
	default:
		return info, fmt.Errorf("bucket %s policy status: %w", bucket, err)
	}
	return info, nil
}

func (v *SetBucketPrivate) policyAllowsPublic(ctx context.Context, bucket string) bool {
	out, err := v.S3.GetBucketPolicy(ctx, &s3.GetBucketPolicyInput{Bucket: aws.String(bucket)})
	if err != nil {
		log.Debugf("bucket %s policy: %v", bucket, err)
		return false
	}
	return PolicyAllowsPublic(aws.ToString(out.Policy))
}

// PolicyAllowsPublic reports whether a bucket policy document has an Allow
// statement for any principal.
func PolicyAllowsPublic(policy string) bool {
	var doc struct {
		Statement json.RawMessage `json:"Statement"`
	}
	if err := json.Unmarshal([]byte(policy), &doc); err != nil || len(doc.Statement) == 0 {
		return false
	}
	type statement struct {
		Effect    string `json:"Effect"`
		Principal any    `json:"Principal"`
	}
	var stmts []statement
	if err := json.Unmarshal(doc.Statement, &stmts); err != nil {
		var single statement
		if err := json.Unmarshal(doc.Statement, &single); err != nil {
			return false
		}
		stmts = []statement{single}
	}
	for _, s := range stmts {
		if !strings.EqualFold(s.Effect, "allow") {
			continue
		}
		if isWildcardPrincipal(s.Principal) {
			return true
		}
	}
	return false
}

func isWildcardPrincipal(p any) bool {
	switch v := p.(type) {
	case string:
		return v == "*"
	case map[string]any:
		switch a := v["AWS"].(type) {
		case string:
			return a == "*"
		case []any:
			return len(a) == 1 && a[0] == "*"
		}
	}
	return false
}

// Setup makes the task bucket publicly readable: it creates the bucket if
// needed, clears the public access block, applies a public-read ACL and
// attaches a policy allowing anonymous reads.
func (v *SetBucketPrivate) Setup(ctx context.Context) error {
	bucket := aws.String(SetBucketPrivateBucket)
	if err := headBucket(ctx, v.S3, SetBucketPrivateBucket); err != nil {
		if _, err := v.S3.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: bucket}); err != nil {
			return fmt.Errorf("creating bucket %s: %w", SetBucketPrivateBucket, err)
		}
	}
	if _, err := v.S3.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
		Bucket: bucket,
		PublicAccessBlockConfiguration: &types.PublicAccessBlockConfiguration{
			BlockPublicAcls:       aws.Bool(false),
			IgnorePublicAcls:      aws.Bool(false),
			BlockPublicPolicy:     aws.Bool(false),
			RestrictPublicBuckets: aws.Bool(false),
		},
	}); err != nil {
		return fmt.Errorf("clearing public access block: %w", err)
	}
	if _, err := v.S3.PutBucketAcl(ctx, &s3.PutBucketAclInput{
		Bucket: bucket,
		ACL:    types.BucketCannedACLPublicRead,
	}); err != nil {
		return fmt.Errorf("setting public-read acl: %w", err)
	}
	policy, err := json.Marshal(map[string]any{
		"Version": "2012-10-17",
		"Statement": []map[string]any{{
			"Sid":       "AllowPublicRead",
			"Effect":    "Allow",
			"Principal": "*",
			"Action":    []string{"s3:GetObject"},
			"Resource":  []string{"arn:aws:s3:::" + SetBucketPrivateBucket + "/*"},
		}},
	})
	if err != nil {
		return err
	}
	if _, err := v.S3.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
		Bucket: bucket,
		Policy: aws.String(string(policy)),
	}); err != nil {
		return fmt.Errorf("attaching public policy: %w", err)
	}
	log.Infof("setup complete: bucket %s is public", SetBucketPrivateBucket)
	return nil
}
