package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/signalnine/cloudeval/internal/tools"
	"github.com/signalnine/cloudeval/internal/verify"
)

const (
	ApplicationLogsTaskID = "cloud-eval-s3-application-logs"
	ApplicationLogsBucket = "application-logs-6fa7fc53-2c28-4d8f-9603-35271d573d3a"

	// Roughly six months, with some slack either side.
	retentionMinDays = 170
	retentionMaxDays = 190
)

var applicationLogsWeights = verify.MustWeights(
	verify.Component{Name: "exists_and_region", Label: "Bucket exists in us-east-1", Weight: 0.5, Description: fmt.Sprintf("Bucket %s exists in %s", ApplicationLogsBucket, DefaultRegion)},
	verify.Component{Name: "retention_policy", Label: "6-month retention", Weight: 0.3, Description: "Lifecycle rule deletes objects after ~6 months"},
	verify.Component{Name: "block_public_access", Label: "Public access block", Weight: 0.1, Description: "All block public access settings enabled"},
	verify.Component{Name: "default_encryption", Label: "Default encryption", Weight: 0.05, Description: "Server-side encryption configured"},
	verify.Component{Name: "best_practice_tags", Label: "Tags applied", Weight: 0.05, Description: "Best-practice tags present"},
)

// ApplicationLogs checks a named log bucket with a roughly six month retention rule.
type ApplicationLogs struct {
	S3 S3API
}

func (v *ApplicationLogs) Verify(ctx context.Context) (*verify.Result, error) {
	w := applicationLogsWeights
	bucket := ApplicationLogsBucket

	if err := headBucket(ctx, v.S3, bucket); err != nil {
		if !isAPIError(err) {
			return nil, err
		}
		msg := errorMessage(err)
		if hasCode(err, "404", "NoSuchBucket", "NotFound") || msg == "" {
			msg = fmt.Sprintf("Bucket %s not found.", bucket)
		}
		return w.Score(nil, []string{msg}), nil
	}

	region, _ := bucketRegion(ctx, v.S3, bucket)
	tags, err := bucketTags(ctx, v.S3, bucket)
	if err != nil {
		return nil, err
	}
	blocked, err := publicAccessBlocked(ctx, v.S3, bucket)
	if err != nil {
		return nil, err
	}
	encrypted, err := defaultEncryption(ctx, v.S3, bucket)
	if err != nil {
		return nil, err
	}
	rules, err := lifecycleRules(ctx, v.S3, bucket)
	if err != nil {
		return nil, err
	}
	days, hasRetention := RetentionDays(rules)
	retentionOK := hasRetention && days >= retentionMinDays && days <= retentionMaxDays

	var errs []string
	if region != DefaultRegion {
		errs = append(errs, fmt.Sprintf("Bucket must be in %s (found %s).", DefaultRegion, region))
	}
	switch {
	case !hasRetention:
		errs = append(errs, "Lifecycle policy to delete objects after ~6 months is missing.")
	case !retentionOK:
		errs = append(errs, fmt.Sprintf("Lifecycle expiration set to %d days; expected ~180.", days))
	}

	tagCap := w.Weight("best_practice_tags")
	return w.Score(map[string]float64{
		"exists_and_region":   w.Full("exists_and_region", region == DefaultRegion),
		"retention_policy":    w.Full("retention_policy", retentionOK),
		"block_public_access": w.Full("block_public_access", blocked),
		"default_encryption":  w.Full("default_encryption", encrypted),
		"best_practice_tags":  min(tools.TagScore(tags, tagCap, 2), tagCap),
	}, errs), nil
}

// RetentionDays returns the shortest expiration among enabled lifecycle
// rules, counting both current and noncurrent version expirations.
func RetentionDays(rules []types.LifecycleRule) (days int, ok bool) {
	for _, r := range rules {
		if !strings.EqualFold(string(r.Status), string(types.ExpirationStatusEnabled)) {
			continue
		}
		var candidates []*int32
		if r.Expiration != nil {
			candidates = append(candidates, r.Expiration.Days)
		}
		if r.NoncurrentVersionExpiration != nil {
			candidates = append(candidates, r.NoncurrentVersionExpiration.NoncurrentDays)
		}
		for _, c := range candidates {
			if c == nil {
				continue
			}
			d := int(aws.ToInt32(c))
			if !ok || d < days {
				days, ok = d, true
			}
		}
	}
	return days, ok
}
