package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/signalnine/cloudeval/internal/log"
)

var defaultEncryptionAlgorithms = map[types.ServerSideEncryption]bool{
	types.ServerSideEncryptionAes256: true,
	types.ServerSideEncryptionAwsKms: true,
}

func listBucketNames(ctx context.Context, api S3API) []string {
	out, err := api.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		log.Debugf("listing buckets: %v", err)
		return nil
	}
	var names []string
	for _, b := range out.Buckets {
		if name := aws.ToString(b.Name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func headBucket(ctx context.Context, api S3API, bucket string) error {
	_, err := api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	return err
}

// bucketRegion reports the bucket location. An empty location constraint
// means us-east-1. ok is false when the location cannot be read.
func bucketRegion(ctx context.Context, api S3API, bucket string) (region string, ok bool) {
	out, err := api.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: aws.String(bucket)})
	if err != nil {
		log.Debugf("bucket %s location: %v", bucket, err)
		return "", false
	}
	if out.LocationConstraint == "" {
		return DefaultRegion, true
	}
	return string(out.LocationConstraint), true
}

func bucketTags(ctx context.Context, api S3API, bucket string) (map[string]string, error) {
	out, err := api.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: aws.String(bucket)})
	if err != nil {
		if hasCode(err, "NoSuchTagSet") {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("bucket %s tags: %w", bucket, err)
	}
	tags := make(map[string]string, len(out.TagSet))
	for _, t := range out.TagSet {
		if k := aws.ToString(t.Key); k != "" {
			tags[k] = aws.ToString(t.Value)
		}
	}
	return tags, nil
}

// publicAccessBlocked reports whether all four block-public-access flags
// are set on bucket.
func publicAccessBlocked(ctx context.Context, api S3API, bucket string) (bool, error) {
	out, err := api.GetPublicAccessBlock(ctx, &s3.GetPublicAccessBlockInput{Bucket: aws.String(bucket)})
	if err != nil {
		if hasCode(err, "NoSuchPublicAccessBlockConfiguration") {
			return false, nil
		}
		return false, fmt.Errorf("bucket %s public access block: %w", bucket, err)
	}
	c := out.PublicAccessBlockConfiguration
	if c == nil {
		return false, nil
	}
	return aws.ToBool(c.BlockPublicAcls) &&
		aws.ToBool(c.IgnorePublicAcls) &&
		aws.ToBool(c.BlockPublicPolicy) &&
		aws.ToBool(c.RestrictPublicBuckets), nil
}

func defaultEncryption(ctx context.Context, api S3API, bucket string) (bool, error) {
	out, err := api.GetBucketEncryption(ctx, &s3.GetBucketEncryptionInput{Bucket: aws.String(bucket)})
	if err != nil {
		if hasCode(err, "ServerSideEncryptionConfigurationNotFoundError", "EncryptionConfigurationNotFoundError") {
			return false, nil
		}
		return false, fmt.Errorf("bucket %s encryption: %w", bucket, err)
	}
	if out.ServerSideEncryptionConfiguration == nil {
		return false, nil
	}
	for _, rule := range out.ServerSideEncryptionConfiguration.Rules {
		if d := rule.ApplyServerSideEncryptionByDefault; d != nil && defaultEncryptionAlgorithms[d.SSEAlgorithm] {
			return true, nil
		}
	}
	return false, nil
}

func lifecycleRules(ctx context.Context, api S3API, bucket string) ([]types.LifecycleRule, error) {
	out, err := api.GetBucketLifecycleConfiguration(ctx, &s3.GetBucketLifecycleConfigurationInput{Bucket: aws.String(bucket)})
	if err != nil {
		if hasCode(err, "NoSuchLifecycleConfiguration", "NoSuchLifecycleConfigurationFault") {
			return nil, nil
		}
		return nil, fmt.Errorf("bucket %s lifecycle: %w", bucket, err)
	}
	return out.Rules, nil
}

func versioningEnabled(ctx context.Context, api S3API, bucket string) bool {
	out, err := api.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: aws.String(bucket)})
	if err != nil {
		log.Debugf("bucket %s versioning: %v", bucket, err)
		return false
	}
	return out.Status == types.BucketVersioningStatusEnabled
}

// publicGrantURIs are the ACL group grantees that expose a bucket.
var publicGrantURIs = []string{"AllUsers", "AuthenticatedUsers"}

func aclPublic(ctx context.Context, api S3API, bucket string) bool {
	out, err := api.GetBucketAcl(ctx, &s3.GetBucketAclInput{Bucket: aws.String(bucket)})
	if err != nil {
		log.Debugf("bucket %s acl: %v", bucket, err)
		return false
	}
	for _, g := range out.Grants {
		if g.Grantee == nil || g.Grantee.Type != types.TypeGroup {
			continue
		}
		uri := aws.ToString(g.Grantee.URI)
		for _, p := range publicGrantURIs {
			if strings.Contains(uri, p) {
				return true
			}
		}
	}
	return false
}
