package tasks

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/signalnine/cloudeval/internal/tools"
	"github.com/signalnine/cloudeval/internal/verify"
)

const SimpleBucketTaskID = "cloud-eval-s3-simple-bucket"

var simpleBucketWeights = verify.MustWeights(
	verify.Component{Name: "base", Label: "Resource correctness", Weight: 0.65, Description: "Bucket exists in correct region (us-east-1)"},
	verify.Component{Name: "unique_name_or_runid", Label: "Unique name", Weight: 0.1, Description: "Bucket has unique suffix (UUID/ULID/random)"},
	verify.Component{Name: "block_public_access", Label: "Public access block", Weight: 0.1, Description: "PublicAccessBlock enabled"},
	verify.Component{Name: "default_encryption", Label: "Default encryption", Weight: 0.1, Description: "Server-side encryption configured"},
	verify.Component{Name: "best_practice_tags", Label: "Tags applied", Weight: 0.05, Description: "Best-practice tags present"},
)

var (
	uuidSuffixRE = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	ulidSuffixRE = regexp.MustCompile(`[0-9A-HJKMNP-TV-Z]{26}$`)
)

// SimpleBucket scores every bucket in the account and averages the results.
type SimpleBucket struct {
	S3 S3API
}

type bucketAttrs struct {
	region        string
	uniqueSuffix  bool
	publicBlocked bool
	encrypted     bool
	tagScore      float64
}

func (v *SimpleBucket) Verify(ctx context.Context) (*verify.Result, error) {
	w := simpleBucketWeights
	names := listBucketNames(ctx, v.S3)
	if len(names) == 0 {
		return w.Score(nil, []string{"No buckets exist in the environment."}), nil
	}

	attrs := make([]bucketAttrs, 0, len(names))
	anyEast := false
	for _, name := range names {
		a, err := v.collect(ctx, name)
		if err != nil {
			return nil, err
		}
		if a.region == DefaultRegion {
			anyEast = true
		}
		attrs = append(attrs, a)
	}
	if !anyEast {
		return w.Score(nil, []string{"Buckets exist but none are located in us-east-1."}), nil
	}

	totals := map[string]float64{}
	scoreSum := 0.0
	for _, a := range attrs {
		values := map[string]float64{
			"base":                 w.Full("base", a.region == DefaultRegion),
			"unique_name_or_runid": w.Full("unique_name_or_runid", a.uniqueSuffix),
			"block_public_access":  w.Full("block_public_access", a.publicBlocked),
			"default_encryption":   w.Full("default_encryption", a.encrypted),
			"best_practice_tags":   min(a.tagScore, w.Weight("best_practice_tags")),
		}
		for k, val := range values {
			totals[k] += val
		}
		scoreSum += min(1.0, w.Total(values))
	}
	n := float64(len(attrs))
	for k := range totals {
		totals[k] /= n
	}
	res := w.Score(totals, nil)
	res.Score = verify.Round(verify.Clamp01(scoreSum/n), 3)
	return res, nil
}

func (v *SimpleBucket) collect(ctx context.Context, name string) (bucketAttrs, error) {
	var a bucketAttrs
	if err := headBucket(ctx, v.S3, name); err != nil {
		return a, nil
	}
	a.region, _ = bucketRegion(ctx, v.S3, name)
	tags, err := bucketTags(ctx, v.S3, name)
	if err != nil {
		return a, err
	}
	a.tagScore = tools.TagScore(tags, simpleBucketWeights.Weight("best_practice_tags"), 2)
	a.uniqueSuffix = HasUniqueSuffix(name)
	if a.publicBlocked, err = publicAccessBlocked(ctx, v.S3, name); err != nil {
		return a, err
	}
	if a.encrypted, err = defaultEncryption(ctx, v.S3, name); err != nil {
		return a, err
	}
	return a, nil
}

// HasUniqueSuffix reports whether a bucket name ends in a UUID, a ULID, or a
// random-looking alphanumeric segment of at least 8 characters with 4 digits
// and 2 letters.
func HasUniqueSuffix(name string) bool {
	if name == "" {
		return false
	}
	if uuidSuffixRE.MatchString(strings.ToLower(name)) {
		return true
	}
	if ulidSuffixRE.MatchString(strings.ToUpper(name)) {
		return true
	}
	parts := strings.Split(name, "-")
	suffix := parts[len(parts)-1]
	if len(suffix) < 8 {
		return false
	}
	digits, letters := 0, 0
	for _, r := range suffix {
		switch {
		case r < unicode.MaxASCII && unicode.IsDigit(r):
			digits++
		case r < unicode.MaxASCII && unicode.IsLetter(r):
			letters++
		default:
			return false
		}
	}
	return digits >= 4 && letters >= 2
}
