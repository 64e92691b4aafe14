package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/signalnine/cloudeval/internal/log"
	"github.com/signalnine/cloudeval/internal/verify"
)

const BackupsBucketTaskID = "cloud-eval-s3-backups-bucket"

var glacierStorageClasses = map[string]bool{
	"GLACIER":      true,
	"DEEP_ARCHIVE": true,
	"GLACIER_IR":   true,
}

var backupsWeights = verify.MustWeights(
	verify.Component{Name: "exists", Label: "Bucket exists", Weight: 0.5, Description: "At least one S3 bucket is present for backups"},
	verify.Component{Name: "versioning", Label: "Versioning enabled", Weight: 0.2, Description: "Versioning protects against overwrites/deletes"},
	verify.Component{Name: "lifecycle_glacier", Label: "Lifecycle to Glacier", Weight: 0.2, Description: "Lifecycle rule transitions data to Glacier storage classes"},
	verify.Component{Name: "encryption", Label: "Default encryption", Weight: 0.1, Description: "Server-side encryption configured"},
)

// BackupsBucket picks the best backup bucket in the account. Buckets whose
// lifecycle deletes data are only chosen when nothing else exists.
type BackupsBucket struct {
	S3 S3API
}

type backupAttrs struct {
	versioning    bool
	glacier       bool
	deleteActions bool
	encrypted     bool
}

func (v *BackupsBucket) Verify(ctx context.Context) (*verify.Result, error) {
	w := backupsWeights
	var candidates []verify.Candidate[map[string]float64]
	for _, name := range listBucketNames(ctx, v.S3) {
		if err := headBucket(ctx, v.S3, name); err != nil {
			log.Debugf("bucket %s head: %v", name, err)
			continue
		}
		a := v.collect(ctx, name)
		values := map[string]float64{
			"exists":            w.Weight("exists"),
			"versioning":        w.Full("versioning", a.versioning),
			"lifecycle_glacier": w.Full("lifecycle_glacier", a.glacier),
			"encryption":        w.Full("encryption", a.encrypted),
		}
		candidates = append(candidates, verify.Candidate[map[string]float64]{
			Name:         name,
			Disqualified: a.deleteActions,
			Score:        w.Total(values),
			Value:        values,
		})
	}

	best, ok := verify.SelectBest(candidates)
	if !ok {
		return w.Score(nil, []string{"No buckets found for backups."}), nil
	}
	var errs []string
	if best.Disqualified {
		errs = append(errs, fmt.Sprintf("Bucket %s has lifecycle delete/expiration actions; backups should not delete data.", best.Name))
	}
	return w.Score(best.Value, errs), nil
}

func (v *BackupsBucket) collect(ctx context.Context, name string) backupAttrs {
	rules, err := lifecycleRules(ctx, v.S3, name)
	if err != nil {
		log.Debugf("%v", err)
	}
	encrypted, err := defaultEncryption(ctx, v.S3, name)
	if err != nil {
		log.Debugf("%v", err)
	}
	return backupAttrs{
		versioning:    versioningEnabled(ctx, v.S3, name),
		glacier:       HasGlacierTransition(rules),
		deleteActions: HasDeleteActions(rules),
		encrypted:     encrypted,
	}
}

// HasGlacierTransition reports whether any rule transitions objects to a
// Glacier storage class.
func HasGlacierTransition(rules []types.LifecycleRule) bool {
	for _, r := range rules {
		for _, t := range r.Transitions {
			if glacierStorageClasses[strings.ToUpper(string(t.StorageClass))] {
				return true
			}
		}
	}
	return false
}

// HasDeleteActions reports whether any rule expires current objects, delete
// markers, or noncurrent versions.
func HasDeleteActions(rules []types.LifecycleRule) bool {
	for _, r := range rules {
		if e := r.Expiration; e != nil {
			if aws.ToInt32(e.Days) != 0 || e.Date != nil || aws.ToBool(e.ExpiredObjectDeleteMarker) {
				return true
			}
		}
		if n := r.NoncurrentVersionExpiration; n != nil && aws.ToInt32(n.NoncurrentDays) != 0 {
			return true
		}
	}
	return false
}
