package tasks

import (
	"context"

	"github.com/signalnine/cloudeval/internal/verify"
)

// Register adds every built-in task verifier to reg.
func Register(reg *verify.Registry) {
	reg.Add(SimpleBucketTaskID, func(ctx context.Context, t verify.Target) (verify.Verifier, error) {
		c, err := NewClients(ctx, t)
		if err != nil {
			return nil, err
		}
		return &SimpleBucket{S3: c.S3}, nil
	})
	reg.Add(ApplicationLogsTaskID, func(ctx context.Context, t verify.Target) (verify.Verifier, error) {
		c, err := NewClients(ctx, t)
		if err != nil {
			return nil, err
		}
		return &ApplicationLogs{S3: c.S3}, nil
	})
	reg.Add(BackupsBucketTaskID, func(ctx context.Context, t verify.Target) (verify.Verifier, error) {
		c, err := NewClients(ctx, t)
		if err != nil {
			return nil, err
		}
		return &BackupsBucket{S3: c.S3}, nil
	})
	reg.Add(SetBucketPrivateTaskID, func(ctx context.Context, t verify.Target) (verify.Verifier, error) {
		c, err := NewClients(ctx, t)
		if err != nil {
			return nil, err
		}
		return &SetBucketPrivate{S3: c.S3}, nil
	})
	reg.Add(SQSQueueTaskID, func(ctx context.Context, t verify.Target) (verify.Verifier, error) {
		c, err := NewClients(ctx, t)
		if err != nil {
			return nil, err
		}
		return &SQSQueue{SQS: c.SQS}, nil
	})
	reg.Add(SNSTopicTaskID, func(ctx context.Context, t verify.Target) (verify.Verifier, error) {
		c, err := NewClients(ctx, t)
		if err != nil {
			return nil, err
		}
		return &SNSTopic{SNS: c.SNS}, nil
	})
}

// NewRegistry returns a registry holding every built-in task.
func NewRegistry() *verify.Registry {
	reg := verify.NewRegistry()
	Register(reg)
	return reg
}
