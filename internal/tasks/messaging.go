package tasks

import (
	"context"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/signalnine/cloudeval/internal/log"
	"github.com/signalnine/cloudeval/internal/tools"
	"github.com/signalnine/cloudeval/internal/verify"
)

const (
	SQSQueueTaskID = "aws-sqs-create-queue"
	SQSQueueName   = "cloud-eval-queue"

	SNSTopicTaskID = "aws-sns-create-topic"
	SNSTopicName   = "cloud-eval-topic"
)

var sqsQueueWeights = verify.MustWeights(
	verify.Component{Name: "exists", Label: "Queue exists", Weight: 0.8, Description: "Queue was successfully created"},
	verify.Component{Name: "long_polling", Label: "Long polling enabled", Weight: 0.1, Description: "ReceiveMessageWaitTimeSeconds > 0"},
	verify.Component{Name: "tags", Label: "Tags applied", Weight: 0.1, Description: "Best-practice tags present on queue"},
)

var snsTopicWeights = verify.MustWeights(
	verify.Component{Name: "exists", Label: "Topic exists", Weight: 0.9, Description: "Topic was successfully created"},
	verify.Component{Name: "tags", Label: "Tags applied", Weight: 0.1, Description: "Best-practice tags present on topic"},
)

// SQSQueue checks the task queue exists with long polling and tags.
type SQSQueue struct {
	SQS SQSAPI
}

func (v *SQSQueue) Verify(ctx context.Context) (*verify.Result, error) {
	w := sqsQueueWeights
	var (
		exists, longPolling bool
		tagScore            float64
		errs                []string
	)
	check := func() error {
		urlOut, err := v.SQS.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(SQSQueueName)})
		if err != nil {
			return err
		}
		url := urlOut.QueueUrl
		exists = true

		attrs, err := v.SQS.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
			QueueUrl:       url,
			AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameReceiveMessageWaitTimeSeconds},
		})
		if err != nil {
			return err
		}
		wait, _ := strconv.Atoi(attrs.Attributes[string(sqstypes.QueueAttributeNameReceiveMessageWaitTimeSeconds)])
		longPolling = wait > 0

		tags, err := v.SQS.ListQueueTags(ctx, &sqs.ListQueueTagsInput{QueueUrl: url})
		if err != nil {
			return err
		}
		tagScore = tools.TagScore(tags.Tags, w.Weight("tags"), 2)
		return nil
	}
	if err := check(); err != nil {
		switch {
		case !isAPIError(err):
			return nil, err
		case hasCode(err, "AWS.SimpleQueueService.NonExistentQueue", "QueueDoesNotExist"):
			errs = append(errs, "queue not found")
		default:
			errs = append(errs, errorMessage(err))
		}
	}

	return w.Score(map[string]float64{
		"exists":       w.Full("exists", exists),
		"long_polling": w.Full("long_polling", longPolling),
		"tags":         tagScore,
	}, errs), nil
}

// SNSTopic checks the task topic exists and is tagged.
type SNSTopic struct {
	SNS SNSAPI
}

func (v *SNSTopic) Verify(ctx context.Context) (*verify.Result, error) {
	w := snsTopicWeights
	arn, err := v.findTopic(ctx)
	if err != nil {
		if !isAPIError(err) {
			return nil, err
		}
		return w.Score(nil, []string{errorMessage(err)}), nil
	}
	if arn == "" {
		return w.Score(nil, []string{"topic not found"}), nil
	}

	var errs []string
	if _, err := v.SNS.GetTopicAttributes(ctx, &sns.GetTopicAttributesInput{TopicArn: aws.String(arn)}); err != nil {
		if !isAPIError(err) {
			return nil, err
		}
		errs = append(errs, errorMessage(err))
	}
	tags := map[string]string{}
	out, err := v.SNS.ListTagsForResource(ctx, &sns.ListTagsForResourceInput{ResourceArn: aws.String(arn)})
	if err != nil {
		log.Debugf("topic %s tags: %v", arn, err)
	} else {
		for _, t := range out.Tags {
			if k := aws.ToString(t.Key); k != "" {
				tags[k] = aws.ToString(t.Value)
			}
		}
	}

	return w.Score(map[string]float64{
		"exists": w.Weight("exists"),
		"tags":   tools.TagScore(tags, w.Weight("tags"), 2),
	}, errs), nil
}

// findTopic pages through topics. An exact name match on the ARN wins over a
// topic whose ARN merely contains the name.
func (v *SNSTopic) findTopic(ctx context.Context) (string, error) {
	var fuzzy string
	in := &sns.ListTopicsInput{}
	for {
		out, err := v.SNS.ListTopics(ctx, in)
		if err != nil {
			return "", err
		}
		for _, t := range out.Topics {
			arn := aws.ToString(t.TopicArn)
			if strings.HasSuffix(arn, ":"+SNSTopicName) {
				return arn, nil
			}
			if fuzzy == "" && strings.Contains(arn, SNSTopicName) {
				fuzzy = arn
			}
		}
		if aws.ToString(out.NextToken) == "" {
			return fuzzy, nil
		}
		in = &sns.ListTopicsInput{NextToken: out.NextToken}
	}
}
